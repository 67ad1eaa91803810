package store

import (
	"sync"

	"github.com/signalworks/pulse/internal/model"
)

// Ring is a fixed-capacity circular buffer of classified records.
// Appends are O(1): at capacity the oldest entry is overwritten. Reads
// copy out a snapshot, so they tolerate concurrent appends.
type Ring struct {
	mu   sync.RWMutex
	buf  []model.ClassifiedRecord
	head int // index of the oldest entry
	size int
}

// NewRing creates a ring with the given capacity (minimum 1).
func NewRing(capacity int) *Ring {
	if capacity <= 0 {
		capacity = 1
	}
	return &Ring{buf: make([]model.ClassifiedRecord, capacity)}
}

// Append inserts rec, evicting the oldest entry when full.
func (r *Ring) Append(rec model.ClassifiedRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.size < len(r.buf) {
		r.buf[(r.head+r.size)%len(r.buf)] = rec
		r.size++
		return
	}
	r.buf[r.head] = rec
	r.head = (r.head + 1) % len(r.buf)
}

// Len returns the number of stored records.
func (r *Ring) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.size
}

// Cap returns the fixed capacity.
func (r *Ring) Cap() int {
	return len(r.buf)
}

// Recent returns up to n records, newest first.
func (r *Ring) Recent(n int) []model.ClassifiedRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if n > r.size {
		n = r.size
	}
	if n <= 0 {
		return nil
	}
	out := make([]model.ClassifiedRecord, 0, n)
	for i := 0; i < n; i++ {
		idx := (r.head + r.size - 1 - i) % len(r.buf)
		out = append(out, r.buf[idx])
	}
	return out
}

// Range returns records with fromMs <= TimestampMs <= toMs in insertion
// order (oldest first). An inverted range yields an empty result.
func (r *Ring) Range(fromMs, toMs int64) []model.ClassifiedRecord {
	if fromMs > toMs {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []model.ClassifiedRecord
	for i := 0; i < r.size; i++ {
		rec := r.buf[(r.head+i)%len(r.buf)]
		if rec.TimestampMs >= fromMs && rec.TimestampMs <= toMs {
			out = append(out, rec)
		}
	}
	return out
}

// Snapshot copies out all records, oldest first.
func (r *Ring) Snapshot() []model.ClassifiedRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]model.ClassifiedRecord, 0, r.size)
	for i := 0; i < r.size; i++ {
		out = append(out, r.buf[(r.head+i)%len(r.buf)])
	}
	return out
}
