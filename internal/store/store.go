package store

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/signalworks/pulse/internal/model"
)

// Store owns the five per-kind ring buffers. A single instance is created
// at startup and shared by the pipeline and the read-side handlers. Each
// buffer has its own capacity, so metric overflow never evicts logs.
type Store struct {
	rings    map[model.Kind]*Ring
	capacity int

	// ingestion rate tracking, sampled by a background ticker
	writeCounter int64
	rateMu       sync.RWMutex
	currentRate  float64
}

// New creates a store with the given per-kind capacity.
func New(capacity int) *Store {
	s := &Store{
		rings:    make(map[model.Kind]*Ring, 5),
		capacity: capacity,
	}
	for _, k := range model.AllKinds() {
		s.rings[k] = NewRing(capacity)
	}
	return s
}

// Append stores rec in the buffer matching its kind. Unknown kinds fall
// back to the raw buffer so no record is ever rejected.
func (s *Store) Append(rec model.ClassifiedRecord) {
	ring, ok := s.rings[rec.Kind]
	if !ok {
		ring = s.rings[model.KindRaw]
	}
	ring.Append(rec)
	atomic.AddInt64(&s.writeCounter, 1)
}

// Recent returns up to n records of the given kind, newest first.
func (s *Store) Recent(kind model.Kind, n int) []model.ClassifiedRecord {
	if ring, ok := s.rings[kind]; ok {
		return ring.Recent(n)
	}
	return nil
}

// Range returns records of kind within [fromMs, toMs], oldest first.
func (s *Store) Range(kind model.Kind, fromMs, toMs int64) []model.ClassifiedRecord {
	if ring, ok := s.rings[kind]; ok {
		return ring.Range(fromMs, toMs)
	}
	return nil
}

// Snapshot copies out all records of kind, oldest first.
func (s *Store) Snapshot(kind model.Kind) []model.ClassifiedRecord {
	if ring, ok := s.rings[kind]; ok {
		return ring.Snapshot()
	}
	return nil
}

// Capacity returns the per-kind buffer capacity.
func (s *Store) Capacity() int {
	return s.capacity
}

// Counts reports the current size of every buffer.
func (s *Store) Counts() map[model.Kind]int {
	counts := make(map[model.Kind]int, len(s.rings))
	for k, ring := range s.rings {
		counts[k] = ring.Len()
	}
	return counts
}

// StartRateTicker samples the write counter to compute records/sec.
func (s *Store) StartRateTicker(interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		for range ticker.C {
			count := atomic.SwapInt64(&s.writeCounter, 0)
			rate := float64(count) / interval.Seconds()
			s.rateMu.Lock()
			s.currentRate = rate
			s.rateMu.Unlock()
		}
	}()
}

// IngestionRate returns the last sampled write rate (records/sec).
func (s *Store) IngestionRate() float64 {
	s.rateMu.RLock()
	defer s.rateMu.RUnlock()
	return s.currentRate
}
