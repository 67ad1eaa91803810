package stream

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/signalworks/pulse/internal/metrics"
	"github.com/signalworks/pulse/internal/model"
)

// Envelope is the serialized shape pushed to subscribers: either a stored
// record or a keep-alive marker.
type Envelope struct {
	Type   string                  `json:"type"` // "record" or "keepalive"
	Ts     int64                   `json:"ts"`
	Record *model.ClassifiedRecord `json:"record,omitempty"`
}

// SinkFunc receives one serialized envelope along with the record kind
// ("" for keep-alives, which every sink should pass through). A returned
// error is treated as a disconnect: the subscriber is removed and never
// called again.
type SinkFunc func(kind model.Kind, payload []byte) error

type subscriber struct {
	id   string
	sink SinkFunc
}

// Hub is the live-notification registry. Registration and removal are
// safe under concurrent publishes: Publish iterates over a snapshot copy
// of the subscriber set, so mid-publish changes cannot corrupt delivery.
type Hub struct {
	mu      sync.RWMutex
	subs    map[string]*subscriber
	metrics *metrics.Set
}

// NewHub creates an empty hub. The metric set may be nil.
func NewHub(m *metrics.Set) *Hub {
	return &Hub{
		subs:    make(map[string]*subscriber),
		metrics: m,
	}
}

// Subscribe registers a sink and returns its handle plus a cancel
// function that removes it. Cancel is idempotent.
func (h *Hub) Subscribe(sink SinkFunc) (string, func()) {
	id := model.NewRecordID()
	h.mu.Lock()
	h.subs[id] = &subscriber{id: id, sink: sink}
	h.mu.Unlock()
	h.updateGauge()

	var once sync.Once
	cancel := func() {
		once.Do(func() { h.remove(id) })
	}
	return id, cancel
}

// Publish delivers rec to every current subscriber, best-effort and
// at-most-once. A failing sink is logged and unregistered; it never blocks
// delivery to the remaining subscribers or the write path.
func (h *Hub) Publish(rec model.ClassifiedRecord) {
	payload, err := json.Marshal(Envelope{Type: "record", Ts: rec.TimestampMs, Record: &rec})
	if err != nil {
		log.Printf("[Hub] marshal error: %v", err)
		return
	}
	h.broadcast(rec.Kind, payload)
	if h.metrics != nil {
		h.metrics.PublishTotal.Inc()
	}
}

// Count returns the number of active subscribers.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// StartKeepAlive emits a periodic keep-alive envelope so idle connections
// are not torn down by intermediaries. Stops when ctx is cancelled.
func (h *Hub) StartKeepAlive(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				payload, err := json.Marshal(Envelope{Type: "keepalive", Ts: time.Now().UnixMilli()})
				if err != nil {
					continue
				}
				h.broadcast("", payload)
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (h *Hub) broadcast(kind model.Kind, payload []byte) {
	h.mu.RLock()
	snapshot := make([]*subscriber, 0, len(h.subs))
	for _, sub := range h.subs {
		snapshot = append(snapshot, sub)
	}
	h.mu.RUnlock()

	for _, sub := range snapshot {
		if err := sub.sink(kind, payload); err != nil {
			log.Printf("[Hub] subscriber %s write failed, removing: %v", sub.id, err)
			h.remove(sub.id)
		}
	}
}

func (h *Hub) remove(id string) {
	h.mu.Lock()
	delete(h.subs, id)
	h.mu.Unlock()
	h.updateGauge()
}

func (h *Hub) updateGauge() {
	if h.metrics != nil {
		h.metrics.Subscribers.Set(float64(h.Count()))
	}
}
