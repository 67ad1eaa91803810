package registry

import (
	"context"
	"sync"
	"time"
)

// Producer represents a telemetry source seen by this node, either via an
// explicit handshake or inferred from ingest traffic.
type Producer struct {
	InstanceID   string `json:"instance_id"`
	ServiceName  string `json:"service_name"`
	Hostname     string `json:"hostname"`
	IP           string `json:"ip"`
	Transport    string `json:"transport"` // "handshake" or "ingest"
	SdkVersion   string `json:"sdk_version,omitempty"`
	RegisteredAt int64  `json:"registered_at"`
	LastSeenAt   int64  `json:"last_seen_at"`
}

// Store tracks producer instances with last-seen timestamps.
type Store struct {
	mu        sync.RWMutex
	producers map[string]*Producer
}

// NewStore creates an empty producer registry.
func NewStore() *Store {
	return &Store{
		producers: make(map[string]*Producer),
	}
}

// RegisterOrUpdate adds a producer or refreshes an existing one,
// preserving its original registration time.
func (s *Store) RegisterOrUpdate(p Producer) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.producers[p.InstanceID]; ok {
		p.RegisteredAt = existing.RegisteredAt
	} else if p.RegisteredAt == 0 {
		p.RegisteredAt = time.Now().Unix()
	}
	p.LastSeenAt = time.Now().Unix()
	s.producers[p.InstanceID] = &p
}

// Touch refreshes (or creates) the producer entry inferred from ingest
// traffic, keyed by service@ip.
func (s *Store) Touch(ip, service string) {
	if service == "" {
		service = "unknown"
	}
	id := service + "@" + ip

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().Unix()
	if existing, ok := s.producers[id]; ok {
		existing.LastSeenAt = now
		return
	}
	s.producers[id] = &Producer{
		InstanceID:   id,
		ServiceName:  service,
		IP:           ip,
		Transport:    "ingest",
		RegisteredAt: now,
		LastSeenAt:   now,
	}
}

// Get retrieves a producer copy by instance ID.
func (s *Store) Get(instanceID string) (*Producer, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.producers[instanceID]
	if !ok {
		return nil, false
	}
	val := *p
	return &val, true
}

// List returns all known producers.
func (s *Store) List() []Producer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := make([]Producer, 0, len(s.producers))
	for _, p := range s.producers {
		list = append(list, *p)
	}
	return list
}

// PruneStale removes producers not seen within the timeout and returns
// how many were dropped.
func (s *Store) PruneStale(timeout time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().Unix()
	timeoutSec := int64(timeout.Seconds())
	count := 0
	for id, p := range s.producers {
		if now-p.LastSeenAt > timeoutSec {
			delete(s.producers, id)
			count++
		}
	}
	return count
}

// StartCleanupLoop prunes stale producers on a timer until ctx ends, so
// disconnected producers never grow the registry unboundedly.
func (s *Store) StartCleanupLoop(ctx context.Context, interval, timeout time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.PruneStale(timeout)
			case <-ctx.Done():
				return
			}
		}
	}()
}
