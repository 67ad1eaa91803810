package registry

import (
	"encoding/json"
	"net/http"
	"strings"
)

// Server handles producer-registry HTTP requests.
type Server struct {
	store *Store
}

// NewServer creates a registry server over the given store.
func NewServer(store *Store) *Server {
	return &Server{store: store}
}

// HandleHandshake registers a producer or refreshes its heartbeat.
// POST /api/producers/handshake
func (s *Server) HandleHandshake(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var p Producer
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if p.InstanceID == "" {
		http.Error(w, "instance_id is required", http.StatusBadRequest)
		return
	}

	if p.IP == "" {
		p.IP = r.RemoteAddr
		if idx := strings.LastIndex(p.IP, ":"); idx != -1 {
			p.IP = p.IP[:idx]
		}
	}
	p.Transport = "handshake"

	s.store.RegisterOrUpdate(p)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "registered"})
}

// HandleList returns all known producers.
// GET /api/producers
func (s *Server) HandleList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.store.List())
}
