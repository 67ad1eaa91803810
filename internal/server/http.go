package server

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/crypto/bcrypt"

	"github.com/signalworks/pulse/internal/cluster"
	"github.com/signalworks/pulse/internal/config"
	"github.com/signalworks/pulse/internal/controller"
	"github.com/signalworks/pulse/internal/export"
	"github.com/signalworks/pulse/internal/ingest"
	"github.com/signalworks/pulse/internal/metrics"
	"github.com/signalworks/pulse/internal/registry"
	"github.com/signalworks/pulse/internal/store"
	"github.com/signalworks/pulse/internal/stream"
)

// UserSession represents a logged-in dashboard user session.
type UserSession struct {
	Token      string
	Username   string
	ExpireTime time.Time
}

// Server is the HTTP boundary: thin marshaling of requests into the
// pipeline and the read-side store. All real work happens behind it.
type Server struct {
	cfg        *config.Config
	pipeline   *ingest.Pipeline
	store      *store.Store
	hub        *stream.Hub
	meta       *controller.Store
	producers  *registry.Server
	aggregator *cluster.Aggregator
	encoder    *export.Encoder
	metrics    *metrics.Set

	sessions   map[string]UserSession
	sessionsMu sync.RWMutex

	promReg *prometheus.Registry
	srv     *http.Server
}

// New creates a server. meta and aggregator may be nil (auth disabled /
// no peers configured).
func New(cfg *config.Config, pipeline *ingest.Pipeline, st *store.Store, hub *stream.Hub,
	meta *controller.Store, producers *registry.Store, agg *cluster.Aggregator,
	m *metrics.Set, promReg *prometheus.Registry) (*Server, error) {

	encoder, err := export.NewEncoder()
	if err != nil {
		return nil, err
	}
	return &Server{
		cfg:        cfg,
		pipeline:   pipeline,
		store:      st,
		hub:        hub,
		meta:       meta,
		producers:  registry.NewServer(producers),
		aggregator: agg,
		encoder:    encoder,
		metrics:    m,
		sessions:   make(map[string]UserSession),
		promReg:    promReg,
	}, nil
}

// Start runs the HTTP server.
func (s *Server) Start(addr string) error {
	mux := http.NewServeMux()

	// System / auth routes (unprotected by design)
	mux.HandleFunc("/api/system/status", s.handleSystemStatus)
	mux.HandleFunc("/api/system/init", s.handleSystemInit)
	mux.HandleFunc("/api/login", s.handleLogin)

	// User and token management
	mux.Handle("/api/users", s.AuthMiddleware(http.HandlerFunc(s.handleUsers)))
	mux.Handle("/api/users/", s.AuthMiddleware(http.HandlerFunc(s.handleUserItem)))
	mux.Handle("/api/tokens", s.AuthMiddleware(http.HandlerFunc(s.handleTokens)))
	mux.Handle("/api/tokens/", s.AuthMiddleware(http.HandlerFunc(s.handleTokenItem)))

	// Ingestion
	mux.Handle("/api/ingest", s.AuthMiddleware(http.HandlerFunc(s.handleIngest)))
	mux.Handle("/v1/logs", s.AuthMiddleware(http.HandlerFunc(s.handleOtlp)))
	mux.Handle("/v1/traces", s.AuthMiddleware(http.HandlerFunc(s.handleOtlp)))
	mux.Handle("/v1/metrics", s.AuthMiddleware(http.HandlerFunc(s.handleOtlp)))

	// Read side
	mux.Handle("/api/records", s.AuthMiddleware(http.HandlerFunc(s.handleRecords)))
	mux.Handle("/api/stats", s.AuthMiddleware(http.HandlerFunc(s.handleStats)))
	mux.Handle("/api/histogram", s.AuthMiddleware(http.HandlerFunc(s.handleHistogram)))
	mux.Handle("/api/counts", s.AuthMiddleware(http.HandlerFunc(s.handleCounts)))
	mux.Handle("/api/export", s.AuthMiddleware(http.HandlerFunc(s.handleExport)))
	mux.Handle("/api/stream", s.AuthMiddleware(http.HandlerFunc(s.handleStream)))
	mux.Handle("/api/federated/records", s.AuthMiddleware(http.HandlerFunc(s.handleFederated)))

	// Producer registry
	mux.Handle("/api/producers", s.AuthMiddleware(http.HandlerFunc(s.producers.HandleList)))
	mux.Handle("/api/producers/handshake", s.AuthMiddleware(http.HandlerFunc(s.producers.HandleHandshake)))

	// Self-instrumentation
	mux.Handle("/metrics", promhttp.HandlerFor(s.promReg, promhttp.HandlerOpts{}))

	s.srv = &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv != nil {
		return s.srv.Shutdown(ctx)
	}
	return nil
}

// AuthMiddleware checks for a valid token in the Authorization header.
// With auth disabled in config all requests pass through.
func (s *Server) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.Auth.Disabled || s.meta == nil {
			next.ServeHTTP(w, r)
			return
		}

		authHeader := r.Header.Get("Authorization")
		var token string
		if strings.HasPrefix(authHeader, "Bearer ") {
			token = strings.TrimPrefix(authHeader, "Bearer ")
		} else {
			token = r.URL.Query().Get("token")
		}

		if token == "" {
			w.Header().Set("WWW-Authenticate", `Bearer realm="Pulse"`)
			http.Error(w, "Unauthorized: Missing token", http.StatusUnauthorized)
			return
		}

		// Branch A: producer / integration API key
		if _, exists := s.meta.GetTokenByValue(token); exists {
			next.ServeHTTP(w, r)
			return
		}

		// Branch B: dashboard session
		s.sessionsMu.RLock()
		session, exists := s.sessions[token]
		s.sessionsMu.RUnlock()

		if exists {
			if time.Now().Before(session.ExpireTime) {
				user, exists := s.meta.GetUser(session.Username)
				if !exists {
					http.Error(w, "User no longer exists", http.StatusUnauthorized)
					return
				}
				if strings.HasPrefix(r.URL.Path, "/api/users") && user.Role != "super_admin" {
					http.Error(w, "Forbidden: SuperAdmin required", http.StatusForbidden)
					return
				}
				next.ServeHTTP(w, r)
				return
			}
			s.sessionsMu.Lock()
			delete(s.sessions, token)
			s.sessionsMu.Unlock()
		}

		w.Header().Set("WWW-Authenticate", `Bearer realm="Pulse"`)
		http.Error(w, "Unauthorized: Invalid or expired token", http.StatusUnauthorized)
	})
}

// handleSystemStatus returns the initialization status.
func (s *Server) handleSystemStatus(w http.ResponseWriter, r *http.Request) {
	initialized := s.cfg.Auth.Disabled
	if s.meta != nil {
		initialized = s.meta.IsInitialized()
	}
	json.NewEncoder(w).Encode(map[string]bool{
		"initialized": initialized,
		"auth":        !s.cfg.Auth.Disabled,
	})
}

// handleSystemInit creates the first super admin.
func (s *Server) handleSystemInit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.meta == nil {
		http.Error(w, "Auth disabled", http.StatusBadRequest)
		return
	}
	if s.meta.IsInitialized() {
		http.Error(w, "System already initialized", http.StatusBadRequest)
		return
	}

	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if req.Username == "" || req.Password == "" {
		http.Error(w, "Username and password required", http.StatusBadRequest)
		return
	}

	if err := s.meta.InitializeSystem(req.Username, req.Password); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.createSession(w, req.Username, "super_admin")
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.meta == nil {
		http.Error(w, "Auth disabled", http.StatusBadRequest)
		return
	}

	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	user, exists := s.meta.GetUser(req.Username)
	if !exists {
		http.Error(w, "Invalid username or password", http.StatusUnauthorized)
		return
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		http.Error(w, "Invalid username or password", http.StatusUnauthorized)
		return
	}
	s.createSession(w, req.Username, user.Role)
}

func (s *Server) createSession(w http.ResponseWriter, username, role string) {
	b := make([]byte, 16)
	rand.Read(b)
	sessionToken := hex.EncodeToString(b)

	s.sessionsMu.Lock()
	s.sessions[sessionToken] = UserSession{
		Token:      sessionToken,
		Username:   username,
		ExpireTime: time.Now().Add(24 * time.Hour),
	}
	s.sessionsMu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"token":    sessionToken,
		"username": username,
		"role":     role,
	})
}

func (s *Server) handleUsers(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodGet {
		data := s.meta.GetData()
		users := make([]controller.User, len(data.Users))
		for i, u := range data.Users {
			users[i] = u
			users[i].PasswordHash = ""
		}
		json.NewEncoder(w).Encode(users)
		return
	}

	if r.Method == http.MethodPost {
		var req struct {
			Username string `json:"username"`
			Password string `json:"password"`
			Role     string `json:"role"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid JSON", http.StatusBadRequest)
			return
		}

		hash, _ := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
		err := s.meta.AddUser(controller.User{
			Username:     req.Username,
			PasswordHash: string(hash),
			Role:         req.Role,
			CreatedAt:    time.Now().Unix(),
		})
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusCreated)
		return
	}
}

func (s *Server) handleUserItem(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(r.URL.Path, "/")
	username := parts[len(parts)-1]

	if r.Method == http.MethodDelete {
		if err := s.meta.DeleteUser(username); err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusNoContent)
		return
	}
}

func (s *Server) handleTokens(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodGet {
		data := s.meta.GetData()
		json.NewEncoder(w).Encode(data.Tokens)
		return
	}

	if r.Method == http.MethodPost {
		var req struct {
			Name string `json:"name"`
			Type string `json:"type"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid JSON", http.StatusBadRequest)
			return
		}

		b := make([]byte, 16)
		rand.Read(b)
		tokenVal := "pk-" + hex.EncodeToString(b)

		idBytes := make([]byte, 8)
		rand.Read(idBytes)
		id := hex.EncodeToString(idBytes)

		authHeader := r.Header.Get("Authorization")
		sessionToken := strings.TrimPrefix(authHeader, "Bearer ")
		s.sessionsMu.RLock()
		session := s.sessions[sessionToken]
		s.sessionsMu.RUnlock()

		err := s.meta.AddToken(controller.APIToken{
			ID:        id,
			Name:      req.Name,
			Token:     tokenVal,
			Type:      req.Type,
			CreatedBy: session.Username,
		})
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"token": tokenVal, "id": id})
		return
	}
}

func (s *Server) handleTokenItem(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(r.URL.Path, "/")
	id := parts[len(parts)-1]

	if r.Method == http.MethodDelete {
		if err := s.meta.DeleteToken(id); err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusNoContent)
		return
	}
}
