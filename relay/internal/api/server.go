// Package api provides the relay's HTTP surface: health, plugin listing, the
// WebSocket endpoint and the admin API.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/token-beam/token-beam/pkg/protocol"
	"github.com/token-beam/token-beam/relay/internal/auth"
	"github.com/token-beam/token-beam/relay/internal/config"
	"github.com/token-beam/token-beam/relay/internal/metrics"
	"github.com/token-beam/token-beam/relay/internal/router"
	"github.com/token-beam/token-beam/relay/internal/session"
	"github.com/token-beam/token-beam/relay/internal/store"
)

const bannerText = "Token Beam relay is running"

const maxAuditLimit = 500

// Server is the HTTP API server.
type Server struct {
	registry     *session.Registry
	router       *router.Router
	store        store.Store
	authProvider auth.Provider // nil disables the admin API
	metrics      *metrics.Metrics
	plugins      []protocol.PluginLink
	logger       *slog.Logger
	mux          *chi.Mux
	startTime    time.Time
	rl           *rateLimiter
}

// NewServer wires the routes. ap and m may be nil.
func NewServer(reg *session.Registry, rt *router.Router, s store.Store, ap auth.Provider, m *metrics.Metrics, cfg *config.Config, logger *slog.Logger) *Server {
	if s == nil {
		s = store.Nop{}
	}
	srv := &Server{
		registry:     reg,
		router:       rt,
		store:        s,
		authProvider: ap,
		metrics:      m,
		plugins:      cfg.Plugins,
		logger:       logger.With("component", "api"),
		startTime:    time.Now(),
		rl:           newRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst),
	}
	if srv.plugins == nil {
		srv.plugins = []protocol.PluginLink{}
	}

	mux := chi.NewRouter()
	mux.Use(chimw.Recoverer)
	mux.Use(chimw.RealIP)
	mux.Use(securityHeadersMiddleware)
	mux.Use(makeCORSMiddleware(cfg.Server.AllowedOrigins))
	if m != nil {
		mux.Use(m.Middleware)
	}
	mux.Use(ipRateLimitMiddleware(srv.rl))

	mux.Get("/", srv.handleRoot)
	mux.Get("/ws", rt.HandleWS)
	mux.Get("/health", srv.handleHealth)
	mux.Get("/readyz", srv.handleReadyz)
	mux.Get("/plugins.json", srv.handlePlugins)

	if m != nil && cfg.Metrics.Enabled {
		mux.Handle(cfg.Metrics.Path, m.Handler())
	}

	if ap != nil {
		mux.Route("/api/admin", func(r chi.Router) {
			r.Use(srv.authMiddleware)
			r.Get("/sessions", srv.handleAdminListSessions)
			r.Get("/sessions/{sessionID}", srv.handleAdminGetSession)
			r.Delete("/sessions/{sessionID}", srv.handleAdminCloseSession)
			r.Get("/audit", srv.handleAdminListAuditEvents)
		})
	}

	mux.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})

	srv.mux = mux
	return srv
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// StartBackgroundTasks starts periodic cleanup of idle per-IP limiters.
func (s *Server) StartBackgroundTasks(ctx context.Context) {
	s.rl.StartCleanup(ctx, 5*time.Minute, 10*time.Minute)
}

// handleRoot serves the banner, or the relay socket when the request is an
// upgrade. Plugins connect to the bare host URL.
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if websocket.IsWebSocketUpgrade(r) {
		s.router.HandleWS(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(bannerText))
}

// --- Health handlers ---

type healthResponse struct {
	Status         string    `json:"status"`
	ActiveSessions int       `json:"activeSessions"`
	Timestamp      time.Time `json:"timestamp"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:         "ok",
		ActiveSessions: s.registry.Count(),
		Timestamp:      time.Now().UTC(),
	})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ready",
		"uptime":      time.Since(s.startTime).Truncate(time.Second).String(),
		"connections": s.router.ConnCount(),
	})
}

func (s *Server) handlePlugins(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.plugins)
}

// --- Admin handlers ---

func (s *Server) handleAdminListSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.registry.List())
}

func (s *Server) handleAdminGetSession(w http.ResponseWriter, r *http.Request) {
	info, ok := s.registry.Get(chi.URLParam(r, "sessionID"))
	if !ok {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleAdminCloseSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if _, err := s.registry.CloseSession(sessionID, protocol.ErrTextSessionClosed); err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			writeError(w, http.StatusNotFound, "session not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to close session")
		return
	}
	identity := getIdentityFromContext(r.Context())
	s.logger.Info("session closed by admin", "session_id", sessionID, "subject", identity.Subject)
	writeJSON(w, http.StatusOK, map[string]string{"status": "closed"})
}

func (s *Server) handleAdminListAuditEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.Filter{
		Action:    q.Get("action"),
		SessionID: q.Get("session_id"),
		Limit:     50,
	}
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			filter.Limit = n
		}
	}
	if filter.Limit > maxAuditLimit {
		filter.Limit = maxAuditLimit
	}
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			filter.Offset = n
		}
	}
	if v := q.Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "since must be an RFC 3339 timestamp")
			return
		}
		filter.Since = t
	}

	events, err := s.store.ListEvents(r.Context(), filter)
	if err != nil {
		s.logger.Warn("list audit events failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list audit events")
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
