package server

import (
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// SnapshotSource serves the current session state.
type SnapshotSource interface {
	SnapshotMessage() ([]byte, error)
	Initialized() bool
}

// ClientCounter reports downstream subscribers.
type ClientCounter interface {
	ClientCount() int
}

// UpstreamStatus reports the producer's state. It is nil in replay mode.
type UpstreamStatus interface {
	StateName() string
	Transport() string
}

type Server struct {
	snapshots SnapshotSource
	clients   ClientCounter
	upstream  UpstreamStatus
	admin     *Admin
	mode      string
	startedAt time.Time
	logger    *zap.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithUpstream reports live upstream state on /healthz.
func WithUpstream(u UpstreamStatus) Option {
	return func(s *Server) { s.upstream = u }
}

// WithAdmin mounts the /admin routes.
func WithAdmin(a *Admin) Option {
	return func(s *Server) { s.admin = a }
}

func NewServer(snapshots SnapshotSource, clients ClientCounter, mode string, logger *zap.Logger, opts ...Option) *Server {
	s := &Server{
		snapshots: snapshots,
		clients:   clients,
		mode:      mode,
		startedAt: time.Now(),
		logger:    logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type HealthResponse struct {
	Status         string `json:"status"`
	Mode           string `json:"mode"`
	Upstream       string `json:"upstream,omitempty"`
	Transport      string `json:"transport,omitempty"`
	Subscribers    int    `json:"subscribers"`
	SnapshotLoaded bool   `json:"snapshotLoaded"`
	UptimeSeconds  int64  `json:"uptimeSeconds"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:         "ok",
		Mode:           s.mode,
		Subscribers:    s.clients.ClientCount(),
		SnapshotLoaded: s.snapshots.Initialized(),
		UptimeSeconds:  int64(time.Since(s.startedAt).Seconds()),
	}
	if s.upstream != nil {
		resp.Upstream = s.upstream.StateName()
		resp.Transport = s.upstream.Transport()
		if resp.Upstream == "terminal" {
			resp.Status = "degraded"
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	if !s.snapshots.Initialized() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "snapshot not loaded"})
		return
	}

	msg, err := s.snapshots.SnapshotMessage()
	if err != nil {
		s.logger.Error("failed to encode snapshot", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "snapshot unavailable"})
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(msg)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
