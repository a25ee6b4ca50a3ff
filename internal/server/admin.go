package server

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dgnsrekt/livetiming-relay/internal/auth"
)

const adminRole = "admin"

// Restarter can drop and re-establish the upstream connection.
type Restarter interface {
	Restart() error
	StateName() string
}

// TokenVerifier resolves a bearer token to an identity.
type TokenVerifier interface {
	VerifyToken(ctx context.Context, token string) (*auth.Identity, error)
}

// Admin serves operator endpoints. Requests need a bearer token whose role
// is "admin".
type Admin struct {
	upstream Restarter
	verifier TokenVerifier
	logger   *zap.Logger

	// prevents concurrent restarts
	restartMu   sync.Mutex
	lastRestart time.Time
	minInterval time.Duration
}

func NewAdmin(upstream Restarter, verifier TokenVerifier, logger *zap.Logger) *Admin {
	return &Admin{
		upstream:    upstream,
		verifier:    verifier,
		logger:      logger,
		minInterval: 5 * time.Second,
	}
}

type ReconnectResponse struct {
	Status        string    `json:"status"`
	PreviousState string    `json:"previousState"`
	RequestedAt   time.Time `json:"requestedAt"`
	RequestedBy   string    `json:"requestedBy"`
}

type adminIdentityKey struct{}

func (a *Admin) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || token == "" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "missing bearer token"})
			return
		}
		id, err := a.verifier.VerifyToken(r.Context(), token)
		if err != nil {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid token"})
			return
		}
		if id.Role != adminRole {
			writeJSON(w, http.StatusForbidden, map[string]string{"error": "admin role required"})
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), adminIdentityKey{}, id)))
	})
}

func (a *Admin) handleReconnect(w http.ResponseWriter, r *http.Request) {
	if !a.restartMu.TryLock() {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "restart already in progress"})
		return
	}
	defer a.restartMu.Unlock()

	now := time.Now()
	if !a.lastRestart.IsZero() && now.Sub(a.lastRestart) < a.minInterval {
		writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "restart requested too recently"})
		return
	}

	id, _ := r.Context().Value(adminIdentityKey{}).(*auth.Identity)
	requestedBy := ""
	if id != nil {
		requestedBy = id.Username
	}

	previous := a.upstream.StateName()
	if err := a.upstream.Restart(); err != nil {
		a.logger.Warn("upstream restart failed", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
		return
	}
	a.lastRestart = now

	a.logger.Info("upstream restart requested",
		zap.String("by", requestedBy),
		zap.String("previous_state", previous),
	)
	writeJSON(w, http.StatusAccepted, ReconnectResponse{
		Status:        "restarting",
		PreviousState: previous,
		RequestedAt:   now.UTC(),
		RequestedBy:   requestedBy,
	})
}
