package ws

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dgnsrekt/livetiming-relay/internal/auth"
	"github.com/dgnsrekt/livetiming-relay/internal/livetiming"
	"github.com/dgnsrekt/livetiming-relay/internal/metrics"
)

// Client protocol message types.
const (
	TypeAuthToken = "auth:token"
	TypeChatPost  = "chat:post"
)

// Error strings returned to the offending client.
const (
	ErrMsgMalformed        = "malformed message"
	ErrMsgUnknownType      = "unknown message type"
	ErrMsgOversized        = "message too large"
	ErrMsgInvalidToken     = "invalid token"
	ErrMsgExpiredToken     = "token expired"
	ErrMsgNotAuthenticated = "not authenticated"
	ErrMsgCooldown         = "cooldown active"
	ErrMsgEmpty            = "empty message"
	ErrMsgUnavailable      = "chat unavailable"
)

const handleTimeout = 5 * time.Second

// TokenVerifier checks an externally issued credential.
type TokenVerifier interface {
	VerifyToken(ctx context.Context, token string) (*auth.Identity, error)
}

// Publisher emits a relay-owned feed delta to every subscriber.
type Publisher interface {
	Publish(feed string, payload any) error
}

// Session is the per-connection authentication state.
type Session struct {
	mu       sync.Mutex
	identity *auth.Identity
}

// Identity returns the authenticated identity, or nil.
func (s *Session) Identity() *auth.Identity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.identity
}

func (s *Session) setIdentity(id *auth.Identity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.identity = id
}

// ClientMessage is an inbound frame from a downstream client.
type ClientMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Reply answers a ClientMessage on the same connection.
type Reply struct {
	Type    string `json:"type"`
	Success bool   `json:"success,omitempty"`
	Error   string `json:"error,omitempty"`
}

type authPayload struct {
	Token string `json:"token"`
}

type chatPayload struct {
	Content  string `json:"content"`
	Language string `json:"language"`
	Color    string `json:"color"`
}

// ChatMessage is the value stored under ChatMessages.<id>.
type ChatMessage struct {
	UserID    string `json:"userId"`
	User      string `json:"user"`
	Role      string `json:"role"`
	Content   string `json:"content"`
	Language  string `json:"language"`
	Color     string `json:"color"`
	Timestamp string `json:"timestamp"`
}

// InboundConfig bounds the client protocol.
type InboundConfig struct {
	MaxMessageBytes  int
	MaxContentLength int
	DefaultCooldown  time.Duration
}

// Inbound implements the authenticated chat protocol.
type Inbound struct {
	verifier  TokenVerifier
	cooldowns auth.CooldownStore
	publisher Publisher
	cfg       InboundConfig
	metrics   *metrics.Metrics
	logger    *zap.Logger
	now       func() time.Time
}

func NewInbound(verifier TokenVerifier, cooldowns auth.CooldownStore, publisher Publisher, cfg InboundConfig, m *metrics.Metrics, logger *zap.Logger) *Inbound {
	if cfg.MaxMessageBytes <= 0 {
		cfg.MaxMessageBytes = 8192
	}
	if cfg.MaxContentLength <= 0 {
		cfg.MaxContentLength = 280
	}
	return &Inbound{
		verifier:  verifier,
		cooldowns: cooldowns,
		publisher: publisher,
		cfg:       cfg,
		metrics:   m,
		logger:    logger,
		now:       time.Now,
	}
}

// Handle processes one inbound frame and returns the encoded reply.
func (in *Inbound) Handle(ctx context.Context, sess *Session, data []byte) []byte {
	ctx, cancel := context.WithTimeout(ctx, handleTimeout)
	defer cancel()

	if len(data) > in.cfg.MaxMessageBytes {
		return encodeReply(Reply{Type: "error", Error: ErrMsgOversized})
	}

	var msg ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return encodeReply(Reply{Type: "error", Error: ErrMsgMalformed})
	}

	switch msg.Type {
	case TypeAuthToken:
		return encodeReply(in.handleAuth(ctx, sess, msg.Payload))
	case TypeChatPost:
		return encodeReply(in.handleChat(ctx, sess, msg.Payload))
	default:
		return encodeReply(Reply{Type: msg.Type, Error: ErrMsgUnknownType})
	}
}

func (in *Inbound) handleAuth(ctx context.Context, sess *Session, raw json.RawMessage) Reply {
	reply := Reply{Type: TypeAuthToken}

	var p authPayload
	if err := json.Unmarshal(raw, &p); err != nil || p.Token == "" {
		reply.Error = ErrMsgMalformed
		return reply
	}

	identity, err := in.verifier.VerifyToken(ctx, p.Token)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredToken) {
			reply.Error = ErrMsgExpiredToken
		} else {
			reply.Error = ErrMsgInvalidToken
		}
		in.logger.Debug("client authentication failed", zap.Error(err))
		return reply
	}

	sess.setIdentity(identity)
	in.logger.Debug("client authenticated",
		zap.String("user_id", identity.ID),
		zap.String("role", identity.Role),
	)
	reply.Success = true
	return reply
}

func (in *Inbound) handleChat(ctx context.Context, sess *Session, raw json.RawMessage) Reply {
	reply := Reply{Type: TypeChatPost}

	identity := sess.Identity()
	if identity == nil {
		reply.Error = ErrMsgNotAuthenticated
		in.metrics.ObserveChat("unauthenticated")
		return reply
	}

	var p chatPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		reply.Error = ErrMsgMalformed
		in.metrics.ObserveChat("malformed")
		return reply
	}

	content, err := SanitizeText(p.Content, in.cfg.MaxContentLength)
	switch {
	case errors.Is(err, ErrContentTooLong):
		reply.Error = ErrMsgOversized
		in.metrics.ObserveChat("oversized")
		return reply
	case errors.Is(err, ErrContentEmpty):
		reply.Error = ErrMsgEmpty
		in.metrics.ObserveChat("empty")
		return reply
	}

	cooldown := identity.Cooldown
	if cooldown <= 0 {
		cooldown = in.cfg.DefaultCooldown
	}
	acquired, err := in.cooldowns.Acquire(ctx, identity.ID, cooldown)
	if err != nil {
		in.logger.Warn("cooldown lookup failed", zap.String("user_id", identity.ID), zap.Error(err))
		reply.Error = ErrMsgUnavailable
		in.metrics.ObserveChat("error")
		return reply
	}
	if !acquired {
		reply.Error = ErrMsgCooldown
		in.metrics.ObserveChat("cooldown")
		return reply
	}

	username := identity.Username
	if username == "" {
		username = identity.ID
	}
	msg := ChatMessage{
		UserID:    identity.ID,
		User:      SanitizeLabel(username),
		Role:      identity.Role,
		Content:   content,
		Language:  SanitizeLanguage(p.Language),
		Color:     SanitizeColor(p.Color),
		Timestamp: in.now().UTC().Format(livetiming.TimestampLayout),
	}

	if err := in.publisher.Publish(livetiming.FeedChatMessages, map[string]ChatMessage{uuid.New().String(): msg}); err != nil {
		in.logger.Warn("failed to publish chat message", zap.Error(err))
		reply.Error = ErrMsgUnavailable
		in.metrics.ObserveChat("error")
		return reply
	}

	in.metrics.ObserveChat("accepted")
	reply.Success = true
	return reply
}

func encodeReply(r Reply) []byte {
	data, _ := json.Marshal(r)
	return data
}
