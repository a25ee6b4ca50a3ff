package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/dgnsrekt/livetiming-relay/internal/livetiming"
)

// CommonTransport speaks the unauthenticated classic hub protocol.
type CommonTransport struct {
	baseURL    string
	negotiator *Negotiator
	dialer     *websocket.Dialer
	opts       DialOptions
	logger     *zap.Logger
}

type classicSubscribe struct {
	H string `json:"H"`
	M string `json:"M"`
	A []any  `json:"A"`
	I int    `json:"I"`
}

type classicReply struct {
	R json.RawMessage `json:"R"`
	I string          `json:"I"`
	E string          `json:"E"`
}

func NewCommonTransport(baseURL string, negotiator *Negotiator, opts DialOptions, logger *zap.Logger) *CommonTransport {
	opts = opts.withDefaults()
	return &CommonTransport{
		baseURL:    baseURL,
		negotiator: negotiator,
		dialer:     newDialer(opts.HandshakeTimeout),
		opts:       opts,
		logger:     logger.With(zap.String("transport", TransportCommon)),
	}
}

func (t *CommonTransport) Name() string { return TransportCommon }

func (t *CommonTransport) Connect(ctx context.Context) (Session, error) {
	neg, err := t.negotiator.NegotiateCommon(ctx, t.baseURL)
	if err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("clientProtocol", classicProtocol)
	q.Set("transport", "webSockets")
	q.Set("connectionToken", neg.ConnectionToken)
	q.Set("connectionData", connectionData())
	endpoint, err := websocketURL(t.baseURL, "/connect", q)
	if err != nil {
		return nil, err
	}

	conn, _, err := t.dialer.DialContext(ctx, endpoint, baseHeaders(neg.Cookie))
	if err != nil {
		return nil, fmt.Errorf("%w: dial: %v", ErrHandshakeFailed, err)
	}
	conn.SetReadLimit(maxUpstreamFrame)

	snapshot, err := t.subscribe(ctx, conn)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	t.logger.Info("subscribed", zap.Int("feeds", len(t.opts.Feeds)), zap.Int("snapshot_bytes", len(snapshot)))
	return &commonSession{conn: conn, snapshot: snapshot, idle: t.opts.IdleTimeout}, nil
}

func (t *CommonTransport) subscribe(ctx context.Context, conn *websocket.Conn) (json.RawMessage, error) {
	req := classicSubscribe{H: hubName, M: "Subscribe", A: []any{t.opts.Feeds}, I: 1}
	deadline := time.Now().Add(t.opts.HandshakeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	_ = conn.SetWriteDeadline(deadline)
	if err := conn.WriteJSON(req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSubscribeFailed, err)
	}
	_ = conn.SetWriteDeadline(time.Time{})

	// Frames before the reply (init, keepalives, early deltas) carry nothing
	// the snapshot will not already include.
	_ = conn.SetReadDeadline(deadline)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return nil, fmt.Errorf("%w: awaiting reply: %v", ErrSubscribeFailed, err)
		}
		var reply classicReply
		if err := json.Unmarshal(data, &reply); err != nil {
			continue
		}
		if reply.I != "1" {
			continue
		}
		if reply.E != "" {
			return nil, fmt.Errorf("%w: %s", ErrSubscribeFailed, reply.E)
		}
		if len(reply.R) == 0 || string(reply.R) == "null" {
			return nil, fmt.Errorf("%w: empty snapshot", ErrSubscribeFailed)
		}
		_ = conn.SetReadDeadline(time.Time{})
		return reply.R, nil
	}
}

type commonSession struct {
	conn      *websocket.Conn
	snapshot  json.RawMessage
	idle      time.Duration
	closeOnce sync.Once
}

func (s *commonSession) Snapshot() json.RawMessage { return s.snapshot }

func (s *commonSession) Next() (*livetiming.Message, error) {
	_ = s.conn.SetReadDeadline(time.Now().Add(s.idle))
	_, data, err := s.conn.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransportClosed, err)
	}
	return livetiming.ParseMessage(data)
}

func (s *commonSession) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.conn.Close()
	})
	return err
}
