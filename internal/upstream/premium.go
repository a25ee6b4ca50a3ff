package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/dgnsrekt/livetiming-relay/internal/livetiming"
)

const (
	recordSeparator = 0x1e

	recordInvocation = 1
	recordCompletion = 3
	recordPing       = 6
	recordClose      = 7

	subscribeInvocationID = "1"
	pingInterval          = 15 * time.Second
	writeTimeout          = 10 * time.Second
)

var (
	handshakeRequest = []byte(`{"protocol":"json","version":1}` + "\x1e")
	pingRecord       = []byte(`{"type":6}` + "\x1e")
)

// PremiumTransport speaks the JSON hub protocol with a subscription token.
type PremiumTransport struct {
	baseURL    string
	token      string
	negotiator *Negotiator
	dialer     *websocket.Dialer
	opts       DialOptions
	logger     *zap.Logger
}

type hubRecord struct {
	Type         int               `json:"type"`
	Target       string            `json:"target,omitempty"`
	InvocationID string            `json:"invocationId,omitempty"`
	Arguments    []json.RawMessage `json:"arguments,omitempty"`
	Result       json.RawMessage   `json:"result,omitempty"`
	Error        string            `json:"error,omitempty"`
}

type hubInvocation struct {
	Type         int    `json:"type"`
	InvocationID string `json:"invocationId"`
	Target       string `json:"target"`
	Arguments    []any  `json:"arguments"`
}

func NewPremiumTransport(baseURL, token string, negotiator *Negotiator, opts DialOptions, logger *zap.Logger) *PremiumTransport {
	opts = opts.withDefaults()
	return &PremiumTransport{
		baseURL:    baseURL,
		token:      token,
		negotiator: negotiator,
		dialer:     newDialer(opts.HandshakeTimeout),
		opts:       opts,
		logger:     logger.With(zap.String("transport", TransportPremium)),
	}
}

func (t *PremiumTransport) Name() string { return TransportPremium }

func (t *PremiumTransport) Connect(ctx context.Context) (Session, error) {
	neg, err := t.negotiator.NegotiatePremium(ctx, t.baseURL, t.token)
	if err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("id", neg.ConnectionToken)
	endpoint, err := websocketURL(t.baseURL, "", q)
	if err != nil {
		return nil, err
	}

	headers := baseHeaders(neg.Cookie)
	headers.Set("Authorization", "Bearer "+t.token)

	conn, _, err := t.dialer.DialContext(ctx, endpoint, headers)
	if err != nil {
		return nil, fmt.Errorf("%w: dial: %v", ErrHandshakeFailed, err)
	}
	conn.SetReadLimit(maxUpstreamFrame)

	s := &premiumSession{
		conn: conn,
		idle: t.opts.IdleTimeout,
		done: make(chan struct{}),
	}

	deadline := time.Now().Add(t.opts.HandshakeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := s.handshake(deadline); err != nil {
		_ = conn.Close()
		return nil, err
	}
	if err := s.subscribe(deadline, t.opts.Feeds); err != nil {
		_ = conn.Close()
		return nil, err
	}

	go s.pingLoop(pingInterval)

	t.logger.Info("subscribed", zap.Int("feeds", len(t.opts.Feeds)), zap.Int("snapshot_bytes", len(s.snapshot)))
	return s, nil
}

type premiumSession struct {
	conn     *websocket.Conn
	snapshot json.RawMessage
	idle     time.Duration
	// Feed records that arrived in the same frames as the handshake or
	// subscribe completion.
	pending []livetiming.Update

	writeMu   sync.Mutex
	done      chan struct{}
	closeOnce sync.Once
}

func (s *premiumSession) write(data []byte, deadline time.Time) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(deadline)
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

func (s *premiumSession) handshake(deadline time.Time) error {
	if err := s.write(handshakeRequest, deadline); err != nil {
		return fmt.Errorf("%w: %v", ErrHandshakeFailed, err)
	}

	_ = s.conn.SetReadDeadline(deadline)
	_, data, err := s.conn.ReadMessage()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrHandshakeFailed, err)
	}

	records := splitRecords(data)
	if len(records) == 0 {
		return fmt.Errorf("%w: empty response", ErrHandshakeFailed)
	}
	var resp struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(records[0], &resp); err != nil {
		return fmt.Errorf("%w: decoding response: %v", ErrHandshakeFailed, err)
	}
	if resp.Error != "" {
		return fmt.Errorf("%w: %s", ErrHandshakeFailed, resp.Error)
	}

	for _, rec := range records[1:] {
		if err := s.absorb(rec); err != nil {
			return err
		}
	}
	return nil
}

func (s *premiumSession) subscribe(deadline time.Time, feeds []string) error {
	inv := hubInvocation{
		Type:         recordInvocation,
		InvocationID: subscribeInvocationID,
		Target:       "Subscribe",
		Arguments:    []any{feeds},
	}
	payload, err := json.Marshal(inv)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSubscribeFailed, err)
	}
	if err := s.write(append(payload, recordSeparator), deadline); err != nil {
		return fmt.Errorf("%w: %v", ErrSubscribeFailed, err)
	}

	_ = s.conn.SetReadDeadline(deadline)
	for s.snapshot == nil {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("%w: awaiting completion: %v", ErrSubscribeFailed, err)
		}
		for _, rec := range splitRecords(data) {
			if err := s.absorb(rec); err != nil {
				return err
			}
		}
	}
	return nil
}

// absorb handles one record during setup, capturing the subscribe result and
// queuing any feed records that arrive alongside it.
func (s *premiumSession) absorb(rec []byte) error {
	var r hubRecord
	if err := json.Unmarshal(rec, &r); err != nil {
		return nil
	}
	switch r.Type {
	case recordCompletion:
		if r.InvocationID != subscribeInvocationID {
			return nil
		}
		if r.Error != "" {
			return fmt.Errorf("%w: %s", ErrSubscribeFailed, r.Error)
		}
		if len(r.Result) == 0 || string(r.Result) == "null" {
			return fmt.Errorf("%w: empty snapshot", ErrSubscribeFailed)
		}
		s.snapshot = r.Result
	case recordInvocation:
		if u, ok, err := feedUpdate(r); err == nil && ok {
			s.pending = append(s.pending, u)
		}
	case recordClose:
		return fmt.Errorf("%w: server closed: %s", ErrSubscribeFailed, r.Error)
	}
	return nil
}

func (s *premiumSession) Snapshot() json.RawMessage { return s.snapshot }

func (s *premiumSession) Next() (*livetiming.Message, error) {
	if len(s.pending) > 0 {
		msg := &livetiming.Message{Updates: s.pending}
		s.pending = nil
		return msg, nil
	}

	_ = s.conn.SetReadDeadline(time.Now().Add(s.idle))
	_, data, err := s.conn.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransportClosed, err)
	}

	msg := &livetiming.Message{}
	for _, rec := range splitRecords(data) {
		var r hubRecord
		if err := json.Unmarshal(rec, &r); err != nil {
			msg.Rejected = append(msg.Rejected, fmt.Errorf("decoding record: %w", err))
			continue
		}
		switch r.Type {
		case recordInvocation:
			u, ok, err := feedUpdate(r)
			if err != nil {
				msg.Rejected = append(msg.Rejected, err)
				continue
			}
			if ok {
				msg.Updates = append(msg.Updates, u)
			}
		case recordClose:
			return nil, fmt.Errorf("%w: server closed: %s", ErrTransportClosed, r.Error)
		}
	}
	return msg, nil
}

func (s *premiumSession) pingLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			if err := s.write(pingRecord, time.Now().Add(writeTimeout)); err != nil {
				return
			}
		}
	}
}

func (s *premiumSession) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		err = s.conn.Close()
	})
	return err
}

// feedUpdate reports ok=false for invocations of other hub methods.
func feedUpdate(r hubRecord) (livetiming.Update, bool, error) {
	if !strings.EqualFold(r.Target, "feed") {
		return livetiming.Update{}, false, nil
	}
	u, err := livetiming.UpdateFromArgs(r.Arguments)
	if err != nil {
		return livetiming.Update{}, false, err
	}
	return u, true, nil
}

func splitRecords(data []byte) [][]byte {
	parts := bytes.Split(data, []byte{recordSeparator})
	out := parts[:0]
	for _, p := range parts {
		if len(bytes.TrimSpace(p)) > 0 {
			out = append(out, p)
		}
	}
	return out
}
