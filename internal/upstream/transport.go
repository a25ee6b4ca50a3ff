package upstream

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dgnsrekt/livetiming-relay/internal/livetiming"
)

const (
	TransportPremium = "premium"
	TransportCommon  = "common"

	defaultHandshakeTimeout = 15 * time.Second
	defaultIdleTimeout      = 60 * time.Second

	// Full snapshots during a race weekend run to several megabytes.
	maxUpstreamFrame = 32 << 20
)

// Transport opens a subscribed connection to one upstream variant.
type Transport interface {
	Name() string
	Connect(ctx context.Context) (Session, error)
}

// Session is a live, subscribed upstream connection.
type Session interface {
	// Snapshot is the full state returned by the subscribe call.
	Snapshot() json.RawMessage
	// Next blocks for the next frame. Keepalives yield an empty message.
	Next() (*livetiming.Message, error)
	Close() error
}

// DialOptions are shared by both transports.
type DialOptions struct {
	Feeds            []string
	HandshakeTimeout time.Duration
	IdleTimeout      time.Duration
}

func (o DialOptions) withDefaults() DialOptions {
	if len(o.Feeds) == 0 {
		o.Feeds = livetiming.SubscriptionFeeds
	}
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = defaultHandshakeTimeout
	}
	if o.IdleTimeout <= 0 {
		o.IdleTimeout = defaultIdleTimeout
	}
	return o
}

func newDialer(timeout time.Duration) *websocket.Dialer {
	return &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: timeout,
	}
}

func baseHeaders(cookie string) http.Header {
	h := http.Header{}
	h.Set("User-Agent", userAgent)
	h.Set("Accept-Encoding", acceptEncoding)
	if cookie != "" {
		h.Set("Cookie", cookie)
	}
	return h
}
