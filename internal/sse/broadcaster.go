// Package sse exposes the broadcast stream as server-sent events.
package sse

import (
	"bytes"
	"fmt"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dgnsrekt/livetiming-relay/internal/ws"
)

const (
	clientBufferSize = 64
	transportSSE     = "sse"

	eventSnapshot = "snapshot"
	eventDelta    = "delta"
)

// Registry is the subscriber registry SSE clients join.
type Registry interface {
	Register(sub ws.Subscriber)
	Unregister(sub ws.Subscriber)
}

// Handler serves the event stream.
type Handler struct {
	registry Registry
	logger   *zap.Logger
}

func NewHandler(registry Registry, logger *zap.Logger) *Handler {
	return &Handler{registry: registry, logger: logger}
}

// sseClient is a connected event-stream subscriber.
type sseClient struct {
	id     string
	dataCh chan []byte

	mu     sync.Mutex
	closed bool
}

func (c *sseClient) ID() string        { return c.id }
func (c *sseClient) Transport() string { return transportSSE }

func (c *sseClient) Enqueue(msg []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.dataCh <- msg:
		return true
	default:
		return false
	}
}

func (c *sseClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.dataCh)
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	client := &sseClient{
		id:     uuid.New().String(),
		dataCh: make(chan []byte, clientBufferSize),
	}

	h.registry.Register(client)
	defer h.registry.Unregister(client)

	h.logger.Debug("sse client connected",
		zap.String("id", client.id),
		zap.String("remote_addr", r.RemoteAddr),
	)

	var seq uint64
	for {
		select {
		case <-r.Context().Done():
			h.logger.Debug("sse client disconnected", zap.String("id", client.id))
			return
		case msg, ok := <-client.dataCh:
			if !ok {
				return
			}
			seq++
			if _, err := w.Write(formatEvent(seq, msg)); err != nil {
				h.logger.Debug("failed to write to client", zap.Error(err))
				return
			}
			flusher.Flush()
		}
	}
}

func formatEvent(seq uint64, msg []byte) []byte {
	eventType := eventDelta
	if bytes.HasPrefix(msg, []byte(`{"R"`)) {
		eventType = eventSnapshot
	}
	return []byte(fmt.Sprintf("event: %s\nid: %d\ndata: %s\n\n", eventType, seq, msg))
}
