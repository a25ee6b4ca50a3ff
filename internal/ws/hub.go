package ws

import (
	"context"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/dgnsrekt/livetiming-relay/internal/metrics"
)

const broadcastBufferSize = 256

// Subscriber receives broadcast frames. Enqueue must never block; returning
// false tells the hub the subscriber is too slow and must be dropped.
type Subscriber interface {
	ID() string
	Transport() string
	Enqueue(msg []byte) bool
	Close()
}

// SnapshotSource provides the frame a subscriber receives when it joins.
type SnapshotSource interface {
	SnapshotMessage() ([]byte, error)
}

// Hub is the subscriber registry shared by every downstream transport.
// All registry mutation happens on the Run goroutine.
type Hub struct {
	snapshots    SnapshotSource
	subscribers  map[string]Subscriber
	perTransport map[string]int
	register     chan Subscriber
	unregister   chan Subscriber
	broadcast    chan []byte
	done         chan struct{}
	count        atomic.Int64
	metrics      *metrics.Metrics
	logger       *zap.Logger
}

// NewHub creates a hub that greets new subscribers with a snapshot from snapshots.
func NewHub(snapshots SnapshotSource, m *metrics.Metrics, logger *zap.Logger) *Hub {
	return &Hub{
		snapshots:    snapshots,
		subscribers:  make(map[string]Subscriber),
		perTransport: make(map[string]int),
		register:     make(chan Subscriber),
		unregister:   make(chan Subscriber),
		broadcast:    make(chan []byte, broadcastBufferSize),
		done:         make(chan struct{}),
		metrics:      m,
		logger:       logger,
	}
}

// Run processes hub events until ctx is cancelled. Call this in a goroutine.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.logger.Info("hub shutting down", zap.Int("subscribers", len(h.subscribers)))
			h.shutdown()
			return

		case sub := <-h.register:
			h.join(sub)

		case sub := <-h.unregister:
			if _, ok := h.subscribers[sub.ID()]; ok {
				h.remove(sub)
				h.logger.Debug("subscriber unregistered", zap.String("id", sub.ID()))
			}

		case msg := <-h.broadcast:
			for _, sub := range h.subscribers {
				if !sub.Enqueue(msg) {
					h.remove(sub)
					h.metrics.ObserveDroppedSubscriber(sub.Transport())
					h.logger.Warn("dropping slow subscriber",
						zap.String("id", sub.ID()),
						zap.String("transport", sub.Transport()),
					)
				}
			}
		}
	}
}

// join pushes the current snapshot and then adds sub to the registry. Both
// happen on the hub goroutine, so every delta merged after the snapshot was
// read is still delivered. Deltas already queued may arrive twice.
func (h *Hub) join(sub Subscriber) {
	snapshot, err := h.snapshots.SnapshotMessage()
	if err != nil {
		h.logger.Error("failed to build join snapshot", zap.Error(err))
		sub.Close()
		return
	}
	if !sub.Enqueue(snapshot) {
		sub.Close()
		return
	}

	h.subscribers[sub.ID()] = sub
	h.perTransport[sub.Transport()]++
	h.count.Store(int64(len(h.subscribers)))
	h.metrics.SetSubscribers(sub.Transport(), h.perTransport[sub.Transport()])

	h.logger.Debug("subscriber registered",
		zap.String("id", sub.ID()),
		zap.String("transport", sub.Transport()),
		zap.Int("subscribers", len(h.subscribers)),
	)
}

func (h *Hub) remove(sub Subscriber) {
	delete(h.subscribers, sub.ID())
	h.perTransport[sub.Transport()]--
	h.count.Store(int64(len(h.subscribers)))
	h.metrics.SetSubscribers(sub.Transport(), h.perTransport[sub.Transport()])
	sub.Close()
}

func (h *Hub) shutdown() {
	for _, sub := range h.subscribers {
		sub.Close()
	}
	h.subscribers = make(map[string]Subscriber)
	h.perTransport = make(map[string]int)
	h.count.Store(0)
}

// Register adds sub after sending it the join snapshot.
func (h *Hub) Register(sub Subscriber) {
	select {
	case h.register <- sub:
	case <-h.done:
		sub.Close()
	}
}

// Unregister removes sub. It is safe to call more than once.
func (h *Hub) Unregister(sub Subscriber) {
	select {
	case h.unregister <- sub:
	case <-h.done:
	}
}

// Broadcast queues msg for every subscriber.
func (h *Hub) Broadcast(msg []byte) {
	select {
	case h.broadcast <- msg:
	case <-h.done:
	}
}

// ClientCount returns the number of registered subscribers.
func (h *Hub) ClientCount() int {
	return int(h.count.Load())
}
