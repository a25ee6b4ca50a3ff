// Package relay joins the state store and the broadcast hub into the single
// emission path used by both the live upstream and replay.
package relay

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dgnsrekt/livetiming-relay/internal/livetiming"
	"github.com/dgnsrekt/livetiming-relay/internal/metrics"
	"github.com/dgnsrekt/livetiming-relay/internal/state"
)

// Broadcaster fans a serialized frame out to every subscriber.
type Broadcaster interface {
	Broadcast(msg []byte)
}

// Pipeline serializes merges and broadcasts so that subscribers observe
// deltas in exactly the order they were merged.
type Pipeline struct {
	mu      sync.Mutex
	store   *state.Store
	hub     Broadcaster
	metrics *metrics.Metrics
	logger  *zap.Logger
	now     func() time.Time
}

func NewPipeline(store *state.Store, hub Broadcaster, m *metrics.Metrics, logger *zap.Logger) *Pipeline {
	return &Pipeline{
		store:   store,
		hub:     hub,
		metrics: m,
		logger:  logger,
		now:     time.Now,
	}
}

// Store returns the underlying state store.
func (p *Pipeline) Store() *state.Store {
	return p.store
}

// Seed replaces the snapshot from a raw "R" document and pushes it to every subscriber.
func (p *Pipeline) Seed(raw json.RawMessage) error {
	root, err := livetiming.DecodeObject(raw)
	if err != nil {
		return fmt.Errorf("decoding snapshot: %w", err)
	}
	p.SeedRoot(root)
	return nil
}

// SeedRoot replaces the snapshot with an already decoded document.
func (p *Pipeline) SeedRoot(root map[string]any) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.store.Replace(root)
	p.metrics.ObserveSnapshot()

	msg, err := p.store.SnapshotMessage()
	if err != nil {
		p.logger.Error("failed to encode snapshot", zap.Error(err))
		return
	}
	p.hub.Broadcast(msg)
	p.metrics.ObserveBroadcast()
}

// Apply merges updates in order and broadcasts the ones that were applied
// as a single streaming envelope.
func (p *Pipeline) Apply(updates []livetiming.Update) []state.Outcome {
	if len(updates) == 0 {
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	outcomes := make([]state.Outcome, 0, len(updates))
	forward := make([]livetiming.Update, 0, len(updates))
	for _, u := range updates {
		out := p.store.MergeDelta(u.Feed, u.Payload)
		outcomes = append(outcomes, out)
		if out.Applied {
			forward = append(forward, u)
			p.metrics.ObserveDelta(u.Feed, "applied")
		} else {
			p.metrics.ObserveDelta(u.Feed, out.Reason)
		}
	}

	if len(forward) == 0 {
		return outcomes
	}

	msg, err := livetiming.EncodeUpdates(forward)
	if err != nil {
		p.logger.Error("failed to encode updates", zap.Error(err))
		return outcomes
	}
	p.hub.Broadcast(msg)
	p.metrics.ObserveBroadcast()

	return outcomes
}

// Publish emits a relay-owned delta through the same path as upstream data.
func (p *Pipeline) Publish(feed string, payload any) error {
	u, err := livetiming.NewUpdate(feed, payload, p.now())
	if err != nil {
		return err
	}
	out := p.Apply([]livetiming.Update{u})
	if len(out) == 1 && !out[0].Applied {
		return fmt.Errorf("%s delta dropped: %s", feed, out[0].Reason)
	}
	return nil
}
