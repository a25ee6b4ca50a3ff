package state

import (
	"encoding/json"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/dgnsrekt/livetiming-relay/internal/livetiming"
)

// Drop reasons reported in Outcome.Reason.
const (
	ReasonNoSnapshot    = "no_snapshot"
	ReasonUninitialized = "uninitialized_feed"
	ReasonBadPayload    = "bad_payload"
)

// Outcome reports what MergeDelta did with a delta.
type Outcome struct {
	Feed            string
	Target          string
	Applied         bool
	Reason          string
	SessionInactive bool
}

// Store owns the canonical session snapshot. All mutation goes through its methods.
type Store struct {
	mu       sync.RWMutex
	root     map[string]any
	registry Registry
	logger   *zap.Logger
}

// NewStore creates an empty store. A nil registry means DefaultRegistry.
func NewStore(registry Registry, logger *zap.Logger) *Store {
	if registry == nil {
		registry = DefaultRegistry()
	}
	return &Store{
		registry: registry,
		logger:   logger,
	}
}

// Replace swaps the whole snapshot with a deep copy of root. Compressed feeds
// are inflated into their targets and relay-owned feeds are created empty
// when missing. The caller's map is never retained or modified.
func (s *Store) Replace(root map[string]any) {
	root, _ = cloneValue(root).(map[string]any)
	if root == nil {
		root = make(map[string]any)
	}

	for feed, v := range root {
		rule := s.registry.Lookup(feed)
		if !rule.Compressed {
			continue
		}
		encoded, ok := v.(string)
		if !ok {
			continue
		}
		doc, err := livetiming.InflateString(encoded)
		if err != nil {
			s.logger.Warn("failed to inflate snapshot feed", zap.String("feed", feed), zap.Error(err))
			continue
		}
		value, err := livetiming.Decode(doc)
		if err != nil {
			s.logger.Warn("failed to decode snapshot feed", zap.String("feed", feed), zap.Error(err))
			continue
		}
		root[rule.Target] = value
		delete(root, feed)
	}

	for _, feed := range syntheticFeeds {
		if root[feed] == nil {
			root[feed] = make(map[string]any)
		}
	}

	s.mu.Lock()
	s.root = root
	s.mu.Unlock()

	s.logger.Info("snapshot replaced", zap.Int("feeds", len(root)))
}

// MergeDelta folds payload into the subtree addressed by feed. A delta for a
// subtree that the last snapshot did not initialize is dropped and logged.
func (s *Store) MergeDelta(feed string, payload json.RawMessage) Outcome {
	rule := s.registry.Lookup(feed)
	out := Outcome{Feed: feed, Target: rule.Target}

	value, err := decodePayload(rule, payload)
	if err != nil {
		out.Reason = ReasonBadPayload
		s.logger.Debug("dropping delta with bad payload", zap.String("feed", feed), zap.Error(err))
		return out
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.root == nil {
		out.Reason = ReasonNoSnapshot
		s.logger.Debug("dropping delta before first snapshot", zap.String("feed", feed))
		return out
	}

	current, ok := s.root[rule.Target]
	if !ok || current == nil {
		out.Reason = ReasonUninitialized
		s.logger.Debug("dropping delta for uninitialized feed",
			zap.String("feed", feed),
			zap.String("target", rule.Target),
		)
		return out
	}

	if rule.Target == livetiming.FeedSessionInfo && reportsInactive(value) {
		s.logger.Info("inactive session detected, resetting timing fields")
		s.resetInactiveLocked()
		out.SessionInactive = true
	}

	switch rule.Policy {
	case PolicyReplace:
		s.root[rule.Target] = cloneValue(value)
	default:
		s.root[rule.Target] = mergeValue(current, value)
	}

	out.Applied = true
	return out
}

// ResetInactive clears per-competitor timing fields ahead of a forced reconnection.
func (s *Store) ResetInactive() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetInactiveLocked()
}

// SnapshotMessage serializes the current snapshot as a full-state frame.
// The read lock is held for the whole encode so the result is never torn.
func (s *Store) SnapshotMessage() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	root := s.root
	if root == nil {
		root = map[string]any{}
	}
	data, err := livetiming.EncodeSnapshot(root)
	if err != nil {
		return nil, fmt.Errorf("encoding snapshot: %w", err)
	}
	return data, nil
}

// Feed returns a deep copy of one feed subtree.
func (s *Store) Feed(name string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.root[name]
	if !ok {
		return nil, false
	}
	return cloneValue(v), true
}

// Initialized reports whether a snapshot has been installed.
func (s *Store) Initialized() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.root != nil
}

func decodePayload(rule FeedSpec, payload json.RawMessage) (any, error) {
	doc := []byte(payload)
	if rule.Compressed {
		inflated, err := livetiming.Inflate(payload)
		if err != nil {
			return nil, err
		}
		doc = inflated
	}
	return livetiming.Decode(doc)
}

func reportsInactive(v any) bool {
	obj, ok := v.(map[string]any)
	if !ok {
		return false
	}
	status, _ := obj["SessionStatus"].(string)
	return status == "Inactive"
}
