package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/dgnsrekt/livetiming-relay/internal/livetiming"
	"github.com/dgnsrekt/livetiming-relay/internal/metrics"
	"github.com/dgnsrekt/livetiming-relay/internal/notify"
	"github.com/dgnsrekt/livetiming-relay/internal/state"
)

// ConnState is the manager's connection lifecycle state.
type ConnState int

const (
	StateIdle ConnState = iota
	StateNegotiating
	StateConnected
	StateDisconnected
	StateBackoff
	StateTerminal
)

func (s ConnState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateNegotiating:
		return "negotiating"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	case StateBackoff:
		return "backoff"
	case StateTerminal:
		return "terminal"
	default:
		return "unknown"
	}
}

// Sink receives the upstream's snapshot and deltas.
type Sink interface {
	Seed(raw json.RawMessage) error
	Apply(updates []livetiming.Update) []state.Outcome
}

// Enricher is handed every applied batch, e.g. to queue translations.
type Enricher interface {
	Enrich(updates []livetiming.Update, outcomes []state.Outcome)
}

const notifyTimeout = 30 * time.Second

// Manager owns the single upstream connection. It prefers the premium
// transport, falls back to the common one, and reconnects with backoff.
type Manager struct {
	premium  Transport
	common   Transport
	sink     Sink
	enricher Enricher
	notifier notify.Notifier
	backoff  Backoff
	metrics  *metrics.Metrics
	logger   *zap.Logger

	inFlight atomic.Bool

	mu        sync.Mutex
	runCtx    context.Context
	state     ConnState
	current   *lease
	nextLease uint64
	attempts  int
	failures  int
	downSince time.Time
	lastErr   error
	lastName  string
	timer     *time.Timer
}

// lease ties a read loop to the connection it was started for.
type lease struct {
	id        uint64
	transport string
	session   Session
}

// Option configures a Manager.
type Option func(*Manager)

// WithPremium enables the authenticated transport as first choice.
func WithPremium(t Transport) Option {
	return func(m *Manager) { m.premium = t }
}

// WithEnricher registers a collaborator hook for applied updates.
func WithEnricher(e Enricher) Option {
	return func(m *Manager) { m.enricher = e }
}

// WithNotifier sets where terminal failures and recoveries are reported.
func WithNotifier(n notify.Notifier) Option {
	return func(m *Manager) { m.notifier = n }
}

// WithBackoff overrides the reconnection policy.
func WithBackoff(b Backoff) Option {
	return func(m *Manager) { m.backoff = b }
}

// WithMetrics attaches collectors.
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

func NewManager(common Transport, sink Sink, logger *zap.Logger, opts ...Option) *Manager {
	m := &Manager{
		common:   common,
		sink:     sink,
		notifier: &notify.NoopNotifier{},
		backoff:  DefaultBackoff(),
		logger:   logger,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// State returns the current lifecycle state.
func (m *Manager) State() ConnState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// StateName returns State as a string.
func (m *Manager) StateName() string {
	return m.State().String()
}

// Transport returns the name of the connected transport, if any.
func (m *Manager) Transport() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return ""
	}
	return m.current.transport
}

// Run connects and blocks until ctx is cancelled, then tears down.
func (m *Manager) Run(ctx context.Context) error {
	m.mu.Lock()
	m.runCtx = ctx
	m.mu.Unlock()

	m.Initialize(ctx)
	<-ctx.Done()
	m.shutdown()
	return nil
}

// Initialize attempts one negotiation, premium first. A call made while
// another is in flight returns immediately.
func (m *Manager) Initialize(ctx context.Context) {
	if !m.inFlight.CompareAndSwap(false, true) {
		m.logger.Debug("negotiation already in flight")
		return
	}
	failed := m.negotiate(ctx)
	// Released before the retry timer is armed.
	m.inFlight.Store(false)
	if failed {
		m.scheduleReconnect(ctx, "connect failed")
	}
}

// negotiate connects and seeds the sink. It reports whether a retry is needed.
func (m *Manager) negotiate(ctx context.Context) bool {
	if ctx.Err() != nil {
		return false
	}

	m.mu.Lock()
	if m.state == StateTerminal {
		m.mu.Unlock()
		return false
	}
	m.setStateLocked(StateNegotiating)
	m.mu.Unlock()

	session, name, err := m.connect(ctx)
	if err == nil {
		if err = m.sink.Seed(session.Snapshot()); err != nil {
			_ = session.Close()
		}
	}
	if err != nil {
		m.logger.Warn("upstream connection failed", zap.Error(err))
		m.mu.Lock()
		m.failures++
		m.lastErr = err
		if m.downSince.IsZero() {
			m.downSince = time.Now()
		}
		m.setStateLocked(StateDisconnected)
		m.mu.Unlock()
		return true
	}

	m.mu.Lock()
	if ctx.Err() != nil {
		m.mu.Unlock()
		_ = session.Close()
		return false
	}
	m.nextLease++
	l := &lease{id: m.nextLease, transport: name, session: session}
	old := m.current
	m.current = l
	m.lastName = name
	failures, downSince := m.failures, m.downSince
	m.attempts = 0
	m.failures = 0
	m.downSince = time.Time{}
	m.lastErr = nil
	m.setStateLocked(StateConnected)
	m.mu.Unlock()

	if old != nil {
		_ = old.session.Close()
	}

	m.logger.Info("upstream connected", zap.String("transport", name), zap.Uint64("lease", l.id))
	if failures > 0 {
		go m.notifyRecovered(name, time.Since(downSince), failures)
	}

	go m.readLoop(ctx, l)
	return false
}

func (m *Manager) connect(ctx context.Context) (Session, string, error) {
	if m.premium != nil {
		s, err := m.premium.Connect(ctx)
		if err == nil {
			m.metrics.ObserveConnect(m.premium.Name(), "success")
			return s, m.premium.Name(), nil
		}
		m.metrics.ObserveConnect(m.premium.Name(), "failure")
		m.logger.Warn("premium connection failed, falling back to common", zap.Error(err))
	}

	if m.common == nil {
		return nil, "", ErrNoTransport
	}
	s, err := m.common.Connect(ctx)
	if err != nil {
		m.metrics.ObserveConnect(m.common.Name(), "failure")
		return nil, "", err
	}
	m.metrics.ObserveConnect(m.common.Name(), "success")
	return s, m.common.Name(), nil
}

func (m *Manager) readLoop(ctx context.Context, l *lease) {
	logger := m.logger.With(zap.Uint64("lease", l.id), zap.String("transport", l.transport))

	for {
		msg, err := l.session.Next()
		if err != nil {
			if errors.Is(err, ErrTransportClosed) {
				if !m.release(l) {
					logger.Debug("stale read loop exited")
					return
				}
				logger.Warn("upstream connection lost", zap.Error(err))
				m.scheduleReconnect(ctx, "connection lost")
				return
			}
			logger.Warn("skipping malformed upstream frame", zap.Error(err))
			continue
		}

		if !m.isCurrent(l) {
			return
		}

		for _, rerr := range msg.Rejected {
			logger.Warn("skipping malformed feed update", zap.Error(rerr))
		}

		if len(msg.Snapshot) > 0 {
			if err := m.sink.Seed(msg.Snapshot); err != nil {
				logger.Warn("ignoring malformed snapshot frame", zap.Error(err))
			}
		}
		if len(msg.Updates) == 0 {
			continue
		}

		outcomes := m.sink.Apply(msg.Updates)
		if m.enricher != nil {
			m.enricher.Enrich(msg.Updates, outcomes)
		}
		for _, o := range outcomes {
			if o.SessionInactive {
				m.ForceReconnect(ctx, "session inactive")
				return
			}
		}
	}
}

// ForceReconnect drops the current connection and schedules a new one.
func (m *Manager) ForceReconnect(ctx context.Context, reason string) {
	m.mu.Lock()
	l := m.current
	m.current = nil
	if m.state != StateTerminal {
		m.setStateLocked(StateDisconnected)
	}
	m.mu.Unlock()

	if l != nil {
		_ = l.session.Close()
	}
	m.logger.Info("forcing upstream reconnect", zap.String("reason", reason))
	m.scheduleReconnect(ctx, reason)
}

// release clears l if it is still the current lease.
func (m *Manager) release(l *lease) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current != l {
		return false
	}
	m.current = nil
	m.downSince = time.Now()
	m.setStateLocked(StateDisconnected)
	_ = l.session.Close()
	return true
}

func (m *Manager) isCurrent(l *lease) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current == l
}

// scheduleReconnect arms the backoff timer, replacing any pending one, or
// goes terminal once attempts are exhausted.
func (m *Manager) scheduleReconnect(ctx context.Context, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ctx.Err() != nil || m.state == StateTerminal {
		return
	}
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}

	if m.backoff.Exhausted(m.attempts) {
		m.setStateLocked(StateTerminal)
		m.logger.Error("upstream reconnect attempts exhausted",
			zap.Int("attempts", m.attempts),
			zap.Error(m.lastErr),
		)
		go m.notifyTerminal(m.lastName, m.attempts, m.lastErr)
		return
	}

	delay := m.backoff.Delay(m.attempts)
	m.attempts++
	m.setStateLocked(StateBackoff)
	m.metrics.ObserveReconnect()
	m.logger.Info("scheduling upstream reconnect",
		zap.String("reason", reason),
		zap.Int("attempt", m.attempts),
		zap.Duration("delay", delay),
	)
	m.timer = time.AfterFunc(delay, func() { m.Initialize(ctx) })
}

// Restart discards the current connection, attempt count and any terminal
// state, then negotiates again. It is a no-op before Run or after shutdown.
func (m *Manager) Restart() error {
	m.mu.Lock()
	ctx := m.runCtx
	if ctx == nil || ctx.Err() != nil {
		m.mu.Unlock()
		return ErrNotRunning
	}
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	l := m.current
	m.current = nil
	m.attempts = 0
	m.setStateLocked(StateDisconnected)
	m.mu.Unlock()

	if l != nil {
		_ = l.session.Close()
	}
	m.logger.Info("upstream restart requested")
	go m.Initialize(ctx)
	return nil
}

func (m *Manager) shutdown() {
	m.mu.Lock()
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	l := m.current
	m.current = nil
	m.setStateLocked(StateIdle)
	m.mu.Unlock()

	if l != nil {
		_ = l.session.Close()
	}
	m.logger.Info("upstream manager stopped")
}

func (m *Manager) setStateLocked(s ConnState) {
	m.state = s
	m.metrics.SetUpstreamState(int(s))
}

func (m *Manager) notifyTerminal(transport string, attempts int, err error) {
	ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
	defer cancel()
	if nerr := m.notifier.SendTerminalFailure(ctx, transport, attempts, err); nerr != nil {
		m.logger.Warn("terminal failure notification failed", zap.Error(nerr))
	}
}

func (m *Manager) notifyRecovered(transport string, downtime time.Duration, failures int) {
	ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
	defer cancel()
	if err := m.notifier.SendRecovered(ctx, transport, downtime, failures); err != nil {
		m.logger.Warn("recovery notification failed", zap.Error(err))
	}
}
