package replay

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/dgnsrekt/livetiming-relay/internal/livetiming"
	"github.com/dgnsrekt/livetiming-relay/internal/metrics"
	"github.com/dgnsrekt/livetiming-relay/internal/state"
)

// Sink is the shared merge-and-broadcast path.
type Sink interface {
	SeedRoot(root map[string]any)
	Apply(updates []livetiming.Update) []state.Outcome
}

// Enricher receives applied batches, as on the live path.
type Enricher interface {
	Enrich(updates []livetiming.Update, outcomes []state.Outcome)
}

// Clock abstracts time for the real-time phase.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time                         { return time.Now() }
func (systemClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// Engine drives a recorded log through the live pipeline.
type Engine struct {
	log         *Log
	sink        Sink
	enricher    Enricher
	fastForward time.Duration
	clock       Clock
	metrics     *metrics.Metrics
	logger      *zap.Logger
}

// Option configures an Engine.
type Option func(*Engine)

func WithClock(c Clock) Option {
	return func(e *Engine) { e.clock = c }
}

func WithEnricher(en Enricher) Option {
	return func(e *Engine) { e.enricher = en }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

func NewEngine(log *Log, sink Sink, fastForward time.Duration, logger *zap.Logger, opts ...Option) *Engine {
	if fastForward < 0 {
		fastForward = 0
	}
	e := &Engine{
		log:         log,
		sink:        sink,
		fastForward: fastForward,
		clock:       systemClock{},
		logger:      logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run seeds the store, catches up to the horizon, then replays the remaining
// frames in real time. It returns when the log is exhausted or ctx ends.
func (e *Engine) Run(ctx context.Context) error {
	// The log stays untouched so the engine can be run again.
	seed := state.CloneRoot(e.log.Seed)
	if err := AdjustSeed(seed, e.clock.Now(), e.fastForward); err != nil {
		e.logger.Warn("replay seed left unadjusted", zap.Error(err))
	}
	e.sink.SeedRoot(seed)
	e.logger.Info("replay seeded",
		zap.Int("frames", len(e.log.Frames)),
		zap.Duration("fast_forward", e.fastForward),
	)

	steps := Plan(e.log.Frames, e.fastForward)
	caughtUp := 0
	for caughtUp < len(steps) && steps[caughtUp].Immediate {
		e.apply(steps[caughtUp].Frame, "catchup")
		caughtUp++
	}
	if caughtUp > 0 {
		e.logger.Info("replay caught up", zap.Int("frames", caughtUp))
	}

	crossed := e.clock.Now()
	for _, step := range steps[caughtUp:] {
		if !step.Immediate {
			if wait := crossed.Add(step.Delay).Sub(e.clock.Now()); wait > 0 {
				select {
				case <-ctx.Done():
					e.logger.Info("replay stopped")
					return nil
				case <-e.clock.After(wait):
				}
			}
		}
		if ctx.Err() != nil {
			return nil
		}
		e.apply(step.Frame, "realtime")
	}

	e.logger.Info("replay finished", zap.Int("frames", len(steps)))
	return nil
}

func (e *Engine) apply(f Frame, phase string) {
	outcomes := e.sink.Apply(f.Updates)
	e.metrics.ObserveReplayFrame(phase)
	if e.enricher != nil {
		e.enricher.Enrich(f.Updates, outcomes)
	}
	e.logger.Debug("replayed frame", zap.Int("line", f.Line), zap.String("phase", phase))
}
