// Package agent runs the periodic decision loop that turns stored history into orders.
package agent

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog"

	"fxagent-go/internal/decision"
	"fxagent-go/internal/execution"
	"fxagent-go/internal/features"
	"fxagent-go/internal/metrics"
	"fxagent-go/internal/signal"
	"fxagent-go/internal/store"
)

// ErrMarketClosed marks a tick skipped by the market clock.
var ErrMarketClosed = errors.New("market closed")

// Executor is the execution boundary seen by the loop.
type Executor interface {
	Execute(ctx context.Context, sig signal.Signal, symbol string) (*execution.Order, error)
	Reconcile(ctx context.Context) error
}

// Journal persists every decision.
type Journal interface {
	RecordSignal(sig signal.Signal, zeroFilled []string)
}

// Config holds the loop timing and escalation knobs.
type Config struct {
	Target               string
	TickInterval         time.Duration
	WarmupDelay          time.Duration
	MaxConsecutiveErrors int
	StaleAfter           time.Duration
}

// Loop is the fixed-cadence decision loop. Only one tick runs at a time.
type Loop struct {
	log      zerolog.Logger
	cfg      Config
	store    *store.Store
	synth    *features.Synthesizer
	engine   *decision.Engine
	executor Executor
	journal  Journal
	clock    MarketClock
	now      func() time.Time

	iterations        int
	consecutiveErrors int
	lastSuccess       time.Time
}

// Option customizes a Loop.
type Option func(*Loop)

// WithJournal records every evaluated signal.
func WithJournal(j Journal) Option {
	return func(l *Loop) { l.journal = j }
}

// WithMarketClock gates ticks on market hours.
func WithMarketClock(c MarketClock) Option {
	return func(l *Loop) { l.clock = c }
}

// WithNow overrides the wall clock.
func WithNow(now func() time.Time) Option {
	return func(l *Loop) { l.now = now }
}

// NewLoop wires the store, synthesizer, engine and executor.
func NewLoop(log zerolog.Logger, cfg Config, st *store.Store, synth *features.Synthesizer, engine *decision.Engine, executor Executor, opts ...Option) (*Loop, error) {
	if cfg.TickInterval <= 0 {
		return nil, fmt.Errorf("tick interval must be positive")
	}
	if cfg.MaxConsecutiveErrors <= 0 {
		return nil, fmt.Errorf("max consecutive errors must be positive")
	}
	if st == nil || synth == nil || engine == nil || executor == nil {
		return nil, fmt.Errorf("loop dependencies must not be nil")
	}
	l := &Loop{
		log:      log,
		cfg:      cfg,
		store:    st,
		synth:    synth,
		engine:   engine,
		executor: executor,
		clock:    AlwaysOpen{},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	l.lastSuccess = l.now()
	return l, nil
}

// Run waits out the warm-up delay and then ticks until ctx is canceled.
func (l *Loop) Run(ctx context.Context) error {
	if l.cfg.WarmupDelay > 0 {
		l.log.Info().Dur("delay", l.cfg.WarmupDelay).Msg("waiting for stream to buffer data")
		if !sleepCtx(ctx, l.cfg.WarmupDelay) {
			return ctx.Err()
		}
	}
	l.lastSuccess = l.now()
	l.log.Info().Dur("interval", l.cfg.TickInterval).Str("target", l.cfg.Target).Msg("decision loop started")

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		start := l.now()
		_, _ = l.Tick(ctx)
		elapsed := l.now().Sub(start)

		wait := l.cfg.TickInterval - elapsed
		if wait < 0 {
			metrics.TickOverruns.Inc()
			l.log.Warn().Dur("elapsed", elapsed).Dur("interval", l.cfg.TickInterval).Msg("tick overran interval")
			wait = 0
		}
		if !sleepCtx(ctx, wait) {
			l.log.Info().Int("iterations", l.iterations).Msg("decision loop stopped")
			return ctx.Err()
		}
	}
}

// Tick runs one iteration. Errors and panics are contained here and counted; the returned signal is
// the sentinel whenever no model-driven decision was made.
func (l *Loop) Tick(ctx context.Context) (sig signal.Signal, err error) {
	l.iterations++
	metrics.DecisionTicks.Inc()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			l.log.Error().Str("stack", string(debug.Stack())).Msg("recovered panic in decision tick")
			sig = signal.NoDecision()
		}
		l.settle(err)
	}()
	return l.tick(ctx)
}

func (l *Loop) tick(ctx context.Context) (signal.Signal, error) {
	l.log.Info().Int("iteration", l.iterations).Msg("executing decision tick")

	open, err := l.clock.IsOpen(ctx)
	if err != nil {
		l.log.Warn().Err(err).Msg("could not check market hours, assuming open")
		open = true
	}
	if !open {
		l.log.Info().Msg("market is closed, waiting for next tick")
		return signal.NoDecision(), ErrMarketClosed
	}

	if err := l.executor.Reconcile(ctx); err != nil {
		l.log.Error().Err(err).Msg("reconcile positions")
	}

	frame := l.store.Snapshot(l.synth.Instruments())
	vec := l.synth.Synthesize(frame)
	if len(vec.Filled) > 0 {
		metrics.ZeroFilled.Add(float64(len(vec.Filled)))
		l.log.Warn().Strs("features", vec.Filled).Msg("zero-filled missing schema features")
	}

	sig, err := l.engine.Evaluate(vec)
	if err != nil {
		return signal.NoDecision(), err
	}
	if l.journal != nil {
		l.journal.RecordSignal(sig, vec.Filled)
	}
	if sig.IsNoDecision() {
		l.log.Warn().Int("rows", frame.Rows()).Msg("not enough data to generate features or target price unavailable, holding")
		return sig, nil
	}
	metrics.SignalsTotal.WithLabelValues(string(sig.Action)).Inc()
	l.log.Info().
		Str("signal", string(sig.Action)).
		Float64("current", sig.Current).
		Float64("predicted", sig.Predicted).
		Msg("signal")

	if _, err := l.executor.Execute(ctx, sig, l.cfg.Target); err != nil {
		return sig, fmt.Errorf("execute %s: %w", sig.Action, err)
	}
	return sig, nil
}

// settle updates error bookkeeping and emits the heartbeat.
func (l *Loop) settle(err error) {
	now := l.now()
	switch {
	case err == nil:
		l.consecutiveErrors = 0
		l.lastSuccess = now
	case errors.Is(err, ErrMarketClosed):
	default:
		l.consecutiveErrors++
		metrics.DecisionErrors.Inc()
		l.log.Error().Err(err).Int("consecutive_errors", l.consecutiveErrors).Msg("decision tick failed")
		if l.consecutiveErrors >= l.cfg.MaxConsecutiveErrors {
			l.log.WithLevel(zerolog.FatalLevel).
				Int("consecutive_errors", l.consecutiveErrors).
				Msg("too many consecutive errors, agent may need attention")
		}
	}

	since := now.Sub(l.lastSuccess)
	if l.cfg.StaleAfter > 0 && since > l.cfg.StaleAfter {
		l.log.Warn().Dur("since", since).Msg("no successful tick recently")
	}
	l.log.Info().
		Int("iteration", l.iterations).
		Int("consecutive_errors", l.consecutiveErrors).
		Time("last_success", l.lastSuccess).
		Msg("heartbeat")
}

// ConsecutiveErrors returns the current failure streak.
func (l *Loop) ConsecutiveErrors() int { return l.consecutiveErrors }

// Iterations returns how many ticks have run.
func (l *Loop) Iterations() int { return l.iterations }

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
