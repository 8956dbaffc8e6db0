package agent

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"fxagent-go/internal/decision"
	"fxagent-go/internal/execution"
	"fxagent-go/internal/features"
	"fxagent-go/internal/metrics"
	"fxagent-go/internal/signal"
	"fxagent-go/internal/store"
)

var t0 = time.Date(2024, 5, 6, 9, 30, 0, 0, time.UTC)

type fakeExecutor struct {
	mu         sync.Mutex
	executed   []signal.Signal
	reconciled int
	err        error
}

func (f *fakeExecutor) Execute(_ context.Context, sig signal.Signal, symbol string) (*execution.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.executed = append(f.executed, sig)
	return &execution.Order{Symbol: symbol}, nil
}

func (f *fakeExecutor) Reconcile(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reconciled++
	return nil
}

type fakeJournal struct {
	signals []signal.Signal
	filled  [][]string
}

func (j *fakeJournal) RecordSignal(sig signal.Signal, zeroFilled []string) {
	j.signals = append(j.signals, sig)
	j.filled = append(j.filled, zeroFilled)
}

type fakeClock struct {
	open bool
	err  error
}

func (c fakeClock) IsOpen(context.Context) (bool, error) { return c.open, c.err }

type fixture struct {
	store    *store.Store
	executor *fakeExecutor
	journal  *fakeJournal
	loop     *Loop
}

func newFixture(t *testing.T, scorer decision.ScorerFunc, cfg Config, opts ...Option) *fixture {
	t.Helper()
	st := store.New([]string{"EURUSD"}, 24*time.Hour)
	schema := features.Schema{
		features.Name("EURUSD", features.Return),
		features.Name("EURUSD", features.SMA5),
		"EURUSD_Volume",
	}
	synth, err := features.NewSynthesizer(schema, []string{"EURUSD"}, "EURUSD", 25)
	require.NoError(t, err)
	engine, err := decision.NewEngine(scorer, 0.001)
	require.NoError(t, err)

	f := &fixture{store: st, executor: &fakeExecutor{}, journal: &fakeJournal{}}
	if cfg.Target == "" {
		cfg.Target = "EURUSD"
	}
	if cfg.TickInterval == 0 {
		cfg.TickInterval = time.Minute
	}
	if cfg.MaxConsecutiveErrors == 0 {
		cfg.MaxConsecutiveErrors = 3
	}
	opts = append([]Option{WithJournal(f.journal)}, opts...)
	f.loop, err = NewLoop(zerolog.Nop(), cfg, st, synth, engine, f.executor, opts...)
	require.NoError(t, err)
	return f
}

func (f *fixture) seed(n int) {
	for i := 0; i < n; i++ {
		f.store.Upsert("EURUSD", t0.Add(time.Duration(i)*time.Minute), 1.0+0.001*float64(i))
	}
}

func constant(v float64) decision.ScorerFunc {
	return func([]float64) (float64, error) { return v, nil }
}

func TestTickHoldsWhenHistoryInsufficient(t *testing.T) {
	f := newFixture(t, constant(2), Config{})
	f.seed(10)

	sig, err := f.loop.Tick(context.Background())
	require.NoError(t, err)
	require.True(t, sig.IsNoDecision())
	require.Empty(t, f.executor.executed)
	require.Len(t, f.journal.signals, 1)
	require.Equal(t, 0, f.loop.ConsecutiveErrors())
}

func TestTickExecutesModelSignal(t *testing.T) {
	f := newFixture(t, constant(2), Config{})
	f.seed(30)

	sig, err := f.loop.Tick(context.Background())
	require.NoError(t, err)
	require.Equal(t, signal.Buy, sig.Action)
	require.InDelta(t, 1.029, sig.Current, 1e-9)
	require.Equal(t, 2.0, sig.Predicted)

	require.Len(t, f.executor.executed, 1)
	require.Equal(t, 1, f.executor.reconciled)
	require.Equal(t, []string{"EURUSD_Volume"}, f.journal.filled[0])
}

func TestTickSkipsWhenMarketClosed(t *testing.T) {
	f := newFixture(t, constant(2), Config{}, WithMarketClock(fakeClock{open: false}))
	f.seed(30)

	_, err := f.loop.Tick(context.Background())
	require.ErrorIs(t, err, ErrMarketClosed)
	require.Empty(t, f.executor.executed)
	require.Empty(t, f.journal.signals)
	require.Equal(t, 0, f.loop.ConsecutiveErrors())
}

func TestTickAssumesOpenWhenClockFails(t *testing.T) {
	f := newFixture(t, constant(2), Config{}, WithMarketClock(fakeClock{err: errors.New("api down")}))
	f.seed(30)

	sig, err := f.loop.Tick(context.Background())
	require.NoError(t, err)
	require.Equal(t, signal.Buy, sig.Action)
}

func TestTickCountsConsecutiveErrorsAndRecoversPanics(t *testing.T) {
	mode := "error"
	scorer := decision.ScorerFunc(func([]float64) (float64, error) {
		switch mode {
		case "error":
			return 0, errors.New("model failure")
		case "panic":
			panic("boom")
		}
		return 1.0, nil
	})
	f := newFixture(t, scorer, Config{MaxConsecutiveErrors: 2})
	f.seed(30)

	_, err := f.loop.Tick(context.Background())
	require.Error(t, err)
	require.Equal(t, 1, f.loop.ConsecutiveErrors())

	mode = "panic"
	sig, err := f.loop.Tick(context.Background())
	require.ErrorContains(t, err, "panic")
	require.True(t, sig.IsNoDecision())
	require.Equal(t, 2, f.loop.ConsecutiveErrors())

	// Past the alert threshold the loop keeps going.
	_, err = f.loop.Tick(context.Background())
	require.Error(t, err)
	require.Equal(t, 3, f.loop.ConsecutiveErrors())

	mode = "ok"
	_, err = f.loop.Tick(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, f.loop.ConsecutiveErrors())
	require.Equal(t, 4, f.loop.Iterations())
}

func TestTickExecutionFailureCountsAsError(t *testing.T) {
	f := newFixture(t, constant(2), Config{})
	f.executor.err = errors.New("broker rejected")
	f.seed(30)

	_, err := f.loop.Tick(context.Background())
	require.ErrorContains(t, err, "broker rejected")
	require.Equal(t, 1, f.loop.ConsecutiveErrors())
}

func TestRunWarmupIsInterruptible(t *testing.T) {
	f := newFixture(t, constant(2), Config{WarmupDelay: time.Hour})
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	err := f.loop.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.Less(t, time.Since(start), time.Second)
	require.Zero(t, f.loop.Iterations())
}

func TestRunTicksAtInterval(t *testing.T) {
	f := newFixture(t, constant(2), Config{TickInterval: 20 * time.Millisecond})
	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()

	err := f.loop.Run(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.GreaterOrEqual(t, f.loop.Iterations(), 3)
	require.LessOrEqual(t, f.loop.Iterations(), 9)
}

func TestRunReportsOverrunAndTicksImmediately(t *testing.T) {
	var (
		mu     sync.Mutex
		starts []time.Time
	)
	slow := decision.ScorerFunc(func([]float64) (float64, error) {
		mu.Lock()
		starts = append(starts, time.Now())
		mu.Unlock()
		time.Sleep(40 * time.Millisecond)
		return 2, nil
	})
	f := newFixture(t, slow, Config{TickInterval: 20 * time.Millisecond})
	f.seed(30)

	before := testutil.ToFloat64(metrics.TickOverruns)
	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, f.loop.Run(ctx), context.DeadlineExceeded)

	require.GreaterOrEqual(t, testutil.ToFloat64(metrics.TickOverruns)-before, 2.0)
	mu.Lock()
	defer mu.Unlock()
	require.GreaterOrEqual(t, len(starts), 3)
	for i := 1; i < len(starts); i++ {
		// One slow tick apart, never an extra interval on top.
		require.Less(t, starts[i].Sub(starts[i-1]), 55*time.Millisecond)
	}
}

func TestNewLoopValidation(t *testing.T) {
	_, err := NewLoop(zerolog.Nop(), Config{}, nil, nil, nil, nil)
	require.Error(t, err)
}
