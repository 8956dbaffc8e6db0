package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type fakeChild struct {
	id         string
	done       chan struct{}
	once       sync.Once
	progress   atomic.Int64
	ignoreTerm bool
	terminated atomic.Bool
	killed     atomic.Bool
}

func newFakeChild(id string) *fakeChild {
	c := &fakeChild{id: id, done: make(chan struct{})}
	c.progress.Store(time.Now().UnixNano())
	return c
}

func (c *fakeChild) exit() { c.once.Do(func() { close(c.done) }) }

func (c *fakeChild) ID() string { return c.id }

func (c *fakeChild) Done() <-chan struct{} { return c.done }

func (c *fakeChild) Err() error { return errors.New("exit status 1") }

func (c *fakeChild) LastProgress() time.Time { return time.Unix(0, c.progress.Load()) }

func (c *fakeChild) Terminate() error {
	c.terminated.Store(true)
	if !c.ignoreTerm {
		c.exit()
	}
	return nil
}

func (c *fakeChild) Kill() error {
	c.killed.Store(true)
	c.exit()
	return nil
}

// fakeLauncher hands out children built by spawn and records every launch.
type fakeLauncher struct {
	mu       sync.Mutex
	spawn    func(n int) (*fakeChild, error)
	children []*fakeChild
	launched chan int
}

func (l *fakeLauncher) Launch(context.Context) (Child, error) {
	l.mu.Lock()
	n := len(l.children) + 1
	child, err := l.spawn(n)
	l.children = append(l.children, child)
	l.mu.Unlock()
	if l.launched != nil {
		select {
		case l.launched <- n:
		default:
		}
	}
	if err != nil {
		return nil, err
	}
	return child, nil
}

func (l *fakeLauncher) launches() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.children)
}

func testConfig() Config {
	return Config{
		MaxRestarts:     3,
		RestartDelay:    time.Millisecond,
		LivenessTimeout: time.Hour,
		PollInterval:    5 * time.Millisecond,
		GracePeriod:     20 * time.Millisecond,
	}
}

func exitImmediately(n int) (*fakeChild, error) {
	c := newFakeChild(fmt.Sprintf("child-%d", n))
	c.exit()
	return c, nil
}

func runAsync(ctx context.Context, s *Supervisor) <-chan error {
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	return done
}

func TestRunStopsAfterRestartBudget(t *testing.T) {
	launcher := &fakeLauncher{spawn: exitImmediately}
	s, err := New(zerolog.Nop(), testConfig(), launcher)
	require.NoError(t, err)

	err = s.Run(context.Background())
	require.ErrorIs(t, err, ErrRestartBudgetExhausted)
	require.Equal(t, 3, launcher.launches())

	status := s.Status()
	require.Equal(t, Terminated, status.State)
	require.Equal(t, 3, status.Restarts)
	require.Equal(t, "child-3", status.ChildID)
}

func TestLaunchFailureConsumesBudget(t *testing.T) {
	launcher := &fakeLauncher{spawn: func(int) (*fakeChild, error) { return nil, errors.New("no such file") }}
	cfg := testConfig()
	cfg.MaxRestarts = 2
	s, err := New(zerolog.Nop(), cfg, launcher)
	require.NoError(t, err)

	require.ErrorIs(t, s.Run(context.Background()), ErrRestartBudgetExhausted)
	require.Equal(t, 2, launcher.launches())
}

func TestShutdownDuringBackoffIsPrompt(t *testing.T) {
	launcher := &fakeLauncher{spawn: exitImmediately, launched: make(chan int, 1)}
	cfg := testConfig()
	cfg.RestartDelay = time.Hour
	s, err := New(zerolog.Nop(), cfg, launcher)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := runAsync(ctx, s)

	<-launcher.launched
	require.Eventually(t, func() bool { return s.Status().State == Backoff }, time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("supervisor waited out the backoff after shutdown")
	}
	require.Equal(t, Terminated, s.Status().State)
	require.Equal(t, 1, launcher.launches())
}

func TestStalledChildIsTerminatedAndRestarted(t *testing.T) {
	launcher := &fakeLauncher{spawn: func(n int) (*fakeChild, error) {
		c := newFakeChild(fmt.Sprintf("child-%d", n))
		c.progress.Store(time.Now().Add(-time.Hour).UnixNano())
		return c, nil
	}}
	cfg := testConfig()
	cfg.MaxRestarts = 2
	cfg.LivenessTimeout = 10 * time.Millisecond
	s, err := New(zerolog.Nop(), cfg, launcher)
	require.NoError(t, err)

	require.ErrorIs(t, s.Run(context.Background()), ErrRestartBudgetExhausted)
	require.Equal(t, 2, launcher.launches())
	for _, c := range launcher.children {
		require.True(t, c.terminated.Load())
		require.False(t, c.killed.Load())
	}
}

func TestShutdownWhileRunningKillsStubbornChild(t *testing.T) {
	launcher := &fakeLauncher{
		spawn: func(n int) (*fakeChild, error) {
			c := newFakeChild("stubborn")
			c.ignoreTerm = true
			return c, nil
		},
		launched: make(chan int, 1),
	}
	s, err := New(zerolog.Nop(), testConfig(), launcher)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := runAsync(ctx, s)
	<-launcher.launched
	require.Eventually(t, func() bool { return s.Status().State == Running }, time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("supervisor did not stop")
	}
	child := launcher.children[0]
	require.True(t, child.terminated.Load())
	require.True(t, child.killed.Load())
	require.Equal(t, Terminated, s.Status().State)
	require.Equal(t, 0, s.Status().Restarts)
}

func TestNewValidatesConfig(t *testing.T) {
	_, err := New(zerolog.Nop(), Config{}, &fakeLauncher{})
	require.Error(t, err)
	_, err = New(zerolog.Nop(), testConfig(), nil)
	require.Error(t, err)
}

func TestStateString(t *testing.T) {
	require.Equal(t, "backoff", Backoff.String())
	require.Equal(t, "unknown", State(42).String())
}

func TestShutdownWhileStoppingStalledChildExitsCleanly(t *testing.T) {
	launcher := &fakeLauncher{spawn: func(n int) (*fakeChild, error) {
		c := newFakeChild(fmt.Sprintf("child-%d", n))
		c.ignoreTerm = true
		c.progress.Store(time.Now().Add(-time.Hour).UnixNano())
		return c, nil
	}}
	cfg := testConfig()
	cfg.MaxRestarts = 1
	cfg.LivenessTimeout = time.Millisecond
	cfg.GracePeriod = 300 * time.Millisecond
	s, err := New(zerolog.Nop(), cfg, launcher)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	time.AfterFunc(50*time.Millisecond, cancel)

	start := time.Now()
	err = s.Run(ctx)
	elapsed := time.Since(start)

	require.NoError(t, err)
	require.Less(t, elapsed, 200*time.Millisecond)
	require.Equal(t, Terminated, s.Status().State)
	require.Equal(t, 0, s.Status().Restarts)
	require.Equal(t, 1, launcher.launches())
	child := launcher.children[0]
	require.True(t, child.terminated.Load())
	require.True(t, child.killed.Load())
}
