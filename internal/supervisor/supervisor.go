// Package supervisor keeps the agent process alive: it restarts it after exits or stalls, within a
// bounded restart budget.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"fxagent-go/internal/metrics"
)

// ErrRestartBudgetExhausted is returned by Run once max restarts have been used.
var ErrRestartBudgetExhausted = errors.New("restart budget exhausted")

// Child is a running agent instance.
type Child interface {
	ID() string
	// Done is closed once the child has exited.
	Done() <-chan struct{}
	// Err reports the exit status; only meaningful after Done.
	Err() error
	// LastProgress is the time of the most recent progress signal.
	LastProgress() time.Time
	Terminate() error
	Kill() error
}

// Launcher starts children.
type Launcher interface {
	Launch(ctx context.Context) (Child, error)
}

// Config holds the restart policy.
type Config struct {
	MaxRestarts     int
	RestartDelay    time.Duration
	LivenessTimeout time.Duration
	PollInterval    time.Duration
	GracePeriod     time.Duration
}

// Supervisor drives the Starting → Running → Backoff | Terminated state machine.
type Supervisor struct {
	log      zerolog.Logger
	cfg      Config
	launcher Launcher
	now      func() time.Time

	mu        sync.Mutex
	state     State
	restarts  int
	lastStart time.Time
	childID   string
}

type outcome int

const (
	exited outcome = iota
	stalled
	shutdown
)

// New validates cfg and returns a supervisor in the Starting state.
func New(log zerolog.Logger, cfg Config, launcher Launcher) (*Supervisor, error) {
	if launcher == nil {
		return nil, fmt.Errorf("nil launcher")
	}
	if cfg.MaxRestarts <= 0 {
		return nil, fmt.Errorf("max restarts must be positive")
	}
	if cfg.RestartDelay <= 0 || cfg.LivenessTimeout <= 0 || cfg.PollInterval <= 0 || cfg.GracePeriod <= 0 {
		return nil, fmt.Errorf("restart delay, liveness timeout, poll interval and grace period must be positive")
	}
	return &Supervisor{log: log, cfg: cfg, launcher: launcher, now: time.Now}, nil
}

// Status returns a snapshot of the supervisor.
func (s *Supervisor) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		State:        s.state,
		Restarts:     s.restarts,
		MaxRestarts:  s.cfg.MaxRestarts,
		RestartDelay: s.cfg.RestartDelay,
		LastStart:    s.lastStart,
		ChildID:      s.childID,
	}
}

func (s *Supervisor) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
	metrics.SupervisorState.Set(float64(state))
}

// Run supervises until ctx is canceled (returns nil) or the restart budget runs out (returns
// ErrRestartBudgetExhausted). The restart counter never resets.
func (s *Supervisor) Run(ctx context.Context) error {
	s.log.Info().
		Int("max_restarts", s.cfg.MaxRestarts).
		Dur("restart_delay", s.cfg.RestartDelay).
		Dur("liveness_timeout", s.cfg.LivenessTimeout).
		Msg("supervisor starting")

	for {
		if ctx.Err() != nil {
			s.finish("shutdown requested")
			return nil
		}

		s.setState(Starting)
		child, err := s.launcher.Launch(ctx)
		if err != nil {
			s.log.Error().Err(err).Msg("failed to start agent")
		} else {
			s.mu.Lock()
			s.lastStart = s.now()
			s.childID = child.ID()
			s.mu.Unlock()
			s.setState(Running)
			s.log.Info().Str("child", child.ID()).Msg("agent started")

			if s.watch(ctx, child) == shutdown {
				s.log.Info().Str("child", child.ID()).Msg("terminating agent")
				s.stop(child, nil)
				s.finish("shutdown requested")
				return nil
			}
		}
		if ctx.Err() != nil {
			s.finish("shutdown requested")
			return nil
		}

		s.mu.Lock()
		s.restarts++
		restarts := s.restarts
		s.mu.Unlock()
		metrics.SupervisorRestarts.Inc()

		if restarts >= s.cfg.MaxRestarts {
			s.setState(Terminated)
			s.log.WithLevel(zerolog.FatalLevel).
				Int("restarts", restarts).
				Int("max_restarts", s.cfg.MaxRestarts).
				Msg("maximum restart attempts reached, stopping")
			return ErrRestartBudgetExhausted
		}

		s.setState(Backoff)
		s.log.Info().
			Dur("delay", s.cfg.RestartDelay).
			Int("restart", restarts).
			Int("max_restarts", s.cfg.MaxRestarts).
			Msg("waiting before restart")
		timer := time.NewTimer(s.cfg.RestartDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			s.finish("shutdown requested during backoff")
			return nil
		case <-timer.C:
		}
	}
}

func (s *Supervisor) finish(reason string) {
	s.setState(Terminated)
	s.log.Info().Str("reason", reason).Msg("supervisor shutdown complete")
}

// watch blocks until the child exits, stalls, or shutdown is requested. A stalled child has already
// been stopped when watch returns.
func (s *Supervisor) watch(ctx context.Context, child Child) outcome {
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-child.Done():
			if err := child.Err(); err != nil {
				s.log.Warn().Err(err).Str("child", child.ID()).Msg("agent exited with error, restarting")
			} else {
				s.log.Info().Str("child", child.ID()).Msg("agent exited normally, restarting")
			}
			return exited
		case <-ctx.Done():
			return shutdown
		case <-ticker.C:
			silent := s.now().Sub(child.LastProgress())
			if silent > s.cfg.LivenessTimeout {
				s.log.Warn().Str("child", child.ID()).Dur("silent", silent).Msg("agent produced no output within liveness timeout, restarting")
				s.stop(child, ctx.Done())
				return stalled
			}
		}
	}
}

// stop asks the child to terminate and kills it if it is still alive after the grace period. A
// close of abort cuts the grace period short.
func (s *Supervisor) stop(child Child, abort <-chan struct{}) {
	if err := child.Terminate(); err != nil {
		s.log.Warn().Err(err).Str("child", child.ID()).Msg("terminate agent")
	}
	grace := time.NewTimer(s.cfg.GracePeriod)
	defer grace.Stop()
	select {
	case <-child.Done():
		return
	case <-abort:
		s.log.Warn().Str("child", child.ID()).Msg("shutdown requested while stopping agent, killing")
	case <-grace.C:
		s.log.Warn().Str("child", child.ID()).Msg("agent did not terminate gracefully, killing")
	}
	if err := child.Kill(); err != nil {
		s.log.Error().Err(err).Str("child", child.ID()).Msg("kill agent")
	}
	reaped := time.NewTimer(s.cfg.GracePeriod)
	defer reaped.Stop()
	select {
	case <-child.Done():
	case <-reaped.C:
		s.log.Error().Str("child", child.ID()).Msg("agent still running after kill")
	}
}
