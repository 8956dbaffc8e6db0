package supervisor

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// RunIDEnv carries the per-launch identifier into the agent's environment.
const RunIDEnv = "AGENT_RUN_ID"

// ProcessLauncher starts the agent as an OS process. Every line it writes counts as progress.
type ProcessLauncher struct {
	Log     zerolog.Logger
	Command string
	Args    []string
	Dir     string
}

// Launch starts the process. The child is not bound to ctx: stopping it is the supervisor's job.
func (l ProcessLauncher) Launch(context.Context) (Child, error) {
	id := uuid.NewString()
	cmd := exec.Command(l.Command, l.Args...)
	cmd.Dir = l.Dir
	cmd.Env = append(os.Environ(), RunIDEnv+"="+id)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", l.Command, err)
	}

	p := &process{id: id, cmd: cmd, done: make(chan struct{})}
	p.touch()
	log := l.Log.With().Str("child", id).Int("pid", cmd.Process.Pid).Logger()

	var readers sync.WaitGroup
	readers.Add(2)
	go p.forward(&readers, stdout, log, "stdout")
	go p.forward(&readers, stderr, log, "stderr")
	go func() {
		readers.Wait()
		p.err = cmd.Wait()
		close(p.done)
	}()
	return p, nil
}

type process struct {
	id       string
	cmd      *exec.Cmd
	done     chan struct{}
	err      error
	progress atomic.Int64
}

func (p *process) touch() { p.progress.Store(time.Now().UnixNano()) }

func (p *process) forward(wg *sync.WaitGroup, r io.Reader, log zerolog.Logger, stream string) {
	defer wg.Done()
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		p.touch()
		log.Info().Str("stream", stream).Msg(scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		// Keep the pipe drained or the child blocks on its next write.
		log.Warn().Err(err).Str("stream", stream).Msg("stopped relaying agent output")
		_, _ = io.Copy(discard{p}, r)
	}
}

// discard swallows output while still counting it as progress.
type discard struct{ p *process }

func (d discard) Write(b []byte) (int, error) {
	d.p.touch()
	return len(b), nil
}

func (p *process) ID() string { return p.id }

func (p *process) Done() <-chan struct{} { return p.done }

func (p *process) LastProgress() time.Time { return time.Unix(0, p.progress.Load()) }

func (p *process) Err() error {
	if !p.finished() {
		return nil
	}
	return p.err
}

func (p *process) Terminate() error {
	if err := p.cmd.Process.Signal(syscall.SIGTERM); err != nil && !p.finished() {
		return err
	}
	return nil
}

func (p *process) Kill() error {
	if err := p.cmd.Process.Kill(); err != nil && !p.finished() {
		return err
	}
	return nil
}

func (p *process) finished() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}
