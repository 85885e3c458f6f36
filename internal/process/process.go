package process

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"time"
)

// killReapWait bounds the wait for the exit notification after SIGKILL.
const killReapWait = 2 * time.Second

// ErrNotStarted is returned by Wait before Start.
var ErrNotStarted = errors.New("process not started")

// Process runs one child process in its own process group. A single
// goroutine reaps the child; Stop and Wait observe its result through done.
type Process struct {
	spec Spec

	mu     sync.Mutex
	cmd    *exec.Cmd
	status Status
	done   chan struct{}
}

func New(spec Spec) *Process { return &Process{spec: spec} }

// Start launches the child with stdout and stderr attached to the given
// writers (nil discards).
func (p *Process) Start(stdout, stderr io.Writer) error {
	if err := p.spec.Validate(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cmd != nil {
		return fmt.Errorf("process %q already started", p.spec.Name)
	}
	cmd := p.spec.BuildCommand()
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	// grandchildren holding inherited pipes must not block the reaper forever
	cmd.WaitDelay = killReapWait
	configureSysProcAttr(cmd)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %q: %w", p.spec.Name, err)
	}
	p.cmd = cmd
	p.done = make(chan struct{})
	p.status = Status{Name: p.spec.Name, Running: true, PID: cmd.Process.Pid, StartedAt: time.Now()}
	go p.reap(cmd, p.done)
	return nil
}

func (p *Process) reap(cmd *exec.Cmd, done chan struct{}) {
	err := cmd.Wait()
	p.mu.Lock()
	p.status.Running = false
	p.status.StoppedAt = time.Now()
	p.status.ExitErr = err
	p.mu.Unlock()
	close(done)
}

// Done is closed once the child has exited. It is nil before Start.
func (p *Process) Done() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.done
}

// Wait blocks until the child exits and returns its exit error.
func (p *Process) Wait() error {
	done := p.Done()
	if done == nil {
		return ErrNotStarted
	}
	<-done
	return p.Snapshot().ExitErr
}

// Stop sends SIGTERM to the process group and escalates to SIGKILL when the
// child has not exited within grace. It returns the child's exit error.
func (p *Process) Stop(grace time.Duration) error {
	done := p.Done()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return p.Snapshot().ExitErr
	default:
	}
	pid := p.Snapshot().PID
	_ = terminateGroup(pid)
	select {
	case <-done:
	case <-time.After(grace):
		_ = killGroup(pid)
		select {
		case <-done:
		case <-time.After(killReapWait):
			return fmt.Errorf("process %q (pid %d) did not exit after SIGKILL", p.spec.Name, pid)
		}
	}
	return p.Snapshot().ExitErr
}

// Snapshot returns a copy of the current status.
func (p *Process) Snapshot() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

// Run starts spec and waits for it to exit. When ctx is cancelled first the
// process group is stopped (SIGTERM, SIGKILL after grace) and ctx.Err() is
// returned.
func Run(ctx context.Context, spec Spec, grace time.Duration, stdout, stderr io.Writer) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p := New(spec)
	if err := p.Start(stdout, stderr); err != nil {
		return err
	}
	select {
	case <-p.Done():
		if err := p.Snapshot().ExitErr; err != nil {
			return fmt.Errorf("%s: %w", spec.Name, err)
		}
		return nil
	case <-ctx.Done():
		_ = p.Stop(grace)
		return ctx.Err()
	}
}
