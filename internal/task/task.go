// Package task runs a cluster's autoscaling work in an isolated goroutine
// that can be cancelled and joined.
package task

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// EntryPoint is the work run by a task. It must return once ctx is cancelled.
type EntryPoint func(ctx context.Context) error

type runIDKey struct{}

// RunID returns the identifier of the task whose context is ctx.
func RunID(ctx context.Context) string {
	id, _ := ctx.Value(runIDKey{}).(string)
	return id
}

// Task is one launch of an entry point. The zero value is not usable.
type Task struct {
	name      string
	id        string
	startedAt time.Time
	cancel    context.CancelFunc
	cancelled atomic.Bool
	done      chan struct{}
	err       error // written before done is closed
}

// Launch starts entry in a new goroutine. A panic in entry terminates the
// task with an error instead of crashing the process.
func Launch(parent context.Context, name string, entry EntryPoint) *Task {
	id := uuid.NewString()
	ctx, cancel := context.WithCancel(context.WithValue(parent, runIDKey{}, id))
	t := &Task{
		name:      name,
		id:        id,
		startedAt: time.Now(),
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	go t.run(ctx, entry)
	return t
}

func (t *Task) run(ctx context.Context, entry EntryPoint) {
	defer close(t.done)
	defer t.cancel()
	defer func() {
		if r := recover(); r != nil {
			t.err = fmt.Errorf("task %s panicked: %v\n%s", t.name, r, debug.Stack())
		}
	}()
	t.err = entry(ctx)
}

func (t *Task) Name() string         { return t.name }
func (t *Task) ID() string           { return t.id }
func (t *Task) StartedAt() time.Time { return t.startedAt }

// Done is closed when the entry point has returned.
func (t *Task) Done() <-chan struct{} { return t.done }

// Alive reports whether the entry point is still running.
func (t *Task) Alive() bool {
	select {
	case <-t.done:
		return false
	default:
		return true
	}
}

// Err returns the entry point's result. It is nil while the task is alive.
func (t *Task) Err() error {
	if t.Alive() {
		return nil
	}
	return t.err
}

// Cancel signals the entry point to stop. It does not wait.
func (t *Task) Cancel() {
	t.cancelled.Store(true)
	t.cancel()
}

// Cancelled reports whether Cancel was called.
func (t *Task) Cancelled() bool { return t.cancelled.Load() }

// Join blocks until the task exits. There is no deadline: when warnEvery is
// positive, warn is called each time that much more time has passed.
func (t *Task) Join(warnEvery time.Duration, warn func(waited time.Duration)) {
	if warnEvery <= 0 || warn == nil {
		<-t.done
		return
	}
	start := time.Now()
	ticker := time.NewTicker(warnEvery)
	defer ticker.Stop()
	for {
		select {
		case <-t.done:
			return
		case <-ticker.C:
			warn(time.Since(start))
		}
	}
}
