// Package status delivers phase updates to RayCluster resources in the order
// they were produced.
package status

import (
	"context"
	"log/slog"
	"sync"
	"time"

	apierrors "k8s.io/apimachinery/pkg/api/errors"

	rayv1 "github.com/loykin/ray-operator/api/v1"
	"github.com/loykin/ray-operator/internal/cluster"
	"github.com/loykin/ray-operator/internal/history"
	"github.com/loykin/ray-operator/internal/metrics"
)

// Item is a single pending phase write.
type Item struct {
	ID    cluster.ID
	Phase rayv1.Phase
}

// Writer persists a phase and returns the status that was stored.
type Writer interface {
	Write(ctx context.Context, it Item) (rayv1.RayClusterStatus, error)
}

// Reporter owns an unbounded FIFO of status items drained by one worker.
// A nil entry in the queue is the shutdown sentinel.
type Reporter struct {
	writer Writer
	sink   history.Sink
	logger *slog.Logger

	mu      sync.Mutex
	cond    *sync.Cond
	queue   []*Item
	started bool
	closed  bool
	done    chan struct{}
}

// NewReporter builds a reporter. sink may be nil.
func NewReporter(w Writer, sink history.Sink, logger *slog.Logger) *Reporter {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Reporter{
		writer: w,
		sink:   sink,
		logger: logger.With("component", "status"),
		done:   make(chan struct{}),
	}
	r.cond = sync.NewCond(&r.mu)
	return r
}

// Start spawns the worker. Calling it twice is a no-op.
func (r *Reporter) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started || r.closed {
		return
	}
	r.started = true
	go r.loop()
}

// Enqueue appends an item. It never blocks on the writer.
func (r *Reporter) Enqueue(id cluster.ID, phase rayv1.Phase) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		r.logger.Warn("status dropped after stop", "cluster", id.String(), "phase", phase)
		return
	}
	r.queue = append(r.queue, &Item{ID: id, Phase: phase})
	depth := len(r.queue)
	r.cond.Signal()
	r.mu.Unlock()
	metrics.SetStatusQueueDepth(depth)
}

// Stop enqueues the sentinel and waits until every earlier item was handled.
func (r *Reporter) Stop() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		<-r.done
		return
	}
	r.closed = true
	if !r.started {
		// nothing will drain the queue
		pending := len(r.queue)
		r.queue = nil
		r.mu.Unlock()
		close(r.done)
		if pending > 0 {
			r.logger.Warn("status reporter stopped before start", "dropped", pending)
		}
		return
	}
	r.queue = append(r.queue, nil)
	r.cond.Signal()
	r.mu.Unlock()
	<-r.done
}

// Pending reports the number of queued items.
func (r *Reporter) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.queue)
}

func (r *Reporter) next() *Item {
	r.mu.Lock()
	defer r.mu.Unlock()
	for len(r.queue) == 0 {
		r.cond.Wait()
	}
	it := r.queue[0]
	r.queue[0] = nil
	r.queue = r.queue[1:]
	metrics.SetStatusQueueDepth(len(r.queue))
	return it
}

func (r *Reporter) loop() {
	defer close(r.done)
	for {
		it := r.next()
		if it == nil {
			return
		}
		r.handle(*it)
	}
}

func (r *Reporter) handle(it Item) {
	ctx := context.Background()
	st, err := r.writer.Write(ctx, it)
	switch {
	case apierrors.IsNotFound(err):
		metrics.IncStatusWrite(string(it.Phase), "gone")
		r.logger.Info("cluster gone, status skipped", "cluster", it.ID.String(), "phase", it.Phase)
		return
	case err != nil:
		metrics.IncStatusWrite(string(it.Phase), "error")
		r.logger.Error("status write failed", "cluster", it.ID.String(), "phase", it.Phase, "error", err)
		return
	}
	metrics.IncStatusWrite(string(it.Phase), "ok")
	r.logger.Debug("status written", "cluster", it.ID.String(), "phase", it.Phase, "retries", st.AutoscalerRetries)

	if r.sink == nil {
		return
	}
	ev := history.Event{
		Type:       history.EventPhase,
		OccurredAt: time.Now().UTC(),
		Record: history.Record{
			Cluster:   it.ID.Name,
			Namespace: it.ID.Namespace,
			Phase:     string(st.Phase),
			Retries:   st.AutoscalerRetries,
		},
	}
	if err := r.sink.Send(ctx, ev); err != nil {
		r.logger.Warn("history sink failed", "cluster", it.ID.String(), "error", err)
	}
}
