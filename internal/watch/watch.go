// Package watch turns RayCluster informer notifications into handler calls,
// serialized per cluster and retried with backoff.
package watch

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/util/wait"
	toolscache "k8s.io/client-go/tools/cache"
	"sigs.k8s.io/controller-runtime/pkg/cache"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/controller/controllerutil"
	crreconcile "sigs.k8s.io/controller-runtime/pkg/reconcile"

	rayv1 "github.com/loykin/ray-operator/api/v1"
	"github.com/loykin/ray-operator/internal/cluster"
)

// Finalizer keeps a RayCluster around until the operator has torn down its
// autoscaler, so deletes made while the operator is down are not missed.
const Finalizer = "cluster.ray.io/operator"

// Handler receives cluster lifecycle events.
type Handler interface {
	OnCreate(ctx context.Context, rc *rayv1.RayCluster, resumed bool) error
	OnUpdate(ctx context.Context, old, cur *rayv1.RayCluster) error
	OnDelete(ctx context.Context, id cluster.ID) error
}

// Options tunes a Dispatcher.
type Options struct {
	// Retry bounds how often a failing callback is attempted.
	Retry wait.Backoff
	// DisableFinalizer skips adding and removing Finalizer.
	DisableFinalizer bool
	Logger           *slog.Logger
}

// DefaultRetry is used when Options.Retry has no steps.
var DefaultRetry = wait.Backoff{
	Duration: 500 * time.Millisecond,
	Factor:   2,
	Jitter:   0.1,
	Steps:    6,
	Cap:      30 * time.Second,
}

type eventKind int

const (
	eventCreate eventKind = iota
	eventUpdate
	eventFinalize
	eventDelete
)

func (k eventKind) String() string {
	switch k {
	case eventCreate:
		return "create"
	case eventUpdate:
		return "update"
	case eventFinalize:
		return "finalize"
	default:
		return "delete"
	}
}

type event struct {
	kind    eventKind
	id      cluster.ID
	old     *rayv1.RayCluster
	cur     *rayv1.RayCluster
	resumed bool
}

// Dispatcher runs one worker goroutine per cluster with pending events.
// Events for one cluster are handled in arrival order, one at a time.
type Dispatcher struct {
	client  client.Client
	handler Handler
	opts    Options
	log     *slog.Logger

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	pending map[cluster.ID][]event
	stopped bool
	wg      sync.WaitGroup
}

// New builds a dispatcher. c is used for finalizer patches and may be nil
// when finalizers are disabled.
func New(c client.Client, h Handler, opts Options) *Dispatcher {
	if opts.Retry.Steps < 1 {
		opts.Retry = DefaultRetry
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if c == nil {
		opts.DisableFinalizer = true
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		client:  c,
		handler: h,
		opts:    opts,
		log:     opts.Logger.With("component", "watch"),
		ctx:     ctx,
		cancel:  cancel,
		pending: make(map[cluster.ID][]event),
	}
}

// InformerSource is the part of a controller-runtime cache the dispatcher needs.
type InformerSource interface {
	GetInformer(ctx context.Context, obj client.Object, opts ...cache.InformerGetOption) (cache.Informer, error)
}

// Attach registers the dispatcher on the RayCluster informer of c.
func (d *Dispatcher) Attach(ctx context.Context, c InformerSource) error {
	inf, err := c.GetInformer(ctx, &rayv1.RayCluster{})
	if err != nil {
		return err
	}
	_, err = inf.AddEventHandler(d.EventHandler())
	return err
}

// EventHandler adapts the dispatcher to client-go's handler interface.
func (d *Dispatcher) EventHandler() toolscache.ResourceEventHandler {
	return toolscache.ResourceEventHandlerDetailedFuncs{
		AddFunc:    d.onAdd,
		UpdateFunc: d.onUpdate,
		DeleteFunc: d.onDelete,
	}
}

func (d *Dispatcher) onAdd(obj any, isInInitialList bool) {
	rc, ok := obj.(*rayv1.RayCluster)
	if !ok {
		return
	}
	rc = rc.DeepCopy()
	if !rc.DeletionTimestamp.IsZero() {
		d.enqueue(event{kind: eventFinalize, id: cluster.IDOf(rc), cur: rc})
		return
	}
	d.enqueue(event{kind: eventCreate, id: cluster.IDOf(rc), cur: rc, resumed: isInInitialList})
}

func (d *Dispatcher) onUpdate(oldObj, newObj any) {
	old, ok1 := oldObj.(*rayv1.RayCluster)
	cur, ok2 := newObj.(*rayv1.RayCluster)
	if !ok1 || !ok2 {
		return
	}
	cur = cur.DeepCopy()
	if !cur.DeletionTimestamp.IsZero() {
		d.enqueue(event{kind: eventFinalize, id: cluster.IDOf(cur), cur: cur})
		return
	}
	d.enqueue(event{kind: eventUpdate, id: cluster.IDOf(cur), old: old.DeepCopy(), cur: cur})
}

func (d *Dispatcher) onDelete(obj any) {
	if tomb, ok := obj.(toolscache.DeletedFinalStateUnknown); ok {
		obj = tomb.Obj
	}
	rc, ok := obj.(*rayv1.RayCluster)
	if !ok {
		return
	}
	d.enqueue(event{kind: eventDelete, id: cluster.IDOf(rc)})
}

func (d *Dispatcher) enqueue(ev event) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	q, running := d.pending[ev.id]
	d.pending[ev.id] = append(q, ev)
	if !running {
		d.wg.Add(1)
		go d.work(ev.id)
	}
}

// work drains the queue of id. The map entry exists exactly while a worker
// for id is running.
func (d *Dispatcher) work(id cluster.ID) {
	defer d.wg.Done()
	for {
		d.mu.Lock()
		q := d.pending[id]
		if len(q) == 0 || d.stopped {
			delete(d.pending, id)
			d.mu.Unlock()
			return
		}
		ev := q[0]
		d.pending[id] = q[1:]
		d.mu.Unlock()

		if err := d.process(ev); err != nil && d.ctx.Err() == nil {
			d.log.Error("cluster event dropped", "event", ev.kind.String(), "cluster", id.String(), "error", err)
		}
	}
}

func (d *Dispatcher) process(ev event) error {
	switch ev.kind {
	case eventCreate:
		if err := d.retry(ev, func(ctx context.Context) error { return d.addFinalizer(ctx, ev.cur) }); err != nil {
			return err
		}
		return d.retry(ev, func(ctx context.Context) error { return d.handler.OnCreate(ctx, ev.cur, ev.resumed) })
	case eventUpdate:
		return d.retry(ev, func(ctx context.Context) error { return d.handler.OnUpdate(ctx, ev.old, ev.cur) })
	case eventFinalize:
		if err := d.retry(ev, func(ctx context.Context) error { return d.handler.OnDelete(ctx, ev.id) }); err != nil {
			return err
		}
		return d.retry(ev, func(ctx context.Context) error { return d.removeFinalizer(ctx, ev.cur) })
	default:
		return d.retry(ev, func(ctx context.Context) error { return d.handler.OnDelete(ctx, ev.id) })
	}
}

// retry runs fn until it succeeds, returns a terminal error or the backoff
// is exhausted. The last callback error is returned.
func (d *Dispatcher) retry(ev event, fn func(context.Context) error) error {
	var last error
	attempt := 0
	err := wait.ExponentialBackoffWithContext(d.ctx, d.opts.Retry, func(ctx context.Context) (bool, error) {
		attempt++
		last = fn(ctx)
		switch {
		case last == nil:
			return true, nil
		case errors.Is(last, crreconcile.TerminalError(nil)):
			return false, last
		}
		d.log.Warn("cluster event failed", "event", ev.kind.String(), "cluster", ev.id.String(), "attempt", attempt, "error", last)
		return false, nil
	})
	if err != nil && last != nil {
		return last
	}
	return err
}

func (d *Dispatcher) addFinalizer(ctx context.Context, rc *rayv1.RayCluster) error {
	if d.opts.DisableFinalizer || controllerutil.ContainsFinalizer(rc, Finalizer) {
		return nil
	}
	patch := client.MergeFrom(rc.DeepCopy())
	controllerutil.AddFinalizer(rc, Finalizer)
	if err := d.client.Patch(ctx, rc, patch); err != nil {
		controllerutil.RemoveFinalizer(rc, Finalizer)
		return err
	}
	return nil
}

func (d *Dispatcher) removeFinalizer(ctx context.Context, rc *rayv1.RayCluster) error {
	if d.opts.DisableFinalizer || !controllerutil.ContainsFinalizer(rc, Finalizer) {
		return nil
	}
	patch := client.MergeFrom(rc.DeepCopy())
	controllerutil.RemoveFinalizer(rc, Finalizer)
	err := d.client.Patch(ctx, rc, patch)
	if apierrors.IsNotFound(err) {
		return nil
	}
	if err != nil {
		controllerutil.AddFinalizer(rc, Finalizer)
	}
	return err
}

// Stop discards pending events, cancels in-flight callbacks and waits for
// the workers. It returns ctx.Err() if ctx ends first.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	d.stopped = true
	d.mu.Unlock()
	d.cancel()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pending returns the number of clusters with a running worker.
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}
