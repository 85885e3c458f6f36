// Package reconcile maps RayCluster create, update and delete events onto
// the cluster registry and supervisors.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	crreconcile "sigs.k8s.io/controller-runtime/pkg/reconcile"

	rayv1 "github.com/loykin/ray-operator/api/v1"
	"github.com/loykin/ray-operator/internal/cluster"
	"github.com/loykin/ray-operator/internal/clusterconfig"
	"github.com/loykin/ray-operator/internal/metrics"
	"github.com/loykin/ray-operator/internal/registry"
	"github.com/loykin/ray-operator/internal/supervisor"
)

// Handlers implements the per-cluster state machine. Calls for the same
// cluster must be serialized by the caller; different clusters may run
// concurrently.
type Handlers struct {
	registry *registry.Registry
	deps     supervisor.Deps
	log      *slog.Logger
}

// New builds handlers that create supervisors with deps and track them in reg.
func New(reg *registry.Registry, deps supervisor.Deps) *Handlers {
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Handlers{registry: reg, deps: deps, log: log.With("component", "reconcile")}
}

// OnCreate handles the first observation of a cluster, including clusters
// that already existed when the operator started (resumed).
func (h *Handlers) OnCreate(ctx context.Context, rc *rayv1.RayCluster, resumed bool) error {
	start := time.Now()
	err := h.create(ctx, rc, resumed)
	metrics.ObserveHandler("create", result(err), time.Since(start).Seconds())
	return err
}

func (h *Handlers) create(ctx context.Context, rc *rayv1.RayCluster, resumed bool) error {
	id := cluster.IDOf(rc)
	log := h.log.With("cluster", id.String())
	doc, err := buildConfig(rc)
	if err != nil {
		return err
	}
	if prev := h.registry.Get(id); prev != nil {
		// a duplicate create must not leave the previous task running
		prev.CleanUp()
	}
	sup, err := supervisor.New(id, doc, h.deps)
	if err != nil {
		return err
	}
	h.registry.Insert(id, sup)
	log.Info("cluster added", "resumed", resumed, "generation", rc.Generation)

	h.deps.Status.Enqueue(id, rayv1.PhaseUpdating)
	// Running comes from the task once the head is up.
	if err := sup.CreateOrUpdate(ctx, false); err != nil {
		return h.launchError(log, err)
	}
	return nil
}

// OnUpdate relaunches the cluster's task when the spec generation or the
// autoscaler retry counter increased. Any other update is ignored.
func (h *Handlers) OnUpdate(ctx context.Context, old, cur *rayv1.RayCluster) error {
	start := time.Now()
	acted, err := h.update(ctx, old, cur)
	if acted || err != nil {
		metrics.ObserveHandler("update", result(err), time.Since(start).Seconds())
	}
	return err
}

func (h *Handlers) update(ctx context.Context, old, cur *rayv1.RayCluster) (bool, error) {
	specChanged := cur.Generation > old.Generation
	restartRequired := cur.Status.AutoscalerRetries > old.Status.AutoscalerRetries
	if !specChanged && !restartRequired {
		return false, nil
	}

	id := cluster.IDOf(cur)
	log := h.log.With("cluster", id.String())
	doc, err := buildConfig(cur)
	if err != nil {
		return true, err
	}
	sup, created, err := h.registry.GetOrCreate(id, func() (*supervisor.ClusterSupervisor, error) {
		return supervisor.New(id, doc, h.deps)
	})
	if err != nil {
		return true, err
	}
	log.Info("cluster changed",
		"spec_changed", specChanged,
		"restart", restartRequired,
		"generation", cur.Generation,
		"autoscaler_retries", cur.Status.AutoscalerRetries,
		"new_supervisor", created)

	h.deps.Status.Enqueue(id, rayv1.PhaseUpdating)
	sup.CleanUpSubprocess()
	sup.SetConfig(doc)
	if err := sup.CreateOrUpdate(ctx, restartRequired); err != nil {
		return true, h.launchError(log, err)
	}
	return true, nil
}

// OnDelete stops the cluster's task, removes its config file and forgets it.
// Unknown clusters are ignored.
func (h *Handlers) OnDelete(_ context.Context, id cluster.ID) error {
	start := time.Now()
	sup := h.registry.Get(id)
	if sup == nil {
		h.log.Debug("delete for unknown cluster", "cluster", id.String())
		metrics.ObserveHandler("delete", "noop", time.Since(start).Seconds())
		return nil
	}
	sup.CleanUp()
	h.registry.Remove(id)
	h.log.Info("cluster removed", "cluster", id.String())
	metrics.ObserveHandler("delete", "ok", time.Since(start).Seconds())
	return nil
}

// launchError absorbs failures the supervisor already reported through
// status. Recovery is driven by the retry counter bump that follows.
func (h *Handlers) launchError(log *slog.Logger, err error) error {
	switch {
	case errors.Is(err, supervisor.ErrLaunchFailed):
		log.Warn("cluster launch failed, waiting for retry", "error", err)
		return nil
	case errors.Is(err, supervisor.ErrStopped):
		log.Info("cluster launch interrupted")
		return nil
	}
	return err
}

// buildConfig converts the resource and checks its preconditions. Both kinds
// of failure are permanent for this resource version.
func buildConfig(rc *rayv1.RayCluster) (clusterconfig.Document, error) {
	doc, err := clusterconfig.FromRayCluster(rc)
	if err != nil {
		return nil, crreconcile.TerminalError(fmt.Errorf("build cluster config: %w", err))
	}
	if err := clusterconfig.CheckRedisPasswordNotSpecified(doc); err != nil {
		return nil, crreconcile.TerminalError(err)
	}
	return doc, nil
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
