// Package operator assembles the RayCluster operator from its parts.
package operator

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/loykin/ray-operator/internal/autoscaler"
	"github.com/loykin/ray-operator/internal/clusterconfig"
	"github.com/loykin/ray-operator/internal/config"
	"github.com/loykin/ray-operator/internal/history"
	"github.com/loykin/ray-operator/internal/reconcile"
	"github.com/loykin/ray-operator/internal/registry"
	"github.com/loykin/ray-operator/internal/status"
	"github.com/loykin/ray-operator/internal/supervisor"
	"github.com/loykin/ray-operator/internal/watch"
)

// +kubebuilder:rbac:groups=cluster.ray.io,resources=rayclusters,verbs=get;list;watch;update;patch
// +kubebuilder:rbac:groups=cluster.ray.io,resources=rayclusters/status,verbs=get;update;patch
// +kubebuilder:rbac:groups=cluster.ray.io,resources=rayclusters/finalizers,verbs=update
// +kubebuilder:rbac:groups="",resources=pods;pods/exec;services,verbs=get;list;watch;create;update;patch;delete
// +kubebuilder:rbac:groups=coordination.k8s.io,resources=leases,verbs=get;list;watch;create;update;patch;delete
// +kubebuilder:rbac:groups="",resources=events,verbs=create;patch

// Options carries everything New needs. Provisioner and NewMonitor default
// to the command-backed implementations from Config.Autoscaler.
type Options struct {
	Config      *config.Config
	Logger      *slog.Logger
	Client      client.Client
	Informers   watch.InformerSource
	Sinks       history.Fanout
	Provisioner autoscaler.Provisioner
	NewMonitor  autoscaler.MonitorFactory
}

// Operator owns the registry, the status reporter and the watch dispatcher.
// It runs as a leader-elected controller-runtime Runnable.
type Operator struct {
	cfg        *config.Config
	log        *slog.Logger
	informers  watch.InformerSource
	sinks      history.Fanout
	registry   *registry.Registry
	reporter   *status.Reporter
	dispatcher *watch.Dispatcher
	ready      chan struct{}
}

func New(opts Options) (*Operator, error) {
	if opts.Config == nil || opts.Client == nil || opts.Informers == nil {
		return nil, errors.New("operator: config, client and informers are required")
	}
	cfg := opts.Config
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	if opts.Provisioner == nil {
		opts.Provisioner = autoscaler.NewCommandProvisioner(cfg.Autoscaler)
	}
	if opts.NewMonitor == nil {
		opts.NewMonitor = autoscaler.NewCommandMonitorFactory(cfg.Autoscaler)
	}

	reporter := status.NewReporter(&status.KubeWriter{Client: opts.Client, Timeout: cfg.Status.WriteTimeout}, opts.Sinks, log)
	reg := registry.New()
	handlers := reconcile.New(reg, supervisor.Deps{
		Paths:            clusterconfig.Paths{Root: cfg.ConfigDir},
		Provisioner:      opts.Provisioner,
		NewMonitor:       opts.NewMonitor,
		Status:           reporter,
		Logger:           log,
		LogFiles:         cfg.Log.File,
		StopWarnInterval: cfg.Supervisor.StopWarnInterval,
	})
	dispatcher := watch.New(opts.Client, handlers, watch.Options{
		Retry:            cfg.Watch.Retry.Backoff(),
		DisableFinalizer: !cfg.Watch.Finalizer,
		Logger:           log,
	})
	return &Operator{
		cfg:        cfg,
		log:        log.With("component", "operator"),
		informers:  opts.Informers,
		sinks:      opts.Sinks,
		registry:   reg,
		reporter:   reporter,
		dispatcher: dispatcher,
		ready:      make(chan struct{}),
	}, nil
}

// Registry exposes the supervised clusters for inspection.
func (o *Operator) Registry() *registry.Registry { return o.registry }

// Ready is closed once events are being received.
func (o *Operator) Ready() <-chan struct{} { return o.ready }

// Start begins handling RayCluster events and blocks until ctx ends. On
// return every supervised task has been stopped and pending statuses have
// been written. Config files stay on disk for the next leader.
func (o *Operator) Start(ctx context.Context) error {
	o.reporter.Start()
	if err := o.dispatcher.Attach(ctx, o.informers); err != nil {
		o.reporter.Stop()
		return err
	}
	close(o.ready)
	o.log.Info("operator started", "config_dir", o.cfg.ConfigDir, "namespace", o.cfg.WatchNamespace)
	<-ctx.Done()
	return o.shutdown()
}

func (o *Operator) shutdown() error {
	timeout := o.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = time.Minute
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	o.log.Info("operator stopping", "clusters", o.registry.Len())
	var errs []error
	if err := o.dispatcher.Stop(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := o.registry.StopAll(ctx); err != nil {
		errs = append(errs, err)
	}
	o.reporter.Stop()
	if err := o.sinks.Close(); err != nil {
		o.log.Warn("closing history sinks", "error", err)
	}
	o.log.Info("operator stopped")
	return errors.Join(errs...)
}

// NeedLeaderElection is true: two replicas must never supervise the same clusters.
func (o *Operator) NeedLeaderElection() bool { return true }
