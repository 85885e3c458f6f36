package operator

import (
	"context"
	"log/slog"

	"k8s.io/apimachinery/pkg/runtime"
	utilruntime "k8s.io/apimachinery/pkg/util/runtime"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
	"k8s.io/client-go/rest"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/cache"
	"sigs.k8s.io/controller-runtime/pkg/healthz"
	crmetrics "sigs.k8s.io/controller-runtime/pkg/metrics"
	metricsserver "sigs.k8s.io/controller-runtime/pkg/metrics/server"

	rayv1 "github.com/loykin/ray-operator/api/v1"
	"github.com/loykin/ray-operator/internal/config"
	"github.com/loykin/ray-operator/internal/history/factory"
	"github.com/loykin/ray-operator/internal/logger"
	"github.com/loykin/ray-operator/internal/metrics"
	"github.com/loykin/ray-operator/internal/server"
	optls "github.com/loykin/ray-operator/internal/tls"
)

// NewScheme registers the built-in types and RayCluster.
func NewScheme() *runtime.Scheme {
	s := runtime.NewScheme()
	utilruntime.Must(clientgoscheme.AddToScheme(s))
	utilruntime.Must(rayv1.AddToScheme(s))
	return s
}

// Run starts a controller-runtime manager hosting the operator, the
// inspection API and the health probes, and blocks until ctx ends.
func Run(ctx context.Context, cfg *config.Config, restCfg *rest.Config, log *slog.Logger) error {
	ctrl.SetLogger(logger.Logr(log))

	tlsCfg, err := optls.Setup(cfg.APITLS)
	if err != nil {
		return err
	}

	cacheOpts := cache.Options{}
	if cfg.WatchNamespace != "" {
		cacheOpts.DefaultNamespaces = map[string]cache.Config{cfg.WatchNamespace: {}}
	}
	mgr, err := ctrl.NewManager(restCfg, ctrl.Options{
		Scheme:                 NewScheme(),
		Cache:                  cacheOpts,
		Metrics:                metricsserver.Options{BindAddress: cfg.MetricsAddr},
		HealthProbeBindAddress: cfg.ProbeAddr,
		LeaderElection:         cfg.LeaderElect,
		LeaderElectionID:       cfg.LeaderElectionID,
	})
	if err != nil {
		return err
	}
	if err := metrics.Register(crmetrics.Registry); err != nil {
		return err
	}

	sinks, err := factory.NewSinks(cfg.History.DSNs)
	if err != nil {
		return err
	}
	op, err := New(Options{
		Config:    cfg,
		Logger:    log,
		Client:    mgr.GetClient(),
		Informers: mgr.GetCache(),
		Sinks:     sinks,
	})
	if err != nil {
		_ = sinks.Close()
		return err
	}
	if err := mgr.Add(op); err != nil {
		_ = sinks.Close()
		return err
	}
	if cfg.APIAddr != "" && cfg.APIAddr != "0" {
		router := server.NewRouter(op.Registry(), "", crmetrics.Registry)
		if err := mgr.Add(server.NewServer(cfg.APIAddr, router, log).WithTLS(tlsCfg)); err != nil {
			_ = sinks.Close()
			return err
		}
	}
	if err := mgr.AddHealthzCheck("healthz", healthz.Ping); err != nil {
		_ = sinks.Close()
		return err
	}
	if err := mgr.AddReadyzCheck("readyz", healthz.Ping); err != nil {
		_ = sinks.Close()
		return err
	}

	log.Info("starting manager", "leader_elect", cfg.LeaderElect, "metrics", cfg.MetricsAddr)
	return mgr.Start(ctx)
}
