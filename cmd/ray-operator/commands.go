package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/yaml"

	rayv1 "github.com/loykin/ray-operator/api/v1"
	"github.com/loykin/ray-operator/internal/clusterconfig"
	"github.com/loykin/ray-operator/internal/config"
	"github.com/loykin/ray-operator/internal/logger"
	"github.com/loykin/ray-operator/internal/operator"
)

func runOperator(cmd *cobra.Command, flags *GlobalFlags) error {
	cfg, v, err := config.Load(flags.ConfigPath)
	if err != nil {
		return err
	}

	level := new(slog.LevelVar)
	log, closer, err := logger.New(cfg.Log, level, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer func() { _ = closer.Close() }()
	slog.SetDefault(log)

	// Only the log level is applied without a restart.
	config.Watch(v, func(next *config.Config) {
		lvl, err := logger.ParseLevel(next.Log.Level)
		if err != nil {
			return
		}
		if lvl != level.Level() {
			log.Info("log level changed", "from", level.Level().String(), "to", lvl.String())
			level.Set(lvl)
		}
	}, func(err error) {
		log.Warn("ignoring invalid config change", "error", err)
	})

	restCfg, err := ctrl.GetConfig()
	if err != nil {
		return fmt.Errorf("kubernetes client config: %w", err)
	}
	log.Info("starting ray-operator", "version", version, "namespace", cfg.WatchNamespace, "config_dir", cfg.ConfigDir)
	return operator.Run(ctrl.SetupSignalHandler(), cfg, restCfg, log)
}

func runRender(cmd *cobra.Command, flags *RenderFlags) error {
	b, err := readManifest(cmd.InOrStdin(), flags.File)
	if err != nil {
		return err
	}
	var rc rayv1.RayCluster
	if err := yaml.UnmarshalStrict(b, &rc); err != nil {
		return fmt.Errorf("parse %s: %w", flags.File, err)
	}
	if rc.Kind != "" && rc.Kind != "RayCluster" {
		return fmt.Errorf("parse %s: expected kind RayCluster, got %s", flags.File, rc.Kind)
	}
	if rc.Name == "" {
		return fmt.Errorf("parse %s: metadata.name is required", flags.File)
	}
	if rc.Namespace == "" {
		rc.Namespace = "default"
	}

	doc, err := clusterconfig.FromRayCluster(&rc)
	if err != nil {
		return err
	}
	if err := clusterconfig.CheckRedisPasswordNotSpecified(doc); err != nil {
		return err
	}
	out, err := yaml.Marshal(doc)
	if err != nil {
		return err
	}
	_, err = cmd.OutOrStdout().Write(out)
	return err
}

func readManifest(stdin io.Reader, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(stdin)
	}
	b, err := os.ReadFile(path) // #nosec G304 path is supplied by the user
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	return b, nil
}
