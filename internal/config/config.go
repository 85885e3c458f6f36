// Package config loads the operator configuration from a TOML or YAML file,
// RAY_OPERATOR_* environment variables and built-in defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"k8s.io/apimachinery/pkg/util/wait"

	"github.com/loykin/ray-operator/internal/autoscaler"
	"github.com/loykin/ray-operator/internal/clusterconfig"
	"github.com/loykin/ray-operator/internal/logger"
	"github.com/loykin/ray-operator/internal/tls"
)

// EnvPrefix prefixes environment overrides, e.g. RAY_OPERATOR_LOG_LEVEL.
const EnvPrefix = "RAY_OPERATOR"

type Config struct {
	ConfigDir        string        `mapstructure:"config_dir"`
	WatchNamespace   string        `mapstructure:"watch_namespace"`
	MetricsAddr      string        `mapstructure:"metrics_addr"`
	ProbeAddr        string        `mapstructure:"probe_addr"`
	APIAddr          string        `mapstructure:"api_addr"`
	LeaderElect      bool          `mapstructure:"leader_elect"`
	LeaderElectionID string        `mapstructure:"leader_election_id"`
	ShutdownTimeout  time.Duration `mapstructure:"shutdown_timeout"` // bounds the wait for tasks on exit
	Env              []string      `mapstructure:"env"`
	EnvFiles         []string      `mapstructure:"env_files"`

	Log        logger.Config            `mapstructure:"log"`
	History    HistoryConfig            `mapstructure:"history"`
	Autoscaler autoscaler.CommandConfig `mapstructure:"autoscaler"`
	Supervisor SupervisorConfig         `mapstructure:"supervisor"`
	Watch      WatchConfig              `mapstructure:"watch"`
	Status     StatusConfig             `mapstructure:"status"`
	APITLS     tls.Config               `mapstructure:"api_tls"`
}

type HistoryConfig struct {
	DSNs []string `mapstructure:"dsns"`
}

type SupervisorConfig struct {
	StopWarnInterval time.Duration `mapstructure:"stop_warn_interval"`
}

type WatchConfig struct {
	Finalizer bool        `mapstructure:"finalizer"`
	Retry     RetryConfig `mapstructure:"retry"`
}

type RetryConfig struct {
	Initial time.Duration `mapstructure:"initial"`
	Factor  float64       `mapstructure:"factor"`
	Jitter  float64       `mapstructure:"jitter"`
	Steps   int           `mapstructure:"steps"`
	Cap     time.Duration `mapstructure:"cap"`
}

// Backoff converts the retry settings for the watch dispatcher.
func (r RetryConfig) Backoff() wait.Backoff {
	return wait.Backoff{Duration: r.Initial, Factor: r.Factor, Jitter: r.Jitter, Steps: r.Steps, Cap: r.Cap}
}

type StatusConfig struct {
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

func setDefaults(v *viper.Viper) {
	cmd := autoscaler.DefaultCommandConfig()
	v.SetDefault("config_dir", clusterconfig.DefaultRoot())
	v.SetDefault("watch_namespace", "")
	v.SetDefault("metrics_addr", ":8080")
	v.SetDefault("probe_addr", ":8081")
	v.SetDefault("api_addr", ":8082")
	v.SetDefault("leader_elect", true)
	v.SetDefault("leader_election_id", "ray-operator.cluster.ray.io")
	v.SetDefault("shutdown_timeout", time.Minute)
	v.SetDefault("env", []string{})
	v.SetDefault("env_files", []string{})

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.color", false)
	v.SetDefault("log.path", "")
	v.SetDefault("log.file.dir", "")
	v.SetDefault("log.file.max_size_mb", logger.DefaultMaxSizeMB)
	v.SetDefault("log.file.max_backups", logger.DefaultMaxBackups)
	v.SetDefault("log.file.max_age_days", logger.DefaultMaxAgeDays)
	v.SetDefault("log.file.compress", false)

	v.SetDefault("history.dsns", []string{})

	v.SetDefault("autoscaler.up_command", cmd.UpCommand)
	v.SetDefault("autoscaler.head_ip_command", cmd.HeadIPCommand)
	v.SetDefault("autoscaler.monitor_command", cmd.MonitorCommand)
	v.SetDefault("autoscaler.address_flag", cmd.AddressFlag)
	v.SetDefault("autoscaler.config_flag", cmd.ConfigFlag)
	v.SetDefault("autoscaler.password_flag", cmd.PasswordFlag)
	v.SetDefault("autoscaler.password", cmd.Password)
	v.SetDefault("autoscaler.cluster_info_flag", cmd.ClusterInfoFlag)
	v.SetDefault("autoscaler.work_dir", "")
	v.SetDefault("autoscaler.kill_grace", cmd.KillGrace)

	v.SetDefault("supervisor.stop_warn_interval", 30*time.Second)

	v.SetDefault("watch.finalizer", true)
	v.SetDefault("watch.retry.initial", 500*time.Millisecond)
	v.SetDefault("watch.retry.factor", 2.0)
	v.SetDefault("watch.retry.jitter", 0.1)
	v.SetDefault("watch.retry.steps", 6)
	v.SetDefault("watch.retry.cap", 30*time.Second)

	v.SetDefault("status.write_timeout", 10*time.Second)

	v.SetDefault("api_tls.cert_file", "")
	v.SetDefault("api_tls.key_file", "")
	v.SetDefault("api_tls.dir", "")
	v.SetDefault("api_tls.auto_generate", false)
	v.SetDefault("api_tls.min_version", "")
	v.SetDefault("api_tls.max_version", "")
}

// New returns a viper instance with defaults and environment overrides. When
// path is set, the file is read; its type follows the extension and defaults
// to TOML.
func New(path string) (*viper.Viper, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if path == "" {
		return v, nil
	}
	v.SetConfigFile(path)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		v.SetConfigType("yaml")
	default:
		v.SetConfigType("toml")
	}
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	return v, nil
}

// Load reads and validates the configuration.
func Load(path string) (*Config, *viper.Viper, error) {
	v, err := New(path)
	if err != nil {
		return nil, nil, err
	}
	cfg, err := Decode(v)
	if err != nil {
		return nil, nil, err
	}
	return cfg, v, nil
}

// Decode unmarshals v, merges the child environment into the autoscaler
// commands and validates the result.
func Decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	env, err := mergeEnv(cfg.EnvFiles, cfg.Env)
	if err != nil {
		return nil, err
	}
	cfg.Autoscaler.Env = append(env, cfg.Autoscaler.Env...)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values that would only fail later at runtime.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.ConfigDir) == "" {
		errs = append(errs, errors.New("config_dir must not be empty"))
	}
	if c.Autoscaler.UpCommand == "" || c.Autoscaler.HeadIPCommand == "" || c.Autoscaler.MonitorCommand == "" {
		errs = append(errs, errors.New("autoscaler commands must not be empty"))
	}
	if _, err := logger.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format %q must be text or json", c.Log.Format))
	}
	if c.Watch.Retry.Steps < 1 {
		errs = append(errs, errors.New("watch.retry.steps must be at least 1"))
	}
	if c.Watch.Retry.Factor < 1 {
		errs = append(errs, errors.New("watch.retry.factor must be at least 1"))
	}
	if err := c.APITLS.Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.Supervisor.StopWarnInterval < 0 || c.Status.WriteTimeout < 0 || c.Autoscaler.KillGrace < 0 || c.ShutdownTimeout < 0 {
		errs = append(errs, errors.New("durations must not be negative"))
	}
	return errors.Join(errs...)
}

// Watch reloads the config file on change and hands every valid result to
// onChange. Invalid edits are reported through onError and otherwise ignored.
func Watch(v *viper.Viper, onChange func(*Config), onError func(error)) {
	if v.ConfigFileUsed() == "" {
		return
	}
	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		cfg, err := Decode(v)
		if err != nil {
			if onError != nil {
				onError(err)
			}
			return
		}
		onChange(cfg)
	})
	v.WatchConfig()
}

// mergeEnv loads env files in order and applies the inline list last.
// The result is sorted by key.
func mergeEnv(files, inline []string) ([]string, error) {
	m := make(map[string]string)
	for _, p := range files {
		pairs, err := loadEnvFile(p)
		if err != nil {
			return nil, err
		}
		for k, v := range pairs {
			m[k] = v
		}
	}
	for _, kv := range inline {
		if i := strings.IndexByte(kv, '='); i > 0 {
			m[kv[:i]] = kv[i+1:]
		}
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(m))
	for _, k := range keys {
		out = append(out, k+"="+m[k])
	}
	return out, nil
}

// loadEnvFile parses a simple .env file with KEY=VALUE lines (no export, no quotes). Lines starting with # are ignored.
func loadEnvFile(path string) (map[string]string, error) {
	b, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("env file: %w", err)
	}
	m := make(map[string]string)
	for _, line := range strings.Split(string(b), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if i := strings.IndexByte(line, '='); i > 0 {
			m[strings.TrimSpace(line[:i])] = strings.TrimSpace(line[i+1:])
		}
	}
	return m, nil
}
