package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/ray-operator/internal/autoscaler"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestDefaults(t *testing.T) {
	cfg, _, err := Load("")
	require.NoError(t, err)

	assert.NotEmpty(t, cfg.ConfigDir)
	assert.True(t, cfg.LeaderElect)
	assert.Equal(t, time.Minute, cfg.ShutdownTimeout)
	assert.Equal(t, ":8080", cfg.MetricsAddr)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "ray up", cfg.Autoscaler.UpCommand)
	assert.Equal(t, "--redis-address", cfg.Autoscaler.AddressFlag)
	assert.Equal(t, "--redis-password", cfg.Autoscaler.PasswordFlag)
	assert.Equal(t, autoscaler.DefaultRedisPassword, cfg.Autoscaler.Password)
	assert.Equal(t, "--prefix-cluster-info", cfg.Autoscaler.ClusterInfoFlag)
	assert.Equal(t, 10*time.Second, cfg.Autoscaler.KillGrace)
	assert.Equal(t, 30*time.Second, cfg.Supervisor.StopWarnInterval)
	assert.True(t, cfg.Watch.Finalizer)
	assert.Equal(t, 6, cfg.Watch.Retry.Backoff().Steps)
	assert.Equal(t, 500*time.Millisecond, cfg.Watch.Retry.Backoff().Duration)
	assert.Empty(t, cfg.History.DSNs)
	assert.False(t, cfg.APITLS.Enabled())
}

func TestLoadTOML(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "operator.toml", `
config_dir = "/var/lib/ray-operator"
watch_namespace = "ray"
leader_elect = false

[log]
level = "debug"
format = "json"

[log.file]
dir = "/var/log/ray-operator"

[history]
dsns = ["sqlite:///tmp/history.db"]

[autoscaler]
up_command = "/opt/ray/bin/ray up"
kill_grace = "3s"

[watch.retry]
steps = 2
initial = "100ms"
`)
	cfg, v, err := Load(p)
	require.NoError(t, err)
	assert.Equal(t, p, v.ConfigFileUsed())
	assert.Equal(t, "/var/lib/ray-operator", cfg.ConfigDir)
	assert.Equal(t, "ray", cfg.WatchNamespace)
	assert.False(t, cfg.LeaderElect)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "/var/log/ray-operator", cfg.Log.File.Dir)
	assert.Equal(t, []string{"sqlite:///tmp/history.db"}, cfg.History.DSNs)
	assert.Equal(t, "/opt/ray/bin/ray up", cfg.Autoscaler.UpCommand)
	assert.Equal(t, "ray get-head-ip", cfg.Autoscaler.HeadIPCommand, "unset keys keep defaults")
	assert.Equal(t, 3*time.Second, cfg.Autoscaler.KillGrace)
	assert.Equal(t, 2, cfg.Watch.Retry.Steps)
	assert.Equal(t, 100*time.Millisecond, cfg.Watch.Retry.Initial)
}

func TestLoadYAML(t *testing.T) {
	p := writeFile(t, t.TempDir(), "operator.yaml", "watch_namespace: analytics\nlog:\n  level: warn\n")
	cfg, _, err := Load(p)
	require.NoError(t, err)
	assert.Equal(t, "analytics", cfg.WatchNamespace)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestEnvOverridesFile(t *testing.T) {
	p := writeFile(t, t.TempDir(), "operator.toml", "[log]\nlevel = \"debug\"\n")
	t.Setenv("RAY_OPERATOR_LOG_LEVEL", "error")
	t.Setenv("RAY_OPERATOR_WATCH_NAMESPACE", "from-env")
	cfg, _, err := Load(p)
	require.NoError(t, err)
	assert.Equal(t, "error", cfg.Log.Level)
	assert.Equal(t, "from-env", cfg.WatchNamespace)
}

func TestChildEnvMerge(t *testing.T) {
	dir := t.TempDir()
	dotenv := writeFile(t, dir, ".env", "A=1\n#comment\nB=file\n\nnot-a-pair\n")
	p := writeFile(t, dir, "operator.toml", `
env_files = ["`+dotenv+`"]
env = ["B=inline", "C=3"]

[autoscaler]
env = ["RAY_ADDRESS=auto"]
`)
	cfg, _, err := Load(p)
	require.NoError(t, err)
	assert.Equal(t, []string{"A=1", "B=inline", "C=3", "RAY_ADDRESS=auto"}, cfg.Autoscaler.Env)
}

func TestMissingEnvFile(t *testing.T) {
	p := writeFile(t, t.TempDir(), "operator.toml", `env_files = ["/does/not/exist.env"]`)
	_, _, err := Load(p)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "env file")
}

func TestMissingConfigFile(t *testing.T) {
	_, _, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"bad level", "[log]\nlevel = \"loud\"\n", "invalid log level"},
		{"bad format", "[log]\nformat = \"xml\"\n", "log.format"},
		{"empty command", "[autoscaler]\nup_command = \"\"\n", "autoscaler commands"},
		{"zero steps", "[watch.retry]\nsteps = 0\n", "watch.retry.steps"},
		{"small factor", "[watch.retry]\nfactor = 0.5\n", "watch.retry.factor"},
		{"negative duration", "[status]\nwrite_timeout = \"-1s\"\n", "negative"},
		{"half tls pair", "[api_tls]\ncert_file = \"/tmp/tls.crt\"\n", "cert_file and key_file"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := writeFile(t, t.TempDir(), "operator.toml", tt.body)
			_, _, err := Load(p)
			require.Error(t, err)
			assert.True(t, strings.Contains(err.Error(), tt.want), "error %q should mention %q", err, tt.want)
		})
	}
}

func TestWatchReloadsLogLevel(t *testing.T) {
	p := writeFile(t, t.TempDir(), "operator.toml", "[log]\nlevel = \"info\"\n")
	_, v, err := Load(p)
	require.NoError(t, err)

	changed := make(chan string, 4)
	Watch(v, func(c *Config) { changed <- c.Log.Level }, nil)

	// give the watcher time to register before editing
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(p, []byte("[log]\nlevel = \"debug\"\n"), 0o600))

	deadline := time.After(5 * time.Second)
	for {
		select {
		case lvl := <-changed:
			if lvl == "debug" {
				return
			}
		case <-deadline:
			t.Fatal("config change not observed")
		}
	}
}

func TestWatchWithoutFileIsNoop(t *testing.T) {
	_, v, err := Load("")
	require.NoError(t, err)
	Watch(v, func(*Config) { t.Fatal("unexpected reload") }, nil)
}
