package autoscaler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/loykin/ray-operator/internal/clusterconfig"
	"github.com/loykin/ray-operator/internal/process"
)

const defaultKillGrace = 10 * time.Second

// DefaultRedisPassword is the password a Ray head started without
// --redis-password uses.
const DefaultRedisPassword = "5241590000000000"

// CommandConfig selects the external commands used to provision clusters and
// run their monitors. The monitor authenticates with PasswordFlag=Password;
// either one empty omits the flag. ClusterInfoFlag makes the monitor prefix
// its output with the cluster name and is omitted when empty.
type CommandConfig struct {
	UpCommand       string        `mapstructure:"up_command"`
	HeadIPCommand   string        `mapstructure:"head_ip_command"`
	MonitorCommand  string        `mapstructure:"monitor_command"`
	AddressFlag     string        `mapstructure:"address_flag"`
	ConfigFlag      string        `mapstructure:"config_flag"`
	PasswordFlag    string        `mapstructure:"password_flag"`
	Password        string        `mapstructure:"password"`
	ClusterInfoFlag string        `mapstructure:"cluster_info_flag"`
	WorkDir         string        `mapstructure:"work_dir"`
	Env             []string      `mapstructure:"env"`
	KillGrace       time.Duration `mapstructure:"kill_grace"`
}

// DefaultCommandConfig targets the Ray CLI.
func DefaultCommandConfig() CommandConfig {
	return CommandConfig{
		UpCommand:       "ray up",
		HeadIPCommand:   "ray get-head-ip",
		MonitorCommand:  "python -m ray.autoscaler._private.monitor",
		AddressFlag:     "--redis-address",
		ConfigFlag:      "--autoscaling-config",
		PasswordFlag:    "--redis-password",
		Password:        DefaultRedisPassword,
		ClusterInfoFlag: "--prefix-cluster-info",
		KillGrace:       defaultKillGrace,
	}
}

func (c CommandConfig) grace() time.Duration {
	if c.KillGrace <= 0 {
		return defaultKillGrace
	}
	return c.KillGrace
}

func (c CommandConfig) spec(name, command string, args []string) process.Spec {
	return process.Spec{Name: name, Command: command, Args: args, WorkDir: c.WorkDir, Env: c.Env}
}

// CommandProvisioner runs the provisioning CLI as a child process.
type CommandProvisioner struct {
	cfg CommandConfig
}

func NewCommandProvisioner(cfg CommandConfig) *CommandProvisioner {
	return &CommandProvisioner{cfg: cfg}
}

// CreateOrUpdate runs the up command on configPath and re-reads the config,
// which the command may have rewritten with filled-in defaults.
func (p *CommandProvisioner) CreateOrUpdate(ctx context.Context, configPath string, opts UpdateOptions) (clusterconfig.Document, error) {
	args := []string{configPath}
	if opts.NoRestart {
		args = append(args, "--no-restart")
	}
	if opts.NoConfigCache {
		args = append(args, "--no-config-cache")
	}
	if opts.NoMonitorOnHead {
		args = append(args, "--no-monitor-on-head")
	}
	if opts.Yes {
		args = append(args, "-y")
	}
	spec := p.cfg.spec("create-or-update", p.cfg.UpCommand, args)
	if err := process.Run(ctx, spec, p.cfg.grace(), opts.Stdout, opts.Stderr); err != nil {
		return nil, err
	}
	return clusterconfig.Read(configPath)
}

// HeadIP runs the head IP command and returns the first field of the last
// non-empty output line.
func (p *CommandProvisioner) HeadIP(ctx context.Context, configPath string, streams Streams) (string, error) {
	var buf bytes.Buffer
	var stdout io.Writer = &buf
	if streams.Stdout != nil {
		stdout = io.MultiWriter(&buf, streams.Stdout)
	}
	spec := p.cfg.spec("get-head-ip", p.cfg.HeadIPCommand, []string{configPath})
	if err := process.Run(ctx, spec, p.cfg.grace(), stdout, streams.Stderr); err != nil {
		return "", err
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if f := strings.Fields(lines[len(lines)-1]); len(f) > 0 {
		return f[0], nil
	}
	return "", errors.New("head ip command printed nothing")
}

// CommandMonitor runs the monitor command as a child process.
type CommandMonitor struct {
	cfg  CommandConfig
	opts MonitorOptions
}

// NewCommandMonitorFactory returns a MonitorFactory backed by cfg.MonitorCommand.
func NewCommandMonitorFactory(cfg CommandConfig) MonitorFactory {
	return func(opts MonitorOptions) (Monitor, error) {
		if opts.HeadAddress == "" || opts.ConfigPath == "" {
			return nil, fmt.Errorf("monitor for %s: head address and config path are required", opts.Cluster)
		}
		return &CommandMonitor{cfg: cfg, opts: opts}, nil
	}
}

func (m *CommandMonitor) Run(ctx context.Context) error {
	args := []string{
		m.cfg.AddressFlag + "=" + m.opts.HeadAddress,
		m.cfg.ConfigFlag + "=" + m.opts.ConfigPath,
	}
	if m.cfg.PasswordFlag != "" && m.cfg.Password != "" {
		args = append(args, m.cfg.PasswordFlag+"="+m.cfg.Password)
	}
	if m.cfg.ClusterInfoFlag != "" {
		args = append(args, m.cfg.ClusterInfoFlag)
	}
	spec := m.cfg.spec("monitor", m.cfg.MonitorCommand, args)
	err := process.Run(ctx, spec, m.cfg.grace(), m.opts.Stdout, m.opts.Stderr)
	switch {
	case ctx.Err() != nil:
		return nil
	case err == nil:
		return ErrMonitorExited
	default:
		return err
	}
}
