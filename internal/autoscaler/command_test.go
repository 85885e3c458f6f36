package autoscaler

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/loykin/ray-operator/internal/cluster"
	"github.com/loykin/ray-operator/internal/clusterconfig"
)

func requireUnix(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("tests require sh on Unix-like systems")
	}
}

func TestCommandProvisionerCreateOrUpdate(t *testing.T) {
	requireUnix(t)
	path := filepath.Join(t.TempDir(), "c.yaml")
	if err := clusterconfig.Write(path, clusterconfig.Document{"cluster_name": "c"}); err != nil {
		t.Fatal(err)
	}
	cfg := DefaultCommandConfig()
	cfg.UpCommand = "echo up"
	p := NewCommandProvisioner(cfg)

	var out bytes.Buffer
	doc, err := p.CreateOrUpdate(context.Background(), path, UpdateOptions{
		NoRestart: true, NoMonitorOnHead: true, NoConfigCache: true, Yes: true,
		Streams: Streams{Stdout: &out},
	})
	if err != nil {
		t.Fatalf("CreateOrUpdate: %v", err)
	}
	if doc.ClusterName() != "c" {
		t.Fatalf("config not re-read: %v", doc)
	}
	want := "up " + path + " --no-restart --no-config-cache --no-monitor-on-head -y"
	if strings.TrimSpace(out.String()) != want {
		t.Fatalf("argv = %q, want %q", out.String(), want)
	}
}

func TestCommandProvisionerRestartOmitsNoRestart(t *testing.T) {
	requireUnix(t)
	path := filepath.Join(t.TempDir(), "c.yaml")
	_ = clusterconfig.Write(path, clusterconfig.Document{"cluster_name": "c"})
	cfg := DefaultCommandConfig()
	cfg.UpCommand = "echo"
	var out bytes.Buffer
	if _, err := NewCommandProvisioner(cfg).CreateOrUpdate(context.Background(), path, UpdateOptions{Streams: Streams{Stdout: &out}}); err != nil {
		t.Fatal(err)
	}
	if strings.Contains(out.String(), "--no-restart") {
		t.Fatalf("unexpected --no-restart in %q", out.String())
	}
}

func TestCommandProvisionerFailure(t *testing.T) {
	requireUnix(t)
	cfg := DefaultCommandConfig()
	cfg.UpCommand = "sh -c 'exit 4'"
	_, err := NewCommandProvisioner(cfg).CreateOrUpdate(context.Background(), "/nonexistent.yaml", UpdateOptions{})
	if err == nil {
		t.Fatal("expected failure")
	}
}

func TestCommandProvisionerHeadIP(t *testing.T) {
	requireUnix(t)
	cfg := DefaultCommandConfig()
	cfg.HeadIPCommand = "echo 10.0.0.5"
	var out bytes.Buffer
	ip, err := NewCommandProvisioner(cfg).HeadIP(context.Background(), "/p.yaml", Streams{Stdout: &out})
	if err != nil {
		t.Fatalf("HeadIP: %v", err)
	}
	if ip != "10.0.0.5" {
		t.Fatalf("ip = %q", ip)
	}
	if !strings.Contains(out.String(), "10.0.0.5") {
		t.Fatal("stdout not forwarded")
	}

	cfg.HeadIPCommand = "true"
	if _, err := NewCommandProvisioner(cfg).HeadIP(context.Background(), "", Streams{}); err == nil {
		t.Fatal("expected error for empty output")
	}
}

func longRunningScript(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "monitor.sh")
	if err := os.WriteFile(path, []byte("#!/bin/sh\nexec sleep 30\n"), 0o700); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestCommandMonitor(t *testing.T) {
	requireUnix(t)
	id := cluster.ID{Name: "c", Namespace: "ns"}

	cfg := DefaultCommandConfig()
	cfg.MonitorCommand = "echo"
	var out bytes.Buffer
	m, err := NewCommandMonitorFactory(cfg)(MonitorOptions{Cluster: id, HeadAddress: "1.2.3.4:6379", ConfigPath: "/p.yaml", Streams: Streams{Stdout: &out}})
	if err != nil {
		t.Fatal(err)
	}
	if err := m.Run(context.Background()); !errors.Is(err, ErrMonitorExited) {
		t.Fatalf("expected ErrMonitorExited, got %v", err)
	}
	want := "--redis-address=1.2.3.4:6379 --autoscaling-config=/p.yaml --redis-password=" + DefaultRedisPassword + " --prefix-cluster-info"
	if got := strings.TrimSpace(out.String()); got != want {
		t.Fatalf("argv = %q, want %q", got, want)
	}

	noAuth := cfg
	noAuth.Password = ""
	noAuth.ClusterInfoFlag = ""
	out.Reset()
	m, _ = NewCommandMonitorFactory(noAuth)(MonitorOptions{Cluster: id, HeadAddress: "h:1", ConfigPath: "/p", Streams: Streams{Stdout: &out}})
	_ = m.Run(context.Background())
	if got := strings.TrimSpace(out.String()); got != "--redis-address=h:1 --autoscaling-config=/p" {
		t.Fatalf("argv without auth = %q", got)
	}

	cfg.MonitorCommand = "sh -c 'exit 2'"
	m, _ = NewCommandMonitorFactory(cfg)(MonitorOptions{Cluster: id, HeadAddress: "h:1", ConfigPath: "/p"})
	if err := m.Run(context.Background()); err == nil || errors.Is(err, ErrMonitorExited) {
		t.Fatalf("expected exit error, got %v", err)
	}

	// the monitor flags are passed as arguments; the script ignores them
	cfg.MonitorCommand = longRunningScript(t)
	m, _ = NewCommandMonitorFactory(cfg)(MonitorOptions{Cluster: id, HeadAddress: "h:1", ConfigPath: "/p"})
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	start := time.Now()
	if err := m.Run(ctx); err != nil {
		t.Fatalf("cancelled monitor must return nil, got %v", err)
	}
	if time.Since(start) < 150*time.Millisecond {
		t.Fatal("monitor returned before cancellation")
	}

	if _, err := NewCommandMonitorFactory(cfg)(MonitorOptions{Cluster: id}); err == nil {
		t.Fatal("expected error for missing head address")
	}
}
