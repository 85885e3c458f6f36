// Package autoscaler defines the collaborators a cluster supervisor drives:
// the provisioner that brings up or updates a cluster's head node and the
// monitor that runs the autoscaling loop for it.
package autoscaler

import (
	"context"
	"errors"
	"io"

	"github.com/loykin/ray-operator/internal/cluster"
	"github.com/loykin/ray-operator/internal/clusterconfig"
)

// ErrMonitorExited is returned when a monitor stops without being asked to.
var ErrMonitorExited = errors.New("autoscaling monitor exited unexpectedly")

// Streams receives the output of external commands. Nil writers discard.
type Streams struct {
	Stdout io.Writer
	Stderr io.Writer
}

// UpdateOptions mirror the flags of a cluster create-or-update request.
type UpdateOptions struct {
	NoRestart       bool // keep Ray processes running on existing nodes
	NoMonitorOnHead bool // the operator runs the monitor, not the head node
	NoConfigCache   bool
	Yes             bool // skip interactive confirmation
	Streams
}

// Provisioner creates or updates clusters from config files.
type Provisioner interface {
	// CreateOrUpdate provisions the head node described by the config at
	// configPath and returns the resulting, possibly enriched, config.
	CreateOrUpdate(ctx context.Context, configPath string, opts UpdateOptions) (clusterconfig.Document, error)
	// HeadIP returns the address of the cluster's head node.
	HeadIP(ctx context.Context, configPath string, streams Streams) (string, error)
}

// MonitorOptions configure one monitor run.
type MonitorOptions struct {
	Cluster     cluster.ID
	HeadAddress string // host:port of the head node
	ConfigPath  string
	Streams
}

// Monitor runs the autoscaling loop. Run blocks until ctx is cancelled, in
// which case it returns nil, or until the loop fails.
type Monitor interface {
	Run(ctx context.Context) error
}

// MonitorFactory builds a monitor for one run.
type MonitorFactory func(MonitorOptions) (Monitor, error)
