// Package supervisor owns the autoscaling work of a single cluster: its config
// file, the supervised task that provisions the head node and then runs the
// monitor, and the teardown of both.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"sync"
	"time"

	rayv1 "github.com/loykin/ray-operator/api/v1"
	"github.com/loykin/ray-operator/internal/autoscaler"
	"github.com/loykin/ray-operator/internal/cluster"
	"github.com/loykin/ray-operator/internal/clusterconfig"
	"github.com/loykin/ray-operator/internal/logger"
	"github.com/loykin/ray-operator/internal/metrics"
	"github.com/loykin/ray-operator/internal/task"
)

var (
	// ErrLaunchFailed wraps failures of the head provisioning step observed by CreateOrUpdate.
	ErrLaunchFailed = errors.New("autoscaling launch failed")
	// ErrStopped is reported when a launch is cancelled before the head step finished.
	ErrStopped = errors.New("autoscaling task stopped")
)

// StatusQueue accepts phase updates for asynchronous delivery.
type StatusQueue interface {
	Enqueue(id cluster.ID, phase rayv1.Phase)
}

// Deps are the collaborators shared by all supervisors.
type Deps struct {
	Paths       clusterconfig.Paths
	Provisioner autoscaler.Provisioner
	NewMonitor  autoscaler.MonitorFactory
	Status      StatusQueue
	Logger      *slog.Logger
	LogFiles    logger.FileConfig
	// StopWarnInterval is how often a warning is logged while waiting for a
	// cancelled task to exit. Zero disables the warnings.
	StopWarnInterval time.Duration
}

// ClusterSupervisor runs at most one supervised task at a time for its cluster.
// Operations on one supervisor are expected to be serialized by the caller;
// Snapshot and Alive may be called concurrently.
type ClusterSupervisor struct {
	id         cluster.ID
	deps       Deps
	configPath string
	scope      *logger.Scope
	log        *slog.Logger

	mu         sync.Mutex
	config     clusterconfig.Document
	task       *task.Task
	launches   int
	lastExit   error
	lastLaunch time.Time
}

// New creates the supervisor of id with an initial config. Nothing is written
// or launched until CreateOrUpdate.
func New(id cluster.ID, config clusterconfig.Document, deps Deps) (*ClusterSupervisor, error) {
	if deps.Provisioner == nil || deps.NewMonitor == nil || deps.Status == nil {
		return nil, errors.New("supervisor: provisioner, monitor factory and status queue are required")
	}
	path, err := deps.Paths.ConfigPath(id)
	if err != nil {
		return nil, err
	}
	scope := logger.NewScope(deps.Logger, deps.LogFiles, id.Namespace+"/"+id.Name, "cluster", id.String())
	return &ClusterSupervisor{
		id:         id,
		deps:       deps,
		configPath: path,
		scope:      scope,
		log:        scope.Logger(),
		config:     config,
	}, nil
}

func (s *ClusterSupervisor) ID() cluster.ID     { return s.id }
func (s *ClusterSupervisor) ConfigPath() string { return s.configPath }

// Config returns a copy of the in-memory config.
func (s *ClusterSupervisor) Config() clusterconfig.Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.config.Clone()
}

// SetConfig replaces the in-memory config. The file is rewritten on the next launch.
func (s *ClusterSupervisor) SetConfig(doc clusterconfig.Document) {
	s.mu.Lock()
	s.config = doc
	s.mu.Unlock()
}

// WriteConfig persists the in-memory config to the config path.
func (s *ClusterSupervisor) WriteConfig() error {
	return clusterconfig.Write(s.configPath, s.Config())
}

// DeleteConfig removes the config file. Failures are logged, never returned.
func (s *ClusterSupervisor) DeleteConfig() {
	err := clusterconfig.Remove(s.configPath)
	switch {
	case err == nil:
		s.log.Info("deleted cluster config", "path", s.configPath)
	case errors.Is(err, fs.ErrNotExist):
		s.log.Warn("cluster config already deleted", "path", s.configPath)
	default:
		s.log.Warn("failed to delete cluster config", "path", s.configPath, "error", err)
	}
}

// CreateOrUpdate writes the config and launches the supervised task that
// provisions the head node, enqueues Running and then runs the monitor. It
// returns once the head step has finished: nil on success, an error wrapping ErrLaunchFailed
// when provisioning failed (after AutoscalingException was enqueued), or
// ctx.Err() when ctx ends first. The task keeps running in the background.
func (s *ClusterSupervisor) CreateOrUpdate(ctx context.Context, restart bool) error {
	if err := s.WriteConfig(); err != nil {
		return err
	}
	headDone := make(chan error, 1)
	t := s.DoInSubprocess(func(tctx context.Context) error {
		return s.run(tctx, restart, headDone)
	})
	select {
	case err := <-headDone:
		return launchResult(err)
	case <-t.Done():
		select {
		case err := <-headDone:
			return launchResult(err)
		default:
			return launchResult(t.Err())
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

func launchResult(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrStopped) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrLaunchFailed, err)
}

// run is the entry point of the supervised task.
func (s *ClusterSupervisor) run(ctx context.Context, restart bool, headDone chan<- error) (err error) {
	log := s.log.With("run", task.RunID(ctx))
	stage := "head"
	headReported := false
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in %s stage: %v", stage, r)
		}
		switch {
		case ctx.Err() != nil:
			log.Info("autoscaling task stopped", "stage", stage)
			err = nil
		case err != nil:
			log.Error("autoscaling failed", "stage", stage, "error", err)
			metrics.IncFailure(stage)
			s.deps.Status.Enqueue(s.id, rayv1.PhaseAutoscalingException)
		}
		if !headReported {
			if err == nil {
				headDone <- ErrStopped
			} else {
				headDone <- err
			}
		}
	}()

	if err := s.StartHead(ctx, restart); err != nil {
		return fmt.Errorf("start head: %w", err)
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	// Running is enqueued by the task itself so that it always precedes a
	// monitor failure reported from the same goroutine.
	s.deps.Status.Enqueue(s.id, rayv1.PhaseRunning)
	headReported = true
	headDone <- nil

	stage = "monitor"
	if err := s.StartMonitor(ctx); err != nil {
		return fmt.Errorf("monitor: %w", err)
	}
	return nil
}

// StartHead provisions or updates the head node. The provisioner's resulting
// config replaces the in-memory config and is written back to disk.
func (s *ClusterSupervisor) StartHead(ctx context.Context, restart bool) error {
	if err := s.WriteConfig(); err != nil {
		return err
	}
	stdout, stderr := s.scope.ProcessWriters("provision")
	s.log.Info("provisioning cluster head", "restart", restart, "config", s.configPath)
	doc, err := s.deps.Provisioner.CreateOrUpdate(ctx, s.configPath, autoscaler.UpdateOptions{
		NoRestart:       !restart,
		NoMonitorOnHead: true,
		NoConfigCache:   true,
		Yes:             true,
		Streams:         autoscaler.Streams{Stdout: stdout, Stderr: stderr},
	})
	if err != nil {
		return err
	}
	if doc != nil {
		s.SetConfig(doc)
	}
	return s.WriteConfig()
}

// StartMonitor resolves the head address and runs the monitor until ctx is
// cancelled. A monitor returning on its own is a failure.
func (s *ClusterSupervisor) StartMonitor(ctx context.Context) error {
	stdout, stderr := s.scope.ProcessWriters("monitor")
	streams := autoscaler.Streams{Stdout: stdout, Stderr: stderr}
	ip, err := s.deps.Provisioner.HeadIP(ctx, s.configPath, streams)
	if err != nil {
		return fmt.Errorf("head ip: %w", err)
	}
	addr := net.JoinHostPort(ip, clusterconfig.InferHeadPort(s.Config()))
	mon, err := s.deps.NewMonitor(autoscaler.MonitorOptions{
		Cluster:     s.id,
		HeadAddress: addr,
		ConfigPath:  s.configPath,
		Streams:     streams,
	})
	if err != nil {
		return err
	}
	s.log.Info("starting autoscaling monitor", "address", addr)
	err = mon.Run(ctx)
	if err == nil && ctx.Err() == nil {
		return autoscaler.ErrMonitorExited
	}
	return err
}

// DoInSubprocess stops any running task and launches entry as the new one.
func (s *ClusterSupervisor) DoInSubprocess(entry task.EntryPoint) *task.Task {
	s.CleanUpSubprocess()
	t := task.Launch(context.Background(), s.id.String(), entry)
	s.mu.Lock()
	s.task = t
	s.launches++
	s.lastLaunch = t.StartedAt()
	s.mu.Unlock()
	metrics.IncLaunch(s.id.Namespace, s.id.Name)
	s.log.Debug("launched autoscaling task", "run", t.ID())
	go s.observeExit(t)
	return t
}

func (s *ClusterSupervisor) observeExit(t *task.Task) {
	<-t.Done()
	err := t.Err()
	result := "completed"
	switch {
	case t.Cancelled():
		result = "stopped"
	case err != nil:
		result = "failed"
	}
	s.mu.Lock()
	if s.task == t {
		s.lastExit = err
	}
	s.mu.Unlock()
	metrics.IncExit(s.id.Namespace, s.id.Name, result)
}

// CleanUpSubprocess cancels the running task, if any, and blocks until it has
// exited. It is a no-op when no task is alive.
func (s *ClusterSupervisor) CleanUpSubprocess() {
	s.mu.Lock()
	t := s.task
	s.mu.Unlock()
	if t == nil || !t.Alive() {
		return
	}
	start := time.Now()
	t.Cancel()
	t.Join(s.deps.StopWarnInterval, func(waited time.Duration) {
		s.log.Warn("still waiting for autoscaling task to exit", "run", t.ID(), "waited", waited.Round(time.Second))
	})
	metrics.ObserveStopWait(time.Since(start).Seconds())
}

// CleanUp stops the task, releases the cluster's log files and deletes the config file.
func (s *ClusterSupervisor) CleanUp() {
	s.CleanUpSubprocess()
	if err := s.scope.Close(); err != nil {
		s.log.Warn("failed to close cluster log files", "error", err)
	}
	s.DeleteConfig()
}

// Alive reports whether a supervised task is running.
func (s *ClusterSupervisor) Alive() bool {
	s.mu.Lock()
	t := s.task
	s.mu.Unlock()
	return t != nil && t.Alive()
}

// Snapshot is a read-only view of a supervisor.
type Snapshot struct {
	Cluster    cluster.ID `json:"cluster"`
	ConfigPath string     `json:"config_path"`
	Alive      bool       `json:"alive"`
	RunID      string     `json:"run_id,omitempty"`
	Launches   int        `json:"launches"`
	LastLaunch time.Time  `json:"last_launch,omitempty"`
	LastError  string     `json:"last_error,omitempty"`
}

func (s *ClusterSupervisor) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{
		Cluster:    s.id,
		ConfigPath: s.configPath,
		Launches:   s.launches,
		LastLaunch: s.lastLaunch,
	}
	if s.task != nil {
		snap.Alive = s.task.Alive()
		snap.RunID = s.task.ID()
	}
	if s.lastExit != nil {
		snap.LastError = s.lastExit.Error()
	}
	return snap
}
