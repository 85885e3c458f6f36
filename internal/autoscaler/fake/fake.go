// Package fake provides in-memory provisioner and monitor implementations for tests.
package fake

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/loykin/ray-operator/internal/autoscaler"
	"github.com/loykin/ray-operator/internal/clusterconfig"
)

// DefaultHeadIP is returned by Provisioner.HeadIP unless HeadAddr is set.
const DefaultHeadIP = "10.0.0.1"

// Provisioner records create-or-update requests and returns the config read
// back from disk, merged with Enrich.
type Provisioner struct {
	HeadAddr string
	Enrich   map[string]any

	mu    sync.Mutex
	calls []autoscaler.UpdateOptions
	err   error
	panic bool
}

func (p *Provisioner) CreateOrUpdate(ctx context.Context, configPath string, opts autoscaler.UpdateOptions) (clusterconfig.Document, error) {
	p.mu.Lock()
	p.calls = append(p.calls, opts)
	err, doPanic := p.err, p.panic
	p.mu.Unlock()
	if doPanic {
		panic("provisioner exploded")
	}
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	doc, err := clusterconfig.Read(configPath)
	if err != nil {
		return nil, err
	}
	for k, v := range p.Enrich {
		doc[k] = v
	}
	return doc, nil
}

func (p *Provisioner) HeadIP(context.Context, string, autoscaler.Streams) (string, error) {
	if p.HeadAddr != "" {
		return p.HeadAddr, nil
	}
	return DefaultHeadIP, nil
}

// FailWith makes subsequent CreateOrUpdate calls return err (nil clears).
func (p *Provisioner) FailWith(err error) {
	p.mu.Lock()
	p.err = err
	p.mu.Unlock()
}

// PanicOnCall makes subsequent CreateOrUpdate calls panic.
func (p *Provisioner) PanicOnCall(v bool) {
	p.mu.Lock()
	p.panic = v
	p.mu.Unlock()
}

// Calls returns the recorded requests in order.
func (p *Provisioner) Calls() []autoscaler.UpdateOptions {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]autoscaler.UpdateOptions(nil), p.calls...)
}

// Monitors builds monitors that block until cancelled or failed through
// Fail. It tracks how many run concurrently.
type Monitors struct {
	// StopDelay delays a monitor's return after cancellation.
	StopDelay time.Duration

	mu      sync.Mutex
	live    int
	maxLive int
	started int
	opts    []autoscaler.MonitorOptions
	fail    chan error
	entered chan struct{}
}

func NewMonitors() *Monitors {
	return &Monitors{fail: make(chan error), entered: make(chan struct{}, 64)}
}

// Factory returns the MonitorFactory to hand to a supervisor.
func (m *Monitors) Factory() autoscaler.MonitorFactory {
	return func(opts autoscaler.MonitorOptions) (autoscaler.Monitor, error) {
		m.mu.Lock()
		m.opts = append(m.opts, opts)
		m.mu.Unlock()
		return &monitor{parent: m}, nil
	}
}

// Fail makes the running monitor return err. It reports false when no
// monitor picked up the failure within a second.
func (m *Monitors) Fail(err error) bool {
	if err == nil {
		err = errors.New("monitor failed")
	}
	select {
	case m.fail <- err:
		return true
	case <-time.After(time.Second):
		return false
	}
}

// WaitStarted blocks until n monitors have started in total.
func (m *Monitors) WaitStarted(n int, timeout time.Duration) bool {
	deadline := time.After(timeout)
	for {
		if m.Started() >= n {
			return true
		}
		select {
		case <-m.entered:
		case <-deadline:
			return m.Started() >= n
		}
	}
}

func (m *Monitors) Live() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.live
}

func (m *Monitors) MaxLive() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.maxLive
}

func (m *Monitors) Started() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.started
}

// Options returns the options of every monitor built so far.
func (m *Monitors) Options() []autoscaler.MonitorOptions {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]autoscaler.MonitorOptions(nil), m.opts...)
}

type monitor struct {
	parent *Monitors
}

func (mon *monitor) Run(ctx context.Context) error {
	m := mon.parent
	m.mu.Lock()
	m.live++
	m.started++
	if m.live > m.maxLive {
		m.maxLive = m.live
	}
	m.mu.Unlock()
	select {
	case m.entered <- struct{}{}:
	default:
	}
	defer func() {
		m.mu.Lock()
		m.live--
		m.mu.Unlock()
	}()

	select {
	case <-ctx.Done():
		if m.StopDelay > 0 {
			time.Sleep(m.StopDelay)
		}
		return nil
	case err := <-m.fail:
		return err
	}
}
