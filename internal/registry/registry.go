// Package registry tracks the supervisor of every cluster the operator manages.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/loykin/ray-operator/internal/cluster"
	"github.com/loykin/ray-operator/internal/metrics"
	"github.com/loykin/ray-operator/internal/supervisor"
)

// Registry maps cluster identifiers to supervisors. All methods are safe for
// concurrent use; the map itself is never exposed.
type Registry struct {
	mu      sync.RWMutex
	entries map[cluster.ID]*supervisor.ClusterSupervisor
}

func New() *Registry {
	return &Registry{entries: make(map[cluster.ID]*supervisor.ClusterSupervisor)}
}

// Get returns the supervisor of id, or nil when absent.
func (r *Registry) Get(id cluster.ID) *supervisor.ClusterSupervisor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.entries[id]
}

// Insert stores s under id, replacing any previous entry.
func (r *Registry) Insert(id cluster.ID, s *supervisor.ClusterSupervisor) {
	r.mu.Lock()
	r.entries[id] = s
	n := len(r.entries)
	r.mu.Unlock()
	metrics.SetRegistrySize(n)
}

// Remove deletes the entry of id. Removing an absent id is a no-op.
func (r *Registry) Remove(id cluster.ID) {
	r.mu.Lock()
	delete(r.entries, id)
	n := len(r.entries)
	r.mu.Unlock()
	metrics.SetRegistrySize(n)
}

// GetOrCreate returns the existing supervisor of id or stores the one built by
// create. create runs under the registry lock and must not call back into it.
func (r *Registry) GetOrCreate(id cluster.ID, create func() (*supervisor.ClusterSupervisor, error)) (*supervisor.ClusterSupervisor, bool, error) {
	r.mu.Lock()
	if s, ok := r.entries[id]; ok {
		r.mu.Unlock()
		return s, false, nil
	}
	s, err := create()
	if err != nil {
		r.mu.Unlock()
		return nil, false, err
	}
	r.entries[id] = s
	n := len(r.entries)
	r.mu.Unlock()
	metrics.SetRegistrySize(n)
	return s, true, nil
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// List returns the supervisors ordered by namespace, then name.
func (r *Registry) List() []*supervisor.ClusterSupervisor {
	r.mu.RLock()
	out := make([]*supervisor.ClusterSupervisor, 0, len(r.entries))
	for _, s := range r.entries {
		out = append(out, s)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].ID(), out[j].ID()
		if a.Namespace != b.Namespace {
			return a.Namespace < b.Namespace
		}
		return a.Name < b.Name
	})
	return out
}

// StopAll stops every supervised task concurrently, keeping registry entries
// and config files in place. When ctx ends first it returns an error naming
// every cluster whose task had not stopped yet; those stops continue in the
// background.
func (r *Registry) StopAll(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	var mu sync.Mutex
	var pending []error
	for _, s := range r.List() {
		g.Go(func() error {
			stopped := make(chan struct{})
			go func() {
				s.CleanUpSubprocess()
				close(stopped)
			}()
			select {
			case <-stopped:
				return nil
			case <-gctx.Done():
				mu.Lock()
				pending = append(pending, fmt.Errorf("stop %s: %w", s.ID(), ctx.Err()))
				mu.Unlock()
				return ctx.Err()
			}
		})
	}
	if err := g.Wait(); err != nil {
		mu.Lock()
		defer mu.Unlock()
		return errors.Join(pending...)
	}
	return nil
}
