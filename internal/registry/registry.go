// Package registry caches one fully wired orchestrator instance per
// deployment key, constructing each at most once under concurrency.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/openmentor/mentorgate/internal/agent"
	"github.com/openmentor/mentorgate/internal/compose"
	"github.com/openmentor/mentorgate/internal/identity"
	"github.com/openmentor/mentorgate/internal/memory"
	"github.com/openmentor/mentorgate/internal/router"
	"github.com/openmentor/mentorgate/internal/store"
)

// Instance is one deployment's wired pipeline.
type Instance struct {
	Key        string
	Manager    agent.Manager
	Router     *router.Router
	Composer   *compose.Composer
	Memory     *memory.Writer
	Normalizer *identity.Normalizer
	Store      store.Store

	// Close releases instance-owned resources. May be nil.
	Close func()
}

// Factory builds an instance for a deployment key. Only factory errors
// propagate to callers; a failed build is never cached.
type Factory func(ctx context.Context, key string) (*Instance, error)

// Registry is the per-process instance cache.
type Registry struct {
	factory Factory
	group   singleflight.Group

	mu        sync.RWMutex
	instances map[string]*Instance
}

func New(factory Factory) *Registry {
	return &Registry{
		factory:   factory,
		instances: make(map[string]*Instance),
	}
}

// GetOrCreate returns the cached instance for key, constructing it if absent.
// Concurrent first calls for the same key share one construction.
func (r *Registry) GetOrCreate(ctx context.Context, key string) (*Instance, error) {
	r.mu.RLock()
	inst, ok := r.instances[key]
	r.mu.RUnlock()
	if ok {
		return inst, nil
	}

	v, err, _ := r.group.Do(key, func() (any, error) {
		// Re-check: a prior flight may have populated the cache.
		r.mu.RLock()
		inst, ok := r.instances[key]
		r.mu.RUnlock()
		if ok {
			return inst, nil
		}

		slog.Info("constructing bot instance", "deployment", key)
		inst, err := r.factory(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("construct instance %s: %w", key, err)
		}
		inst.Key = key

		r.mu.Lock()
		r.instances[key] = inst
		r.mu.Unlock()
		return inst, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Instance), nil
}

// Stop removes and closes the instance for key, if present.
func (r *Registry) Stop(key string) {
	r.mu.Lock()
	inst, ok := r.instances[key]
	delete(r.instances, key)
	r.mu.Unlock()

	if ok && inst.Close != nil {
		inst.Close()
	}
}

// StopAll closes every cached instance.
func (r *Registry) StopAll() {
	r.mu.Lock()
	instances := r.instances
	r.instances = make(map[string]*Instance)
	r.mu.Unlock()

	for key, inst := range instances {
		if inst.Close != nil {
			inst.Close()
		}
		slog.Debug("stopped bot instance", "deployment", key)
	}
}

// Len reports the number of cached instances.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.instances)
}
