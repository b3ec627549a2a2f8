// Copyright 2026 Redpanda Data, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package modcache keeps compiled, metered modules keyed by module id.
//
// Lookups take a read lock only. Concurrent misses for the same id share a
// single compilation. Invalidate removes an entry and prevents compilations
// that started before it from re-inserting a stale artifact.
package modcache

import (
	"context"
	"strconv"
	"sync"

	"github.com/go-logr/logr"
	"github.com/hashicorp/go-multierror"
	"github.com/tetratelabs/wazero"
	"golang.org/x/sync/singleflight"

	"github.com/redpanda-data/wasm-functions/apierrors"
	"github.com/redpanda-data/wasm-functions/metrics"
)

// Artifact is the compiled form of a module.
type Artifact struct {
	ModuleID int64
	// Metered is the instrumented binary the module was compiled from.
	Metered  []byte
	Compiled wazero.CompiledModule
}

// Close releases the compiled module.
func (a *Artifact) Close(ctx context.Context) error {
	if a == nil || a.Compiled == nil {
		return nil
	}
	return a.Compiled.Close(ctx)
}

// CompileFunc turns raw bytecode into an artifact.
type CompileFunc func(ctx context.Context, moduleID int64, bytecode []byte) (*Artifact, error)

// Cache is a concurrent module id to artifact map.
type Cache struct {
	compile CompileFunc
	logger  logr.Logger
	metrics *metrics.Prometheus

	mu          sync.RWMutex
	entries     map[int64]*Artifact
	generations map[int64]uint64

	group singleflight.Group
}

// Option configures a Cache.
type Option func(*Cache)

// WithLogger sets the logger.
func WithLogger(l logr.Logger) Option {
	return func(c *Cache) { c.logger = l }
}

// WithMetrics records hits and misses.
func WithMetrics(p *metrics.Prometheus) Option {
	return func(c *Cache) { c.metrics = p }
}

// New returns an empty cache that compiles misses with compile.
func New(compile CompileFunc, opts ...Option) *Cache {
	c := &Cache{
		compile:     compile,
		logger:      logr.Discard(),
		entries:     make(map[int64]*Artifact),
		generations: make(map[int64]uint64),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// GetOrCompile returns the artifact for id, compiling bytecode on a miss.
// On a hit bytecode is not inspected. If id is invalidated while it is
// compiling, the artifact is closed and EndpointNotFound is returned.
func (c *Cache) GetOrCompile(ctx context.Context, id int64, bytecode []byte) (*Artifact, error) {
	c.mu.RLock()
	a, ok := c.entries[id]
	gen := c.generations[id]
	c.mu.RUnlock()
	c.metrics.CacheLookup(ok)
	if ok {
		return a, nil
	}

	key := strconv.FormatInt(id, 10) + "/" + strconv.FormatUint(gen, 10)
	v, err, _ := c.group.Do(key, func() (any, error) {
		return c.fill(ctx, id, gen, bytecode)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Artifact), nil
}

func (c *Cache) fill(ctx context.Context, id int64, gen uint64, bytecode []byte) (*Artifact, error) {
	c.mu.RLock()
	existing, ok := c.entries[id]
	c.mu.RUnlock()
	if ok {
		return existing, nil
	}

	a, err := c.compile(ctx, id, bytecode)
	if err != nil {
		if apierrors.KindOf(err) == apierrors.UnknownServerError {
			err = apierrors.Wrap(apierrors.InvalidWasmModule, err, "invalid wasm module",
				apierrors.KV("module_id", strconv.FormatInt(id, 10)))
		}
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generations[id] != gen {
		// Invalidated while compiling: the module is gone.
		c.logger.V(1).Info("discarding artifact compiled before invalidation", "module_id", id)
		if err := a.Close(ctx); err != nil {
			c.logger.Error(err, "failed to close discarded artifact", "module_id", id)
		}
		return nil, apierrors.New(apierrors.EndpointNotFound, "module was removed while compiling",
			apierrors.KV("module_id", strconv.FormatInt(id, 10)))
	}
	if existing, ok := c.entries[id]; ok {
		_ = a.Close(ctx)
		return existing, nil
	}
	c.entries[id] = a
	c.logger.V(1).Info("cached compiled module", "module_id", id, "metered_size", len(a.Metered))
	return a, nil
}

// Invalidate removes and closes the artifact cached for id, if any.
func (c *Cache) Invalidate(ctx context.Context, id int64) error {
	c.mu.Lock()
	a, ok := c.entries[id]
	delete(c.entries, id)
	c.generations[id]++
	c.mu.Unlock()
	if !ok {
		return nil
	}
	return a.Close(ctx)
}

// Len returns the number of cached artifacts.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Close closes and removes all cached artifacts.
func (c *Cache) Close(ctx context.Context) error {
	c.mu.Lock()
	entries := c.entries
	c.entries = make(map[int64]*Artifact)
	for id := range entries {
		c.generations[id]++
	}
	c.mu.Unlock()

	var result *multierror.Error
	for _, a := range entries {
		if err := a.Close(ctx); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}
