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

package modcache_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/go-logr/logr/testr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tetratelabs/wazero"
	"go.uber.org/goleak"

	"github.com/redpanda-data/wasm-functions/apierrors"
	"github.com/redpanda-data/wasm-functions/metrics"
	"github.com/redpanda-data/wasm-functions/modcache"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeCompiled struct {
	wazero.CompiledModule
	closeErr error
	closed   atomic.Bool
}

func (f *fakeCompiled) Close(context.Context) error {
	f.closed.Store(true)
	return f.closeErr
}

type compiler struct {
	calls   atomic.Int32
	release chan struct{}
	started chan struct{}
	err     error
	last    atomic.Pointer[modcache.Artifact]
}

func (c *compiler) compile(_ context.Context, id int64, bytecode []byte) (*modcache.Artifact, error) {
	c.calls.Add(1)
	if c.started != nil {
		c.started <- struct{}{}
	}
	if c.release != nil {
		<-c.release
	}
	if c.err != nil {
		return nil, c.err
	}
	a := &modcache.Artifact{ModuleID: id, Metered: bytecode, Compiled: &fakeCompiled{}}
	c.last.Store(a)
	return a, nil
}

func TestGetOrCompile(t *testing.T) {
	ctx := context.Background()
	reg := prometheus.NewRegistry()
	p, err := metrics.NewPrometheus(metrics.WithRegistry(reg))
	require.NoError(t, err)

	c := &compiler{}
	cache := modcache.New(c.compile, modcache.WithLogger(testr.New(t)), modcache.WithMetrics(p))
	defer cache.Close(ctx)

	a1, err := cache.GetOrCompile(ctx, 1, []byte("one"))
	require.NoError(t, err)
	a2, err := cache.GetOrCompile(ctx, 1, []byte("ignored on hit"))
	require.NoError(t, err)

	assert.Same(t, a1, a2)
	assert.Equal(t, []byte("one"), a2.Metered)
	assert.EqualValues(t, 1, c.calls.Load())
	assert.Equal(t, 1, cache.Len())

	assert.InDelta(t, 1, lookups(t, reg, "hit"), 0)
	assert.InDelta(t, 1, lookups(t, reg, "miss"), 0)
}

func lookups(t *testing.T, reg *prometheus.Registry, result string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() != "module_cache_lookups_total" {
			continue
		}
		for _, m := range f.GetMetric() {
			for _, l := range m.GetLabel() {
				if l.GetName() == "result" && l.GetValue() == result {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func TestSingleFlight(t *testing.T) {
	ctx := context.Background()
	c := &compiler{release: make(chan struct{}), started: make(chan struct{}, 16)}
	cache := modcache.New(c.compile)
	defer cache.Close(ctx)

	const callers = 16
	var wg sync.WaitGroup
	results := make([]*modcache.Artifact, callers)
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a, err := cache.GetOrCompile(ctx, 7, []byte("seven"))
			assert.NoError(t, err)
			results[i] = a
		}()
	}
	<-c.started
	close(c.release)
	wg.Wait()

	for _, a := range results {
		require.NotNil(t, a)
		assert.Same(t, results[0], a)
	}
	// Callers that missed before the shared compile finished join it. Late
	// callers hit the cache. Either way only one compile runs.
	assert.EqualValues(t, 1, c.calls.Load())
}

func TestInvalidateDuringCompile(t *testing.T) {
	ctx := context.Background()
	c := &compiler{release: make(chan struct{}), started: make(chan struct{}, 1)}
	cache := modcache.New(c.compile)
	defer cache.Close(ctx)

	done := make(chan error)
	go func() {
		a, err := cache.GetOrCompile(ctx, 3, []byte("stale"))
		assert.Nil(t, a)
		done <- err
	}()
	<-c.started
	require.NoError(t, cache.Invalidate(ctx, 3))
	close(c.release)

	err := <-done
	assert.Equal(t, apierrors.EndpointNotFound, apierrors.KindOf(err), "got %v", err)
	assert.Equal(t, 0, cache.Len(), "artifact compiled before invalidation must not be cached")
	stale := c.last.Load()
	require.NotNil(t, stale)
	assert.True(t, stale.Compiled.(*fakeCompiled).closed.Load(), "discarded artifact must be closed")

	c.release = nil
	c.started = nil
	fresh, err := cache.GetOrCompile(ctx, 3, []byte("fresh"))
	require.NoError(t, err)
	assert.Equal(t, []byte("fresh"), fresh.Metered)
	assert.False(t, fresh.Compiled.(*fakeCompiled).closed.Load())
	assert.Equal(t, 1, cache.Len())
}

func TestInvalidateClosesArtifact(t *testing.T) {
	ctx := context.Background()
	c := &compiler{}
	cache := modcache.New(c.compile)

	a, err := cache.GetOrCompile(ctx, 1, []byte("x"))
	require.NoError(t, err)
	require.NoError(t, cache.Invalidate(ctx, 1))
	assert.True(t, a.Compiled.(*fakeCompiled).closed.Load())
	assert.Equal(t, 0, cache.Len())
	require.NoError(t, cache.Invalidate(ctx, 1), "invalidating a missing entry is a no-op")

	_, err = cache.GetOrCompile(ctx, 1, []byte("x"))
	require.NoError(t, err)
	assert.EqualValues(t, 2, c.calls.Load())
	require.NoError(t, cache.Close(ctx))
}

func TestCompileErrors(t *testing.T) {
	ctx := context.Background()
	c := &compiler{err: errors.New("bad magic")}
	cache := modcache.New(c.compile)
	defer cache.Close(ctx)

	_, err := cache.GetOrCompile(ctx, 1, []byte("x"))
	require.Error(t, err)
	assert.Equal(t, apierrors.InvalidWasmModule, apierrors.KindOf(err))
	assert.Equal(t, 0, cache.Len())

	c.err = apierrors.New(apierrors.UnimplementedWasmType, "i64")
	_, err = cache.GetOrCompile(ctx, 2, []byte("x"))
	assert.Equal(t, apierrors.UnimplementedWasmType, apierrors.KindOf(err), "classified errors pass through")
}

func TestCloseJoinsErrors(t *testing.T) {
	ctx := context.Background()
	failing := func(_ context.Context, id int64, _ []byte) (*modcache.Artifact, error) {
		return &modcache.Artifact{ModuleID: id, Compiled: &fakeCompiled{closeErr: errors.New("close failed")}}, nil
	}
	cache := modcache.New(failing)
	for id := range int64(3) {
		_, err := cache.GetOrCompile(ctx, id, nil)
		require.NoError(t, err)
	}
	err := cache.Close(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "3 errors occurred")
	assert.Equal(t, 0, cache.Len())
}
