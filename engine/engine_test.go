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

package engine_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/go-logr/logr/testr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tetratelabs/wazero/api"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/redpanda-data/wasm-functions/apierrors"
	"github.com/redpanda-data/wasm-functions/engine"
	"github.com/redpanda-data/wasm-functions/marshal"
	"github.com/redpanda-data/wasm-functions/modcache"
	"github.com/redpanda-data/wasm-functions/signature"
	"github.com/redpanda-data/wasm-functions/wasmtest"
)

func newEngine(t *testing.T, opts ...engine.Opt) *engine.Engine {
	t.Helper()
	ctx := context.Background()
	opts = append([]engine.Opt{engine.WithLogger(testr.New(t))}, opts...)
	e, err := engine.New(ctx, opts...)
	require.NoError(t, err, "failed to create engine")
	t.Cleanup(func() { require.NoError(t, e.Close(ctx)) })
	return e
}

func invocation(t *testing.T, a *modcache.Artifact, fn, sig string, balance int64, args ...string) engine.Invocation {
	t.Helper()
	s, err := signature.Parse(sig)
	require.NoError(t, err)
	raw := make([]json.RawMessage, len(args))
	for i, a := range args {
		raw[i] = json.RawMessage(a)
	}
	vals, err := marshal.ToNative(raw, s.Params)
	require.NoError(t, err)
	return engine.Invocation{Artifact: a, Function: fn, Signature: s, Args: vals, Balance: balance}
}

func TestInspect(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)

	exports, err := e.Inspect(ctx, wasmtest.Arith())
	require.NoError(t, err)
	got := map[string]string{}
	var names []string
	for _, ex := range exports {
		got[ex.Name] = ex.Signature.String()
		names = append(names, ex.Name)
	}
	assert.Equal(t, []string{"add", "answer", "mul", "sub"}, names)
	assert.Equal(t, map[string]string{
		"add":    "i32,i32->i32",
		"answer": "->i32",
		"mul":    "f32,f32->f32",
		"sub":    "i32,i32->i32",
	}, got)

	tests := []struct {
		name     string
		bytecode []byte
		kind     apierrors.Kind
	}{
		{"garbage", []byte("definitely not wasm"), apierrors.InvalidWasmModule},
		{"i64 export", wasmtest.Wide(), apierrors.UnimplementedWasmType},
		{"simd", wasmtest.Module{Funcs: []wasmtest.Func{{Name: "v", Body: []byte{0xfd, 0x0c}}}}.Bytes(), apierrors.InvalidWasmModule},
		{"imported global", wasmtest.Module{
			Imports: []wasmtest.ImportedGlobal{{Module: "env", Name: "base", Type: api.ValueTypeI32}},
			Funcs:   []wasmtest.Func{{Name: "noop"}},
		}.Bytes(), apierrors.InvalidWasmModule},
		{"start function", wasmtest.WithStart(), apierrors.InvalidWasmModule},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.Inspect(ctx, tt.bytecode)
			require.Error(t, err)
			assert.Equal(t, tt.kind, apierrors.KindOf(err), "got %v", err)
		})
	}
}

func TestExecute(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)

	arith, err := e.Compile(ctx, 1, wasmtest.Arith())
	require.NoError(t, err)
	spin, err := e.Compile(ctx, 2, wasmtest.Spin())
	require.NoError(t, err)
	trap, err := e.Compile(ctx, 3, wasmtest.Trap())
	require.NoError(t, err)

	tests := []struct {
		name    string
		inv     engine.Invocation
		want    []json.RawMessage
		used    int64
		errKind *apierrors.Kind
	}{
		{
			name: "add",
			inv:  invocation(t, arith, "add", "i32,i32->i32", 1000, "2", "3"),
			want: []json.RawMessage{json.RawMessage("5")},
			used: wasmtest.AddCost,
		},
		{
			name: "exact budget",
			inv:  invocation(t, arith, "add", "i32,i32->i32", wasmtest.AddCost, "2", "3"),
			want: []json.RawMessage{json.RawMessage("5")},
			used: wasmtest.AddCost,
		},
		{
			name: "float",
			inv:  invocation(t, arith, "mul", "f32,f32->f32", 1000, "2.5", "3.0"),
			want: []json.RawMessage{json.RawMessage("7.5")},
			used: wasmtest.AddCost,
		},
		{
			name: "results truncated to signature",
			inv:  invocation(t, arith, "answer", "->", 1000),
			want: []json.RawMessage{},
			used: 2,
		},
		{
			name:    "zero balance",
			inv:     invocation(t, arith, "add", "i32,i32->i32", 0, "2", "3"),
			errKind: ptr(apierrors.InsufficientCredits),
		},
		{
			name:    "negative balance",
			inv:     invocation(t, arith, "add", "i32,i32->i32", -5, "2", "3"),
			errKind: ptr(apierrors.InsufficientCredits),
		},
		{
			name:    "infinite loop",
			inv:     invocation(t, spin, "spin", "->", 50_000),
			errKind: ptr(apierrors.InsufficientCredits),
		},
		{
			name:    "trap",
			inv:     invocation(t, trap, "boom", "->i32", 1000),
			errKind: ptr(apierrors.WasmInstanceError),
		},
		{
			name:    "missing export",
			inv:     invocation(t, arith, "div", "i32,i32->i32", 1000, "1", "1"),
			errKind: ptr(apierrors.FunctionNotFound),
		},
		{
			name:    "signature disagrees with export",
			inv:     invocation(t, arith, "add", "i32->i32", 1000, "1"),
			errKind: ptr(apierrors.WasmInstanceError),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := e.Execute(ctx, tt.inv)
			if tt.errKind != nil {
				require.Error(t, err)
				assert.Nil(t, out)
				assert.Equal(t, *tt.errKind, apierrors.KindOf(err), "got %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, out.Results)
			assert.Equal(t, tt.used, out.Used)
		})
	}
}

func ptr[T any](v T) *T { return &v }

func TestStartFunctionRunsWithoutBudget(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)

	_, err := e.Inspect(ctx, wasmtest.WithStart())
	assert.Equal(t, apierrors.InvalidWasmModule, apierrors.KindOf(err))

	// Artifacts compiled directly still refuse to run the start function.
	a, err := e.Compile(ctx, 1, wasmtest.WithStart())
	require.NoError(t, err)
	_, err = e.Execute(ctx, invocation(t, a, "answer", "->i32", 1000))
	assert.Equal(t, apierrors.WasmInstanceError, apierrors.KindOf(err))
}

func TestCachedArtifactMatchesFreshCompile(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)
	cache := modcache.New(e.Compile)
	defer cache.Close(ctx)

	fresh, err := e.Compile(ctx, 9, wasmtest.Counter())
	require.NoError(t, err)
	defer fresh.Close(ctx)

	cold, err := cache.GetOrCompile(ctx, 9, wasmtest.Counter())
	require.NoError(t, err)
	warm, err := cache.GetOrCompile(ctx, 9, nil)
	require.NoError(t, err)
	require.Same(t, cold, warm)

	var outcomes []*engine.Outcome
	for _, a := range []*modcache.Artifact{fresh, cold, warm} {
		out, err := e.Execute(ctx, invocation(t, a, "count", "i32->i32", 10_000, "25"))
		require.NoError(t, err)
		outcomes = append(outcomes, out)
	}
	assert.Equal(t, []json.RawMessage{json.RawMessage("325")}, outcomes[0].Results)
	assert.Equal(t, outcomes[0], outcomes[1])
	assert.Equal(t, outcomes[0], outcomes[2])
}

func TestConcurrentExecutions(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)
	a, err := e.Compile(ctx, 1, wasmtest.Arith())
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			inv := invocation(t, a, "sub", "i32,i32->i32", 100, "100", "1")
			if i%2 == 0 {
				inv.Balance = 1
			}
			out, err := e.Execute(ctx, inv)
			if i%2 == 0 {
				assert.Equal(t, apierrors.InsufficientCredits, apierrors.KindOf(err))
				return
			}
			if assert.NoError(t, err) {
				assert.Equal(t, []json.RawMessage{json.RawMessage("99")}, out.Results)
			}
		}()
	}
	wg.Wait()
}

func TestExecuteSpan(t *testing.T) {
	ctx := context.Background()
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	e := newEngine(t, engine.WithTracerProvider(tp))

	a, err := e.Compile(ctx, 5, wasmtest.Arith())
	require.NoError(t, err)
	_, err = e.Execute(ctx, invocation(t, a, "add", "i32,i32->i32", 100, "1", "2"))
	require.NoError(t, err)

	spans := sr.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "engine.Execute", spans[0].Name())
	attrs := map[string]any{}
	for _, kv := range spans[0].Attributes() {
		attrs[string(kv.Key)] = kv.Value.AsInterface()
	}
	assert.Equal(t, int64(5), attrs["module.id"])
	assert.Equal(t, "add", attrs["function"])
	assert.Equal(t, int64(wasmtest.AddCost), attrs["credits.used"])
}
