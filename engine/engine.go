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

// Package engine runs exported functions of tenant modules under a credit
// budget.
//
// One wazero runtime is shared by all calls. Modules are compiled once from
// their metered form (see package metering) and every call gets a fresh,
// anonymous instance that is closed when the call returns. A call moves
// through these states:
//
//	Ready -> Instantiated -> Running -> Completed | Trapped | Exhausted
//
// Exhausted calls report InsufficientCredits, other traps report
// WasmInstanceError and completed calls report the credits they used.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"strconv"
	"strings"

	"github.com/go-logr/logr"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/redpanda-data/wasm-functions/apierrors"
	"github.com/redpanda-data/wasm-functions/marshal"
	"github.com/redpanda-data/wasm-functions/metering"
	"github.com/redpanda-data/wasm-functions/modcache"
	"github.com/redpanda-data/wasm-functions/signature"
)

const tracerName = "github.com/redpanda-data/wasm-functions/engine"

// Engine compiles and executes metered modules.
type Engine struct {
	rt     wazero.Runtime
	cache  wazero.CompilationCache
	cost   metering.CostFunc
	logger logr.Logger
	tracer trace.Tracer
}

type engineCfg struct {
	memoryPages    uint32
	cacheDir       string
	cost           metering.CostFunc
	logger         logr.Logger
	tracerProvider trace.TracerProvider
}

// Opt modifies engine configuration.
type Opt func(*engineCfg)

// WithMemoryLimitPages caps the linear memory of every instance, in 64KiB
// pages.
//
// Default: 65536 pages (4GiB)
func WithMemoryLimitPages(pages uint32) Opt {
	return func(c *engineCfg) {
		if pages > 0 {
			c.memoryPages = pages
		}
	}
}

// WithCompilationCacheDir persists compiled machine code in dir so that
// restarts do not recompile every module.
func WithCompilationCacheDir(dir string) Opt {
	return func(c *engineCfg) { c.cacheDir = dir }
}

// WithCostFunc sets the metering policy.
//
// Default: metering.Uniform
func WithCostFunc(fn metering.CostFunc) Opt {
	return func(c *engineCfg) { c.cost = fn }
}

// WithLogger sets the logger.
func WithLogger(l logr.Logger) Opt {
	return func(c *engineCfg) { c.logger = l }
}

// WithTracerProvider sets the tracer provider. The global provider is used
// otherwise.
func WithTracerProvider(tp trace.TracerProvider) Opt {
	return func(c *engineCfg) { c.tracerProvider = tp }
}

// New creates an engine.
func New(ctx context.Context, opts ...Opt) (*Engine, error) {
	cfg := &engineCfg{
		memoryPages: 65536,
		cost:        metering.Uniform,
		logger:      logr.Discard(),
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.tracerProvider == nil {
		cfg.tracerProvider = otel.GetTracerProvider()
	}

	var cache wazero.CompilationCache
	if cfg.cacheDir != "" {
		var err error
		if cache, err = wazero.NewCompilationCacheWithDir(cfg.cacheDir); err != nil {
			return nil, err
		}
	} else {
		cache = wazero.NewCompilationCache()
	}
	rtCfg := wazero.NewRuntimeConfig().
		WithCompilationCache(cache).
		WithCoreFeatures(api.CoreFeaturesV2).
		WithMemoryLimitPages(cfg.memoryPages)

	return &Engine{
		rt:     wazero.NewRuntimeWithConfig(ctx, rtCfg),
		cache:  cache,
		cost:   cfg.cost,
		logger: cfg.logger,
		tracer: cfg.tracerProvider.Tracer(tracerName),
	}, nil
}

// Close releases the runtime and every module compiled by it.
func (e *Engine) Close(ctx context.Context) error {
	return errors.Join(e.rt.Close(ctx), e.cache.Close(ctx))
}

// Compile instruments bytecode and compiles the result. It satisfies
// modcache.CompileFunc.
func (e *Engine) Compile(ctx context.Context, moduleID int64, bytecode []byte) (*modcache.Artifact, error) {
	metered, err := metering.Instrument(bytecode, e.cost)
	if err != nil {
		return nil, invalidModule(err)
	}
	compiled, err := e.rt.CompileModule(ctx, metered)
	if err != nil {
		return nil, invalidModule(err)
	}
	e.logger.V(1).Info("compiled module", "module_id", moduleID, "size", len(bytecode), "metered_size", len(metered))
	return &modcache.Artifact{ModuleID: moduleID, Metered: metered, Compiled: compiled}, nil
}

// Export is an exported function and its signature.
type Export struct {
	Name      string
	Signature signature.Signature
}

// Inspect validates bytecode for deployment and lists its exported
// functions sorted by name. Modules must be instrumentable, must not import
// anything, must not have a start function and may only use i32 and f32 in
// exported signatures.
func (e *Engine) Inspect(ctx context.Context, bytecode []byte) ([]Export, error) {
	metered, err := metering.Instrument(bytecode, e.cost)
	if err != nil {
		return nil, invalidModule(err)
	}
	layout, err := metering.Describe(bytecode)
	if err != nil {
		return nil, invalidModule(err)
	}
	if n := layout.Imports.Total(); n > 0 {
		return nil, apierrors.New(apierrors.InvalidWasmModule, "module imports are not supported",
			apierrors.KV("imports", strconv.FormatUint(uint64(n), 10)))
	}
	if layout.HasStart {
		return nil, apierrors.New(apierrors.InvalidWasmModule, "start functions are not supported")
	}
	compiled, err := e.rt.CompileModule(ctx, metered)
	if err != nil {
		return nil, invalidModule(err)
	}
	defer compiled.Close(ctx)

	defs := compiled.ExportedFunctions()
	exports := make([]Export, 0, len(defs))
	for name, def := range defs {
		sig, err := signature.FromValueTypes(def.ParamTypes(), def.ResultTypes())
		if err != nil {
			var apiErr *apierrors.Error
			if errors.As(err, &apiErr) {
				if apiErr.Metadata == nil {
					apiErr.Metadata = map[string]string{}
				}
				apiErr.Metadata["function"] = name
			}
			return nil, err
		}
		exports = append(exports, Export{Name: name, Signature: sig})
	}
	slices.SortFunc(exports, func(a, b Export) int { return strings.Compare(a.Name, b.Name) })
	return exports, nil
}

// Invocation is a call that is ready to run.
type Invocation struct {
	Artifact  *modcache.Artifact
	Function  string
	Signature signature.Signature
	Args      []marshal.Value
	// Balance is the caller's credit balance, used as the budget.
	Balance int64
}

// Outcome is the result of a completed call.
type Outcome struct {
	Results []json.RawMessage
	Used    int64
}

// Execute runs inv. Only completed calls return an Outcome.
func (e *Engine) Execute(ctx context.Context, inv Invocation) (_ *Outcome, retErr error) {
	ctx, span := e.tracer.Start(ctx, "engine.Execute", trace.WithAttributes(
		attribute.Int64("module.id", inv.Artifact.ModuleID),
		attribute.String("function", inv.Function),
		attribute.Int64("balance", inv.Balance),
	))
	defer func() {
		if retErr != nil {
			span.RecordError(retErr)
			span.SetStatus(codes.Error, apierrors.KindOf(retErr).String())
		}
		span.End()
	}()

	budget := uint64(max(inv.Balance, 0))
	fnMeta := apierrors.KV("function", inv.Function)

	mod, err := e.rt.InstantiateModule(ctx, inv.Artifact.Compiled,
		wazero.NewModuleConfig().WithName("").WithStartFunctions())
	if err != nil {
		return nil, apierrors.Wrap(apierrors.WasmInstanceError, err, "failed to instantiate module", fnMeta)
	}
	defer mod.Close(ctx)

	fn := mod.ExportedFunction(inv.Function)
	if fn == nil {
		return nil, apierrors.New(apierrors.FunctionNotFound, "function not found", fnMeta)
	}
	if err := metering.SetBudget(mod, budget); err != nil {
		return nil, apierrors.Wrap(apierrors.WasmInstanceError, err, "failed to set budget", fnMeta)
	}

	raw, callErr := fn.Call(ctx, marshal.Encode(inv.Args)...)

	remaining, exhausted, err := metering.Budget(mod)
	if err != nil {
		return nil, apierrors.Wrap(apierrors.WasmInstanceError, err, "failed to read budget", fnMeta)
	}
	if exhausted {
		return nil, apierrors.New(apierrors.InsufficientCredits, "insufficient credits", fnMeta,
			apierrors.KV("balance", strconv.FormatInt(inv.Balance, 10)))
	}
	if callErr != nil {
		return nil, apierrors.Wrap(apierrors.WasmInstanceError, callErr, "function trapped", fnMeta)
	}

	used := int64(budget - remaining)
	span.SetAttributes(attribute.Int64("credits.used", used))

	if n := len(inv.Signature.Returns); len(raw) > n {
		raw = raw[:n]
	}
	results, err := marshal.ToJSON(raw, inv.Signature.Returns)
	if err != nil {
		return nil, err
	}
	return &Outcome{Results: results, Used: used}, nil
}

func invalidModule(err error) error {
	return apierrors.Wrap(apierrors.InvalidWasmModule, err, "invalid wasm module")
}
