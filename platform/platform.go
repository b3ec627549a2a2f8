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

// Package platform composes storage, compilation, execution and billing
// into the operations exposed to callers: deploy, list, call and delete
// modules, and read the credit balance.
//
// A call moves through these steps, and only a completed guest call is
// billed:
//
//	lookup module and function -> parse signature -> marshal arguments
//	-> read balance -> get or compile artifact -> execute -> debit
//
// Lookup and marshalling failures happen before any guest code runs.
package platform

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/go-logr/logr"
	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"

	"github.com/redpanda-data/wasm-functions/apierrors"
	"github.com/redpanda-data/wasm-functions/billing"
	"github.com/redpanda-data/wasm-functions/engine"
	"github.com/redpanda-data/wasm-functions/identity"
	"github.com/redpanda-data/wasm-functions/marshal"
	"github.com/redpanda-data/wasm-functions/metrics"
	"github.com/redpanda-data/wasm-functions/modcache"
	"github.com/redpanda-data/wasm-functions/signature"
	"github.com/redpanda-data/wasm-functions/store"
	"github.com/redpanda-data/wasm-functions/usage"
)

// Service implements the platform operations.
type Service struct {
	store   store.Store
	engine  *engine.Engine
	cache   *modcache.Cache
	ledger  *billing.Ledger
	usage   usage.Publisher
	metrics *metrics.Prometheus
	logger  logr.Logger
	now     func() time.Time
}

// Opt configures a Service.
type Opt func(*Service)

// WithUsagePublisher sets where usage records of billed calls go.
//
// Default: usage.Nop
func WithUsagePublisher(p usage.Publisher) Opt {
	return func(s *Service) { s.usage = p }
}

// WithMetrics sets the collectors updated by deploys and calls.
func WithMetrics(p *metrics.Prometheus) Opt {
	return func(s *Service) { s.metrics = p }
}

// WithLogger sets the logger.
func WithLogger(l logr.Logger) Opt {
	return func(s *Service) { s.logger = l }
}

// New returns a service. The cache must compile with e.
func New(s store.Store, e *engine.Engine, cache *modcache.Cache, opts ...Opt) *Service {
	svc := &Service{
		store:  s,
		engine: e,
		cache:  cache,
		usage:  usage.Nop{},
		logger: logr.Discard(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(svc)
	}
	svc.ledger = billing.NewLedger(s, svc.logger)
	return svc
}

// FunctionInfo is an exported function of a deployed module.
type FunctionInfo struct {
	Name      string `json:"function"`
	Signature string `json:"signature"`
}

// DeployResult describes a deployed module.
type DeployResult struct {
	ModuleID  int64          `json:"id"`
	Hash      string         `json:"mod_hash"`
	CID       string         `json:"cid"`
	Functions []FunctionInfo `json:"functions"`
}

// Deploy validates bytecode, records its exported functions and stores it
// for the caller. Identical bytecode can only be deployed once.
func (s *Service) Deploy(ctx context.Context, caller identity.Identity, bytecode []byte) (DeployResult, error) {
	if len(bytecode) == 0 {
		return DeployResult{}, apierrors.New(apierrors.InvalidWasmModule, "module is empty")
	}
	exports, err := s.engine.Inspect(ctx, bytecode)
	if err != nil {
		return DeployResult{}, err
	}

	hash := Hash(bytecode)
	id, err := ContentID(bytecode)
	if err != nil {
		return DeployResult{}, apierrors.Wrap(apierrors.UnknownServerError, err, "failed to compute content id")
	}

	fns := make([]store.Function, 0, len(exports))
	for _, ex := range exports {
		fns = append(fns, store.Function{Name: ex.Name, Signature: ex.Signature.String()})
	}
	m, stored, err := s.store.CreateModule(ctx, store.Module{
		OwnerID: caller.UserID,
		Hash:    hash,
		CID:     id,
		Code:    bytecode,
	}, fns)
	if errors.Is(err, store.ErrDuplicate) {
		return DeployResult{}, apierrors.Wrap(apierrors.DuplicateFunction, err, "module already deployed",
			apierrors.KV("hash", hash))
	}
	if err != nil {
		return DeployResult{}, apierrors.Wrap(apierrors.UnknownServerError, err, "failed to store module")
	}

	s.metrics.ModuleDeployed(len(bytecode))
	s.logger.Info("deployed module", "user_id", caller.UserID, "module_id", m.ID, "hash", hash, "functions", len(stored))
	return DeployResult{ModuleID: m.ID, Hash: hash, CID: id, Functions: functionInfos(stored)}, nil
}

// Hash returns the hex encoded sha256 digest that identifies a module.
func Hash(bytecode []byte) string {
	sum := sha256.Sum256(bytecode)
	return hex.EncodeToString(sum[:])
}

// ContentID returns the CIDv1 of bytecode with the raw codec and a
// sha2-256 multihash.
func ContentID(bytecode []byte) (string, error) {
	sum, err := multihash.Sum(bytecode, multihash.SHA2_256, -1)
	if err != nil {
		return "", err
	}
	return cid.NewCidV1(cid.Raw, sum).String(), nil
}

func functionInfos(fns []store.Function) []FunctionInfo {
	out := make([]FunctionInfo, 0, len(fns))
	for _, f := range fns {
		out = append(out, FunctionInfo{Name: f.Name, Signature: f.Signature})
	}
	return out
}

// ModuleInfo is a deployed module in a listing.
type ModuleInfo struct {
	ID        int64          `json:"id"`
	Hash      string         `json:"module_hash"`
	CID       string         `json:"cid"`
	Functions []FunctionInfo `json:"functions"`
}

// ModulesPage is one page of the caller's modules in id order.
type ModulesPage struct {
	Modules       []ModuleInfo `json:"modules"`
	NextPageToken string       `json:"next_page_token,omitempty"`
}

// List returns a page of the caller's modules with their functions.
func (s *Service) List(ctx context.Context, caller identity.Identity, page PageRequest) (ModulesPage, error) {
	from, err := page.startID()
	if err != nil {
		return ModulesPage{}, apierrors.Wrap(apierrors.InvalidPageToken, err, "invalid page token")
	}
	size := page.size()
	mods, err := s.store.ModulesByOwner(ctx, caller.UserID, from, size+1)
	if err != nil {
		return ModulesPage{}, apierrors.Wrap(apierrors.UnknownServerError, err, "failed to list modules")
	}

	out := ModulesPage{Modules: make([]ModuleInfo, 0, min(len(mods), size))}
	if len(mods) > size {
		next, err := encodeToken(pageKeyModuleID, strconv.FormatInt(mods[size].ID, 10))
		if err != nil {
			return ModulesPage{}, apierrors.Wrap(apierrors.UnknownServerError, err, "failed to encode page token")
		}
		out.NextPageToken = next
		mods = mods[:size]
	}
	for _, m := range mods {
		fns, err := s.store.Functions(ctx, m.ID)
		if err != nil {
			return ModulesPage{}, apierrors.Wrap(apierrors.UnknownServerError, err, "failed to list functions")
		}
		out.Modules = append(out.Modules, ModuleInfo{ID: m.ID, Hash: m.Hash, CID: m.CID, Functions: functionInfos(fns)})
	}
	return out, nil
}

// Call runs function of module moduleID with args and bills the caller for
// the credits it used. The result holds exactly as many values as the
// function declares.
func (s *Service) Call(ctx context.Context, caller identity.Identity, moduleID int64, function string, args []json.RawMessage) (_ []json.RawMessage, retErr error) {
	start := time.Now()
	defer func() {
		outcome := metrics.OutcomeSuccess
		if retErr != nil {
			outcome = metrics.OutcomeError
		}
		s.metrics.FunctionCalled(outcome, time.Since(start))
	}()
	modMeta := apierrors.KV("module_id", strconv.FormatInt(moduleID, 10))

	m, err := s.store.Module(ctx, caller.UserID, moduleID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apierrors.Wrap(apierrors.EndpointNotFound, err, "module not found", modMeta)
	}
	if err != nil {
		return nil, apierrors.Wrap(apierrors.UnknownServerError, err, "failed to load module", modMeta)
	}
	fn, err := s.store.Function(ctx, m.ID, function)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apierrors.Wrap(apierrors.FunctionNotFound, err, "function not found", modMeta,
			apierrors.KV("function", function))
	}
	if err != nil {
		return nil, apierrors.Wrap(apierrors.UnknownServerError, err, "failed to load function", modMeta)
	}
	sig, err := signature.Parse(fn.Signature)
	if err != nil {
		return nil, apierrors.Wrap(apierrors.InvalidSignature, err, "stored signature is invalid", modMeta,
			apierrors.KV("function", function), apierrors.KV("signature", fn.Signature))
	}
	values, err := marshal.ToNative(args, sig.Params)
	if err != nil {
		return nil, err
	}

	balance, err := s.ledger.Balance(ctx, caller.UserID)
	if err != nil {
		return nil, err
	}
	artifact, err := s.cache.GetOrCompile(ctx, m.ID, m.Code)
	if err != nil {
		return nil, err
	}
	out, err := s.engine.Execute(ctx, engine.Invocation{
		Artifact:  artifact,
		Function:  function,
		Signature: sig,
		Args:      values,
		Balance:   balance,
	})
	if err != nil {
		return nil, err
	}
	if err := s.ledger.Debit(ctx, caller.UserID, out.Used); err != nil {
		return nil, err
	}

	s.logger.V(1).Info("billed call", "user_id", caller.UserID, "module_id", m.ID, "function", function, "used", out.Used)
	rec := usage.Record{
		UserID:        caller.UserID,
		ModuleID:      m.ID,
		Function:      function,
		CreditsUsed:   out.Used,
		BalanceBefore: balance,
		Timestamp:     s.now().UTC(),
	}
	if err := s.usage.Publish(ctx, rec); err != nil {
		s.logger.Error(err, "failed to publish usage record", "user_id", caller.UserID, "module_id", m.ID)
	}
	return out.Results, nil
}

// Delete removes a module of the caller and drops its compiled artifact.
func (s *Service) Delete(ctx context.Context, caller identity.Identity, moduleID int64) error {
	modMeta := apierrors.KV("module_id", strconv.FormatInt(moduleID, 10))
	err := s.store.DeleteModule(ctx, caller.UserID, moduleID)
	if errors.Is(err, store.ErrNotFound) {
		return apierrors.Wrap(apierrors.NotFound, err, "module not found", modMeta)
	}
	if err != nil {
		return apierrors.Wrap(apierrors.UnknownServerError, err, "failed to delete module", modMeta)
	}
	if err := s.cache.Invalidate(ctx, moduleID); err != nil {
		s.logger.Error(err, "failed to release compiled module", "module_id", moduleID)
	}
	s.logger.Info("deleted module", "user_id", caller.UserID, "module_id", moduleID)
	return nil
}

// Credits returns the caller's balance.
func (s *Service) Credits(ctx context.Context, caller identity.Identity) (int64, error) {
	return s.ledger.Balance(ctx, caller.UserID)
}
