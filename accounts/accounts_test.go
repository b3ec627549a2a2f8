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

package accounts_test

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-logr/logr/testr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/redpanda-data/wasm-functions/accounts"
	"github.com/redpanda-data/wasm-functions/apierrors"
	"github.com/redpanda-data/wasm-functions/identity"
	"github.com/redpanda-data/wasm-functions/metrics"
	"github.com/redpanda-data/wasm-functions/store"
	"github.com/redpanda-data/wasm-functions/store/memdb"
)

var cheap = accounts.Params{Memory: 64, Iterations: 1, Parallelism: 1, SaltLength: 8, KeyLength: 16}

const goodPassword = "Correct-Horse-9"

type invalidations struct {
	mu  sync.Mutex
	ids []int64
}

func (i *invalidations) Invalidate(_ context.Context, id int64) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.ids = append(i.ids, id)
	return nil
}

type fixture struct {
	svc      *accounts.Service
	store    store.Store
	verifier *identity.Verifier
	cache    *invalidations
	reg      *prometheus.Registry
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	s, err := memdb.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	key, err := identity.GenerateKey()
	require.NoError(t, err)
	reg := prometheus.NewRegistry()
	m, err := metrics.NewPrometheus(metrics.WithRegistry(reg))
	require.NoError(t, err)

	cache := &invalidations{}
	svc := accounts.New(s, identity.NewKeySigner(key, time.Hour), cache,
		accounts.WithParams(cheap),
		accounts.WithInitialCredits(250),
		accounts.WithMetrics(m),
		accounts.WithLogger(testr.New(t)))
	return fixture{svc: svc, store: s, verifier: identity.NewVerifier(&key.PublicKey), cache: cache, reg: reg}
}

func TestCheckPassword(t *testing.T) {
	tests := []struct {
		password string
		kind     *apierrors.Kind
	}{
		{goodPassword, nil},
		{"Sh0rt!", ptr(apierrors.PasswordTooShort)},
		{"alllowercase1!", ptr(apierrors.PasswordTooWeak)},
		{"ALLUPPERCASE1!", ptr(apierrors.PasswordTooWeak)},
		{"NoDigitsHere!!", ptr(apierrors.PasswordTooWeak)},
		{"Only1LettersAndDigits", nil},
		{"ÄÖÜäöü123456", nil},
	}
	for _, tt := range tests {
		t.Run(tt.password, func(t *testing.T) {
			err := accounts.CheckPassword(tt.password)
			if tt.kind == nil {
				require.NoError(t, err)
				return
			}
			assert.Equal(t, *tt.kind, apierrors.KindOf(err))
		})
	}
}

func ptr[T any](v T) *T { return &v }

func TestHashPassword(t *testing.T) {
	hash, err := accounts.HashPassword(goodPassword, cheap)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(hash, "$argon2id$v=19$m=64,t=1,p=1$"), hash)

	again, err := accounts.HashPassword(goodPassword, cheap)
	require.NoError(t, err)
	assert.NotEqual(t, hash, again, "salts differ")

	ok, err := accounts.VerifyPassword(goodPassword, hash)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = accounts.VerifyPassword("Wrong-Horse-99", hash)
	require.NoError(t, err)
	assert.False(t, ok)

	for _, bad := range []string{"", "plain", "$argon2i$v=19$m=64,t=1,p=1$c2FsdA$a2V5", "$argon2id$v=19$m=x$c2FsdA$a2V5"} {
		_, err := accounts.VerifyPassword(goodPassword, bad)
		assert.Error(t, err, bad)
	}
}

func TestRegisterAndLogin(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	u, err := f.svc.Register(ctx, "alice", goodPassword)
	require.NoError(t, err)
	w, err := f.store.Wallet(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(250), w.Balance)
	assert.NotContains(t, u.PasswordHash, goodPassword)
	assert.InDelta(t, 1, gaugeValue(t, f.reg, "active_users"), 0)

	_, err = f.svc.Register(ctx, "alice", goodPassword)
	assert.Equal(t, apierrors.DuplicateUsername, apierrors.KindOf(err))
	_, err = f.svc.Register(ctx, "bob", "short")
	assert.Equal(t, apierrors.PasswordTooShort, apierrors.KindOf(err))
	_, err = f.svc.Register(ctx, " ", goodPassword)
	assert.Equal(t, apierrors.InvalidCredentials, apierrors.KindOf(err))

	token, err := f.svc.Login(ctx, "alice", goodPassword)
	require.NoError(t, err)
	id, err := f.verifier.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, u.ID, id.UserID)
	assert.Equal(t, "alice", id.Username)

	_, err = f.svc.Login(ctx, "alice", "Wrong-Horse-99")
	assert.Equal(t, apierrors.InvalidCredentials, apierrors.KindOf(err))
	_, err = f.svc.Login(ctx, "nobody", goodPassword)
	assert.Equal(t, apierrors.InvalidCredentials, apierrors.KindOf(err))
}

func TestDeleteAccount(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	u, err := f.svc.Register(ctx, "alice", goodPassword)
	require.NoError(t, err)
	m1, _, err := f.store.CreateModule(ctx, store.Module{OwnerID: u.ID, Hash: "h1"}, nil)
	require.NoError(t, err)
	m2, _, err := f.store.CreateModule(ctx, store.Module{OwnerID: u.ID, Hash: "h2"}, nil)
	require.NoError(t, err)

	require.NoError(t, f.svc.DeleteAccount(ctx, u.ID))
	assert.ElementsMatch(t, []int64{m1.ID, m2.ID}, f.cache.ids)
	assert.InDelta(t, 0, gaugeValue(t, f.reg, "active_users"), 0)

	_, err = f.svc.Login(ctx, "alice", goodPassword)
	assert.Equal(t, apierrors.InvalidCredentials, apierrors.KindOf(err))

	err = f.svc.DeleteAccount(ctx, u.ID)
	assert.Equal(t, apierrors.NotFound, apierrors.KindOf(err))
}

func gaugeValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() == name {
			return mf.GetMetric()[0].GetGauge().GetValue()
		}
	}
	t.Fatalf("metric %s not found", name)
	return 0
}
