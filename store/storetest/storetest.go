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

// Package storetest is a conformance suite for store.Store backends.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/redpanda-data/wasm-functions/store"
)

// Factory returns an empty store. The suite closes it.
type Factory func(t *testing.T) store.Store

// Run runs every conformance test against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s store.Store)
	}{
		{"Users", testUsers},
		{"ConditionalDebit", testConditionalDebit},
		{"ConcurrentDebits", testConcurrentDebits},
		{"Modules", testModules},
		{"DuplicateModule", testDuplicateModule},
		{"ModulesByOwner", testModulesByOwner},
		{"DeleteModule", testDeleteModule},
		{"DeleteUser", testDeleteUser},
		{"Closed", testClosed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newStore(t)
			t.Cleanup(func() { _ = s.Close() })
			tt.fn(t, s)
		})
	}
}

func testUsers(t *testing.T, s store.Store) {
	ctx := context.Background()

	alice, err := s.CreateUser(ctx, "alice", "hash-a", 100)
	require.NoError(t, err)
	assert.Positive(t, alice.ID)
	assert.Equal(t, "alice", alice.Username)
	assert.False(t, alice.CreatedAt.IsZero())

	bob, err := s.CreateUser(ctx, "bob", "hash-b", 5)
	require.NoError(t, err)
	assert.NotEqual(t, alice.ID, bob.ID)

	_, err = s.CreateUser(ctx, "alice", "other", 1)
	require.ErrorIs(t, err, store.ErrDuplicate)

	got, err := s.UserByName(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, alice.ID, got.ID)
	assert.Equal(t, "hash-a", got.PasswordHash)

	_, err = s.UserByName(ctx, "carol")
	require.ErrorIs(t, err, store.ErrNotFound)

	w, err := s.Wallet(ctx, bob.ID)
	require.NoError(t, err)
	assert.Equal(t, store.Wallet{UserID: bob.ID, Balance: 5}, w)

	_, err = s.Wallet(ctx, bob.ID+1000)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func testConditionalDebit(t *testing.T, s store.Store) {
	ctx := context.Background()
	u, err := s.CreateUser(ctx, "alice", "h", 10)
	require.NoError(t, err)

	tests := []struct {
		name    string
		userID  int64
		amount  int64
		debited bool
		balance int64
	}{
		{"partial", u.ID, 4, true, 6},
		{"zero", u.ID, 0, true, 6},
		{"over balance", u.ID, 7, false, 6},
		{"negative", u.ID, -1, false, 6},
		{"exact", u.ID, 6, true, 0},
		{"empty wallet", u.ID, 1, false, 0},
		{"unknown user", u.ID + 1000, 1, false, 0},
	}
	for _, tt := range tests {
		ok, err := s.ConditionalDebit(ctx, tt.userID, tt.amount)
		require.NoError(t, err, tt.name)
		assert.Equal(t, tt.debited, ok, tt.name)

		w, err := s.Wallet(ctx, u.ID)
		require.NoError(t, err)
		assert.Equal(t, tt.balance, w.Balance, tt.name)
	}
}

func testConcurrentDebits(t *testing.T, s store.Store) {
	ctx := context.Background()
	const (
		initial = 1000
		workers = 32
		perCall = 7
		calls   = 10
	)
	u, err := s.CreateUser(ctx, "alice", "h", initial)
	require.NoError(t, err)

	var succeeded atomic.Int64
	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range calls {
				ok, err := s.ConditionalDebit(ctx, u.ID, perCall)
				if !assert.NoError(t, err) {
					return
				}
				if ok {
					succeeded.Add(1)
				}
			}
		}()
	}
	wg.Wait()

	w, err := s.Wallet(ctx, u.ID)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, w.Balance, int64(0))
	assert.Equal(t, int64(initial)-succeeded.Load()*perCall, w.Balance)
	// 320 attempts of 7 credits exceed the balance, so the wallet drains.
	assert.Equal(t, int64(initial/perCall), succeeded.Load())
}

func module(owner int64, hash string) store.Module {
	return store.Module{OwnerID: owner, Hash: hash, CID: "cid-" + hash, Code: []byte("code-" + hash)}
}

func testModules(t *testing.T, s store.Store) {
	ctx := context.Background()
	u, err := s.CreateUser(ctx, "alice", "h", 1)
	require.NoError(t, err)

	m, fns, err := s.CreateModule(ctx, module(u.ID, "aa"), []store.Function{
		{Name: "sub", Signature: "i32,i32->i32"},
		{Name: "add", Signature: "i32,i32->i32"},
		{Name: "answer", Signature: "->i32"},
	})
	require.NoError(t, err)
	assert.Positive(t, m.ID)
	assert.False(t, m.CreatedAt.IsZero())
	require.Len(t, fns, 3)
	for _, f := range fns {
		assert.Equal(t, m.ID, f.ModuleID)
		assert.Positive(t, f.ID)
	}

	got, err := s.Module(ctx, u.ID, m.ID)
	require.NoError(t, err)
	assert.Equal(t, m.Hash, got.Hash)
	assert.Equal(t, m.Code, got.Code)
	assert.Equal(t, m.CID, got.CID)

	_, err = s.Module(ctx, u.ID+1, m.ID)
	require.ErrorIs(t, err, store.ErrNotFound, "other owners must not see the module")

	listed, err := s.Functions(ctx, m.ID)
	require.NoError(t, err)
	var names []string
	for _, f := range listed {
		names = append(names, f.Name)
	}
	assert.Equal(t, []string{"add", "answer", "sub"}, names)

	f, err := s.Function(ctx, m.ID, "answer")
	require.NoError(t, err)
	assert.Equal(t, "->i32", f.Signature)

	_, err = s.Function(ctx, m.ID, "div")
	require.ErrorIs(t, err, store.ErrNotFound)

	empty, err := s.Functions(ctx, m.ID+1000)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func testDuplicateModule(t *testing.T, s store.Store) {
	ctx := context.Background()
	alice, err := s.CreateUser(ctx, "alice", "h", 1)
	require.NoError(t, err)
	bob, err := s.CreateUser(ctx, "bob", "h", 1)
	require.NoError(t, err)

	_, _, err = s.CreateModule(ctx, module(alice.ID, "aa"), nil)
	require.NoError(t, err)

	_, _, err = s.CreateModule(ctx, module(bob.ID, "aa"), nil)
	require.ErrorIs(t, err, store.ErrDuplicate, "hashes are unique across owners")

	_, _, err = s.CreateModule(ctx, module(bob.ID, "bb"), []store.Function{
		{Name: "f", Signature: "->"},
		{Name: "f", Signature: "->"},
	})
	require.ErrorIs(t, err, store.ErrDuplicate)

	mods, err := s.ModulesByOwner(ctx, bob.ID, 0, 0)
	require.NoError(t, err)
	assert.Empty(t, mods, "failed create must not leave a module behind")
}

func testModulesByOwner(t *testing.T, s store.Store) {
	ctx := context.Background()
	alice, err := s.CreateUser(ctx, "alice", "h", 1)
	require.NoError(t, err)
	bob, err := s.CreateUser(ctx, "bob", "h", 1)
	require.NoError(t, err)

	var ids []int64
	for i := range 5 {
		m, _, err := s.CreateModule(ctx, module(alice.ID, fmt.Sprintf("a%d", i)), nil)
		require.NoError(t, err)
		ids = append(ids, m.ID)
		_, _, err = s.CreateModule(ctx, module(bob.ID, fmt.Sprintf("b%d", i)), nil)
		require.NoError(t, err)
	}

	idsOf := func(mods []store.Module) []int64 {
		out := []int64{}
		for _, m := range mods {
			assert.Equal(t, alice.ID, m.OwnerID)
			out = append(out, m.ID)
		}
		return out
	}

	all, err := s.ModulesByOwner(ctx, alice.ID, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, ids, idsOf(all))

	page, err := s.ModulesByOwner(ctx, alice.ID, 0, 2)
	require.NoError(t, err)
	assert.Equal(t, ids[:2], idsOf(page))

	page, err = s.ModulesByOwner(ctx, alice.ID, ids[2], 2)
	require.NoError(t, err)
	assert.Equal(t, ids[2:4], idsOf(page))

	page, err = s.ModulesByOwner(ctx, alice.ID, ids[4]+1, 2)
	require.NoError(t, err)
	assert.Empty(t, page)
}

func testDeleteModule(t *testing.T, s store.Store) {
	ctx := context.Background()
	u, err := s.CreateUser(ctx, "alice", "h", 1)
	require.NoError(t, err)
	m, _, err := s.CreateModule(ctx, module(u.ID, "aa"), []store.Function{{Name: "f", Signature: "->"}})
	require.NoError(t, err)

	require.ErrorIs(t, s.DeleteModule(ctx, u.ID+1, m.ID), store.ErrNotFound)
	require.NoError(t, s.DeleteModule(ctx, u.ID, m.ID))
	require.ErrorIs(t, s.DeleteModule(ctx, u.ID, m.ID), store.ErrNotFound)

	_, err = s.Module(ctx, u.ID, m.ID)
	require.ErrorIs(t, err, store.ErrNotFound)
	_, err = s.Function(ctx, m.ID, "f")
	require.ErrorIs(t, err, store.ErrNotFound)

	again, _, err := s.CreateModule(ctx, module(u.ID, "aa"), nil)
	require.NoError(t, err, "hash is free again after delete")
	assert.Greater(t, again.ID, m.ID, "module ids are never reused")
}

func testDeleteUser(t *testing.T, s store.Store) {
	ctx := context.Background()
	u, err := s.CreateUser(ctx, "alice", "h", 1)
	require.NoError(t, err)
	other, err := s.CreateUser(ctx, "bob", "h", 1)
	require.NoError(t, err)

	m1, _, err := s.CreateModule(ctx, module(u.ID, "a1"), []store.Function{{Name: "f", Signature: "->"}})
	require.NoError(t, err)
	m2, _, err := s.CreateModule(ctx, module(u.ID, "a2"), nil)
	require.NoError(t, err)
	kept, _, err := s.CreateModule(ctx, module(other.ID, "b1"), nil)
	require.NoError(t, err)

	removed, err := s.DeleteUser(ctx, u.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{m1.ID, m2.ID}, removed)

	_, err = s.UserByName(ctx, "alice")
	require.ErrorIs(t, err, store.ErrNotFound)
	_, err = s.Wallet(ctx, u.ID)
	require.ErrorIs(t, err, store.ErrNotFound)
	_, err = s.Function(ctx, m1.ID, "f")
	require.ErrorIs(t, err, store.ErrNotFound)
	_, err = s.Module(ctx, other.ID, kept.ID)
	require.NoError(t, err)

	_, err = s.DeleteUser(ctx, u.ID)
	require.ErrorIs(t, err, store.ErrNotFound)

	again, err := s.CreateUser(ctx, "alice", "h", 1)
	require.NoError(t, err, "username is free again")
	assert.Greater(t, again.ID, other.ID, "user ids are never reused")
}

func testClosed(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.Close())

	_, err := s.CreateUser(ctx, "alice", "h", 1)
	require.ErrorIs(t, err, store.ErrClosed)
	_, err = s.ConditionalDebit(ctx, 1, 1)
	require.ErrorIs(t, err, store.ErrClosed)
}
