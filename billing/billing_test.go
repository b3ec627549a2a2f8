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

package billing_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/go-logr/logr/testr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/redpanda-data/wasm-functions/apierrors"
	"github.com/redpanda-data/wasm-functions/billing"
	"github.com/redpanda-data/wasm-functions/store"
	"github.com/redpanda-data/wasm-functions/store/memdb"
)

func newLedger(t *testing.T, credits int64) (*billing.Ledger, store.Store, int64) {
	t.Helper()
	s, err := memdb.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	u, err := s.CreateUser(context.Background(), "alice", "h", credits)
	require.NoError(t, err)
	return billing.NewLedger(s, testr.New(t)), s, u.ID
}

func TestDebit(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		credits int64
		used    int64
		kind    *apierrors.Kind
		balance int64
	}{
		{name: "covered", credits: 10, used: 4, balance: 6},
		{name: "exact", credits: 4, used: 4, balance: 0},
		{name: "zero used", credits: 0, used: 0, balance: 0},
		{name: "not covered", credits: 3, used: 4, kind: ptr(apierrors.InsufficientCredits), balance: 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, _, id := newLedger(t, tt.credits)
			err := l.Debit(ctx, id, tt.used)
			if tt.kind != nil {
				assert.Equal(t, *tt.kind, apierrors.KindOf(err))
			} else {
				require.NoError(t, err)
			}
			bal, err := l.Balance(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, tt.balance, bal)
		})
	}
}

func ptr[T any](v T) *T { return &v }

func TestDebitStorageFailure(t *testing.T) {
	ctx := context.Background()
	l, s, id := newLedger(t, 10)
	require.NoError(t, s.Close())

	err := l.Debit(ctx, id, 1)
	assert.Equal(t, apierrors.UnknownServerError, apierrors.KindOf(err))
	assert.ErrorIs(t, err, store.ErrClosed)
}

func TestBalanceUnknownUser(t *testing.T) {
	l, _, id := newLedger(t, 10)
	_, err := l.Balance(context.Background(), id+1)
	assert.Equal(t, apierrors.NotFound, apierrors.KindOf(err))
}

func TestRacingDebitsNeverOverdraw(t *testing.T) {
	ctx := context.Background()
	l, _, id := newLedger(t, 100)

	var ok, rejected atomic.Int64
	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := l.Debit(ctx, id, 3)
			switch apierrors.KindOf(err) {
			case apierrors.InsufficientCredits:
				rejected.Add(1)
			default:
				if assert.NoError(t, err) {
					ok.Add(1)
				}
			}
		}()
	}
	wg.Wait()

	bal, err := l.Balance(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(33), ok.Load())
	assert.Equal(t, int64(17), rejected.Load())
	assert.Equal(t, int64(1), bal)
}
