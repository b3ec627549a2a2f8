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

// Package billing debits credits used by function calls from user wallets.
package billing

import (
	"context"
	"errors"
	"strconv"

	"github.com/go-logr/logr"

	"github.com/redpanda-data/wasm-functions/apierrors"
	"github.com/redpanda-data/wasm-functions/store"
)

// Ledger charges wallets through the store's conditional debit.
type Ledger struct {
	store  store.Store
	logger logr.Logger
}

// NewLedger returns a ledger over s.
func NewLedger(s store.Store, logger logr.Logger) *Ledger {
	return &Ledger{store: s, logger: logger.WithName("billing")}
}

// Debit subtracts used credits from the wallet of userID in a single
// conditional update. It fails with InsufficientCredits when the balance no
// longer covers used, which happens when concurrent calls drained the
// wallet after this call started. Lost races are not retried and the
// compute already performed is not refunded.
func (l *Ledger) Debit(ctx context.Context, userID, used int64) error {
	meta := []apierrors.KeyVal{
		apierrors.KV("user_id", strconv.FormatInt(userID, 10)),
		apierrors.KV("used", strconv.FormatInt(used, 10)),
	}
	ok, err := l.store.ConditionalDebit(ctx, userID, used)
	if err != nil {
		return apierrors.Wrap(apierrors.UnknownServerError, err, "failed to debit wallet", meta...)
	}
	if !ok {
		l.logger.V(1).Info("debit rejected", "user_id", userID, "used", used)
		return apierrors.New(apierrors.InsufficientCredits, "insufficient credits", meta...)
	}
	return nil
}

// Balance returns the current balance of userID.
func (l *Ledger) Balance(ctx context.Context, userID int64) (int64, error) {
	w, err := l.store.Wallet(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return 0, apierrors.Wrap(apierrors.NotFound, err, "wallet not found")
	}
	if err != nil {
		return 0, apierrors.Wrap(apierrors.UnknownServerError, err, "failed to read wallet")
	}
	return w.Balance, nil
}
