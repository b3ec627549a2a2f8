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

// Package store defines the persistence contract of the function platform.
//
// Backends live in subpackages: store/memdb keeps everything in memory and
// store/bolt persists to a single file. Both are validated by the shared
// suite in store/storetest.
package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when no row matches.
	ErrNotFound = errors.New("not found")
	// ErrDuplicate is returned when a unique constraint would be violated.
	ErrDuplicate = errors.New("duplicate")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("store is closed")
)

// User is a registered account. Ids are never reused.
type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"password_hash"`
	CreatedAt    time.Time `json:"created_at"`
}

// Wallet holds the credit balance of a user.
type Wallet struct {
	UserID  int64 `json:"user_id"`
	Balance int64 `json:"balance"`
}

// Module is deployed bytecode. Modules are immutable once created.
type Module struct {
	ID      int64  `json:"id"`
	OwnerID int64  `json:"owner_id"`
	Hash    string `json:"hash"`
	CID     string `json:"cid"`
	Code    []byte `json:"code"`
	// CreatedAt is set by the backend.
	CreatedAt time.Time `json:"created_at"`
}

// Function is an export of a module with its signature string.
type Function struct {
	ID        int64  `json:"id"`
	ModuleID  int64  `json:"module_id"`
	Name      string `json:"name"`
	Signature string `json:"signature"`
}

// Store is implemented by storage backends. Implementations must be safe
// for concurrent use.
type Store interface {
	// CreateUser creates a user and its wallet in one transaction.
	// ErrDuplicate is returned when the username is taken.
	CreateUser(ctx context.Context, username, passwordHash string, initialCredits int64) (User, error)
	UserByName(ctx context.Context, username string) (User, error)
	// DeleteUser removes a user with its wallet, modules and functions and
	// returns the ids of the removed modules.
	DeleteUser(ctx context.Context, userID int64) ([]int64, error)

	Wallet(ctx context.Context, userID int64) (Wallet, error)
	// ConditionalDebit subtracts amount from the wallet of userID only if
	// the balance covers it. It reports whether the wallet was updated.
	// Concurrent debits are serialized so that no committed debit drives a
	// balance below zero.
	ConditionalDebit(ctx context.Context, userID, amount int64) (bool, error)

	// CreateModule stores m together with its functions in one transaction
	// and returns it with ids assigned. ErrDuplicate is returned when a
	// module with the same hash exists or function names repeat.
	CreateModule(ctx context.Context, m Module, fns []Function) (Module, []Function, error)
	// Module returns the module with id if it is owned by ownerID.
	Module(ctx context.Context, ownerID, id int64) (Module, error)
	// ModulesByOwner lists modules of ownerID with id >= fromID in id
	// order. A limit <= 0 returns all of them.
	ModulesByOwner(ctx context.Context, ownerID, fromID int64, limit int) ([]Module, error)
	// Functions lists the functions of a module ordered by name.
	Functions(ctx context.Context, moduleID int64) ([]Function, error)
	Function(ctx context.Context, moduleID int64, name string) (Function, error)
	// DeleteModule removes a module owned by ownerID and its functions.
	DeleteModule(ctx context.Context, ownerID, id int64) error

	Close() error
}
