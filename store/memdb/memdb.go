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

// Package memdb provides in-memory storage backed by go-memdb.
//
// Write transactions are serialized by go-memdb, which makes every
// read-check-write sequence below atomic. Stored objects are never mutated
// in place; updates insert a modified copy.
package memdb

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/hashicorp/go-memdb"

	"github.com/redpanda-data/wasm-functions/store"
)

const (
	tableUsers     = "users"
	tableWallets   = "wallets"
	tableModules   = "modules"
	tableFunctions = "functions"
	tableSequences = "sequences"
)

type sequence struct {
	Name string
	Next int64
}

// Storage is an in-memory store.Store.
type Storage struct {
	db     *memdb.MemDB
	closed atomic.Bool
	now    func() time.Time
}

var _ store.Store = (*Storage)(nil)

func schema() *memdb.DBSchema {
	id := func(field string) *memdb.IndexSchema {
		return &memdb.IndexSchema{Name: "id", Unique: true, Indexer: &memdb.IntFieldIndex{Field: field}}
	}
	return &memdb.DBSchema{
		Tables: map[string]*memdb.TableSchema{
			tableUsers: {
				Name: tableUsers,
				Indexes: map[string]*memdb.IndexSchema{
					"id": id("ID"),
					"username": {
						Name:    "username",
						Unique:  true,
						Indexer: &memdb.StringFieldIndex{Field: "Username"},
					},
				},
			},
			tableWallets: {
				Name:    tableWallets,
				Indexes: map[string]*memdb.IndexSchema{"id": id("UserID")},
			},
			tableModules: {
				Name: tableModules,
				Indexes: map[string]*memdb.IndexSchema{
					"id": id("ID"),
					"hash": {
						Name:    "hash",
						Unique:  true,
						Indexer: &memdb.StringFieldIndex{Field: "Hash"},
					},
					"owner": {
						Name:   "owner",
						Unique: true,
						Indexer: &memdb.CompoundIndex{Indexes: []memdb.Indexer{
							&memdb.IntFieldIndex{Field: "OwnerID"},
							&memdb.IntFieldIndex{Field: "ID"},
						}},
					},
				},
			},
			tableFunctions: {
				Name: tableFunctions,
				Indexes: map[string]*memdb.IndexSchema{
					"id": id("ID"),
					"module": {
						Name:   "module",
						Unique: true,
						Indexer: &memdb.CompoundIndex{Indexes: []memdb.Indexer{
							&memdb.IntFieldIndex{Field: "ModuleID"},
							&memdb.StringFieldIndex{Field: "Name"},
						}},
					},
				},
			},
			tableSequences: {
				Name: tableSequences,
				Indexes: map[string]*memdb.IndexSchema{
					"id": {Name: "id", Unique: true, Indexer: &memdb.StringFieldIndex{Field: "Name"}},
				},
			},
		},
	}
}

// New creates a new in-memory storage.
func New() (*Storage, error) {
	db, err := memdb.NewMemDB(schema())
	if err != nil {
		return nil, errors.Wrap(err, "create memdb")
	}
	return &Storage{db: db, now: time.Now}, nil
}

func (s *Storage) check(ctx context.Context) error {
	if s.closed.Load() {
		return store.ErrClosed
	}
	return ctx.Err()
}

// nextID allocates the next id of a sequence inside a write transaction.
func nextID(txn *memdb.Txn, name string) (int64, error) {
	raw, err := txn.First(tableSequences, "id", name)
	if err != nil {
		return 0, err
	}
	next := int64(1)
	if raw != nil {
		next = raw.(*sequence).Next
	}
	if err := txn.Insert(tableSequences, &sequence{Name: name, Next: next + 1}); err != nil {
		return 0, err
	}
	return next, nil
}

// CreateUser implements store.Store.
func (s *Storage) CreateUser(ctx context.Context, username, passwordHash string, initialCredits int64) (store.User, error) {
	if err := s.check(ctx); err != nil {
		return store.User{}, err
	}
	txn := s.db.Txn(true)
	defer txn.Abort()

	existing, err := txn.First(tableUsers, "username", username)
	if err != nil {
		return store.User{}, errors.Wrap(err, "lookup username")
	}
	if existing != nil {
		return store.User{}, errors.Wrapf(store.ErrDuplicate, "username %q", username)
	}
	id, err := nextID(txn, tableUsers)
	if err != nil {
		return store.User{}, errors.Wrap(err, "allocate user id")
	}
	u := &store.User{ID: id, Username: username, PasswordHash: passwordHash, CreatedAt: s.now().UTC()}
	if err := txn.Insert(tableUsers, u); err != nil {
		return store.User{}, errors.Wrap(err, "insert user")
	}
	if err := txn.Insert(tableWallets, &store.Wallet{UserID: id, Balance: initialCredits}); err != nil {
		return store.User{}, errors.Wrap(err, "insert wallet")
	}
	txn.Commit()
	return *u, nil
}

// UserByName implements store.Store.
func (s *Storage) UserByName(ctx context.Context, username string) (store.User, error) {
	if err := s.check(ctx); err != nil {
		return store.User{}, err
	}
	txn := s.db.Txn(false)
	defer txn.Abort()

	raw, err := txn.First(tableUsers, "username", username)
	if err != nil {
		return store.User{}, errors.Wrap(err, "lookup username")
	}
	if raw == nil {
		return store.User{}, errors.Wrapf(store.ErrNotFound, "user %q", username)
	}
	return *raw.(*store.User), nil
}

// DeleteUser implements store.Store.
func (s *Storage) DeleteUser(ctx context.Context, userID int64) ([]int64, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	txn := s.db.Txn(true)
	defer txn.Abort()

	raw, err := txn.First(tableUsers, "id", userID)
	if err != nil {
		return nil, errors.Wrap(err, "lookup user")
	}
	if raw == nil {
		return nil, errors.Wrapf(store.ErrNotFound, "user %d", userID)
	}
	mods, err := modulesByOwner(txn, userID, 0, 0)
	if err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(mods))
	for _, m := range mods {
		if err := deleteModule(txn, m); err != nil {
			return nil, err
		}
		ids = append(ids, m.ID)
	}
	if _, err := txn.DeleteAll(tableWallets, "id", userID); err != nil {
		return nil, errors.Wrap(err, "delete wallet")
	}
	if err := txn.Delete(tableUsers, raw); err != nil {
		return nil, errors.Wrap(err, "delete user")
	}
	txn.Commit()
	return ids, nil
}

// Wallet implements store.Store.
func (s *Storage) Wallet(ctx context.Context, userID int64) (store.Wallet, error) {
	if err := s.check(ctx); err != nil {
		return store.Wallet{}, err
	}
	txn := s.db.Txn(false)
	defer txn.Abort()

	raw, err := txn.First(tableWallets, "id", userID)
	if err != nil {
		return store.Wallet{}, errors.Wrap(err, "lookup wallet")
	}
	if raw == nil {
		return store.Wallet{}, errors.Wrapf(store.ErrNotFound, "wallet of user %d", userID)
	}
	return *raw.(*store.Wallet), nil
}

// ConditionalDebit implements store.Store.
func (s *Storage) ConditionalDebit(ctx context.Context, userID, amount int64) (bool, error) {
	if err := s.check(ctx); err != nil {
		return false, err
	}
	txn := s.db.Txn(true)
	defer txn.Abort()

	raw, err := txn.First(tableWallets, "id", userID)
	if err != nil {
		return false, errors.Wrap(err, "lookup wallet")
	}
	if raw == nil {
		return false, nil
	}
	w := *raw.(*store.Wallet)
	if amount < 0 || w.Balance < amount {
		return false, nil
	}
	w.Balance -= amount
	if err := txn.Insert(tableWallets, &w); err != nil {
		return false, errors.Wrap(err, "update wallet")
	}
	txn.Commit()
	return true, nil
}

// CreateModule implements store.Store.
func (s *Storage) CreateModule(ctx context.Context, m store.Module, fns []store.Function) (store.Module, []store.Function, error) {
	if err := s.check(ctx); err != nil {
		return store.Module{}, nil, err
	}
	txn := s.db.Txn(true)
	defer txn.Abort()

	existing, err := txn.First(tableModules, "hash", m.Hash)
	if err != nil {
		return store.Module{}, nil, errors.Wrap(err, "lookup hash")
	}
	if existing != nil {
		return store.Module{}, nil, errors.Wrapf(store.ErrDuplicate, "module hash %s", m.Hash)
	}
	if m.ID, err = nextID(txn, tableModules); err != nil {
		return store.Module{}, nil, errors.Wrap(err, "allocate module id")
	}
	m.CreatedAt = s.now().UTC()
	if err := txn.Insert(tableModules, &m); err != nil {
		return store.Module{}, nil, errors.Wrap(err, "insert module")
	}

	out := make([]store.Function, 0, len(fns))
	for _, f := range fns {
		dup, err := txn.First(tableFunctions, "module", m.ID, f.Name)
		if err != nil {
			return store.Module{}, nil, errors.Wrap(err, "lookup function")
		}
		if dup != nil {
			return store.Module{}, nil, errors.Wrapf(store.ErrDuplicate, "function %q", f.Name)
		}
		f.ModuleID = m.ID
		if f.ID, err = nextID(txn, tableFunctions); err != nil {
			return store.Module{}, nil, errors.Wrap(err, "allocate function id")
		}
		if err := txn.Insert(tableFunctions, &f); err != nil {
			return store.Module{}, nil, errors.Wrap(err, "insert function")
		}
		out = append(out, f)
	}
	txn.Commit()
	return m, out, nil
}

// Module implements store.Store.
func (s *Storage) Module(ctx context.Context, ownerID, id int64) (store.Module, error) {
	if err := s.check(ctx); err != nil {
		return store.Module{}, err
	}
	txn := s.db.Txn(false)
	defer txn.Abort()

	raw, err := txn.First(tableModules, "owner", ownerID, id)
	if err != nil {
		return store.Module{}, errors.Wrap(err, "lookup module")
	}
	if raw == nil {
		return store.Module{}, errors.Wrapf(store.ErrNotFound, "module %d", id)
	}
	return *raw.(*store.Module), nil
}

// ModulesByOwner implements store.Store.
func (s *Storage) ModulesByOwner(ctx context.Context, ownerID, fromID int64, limit int) ([]store.Module, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	txn := s.db.Txn(false)
	defer txn.Abort()
	return modulesByOwner(txn, ownerID, fromID, limit)
}

func modulesByOwner(txn *memdb.Txn, ownerID, fromID int64, limit int) ([]store.Module, error) {
	it, err := txn.LowerBound(tableModules, "owner", ownerID, fromID)
	if err != nil {
		return nil, errors.Wrap(err, "scan modules")
	}
	var out []store.Module
	for obj := it.Next(); obj != nil && (limit <= 0 || len(out) < limit); obj = it.Next() {
		m := obj.(*store.Module)
		if m.OwnerID != ownerID {
			break
		}
		out = append(out, *m)
	}
	return out, nil
}

// Functions implements store.Store.
func (s *Storage) Functions(ctx context.Context, moduleID int64) ([]store.Function, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	txn := s.db.Txn(false)
	defer txn.Abort()

	fns, err := functionsOf(txn, moduleID)
	if err != nil {
		return nil, err
	}
	out := make([]store.Function, 0, len(fns))
	for _, f := range fns {
		out = append(out, *f)
	}
	return out, nil
}

// functionsOf returns the functions of a module in name order. The empty
// name sorts before every stored name.
func functionsOf(txn *memdb.Txn, moduleID int64) ([]*store.Function, error) {
	it, err := txn.LowerBound(tableFunctions, "module", moduleID, "")
	if err != nil {
		return nil, errors.Wrap(err, "scan functions")
	}
	var out []*store.Function
	for obj := it.Next(); obj != nil; obj = it.Next() {
		f := obj.(*store.Function)
		if f.ModuleID != moduleID {
			break
		}
		out = append(out, f)
	}
	return out, nil
}

// Function implements store.Store.
func (s *Storage) Function(ctx context.Context, moduleID int64, name string) (store.Function, error) {
	if err := s.check(ctx); err != nil {
		return store.Function{}, err
	}
	txn := s.db.Txn(false)
	defer txn.Abort()

	raw, err := txn.First(tableFunctions, "module", moduleID, name)
	if err != nil {
		return store.Function{}, errors.Wrap(err, "lookup function")
	}
	if raw == nil {
		return store.Function{}, errors.Wrapf(store.ErrNotFound, "function %q of module %d", name, moduleID)
	}
	return *raw.(*store.Function), nil
}

// DeleteModule implements store.Store.
func (s *Storage) DeleteModule(ctx context.Context, ownerID, id int64) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	txn := s.db.Txn(true)
	defer txn.Abort()

	raw, err := txn.First(tableModules, "owner", ownerID, id)
	if err != nil {
		return errors.Wrap(err, "lookup module")
	}
	if raw == nil {
		return errors.Wrapf(store.ErrNotFound, "module %d", id)
	}
	if err := deleteModule(txn, *raw.(*store.Module)); err != nil {
		return err
	}
	txn.Commit()
	return nil
}

func deleteModule(txn *memdb.Txn, m store.Module) error {
	fns, err := functionsOf(txn, m.ID)
	if err != nil {
		return err
	}
	for _, f := range fns {
		if err := txn.Delete(tableFunctions, f); err != nil {
			return errors.Wrap(err, "delete function")
		}
	}
	if _, err := txn.DeleteAll(tableModules, "id", m.ID); err != nil {
		return errors.Wrap(err, "delete module")
	}
	return nil
}

// Close implements store.Store.
func (s *Storage) Close() error {
	s.closed.Store(true)
	return nil
}
