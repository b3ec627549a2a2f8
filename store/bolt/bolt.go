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

// Package bolt persists the function platform in a single bbolt file.
//
// Records are JSON encoded. Secondary indexes are separate buckets whose
// keys sort in the order the store lists rows:
//
//	users          id            -> User
//	usernames      name          -> id
//	wallets        user id       -> Wallet
//	modules        id            -> Module
//	module_hashes  hash          -> id
//	owner_modules  owner id + id -> nil
//	functions      module id + name -> Function
//
// bbolt allows a single writer at a time, so each Update below is atomic
// with respect to every other write.
package bolt

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	bbolt "go.etcd.io/bbolt"

	"github.com/redpanda-data/wasm-functions/store"
)

var (
	bucketUsers        = []byte("users")
	bucketUsernames    = []byte("usernames")
	bucketWallets      = []byte("wallets")
	bucketModules      = []byte("modules")
	bucketModuleHashes = []byte("module_hashes")
	bucketOwnerModules = []byte("owner_modules")
	bucketFunctions    = []byte("functions")

	allBuckets = [][]byte{
		bucketUsers, bucketUsernames, bucketWallets, bucketModules,
		bucketModuleHashes, bucketOwnerModules, bucketFunctions,
	}
)

// Storage is a store.Store persisted with bbolt.
type Storage struct {
	db     *bbolt.DB
	closed atomic.Bool
	now    func() time.Time

	users     Serde[store.User]
	wallets   Serde[store.Wallet]
	modules   Serde[store.Module]
	functions Serde[store.Function]
}

var _ store.Store = (*Storage)(nil)

// Open opens or creates the database file at path.
func Open(path string) (*Storage, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrap(err, "create data directory")
	}
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range allBuckets {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return errors.Wrapf(err, "create bucket %s", name)
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Storage{
		db:        db,
		now:       time.Now,
		users:     JSON[store.User](),
		wallets:   JSON[store.Wallet](),
		modules:   JSON[store.Module](),
		functions: JSON[store.Function](),
	}, nil
}

// Close implements store.Store.
func (s *Storage) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	return s.db.Close()
}

func (s *Storage) check(ctx context.Context) error {
	if s.closed.Load() {
		return store.ErrClosed
	}
	return ctx.Err()
}

func (s *Storage) view(ctx context.Context, fn func(*bbolt.Tx) error) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	return s.db.View(fn)
}

func (s *Storage) update(ctx context.Context, fn func(*bbolt.Tx) error) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	return s.db.Update(fn)
}

func put[T any](b *bbolt.Bucket, serde Serde[T], k []byte, v T) error {
	raw, err := serde.Serialize(v)
	if err != nil {
		return errors.Wrap(err, "serialize")
	}
	return b.Put(k, raw)
}

func get[T any](b *bbolt.Bucket, serde Serde[T], k []byte) (T, bool, error) {
	raw := b.Get(k)
	if raw == nil {
		var zero T
		return zero, false, nil
	}
	v, err := serde.Deserialize(raw)
	if err != nil {
		return v, false, errors.Wrap(err, "deserialize")
	}
	return v, true, nil
}

func nextID(b *bbolt.Bucket) (int64, error) {
	seq, err := b.NextSequence()
	if err != nil {
		return 0, errors.Wrap(err, "next sequence")
	}
	return int64(seq), nil
}

// CreateUser implements store.Store.
func (s *Storage) CreateUser(ctx context.Context, username, passwordHash string, initialCredits int64) (store.User, error) {
	var u store.User
	err := s.update(ctx, func(tx *bbolt.Tx) error {
		names := tx.Bucket(bucketUsernames)
		if names.Get([]byte(username)) != nil {
			return errors.Wrapf(store.ErrDuplicate, "username %q", username)
		}
		users := tx.Bucket(bucketUsers)
		id, err := nextID(users)
		if err != nil {
			return err
		}
		u = store.User{ID: id, Username: username, PasswordHash: passwordHash, CreatedAt: s.now().UTC()}
		if err := put(users, s.users, key(id), u); err != nil {
			return errors.Wrap(err, "insert user")
		}
		if err := names.Put([]byte(username), key(id)); err != nil {
			return errors.Wrap(err, "index username")
		}
		w := store.Wallet{UserID: id, Balance: initialCredits}
		return errors.Wrap(put(tx.Bucket(bucketWallets), s.wallets, key(id), w), "insert wallet")
	})
	if err != nil {
		return store.User{}, err
	}
	return u, nil
}

// UserByName implements store.Store.
func (s *Storage) UserByName(ctx context.Context, username string) (store.User, error) {
	var u store.User
	err := s.view(ctx, func(tx *bbolt.Tx) error {
		id := tx.Bucket(bucketUsernames).Get([]byte(username))
		if id == nil {
			return errors.Wrapf(store.ErrNotFound, "user %q", username)
		}
		var ok bool
		var err error
		u, ok, err = get(tx.Bucket(bucketUsers), s.users, id)
		if err != nil {
			return err
		}
		if !ok {
			return errors.Wrapf(store.ErrNotFound, "user %q", username)
		}
		return nil
	})
	return u, err
}

// DeleteUser implements store.Store.
func (s *Storage) DeleteUser(ctx context.Context, userID int64) ([]int64, error) {
	var ids []int64
	err := s.update(ctx, func(tx *bbolt.Tx) error {
		users := tx.Bucket(bucketUsers)
		u, ok, err := get(users, s.users, key(userID))
		if err != nil {
			return err
		}
		if !ok {
			return errors.Wrapf(store.ErrNotFound, "user %d", userID)
		}
		mods, err := s.modulesByOwner(tx, userID, 0, 0)
		if err != nil {
			return err
		}
		ids = make([]int64, 0, len(mods))
		for _, m := range mods {
			if err := deleteModule(tx, m); err != nil {
				return err
			}
			ids = append(ids, m.ID)
		}
		if err := tx.Bucket(bucketWallets).Delete(key(userID)); err != nil {
			return errors.Wrap(err, "delete wallet")
		}
		if err := tx.Bucket(bucketUsernames).Delete([]byte(u.Username)); err != nil {
			return errors.Wrap(err, "delete username")
		}
		return errors.Wrap(users.Delete(key(userID)), "delete user")
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// Wallet implements store.Store.
func (s *Storage) Wallet(ctx context.Context, userID int64) (store.Wallet, error) {
	var w store.Wallet
	err := s.view(ctx, func(tx *bbolt.Tx) error {
		var ok bool
		var err error
		w, ok, err = get(tx.Bucket(bucketWallets), s.wallets, key(userID))
		if err != nil {
			return err
		}
		if !ok {
			return errors.Wrapf(store.ErrNotFound, "wallet of user %d", userID)
		}
		return nil
	})
	return w, err
}

// ConditionalDebit implements store.Store.
func (s *Storage) ConditionalDebit(ctx context.Context, userID, amount int64) (bool, error) {
	var debited bool
	err := s.update(ctx, func(tx *bbolt.Tx) error {
		wallets := tx.Bucket(bucketWallets)
		w, ok, err := get(wallets, s.wallets, key(userID))
		if err != nil {
			return err
		}
		if !ok || amount < 0 || w.Balance < amount {
			return nil
		}
		w.Balance -= amount
		if err := put(wallets, s.wallets, key(userID), w); err != nil {
			return errors.Wrap(err, "update wallet")
		}
		debited = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return debited, nil
}

// CreateModule implements store.Store.
func (s *Storage) CreateModule(ctx context.Context, m store.Module, fns []store.Function) (store.Module, []store.Function, error) {
	var out []store.Function
	err := s.update(ctx, func(tx *bbolt.Tx) error {
		hashes := tx.Bucket(bucketModuleHashes)
		if hashes.Get([]byte(m.Hash)) != nil {
			return errors.Wrapf(store.ErrDuplicate, "module hash %s", m.Hash)
		}
		modules := tx.Bucket(bucketModules)
		var err error
		if m.ID, err = nextID(modules); err != nil {
			return err
		}
		m.CreatedAt = s.now().UTC()
		if err := put(modules, s.modules, key(m.ID), m); err != nil {
			return errors.Wrap(err, "insert module")
		}
		if err := hashes.Put([]byte(m.Hash), key(m.ID)); err != nil {
			return errors.Wrap(err, "index hash")
		}
		if err := tx.Bucket(bucketOwnerModules).Put(key(m.OwnerID, m.ID), []byte{}); err != nil {
			return errors.Wrap(err, "index owner")
		}

		functions := tx.Bucket(bucketFunctions)
		out = make([]store.Function, 0, len(fns))
		for _, f := range fns {
			k := functionKey(m.ID, f.Name)
			if functions.Get(k) != nil {
				return errors.Wrapf(store.ErrDuplicate, "function %q", f.Name)
			}
			f.ModuleID = m.ID
			if f.ID, err = nextID(functions); err != nil {
				return err
			}
			if err := put(functions, s.functions, k, f); err != nil {
				return errors.Wrap(err, "insert function")
			}
			out = append(out, f)
		}
		return nil
	})
	if err != nil {
		return store.Module{}, nil, err
	}
	return m, out, nil
}

func functionKey(moduleID int64, name string) []byte {
	return append(key(moduleID), name...)
}

// Module implements store.Store.
func (s *Storage) Module(ctx context.Context, ownerID, id int64) (store.Module, error) {
	var m store.Module
	err := s.view(ctx, func(tx *bbolt.Tx) error {
		var ok bool
		var err error
		m, ok, err = get(tx.Bucket(bucketModules), s.modules, key(id))
		if err != nil {
			return err
		}
		if !ok || m.OwnerID != ownerID {
			return errors.Wrapf(store.ErrNotFound, "module %d", id)
		}
		return nil
	})
	if err != nil {
		return store.Module{}, err
	}
	return m, nil
}

// ModulesByOwner implements store.Store.
func (s *Storage) ModulesByOwner(ctx context.Context, ownerID, fromID int64, limit int) ([]store.Module, error) {
	var out []store.Module
	err := s.view(ctx, func(tx *bbolt.Tx) error {
		var err error
		out, err = s.modulesByOwner(tx, ownerID, fromID, limit)
		return err
	})
	return out, err
}

func (s *Storage) modulesByOwner(tx *bbolt.Tx, ownerID, fromID int64, limit int) ([]store.Module, error) {
	modules := tx.Bucket(bucketModules)
	prefix := key(ownerID)
	c := tx.Bucket(bucketOwnerModules).Cursor()

	var out []store.Module
	for k, _ := c.Seek(key(ownerID, max(fromID, 0))); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
		if limit > 0 && len(out) >= limit {
			break
		}
		m, ok, err := get(modules, s.modules, k[8:])
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, errors.Newf("dangling owner index entry for module %d", decodeID(k[8:]))
		}
		out = append(out, m)
	}
	return out, nil
}

// Functions implements store.Store.
func (s *Storage) Functions(ctx context.Context, moduleID int64) ([]store.Function, error) {
	var out []store.Function
	err := s.view(ctx, func(tx *bbolt.Tx) error {
		prefix := key(moduleID)
		c := tx.Bucket(bucketFunctions).Cursor()
		out = []store.Function{}
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			f, err := s.functions.Deserialize(v)
			if err != nil {
				return errors.Wrap(err, "deserialize function")
			}
			out = append(out, f)
		}
		return nil
	})
	return out, err
}

// Function implements store.Store.
func (s *Storage) Function(ctx context.Context, moduleID int64, name string) (store.Function, error) {
	var f store.Function
	err := s.view(ctx, func(tx *bbolt.Tx) error {
		var ok bool
		var err error
		f, ok, err = get(tx.Bucket(bucketFunctions), s.functions, functionKey(moduleID, name))
		if err != nil {
			return err
		}
		if !ok {
			return errors.Wrapf(store.ErrNotFound, "function %q of module %d", name, moduleID)
		}
		return nil
	})
	if err != nil {
		return store.Function{}, err
	}
	return f, nil
}

// DeleteModule implements store.Store.
func (s *Storage) DeleteModule(ctx context.Context, ownerID, id int64) error {
	return s.update(ctx, func(tx *bbolt.Tx) error {
		m, ok, err := get(tx.Bucket(bucketModules), s.modules, key(id))
		if err != nil {
			return err
		}
		if !ok || m.OwnerID != ownerID {
			return errors.Wrapf(store.ErrNotFound, "module %d", id)
		}
		return deleteModule(tx, m)
	})
}

func deleteModule(tx *bbolt.Tx, m store.Module) error {
	prefix := key(m.ID)
	functions := tx.Bucket(bucketFunctions)
	var keys [][]byte
	c := functions.Cursor()
	for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
		keys = append(keys, bytes.Clone(k))
	}
	for _, k := range keys {
		if err := functions.Delete(k); err != nil {
			return errors.Wrap(err, "delete function")
		}
	}
	if err := tx.Bucket(bucketOwnerModules).Delete(key(m.OwnerID, m.ID)); err != nil {
		return errors.Wrap(err, "delete owner index")
	}
	if err := tx.Bucket(bucketModuleHashes).Delete([]byte(m.Hash)); err != nil {
		return errors.Wrap(err, "delete hash index")
	}
	return errors.Wrap(tx.Bucket(bucketModules).Delete(key(m.ID)), "delete module")
}
