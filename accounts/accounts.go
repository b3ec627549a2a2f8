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

// Package accounts registers users, logs them in and deletes them.
package accounts

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/go-logr/logr"

	"github.com/redpanda-data/wasm-functions/apierrors"
	"github.com/redpanda-data/wasm-functions/identity"
	"github.com/redpanda-data/wasm-functions/metrics"
	"github.com/redpanda-data/wasm-functions/store"
)

// Invalidator drops cached state of deleted modules.
type Invalidator interface {
	Invalidate(ctx context.Context, moduleID int64) error
}

// Service implements account operations.
type Service struct {
	store          store.Store
	signer         identity.Signer
	cache          Invalidator
	metrics        *metrics.Prometheus
	logger         logr.Logger
	params         Params
	initialCredits int64
}

// Opt configures a Service.
type Opt func(*Service)

// WithInitialCredits sets the balance of new wallets.
//
// Default: 1_000_000
func WithInitialCredits(credits int64) Opt {
	return func(s *Service) { s.initialCredits = credits }
}

// WithParams sets the argon2id parameters for new password hashes.
func WithParams(p Params) Opt {
	return func(s *Service) { s.params = p }
}

// WithMetrics sets the collectors updated on registration and deletion.
func WithMetrics(p *metrics.Prometheus) Opt {
	return func(s *Service) { s.metrics = p }
}

// WithLogger sets the logger.
func WithLogger(l logr.Logger) Opt {
	return func(s *Service) { s.logger = l }
}

// New returns an account service.
func New(s store.Store, signer identity.Signer, cache Invalidator, opts ...Opt) *Service {
	svc := &Service{
		store:          s,
		signer:         signer,
		cache:          cache,
		logger:         logr.Discard(),
		params:         DefaultParams,
		initialCredits: 1_000_000,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// Register creates a user with a funded wallet.
func (s *Service) Register(ctx context.Context, username, password string) (store.User, error) {
	if strings.TrimSpace(username) == "" {
		return store.User{}, apierrors.New(apierrors.InvalidCredentials, "username must not be empty")
	}
	if err := CheckPassword(password); err != nil {
		return store.User{}, err
	}
	hash, err := HashPassword(password, s.params)
	if err != nil {
		return store.User{}, apierrors.Wrap(apierrors.UnknownServerError, err, "failed to hash password")
	}
	u, err := s.store.CreateUser(ctx, username, hash, s.initialCredits)
	if errors.Is(err, store.ErrDuplicate) {
		return store.User{}, apierrors.Wrap(apierrors.DuplicateUsername, err, "username already taken",
			apierrors.KV("username", username))
	}
	if err != nil {
		return store.User{}, apierrors.Wrap(apierrors.UnknownServerError, err, "failed to create user")
	}
	s.metrics.UsersChanged(1)
	s.logger.Info("registered user", "user_id", u.ID)
	return u, nil
}

// Login verifies credentials and returns a signed token. Unknown users and
// wrong passwords are indistinguishable to the caller.
func (s *Service) Login(ctx context.Context, username, password string) (string, error) {
	u, err := s.store.UserByName(ctx, username)
	if errors.Is(err, store.ErrNotFound) {
		return "", apierrors.New(apierrors.InvalidCredentials, "invalid credentials")
	}
	if err != nil {
		return "", apierrors.Wrap(apierrors.UnknownServerError, err, "failed to look up user")
	}
	ok, err := VerifyPassword(password, u.PasswordHash)
	if err != nil {
		return "", apierrors.Wrap(apierrors.UnknownServerError, err, "stored password hash is unreadable",
			apierrors.KV("user_id", strconv.FormatInt(u.ID, 10)))
	}
	if !ok {
		return "", apierrors.New(apierrors.InvalidCredentials, "invalid credentials")
	}
	return s.signer.Sign(ctx, u.ID, u.Username)
}

// DeleteAccount removes the user with its wallet and modules, and drops
// the compiled artifacts of those modules.
func (s *Service) DeleteAccount(ctx context.Context, userID int64) error {
	removed, err := s.store.DeleteUser(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return apierrors.Wrap(apierrors.NotFound, err, "user not found")
	}
	if err != nil {
		return apierrors.Wrap(apierrors.UnknownServerError, err, "failed to delete user")
	}
	for _, id := range removed {
		if err := s.cache.Invalidate(ctx, id); err != nil {
			s.logger.Error(err, "failed to release compiled module", "module_id", id)
		}
	}
	s.metrics.UsersChanged(-1)
	s.logger.Info("deleted user", "user_id", userID, "modules", len(removed))
	return nil
}
