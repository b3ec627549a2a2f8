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

// Package identity issues and verifies the bearer tokens that identify
// callers.
//
// Tokens are ES256 signed JWTs carrying the username as subject and the
// user id in the uid claim. Signing happens either in process with a
// private key (KeySigner) or through a remote signing service (Client,
// served by Handler). Verification only needs the public key.
package identity

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"github.com/redpanda-data/wasm-functions/apierrors"
)

// DefaultValidity is how long issued tokens stay valid.
const DefaultValidity = 48 * time.Hour

// Claims are the JWT claims of a token.
type Claims struct {
	UserID int64 `json:"uid"`
	jwt.RegisteredClaims
}

// Identity is a verified caller.
type Identity struct {
	UserID    int64
	Username  string
	ExpiresAt time.Time
}

// Signer issues tokens.
type Signer interface {
	Sign(ctx context.Context, userID int64, username string) (string, error)
}

// KeySigner signs tokens with a private key.
type KeySigner struct {
	key      *ecdsa.PrivateKey
	validity time.Duration
	now      func() time.Time
}

var _ Signer = (*KeySigner)(nil)

// NewKeySigner returns a signer issuing tokens valid for validity. A
// non-positive validity selects DefaultValidity.
func NewKeySigner(key *ecdsa.PrivateKey, validity time.Duration) *KeySigner {
	if validity <= 0 {
		validity = DefaultValidity
	}
	return &KeySigner{key: key, validity: validity, now: time.Now}
}

// Sign implements Signer.
func (s *KeySigner) Sign(_ context.Context, userID int64, username string) (string, error) {
	now := s.now()
	claims := Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   username,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.validity)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodES256, claims).SignedString(s.key)
	if err != nil {
		return "", apierrors.Wrap(apierrors.JwtSignatureFailure, err, "failed to sign token",
			apierrors.KV("user_id", strconv.FormatInt(userID, 10)))
	}
	return token, nil
}

// Verifier checks token signatures and expiry.
type Verifier struct {
	key    *ecdsa.PublicKey
	parser *jwt.Parser
}

// NewVerifier returns a verifier for tokens signed by the private half of
// key.
func NewVerifier(key *ecdsa.PublicKey) *Verifier {
	return &Verifier{
		key:    key,
		parser: jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodES256.Alg()})),
	}
}

// Verify parses token and returns the identity it carries. Every failure
// is reported as Unauthorized.
func (v *Verifier) Verify(token string) (Identity, error) {
	var claims Claims
	_, err := v.parser.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return v.key, nil
	})
	if err != nil {
		reason := "invalid token"
		if errors.Is(err, jwt.ErrTokenExpired) {
			reason = "token expired"
		}
		return Identity{}, apierrors.Wrap(apierrors.Unauthorized, err, reason)
	}
	if claims.ExpiresAt == nil || claims.UserID <= 0 || claims.Subject == "" {
		return Identity{}, apierrors.New(apierrors.Unauthorized, "token is missing required claims")
	}
	return Identity{
		UserID:    claims.UserID,
		Username:  claims.Subject,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}
