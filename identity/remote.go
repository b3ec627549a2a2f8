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

package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-logr/logr"
	"github.com/sethgrid/pester"

	"github.com/redpanda-data/wasm-functions/apierrors"
)

// SignRequest is the body accepted by the signing service.
type SignRequest struct {
	UserID   int64  `json:"user_id"`
	Username string `json:"username"`
}

// SignResponse is the body returned by the signing service.
type SignResponse struct {
	Token string `json:"token"`
}

// Client signs tokens through a remote signing service. Requests are
// retried on transport errors and 5xx responses.
type Client struct {
	url    string
	client *pester.Client
}

var _ Signer = (*Client)(nil)

// ClientOpt configures a Client.
type ClientOpt func(*pester.Client)

// WithRetries sets how often a request is retried and the delay between
// attempts.
func WithRetries(maxRetries int, backoff time.Duration) ClientOpt {
	return func(c *pester.Client) {
		c.MaxRetries = maxRetries
		c.Backoff = func(int) time.Duration { return backoff }
	}
}

// NewClient returns a client for the signing service at url.
func NewClient(url string, logger logr.Logger, opts ...ClientOpt) *Client {
	client := pester.New()
	client.MaxRetries = 3
	client.Backoff = pester.ExponentialJitterBackoff
	client.Timeout = 10 * time.Second
	client.LogHook = func(e pester.ErrEntry) {
		// Only log from here when retrying: a final error propagates to caller
		if e.Err != nil && e.Retry <= client.MaxRetries {
			logger.V(1).Info("retrying token signing", "verb", e.Verb, "retry", e.Retry, "error", e.Err.Error())
		}
	}
	for _, opt := range opts {
		opt(client)
	}
	return &Client{url: url, client: client}
}

// Sign implements Signer.
func (c *Client) Sign(ctx context.Context, userID int64, username string) (string, error) {
	meta := apierrors.KV("user_id", strconv.FormatInt(userID, 10))
	fail := func(err error) (string, error) {
		return "", apierrors.Wrap(apierrors.JwtSignatureFailure, err, "failed to sign token", meta)
	}

	body, err := json.Marshal(SignRequest{UserID: userID, Username: username})
	if err != nil {
		return fail(err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fail(err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.client.Do(req)
	if err != nil {
		return fail(err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(res.Body, 1024))
		return fail(fmt.Errorf("signing service returned %s: %s", res.Status, bytes.TrimSpace(msg)))
	}
	var out SignResponse
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return fail(fmt.Errorf("failed to decode signing response: %w", err))
	}
	if out.Token == "" {
		return fail(fmt.Errorf("signing service returned an empty token"))
	}
	return out.Token, nil
}

// Handler serves the signing service. It must only be reachable from
// trusted callers: anyone who can reach it can mint tokens.
func Handler(signer Signer, logger logr.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var req SignRequest
		if err := json.NewDecoder(io.LimitReader(r.Body, 64<<10)).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		if req.UserID <= 0 || req.Username == "" {
			http.Error(w, "user_id and username are required", http.StatusBadRequest)
			return
		}
		token, err := signer.Sign(r.Context(), req.UserID, req.Username)
		if err != nil {
			logger.Error(err, "failed to sign token", "user_id", req.UserID)
			http.Error(w, "failed to sign token", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(SignResponse{Token: token})
	})
}
