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

package httpapi_test

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/go-logr/logr/funcr"
	"github.com/go-logr/logr/testr"
	"github.com/golang-jwt/jwt/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/redpanda-data/wasm-functions/accounts"
	"github.com/redpanda-data/wasm-functions/engine"
	"github.com/redpanda-data/wasm-functions/httpapi"
	"github.com/redpanda-data/wasm-functions/identity"
	"github.com/redpanda-data/wasm-functions/metrics"
	"github.com/redpanda-data/wasm-functions/modcache"
	"github.com/redpanda-data/wasm-functions/platform"
	"github.com/redpanda-data/wasm-functions/store/memdb"
	"github.com/redpanda-data/wasm-functions/wasmtest"
)

const password = "Correct-Horse-9"

type env struct {
	t      *testing.T
	server *httptest.Server
	key    *ecdsa.PrivateKey
}

func newEnv(t *testing.T, opts ...httpapi.Opt) *env {
	t.Helper()
	ctx := context.Background()
	logger := testr.New(t)

	s, err := memdb.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	e, err := engine.New(ctx, engine.WithLogger(logger))
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close(ctx) })

	reg := prometheus.NewRegistry()
	p, err := metrics.NewPrometheus(metrics.WithRegistry(reg))
	require.NoError(t, err)

	cache := modcache.New(e.Compile, modcache.WithMetrics(p))
	t.Cleanup(func() { _ = cache.Close(ctx) })

	key, err := identity.GenerateKey()
	require.NoError(t, err)
	signer := identity.NewKeySigner(key, time.Hour)

	acc := accounts.New(s, signer, cache,
		accounts.WithParams(accounts.Params{Memory: 64, Iterations: 1, Parallelism: 1, SaltLength: 8, KeyLength: 16}),
		accounts.WithInitialCredits(1000),
		accounts.WithMetrics(p),
	)
	plat := platform.New(s, e, cache, platform.WithMetrics(p), platform.WithLogger(logger))

	opts = append([]httpapi.Opt{httpapi.WithLogger(logger), httpapi.WithMetrics(p)}, opts...)
	srv := httptest.NewServer(httpapi.NewServer(acc, plat, identity.NewVerifier(&key.PublicKey), opts...).Handler())
	t.Cleanup(srv.Close)
	return &env{t: t, server: srv, key: key}
}

func (e *env) do(method, path, token string, body io.Reader) (int, []byte) {
	e.t.Helper()
	req, err := http.NewRequest(method, e.server.URL+path, body)
	require.NoError(e.t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := e.server.Client().Do(req)
	require.NoError(e.t, err)
	defer resp.Body.Close()
	out, err := io.ReadAll(resp.Body)
	require.NoError(e.t, err)
	return resp.StatusCode, out
}

func jsonBody(t *testing.T, v any) io.Reader {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return bytes.NewReader(b)
}

func decode[T any](t *testing.T, b []byte) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(b, &v), "body: %s", b)
	return v
}

func (e *env) login(name string) string {
	e.t.Helper()
	creds := httpapi.Credentials{Username: name, Password: password}
	status, body := e.do(http.MethodPost, "/api/v1/auth/register", "", jsonBody(e.t, creds))
	require.Equal(e.t, http.StatusOK, status, "register: %s", body)
	status, body = e.do(http.MethodPost, "/api/v1/auth/login", "", jsonBody(e.t, creds))
	require.Equal(e.t, http.StatusOK, status, "login: %s", body)
	return decode[httpapi.LoginResponse](e.t, body).JWT
}

func TestDeployCallFlow(t *testing.T) {
	e := newEnv(t)
	token := e.login("alice")

	status, body := e.do(http.MethodGet, "/api/v1/user/currency", token, nil)
	require.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"credits":1000}`, string(body))

	status, body = e.do(http.MethodPost, "/api/v1/module/deploy", token, bytes.NewReader(wasmtest.Arith()))
	require.Equal(t, http.StatusCreated, status, "deploy: %s", body)
	deployed := decode[platform.DeployResult](t, body)
	assert.Len(t, deployed.Hash, 64)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(body, &raw))
	assert.Contains(t, raw, "mod_hash")

	callPath := fmt.Sprintf("/api/v1/function/call/%d/add", deployed.ModuleID)
	status, body = e.do(http.MethodPost, callPath, token, strings.NewReader(`{"params":[2,3]}`))
	require.Equal(t, http.StatusOK, status, "call: %s", body)
	assert.JSONEq(t, `{"return_value":[5]}`, string(body))

	status, body = e.do(http.MethodGet, "/api/v1/user/currency", token, nil)
	require.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, fmt.Sprintf(`{"credits":%d}`, 1000-wasmtest.AddCost), string(body))

	status, body = e.do(http.MethodGet, "/api/v1/user/modules", token, nil)
	require.Equal(t, http.StatusOK, status)
	page := decode[platform.ModulesPage](t, body)
	require.Len(t, page.Modules, 1)
	assert.Equal(t, deployed.Hash, page.Modules[0].Hash)
	assert.Len(t, page.Modules[0].Functions, 4)

	status, body = e.do(http.MethodDelete, fmt.Sprintf("/api/v1/module/delete/%d", deployed.ModuleID), token, nil)
	require.Equal(t, http.StatusOK, status, "delete: %s", body)

	status, body = e.do(http.MethodPost, callPath, token, strings.NewReader(`{"params":[2,3]}`))
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "ENDPOINT_NOT_FOUND", decode[httpapi.ErrorResponse](t, body).Reason)

	status, _ = e.do(http.MethodDelete, "/api/v1/user", token, nil)
	require.Equal(t, http.StatusOK, status)
	status, body = e.do(http.MethodGet, "/api/v1/user/currency", token, nil)
	assert.Equal(t, http.StatusNotFound, status, "%s", body)
}

func TestErrors(t *testing.T) {
	e := newEnv(t)
	token := e.login("alice")

	status, body := e.do(http.MethodPost, "/api/v1/module/deploy", token, bytes.NewReader(wasmtest.Arith()))
	require.Equal(t, http.StatusCreated, status, "deploy: %s", body)
	arith := decode[platform.DeployResult](t, body)
	call := func(fn string) string {
		return fmt.Sprintf("/api/v1/function/call/%d/%s", arith.ModuleID, fn)
	}

	other, err := identity.GenerateKey()
	require.NoError(t, err)
	foreign, err := identity.NewKeySigner(other, time.Hour).Sign(context.Background(), 1, "alice")
	require.NoError(t, err)
	expired, err := jwt.NewWithClaims(jwt.SigningMethodES256, identity.Claims{
		UserID: 1,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "alice",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
	}).SignedString(e.key)
	require.NoError(t, err)

	tt := []struct {
		name   string
		method string
		path   string
		token  string
		body   string
		status int
		reason string
	}{
		{"unknown route", http.MethodGet, "/nope", "", "", http.StatusNotFound, "NOT_FOUND"},
		{"no token", http.MethodGet, "/api/v1/user/currency", "", "", http.StatusUnauthorized, "UNAUTHORIZED"},
		{"garbage token", http.MethodGet, "/api/v1/user/currency", "garbage", "", http.StatusUnauthorized, "UNAUTHORIZED"},
		{"token from another key", http.MethodGet, "/api/v1/user/currency", foreign, "", http.StatusUnauthorized, "UNAUTHORIZED"},
		{"expired token", http.MethodGet, "/api/v1/user/currency", expired, "", http.StatusUnauthorized, "UNAUTHORIZED"},
		{"short password", http.MethodPost, "/api/v1/auth/register", "", `{"username":"bob","password":"Ab1!"}`, http.StatusBadRequest, "PASSWORD_TOO_SHORT"},
		{"weak password", http.MethodPost, "/api/v1/auth/register", "", `{"username":"bob","password":"alllowercase1!"}`, http.StatusBadRequest, "PASSWORD_TOO_WEAK"},
		{"duplicate username", http.MethodPost, "/api/v1/auth/register", "", `{"username":"alice","password":"` + password + `"}`, http.StatusBadRequest, "DUPLICATE_USERNAME"},
		{"wrong password", http.MethodPost, "/api/v1/auth/login", "", `{"username":"alice","password":"Wrong-Horse-99"}`, http.StatusBadRequest, "INVALID_CREDENTIALS"},
		{"duplicate deploy", http.MethodPost, "/api/v1/module/deploy", token, string(wasmtest.Arith()), http.StatusBadRequest, "DUPLICATE_FUNCTION"},
		{"invalid module", http.MethodPost, "/api/v1/module/deploy", token, "nope", http.StatusBadRequest, "INVALID_WASM_MODULE"},
		{"unknown function", http.MethodPost, call("div"), token, `{"params":[1,2]}`, http.StatusNotFound, "FUNCTION_NOT_FOUND"},
		{"wrong type", http.MethodPost, call("add"), token, `{"params":[1.5,2]}`, http.StatusBadRequest, "WASM_WRONG_PARAMETER_TYPE"},
		{"string param", http.MethodPost, call("add"), token, `{"params":["1",2]}`, http.StatusBadRequest, "UNIMPLEMENTED_WASM_TYPE"},
		{"bad body", http.MethodPost, call("add"), token, `{`, http.StatusBadRequest, "UNIMPLEMENTED_WASM_TYPE"},
		{"delete unknown module", http.MethodDelete, "/api/v1/module/delete/999", token, "", http.StatusNotFound, "NOT_FOUND"},
		{"bad page token", http.MethodGet, "/api/v1/user/modules?page_token=%25%25", token, "", http.StatusBadRequest, "INVALID_PAGE_TOKEN"},
	}
	for _, tc := range tt {
		t.Run(tc.name, func(t *testing.T) {
			var body io.Reader
			if tc.body != "" {
				body = strings.NewReader(tc.body)
			}
			status, out := e.do(tc.method, tc.path, tc.token, body)
			assert.Equal(t, tc.status, status, "body: %s", out)
			resp := decode[httpapi.ErrorResponse](t, out)
			assert.Equal(t, tc.reason, resp.Reason)
			assert.NotEmpty(t, resp.Error)
			assert.NotEmpty(t, resp.Code)
			if tc.status == http.StatusNotFound {
				assert.Equal(t, tc.path, resp.Metadata["uri"])
			}
		})
	}
}

func TestInsufficientCredits(t *testing.T) {
	e := newEnv(t)
	token := e.login("alice")

	status, body := e.do(http.MethodPost, "/api/v1/module/deploy", token, bytes.NewReader(wasmtest.Spin()))
	require.Equal(t, http.StatusCreated, status, "deploy: %s", body)
	spin := decode[platform.DeployResult](t, body)

	status, body = e.do(http.MethodPost, fmt.Sprintf("/api/v1/function/call/%d/spin", spin.ModuleID), token,
		strings.NewReader(`{"params":[]}`))
	assert.Equal(t, http.StatusPaymentRequired, status)
	assert.Equal(t, "INSUFFICIENT_CREDITS", decode[httpapi.ErrorResponse](t, body).Reason)

	status, body = e.do(http.MethodGet, "/api/v1/user/currency", token, nil)
	require.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"credits":1000}`, string(body))
}

func TestModuleSizeLimit(t *testing.T) {
	e := newEnv(t, httpapi.WithMaxModuleSize(16))
	token := e.login("alice")

	status, body := e.do(http.MethodPost, "/api/v1/module/deploy", token, bytes.NewReader(wasmtest.Arith()))
	assert.Equal(t, http.StatusBadRequest, status)
	resp := decode[httpapi.ErrorResponse](t, body)
	assert.Equal(t, "INVALID_WASM_MODULE", resp.Reason)
	assert.Equal(t, "16", resp.Metadata["limit"])
}

func TestCORSAndMetrics(t *testing.T) {
	e := newEnv(t)

	req, err := http.NewRequest(http.MethodOptions, e.server.URL+"/api/v1/auth/login", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	resp, err := e.server.Client().Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))

	e.login("alice")

	// Requests are recorded after their response is written.
	assert.Eventually(t, func() bool {
		status, body := e.do(http.MethodGet, "/metrics", "", nil)
		return status == http.StatusOK &&
			strings.Contains(string(body), `request_duration_seconds_count{procedure="/api/v1/auth/login",status="200"} 1`) &&
			strings.Contains(string(body), "active_users 1")
	}, 5*time.Second, 10*time.Millisecond)
}

type lines struct {
	mu  sync.Mutex
	all []string
}

func (l *lines) logger() logr.Logger {
	return funcr.New(func(prefix, args string) {
		l.mu.Lock()
		defer l.mu.Unlock()
		l.all = append(l.all, prefix+" "+args)
	}, funcr.Options{Verbosity: 1})
}

func (l *lines) matching(substr string) []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []string
	for _, line := range l.all {
		if strings.Contains(line, substr) {
			out = append(out, line)
		}
	}
	return out
}

func TestRequestLoggerCarriesCaller(t *testing.T) {
	var logs lines
	e := newEnv(t, httpapi.WithLogger(logs.logger()))
	token := e.login("alice")

	status, _ := e.do(http.MethodDelete, "/api/v1/module/delete/999", token, nil)
	require.Equal(t, http.StatusNotFound, status)

	rejected := logs.matching("request rejected")
	require.Len(t, rejected, 1)
	assert.Contains(t, rejected[0], `"user_id"=1`)

	status, _ = e.do(http.MethodGet, "/api/v1/user/currency", "", nil)
	require.Equal(t, http.StatusUnauthorized, status)
	rejected = logs.matching("request rejected")
	require.Len(t, rejected, 2)
	assert.NotContains(t, rejected[1], "user_id")

	assert.Eventually(t, func() bool {
		return len(logs.matching("request served")) >= 4
	}, time.Second, 10*time.Millisecond)
}

func TestDeployRejectsStartFunction(t *testing.T) {
	e := newEnv(t)
	token := e.login("alice")

	status, body := e.do(http.MethodPost, "/api/v1/module/deploy", token, bytes.NewReader(wasmtest.WithStart()))
	require.Equal(t, http.StatusBadRequest, status, "deploy: %s", body)
	assert.Equal(t, "INVALID_WASM_MODULE", decode[httpapi.ErrorResponse](t, body).Reason)
}
