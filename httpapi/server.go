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

// Package httpapi serves the platform over HTTP/JSON.
//
// All routes live under /api/v1. Routes outside /api/v1/auth require an
// "Authorization: Bearer <token>" header. Failures are written as an
// ErrorResponse with the status translated from the error kind.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-logr/logr"
	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/redpanda-data/wasm-functions/apierrors"
	"github.com/redpanda-data/wasm-functions/identity"
	"github.com/redpanda-data/wasm-functions/logging"
	"github.com/redpanda-data/wasm-functions/metrics"
	"github.com/redpanda-data/wasm-functions/platform"
	"github.com/redpanda-data/wasm-functions/store"
)

// DefaultMaxModuleSize caps the size of a deployed module.
const DefaultMaxModuleSize = 16 << 20

// Accounts manages users.
type Accounts interface {
	Register(ctx context.Context, username, password string) (store.User, error)
	Login(ctx context.Context, username, password string) (string, error)
	DeleteAccount(ctx context.Context, userID int64) error
}

// Platform manages modules and calls.
type Platform interface {
	Deploy(ctx context.Context, caller identity.Identity, bytecode []byte) (platform.DeployResult, error)
	List(ctx context.Context, caller identity.Identity, page platform.PageRequest) (platform.ModulesPage, error)
	Call(ctx context.Context, caller identity.Identity, moduleID int64, function string, args []json.RawMessage) ([]json.RawMessage, error)
	Delete(ctx context.Context, caller identity.Identity, moduleID int64) error
	Credits(ctx context.Context, caller identity.Identity) (int64, error)
}

// Verifier turns a bearer token into an identity.
type Verifier interface {
	Verify(token string) (identity.Identity, error)
}

// Server routes HTTP requests to the account and platform services.
type Server struct {
	accounts      Accounts
	platform      Platform
	verifier      Verifier
	metrics       *metrics.Prometheus
	logger        logr.Logger
	maxModuleSize int64
}

// Opt configures a Server.
type Opt func(*Server)

// WithLogger sets the logger.
func WithLogger(l logr.Logger) Opt {
	return func(s *Server) { s.logger = l }
}

// WithMetrics sets the collectors for request durations. They are also
// served on /metrics.
func WithMetrics(p *metrics.Prometheus) Opt {
	return func(s *Server) { s.metrics = p }
}

// WithMaxModuleSize caps the body size of deploy requests.
//
// Default: DefaultMaxModuleSize
func WithMaxModuleSize(n int64) Opt {
	return func(s *Server) { s.maxModuleSize = n }
}

// NewServer returns a server.
func NewServer(a Accounts, p Platform, v Verifier, opts ...Opt) *Server {
	s := &Server{
		accounts:      a,
		platform:      p,
		verifier:      v,
		logger:        logging.Global(),
		maxModuleSize: DefaultMaxModuleSize,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the root handler with routing, CORS and request
// observation.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.Use(routeMiddleware)
	r.NotFoundHandler = http.HandlerFunc(s.notFound)
	r.MethodNotAllowedHandler = http.HandlerFunc(s.notFound)

	r.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)

	v1 := r.PathPrefix("/api/v1").Subrouter()

	auth := v1.PathPrefix("/auth").Subrouter()
	auth.HandleFunc("/register", s.register).Methods(http.MethodPost)
	auth.HandleFunc("/login", s.login).Methods(http.MethodPost)

	user := v1.PathPrefix("/user").Subrouter()
	user.Use(s.authenticate)
	user.HandleFunc("", s.deleteUser).Methods(http.MethodDelete)
	user.HandleFunc("/currency", s.credits).Methods(http.MethodGet)
	user.HandleFunc("/modules", s.modules).Methods(http.MethodGet)

	module := v1.PathPrefix("/module").Subrouter()
	module.Use(s.authenticate)
	module.HandleFunc("/deploy", s.deploy).Methods(http.MethodPost)
	module.HandleFunc("/delete/{id:[0-9]+}", s.deleteModule).Methods(http.MethodDelete)

	function := v1.PathPrefix("/function").Subrouter()
	function.Use(s.authenticate)
	function.HandleFunc("/call/{id:[0-9]+}/{func_name}", s.call).Methods(http.MethodPost)

	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"*"},
	})
	observer := NewObserver(s.requestEnded)
	return s.withLogger(observer.WrapHandler(c.Handler(r)))
}

// withLogger makes the server logger available to handlers through the
// request context.
func (s *Server) withLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r.WithContext(logging.IntoContext(r.Context(), s.logger)))
	})
}

func (s *Server) requestEnded(ctx context.Context, rm *RequestMetadata) {
	s.metrics.ObserveRequest(rm.Route(), statusLabel(rm), rm.Duration())
	logging.FromContext(ctx).V(1).Info("request served",
		"method", rm.Method(),
		"uri", rm.RequestURI(),
		"status", rm.StatusCode(),
		"duration", rm.Duration(),
		"bytes_received", rm.BytesReceived(),
		"bytes_sent", rm.BytesSent(),
	)
}

type identityKey struct{}

func callerFrom(ctx context.Context) identity.Identity {
	id, _ := ctx.Value(identityKey{}).(identity.Identity)
	return id
}

func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(token) == "" {
			writeError(w, r, apierrors.New(apierrors.Unauthorized, "missing bearer token"))
			return
		}
		caller, err := s.verifier.Verify(strings.TrimSpace(token))
		if err != nil {
			writeError(w, r, err)
			return
		}
		ctx := context.WithValue(r.Context(), identityKey{}, caller)
		ctx = logging.IntoContext(ctx, logging.FromContext(ctx, "user_id", caller.UserID))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) notFound(w http.ResponseWriter, r *http.Request) {
	writeError(w, r, apierrors.New(apierrors.NotFound, "not found"))
}

// Credentials is the body of register and login requests.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func decodeCredentials(r *http.Request) (Credentials, error) {
	var c Credentials
	if err := json.NewDecoder(r.Body).Decode(&c); err != nil {
		return Credentials{}, apierrors.Wrap(apierrors.InvalidCredentials, err, "invalid credentials body")
	}
	return c, nil
}

func (s *Server) register(w http.ResponseWriter, r *http.Request) {
	c, err := decodeCredentials(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if _, err := s.accounts.Register(r.Context(), c.Username, c.Password); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// LoginResponse carries the signed token.
type LoginResponse struct {
	JWT string `json:"jwt"`
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	c, err := decodeCredentials(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	token, err := s.accounts.Login(r.Context(), c.Username, c.Password)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, LoginResponse{JWT: token})
}

func (s *Server) deleteUser(w http.ResponseWriter, r *http.Request) {
	if err := s.accounts.DeleteAccount(r.Context(), callerFrom(r.Context()).UserID); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// CreditsResponse carries the caller's balance.
type CreditsResponse struct {
	Credits int64 `json:"credits"`
}

func (s *Server) credits(w http.ResponseWriter, r *http.Request) {
	credits, err := s.platform.Credits(r.Context(), callerFrom(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, CreditsResponse{Credits: credits})
}

func (s *Server) modules(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page := platform.PageRequest{PageToken: q.Get("page_token")}
	if raw := q.Get("page_size"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, r, apierrors.Wrap(apierrors.InvalidPageToken, err, "invalid page size",
				apierrors.KV("page_size", raw)))
			return
		}
		page.PageSize = n
	}
	res, err := s.platform.List(r.Context(), callerFrom(r.Context()), page)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) deploy(w http.ResponseWriter, r *http.Request) {
	bytecode, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxModuleSize))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			err = apierrors.Wrap(apierrors.InvalidWasmModule, err, "module too large",
				apierrors.KV("limit", strconv.FormatInt(tooLarge.Limit, 10)))
		} else {
			err = apierrors.Wrap(apierrors.UnknownServerError, err, "failed to read module")
		}
		writeError(w, r, err)
		return
	}
	res, err := s.platform.Deploy(r.Context(), callerFrom(r.Context()), bytecode)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func moduleID(r *http.Request) (int64, error) {
	raw := mux.Vars(r)["id"]
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, apierrors.Wrap(apierrors.EndpointNotFound, err, "module not found", apierrors.KV("module_id", raw))
	}
	return id, nil
}

func (s *Server) deleteModule(w http.ResponseWriter, r *http.Request) {
	id, err := moduleID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.platform.Delete(r.Context(), callerFrom(r.Context()), id); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// CallRequest is the body of a function call.
type CallRequest struct {
	Params []json.RawMessage `json:"params"`
}

// CallResponse carries the values returned by a function.
type CallResponse struct {
	ReturnValue []json.RawMessage `json:"return_value"`
}

func (s *Server) call(w http.ResponseWriter, r *http.Request) {
	id, err := moduleID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req CallRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, apierrors.Wrap(apierrors.UnimplementedWasmType, err, "invalid call body"))
		return
	}
	out, err := s.platform.Call(r.Context(), callerFrom(r.Context()), id, mux.Vars(r)["func_name"], req.Params)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, CallResponse{ReturnValue: out})
}
