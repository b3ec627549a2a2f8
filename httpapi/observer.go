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

package httpapi

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
)

// RequestMetadata describes a served request. The route is the matched
// path template, or "none" when no route matched.
type RequestMetadata struct {
	startAt        time.Time
	duration       time.Duration
	route          string
	method         string
	requestURI     string
	peerAddress    string
	bytesReceived  int64
	bytesSent      int64
	httpStatusCode int
	err            error
}

// Duration returns how long the request took to serve.
func (r *RequestMetadata) Duration() time.Duration { return r.duration }

// Route returns the matched route template.
func (r *RequestMetadata) Route() string { return r.route }

// Method returns the HTTP method.
func (r *RequestMetadata) Method() string { return r.method }

// RequestURI returns the raw request URI.
func (r *RequestMetadata) RequestURI() string { return r.requestURI }

// PeerAddress returns the remote address.
func (r *RequestMetadata) PeerAddress() string { return r.peerAddress }

// BytesReceived returns the number of body bytes read by the handler.
func (r *RequestMetadata) BytesReceived() int64 { return r.bytesReceived }

// BytesSent returns the number of body bytes written.
func (r *RequestMetadata) BytesSent() int64 { return r.bytesSent }

// StatusCode returns the response status. Handlers that never call
// WriteHeader answer 200.
func (r *RequestMetadata) StatusCode() int {
	if r.httpStatusCode == 0 {
		return http.StatusOK
	}
	return r.httpStatusCode
}

// Err returns the error written to the response, if any.
func (r *RequestMetadata) Err() error { return r.err }

type requestMetadataKey struct{}

func setRequestMetadata(ctx context.Context, rm *RequestMetadata) context.Context {
	return context.WithValue(ctx, requestMetadataKey{}, rm)
}

func getRequestMetadata(ctx context.Context) *RequestMetadata {
	rm, _ := ctx.Value(requestMetadataKey{}).(*RequestMetadata)
	return rm
}

// Observer measures every request and reports it once the response is
// written.
type Observer struct {
	onRequestEnded func(context.Context, *RequestMetadata)
}

// NewObserver creates a new Observer.
func NewObserver(onRequestEnded func(context.Context, *RequestMetadata)) *Observer {
	return &Observer{onRequestEnded: onRequestEnded}
}

// WrapHandler mounts the observer in front of next.
func (o *Observer) WrapHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rm := &RequestMetadata{
			startAt:     time.Now(),
			route:       "none",
			method:      r.Method,
			requestURI:  r.RequestURI,
			peerAddress: r.RemoteAddr,
		}
		r = r.WithContext(setRequestMetadata(r.Context(), rm))
		r.Body = bodyReader{base: r.Body, bytesRead: &rm.bytesReceived}

		next.ServeHTTP(&responseRecorder{base: w, rm: rm}, r)

		rm.duration = time.Since(rm.startAt)
		o.onRequestEnded(r.Context(), rm)
	})
}

// routeMiddleware records the matched route template. It runs inside the
// router, after matching.
func routeMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if rm := getRequestMetadata(r.Context()); rm != nil {
			if route := mux.CurrentRoute(r); route != nil {
				if tpl, err := route.GetPathTemplate(); err == nil {
					rm.route = tpl
				}
			}
		}
		next.ServeHTTP(w, r)
	})
}

func statusLabel(rm *RequestMetadata) string {
	return strconv.Itoa(rm.StatusCode())
}

type bodyReader struct {
	base      io.ReadCloser
	bytesRead *int64
}

func (r bodyReader) Read(p []byte) (int, error) {
	n, err := r.base.Read(p)
	*r.bytesRead += int64(n)
	return n, err
}

func (r bodyReader) Close() error {
	return r.base.Close()
}

type responseRecorder struct {
	base http.ResponseWriter
	rm   *RequestMetadata
}

func (r *responseRecorder) Header() http.Header {
	return r.base.Header()
}

func (r *responseRecorder) Write(p []byte) (int, error) {
	n, err := r.base.Write(p)
	r.rm.bytesSent += int64(n)
	return n, err
}

func (r *responseRecorder) WriteHeader(statusCode int) {
	r.rm.httpStatusCode = statusCode
	r.base.WriteHeader(statusCode)
}

func (r *responseRecorder) Flush() {
	if f, ok := r.base.(http.Flusher); ok {
		f.Flush()
	}
}

func (r *responseRecorder) Unwrap() http.ResponseWriter {
	return r.base
}
