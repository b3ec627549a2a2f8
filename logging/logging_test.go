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

package logging_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/go-logr/logr"
	"github.com/go-logr/logr/funcr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/redpanda-data/wasm-functions/logging"
)

func capture(lines *[]string) logr.Logger {
	return funcr.New(func(prefix, args string) {
		*lines = append(*lines, strings.TrimSpace(prefix+" "+args))
	}, funcr.Options{Verbosity: 1})
}

func TestSetGlobals(t *testing.T) {
	var buf bytes.Buffer
	logger := logr.FromSlogHandler(slog.NewTextHandler(&buf, &slog.HandlerOptions{}))

	logging.SetGlobals(logger)
	t.Cleanup(func() { logging.SetGlobals(logr.Discard()) })

	slog.Info("Hello from slog")
	logging.Info(context.TODO(), "Hello from logging")

	require.Contains(t, buf.String(), "Hello from slog")
	require.Contains(t, buf.String(), "Hello from logging")
}

func TestFromContext(t *testing.T) {
	var lines []string
	ctx := logging.IntoContext(context.Background(), capture(&lines))

	logging.FromContext(ctx, "request_id", "r1").Info("hello")
	logging.Error(ctx, errors.New("boom"), "failed", "user_id", 7)

	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], `"request_id"="r1"`)
	assert.Contains(t, lines[1], `"error"="boom"`)
	assert.Contains(t, lines[1], `"user_id"=7`)
}

func TestTee(t *testing.T) {
	var a, b []string
	l := logging.Tee(capture(&a), capture(&b)).WithName("engine").WithValues("k", "v")

	l.Info("compiled")
	l.V(1).Info("detail")
	l.V(2).Info("dropped")

	assert.Len(t, a, 2)
	assert.Len(t, b, 2)
	assert.Contains(t, a[0], "engine")
	assert.Contains(t, b[1], `"k"="v"`)
}

func TestNewZap(t *testing.T) {
	var buf bytes.Buffer
	l, err := logging.NewZap("debug", &buf)
	require.NoError(t, err)

	l.Info("visible", "n", 1)
	l.V(1).Info("debug visible")
	l.V(2).Info("trace hidden")

	out := buf.String()
	assert.Contains(t, out, `"msg":"visible"`)
	assert.Contains(t, out, `"n":1`)
	assert.Contains(t, out, "debug visible")
	assert.NotContains(t, out, "trace hidden")

	_, err = logging.NewZap("loud", &buf)
	require.Error(t, err)
}
