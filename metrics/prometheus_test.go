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

package metrics_test

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/redpanda-data/wasm-functions/metrics"
)

func TestPrometheus(t *testing.T) {
	reg := prometheus.NewRegistry()
	p, err := metrics.NewPrometheus(metrics.WithRegistry(reg), metrics.WithMetricsNamespace("fn"))
	require.NoError(t, err)

	p.FunctionCalled(metrics.OutcomeSuccess, time.Millisecond)
	p.FunctionCalled(metrics.OutcomeError, time.Millisecond)
	p.CacheLookup(true)
	p.CacheLookup(false)
	p.CacheLookup(false)
	p.UsersChanged(2)
	p.ModuleDeployed(1024)
	p.ObserveRequest("/api/v1/user/currency", "200", time.Millisecond)

	count, err := testutil.GatherAndCount(reg, "fn_function_call_counter", "fn_module_cache_lookups_total")
	require.NoError(t, err)
	assert.Equal(t, 4, count)

	rec := httptest.NewRecorder()
	p.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `fn_module_cache_lookups_total{result="miss"} 2`)
	assert.Contains(t, string(body), "fn_active_users 2")

	_, err = metrics.NewPrometheus(metrics.WithRegistry(reg), metrics.WithMetricsNamespace("fn"))
	require.Error(t, err, "registering twice must fail")
}

func TestNilPrometheusIsNoop(t *testing.T) {
	var p *metrics.Prometheus
	p.FunctionCalled(metrics.OutcomeSuccess, time.Second)
	p.CacheLookup(true)
	p.UsersChanged(1)
	p.ModuleDeployed(1)
	p.ObserveRequest("x", "200", time.Second)
	assert.NotNil(t, p.Handler())
}
