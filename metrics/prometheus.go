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

// Package metrics provides the Prometheus collectors of the function
// platform.
//
// A nil *Prometheus is valid and records nothing, so components can be
// constructed without metrics in tests.
package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome labels for function calls.
const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
)

// Prometheus holds all collectors.
type Prometheus struct {
	registry         prometheus.Registerer
	gatherer         prometheus.Gatherer
	constLabels      prometheus.Labels
	metricsNamespace string

	requestDuration *prometheus.HistogramVec
	functionCalls   *prometheus.CounterVec
	callDuration    prometheus.Histogram
	activeUsers     prometheus.Gauge
	wasmCodeSize    prometheus.Histogram
	cacheLookups    *prometheus.CounterVec
}

// NewPrometheus creates and registers all collectors. If it fails to
// register a collector an error will be returned.
func NewPrometheus(opts ...Option) (*Prometheus, error) {
	p := &Prometheus{}
	for _, o := range opts {
		o(p)
	}
	if p.registry == nil {
		p.registry = prometheus.DefaultRegisterer
	}
	if p.gatherer == nil {
		if g, ok := p.registry.(prometheus.Gatherer); ok {
			p.gatherer = g
		} else {
			p.gatherer = prometheus.DefaultGatherer
		}
	}

	p.requestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace:   p.metricsNamespace,
		Name:        "request_duration_seconds",
		Help:        "Time (in seconds) spent in serving requests",
		ConstLabels: p.constLabels,
		Buckets:     prometheus.DefBuckets,
	}, []string{"procedure", "status"})
	p.functionCalls = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   p.metricsNamespace,
		Name:        "function_call_counter",
		Help:        "Number of guest function calls",
		ConstLabels: p.constLabels,
	}, []string{"outcome"})
	p.callDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace:   p.metricsNamespace,
		Name:        "function_call_response_time",
		Help:        "Time (in seconds) spent serving a guest function call",
		ConstLabels: p.constLabels,
		Buckets:     prometheus.DefBuckets,
	})
	p.activeUsers = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace:   p.metricsNamespace,
		Name:        "active_users",
		Help:        "Number of registered accounts known to this process",
		ConstLabels: p.constLabels,
	})
	p.wasmCodeSize = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace:   p.metricsNamespace,
		Name:        "wasm_code_size",
		Help:        "Size (in bytes) of deployed modules",
		ConstLabels: p.constLabels,
		Buckets:     prometheus.ExponentialBuckets(256, 4, 10),
	})
	p.cacheLookups = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   p.metricsNamespace,
		Name:        "module_cache_lookups_total",
		Help:        "Compiled module cache lookups by result",
		ConstLabels: p.constLabels,
	}, []string{"result"})

	var errs []error
	for _, c := range []prometheus.Collector{
		p.requestDuration, p.functionCalls, p.callDuration,
		p.activeUsers, p.wasmCodeSize, p.cacheLookups,
	} {
		errs = append(errs, p.registry.Register(c))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return p, nil
}

// ObserveRequest records a finished API request.
func (p *Prometheus) ObserveRequest(procedure, status string, d time.Duration) {
	if p == nil {
		return
	}
	p.requestDuration.WithLabelValues(procedure, status).Observe(d.Seconds())
}

// FunctionCalled records a guest function call.
func (p *Prometheus) FunctionCalled(outcome string, d time.Duration) {
	if p == nil {
		return
	}
	p.functionCalls.WithLabelValues(outcome).Inc()
	p.callDuration.Observe(d.Seconds())
}

// ModuleDeployed records the size of a deployed module.
func (p *Prometheus) ModuleDeployed(size int) {
	if p == nil {
		return
	}
	p.wasmCodeSize.Observe(float64(size))
}

// UsersChanged adjusts the active user gauge by delta.
func (p *Prometheus) UsersChanged(delta int) {
	if p == nil {
		return
	}
	p.activeUsers.Add(float64(delta))
}

// CacheLookup records a compiled module cache lookup.
func (p *Prometheus) CacheLookup(hit bool) {
	if p == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	p.cacheLookups.WithLabelValues(result).Inc()
}

// Handler serves the registered metrics in the Prometheus text format.
func (p *Prometheus) Handler() http.Handler {
	if p == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(p.gatherer, promhttp.HandlerOpts{})
}
