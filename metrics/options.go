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

package metrics

import "github.com/prometheus/client_golang/prometheus"

// Option is a functional option type that allows us to configure the Prometheus type.
type Option func(*Prometheus)

// WithRegistry allows to provide a prometheus registry. If not provided, the default
// global Prometheus registry will be used. When the registerer is also a
// Gatherer it backs Handler.
func WithRegistry(registry prometheus.Registerer) Option {
	return func(p *Prometheus) {
		p.registry = registry
	}
}

// WithConstLabels can be used to attach static labels to the exported metrics.
func WithConstLabels(labels map[string]string) Option {
	return func(p *Prometheus) {
		p.constLabels = labels
	}
}

// WithMetricsNamespace can be used to set the metrics namespace for all exported metrics.
func WithMetricsNamespace(metricsNamespace string) Option {
	return func(p *Prometheus) {
		p.metricsNamespace = metricsNamespace
	}
}
