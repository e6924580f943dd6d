// Copyright 2024 dbsync Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// See the License for the specific language governing permissions and
// limitations under the License.

package server

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	connectionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "dbsync",
			Subsystem: "server",
			Name:      "connections_total",
			Help:      "Total number of accepted replication connections.",
		})
	rowsAppliedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "dbsync",
			Subsystem: "server",
			Name:      "rows_applied_total",
			Help:      "Total number of rows applied to the target table.",
		})
	batchesAppliedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "dbsync",
			Subsystem: "server",
			Name:      "batches_applied_total",
			Help:      "Total number of batches applied to the target table.",
		})
	applyErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "dbsync",
			Subsystem: "server",
			Name:      "apply_errors_total",
			Help:      "Total number of batches rejected by the target database.",
		})
	protocolErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "dbsync",
			Subsystem: "server",
			Name:      "protocol_errors_total",
			Help:      "Total number of connections dropped on protocol corruption.",
		})
	appliedWatermarkGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "dbsync",
			Subsystem: "server",
			Name:      "applied_watermark_key",
			Help:      "Highest watermark key durably applied at the target.",
		})
)

// InitMetrics registers all metrics in this package.
func InitMetrics(registry *prometheus.Registry) {
	registry.MustRegister(connectionsTotal)
	registry.MustRegister(rowsAppliedTotal)
	registry.MustRegister(batchesAppliedTotal)
	registry.MustRegister(applyErrorsTotal)
	registry.MustRegister(protocolErrorsTotal)
	registry.MustRegister(appliedWatermarkGauge)
}
