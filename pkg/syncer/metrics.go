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

package syncer

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	cycleTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dbsync",
			Subsystem: "syncer",
			Name:      "cycles_total",
			Help:      "Total number of sync cycles by outcome.",
		}, []string{"result"})
	rowsSentTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "dbsync",
			Subsystem: "syncer",
			Name:      "rows_sent_total",
			Help:      "Total number of rows streamed to the server.",
		})
	syncedWatermarkGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "dbsync",
			Subsystem: "syncer",
			Name:      "synced_watermark_key",
			Help:      "Watermark key acknowledged by the most recent cycle.",
		})
	cycleDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "dbsync",
			Subsystem: "syncer",
			Name:      "cycle_duration_seconds",
			Help:      "Wall-clock duration of one sync cycle.",
			Buckets:   prometheus.DefBuckets,
		})
)

// InitMetrics registers all metrics in this package.
func InitMetrics(registry *prometheus.Registry) {
	registry.MustRegister(cycleTotal)
	registry.MustRegister(rowsSentTotal)
	registry.MustRegister(syncedWatermarkGauge)
	registry.MustRegister(cycleDuration)
}
