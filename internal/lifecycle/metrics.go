// Copyright 2025 Tom Barlow
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

package lifecycle

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	checkCycles = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tether_lifecycle_check_cycles_total",
		Help: "Total liveness watcher check cycles run",
	})

	detections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tether_lifecycle_detections_total",
			Help: "Total positive liveness detections by reason",
		},
		[]string{"reason"},
	)

	shutdownTriggers = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tether_lifecycle_shutdown_triggers_total",
			Help: "Total shutdown triggers by outcome (honored, suppressed)",
		},
		[]string{"outcome"},
	)

	cleanupDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tether_lifecycle_cleanup_duration_seconds",
		Help:    "Duration of the shutdown cleanup hook",
		Buckets: prometheus.DefBuckets,
	})
)
