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

package session

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	sessionsLaunched = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tether_sessions_launched_total",
		Help: "Total driven-application sessions launched",
	})

	sessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tether_sessions_active",
		Help: "Currently registered driven-application sessions",
	})

	launchFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tether_session_launch_failures_total",
		Help: "Total failed driven-application launches",
	})
)
