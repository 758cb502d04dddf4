// Copyright 2020-2025 Buf Technologies, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package incremental

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// metrics are the prometheus collectors of a Database.
//
// Databases sharing a registerer share their collectors, so their counts are
// aggregated.
type metrics struct {
	executions    *prometheus.CounterVec
	verifications *prometheus.CounterVec
	hits          *prometheus.CounterVec
	cycles        prometheus.Counter
}

func newMetrics(reg prometheus.Registerer) *metrics {
	return &metrics{
		executions: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hydent",
			Subsystem: "incremental",
			Name:      "executions_total",
			Help:      "Total number of query executions.",
		}, []string{"query"})),
		verifications: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hydent",
			Subsystem: "incremental",
			Name:      "verifications_total",
			Help:      "Total number of stale query results reused because none of their dependencies changed.",
		}, []string{"query"})),
		hits: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hydent",
			Subsystem: "incremental",
			Name:      "hits_total",
			Help:      "Total number of query results reused because they were already verified in the current revision.",
		}, []string{"query"})),
		cycles: register(reg, prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "hydent",
			Subsystem: "incremental",
			Name:      "cycles_total",
			Help:      "Total number of query dependency cycles detected.",
		})),
	}
}

// register registers c with reg, returning the collector already registered
// in its place if there is one. A nil reg registers nothing.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if reg == nil {
		return c
	}

	err := reg.Register(c)
	if err == nil {
		return c
	}
	var existing prometheus.AlreadyRegisteredError
	if errors.As(err, &existing) {
		if c, ok := existing.ExistingCollector.(C); ok {
			return c
		}
	}
	// Same behavior as MustRegister for any other error.
	panic(err)
}
