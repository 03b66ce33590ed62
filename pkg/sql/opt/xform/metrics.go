// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package xform

import (
	"time"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the counters of the optimizers sharing it. A nil *Metrics
// records nothing.
type Metrics struct {
	Optimizations       *prometheus.CounterVec
	RuleApplications    *prometheus.CounterVec
	Tasks               *prometheus.CounterVec
	UnsupportedPatterns *prometheus.CounterVec
	PrunedPlans         prometheus.Counter
	MemoGroups          prometheus.Histogram
	Latency             prometheus.Histogram
}

const metricsNamespace = "cascades"

// NewMetrics returns unregistered optimizer metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		Optimizations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "optimizer",
			Name:      "optimizations_total",
			Help:      "Number of optimizations by outcome.",
		}, []string{"outcome"}),
		RuleApplications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "optimizer",
			Name:      "rule_applications_total",
			Help:      "Number of rule applications that changed the memo.",
		}, []string{"rule", "kind"}),
		Tasks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "optimizer",
			Name:      "tasks_total",
			Help:      "Number of search tasks executed by kind.",
		}, []string{"kind"}),
		UnsupportedPatterns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "optimizer",
			Name:      "unsupported_patterns_total",
			Help:      "Number of rule failures recorded as unsupported patterns.",
		}, []string{"rule"}),
		PrunedPlans: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "optimizer",
			Name:      "pruned_plans_total",
			Help:      "Number of physical alternatives abandoned by cost bounds.",
		}),
		MemoGroups: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "optimizer",
			Name:      "memo_groups",
			Help:      "Number of live memo groups at the end of an optimization.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 14),
		}),
		Latency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "optimizer",
			Name:      "latency_seconds",
			Help:      "Time spent optimizing a query.",
			Buckets:   prometheus.ExponentialBuckets(1e-5, 4, 12),
		}),
	}
}

// Register registers the metrics with r.
func (m *Metrics) Register(r prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{
		m.Optimizations, m.RuleApplications, m.Tasks, m.UnsupportedPatterns,
		m.PrunedPlans, m.MemoGroups, m.Latency,
	} {
		if err := r.Register(c); err != nil {
			return errors.Wrap(err, "registering optimizer metrics")
		}
	}
	return nil
}

func (m *Metrics) optimized(outcome string, groups int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.Optimizations.WithLabelValues(outcome).Inc()
	m.MemoGroups.Observe(float64(groups))
	m.Latency.Observe(elapsed.Seconds())
}

func (m *Metrics) ruleApplied(r *Rule) {
	if m == nil {
		return
	}
	m.RuleApplications.WithLabelValues(r.Name.String(), r.Kind.String()).Inc()
}

func (m *Metrics) taskExecuted(kind TaskKind) {
	if m == nil {
		return
	}
	m.Tasks.WithLabelValues(kind.String()).Inc()
}

func (m *Metrics) unsupportedPattern(r *Rule) {
	if m == nil {
		return
	}
	m.UnsupportedPatterns.WithLabelValues(r.Name.String()).Inc()
}

func (m *Metrics) pruned() {
	if m == nil {
		return
	}
	m.PrunedPlans.Inc()
}
