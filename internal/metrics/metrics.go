// Package metrics holds the Prometheus instruments of the database.
//
// A nil *Metrics is valid and records nothing, so components can take one
// unconditionally.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "edb"

// Commit outcomes.
const (
	OutcomeCommitted = "committed"
	OutcomeRejected  = "rejected"
	OutcomeFailed    = "failed"
)

// Metrics are the database's counters and histograms.
type Metrics struct {
	commits          *prometheus.CounterVec
	failures         *prometheus.CounterVec
	snapshotsWritten prometheus.Counter
	applyDuration    *prometheus.HistogramVec
	readDuration     *prometheus.HistogramVec
	cacheLookups     *prometheus.CounterVec
}

// New creates the instruments and registers them with reg.
// A nil reg creates unregistered instruments (useful in tests).
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		commits: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "commit",
			Name:      "total",
			Help:      "Commits submitted, by outcome.",
		}, []string{"outcome"}),
		failures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "commit",
			Name:      "failures_total",
			Help:      "Commits that were not applied, by error code.",
		}, []string{"code"}),
		snapshotsWritten: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "commit",
			Name:      "snapshots_written_total",
			Help:      "Snapshots (including tombstones) written by applied commits.",
		}),
		applyDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "commit",
			Name:      "apply_duration_seconds",
			Help:      "Time to apply a commit, by outcome.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
		}, []string{"outcome"}),
		readDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "query",
			Name:      "duration_seconds",
			Help:      "Time to answer a read, by operation.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 14),
		}, []string{"op"}),
		cacheLookups: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "commit_cache",
			Name:      "lookups_total",
			Help:      "Commit metadata cache lookups, by result.",
		}, []string{"result"}),
	}
}

// ObserveCommit records one Apply call.
func (m *Metrics) ObserveCommit(outcome string, d time.Duration, snapshots int) {
	if m == nil {
		return
	}
	m.commits.WithLabelValues(outcome).Inc()
	m.applyDuration.WithLabelValues(outcome).Observe(d.Seconds())
	if snapshots > 0 {
		m.snapshotsWritten.Add(float64(snapshots))
	}
}

// ObserveFailure counts a commit that was not applied.
func (m *Metrics) ObserveFailure(code string) {
	if m == nil {
		return
	}
	if code == "" {
		code = "unknown"
	}
	m.failures.WithLabelValues(code).Inc()
}

// ReadTimer starts timing a read. Call ObserveDuration on the result.
func (m *Metrics) ReadTimer(op string) *prometheus.Timer {
	if m == nil {
		return prometheus.NewTimer(prometheus.ObserverFunc(func(float64) {}))
	}
	return prometheus.NewTimer(m.readDuration.WithLabelValues(op))
}

// CacheLookup counts a commit cache hit or miss.
func (m *Metrics) CacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}
