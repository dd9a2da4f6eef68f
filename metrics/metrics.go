// Package metrics exposes Prometheus metrics for the session token lifecycle.
//
// All recording methods are safe to call on a nil *Metrics, so components can
// hold an optional instance without guarding every call site.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "authsession"

// Refresh episode results.
const (
	ResultSuccess   = "success"
	ResultFailure   = "failure"
	ResultAbandoned = "abandoned"
)

// Replay outcomes.
const (
	OutcomeOK      = "ok"
	OutcomeError   = "error"
	OutcomeSkipped = "skipped"
)

// Rejection reasons for buffered requests.
const (
	ReasonRefreshFailed = "refresh_failed"
	ReasonLoggedOut     = "logged_out"
)

// Metrics holds all Prometheus metrics for a token manager.
type Metrics struct {
	RefreshEpisodesTotal  *prometheus.CounterVec
	RefreshDuration       prometheus.Histogram
	PendingRequests       prometheus.Gauge
	ReplayedRequestsTotal *prometheus.CounterVec
	RejectedRequestsTotal *prometheus.CounterVec
	SessionActive         prometheus.Gauge
}

// NewMetrics creates and registers all metrics with the given registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		RefreshEpisodesTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "refresh_episodes_total",
				Help:      "Total number of token refresh episodes",
			},
			[]string{"result"}, // success/failure/abandoned
		),
		RefreshDuration: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "refresh_duration_seconds",
				Help:      "Duration of the tokenExpiration handler in seconds",
				Buckets:   prometheus.DefBuckets,
			},
		),
		PendingRequests: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "pending_requests",
				Help:      "Number of requests buffered by the current refresh episode",
			},
		),
		ReplayedRequestsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "replayed_requests_total",
				Help:      "Total number of buffered requests resent after a refresh",
			},
			[]string{"outcome"}, // ok/error/skipped
		),
		RejectedRequestsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rejected_requests_total",
				Help:      "Total number of buffered requests rejected without replay",
			},
			[]string{"reason"}, // refresh_failed/logged_out
		),
		SessionActive: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "session_active",
				Help:      "1 while a session is logged in and requests are intercepted",
			},
		),
	}
}

// ObserveRefresh records the end of a refresh episode.
func (m *Metrics) ObserveRefresh(result string, d time.Duration) {
	if m == nil {
		return
	}
	m.RefreshEpisodesTotal.WithLabelValues(result).Inc()
	m.RefreshDuration.Observe(d.Seconds())
}

// SetPending records the size of the pending-request buffer.
func (m *Metrics) SetPending(n int) {
	if m == nil {
		return
	}
	m.PendingRequests.Set(float64(n))
}

// IncReplayed counts a replayed request.
func (m *Metrics) IncReplayed(outcome string) {
	if m == nil {
		return
	}
	m.ReplayedRequestsTotal.WithLabelValues(outcome).Inc()
}

// AddRejected counts n buffered requests rejected for reason.
func (m *Metrics) AddRejected(reason string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.RejectedRequestsTotal.WithLabelValues(reason).Add(float64(n))
}

// SetActive records whether interception is active.
func (m *Metrics) SetActive(active bool) {
	if m == nil {
		return
	}
	if active {
		m.SessionActive.Set(1)
		return
	}
	m.SessionActive.Set(0)
}
