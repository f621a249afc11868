package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nudge_http_requests_total",
			Help: "Total HTTP requests by method, route, and status",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nudge_http_request_duration_seconds",
			Help:    "HTTP request latency distribution",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	notificationsScheduled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nudge_notifications_scheduled_total",
			Help: "Notification requests handed to the scheduler by category",
		},
		[]string{"category"},
	)

	notificationsCancelled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nudge_notifications_cancelled_total",
			Help: "Notification requests cancelled by category",
		},
		[]string{"category"},
	)

	notificationsFired = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nudge_notifications_fired_estimated_total",
			Help: "Notifications inferred as fired during reconciliation",
		},
		[]string{"category"},
	)

	notificationsOpened = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nudge_notifications_opened_total",
			Help: "Notifications opened by the user",
		},
		[]string{"category"},
	)

	guardDeferrals = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nudge_guard_deferrals_total",
			Help: "System nudges pushed to a later day by the guards",
		},
		[]string{"category", "reason"},
	)

	reconcileRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nudge_reconcile_runs_total",
			Help: "Reconciliation passes by outcome",
		},
		[]string{"outcome"},
	)

	reconcileDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "nudge_reconcile_duration_seconds",
			Help:    "Time spent in a reconciliation pass",
			Buckets: []float64{.001, .005, .01, .05, .1, .5, 1, 5},
		},
	)

	deliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nudge_deliveries_total",
			Help: "Fired notifications relayed by the dispatcher",
		},
		[]string{"status"},
	)

	breakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "nudge_transport_breaker_state",
			Help: "Circuit breaker state per transport (0 closed, 1 open, 2 half-open)",
		},
		[]string{"transport"},
	)

	analyticsEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nudge_analytics_events_total",
			Help: "Analytics events emitted by name",
		},
		[]string{"event"},
	)
)

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordRequest records HTTP request metrics
func RecordRequest(method, path string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

func RecordScheduled(category string) {
	notificationsScheduled.WithLabelValues(category).Inc()
}

func RecordCancelled(category string, n int) {
	notificationsCancelled.WithLabelValues(category).Add(float64(n))
}

func RecordFiredEstimated(category string) {
	notificationsFired.WithLabelValues(category).Inc()
}

func RecordOpened(category string) {
	notificationsOpened.WithLabelValues(category).Inc()
}

// RecordGuardDeferral counts a nudge moved off a day; reason is one of
// cap, spacing, stacking, horizon.
func RecordGuardDeferral(category, reason string) {
	guardDeferrals.WithLabelValues(category, reason).Inc()
}

// RecordReconcile records a pass; outcome is ok, skipped or error.
func RecordReconcile(outcome string, duration time.Duration) {
	reconcileRuns.WithLabelValues(outcome).Inc()
	if outcome != "skipped" {
		reconcileDuration.Observe(duration.Seconds())
	}
}

func RecordDelivery(status string) {
	deliveries.WithLabelValues(status).Inc()
}

func SetBreakerState(transport string, state int) {
	breakerState.WithLabelValues(transport).Set(float64(state))
}

func RecordAnalyticsEvent(name string) {
	analyticsEvents.WithLabelValues(name).Inc()
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// Middleware records request metrics labelled by the matched chi route so
// activity ids don't explode the label set.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				path = pattern
			}
		}
		RecordRequest(r.Method, path, wrapped.status, time.Since(start))
	})
}
