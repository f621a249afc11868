package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCategoryCounters(t *testing.T) {
	before := testutil.ToFloat64(notificationsScheduled.WithLabelValues("dailyShowUp"))
	RecordScheduled("dailyShowUp")
	RecordScheduled("dailyShowUp")
	if got := testutil.ToFloat64(notificationsScheduled.WithLabelValues("dailyShowUp")); got != before+2 {
		t.Errorf("expected %v, got %v", before+2, got)
	}

	before = testutil.ToFloat64(notificationsCancelled.WithLabelValues("activityReminder"))
	RecordCancelled("activityReminder", 5)
	if got := testutil.ToFloat64(notificationsCancelled.WithLabelValues("activityReminder")); got != before+5 {
		t.Errorf("expected %v, got %v", before+5, got)
	}

	RecordFiredEstimated("goalNudge")
	RecordOpened("goalNudge")
	RecordGuardDeferral("goalNudge", "cap")
	RecordDelivery("sent")
	RecordAnalyticsEvent("notification_opened")
}

func TestRecordReconcile(t *testing.T) {
	before := testutil.ToFloat64(reconcileRuns.WithLabelValues("skipped"))
	RecordReconcile("skipped", time.Second)
	RecordReconcile("ok", 10*time.Millisecond)
	if got := testutil.ToFloat64(reconcileRuns.WithLabelValues("skipped")); got != before+1 {
		t.Errorf("expected skipped run to be counted, got %v", got)
	}
}

func TestSetBreakerState(t *testing.T) {
	SetBreakerState("sns", 1)
	if got := testutil.ToFloat64(breakerState.WithLabelValues("sns")); got != 1 {
		t.Errorf("expected 1, got %v", got)
	}
}

func TestHandler(t *testing.T) {
	RecordScheduled("goalNudge")

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "nudge_notifications_scheduled_total") {
		t.Error("expected scheduled counter in exposition")
	}
}

func TestMiddleware_UsesRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(Middleware)
	r.Put("/v1/activities/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/v1/activities/abc", nil))

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if got := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("PUT", "/v1/activities/{id}", "204")); got != 1 {
		t.Errorf("expected one request under the route pattern, got %v", got)
	}
}
