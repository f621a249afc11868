// Package analytics receives the engine's telemetry events. Tracking is
// best-effort: a Tracker never returns an error and never blocks
// scheduling on a slow sink.
package analytics

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/lalithlochan/nudge/internal/metrics"
	"github.com/lalithlochan/nudge/internal/notification"
)

// Event names.
const (
	NotificationScheduled      = "NotificationScheduled"
	NotificationCancelled      = "NotificationCancelled"
	NotificationFiredEstimated = "NotificationFiredEstimated"
	NotificationReceived       = "NotificationReceived"
	NotificationOpened         = "NotificationOpened"
	NotificationDeferred       = "NotificationDeferred"
	PermissionPrompted         = "NotificationPermissionPrompted"
)

// Event is one telemetry record.
type Event struct {
	Name       string                `json:"name"`
	Category   notification.Category `json:"category,omitempty"`
	Properties map[string]any        `json:"properties,omitempty"`
	At         time.Time             `json:"at"`
}

// Tracker consumes events.
type Tracker interface {
	Track(ctx context.Context, e Event)
}

// Multi forwards to every tracker in order.
type Multi []Tracker

func (m Multi) Track(ctx context.Context, e Event) {
	for _, t := range m {
		t.Track(ctx, e)
	}
}

// Nop drops everything.
type Nop struct{}

func (Nop) Track(context.Context, Event) {}

// LogTracker writes events to the structured log at debug level.
type LogTracker struct {
	logger *zap.Logger
}

func NewLogTracker(logger *zap.Logger) *LogTracker {
	return &LogTracker{logger: logger}
}

func (t *LogTracker) Track(_ context.Context, e Event) {
	t.logger.Debug("analytics event",
		zap.String("event", e.Name),
		zap.String("category", string(e.Category)),
		zap.Any("properties", e.Properties),
		zap.Time("at", e.At),
	)
}

// MetricsTracker maps events onto Prometheus counters.
type MetricsTracker struct{}

func (MetricsTracker) Track(_ context.Context, e Event) {
	metrics.RecordAnalyticsEvent(e.Name)
	category := string(e.Category)
	switch e.Name {
	case NotificationScheduled:
		metrics.RecordScheduled(category)
	case NotificationCancelled:
		n, _ := e.Properties["count"].(int)
		if n == 0 {
			n = 1
		}
		metrics.RecordCancelled(category, n)
	case NotificationFiredEstimated:
		metrics.RecordFiredEstimated(category)
	case NotificationOpened:
		metrics.RecordOpened(category)
	case NotificationDeferred:
		reason, _ := e.Properties["reason"].(string)
		metrics.RecordGuardDeferral(category, reason)
	}
}
