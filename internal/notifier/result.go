package notifier

import (
	"time"

	"github.com/lalithlochan/nudge/internal/notification"
)

// Status is the outcome of one operation.
type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusCancelled Status = "cancelled"
	StatusSkipped   Status = "skipped"
	StatusFailed    Status = "failed"
)

// Skip and failure reasons.
const (
	ReasonDisabled      = "notifications_disabled"
	ReasonNotAuthorized = "permission_not_granted"
	ReasonCategoryOff   = "category_disallowed"
	ReasonNoReminder    = "no_reminder"
	ReasonInvalidTime   = "invalid_time"
	ReasonCompleted     = "completed"
	ReasonInPast        = "in_past"
	ReasonNotFound      = "not_found"
	ReasonNoCandidate   = "no_candidate"
	ReasonNoSlot        = "no_slot"
	ReasonPlatformError = "platform_error"
	ReasonCancelled     = "cancelled"
)

// Result reports what an operation did.
type Result struct {
	Category   notification.Category `json:"category"`
	ActivityID string                `json:"activityId,omitempty"`
	Status     Status                `json:"status"`
	Reason     string                `json:"reason,omitempty"`
	IDs        []string              `json:"ids,omitempty"`
	FireAt     *time.Time            `json:"fireAt,omitempty"`
	Deferrals  []string              `json:"deferrals,omitempty"`
	Error      string                `json:"error,omitempty"`
	Err        error                 `json:"-"`
}

func skipped(c notification.Category, reason string) Result {
	return Result{Category: c, Status: StatusSkipped, Reason: reason}
}

func failed(c notification.Category, err error) Result {
	return Result{Category: c, Status: StatusFailed, Reason: ReasonPlatformError, Error: err.Error(), Err: err}
}
