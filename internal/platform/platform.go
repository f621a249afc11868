// Package platform is the contract of the device notification scheduler the
// engine talks to, plus an in-process implementation with the same
// observable semantics: one-shot requests vanish from the scheduled list
// once they fire, and nothing tells the caller that they did.
package platform

import (
	"context"
	"errors"
	"time"

	"github.com/lalithlochan/nudge/internal/domain"
)

var (
	// ErrNotAuthorized is returned when scheduling without permission.
	ErrNotAuthorized = errors.New("notification permission not granted")
	// ErrTriggerExpired is returned for a trigger that can never fire.
	ErrTriggerExpired = errors.New("trigger never fires")
)

// Content is what the user sees plus the opaque data the platform stores.
type Content struct {
	Title string         `json:"title"`
	Body  string         `json:"body"`
	Data  map[string]any `json:"data,omitempty"`
}

// Request is a scheduled notification as reported by the platform.
type Request struct {
	Identifier string  `json:"identifier"`
	Content    Content `json:"content"`
	Trigger    Trigger `json:"trigger"`
}

// Delivery is a request that fired.
type Delivery struct {
	Request
	FiredAt time.Time `json:"firedAt"`
}

// Scheduler is the platform notification API.
type Scheduler interface {
	Schedule(ctx context.Context, content Content, trigger Trigger) (string, error)
	Cancel(ctx context.Context, id string) error
	ListScheduled(ctx context.Context) ([]Request, error)
	Permissions(ctx context.Context) (domain.PermissionStatus, error)
	RequestPermissions(ctx context.Context) (domain.PermissionStatus, error)
}
