package notifier

import (
	"context"

	"go.uber.org/zap"

	"github.com/lalithlochan/nudge/internal/analytics"
	"github.com/lalithlochan/nudge/internal/domain"
)

// PermissionResult is what the app needs to show after a permission check.
// OpenSettings is set when only the system settings can change the answer.
type PermissionResult struct {
	Status       domain.PermissionStatus `json:"status"`
	Granted      bool                    `json:"granted"`
	Rationale    string                  `json:"rationale,omitempty"`
	OpenSettings bool                    `json:"openSettings"`
}

// EnsurePermissionWithRationale asks for permission if it was never asked.
// Denied and restricted are states, not errors: the caller directs the user
// to system settings.
func (s *Service) EnsurePermissionWithRationale(ctx context.Context, rationale string) PermissionResult {
	status, err := s.scheduler.Permissions(ctx)
	if err != nil {
		s.logger.Warn("failed to read notification permission", zap.Error(err))
		status = s.store.Snapshot().Preferences.OSPermissionStatus
	}

	s.track(ctx, analytics.PermissionPrompted, "", map[string]any{
		"rationale": rationale,
		"status":    string(status),
	})

	if status == domain.PermissionNotRequested {
		status = s.RequestOSPermission(ctx)
	} else {
		s.syncPermission(ctx, status)
	}

	return PermissionResult{
		Status:       status,
		Granted:      status == domain.PermissionAuthorized,
		Rationale:    rationale,
		OpenSettings: status == domain.PermissionDenied || status == domain.PermissionRestricted,
	}
}

// RequestOSPermission prompts the platform and stores the answer.
func (s *Service) RequestOSPermission(ctx context.Context) domain.PermissionStatus {
	status, err := s.scheduler.RequestPermissions(ctx)
	if err != nil {
		s.logger.Warn("permission request failed", zap.Error(err))
		return s.store.Snapshot().Preferences.OSPermissionStatus
	}
	s.syncPermission(ctx, status)
	return status
}

// syncPermission records a changed permission state. Gaining authorization
// schedules everything the preferences allow.
func (s *Service) syncPermission(ctx context.Context, status domain.PermissionStatus) {
	prev := s.store.Snapshot().Preferences.OSPermissionStatus
	if prev == status {
		return
	}
	s.store.SetNotificationPreferences(ctx, func(p domain.Preferences) domain.Preferences {
		p.OSPermissionStatus = status
		return p
	})
	s.logger.Info("notification permission changed",
		zap.String("from", string(prev)),
		zap.String("to", string(status)),
	)
	if status == domain.PermissionAuthorized {
		s.Sync(ctx)
	}
}
