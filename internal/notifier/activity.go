package notifier

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/lalithlochan/nudge/internal/analytics"
	"github.com/lalithlochan/nudge/internal/domain"
	"github.com/lalithlochan/nudge/internal/ledger"
	"github.com/lalithlochan/nudge/internal/notification"
	"github.com/lalithlochan/nudge/internal/platform"
)

// Eligible decides whether an activity should have a reminder pending.
// reason is empty when it should.
func Eligible(a domain.Activity, prefs domain.Preferences, now time.Time) (ok bool, reason string) {
	switch {
	case !prefs.NotificationsEnabled:
		return false, ReasonDisabled
	case !prefs.AllowActivityReminders:
		return false, ReasonCategoryOff
	case !prefs.Delivering():
		return false, ReasonNotAuthorized
	case a.ReminderAt == nil:
		return false, ReasonNoReminder
	case a.ReminderAt.IsZero():
		return false, ReasonInvalidTime
	case a.Status == domain.ActivityDone:
		return false, ReasonCompleted
	case !a.Repeating() && !a.ReminderAt.After(now):
		return false, ReasonInPast
	}
	return true, ""
}

// occurrence is one platform request an activity reminder needs.
type occurrence struct {
	trigger platform.Trigger
	fireAt  time.Time
}

// reminderOccurrences expands an activity's repeat rule into triggers at the
// reminder's local time of day.
func (s *Service) reminderOccurrences(a domain.Activity, now time.Time) []occurrence {
	at := a.ReminderAt.In(s.cfg.Location)
	h, m := at.Hour(), at.Minute()

	native := func(triggers ...platform.Trigger) []occurrence {
		out := make([]occurrence, 0, len(triggers))
		for _, t := range triggers {
			if next, ok := t.NextAfter(now, s.cfg.Location); ok {
				out = append(out, occurrence{trigger: t, fireAt: next})
			}
		}
		return out
	}
	once := func() []occurrence {
		if !at.After(now) {
			return nil
		}
		return []occurrence{{trigger: platform.DateTrigger(at), fireAt: at}}
	}

	switch a.RepeatRule {
	case domain.RepeatNone:
		return once()
	case domain.RepeatDaily:
		return native(platform.DailyTrigger(h, m))
	case domain.RepeatWeekly:
		return native(platform.WeeklyTrigger(at.Weekday(), h, m))
	case domain.RepeatWeekdays:
		return native(
			platform.WeeklyTrigger(time.Monday, h, m),
			platform.WeeklyTrigger(time.Tuesday, h, m),
			platform.WeeklyTrigger(time.Wednesday, h, m),
			platform.WeeklyTrigger(time.Thursday, h, m),
			platform.WeeklyTrigger(time.Friday, h, m),
		)
	case domain.RepeatMonthly:
		return native(platform.MonthlyTrigger(at.Day(), h, m))
	case domain.RepeatYearly:
		return native(platform.YearlyTrigger(at.Month(), at.Day(), h, m))
	case domain.RepeatCustom:
		if a.RepeatCustom == nil {
			return once()
		}
		times, ok := ExpandCustom(at, *a.RepeatCustom, now, s.cfg.CustomOccurrences)
		if !ok {
			return once()
		}
		out := make([]occurrence, 0, len(times))
		for _, t := range times {
			out = append(out, occurrence{trigger: platform.DateTrigger(t), fireAt: t})
		}
		return out
	}
	return once()
}

func reminderContent(a domain.Activity) platform.Content {
	title := "Reminder"
	if a.Title != "" {
		title = a.Title
	}
	return platform.Content{
		Title: title,
		Body:  "It's time for this activity.",
		Data:  notification.ForActivity(a.ID).Map(),
	}
}

// ScheduleActivityReminder cancels every notification tagged with the
// activity and schedules it again from the current snapshot.
func (s *Service) ScheduleActivityReminder(ctx context.Context, activityID string) Result {
	unlock := s.locks.lock("activity:" + activityID)
	defer unlock()
	return s.scheduleActivityLocked(ctx, activityID)
}

func (s *Service) scheduleActivityLocked(ctx context.Context, activityID string) Result {
	now := s.now()
	snap := s.store.Snapshot()

	cancelled := s.cancelActivityLocked(ctx, activityID)

	a, found := snap.Activity(activityID)
	if !found {
		return s.activitySkip(activityID, ReasonNotFound, cancelled)
	}
	if ok, reason := Eligible(a, snap.Preferences, now); !ok {
		return s.activitySkip(activityID, reason, cancelled)
	}

	occurrences := s.reminderOccurrences(a, now)
	if len(occurrences) == 0 {
		return s.activitySkip(activityID, ReasonInPast, cancelled)
	}

	content := reminderContent(a)
	var ids []string
	var first time.Time
	var lastErr error
	fireTimes := make(map[string]time.Time, len(occurrences))
	for _, occ := range occurrences {
		id, err := s.scheduler.Schedule(ctx, content, occ.trigger)
		if err != nil {
			lastErr = err
			s.logger.Debug("failed to schedule activity reminder",
				zap.String("activity_id", activityID),
				zap.Time("fire_at", occ.fireAt),
				zap.Error(err),
			)
			continue
		}
		ids = append(ids, id)
		fireTimes[id] = occ.fireAt
		if first.IsZero() || occ.fireAt.Before(first) {
			first = occ.fireAt
		}
	}
	if len(ids) == 0 {
		res := failed(notification.ActivityReminder, fmt.Errorf("schedule activity reminder: %w", lastErr))
		res.ActivityID = activityID
		return res
	}

	s.cacheMu.Lock()
	s.activityIDs[activityID] = ids
	s.cacheMu.Unlock()

	local := domain.ClockOf(a.ReminderAt.In(s.cfg.Location)).String()
	if err := s.ledger.SaveActivityReminder(ctx, activityID, func(e *ledger.Entry) {
		e.NotificationID = ids[0]
		e.NotificationIDs = ids
		e.ScheduleTimeLocal = local
		e.ScheduledFor = &first
		e.FireTimes = fireTimes
		e.CancelledAt = nil
	}); err != nil {
		s.logger.Debug("ledger write failed", zap.String("activity_id", activityID), zap.Error(err))
	}

	s.track(ctx, analytics.NotificationScheduled, notification.ActivityReminder, map[string]any{
		"activityId": activityID,
		"count":      len(ids),
		"repeat":     string(a.RepeatRule),
	})

	return Result{
		Category:   notification.ActivityReminder,
		ActivityID: activityID,
		Status:     StatusScheduled,
		IDs:        ids,
		FireAt:     &first,
	}
}

func (s *Service) activitySkip(activityID, reason string, cancelled []string) Result {
	res := skipped(notification.ActivityReminder, reason)
	res.ActivityID = activityID
	if len(cancelled) > 0 {
		res.Status = StatusCancelled
		res.IDs = cancelled
	}
	return res
}

// CancelActivityReminder cancels every notification tagged with the activity.
func (s *Service) CancelActivityReminder(ctx context.Context, activityID string) Result {
	unlock := s.locks.lock("activity:" + activityID)
	defer unlock()

	ids := s.cancelActivityLocked(ctx, activityID)
	return Result{
		Category:   notification.ActivityReminder,
		ActivityID: activityID,
		Status:     StatusCancelled,
		Reason:     ReasonCancelled,
		IDs:        ids,
	}
}

// cancelActivityLocked cancels the cached ids, the ledger's ids and anything
// else on the platform tagged with the activity.
func (s *Service) cancelActivityLocked(ctx context.Context, activityID string) []string {
	s.cacheMu.Lock()
	ids := append([]string(nil), s.activityIDs[activityID]...)
	delete(s.activityIDs, activityID)
	s.cacheMu.Unlock()

	entries, err := s.ledger.LoadActivityReminders(ctx)
	if err != nil {
		s.logger.Debug("ledger read failed", zap.Error(err))
	}
	entry, tracked := entries[activityID]
	ids = append(ids, entry.NotificationIDs...)
	ids = append(ids, entry.NotificationID)

	tagged, err := s.scheduledByTag(ctx, func(d notification.Data) bool {
		return d.Type == notification.ActivityReminder && d.ActivityID == activityID
	})
	if err != nil {
		s.logger.Debug("failed to list scheduled notifications", zap.Error(err))
	}
	ids = append(ids, tagged...)

	cancelled := s.cancelIDs(ctx, ids)

	if tracked && entry.Pending() {
		if err := s.ledger.MarkActivityReminderCancelled(ctx, activityID, s.clock.Now()); err != nil {
			s.logger.Debug("ledger write failed", zap.String("activity_id", activityID), zap.Error(err))
		}
	}
	if len(cancelled) > 0 {
		s.track(ctx, analytics.NotificationCancelled, notification.ActivityReminder, map[string]any{
			"activityId": activityID,
			"count":      len(cancelled),
		})
	}
	return cancelled
}
