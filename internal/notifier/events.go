package notifier

import (
	"context"
	"reflect"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/lalithlochan/nudge/internal/analytics"
	"github.com/lalithlochan/nudge/internal/domain"
	"github.com/lalithlochan/nudge/internal/goalnudge"
	"github.com/lalithlochan/nudge/internal/ledger"
	"github.com/lalithlochan/nudge/internal/nextstep"
	"github.com/lalithlochan/nudge/internal/notification"
	"github.com/lalithlochan/nudge/internal/platform"
)

// ApplySettings stores next and brings every category in line with it.
// Turning notifications off cancels everything regardless of the
// per-category flags. The permission state is owned by the platform and is
// not taken from next.
func (s *Service) ApplySettings(ctx context.Context, next domain.Preferences) []Result {
	prefs := s.store.SetNotificationPreferences(ctx, func(cur domain.Preferences) domain.Preferences {
		next.OSPermissionStatus = cur.OSPermissionStatus
		return next
	})
	if !prefs.NotificationsEnabled {
		return s.CancelAll(ctx)
	}
	return s.Sync(ctx)
}

// Sync reschedules every category from the current snapshot.
func (s *Service) Sync(ctx context.Context) []Result {
	snap := s.store.Snapshot()
	results := make([]Result, 0, len(snap.Activities)+3)

	present := make(map[string]bool, len(snap.Activities))
	for _, a := range snap.Activities {
		present[a.ID] = true
		results = append(results, s.ScheduleActivityReminder(ctx, a.ID))
	}
	for _, id := range s.trackedActivities(ctx) {
		if !present[id] {
			results = append(results, s.removeActivity(ctx, id))
		}
	}

	return append(results,
		s.ScheduleDailyShowUp(ctx, ""),
		s.ScheduleDailyFocus(ctx, ""),
		s.ScheduleGoalNudge(ctx),
	)
}

// CancelAll cancels every activity reminder and every system nudge.
func (s *Service) CancelAll(ctx context.Context) []Result {
	var results []Result
	for _, id := range s.trackedActivities(ctx) {
		results = append(results, s.CancelActivityReminder(ctx, id))
	}
	return append(results,
		s.CancelDailyShowUp(ctx),
		s.CancelDailyFocus(ctx),
		s.CancelGoalNudge(ctx),
	)
}

// trackedActivities lists every activity id the cache, the ledger or the
// platform associates with a reminder.
func (s *Service) trackedActivities(ctx context.Context) []string {
	set := make(map[string]bool)

	s.cacheMu.Lock()
	for id := range s.activityIDs {
		set[id] = true
	}
	s.cacheMu.Unlock()

	entries, err := s.ledger.LoadActivityReminders(ctx)
	if err != nil {
		s.logger.Debug("ledger read failed", zap.Error(err))
	}
	for id, e := range entries {
		if e.Pending() {
			set[id] = true
		}
	}

	requests, err := s.scheduler.ListScheduled(ctx)
	if err != nil {
		s.logger.Debug("failed to list scheduled notifications", zap.Error(err))
	}
	for _, req := range requests {
		if data, err := notification.Parse(req.Content.Data); err == nil && data.Type == notification.ActivityReminder {
			set[data.ActivityID] = true
		}
	}

	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (s *Service) removeActivity(ctx context.Context, activityID string) Result {
	res := s.CancelActivityReminder(ctx, activityID)
	if err := s.ledger.DeleteActivityReminderEntry(ctx, activityID); err != nil {
		s.logger.Debug("ledger write failed", zap.String("activity_id", activityID), zap.Error(err))
	}
	return res
}

// HandleStateChange is the store subscription. Added and edited activities
// are rescheduled, removed ones cancelled; the show-up slot and goal nudge
// follow structural changes, and day markers move today's nudges.
func (s *Service) HandleStateChange(ctx context.Context, prev, next domain.State) {
	before := make(map[string]domain.Activity, len(prev.Activities))
	for _, a := range prev.Activities {
		before[a.ID] = a
	}

	activitiesChanged := false
	seen := make(map[string]bool, len(next.Activities))
	for _, a := range next.Activities {
		seen[a.ID] = true
		old, existed := before[a.ID]
		if existed && !reminderChanged(old, a) {
			if !sameSchedule(old, a) {
				activitiesChanged = true
			}
			continue
		}
		activitiesChanged = true
		s.ScheduleActivityReminder(ctx, a.ID)
	}
	for _, a := range prev.Activities {
		if !seen[a.ID] {
			activitiesChanged = true
			s.removeActivity(ctx, a.ID)
		}
	}

	structural := activitiesChanged ||
		!reflect.DeepEqual(prev.Goals, next.Goals) ||
		!reflect.DeepEqual(prev.Arcs, next.Arcs)
	now := s.now()
	today := domain.DateKey(now)

	switch {
	case next.LastShowUpDate != prev.LastShowUpDate && next.LastShowUpDate == today:
		s.ScheduleDailyShowUp(ctx, "")
	case structural && s.showUpKindChanged(next, now):
		s.ScheduleDailyShowUp(ctx, "")
	}

	if next.LastCompletedFocusSessionDate != prev.LastCompletedFocusSessionDate && next.LastCompletedFocusSessionDate == today {
		s.ScheduleDailyFocus(ctx, "")
	}

	if structural {
		target := ""
		if pick := goalnudge.Pick(next.Arcs, next.Goals, next.Activities, now); pick != nil {
			target = pick.GoalID
		}
		if target != s.currentGoalTarget() {
			s.ScheduleGoalNudge(ctx)
		}
	}
}

// showUpKindChanged reports whether the show-up slot should now hold the
// other kind of nudge than the one scheduled.
func (s *Service) showUpKindChanged(next domain.State, now time.Time) bool {
	want := notification.DailyShowUp
	if sug := s.recommender.SuggestedNextStep(nextstep.Input{
		Arcs:       next.Arcs,
		Goals:      next.Goals,
		Activities: next.Activities,
		Now:        now,
	}); sug != nil && sug.Kind == nextstep.KindSetup {
		want = notification.SetupNextStep
	}

	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	return len(s.systemIDs[want]) == 0
}

// reminderChanged reports whether a's reminder must be rescheduled.
func reminderChanged(a, b domain.Activity) bool {
	return a.Title != b.Title ||
		a.Status != b.Status ||
		a.RepeatRule != b.RepeatRule ||
		!sameTime(a.ReminderAt, b.ReminderAt) ||
		!reflect.DeepEqual(a.RepeatCustom, b.RepeatCustom)
}

func sameSchedule(a, b domain.Activity) bool {
	return a.GoalID == b.GoalID && sameTime(a.ScheduledDate, b.ScheduledDate)
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

// HandleReceived records a notification the platform delivered while the
// engine was watching.
func (s *Service) HandleReceived(ctx context.Context, d platform.Delivery) {
	data, err := notification.Parse(d.Content.Data)
	if err != nil {
		s.logger.Debug("ignoring delivery with unreadable data", zap.String("id", d.Identifier), zap.Error(err))
		return
	}
	firedAt := d.FiredAt.In(s.cfg.Location)
	s.track(ctx, analytics.NotificationReceived, data.Type, map[string]any{"id": d.Identifier})

	switch {
	case data.Type == notification.ActivityReminder:
		unlock := s.locks.lock("activity:" + data.ActivityID)
		defer unlock()
		s.recordActivityFired(ctx, data.ActivityID, d.Identifier, d.Trigger.OneShot(), firedAt)
	case data.Type.System():
		unlock := s.locks.lock(slotOf(data.Type))
		defer unlock()
		s.recordSystemFired(ctx, data.Type, d.Identifier, firedAt)
	}
}

// recordActivityFired updates the ledger for a delivered reminder. Only
// one-shots leave the pending set.
func (s *Service) recordActivityFired(ctx context.Context, activityID, id string, oneShot bool, at time.Time) {
	var err error
	if oneShot {
		s.Forget(id)
		err = s.ledger.MarkActivityReminderFired(ctx, activityID, id, at)
	} else {
		err = s.ledger.SaveActivityReminder(ctx, activityID, func(e *ledger.Entry) {
			e.FiredAt = &at
			e.LastFiredDateKey = domain.DateKey(at)
		})
	}
	if err != nil {
		s.logger.Debug("ledger write failed", zap.String("activity_id", activityID), zap.Error(err))
	}
}

// recordSystemFired counts a system nudge once: only while the ledger
// still points at it.
func (s *Service) recordSystemFired(ctx context.Context, c notification.Category, id string, at time.Time) bool {
	entry, err := s.ledger.LoadSystem(ctx, c)
	if err != nil {
		s.logger.Debug("ledger read failed", zap.Error(err))
		return false
	}
	if entry.NotificationID != id {
		return false
	}

	if err := s.ledger.RecordNudgeFired(ctx, c, at); err != nil {
		s.logger.Debug("ledger write failed", zap.Error(err))
	}
	if err := s.ledger.SaveSystem(ctx, c, func(e *ledger.Entry) {
		e.NotificationID = ""
		e.ScheduledFor = nil
		e.FiredAt = &at
		e.LastFiredDateKey = domain.DateKey(at)
	}); err != nil {
		s.logger.Debug("ledger write failed", zap.Error(err))
	}
	s.Forget(id)
	return true
}

// MarkSystemFiredEstimated is used by reconciliation when a system nudge
// vanished from the platform list after its fire time.
func (s *Service) MarkSystemFiredEstimated(ctx context.Context, c notification.Category, id string, at time.Time) bool {
	unlock := s.locks.lock(slotOf(c))
	defer unlock()
	if !s.recordSystemFired(ctx, c, id, at.In(s.cfg.Location)) {
		return false
	}
	s.track(ctx, analytics.NotificationFiredEstimated, c, map[string]any{"id": id, "at": at})
	return true
}

// MarkActivityFiredEstimated is the activity reminder counterpart.
func (s *Service) MarkActivityFiredEstimated(ctx context.Context, activityID, id string, at time.Time) {
	unlock := s.locks.lock("activity:" + activityID)
	defer unlock()
	s.recordActivityFired(ctx, activityID, id, true, at.In(s.cfg.Location))
	s.track(ctx, analytics.NotificationFiredEstimated, notification.ActivityReminder, map[string]any{
		"activityId": activityID,
		"id":         id,
	})
}

// ForgetSystem clears a system pointer whose notification vanished before
// its fire time, so the slot can be scheduled again.
func (s *Service) ForgetSystem(ctx context.Context, c notification.Category, id string) {
	unlock := s.locks.lock(slotOf(c))
	defer unlock()
	if err := s.ledger.SaveSystem(ctx, c, func(e *ledger.Entry) {
		if e.NotificationID == id {
			e.NotificationID = ""
			e.ScheduledFor = nil
		}
	}); err != nil {
		s.logger.Debug("ledger write failed", zap.Error(err))
	}
	s.Forget(id)
}

func slotOf(c notification.Category) string {
	switch c {
	case notification.DailyShowUp, notification.SetupNextStep:
		return showUpSlot
	case notification.DailyFocus:
		return focusSlot
	case notification.GoalNudge:
		return goalSlot
	}
	return "slot:" + string(c)
}

// HandleResponse handles the user opening a notification and returns where
// the app should navigate. ok is false for an unreadable payload.
func (s *Service) HandleResponse(ctx context.Context, data map[string]any, openedAt time.Time) (route notification.Route, ok bool) {
	d, err := notification.Parse(data)
	if err != nil {
		s.logger.Debug("ignoring open with unreadable data", zap.Error(err))
		return notification.Route{}, false
	}

	hour := openedAt.In(s.cfg.Location).Hour()
	if d.Type.System() {
		if err := s.ledger.RecordNudgeOpened(ctx, d.Type, hour); err != nil {
			s.logger.Debug("ledger write failed", zap.Error(err))
		}
	}
	s.track(ctx, analytics.NotificationOpened, d.Type, map[string]any{
		"hour":       hour,
		"activityId": d.ActivityID,
		"goalId":     d.GoalID,
	})
	return notification.RouteFor(d), true
}
