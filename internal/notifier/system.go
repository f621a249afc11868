package notifier

import (
	"context"
	"fmt"
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

// Lock keys. Show-up and setup share one slot.
const (
	showUpSlot = "slot:" + string(notification.DailyShowUp)
	focusSlot  = "slot:" + string(notification.DailyFocus)
	goalSlot   = "slot:" + string(notification.GoalNudge)
)

func systemGate(prefs domain.Preferences, allowed bool) string {
	switch {
	case !prefs.NotificationsEnabled:
		return ReasonDisabled
	case !prefs.Delivering():
		return ReasonNotAuthorized
	case !allowed:
		return ReasonCategoryOff
	}
	return ""
}

func systemSkip(c notification.Category, reason string, cancelled []string) Result {
	res := skipped(c, reason)
	if len(cancelled) > 0 {
		res.Status = StatusCancelled
		res.IDs = cancelled
	}
	return res
}

// ScheduleDailyShowUp schedules the daily nudge at the given "HH:MM", or at
// the configured time when empty. When the user has nothing set up yet the
// slot carries a setup nudge instead, and the other kind is cancelled.
func (s *Service) ScheduleDailyShowUp(ctx context.Context, at string) Result {
	unlock := s.locks.lock(showUpSlot)
	defer unlock()
	return s.scheduleShowUpLocked(ctx, at)
}

func (s *Service) scheduleShowUpLocked(ctx context.Context, at string) Result {
	now := s.now()
	snap := s.store.Snapshot()
	prefs := snap.Preferences

	if reason := systemGate(prefs, prefs.AllowDailyShowUp); reason != "" {
		return systemSkip(notification.DailyShowUp, reason, s.cancelShowUpSlotLocked(ctx))
	}
	if at == "" {
		at = prefs.DailyShowUpTime
	}
	tod, err := domain.ParseTimeOfDay(at)
	if err != nil {
		return systemSkip(notification.DailyShowUp, ReasonInvalidTime, s.cancelShowUpSlotLocked(ctx))
	}

	category, reason := notification.DailyShowUp, ""
	suggestion := s.recommender.SuggestedNextStep(nextstep.Input{
		Arcs:       snap.Arcs,
		Goals:      snap.Goals,
		Activities: snap.Activities,
		Now:        now,
	})
	if suggestion != nil && suggestion.Kind == nextstep.KindSetup {
		category, reason = notification.SetupNextStep, suggestion.Reason
	}
	other := notification.SetupNextStep
	if category == notification.SetupNextStep {
		other = notification.DailyShowUp
	}
	s.cancelSystemLocked(ctx, other)
	s.cancelSystemLocked(ctx, category)

	candidate := tod.Next(now)
	today := domain.DateKey(now)
	if category == notification.DailyShowUp && snap.LastShowUpDate == today && domain.DateKey(candidate) == today {
		candidate = tod.On(now.AddDate(0, 0, 1))
	}

	var content platform.Content
	if category == notification.SetupNextStep {
		content = setupContent(reason)
	} else {
		content = showUpContent(s.recommender.AnyScheduledForToday(snap.Activities, candidate))
	}
	return s.placeSystemLocked(ctx, category, tod, candidate, content, s.loadNudges(ctx))
}

// CancelDailyShowUp cancels the show-up slot, whichever kind it holds.
func (s *Service) CancelDailyShowUp(ctx context.Context) Result {
	unlock := s.locks.lock(showUpSlot)
	defer unlock()
	return cancelledResult(notification.DailyShowUp, s.cancelShowUpSlotLocked(ctx))
}

func (s *Service) cancelShowUpSlotLocked(ctx context.Context) []string {
	ids := s.cancelSystemLocked(ctx, notification.DailyShowUp)
	return append(ids, s.cancelSystemLocked(ctx, notification.SetupNextStep)...)
}

// ScheduleDailyFocus schedules the focus nudge at "HH:MM", or at the
// configured time when empty. A focus session completed today moves the
// nudge to tomorrow.
func (s *Service) ScheduleDailyFocus(ctx context.Context, at string) Result {
	unlock := s.locks.lock(focusSlot)
	defer unlock()
	return s.scheduleFocusLocked(ctx, at)
}

func (s *Service) scheduleFocusLocked(ctx context.Context, at string) Result {
	now := s.now()
	snap := s.store.Snapshot()
	prefs := snap.Preferences

	if reason := systemGate(prefs, prefs.AllowDailyFocus); reason != "" {
		return systemSkip(notification.DailyFocus, reason, s.cancelSystemLocked(ctx, notification.DailyFocus))
	}
	if at == "" {
		at = prefs.DailyFocusTime
	}
	tod, err := domain.ParseTimeOfDay(at)
	if err != nil {
		return systemSkip(notification.DailyFocus, ReasonInvalidTime, s.cancelSystemLocked(ctx, notification.DailyFocus))
	}

	s.cancelSystemLocked(ctx, notification.DailyFocus)

	candidate := tod.Next(now)
	today := domain.DateKey(now)
	if snap.LastCompletedFocusSessionDate == today && domain.DateKey(candidate) == today {
		candidate = tod.On(now.AddDate(0, 0, 1))
	}

	content := platform.Content{
		Title: "Time to focus",
		Body:  "Start a focus session on what matters today.",
		Data:  notification.Data{Type: notification.DailyFocus}.Map(),
	}
	return s.placeSystemLocked(ctx, notification.DailyFocus, tod, candidate, content, s.loadNudges(ctx))
}

// CancelDailyFocus cancels the focus nudge.
func (s *Service) CancelDailyFocus(ctx context.Context) Result {
	unlock := s.locks.lock(focusSlot)
	defer unlock()
	return cancelledResult(notification.DailyFocus, s.cancelSystemLocked(ctx, notification.DailyFocus))
}

// ScheduleGoalNudge points the goal nudge at the goal most worth a push.
func (s *Service) ScheduleGoalNudge(ctx context.Context) Result {
	unlock := s.locks.lock(goalSlot)
	defer unlock()
	return s.scheduleGoalNudgeLocked(ctx)
}

func (s *Service) scheduleGoalNudgeLocked(ctx context.Context) Result {
	now := s.now()
	snap := s.store.Snapshot()
	prefs := snap.Preferences

	if reason := systemGate(prefs, prefs.AllowGoalNudges); reason != "" {
		return systemSkip(notification.GoalNudge, reason, s.cancelSystemLocked(ctx, notification.GoalNudge))
	}

	nudges := s.loadNudges(ctx)
	tod, err := goalNudgeTime(s.cfg, prefs.GoalNudgeTime, nudges)
	if err != nil {
		return systemSkip(notification.GoalNudge, ReasonInvalidTime, s.cancelSystemLocked(ctx, notification.GoalNudge))
	}

	cancelled := s.cancelSystemLocked(ctx, notification.GoalNudge)
	pick := goalnudge.Pick(snap.Arcs, snap.Goals, snap.Activities, now)
	if pick == nil {
		s.setGoalTarget("")
		return systemSkip(notification.GoalNudge, ReasonNoCandidate, cancelled)
	}

	body := "One small step today keeps it moving."
	if pick.ArcName != "" {
		body = fmt.Sprintf("One small step today moves %s forward.", pick.ArcName)
	}
	content := platform.Content{
		Title: "Keep going: " + pick.GoalTitle,
		Body:  body,
		Data:  notification.ForGoal(pick.GoalID).Map(),
	}

	res := s.placeSystemLocked(ctx, notification.GoalNudge, tod, tod.Next(now), content, nudges)
	if res.Status == StatusScheduled {
		s.setGoalTarget(pick.GoalID)
	}
	return res
}

// CancelGoalNudge cancels the goal nudge.
func (s *Service) CancelGoalNudge(ctx context.Context) Result {
	unlock := s.locks.lock(goalSlot)
	defer unlock()
	s.setGoalTarget("")
	return cancelledResult(notification.GoalNudge, s.cancelSystemLocked(ctx, notification.GoalNudge))
}

func (s *Service) setGoalTarget(goalID string) {
	s.cacheMu.Lock()
	s.goalTarget = goalID
	s.cacheMu.Unlock()
}

func (s *Service) currentGoalTarget() string {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	return s.goalTarget
}

func cancelledResult(c notification.Category, ids []string) Result {
	return Result{Category: c, Status: StatusCancelled, Reason: ReasonCancelled, IDs: ids}
}

func (s *Service) loadNudges(ctx context.Context) ledger.SystemNudges {
	nudges, err := s.ledger.LoadNudges(ctx)
	if err != nil {
		s.logger.Debug("ledger read failed", zap.Error(err))
	}
	return nudges
}

// placeSystemLocked runs backoff and the global guards on candidate and
// schedules the nudge as a one-shot at the resulting time.
func (s *Service) placeSystemLocked(ctx context.Context, c notification.Category, tod domain.TimeOfDay, candidate time.Time, content platform.Content, nudges ledger.SystemNudges) Result {
	candidate, backedOff := applyBackoff(s.cfg, c, candidate, nudges)

	fireAt, deferrals, ok := ApplyGlobalSystemNudgeGuards(s.cfg, GuardInput{
		Candidate: candidate,
		Nudges:    nudges,
		Pending:   s.pendingSystemTimes(ctx, c),
		Reminders: s.reminderTriggers(ctx),
	})
	if backedOff {
		deferrals = append([]string{DeferBackoff}, deferrals...)
	}
	for _, reason := range deferrals {
		s.track(ctx, analytics.NotificationDeferred, c, map[string]any{"reason": reason})
	}
	if !ok {
		res := skipped(c, ReasonNoSlot)
		res.Deferrals = deferrals
		return res
	}

	id, err := s.scheduler.Schedule(ctx, content, platform.DateTrigger(fireAt))
	if err != nil {
		s.logger.Debug("failed to schedule system nudge",
			zap.String("category", string(c)),
			zap.Time("fire_at", fireAt),
			zap.Error(err),
		)
		res := failed(c, fmt.Errorf("schedule %s: %w", c, err))
		res.Deferrals = deferrals
		return res
	}

	s.cacheMu.Lock()
	s.systemIDs[c] = []string{id}
	s.cacheMu.Unlock()

	if err := s.ledger.SaveSystem(ctx, c, func(e *ledger.Entry) {
		e.NotificationID = id
		e.NotificationIDs = nil
		e.ScheduleTimeLocal = tod.String()
		e.ScheduledFor = &fireAt
		e.CancelledAt = nil
	}); err != nil {
		s.logger.Debug("ledger write failed", zap.String("category", string(c)), zap.Error(err))
	}

	s.track(ctx, analytics.NotificationScheduled, c, map[string]any{
		"fireAt":    fireAt,
		"deferrals": len(deferrals),
	})

	return Result{
		Category:  c,
		Status:    StatusScheduled,
		IDs:       []string{id},
		FireAt:    &fireAt,
		Deferrals: deferrals,
	}
}

// pendingSystemTimes returns the fire times of the other system slots.
func (s *Service) pendingSystemTimes(ctx context.Context, c notification.Category) []time.Time {
	var out []time.Time
	for _, other := range notification.SystemCategories {
		if other == c || sameSlot(other, c) {
			continue
		}
		e, err := s.ledger.LoadSystem(ctx, other)
		if err != nil {
			s.logger.Debug("ledger read failed", zap.Error(err))
			continue
		}
		if e.Pending() && e.ScheduledFor != nil {
			out = append(out, *e.ScheduledFor)
		}
	}
	return out
}

func sameSlot(a, b notification.Category) bool {
	showUp := func(c notification.Category) bool {
		return c == notification.DailyShowUp || c == notification.SetupNextStep
	}
	return showUp(a) && showUp(b)
}

// reminderTriggers returns the triggers of every scheduled activity reminder.
func (s *Service) reminderTriggers(ctx context.Context) []platform.Trigger {
	requests, err := s.scheduler.ListScheduled(ctx)
	if err != nil {
		s.logger.Debug("failed to list scheduled notifications", zap.Error(err))
		return nil
	}
	var out []platform.Trigger
	for _, req := range requests {
		if data, err := notification.Parse(req.Content.Data); err == nil && data.Type == notification.ActivityReminder {
			out = append(out, req.Trigger)
		}
	}
	return out
}

// cancelSystemLocked cancels a system category's notifications. The platform
// list is only scanned when neither the cache nor the ledger knows an id.
func (s *Service) cancelSystemLocked(ctx context.Context, c notification.Category) []string {
	s.cacheMu.Lock()
	ids := append([]string(nil), s.systemIDs[c]...)
	delete(s.systemIDs, c)
	s.cacheMu.Unlock()

	entry, err := s.ledger.LoadSystem(ctx, c)
	if err != nil {
		s.logger.Debug("ledger read failed", zap.Error(err))
	}
	if entry.Pending() {
		ids = append(ids, entry.NotificationID)
	}

	if len(ids) == 0 {
		tagged, err := s.scheduledByTag(ctx, func(d notification.Data) bool { return d.Type == c })
		if err != nil {
			s.logger.Debug("failed to list scheduled notifications", zap.Error(err))
		}
		ids = tagged
	}

	cancelled := s.cancelIDs(ctx, ids)

	if entry.Pending() {
		if err := s.ledger.ClearSystem(ctx, c, s.clock.Now()); err != nil {
			s.logger.Debug("ledger write failed", zap.String("category", string(c)), zap.Error(err))
		}
	}
	if len(cancelled) > 0 {
		s.track(ctx, analytics.NotificationCancelled, c, map[string]any{"count": len(cancelled)})
	}
	return cancelled
}

func showUpContent(plannedToday bool) platform.Content {
	body := "A few minutes on your goals today keeps the momentum going."
	if plannedToday {
		body = "You have something planned today. Showing up is the first step."
	}
	return platform.Content{
		Title: "Show up today",
		Body:  body,
		Data:  notification.Data{Type: notification.DailyShowUp}.Map(),
	}
}

func setupContent(reason string) platform.Content {
	title, body := "Plan your next step", "Add an activity so there is something to show up for."
	if reason == nextstep.ReasonNoGoals {
		title, body = "Set your first goal", "Pick one goal to work toward and we'll help you keep at it."
	}
	return platform.Content{
		Title: title,
		Body:  body,
		Data:  notification.Data{Type: notification.SetupNextStep, Reason: reason}.Map(),
	}
}
