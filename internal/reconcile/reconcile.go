// Package reconcile repairs drift between the delivery ledger and the
// platform's scheduled list. The platform never says when a one-shot
// fired; it just disappears. A pass infers those fires, then schedules
// again whatever lost its notification.
package reconcile

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/lalithlochan/nudge/internal/clock"
	"github.com/lalithlochan/nudge/internal/domain"
	"github.com/lalithlochan/nudge/internal/ledger"
	"github.com/lalithlochan/nudge/internal/metrics"
	"github.com/lalithlochan/nudge/internal/notification"
	"github.com/lalithlochan/nudge/internal/notifier"
	"github.com/lalithlochan/nudge/internal/platform"
)

// Notifier is the part of the notification service a pass drives.
type Notifier interface {
	Location() *time.Location
	MarkSystemFiredEstimated(ctx context.Context, c notification.Category, id string, at time.Time) bool
	MarkActivityFiredEstimated(ctx context.Context, activityID, id string, at time.Time)
	ForgetSystem(ctx context.Context, c notification.Category, id string)
	ScheduleDailyShowUp(ctx context.Context, at string) notifier.Result
	ScheduleDailyFocus(ctx context.Context, at string) notifier.Result
	ScheduleGoalNudge(ctx context.Context) notifier.Result
	ScheduleActivityReminder(ctx context.Context, activityID string) notifier.Result
	CancelActivityReminder(ctx context.Context, activityID string) notifier.Result
}

// Lister reads the platform's scheduled list.
type Lister interface {
	ListScheduled(ctx context.Context) ([]platform.Request, error)
}

// Snapshotter reads the domain state.
type Snapshotter interface {
	Snapshot() domain.State
}

// Config tunes a pass.
type Config struct {
	// Grace is how long after its fire time a vanished one-shot counts as
	// delivered rather than lost.
	Grace time.Duration
	// CustomOccurrences matches the notifier's custom repeat window.
	CustomOccurrences int
	// RefillBelow live occurrences of a custom repeat trigger a refill.
	RefillBelow int
}

// DefaultConfig returns the production settings.
func DefaultConfig() Config {
	return Config{
		Grace:             60 * time.Second,
		CustomOccurrences: 24,
		RefillBelow:       8,
	}
}

// Report summarizes one pass.
type Report struct {
	StartedAt      time.Time         `json:"startedAt"`
	Duration       time.Duration     `json:"duration"`
	Live           int               `json:"live"`
	FiredEstimated int               `json:"firedEstimated"`
	Forgotten      int               `json:"forgotten"`
	Removed        int               `json:"removed"`
	Healed         []notifier.Result `json:"healed,omitempty"`
	Skipped        bool              `json:"skipped,omitempty"`
}

// Task runs reconciliation passes.
type Task struct {
	notifier Notifier
	lister   Lister
	ledger   *ledger.Ledger
	state    Snapshotter
	clock    clock.Clocker
	cfg      Config
	logger   *zap.Logger
}

func NewTask(n Notifier, lister Lister, l *ledger.Ledger, state Snapshotter, clk clock.Clocker, cfg Config, logger *zap.Logger) *Task {
	d := DefaultConfig()
	if cfg.Grace <= 0 {
		cfg.Grace = d.Grace
	}
	if cfg.CustomOccurrences <= 0 {
		cfg.CustomOccurrences = d.CustomOccurrences
	}
	if cfg.RefillBelow <= 0 {
		cfg.RefillBelow = d.RefillBelow
	}
	return &Task{notifier: n, lister: lister, ledger: l, state: state, clock: clk, cfg: cfg, logger: logger}
}

// liveSet indexes the platform's scheduled list.
type liveSet struct {
	ids        map[string]bool
	byCategory map[notification.Category]int
	byActivity map[string]int
}

func indexLive(requests []platform.Request) liveSet {
	live := liveSet{
		ids:        make(map[string]bool, len(requests)),
		byCategory: make(map[notification.Category]int),
		byActivity: make(map[string]int),
	}
	for _, req := range requests {
		live.ids[req.Identifier] = true
		data, err := notification.Parse(req.Content.Data)
		if err != nil {
			continue
		}
		live.byCategory[data.Type]++
		if data.Type == notification.ActivityReminder {
			live.byActivity[data.ActivityID]++
		}
	}
	return live
}

// Run performs one pass. A second pass with no state change in between
// makes no platform calls.
func (t *Task) Run(ctx context.Context) (Report, error) {
	start := t.clock.Now()
	report := Report{StartedAt: start}

	requests, err := t.lister.ListScheduled(ctx)
	if err != nil {
		metrics.RecordReconcile("error", t.clock.Now().Sub(start))
		return report, fmt.Errorf("list scheduled: %w", err)
	}
	live := indexLive(requests)
	report.Live = len(requests)

	now := start.In(t.notifier.Location())
	snap := t.state.Snapshot()

	waiting, err := t.settleSystem(ctx, now, live, &report)
	if err != nil {
		metrics.RecordReconcile("error", t.clock.Now().Sub(start))
		return report, err
	}
	if err := t.settleActivities(ctx, now, snap, live, &report); err != nil {
		metrics.RecordReconcile("error", t.clock.Now().Sub(start))
		return report, err
	}

	// Settling only touches the ledger; the live list is still current.
	t.healSystem(ctx, now, snap, live, waiting, &report)
	t.healActivities(ctx, now, snap, live, &report)

	report.Duration = t.clock.Now().Sub(start)
	metrics.RecordReconcile("ok", report.Duration)

	t.logger.Info("reconciliation finished",
		zap.Int("live", report.Live),
		zap.Int("fired_estimated", report.FiredEstimated),
		zap.Int("forgotten", report.Forgotten),
		zap.Int("removed", report.Removed),
		zap.Int("healed", len(report.Healed)),
		zap.Duration("duration", report.Duration),
	)
	return report, nil
}

// settleSystem turns vanished system pointers into estimated fires, or
// forgets them when they vanished before their time. Categories whose
// pointer is still inside the grace period are returned as waiting.
func (t *Task) settleSystem(ctx context.Context, now time.Time, live liveSet, report *Report) (map[notification.Category]bool, error) {
	waiting := make(map[notification.Category]bool)
	for _, c := range notification.SystemCategories {
		entry, err := t.ledger.LoadSystem(ctx, c)
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", c, err)
		}
		if !entry.Pending() || live.ids[entry.NotificationID] {
			continue
		}

		switch {
		case entry.ScheduledFor == nil || now.Before(*entry.ScheduledFor):
			t.logger.Debug("system nudge vanished before its time",
				zap.String("category", string(c)),
				zap.String("id", entry.NotificationID),
			)
			t.notifier.ForgetSystem(ctx, c, entry.NotificationID)
			report.Forgotten++
		case now.Before(entry.ScheduledFor.Add(t.cfg.Grace)):
			waiting[c] = true
		default:
			if t.notifier.MarkSystemFiredEstimated(ctx, c, entry.NotificationID, *entry.ScheduledFor) {
				report.FiredEstimated++
			}
		}
	}
	return waiting, nil
}

// settleActivities estimates fires of vanished one-shot reminders and drops
// the ledger of activities that no longer exist.
func (t *Task) settleActivities(ctx context.Context, now time.Time, snap domain.State, live liveSet, report *Report) error {
	entries, err := t.ledger.LoadActivityReminders(ctx)
	if err != nil {
		return fmt.Errorf("load activity reminders: %w", err)
	}

	for activityID, entry := range entries {
		a, exists := snap.Activity(activityID)
		if !exists {
			if entry.Pending() {
				t.notifier.CancelActivityReminder(ctx, activityID)
			}
			if err := t.ledger.DeleteActivityReminderEntry(ctx, activityID); err != nil {
				return fmt.Errorf("delete activity reminder %s: %w", activityID, err)
			}
			report.Removed++
			continue
		}
		if !entry.Pending() || !oneShotReminders(a) {
			continue
		}

		ids := entry.NotificationIDs
		if len(ids) == 0 {
			ids = []string{entry.NotificationID}
		}
		for _, id := range ids {
			if live.ids[id] {
				continue
			}
			at, ok := t.estimateActivityFire(entry, id, now)
			if !ok {
				continue
			}
			t.notifier.MarkActivityFiredEstimated(ctx, activityID, id, at)
			report.FiredEstimated++
		}
	}
	return nil
}

// estimateActivityFire dates a vanished reminder by its own fire time once
// the grace period has passed. Entries without per-id times date the later
// occurrences of a started series now.
func (t *Task) estimateActivityFire(entry ledger.Entry, id string, now time.Time) (time.Time, bool) {
	if at, ok := entry.FireTime(id); ok {
		if now.Before(at.Add(t.cfg.Grace)) {
			return time.Time{}, false
		}
		return at, true
	}
	if entry.ScheduledFor == nil || now.Before(entry.ScheduledFor.Add(t.cfg.Grace)) {
		return time.Time{}, false
	}
	return now, true
}

func oneShotReminders(a domain.Activity) bool {
	return a.RepeatRule == domain.RepeatNone || a.RepeatRule == domain.RepeatCustom
}

// healSystem schedules every system slot that has nothing pending and no
// fire awaiting its grace period. The notifier skips slots the preferences
// or guards rule out.
func (t *Task) healSystem(ctx context.Context, now time.Time, snap domain.State, live liveSet, waiting map[notification.Category]bool, report *Report) {
	heal := func(res notifier.Result) {
		if res.Status == notifier.StatusScheduled {
			report.Healed = append(report.Healed, res)
		}
	}

	showUpWaiting := waiting[notification.DailyShowUp] || waiting[notification.SetupNextStep]
	if !showUpWaiting && live.byCategory[notification.DailyShowUp]+live.byCategory[notification.SetupNextStep] == 0 {
		heal(t.notifier.ScheduleDailyShowUp(ctx, ""))
	}

	switch {
	case waiting[notification.DailyFocus]:
	case live.byCategory[notification.DailyFocus] == 0:
		heal(t.notifier.ScheduleDailyFocus(ctx, ""))
	case snap.LastCompletedFocusSessionDate == domain.DateKey(now):
		entry, err := t.ledger.LoadSystem(ctx, notification.DailyFocus)
		if err == nil && entry.ScheduledFor != nil && domain.DateKey(entry.ScheduledFor.In(now.Location())) == domain.DateKey(now) {
			heal(t.notifier.ScheduleDailyFocus(ctx, ""))
		}
	}

	if !waiting[notification.GoalNudge] && live.byCategory[notification.GoalNudge] == 0 {
		heal(t.notifier.ScheduleGoalNudge(ctx))
	}
}

// healActivities schedules eligible activities with nothing pending and
// tops up custom repeats running low.
func (t *Task) healActivities(ctx context.Context, now time.Time, snap domain.State, live liveSet, report *Report) {
	for _, a := range snap.Activities {
		if ok, _ := notifier.Eligible(a, snap.Preferences, now); !ok {
			continue
		}
		count := live.byActivity[a.ID]
		if count > 0 && !t.needsRefill(a, count, now) {
			continue
		}
		if res := t.notifier.ScheduleActivityReminder(ctx, a.ID); res.Status == notifier.StatusScheduled {
			report.Healed = append(report.Healed, res)
		}
	}
}

func (t *Task) needsRefill(a domain.Activity, live int, now time.Time) bool {
	if a.RepeatRule != domain.RepeatCustom || a.RepeatCustom == nil {
		return false
	}
	upcoming, ok := notifier.ExpandCustom(a.ReminderAt.In(now.Location()), *a.RepeatCustom, now, t.cfg.CustomOccurrences)
	if !ok {
		return false
	}
	return live < min(len(upcoming), t.cfg.RefillBelow)
}
