package notifier

import (
	"time"

	"github.com/lalithlochan/nudge/internal/domain"
	"github.com/lalithlochan/nudge/internal/ledger"
	"github.com/lalithlochan/nudge/internal/notification"
	"github.com/lalithlochan/nudge/internal/platform"
)

// Deferral reasons.
const (
	DeferCap      = "cap"
	DeferSpacing  = "spacing"
	DeferStacking = "stacking"
	DeferBackoff  = "backoff"
	DeferHorizon  = "horizon"
)

// GuardInput is everything the global guards look at.
type GuardInput struct {
	Candidate time.Time
	Nudges    ledger.SystemNudges
	// Pending are the fire times of other system nudges already scheduled;
	// they count against the daily cap of their date.
	Pending []time.Time
	// Reminders are the triggers of scheduled activity reminders.
	Reminders []platform.Trigger
}

// ApplyGlobalSystemNudgeGuards moves a system nudge candidate forward one
// day at a time, keeping its time of day, until no more than DailyCap
// nudges land on its date, it is at least MinSpacing after the last system
// nudge and no activity reminder is due within StackingWindow of it. ok is
// false when no slot is found within MaxPushDays.
func ApplyGlobalSystemNudgeGuards(cfg Config, in GuardInput) (fireAt time.Time, deferrals []string, ok bool) {
	cfg = cfg.withDefaults()
	t := in.Candidate.In(cfg.Location)
	last := in.Nudges.LastSentAt()

	for push := 0; push <= cfg.MaxPushDays; push++ {
		if push > 0 {
			t = t.AddDate(0, 0, 1)
		}

		if dailyCount(t, in.Nudges, in.Pending, cfg.Location) >= cfg.DailyCap {
			deferrals = append(deferrals, DeferCap)
			continue
		}
		if !last.IsZero() && t.Sub(last) < cfg.MinSpacing {
			deferrals = append(deferrals, DeferSpacing)
			continue
		}
		if stacksWithReminder(t, in.Reminders, cfg) {
			deferrals = append(deferrals, DeferStacking)
			continue
		}
		return t, deferrals, true
	}
	return time.Time{}, append(deferrals, DeferHorizon), false
}

func dailyCount(t time.Time, nudges ledger.SystemNudges, pending []time.Time, loc *time.Location) int {
	key := domain.DateKey(t)
	count := nudges.SentCountByDate[key]
	for _, p := range pending {
		if domain.DateKey(p.In(loc)) == key {
			count++
		}
	}
	return count
}

func stacksWithReminder(t time.Time, reminders []platform.Trigger, cfg Config) bool {
	from, to := t.Add(-cfg.StackingWindow), t.Add(cfg.StackingWindow)
	for _, trig := range reminders {
		next, ok := trig.NextAfter(from, cfg.Location)
		if ok && next.Before(to) {
			return true
		}
	}
	return false
}

// applyBackoff delays the candidate by a day when the category's last
// BackoffAfter nudges went unopened.
func applyBackoff(cfg Config, c notification.Category, candidate time.Time, nudges ledger.SystemNudges) (time.Time, bool) {
	if nudges.ConsecutiveNoOpenByType[c] >= cfg.BackoffAfter {
		return candidate.AddDate(0, 0, 1), true
	}
	return candidate, false
}

// goalNudgeTime picks the goal nudge time of day: the user's most common
// open hour once enough opens are known, else the configured time.
func goalNudgeTime(cfg Config, configured string, nudges ledger.SystemNudges) (domain.TimeOfDay, error) {
	if nudges.Opens(notification.GoalNudge) >= cfg.PersonalizeMinOpens {
		if hour, ok := nudges.ModalOpenHour(notification.GoalNudge); ok {
			hour = min(max(hour, cfg.PersonalizeFromHour), cfg.PersonalizeToHour)
			return domain.TimeOfDay{Hour: hour}, nil
		}
	}
	if configured == "" {
		configured = domain.DefaultGoalNudgeTime
	}
	return domain.ParseTimeOfDay(configured)
}
