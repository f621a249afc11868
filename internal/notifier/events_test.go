package notifier

import (
	"testing"
	"time"

	"github.com/lalithlochan/nudge/internal/domain"
	"github.com/lalithlochan/nudge/internal/notification"
	"github.com/lalithlochan/nudge/internal/platform"
)

func TestApplySettings_DisablingCancelsEverything(t *testing.T) {
	h := newHarness(t)
	remind := time.Date(2026, 4, 2, 9, 0, 0, 0, time.UTC)
	state := setUpDomain()
	state.Activities = append(state.Activities,
		domain.Activity{ID: "a1", GoalID: "g1", ReminderAt: &remind},
		domain.Activity{ID: "a2", GoalID: "g1", ReminderAt: &remind, RepeatRule: domain.RepeatWeekdays},
	)
	h.store.ReplaceDomain(h.ctx, state)

	prefs := h.store.Snapshot().Preferences
	prefs.AllowDailyFocus = true
	prefs.DailyFocusTime = "20:00"
	h.svc.ApplySettings(h.ctx, prefs)

	before, _ := h.sched.ListScheduled(h.ctx)
	for _, c := range []notification.Category{notification.ActivityReminder, notification.DailyShowUp, notification.DailyFocus, notification.GoalNudge} {
		if len(h.live(c)) == 0 {
			t.Fatalf("expected %s to be scheduled before disabling", c)
		}
	}
	h.sched.reset()

	prefs.NotificationsEnabled = false
	results := h.svc.ApplySettings(h.ctx, prefs)

	if after, _ := h.sched.ListScheduled(h.ctx); len(after) != 0 {
		t.Errorf("expected nothing pending, got %d", len(after))
	}
	cancelled := map[string]bool{}
	for _, id := range h.sched.cancels {
		cancelled[id] = true
	}
	for _, req := range before {
		if !cancelled[req.Identifier] {
			t.Errorf("expected %s (%v) to be cancelled", req.Identifier, req.Content.Data["type"])
		}
	}
	if len(h.sched.schedules) != 0 {
		t.Errorf("expected no schedule calls, got %d", len(h.sched.schedules))
	}
	for _, res := range results {
		if res.Status == StatusScheduled || res.Status == StatusFailed {
			t.Errorf("unexpected result %+v", res)
		}
	}
	if got := h.store.Snapshot().Preferences; got.OSPermissionStatus != domain.PermissionAuthorized {
		t.Errorf("expected permission state to be kept, got %s", got.OSPermissionStatus)
	}

	// Turning back on schedules everything again.
	prefs.NotificationsEnabled = true
	h.svc.ApplySettings(h.ctx, prefs)
	if n := len(h.live(notification.ActivityReminder)); n != 6 {
		t.Errorf("expected 6 activity requests back, got %d", n)
	}
}

func TestHandleReceived_SystemNudgeCountsOnce(t *testing.T) {
	h := newHarness(t)
	h.store.ReplaceDomain(h.ctx, setUpDomain())

	live := h.live(notification.DailyShowUp)
	if len(live) != 1 {
		t.Fatalf("expected a show-up nudge, got %d", len(live))
	}
	firedAt := live[0].Trigger.Date
	delivery := platform.Delivery{Request: live[0], FiredAt: firedAt}

	h.svc.HandleReceived(h.ctx, delivery)
	h.svc.HandleReceived(h.ctx, delivery)
	if h.svc.MarkSystemFiredEstimated(h.ctx, notification.DailyShowUp, live[0].Identifier, firedAt) {
		t.Error("expected an already recorded fire to be ignored")
	}

	nudges, _ := h.ledger.LoadNudges(h.ctx)
	if got := nudges.SentCountByDate[domain.DateKey(firedAt)]; got != 1 {
		t.Errorf("expected one counted fire, got %d", got)
	}
	if !nudges.LastSentAtByType[notification.DailyShowUp].Equal(firedAt) {
		t.Errorf("unexpected last sent %v", nudges.LastSentAtByType)
	}
	entry, _ := h.ledger.LoadSystem(h.ctx, notification.DailyShowUp)
	if entry.Pending() || entry.FiredAt == nil || entry.LastFiredDateKey != domain.DateKey(firedAt) {
		t.Errorf("unexpected ledger entry %+v", entry)
	}
}

func TestHandleReceived_ActivityReminder(t *testing.T) {
	h := newHarness(t)
	remind := time.Date(2026, 4, 1, 11, 0, 0, 0, time.UTC)
	h.store.UpsertActivity(h.ctx, domain.Activity{ID: "once", ReminderAt: &remind})
	h.store.UpsertActivity(h.ctx, domain.Activity{ID: "daily", ReminderAt: &remind, RepeatRule: domain.RepeatDaily})

	h.clock.Advance(2 * time.Hour)
	for _, d := range h.sched.Due(h.clock.Now()) {
		h.svc.HandleReceived(h.ctx, d)
	}

	entries, _ := h.ledger.LoadActivityReminders(h.ctx)
	if e := entries["once"]; e.Pending() || e.FiredAt == nil {
		t.Errorf("expected the one-shot to leave the pending set, got %+v", e)
	}
	if e := entries["daily"]; !e.Pending() || e.LastFiredDateKey != "2026-04-01" {
		t.Errorf("expected the daily reminder to stay pending, got %+v", e)
	}
	if _, ok := h.svc.CachedActivityIDs()["once"]; ok {
		t.Error("expected the fired one-shot to be dropped from the cache")
	}
}

func TestHandleResponse(t *testing.T) {
	h := newHarness(t)
	openedAt := time.Date(2026, 4, 1, 17, 20, 0, 0, time.UTC)

	tests := []struct {
		name string
		data map[string]any
		want notification.Route
	}{
		{"activity", notification.ForActivity("a1").Map(), notification.Route{Screen: notification.ScreenActivityDetail, ActivityID: "a1"}},
		{"goal", notification.ForGoal("g1").Map(), notification.Route{Screen: notification.ScreenGoalDetail, GoalID: "g1"}},
		{"show-up", notification.Data{Type: notification.DailyShowUp}.Map(), notification.Route{Screen: notification.ScreenActivities, HighlightSuggested: true}},
		{"focus", notification.Data{Type: notification.DailyFocus}.Map(), notification.Route{Screen: notification.ScreenActivities}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := h.svc.HandleResponse(h.ctx, tt.data, openedAt)
			if !ok || got != tt.want {
				t.Errorf("got %+v (%v), want %+v", got, ok, tt.want)
			}
		})
	}

	if _, ok := h.svc.HandleResponse(h.ctx, map[string]any{"type": "mystery"}, openedAt); ok {
		t.Error("expected unreadable data to be rejected")
	}

	nudges, _ := h.ledger.LoadNudges(h.ctx)
	if nudges.OpenHourCountsByType[notification.GoalNudge][17] != 1 {
		t.Errorf("expected a goal nudge open at 17h, got %v", nudges.OpenHourCountsByType)
	}
	if _, ok := nudges.OpenHourCountsByType[notification.ActivityReminder]; ok {
		t.Error("expected activity reminder opens not to be tracked")
	}
}

func TestHandleResponse_ResetsBackoff(t *testing.T) {
	h := newHarness(t)
	_ = h.ledger.RecordNudgeFired(h.ctx, notification.DailyShowUp, testNow.AddDate(0, 0, -2))
	_ = h.ledger.RecordNudgeFired(h.ctx, notification.DailyShowUp, testNow.AddDate(0, 0, -1))

	h.svc.HandleResponse(h.ctx, notification.Data{Type: notification.DailyShowUp}.Map(), testNow)

	nudges, _ := h.ledger.LoadNudges(h.ctx)
	if got := nudges.ConsecutiveNoOpenByType[notification.DailyShowUp]; got != 0 {
		t.Errorf("expected the ignored streak to reset, got %d", got)
	}
}

func TestInit_HydratesCache(t *testing.T) {
	h := newHarness(t)
	remind := time.Date(2026, 4, 2, 9, 0, 0, 0, time.UTC)
	h.store.UpsertActivity(h.ctx, domain.Activity{ID: "a1", ReminderAt: &remind})
	want := h.svc.CachedActivityIDs()["a1"]

	fresh := New(Deps{Scheduler: h.sched, Ledger: h.ledger, Store: h.store, Clock: h.clock}, Config{Location: time.UTC})
	if len(fresh.CachedActivityIDs()) != 0 {
		t.Fatal("expected an empty cache before Init")
	}
	fresh.Init(h.ctx)

	if got := fresh.CachedActivityIDs()["a1"]; len(got) != 1 || got[0] != want[0] {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestEnsurePermissionWithRationale(t *testing.T) {
	t.Run("granted schedules", func(t *testing.T) {
		h := newUnpromptedHarness(t, true)
		h.store.ReplaceDomain(h.ctx, setUpDomain())
		if n := len(h.sched.schedules); n != 0 {
			t.Fatalf("expected nothing scheduled before permission, got %d", n)
		}

		res := h.svc.EnsurePermissionWithRationale(h.ctx, "Reminders keep you on track")
		if !res.Granted || res.OpenSettings || res.Status != domain.PermissionAuthorized {
			t.Fatalf("unexpected result %+v", res)
		}
		if got := h.store.Snapshot().Preferences.OSPermissionStatus; got != domain.PermissionAuthorized {
			t.Errorf("expected the stored status to follow, got %s", got)
		}
		if n := len(h.live(notification.DailyShowUp)); n != 1 {
			t.Errorf("expected the show-up nudge after the grant, got %d", n)
		}
	})

	t.Run("denied points to settings", func(t *testing.T) {
		h := newUnpromptedHarness(t, false)

		res := h.svc.EnsurePermissionWithRationale(h.ctx, "")
		if res.Granted || !res.OpenSettings || res.Status != domain.PermissionDenied {
			t.Fatalf("unexpected result %+v", res)
		}
		if n := len(h.sched.schedules); n != 0 {
			t.Errorf("expected nothing scheduled, got %d", n)
		}
		// Asking again does not prompt a second time.
		if again := h.svc.EnsurePermissionWithRationale(h.ctx, ""); again.Status != domain.PermissionDenied {
			t.Errorf("expected denied to stick, got %s", again.Status)
		}
	})
}
