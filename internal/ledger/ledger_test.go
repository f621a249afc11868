package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/lalithlochan/nudge/internal/kv"
	"github.com/lalithlochan/nudge/internal/notification"
)

func newTestLedger() (*Ledger, *kv.Memory) {
	store := kv.NewMemory()
	return New(store, 30, zap.NewNop()), store
}

func TestLoadSystem_DefaultsWhenAbsent(t *testing.T) {
	l, _ := newTestLedger()

	e, err := l.LoadSystem(context.Background(), notification.DailyShowUp)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if e.Pending() || e.ScheduledFor != nil {
		t.Errorf("expected empty entry, got %+v", e)
	}
}

func TestSaveSystem_PartialUpsert(t *testing.T) {
	l, _ := newTestLedger()
	ctx := context.Background()
	at := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)

	if err := l.SaveSystem(ctx, notification.DailyFocus, func(e *Entry) {
		e.NotificationID = "n1"
		e.ScheduledFor = &at
	}); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if err := l.SaveSystem(ctx, notification.DailyFocus, func(e *Entry) {
		e.ScheduleTimeLocal = "08:00"
	}); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	e, _ := l.LoadSystem(ctx, notification.DailyFocus)
	if e.NotificationID != "n1" || e.ScheduleTimeLocal != "08:00" || !e.ScheduledFor.Equal(at) {
		t.Errorf("expected merged entry, got %+v", e)
	}

	if err := l.ClearSystem(ctx, notification.DailyFocus, at); err != nil {
		t.Fatalf("clear failed: %v", err)
	}
	e, _ = l.LoadSystem(ctx, notification.DailyFocus)
	if e.Pending() || e.CancelledAt == nil {
		t.Errorf("expected cleared entry with cancel time, got %+v", e)
	}
}

func TestLoadSystem_CorruptRecordTreatedAsAbsent(t *testing.T) {
	l, store := newTestLedger()
	ctx := context.Background()
	_ = store.Set(ctx, "ledger:goalNudge", []byte("{not json"))

	e, err := l.LoadSystem(ctx, notification.GoalNudge)
	if err != nil {
		t.Fatalf("expected corrupt record to be ignored, got %v", err)
	}
	if e.Pending() {
		t.Errorf("expected empty entry, got %+v", e)
	}
}

type failingStore struct{}

func (failingStore) Get(context.Context, string) ([]byte, error) {
	return nil, errors.New("disk full")
}
func (failingStore) Set(context.Context, string, []byte) error { return errors.New("disk full") }
func (failingStore) Delete(context.Context, string) error { return errors.New("disk full") }

func TestLedger_PropagatesStoreErrors(t *testing.T) {
	l := New(failingStore{}, 0, zap.NewNop())
	if _, err := l.LoadSystem(context.Background(), notification.DailyShowUp); err == nil {
		t.Fatal("expected store error")
	}
	if err := l.RecordNudgeOpened(context.Background(), notification.GoalNudge, 16); err == nil {
		t.Fatal("expected store error")
	}
}

func TestMarkActivityReminderFired_PromotesNextFireTime(t *testing.T) {
	l, _ := newTestLedger()
	ctx := context.Background()
	day1 := time.Date(2026, 5, 2, 9, 0, 0, 0, time.UTC)
	day2 := day1.AddDate(0, 0, 1)
	day3 := day1.AddDate(0, 0, 2)

	_ = l.SaveActivityReminder(ctx, "act-1", func(e *Entry) {
		e.NotificationID = "n1"
		e.NotificationIDs = []string{"n1", "n2", "n3"}
		e.ScheduledFor = &day1
		e.FireTimes = map[string]time.Time{"n1": day1, "n2": day2, "n3": day3}
	})

	// n2 is reported before n1.
	_ = l.MarkActivityReminderFired(ctx, "act-1", "n2", day2)
	_ = l.MarkActivityReminderFired(ctx, "act-1", "n1", day1)

	entries, _ := l.LoadActivityReminders(ctx)
	e := entries["act-1"]
	if e.NotificationID != "n3" || e.ScheduledFor == nil || !e.ScheduledFor.Equal(day3) {
		t.Errorf("expected n3 promoted with its own time, got %+v", e)
	}
	if e.FiredAt == nil || !e.FiredAt.Equal(day2) || e.LastFiredDateKey != "2026-05-03" {
		t.Errorf("expected the latest fire kept, got %+v", e)
	}
	if _, ok := e.FireTime("n1"); ok {
		t.Error("expected fired ids to lose their fire time")
	}
	if at, ok := e.FireTime("n3"); !ok || !at.Equal(day3) {
		t.Errorf("expected n3 due %v, got %v", day3, at)
	}
}

func TestEntry_FireTimeFallsBackToScheduledFor(t *testing.T) {
	at := time.Date(2026, 5, 2, 9, 0, 0, 0, time.UTC)
	e := Entry{NotificationID: "n1", NotificationIDs: []string{"n1", "n2"}, ScheduledFor: &at}

	if got, ok := e.FireTime("n1"); !ok || !got.Equal(at) {
		t.Errorf("expected the primary id dated by ScheduledFor, got %v", got)
	}
	if _, ok := e.FireTime("n2"); ok {
		t.Error("expected no time for a secondary id without per-id times")
	}
}

func TestActivityReminders_Lifecycle(t *testing.T) {
	l, _ := newTestLedger()
	ctx := context.Background()
	at := time.Date(2026, 5, 2, 9, 0, 0, 0, time.UTC)

	err := l.SaveActivityReminder(ctx, "act-1", func(e *Entry) {
		e.NotificationID = "n1"
		e.NotificationIDs = []string{"n1", "n2"}
		e.ScheduledFor = &at
	})
	if err != nil {
		t.Fatalf("save failed: %v", err)
	}

	if err := l.MarkActivityReminderFired(ctx, "act-1", "n1", at); err != nil {
		t.Fatalf("mark fired failed: %v", err)
	}
	entries, _ := l.LoadActivityReminders(ctx)
	e := entries["act-1"]
	if e.ActivityID != "act-1" {
		t.Errorf("expected activity id to be stamped, got %q", e.ActivityID)
	}
	if e.NotificationID != "n2" || len(e.NotificationIDs) != 1 {
		t.Errorf("expected n2 to remain pending, got %+v", e)
	}
	if e.LastFiredDateKey != "2026-05-02" {
		t.Errorf("unexpected fired date key %q", e.LastFiredDateKey)
	}

	if err := l.MarkActivityReminderCancelled(ctx, "act-1", at); err != nil {
		t.Fatalf("mark cancelled failed: %v", err)
	}
	entries, _ = l.LoadActivityReminders(ctx)
	if entries["act-1"].Pending() || entries["act-1"].CancelledAt == nil {
		t.Errorf("expected cancelled entry, got %+v", entries["act-1"])
	}

	if err := l.DeleteActivityReminderEntry(ctx, "act-1"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	entries, _ = l.LoadActivityReminders(ctx)
	if _, ok := entries["act-1"]; ok {
		t.Error("expected entry to be deleted")
	}
}

func TestRecordNudgeFired_CountsAndPrunes(t *testing.T) {
	l, _ := newTestLedger()
	ctx := context.Background()

	old := time.Date(2026, 1, 1, 16, 0, 0, 0, time.UTC)
	recent := time.Date(2026, 3, 1, 16, 0, 0, 0, time.UTC)

	_ = l.RecordNudgeFired(ctx, notification.GoalNudge, old)
	_ = l.RecordNudgeFired(ctx, notification.DailyShowUp, recent)
	_ = l.RecordNudgeFired(ctx, notification.GoalNudge, recent.Add(time.Hour))

	n, err := l.LoadNudges(ctx)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if _, ok := n.SentCountByDate["2026-01-01"]; ok {
		t.Error("expected day older than retention window to be pruned")
	}
	if n.SentCountByDate["2026-03-01"] != 2 {
		t.Errorf("expected 2 sends on 2026-03-01, got %d", n.SentCountByDate["2026-03-01"])
	}
	if !n.LastSentAt().Equal(recent.Add(time.Hour)) {
		t.Errorf("unexpected last sent %v", n.LastSentAt())
	}
	if n.ConsecutiveNoOpenByType[notification.GoalNudge] != 2 {
		t.Errorf("expected 2 unopened goal nudges, got %d", n.ConsecutiveNoOpenByType[notification.GoalNudge])
	}
}

func TestRecordNudgeOpened_ResetsStreakAndTracksHour(t *testing.T) {
	l, _ := newTestLedger()
	ctx := context.Background()
	at := time.Date(2026, 3, 1, 16, 0, 0, 0, time.UTC)

	_ = l.RecordNudgeFired(ctx, notification.GoalNudge, at)
	_ = l.RecordNudgeOpened(ctx, notification.GoalNudge, 17)
	_ = l.RecordNudgeOpened(ctx, notification.GoalNudge, 17)
	_ = l.RecordNudgeOpened(ctx, notification.GoalNudge, 9)

	n, _ := l.LoadNudges(ctx)
	if n.ConsecutiveNoOpenByType[notification.GoalNudge] != 0 {
		t.Error("expected open to reset ignored streak")
	}
	if n.Opens(notification.GoalNudge) != 3 {
		t.Errorf("expected 3 opens, got %d", n.Opens(notification.GoalNudge))
	}
	if h, ok := n.ModalOpenHour(notification.GoalNudge); !ok || h != 17 {
		t.Errorf("expected modal hour 17, got %d (%v)", h, ok)
	}
}

func TestModalOpenHour_TieResolvesEarlier(t *testing.T) {
	n := SystemNudges{OpenHourCountsByType: map[notification.Category]map[int]int{
		notification.GoalNudge: {18: 2, 15: 2},
	}}
	if h, _ := n.ModalOpenHour(notification.GoalNudge); h != 15 {
		t.Errorf("expected 15, got %d", h)
	}
	if _, ok := n.ModalOpenHour(notification.DailyFocus); ok {
		t.Error("expected no modal hour without opens")
	}
}
