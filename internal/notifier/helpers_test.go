package notifier

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/lalithlochan/nudge/internal/analytics"
	"github.com/lalithlochan/nudge/internal/clock"
	"github.com/lalithlochan/nudge/internal/domain"
	"github.com/lalithlochan/nudge/internal/kv"
	"github.com/lalithlochan/nudge/internal/ledger"
	"github.com/lalithlochan/nudge/internal/notification"
	"github.com/lalithlochan/nudge/internal/platform"
	"github.com/lalithlochan/nudge/internal/store"
)

// Wednesday.
var testNow = time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)

type scheduleCall struct {
	content platform.Content
	trigger platform.Trigger
}

// countingScheduler records calls on top of the in-process scheduler.
type countingScheduler struct {
	*platform.Local
	mu        sync.Mutex
	schedules []scheduleCall
	cancels   []string
}

func (c *countingScheduler) Schedule(ctx context.Context, content platform.Content, trigger platform.Trigger) (string, error) {
	c.mu.Lock()
	c.schedules = append(c.schedules, scheduleCall{content: content, trigger: trigger})
	c.mu.Unlock()
	return c.Local.Schedule(ctx, content, trigger)
}

func (c *countingScheduler) Cancel(ctx context.Context, id string) error {
	c.mu.Lock()
	c.cancels = append(c.cancels, id)
	c.mu.Unlock()
	return c.Local.Cancel(ctx, id)
}

func (c *countingScheduler) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.schedules = nil
	c.cancels = nil
}

func (c *countingScheduler) schedulesOf(cat notification.Category) []scheduleCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []scheduleCall
	for _, call := range c.schedules {
		if call.content.Data["type"] == string(cat) {
			out = append(out, call)
		}
	}
	return out
}

type recordingTracker struct {
	mu     sync.Mutex
	events []analytics.Event
}

func (r *recordingTracker) Track(_ context.Context, e analytics.Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *recordingTracker) count(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Name == name {
			n++
		}
	}
	return n
}

type harness struct {
	t      *testing.T
	ctx    context.Context
	svc    *Service
	sched  *countingScheduler
	store  *store.Store
	ledger *ledger.Ledger
	clock  *clock.Fixed
	events *recordingTracker
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := newUnpromptedHarness(t, true)
	if _, err := h.sched.RequestPermissions(h.ctx); err != nil {
		t.Fatalf("permission: %v", err)
	}
	h.prefs(func(p *domain.Preferences) { p.OSPermissionStatus = domain.PermissionAuthorized })
	return h
}

// newUnpromptedHarness has never asked for permission; grant decides the
// answer the platform gives.
func newUnpromptedHarness(t *testing.T, grant bool) *harness {
	t.Helper()
	ctx := context.Background()
	clk := &clock.Fixed{At: testNow}

	local := platform.NewLocal(platform.LocalConfig{Location: time.UTC, GrantOnRequest: grant}, clk, zap.NewNop())
	sched := &countingScheduler{Local: local}

	mem := kv.NewMemory()
	st := store.New(ctx, mem, zap.NewNop())
	led := ledger.New(mem, ledger.DefaultRetentionDays, zap.NewNop())
	events := &recordingTracker{}

	svc := New(Deps{
		Scheduler: sched,
		Ledger:    led,
		Store:     st,
		Tracker:   events,
		Clock:     clk,
		Logger:    zap.NewNop(),
	}, Config{Location: time.UTC})
	st.Subscribe(svc.HandleStateChange)

	return &harness{t: t, ctx: ctx, svc: svc, sched: sched, store: st, ledger: led, clock: clk, events: events}
}

// prefs changes preferences without triggering a sync.
func (h *harness) prefs(fn func(*domain.Preferences)) {
	h.store.SetNotificationPreferences(h.ctx, func(p domain.Preferences) domain.Preferences {
		fn(&p)
		return p
	})
}

func (h *harness) live(cat notification.Category) []platform.Request {
	h.t.Helper()
	reqs, err := h.sched.ListScheduled(h.ctx)
	if err != nil {
		h.t.Fatalf("list: %v", err)
	}
	var out []platform.Request
	for _, r := range reqs {
		if r.Content.Data["type"] == string(cat) {
			out = append(out, r)
		}
	}
	return out
}

// setUpDomain gives the user one active arc, goal and activity.
func setUpDomain() domain.State {
	return domain.State{
		Arcs:  []domain.Arc{{ID: "arc1", Name: "Health", Status: domain.ArcActive}},
		Goals: []domain.Goal{{ID: "g1", ArcID: "arc1", Title: "Run a 10k", Status: domain.GoalInProgress}},
		Activities: []domain.Activity{
			{ID: "warmup", Title: "Warm up", GoalID: "g1", Status: domain.ActivityPlanned},
		},
	}
}
