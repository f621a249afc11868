// Package ledger records what the engine believes it scheduled, fired and
// cancelled. It is a best-effort mirror: the platform's scheduled list is
// authoritative, and the ledger exists so reconciliation can infer that a
// one-shot notification fired once it disappears from that list.
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lalithlochan/nudge/internal/kv"
	"github.com/lalithlochan/nudge/internal/notification"
)

const (
	activityRemindersKey = "ledger:activityReminder"
	systemNudgesKey      = "ledger:systemNudges"

	// DefaultRetentionDays bounds the per-day sent counts kept in the
	// system nudge aggregate.
	DefaultRetentionDays = 30
)

func systemKey(c notification.Category) string {
	return "ledger:" + string(c)
}

// Entry is the record of one category's pending notification, or of one
// activity's reminders.
type Entry struct {
	ActivityID        string     `json:"activityId,omitempty"`
	NotificationID    string     `json:"notificationId,omitempty"`
	NotificationIDs   []string   `json:"notificationIds,omitempty"`
	ScheduleTimeLocal string     `json:"scheduleTimeLocal,omitempty"`
	ScheduledFor      *time.Time `json:"scheduledForIso,omitempty"`
	LastFiredDateKey  string     `json:"lastFiredDateKey,omitempty"`
	CancelledAt       *time.Time `json:"cancelledAtIso,omitempty"`
	FiredAt           *time.Time `json:"firedAtIso,omitempty"`

	// FireTimes holds the due time of each pending activity reminder.
	FireTimes map[string]time.Time `json:"fireTimesIso,omitempty"`
}

// Pending reports whether the entry points at a notification believed to
// still be scheduled.
func (e Entry) Pending() bool {
	return e.NotificationID != ""
}

// FireTime returns when id is due. Entries written without per-id times
// only know the primary id, through ScheduledFor.
func (e Entry) FireTime(id string) (time.Time, bool) {
	if at, ok := e.FireTimes[id]; ok {
		return at, true
	}
	if id != "" && id == e.NotificationID && e.ScheduledFor != nil {
		return *e.ScheduledFor, true
	}
	return time.Time{}, false
}

// Ledger persists entries and the system nudge aggregate through a kv.Store.
// Read-modify-write cycles are serialized within the process.
type Ledger struct {
	mu        sync.Mutex
	store     kv.Store
	retention int
	logger    *zap.Logger
}

// New creates a ledger. retentionDays <= 0 selects DefaultRetentionDays.
func New(store kv.Store, retentionDays int, logger *zap.Logger) *Ledger {
	if retentionDays <= 0 {
		retentionDays = DefaultRetentionDays
	}
	return &Ledger{store: store, retention: retentionDays, logger: logger}
}

func (l *Ledger) load(ctx context.Context, key string, v any) error {
	raw, err := l.store.Get(ctx, key)
	if errors.Is(err, kv.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		// A corrupt record is treated as absent rather than blocking scheduling.
		l.logger.Warn("discarding unreadable ledger record", zap.String("key", key), zap.Error(err))
		return nil
	}
	return nil
}

func (l *Ledger) save(ctx context.Context, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	return l.store.Set(ctx, key, raw)
}

// LoadSystem returns the entry of a system category, or a zero entry.
func (l *Ledger) LoadSystem(ctx context.Context, c notification.Category) (Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var e Entry
	if err := l.load(ctx, systemKey(c), &e); err != nil {
		return Entry{}, fmt.Errorf("load %s ledger: %w", c, err)
	}
	return e, nil
}

// SaveSystem upserts a system category's entry through mutate.
func (l *Ledger) SaveSystem(ctx context.Context, c notification.Category, mutate func(*Entry)) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	var e Entry
	if err := l.load(ctx, systemKey(c), &e); err != nil {
		return fmt.Errorf("load %s ledger: %w", c, err)
	}
	mutate(&e)
	if err := l.save(ctx, systemKey(c), e); err != nil {
		return fmt.Errorf("save %s ledger: %w", c, err)
	}
	return nil
}

// ClearSystem drops the pending pointer of a system category after an
// explicit cancel.
func (l *Ledger) ClearSystem(ctx context.Context, c notification.Category, at time.Time) error {
	return l.SaveSystem(ctx, c, func(e *Entry) {
		e.NotificationID = ""
		e.NotificationIDs = nil
		e.ScheduledFor = nil
		e.CancelledAt = &at
	})
}

// LoadActivityReminders returns every activity reminder entry keyed by
// activity id.
func (l *Ledger) LoadActivityReminders(ctx context.Context) (map[string]Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.loadActivities(ctx)
}

func (l *Ledger) loadActivities(ctx context.Context) (map[string]Entry, error) {
	entries := make(map[string]Entry)
	if err := l.load(ctx, activityRemindersKey, &entries); err != nil {
		return nil, fmt.Errorf("load activity ledger: %w", err)
	}
	if entries == nil {
		entries = make(map[string]Entry)
	}
	return entries, nil
}

func (l *Ledger) updateActivities(ctx context.Context, fn func(map[string]Entry)) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	entries, err := l.loadActivities(ctx)
	if err != nil {
		return err
	}
	fn(entries)
	if err := l.save(ctx, activityRemindersKey, entries); err != nil {
		return fmt.Errorf("save activity ledger: %w", err)
	}
	return nil
}

// SaveActivityReminder upserts one activity's entry through mutate.
func (l *Ledger) SaveActivityReminder(ctx context.Context, activityID string, mutate func(*Entry)) error {
	return l.updateActivities(ctx, func(entries map[string]Entry) {
		e := entries[activityID]
		e.ActivityID = activityID
		mutate(&e)
		entries[activityID] = e
	})
}

// DeleteActivityReminderEntry forgets an activity entirely.
func (l *Ledger) DeleteActivityReminderEntry(ctx context.Context, activityID string) error {
	return l.updateActivities(ctx, func(entries map[string]Entry) {
		delete(entries, activityID)
	})
}

// MarkActivityReminderCancelled clears the activity's pending pointers.
func (l *Ledger) MarkActivityReminderCancelled(ctx context.Context, activityID string, at time.Time) error {
	return l.updateActivities(ctx, func(entries map[string]Entry) {
		e, ok := entries[activityID]
		if !ok {
			return
		}
		e.NotificationID = ""
		e.NotificationIDs = nil
		e.FireTimes = nil
		e.CancelledAt = &at
		entries[activityID] = e
	})
}

// MarkActivityReminderFired records that notificationID was delivered and
// drops it from the pending set. The next pending reminder becomes the
// primary one. Fires reported out of order never move FiredAt backwards.
func (l *Ledger) MarkActivityReminderFired(ctx context.Context, activityID, notificationID string, at time.Time) error {
	return l.updateActivities(ctx, func(entries map[string]Entry) {
		e, ok := entries[activityID]
		if !ok {
			return
		}
		remaining := e.NotificationIDs[:0]
		for _, id := range e.NotificationIDs {
			if id != notificationID {
				remaining = append(remaining, id)
			}
		}
		e.NotificationIDs = remaining
		delete(e.FireTimes, notificationID)
		if e.NotificationID == notificationID {
			e.NotificationID = ""
			if len(remaining) > 0 {
				e.NotificationID = remaining[0]
				if next, ok := e.FireTimes[remaining[0]]; ok {
					e.ScheduledFor = &next
				}
			}
		}
		if e.FiredAt == nil || at.After(*e.FiredAt) {
			e.FiredAt = &at
			e.LastFiredDateKey = at.Format("2006-01-02")
		}
		entries[activityID] = e
	})
}
