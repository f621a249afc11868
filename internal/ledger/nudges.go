package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/lalithlochan/nudge/internal/notification"
)

// SystemNudges is the aggregate the global guards and personalization read.
type SystemNudges struct {
	SentCountByDate         map[string]int                        `json:"sentCountByDate"`
	LastSentAtByType        map[notification.Category]time.Time   `json:"lastSentAtByType"`
	ConsecutiveNoOpenByType map[notification.Category]int         `json:"consecutiveNoOpenByType"`
	OpenHourCountsByType    map[notification.Category]map[int]int `json:"openHourCountsByType"`
}

func (n *SystemNudges) init() {
	if n.SentCountByDate == nil {
		n.SentCountByDate = make(map[string]int)
	}
	if n.LastSentAtByType == nil {
		n.LastSentAtByType = make(map[notification.Category]time.Time)
	}
	if n.ConsecutiveNoOpenByType == nil {
		n.ConsecutiveNoOpenByType = make(map[notification.Category]int)
	}
	if n.OpenHourCountsByType == nil {
		n.OpenHourCountsByType = make(map[notification.Category]map[int]int)
	}
}

// LastSentAt returns the most recent fire of any tracked category.
func (n SystemNudges) LastSentAt() time.Time {
	var last time.Time
	for _, at := range n.LastSentAtByType {
		if at.After(last) {
			last = at
		}
	}
	return last
}

// Opens returns how many opens were recorded for c.
func (n SystemNudges) Opens(c notification.Category) int {
	total := 0
	for _, count := range n.OpenHourCountsByType[c] {
		total += count
	}
	return total
}

// ModalOpenHour returns the hour c was opened at most often. Ties resolve to
// the earlier hour. ok is false when no opens were recorded.
func (n SystemNudges) ModalOpenHour(c notification.Category) (hour int, ok bool) {
	best := -1
	for h := 0; h < 24; h++ {
		count := n.OpenHourCountsByType[c][h]
		if count > 0 && (best < 0 || count > n.OpenHourCountsByType[c][best]) {
			best = h
		}
	}
	return best, best >= 0
}

// LoadNudges returns the aggregate, initialised when absent.
func (l *Ledger) LoadNudges(ctx context.Context) (SystemNudges, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var n SystemNudges
	if err := l.load(ctx, systemNudgesKey, &n); err != nil {
		return SystemNudges{}, fmt.Errorf("load system nudge ledger: %w", err)
	}
	n.init()
	return n, nil
}

func (l *Ledger) updateNudges(ctx context.Context, fn func(*SystemNudges)) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	var n SystemNudges
	if err := l.load(ctx, systemNudgesKey, &n); err != nil {
		return fmt.Errorf("load system nudge ledger: %w", err)
	}
	n.init()
	fn(&n)
	if err := l.save(ctx, systemNudgesKey, n); err != nil {
		return fmt.Errorf("save system nudge ledger: %w", err)
	}
	return nil
}

// RecordNudgeFired counts a (possibly estimated) delivery of c at the given
// local instant and prunes day counts older than the retention window.
func (l *Ledger) RecordNudgeFired(ctx context.Context, c notification.Category, at time.Time) error {
	dateKey := at.Format("2006-01-02")
	return l.updateNudges(ctx, func(n *SystemNudges) {
		n.SentCountByDate[dateKey]++
		if at.After(n.LastSentAtByType[c]) {
			n.LastSentAtByType[c] = at
		}
		n.ConsecutiveNoOpenByType[c]++
		prune(n, at, l.retention)
	})
}

// RecordNudgeOpened counts an open of c at the given local hour and resets
// its ignored streak.
func (l *Ledger) RecordNudgeOpened(ctx context.Context, c notification.Category, hour int) error {
	return l.updateNudges(ctx, func(n *SystemNudges) {
		counts := n.OpenHourCountsByType[c]
		if counts == nil {
			counts = make(map[int]int)
			n.OpenHourCountsByType[c] = counts
		}
		counts[hour]++
		n.ConsecutiveNoOpenByType[c] = 0
	})
}

func prune(n *SystemNudges, now time.Time, retentionDays int) {
	y, m, d := now.Date()
	cutoff := time.Date(y, m, d, 0, 0, 0, 0, time.UTC).AddDate(0, 0, -retentionDays)
	for key := range n.SentCountByDate {
		day, err := time.Parse("2006-01-02", key)
		if err != nil || day.Before(cutoff) {
			delete(n.SentCountByDate, key)
		}
	}
}
