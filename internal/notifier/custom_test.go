package notifier

import (
	"testing"
	"time"

	"github.com/lalithlochan/nudge/internal/domain"
)

func TestExpandCustom(t *testing.T) {
	d := func(y int, m time.Month, day int) time.Time { return time.Date(y, m, day, 9, 0, 0, 0, time.UTC) }

	tests := []struct {
		name   string
		start  time.Time
		rule   domain.CustomRepeat
		anchor time.Time
		limit  int
		want   []time.Time
	}{
		{
			name:   "every other day",
			start:  d(2026, 4, 1),
			rule:   domain.CustomRepeat{Cadence: domain.CadenceDays, Interval: 2},
			anchor: d(2026, 4, 2),
			limit:  3,
			want:   []time.Time{d(2026, 4, 3), d(2026, 4, 5), d(2026, 4, 7)},
		},
		{
			name:   "weekly on monday and thursday",
			start:  d(2026, 4, 1),
			rule:   domain.CustomRepeat{Cadence: domain.CadenceWeeks, Interval: 1, Weekdays: []int{4, 1, 4}},
			anchor: d(2026, 4, 1),
			limit:  4,
			want:   []time.Time{d(2026, 4, 2), d(2026, 4, 6), d(2026, 4, 9), d(2026, 4, 13)},
		},
		{
			name:   "every two weeks without weekdays",
			start:  d(2026, 4, 1),
			rule:   domain.CustomRepeat{Cadence: domain.CadenceWeeks, Interval: 2},
			anchor: d(2026, 4, 1).Add(-time.Minute),
			limit:  2,
			want:   []time.Time{d(2026, 4, 1), d(2026, 4, 15)},
		},
		{
			name:   "month end clamps",
			start:  d(2026, 1, 31),
			rule:   domain.CustomRepeat{Cadence: domain.CadenceMonths, Interval: 1},
			anchor: d(2026, 1, 31),
			limit:  3,
			want:   []time.Time{d(2026, 2, 28), d(2026, 3, 31), d(2026, 4, 30)},
		},
		{
			name:   "leap day clamps",
			start:  d(2028, 2, 29),
			rule:   domain.CustomRepeat{Cadence: domain.CadenceYears, Interval: 1},
			anchor: d(2028, 3, 1),
			limit:  2,
			want:   []time.Time{d(2029, 2, 28), d(2030, 2, 28)},
		},
		{
			name:   "zero interval means one",
			start:  d(2026, 4, 1),
			rule:   domain.CustomRepeat{Cadence: domain.CadenceDays},
			anchor: d(2026, 4, 1),
			limit:  1,
			want:   []time.Time{d(2026, 4, 2)},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ExpandCustom(tt.start, tt.rule, tt.anchor, tt.limit)
			if !ok {
				t.Fatal("expected a known cadence")
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for i := range got {
				if !got[i].Equal(tt.want[i]) {
					t.Errorf("occurrence %d: got %v, want %v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestExpandCustom_BoundedAndAfterAnchor(t *testing.T) {
	start := time.Date(2025, 1, 6, 7, 0, 0, 0, time.UTC)
	rule := domain.CustomRepeat{Cadence: domain.CadenceWeeks, Interval: 1, Weekdays: []int{1, 3, 5}}

	for _, anchor := range []time.Time{start.Add(-time.Hour), testNow, testNow.AddDate(3, 0, 0)} {
		got, _ := ExpandCustom(start, rule, anchor, 24)
		if len(got) != 24 {
			t.Errorf("anchor %v: expected 24 occurrences, got %d", anchor, len(got))
		}
		for i, occ := range got {
			if !occ.After(anchor) {
				t.Errorf("anchor %v: occurrence %v not after anchor", anchor, occ)
			}
			if i > 0 && !occ.After(got[i-1]) {
				t.Errorf("occurrences out of order: %v then %v", got[i-1], occ)
			}
		}
	}
}

func TestExpandCustom_UnknownCadence(t *testing.T) {
	if _, ok := ExpandCustom(testNow, domain.CustomRepeat{Cadence: "fortnights", Interval: 1}, testNow, 24); ok {
		t.Error("expected an unknown cadence to be rejected")
	}
}
