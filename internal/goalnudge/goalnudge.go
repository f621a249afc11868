// Package goalnudge picks which goal, if any, deserves today's goal nudge.
package goalnudge

import (
	"sort"
	"time"

	"github.com/samber/lo"

	"github.com/lalithlochan/nudge/internal/domain"
)

// Candidate is the goal chosen for a nudge.
type Candidate struct {
	GoalID    string `json:"goalId"`
	GoalTitle string `json:"goalTitle"`
	ArcName   string `json:"arcName"`
}

type rank struct {
	goal     domain.Goal
	arcName  string
	open     int
	todayAt  int // minutes after midnight of the earliest activity today
	hasToday bool
}

// Pick is pure: identical inputs and now always yield the same candidate.
// Goals count only if their arc is active, they are active themselves, and
// they have at least one incomplete activity. Goals with something planned
// today come first (earliest time wins); the rest are ordered by how many
// incomplete activities they carry. Goal id breaks remaining ties.
func Pick(arcs []domain.Arc, goals []domain.Goal, activities []domain.Activity, now time.Time) *Candidate {
	activeArcs := lo.SliceToMap(
		lo.Filter(arcs, func(a domain.Arc, _ int) bool { return a.Status == domain.ArcActive }),
		func(a domain.Arc) (string, string) { return a.ID, a.Name },
	)

	ranks := make(map[string]*rank)
	for _, g := range goals {
		name, ok := activeArcs[g.ArcID]
		if !ok || !g.Status.Active() {
			continue
		}
		ranks[g.ID] = &rank{goal: g, arcName: name}
	}

	today := domain.DateKey(now)
	for _, a := range activities {
		r, ok := ranks[a.GoalID]
		if !ok || !a.Status.Incomplete() {
			continue
		}
		r.open++
		if at, ok := scheduledAt(a, now.Location()); ok && domain.DateKey(at) == today {
			minutes := at.Hour()*60 + at.Minute()
			if !r.hasToday || minutes < r.todayAt {
				r.todayAt = minutes
				r.hasToday = true
			}
		}
	}

	eligible := lo.Filter(lo.Values(ranks), func(r *rank, _ int) bool { return r.open > 0 })
	if len(eligible) == 0 {
		return nil
	}

	sort.Slice(eligible, func(i, j int) bool {
		a, b := eligible[i], eligible[j]
		if a.hasToday != b.hasToday {
			return a.hasToday
		}
		if a.hasToday && a.todayAt != b.todayAt {
			return a.todayAt < b.todayAt
		}
		if a.open != b.open {
			return a.open > b.open
		}
		return a.goal.ID < b.goal.ID
	})

	top := eligible[0]
	return &Candidate{GoalID: top.goal.ID, GoalTitle: top.goal.Title, ArcName: top.arcName}
}

// scheduledAt prefers the planned date and falls back to the reminder.
func scheduledAt(a domain.Activity, loc *time.Location) (time.Time, bool) {
	switch {
	case a.ScheduledDate != nil:
		return a.ScheduledDate.In(loc), true
	case a.ReminderAt != nil:
		return a.ReminderAt.In(loc), true
	}
	return time.Time{}, false
}
