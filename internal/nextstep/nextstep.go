// Package nextstep suggests the single most useful thing the user could do
// next. The notification engine only uses it to choose between "set
// something up" and "show up for an activity" copy.
package nextstep

import (
	"sort"
	"time"

	"github.com/samber/lo"

	"github.com/lalithlochan/nudge/internal/domain"
)

// Kind discriminates a suggestion.
type Kind string

const (
	KindSetup    Kind = "setup"
	KindActivity Kind = "activity"
)

// Setup reasons.
const (
	ReasonNoGoals      = "no_goals"
	ReasonNoActivities = "no_activities"
)

// Suggestion is either a setup step (with a reason) or an activity.
type Suggestion struct {
	Kind       Kind   `json:"kind"`
	Reason     string `json:"reason,omitempty"`
	ActivityID string `json:"activityId,omitempty"`
}

// Input is the slice of domain state the recommender reads.
type Input struct {
	Arcs       []domain.Arc
	Goals      []domain.Goal
	Activities []domain.Activity
	Now        time.Time
}

// Recommender is consumed by the notification service.
type Recommender interface {
	SuggestedNextStep(in Input) *Suggestion
	AnyScheduledForToday(activities []domain.Activity, now time.Time) bool
}

// Default is the built-in recommender.
type Default struct{}

// SuggestedNextStep returns nil when everything is done.
func (Default) SuggestedNextStep(in Input) *Suggestion {
	activeGoals := lo.Filter(in.Goals, func(g domain.Goal, _ int) bool { return g.Status.Active() })
	if len(activeGoals) == 0 {
		return &Suggestion{Kind: KindSetup, Reason: ReasonNoGoals}
	}
	if len(in.Activities) == 0 {
		return &Suggestion{Kind: KindSetup, Reason: ReasonNoActivities}
	}

	open := lo.Filter(in.Activities, func(a domain.Activity, _ int) bool { return a.Status.Incomplete() })
	if len(open) == 0 {
		return nil
	}

	today := domain.DateKey(in.Now)
	sort.SliceStable(open, func(i, j int) bool {
		ti, iToday := plannedToday(open[i], today, in.Now.Location())
		tj, jToday := plannedToday(open[j], today, in.Now.Location())
		if iToday != jToday {
			return iToday
		}
		if iToday && !ti.Equal(tj) {
			return ti.Before(tj)
		}
		return open[i].ID < open[j].ID
	})

	return &Suggestion{Kind: KindActivity, ActivityID: open[0].ID}
}

// AnyScheduledForToday reports whether any incomplete activity is planned
// for the local date of now.
func (Default) AnyScheduledForToday(activities []domain.Activity, now time.Time) bool {
	today := domain.DateKey(now)
	return lo.SomeBy(activities, func(a domain.Activity) bool {
		_, ok := plannedToday(a, today, now.Location())
		return ok && a.Status.Incomplete()
	})
}

func plannedToday(a domain.Activity, today string, loc *time.Location) (time.Time, bool) {
	for _, t := range []*time.Time{a.ScheduledDate, a.ReminderAt} {
		if t != nil && domain.DateKey(t.In(loc)) == today {
			return *t, true
		}
	}
	return time.Time{}, false
}
