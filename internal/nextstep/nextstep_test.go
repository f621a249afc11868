package nextstep

import (
	"testing"
	"time"

	"github.com/lalithlochan/nudge/internal/domain"
)

func TestSuggestedNextStep(t *testing.T) {
	now := time.Date(2026, 4, 14, 8, 0, 0, 0, time.UTC)
	later := time.Date(2026, 4, 14, 17, 0, 0, 0, time.UTC)
	goal := domain.Goal{ID: "g1", ArcID: "arc", Status: domain.GoalInProgress}

	tests := []struct {
		name string
		in   Input
		want *Suggestion
	}{
		{
			name: "no goals",
			in:   Input{Now: now},
			want: &Suggestion{Kind: KindSetup, Reason: ReasonNoGoals},
		},
		{
			name: "only archived goals",
			in:   Input{Goals: []domain.Goal{{ID: "g", Status: domain.GoalArchived}}, Now: now},
			want: &Suggestion{Kind: KindSetup, Reason: ReasonNoGoals},
		},
		{
			name: "goals without activities",
			in:   Input{Goals: []domain.Goal{goal}, Now: now},
			want: &Suggestion{Kind: KindSetup, Reason: ReasonNoActivities},
		},
		{
			name: "everything done",
			in: Input{Goals: []domain.Goal{goal}, Now: now, Activities: []domain.Activity{
				{ID: "a1", GoalID: "g1", Status: domain.ActivityDone},
			}},
			want: nil,
		},
		{
			name: "today's activity first",
			in: Input{Goals: []domain.Goal{goal}, Now: now, Activities: []domain.Activity{
				{ID: "a1", GoalID: "g1", Status: domain.ActivityPlanned},
				{ID: "a2", GoalID: "g1", Status: domain.ActivityPlanned, ReminderAt: &later},
			}},
			want: &Suggestion{Kind: KindActivity, ActivityID: "a2"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Default{}.SuggestedNextStep(tt.in)
			if (got == nil) != (tt.want == nil) {
				t.Fatalf("expected %+v, got %+v", tt.want, got)
			}
			if got != nil && *got != *tt.want {
				t.Errorf("expected %+v, got %+v", tt.want, got)
			}
		})
	}
}

func TestAnyScheduledForToday(t *testing.T) {
	now := time.Date(2026, 4, 14, 8, 0, 0, 0, time.UTC)
	today := time.Date(2026, 4, 14, 20, 0, 0, 0, time.UTC)
	tomorrow := today.AddDate(0, 0, 1)

	r := Default{}
	if r.AnyScheduledForToday([]domain.Activity{{ID: "a", Status: domain.ActivityPlanned, ScheduledDate: &tomorrow}}, now) {
		t.Error("tomorrow should not count")
	}
	if r.AnyScheduledForToday([]domain.Activity{{ID: "a", Status: domain.ActivityDone, ScheduledDate: &today}}, now) {
		t.Error("done activities should not count")
	}
	if !r.AnyScheduledForToday([]domain.Activity{{ID: "a", Status: domain.ActivityPlanned, ScheduledDate: &today}}, now) {
		t.Error("expected today's activity to count")
	}
}
