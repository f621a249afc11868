package notification

import "testing"

func TestParse_RoundTrip(t *testing.T) {
	in := ForActivity("act-1")
	got, err := Parse(in.Map())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != in {
		t.Errorf("expected %+v, got %+v", in, got)
	}
}

func TestParse_RejectsMalformed(t *testing.T) {
	tests := []struct {
		name string
		raw  map[string]any
	}{
		{"nil", nil},
		{"no tag", map[string]any{"activityId": "a"}},
		{"tag not string", map[string]any{"type": 42}},
		{"unknown tag", map[string]any{"type": "marketing"}},
		{"reminder without activity", map[string]any{"type": "activityReminder"}},
		{"goal nudge without goal", map[string]any{"type": "goalNudge", "goalId": 7}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse(tt.raw); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestRouteFor(t *testing.T) {
	tests := []struct {
		data Data
		want Route
	}{
		{ForActivity("a1"), Route{Screen: ScreenActivityDetail, ActivityID: "a1"}},
		{ForGoal("g1"), Route{Screen: ScreenGoalDetail, GoalID: "g1"}},
		{Data{Type: DailyShowUp}, Route{Screen: ScreenActivities, HighlightSuggested: true}},
		{Data{Type: SetupNextStep}, Route{Screen: ScreenActivities, HighlightSuggested: true}},
		{Data{Type: DailyFocus}, Route{Screen: ScreenActivities}},
		{Data{Type: Streak}, Route{Screen: ScreenActivities}},
		{Data{Type: Reactivation}, Route{Screen: ScreenActivities}},
	}

	for _, tt := range tests {
		if got := RouteFor(tt.data); got != tt.want {
			t.Errorf("RouteFor(%s) = %+v, want %+v", tt.data.Type, got, tt.want)
		}
	}
}
