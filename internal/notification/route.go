package notification

// Screen names a navigation destination in the app.
type Screen string

const (
	ScreenActivityDetail Screen = "ActivityDetail"
	ScreenGoalDetail     Screen = "GoalDetail"
	ScreenActivities     Screen = "Activities"
)

// Route is the deep link requested when a notification is opened.
type Route struct {
	Screen             Screen `json:"screen"`
	ActivityID         string `json:"activityId,omitempty"`
	GoalID             string `json:"goalId,omitempty"`
	HighlightSuggested bool   `json:"highlightSuggested,omitempty"`
}

// RouteFor maps an opened notification to its destination.
func RouteFor(d Data) Route {
	switch d.Type {
	case ActivityReminder:
		return Route{Screen: ScreenActivityDetail, ActivityID: d.ActivityID}
	case GoalNudge:
		return Route{Screen: ScreenGoalDetail, GoalID: d.GoalID}
	case DailyShowUp, SetupNextStep:
		return Route{Screen: ScreenActivities, HighlightSuggested: true}
	default:
		return Route{Screen: ScreenActivities}
	}
}
