// Package notification defines the typed payload carried by every
// scheduled notification and the navigation it triggers when opened.
package notification

import "fmt"

// Category identifies what kind of nudge a notification is.
type Category string

const (
	ActivityReminder Category = "activityReminder"
	DailyShowUp      Category = "dailyShowUp"
	DailyFocus       Category = "dailyFocus"
	GoalNudge        Category = "goalNudge"
	SetupNextStep    Category = "setupNextStep"
	Streak           Category = "streak"
	Reactivation     Category = "reactivation"
)

// SystemCategories are the app-initiated categories tracked by the global
// nudge guards and the reconciliation pass.
var SystemCategories = []Category{DailyShowUp, SetupNextStep, DailyFocus, GoalNudge}

// System reports whether c is an app-initiated nudge.
func (c Category) System() bool {
	switch c {
	case DailyShowUp, SetupNextStep, DailyFocus, GoalNudge:
		return true
	}
	return false
}

func (c Category) valid() bool {
	switch c {
	case ActivityReminder, DailyShowUp, DailyFocus, GoalNudge, SetupNextStep, Streak, Reactivation:
		return true
	}
	return false
}

// Data is the discriminated payload attached to a notification. Type is the
// tag; the remaining fields are populated according to it.
type Data struct {
	Type       Category
	ActivityID string
	GoalID     string
	Reason     string
}

// ForActivity builds the payload of an activity reminder.
func ForActivity(activityID string) Data {
	return Data{Type: ActivityReminder, ActivityID: activityID}
}

// ForGoal builds the payload of a goal nudge.
func ForGoal(goalID string) Data {
	return Data{Type: GoalNudge, GoalID: goalID}
}

// Map encodes the payload in the opaque form the platform stores.
func (d Data) Map() map[string]any {
	m := map[string]any{"type": string(d.Type)}
	if d.ActivityID != "" {
		m["activityId"] = d.ActivityID
	}
	if d.GoalID != "" {
		m["goalId"] = d.GoalID
	}
	if d.Reason != "" {
		m["reason"] = d.Reason
	}
	return m
}

// Parse recovers a typed payload from platform data. The platform round-trips
// the payload as untyped JSON, so every field is checked.
func Parse(raw map[string]any) (Data, error) {
	if raw == nil {
		return Data{}, fmt.Errorf("notification data missing")
	}
	tag, ok := raw["type"].(string)
	if !ok {
		return Data{}, fmt.Errorf("notification data has no type tag")
	}
	d := Data{Type: Category(tag)}
	if !d.Type.valid() {
		return Data{}, fmt.Errorf("unknown notification type %q", tag)
	}
	d.ActivityID, _ = raw["activityId"].(string)
	d.GoalID, _ = raw["goalId"].(string)
	d.Reason, _ = raw["reason"].(string)

	switch d.Type {
	case ActivityReminder:
		if d.ActivityID == "" {
			return Data{}, fmt.Errorf("activity reminder without activityId")
		}
	case GoalNudge:
		if d.GoalID == "" {
			return Data{}, fmt.Errorf("goal nudge without goalId")
		}
	}
	return d, nil
}
