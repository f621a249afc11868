// Package domain holds the arcs, goals and activities the notification
// engine observes, plus the user's notification preferences.
package domain

import "time"

// ActivityStatus is the lifecycle state of an activity.
type ActivityStatus string

const (
	ActivityPlanned    ActivityStatus = "planned"
	ActivityInProgress ActivityStatus = "in_progress"
	ActivityDone       ActivityStatus = "done"
	ActivitySkipped    ActivityStatus = "skipped"
	ActivityCancelled  ActivityStatus = "cancelled"
)

// Incomplete reports whether the activity still has work left.
func (s ActivityStatus) Incomplete() bool {
	return s != ActivityDone && s != ActivitySkipped && s != ActivityCancelled
}

// RepeatRule is the recurrence of an activity reminder.
type RepeatRule string

const (
	RepeatNone     RepeatRule = ""
	RepeatDaily    RepeatRule = "daily"
	RepeatWeekly   RepeatRule = "weekly"
	RepeatWeekdays RepeatRule = "weekdays"
	RepeatMonthly  RepeatRule = "monthly"
	RepeatYearly   RepeatRule = "yearly"
	RepeatCustom   RepeatRule = "custom"
)

// Cadence is the unit of a custom repeat.
type Cadence string

const (
	CadenceDays   Cadence = "days"
	CadenceWeeks  Cadence = "weeks"
	CadenceMonths Cadence = "months"
	CadenceYears  Cadence = "years"
)

// CustomRepeat describes an "every N units" repeat. Weekdays use
// time.Weekday numbering (0 = Sunday) and only apply to weekly cadence.
type CustomRepeat struct {
	Cadence  Cadence `json:"cadence"`
	Interval int     `json:"interval"`
	Weekdays []int   `json:"weekdays,omitempty"`
}

// Activity is a schedulable, completable task under a goal.
type Activity struct {
	ID            string         `json:"id"`
	Title         string         `json:"title"`
	GoalID        string         `json:"goalId,omitempty"`
	ReminderAt    *time.Time     `json:"reminderAt,omitempty"`
	ScheduledDate *time.Time     `json:"scheduledDate,omitempty"`
	Status        ActivityStatus `json:"status"`
	RepeatRule    RepeatRule     `json:"repeatRule,omitempty"`
	RepeatCustom  *CustomRepeat  `json:"repeatCustom,omitempty"`
}

// Repeating reports whether the activity carries any repeat rule.
func (a Activity) Repeating() bool {
	return a.RepeatRule != RepeatNone
}

// GoalStatus is the lifecycle state of a goal.
type GoalStatus string

const (
	GoalPlanned    GoalStatus = "planned"
	GoalInProgress GoalStatus = "in_progress"
	GoalCompleted  GoalStatus = "completed"
	GoalArchived   GoalStatus = "archived"
)

// Active reports whether the goal is still being pursued.
func (s GoalStatus) Active() bool {
	return s == GoalPlanned || s == GoalInProgress
}

// Goal is a concrete objective under an arc.
type Goal struct {
	ID     string     `json:"id"`
	ArcID  string     `json:"arcId"`
	Title  string     `json:"title"`
	Status GoalStatus `json:"status"`
}

// ArcStatus is the lifecycle state of an arc.
type ArcStatus string

const (
	ArcActive   ArcStatus = "active"
	ArcPaused   ArcStatus = "paused"
	ArcArchived ArcStatus = "archived"
)

// Arc is a top-level aspiration grouping goals.
type Arc struct {
	ID     string    `json:"id"`
	Name   string    `json:"name"`
	Status ArcStatus `json:"status"`
}

// PermissionStatus mirrors the platform's notification permission state.
type PermissionStatus string

const (
	PermissionNotRequested PermissionStatus = "notRequested"
	PermissionAuthorized   PermissionStatus = "authorized"
	PermissionDenied       PermissionStatus = "denied"
	PermissionRestricted   PermissionStatus = "restricted"
)

// Preferences are the user's notification settings.
type Preferences struct {
	NotificationsEnabled   bool             `json:"notificationsEnabled"`
	OSPermissionStatus     PermissionStatus `json:"osPermissionStatus"`
	AllowActivityReminders bool             `json:"allowActivityReminders"`
	AllowDailyShowUp       bool             `json:"allowDailyShowUp"`
	AllowDailyFocus        bool             `json:"allowDailyFocus"`
	AllowGoalNudges        bool             `json:"allowGoalNudges"`
	DailyShowUpTime        string           `json:"dailyShowUpTime,omitempty"`
	DailyFocusTime         string           `json:"dailyFocusTime,omitempty"`
	GoalNudgeTime          string           `json:"goalNudgeTime,omitempty"`
}

// DefaultGoalNudgeTime is used when no goal nudge time is configured.
const DefaultGoalNudgeTime = "16:00"

// DefaultPreferences returns the settings of a fresh install.
func DefaultPreferences() Preferences {
	return Preferences{
		NotificationsEnabled:   true,
		OSPermissionStatus:     PermissionNotRequested,
		AllowActivityReminders: true,
		AllowDailyShowUp:       true,
		AllowDailyFocus:        false,
		AllowGoalNudges:        true,
		DailyShowUpTime:        "08:00",
		DailyFocusTime:         "",
		GoalNudgeTime:          DefaultGoalNudgeTime,
	}
}

// Delivering reports whether any notification may be delivered at all.
func (p Preferences) Delivering() bool {
	return p.NotificationsEnabled && p.OSPermissionStatus == PermissionAuthorized
}

// State is the snapshot of the domain store handed to the engine.
type State struct {
	Activities                    []Activity  `json:"activities"`
	Goals                         []Goal      `json:"goals"`
	Arcs                          []Arc       `json:"arcs"`
	Preferences                   Preferences `json:"notificationPreferences"`
	LastShowUpDate                string      `json:"lastShowUpDate,omitempty"`
	LastCompletedFocusSessionDate string      `json:"lastCompletedFocusSessionDate,omitempty"`
}

// Activity returns the activity with the given id.
func (s State) Activity(id string) (Activity, bool) {
	for _, a := range s.Activities {
		if a.ID == id {
			return a, true
		}
	}
	return Activity{}, false
}

// Clone returns a deep enough copy for safe hand-off between goroutines.
func (s State) Clone() State {
	out := s
	out.Activities = append([]Activity(nil), s.Activities...)
	out.Goals = append([]Goal(nil), s.Goals...)
	out.Arcs = append([]Arc(nil), s.Arcs...)
	return out
}
