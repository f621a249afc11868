package platform

import (
	"time"

	"github.com/lalithlochan/nudge/internal/domain"
)

// TriggerKind selects how a notification request fires.
type TriggerKind string

const (
	// TriggerDate fires once at an absolute instant.
	TriggerDate TriggerKind = "date"
	// TriggerCalendar matches hour/minute plus optional weekday, day and
	// month, and repeats when Repeats is set.
	TriggerCalendar TriggerKind = "calendar"
	// TriggerDaily repeats every day at hour/minute.
	TriggerDaily TriggerKind = "daily"
	// TriggerTimeInterval fires once after Seconds. Debug only.
	TriggerTimeInterval TriggerKind = "timeInterval"
)

// Trigger describes when a request fires. Weekday uses the platform's
// 1 = Sunday … 7 = Saturday numbering; zero fields mean "any".
type Trigger struct {
	Kind    TriggerKind `json:"type"`
	Date    time.Time   `json:"date,omitempty"`
	Hour    int         `json:"hour,omitempty"`
	Minute  int         `json:"minute,omitempty"`
	Weekday int         `json:"weekday,omitempty"`
	Day     int         `json:"day,omitempty"`
	Month   time.Month  `json:"month,omitempty"`
	Repeats bool        `json:"repeats,omitempty"`
	Seconds int         `json:"seconds,omitempty"`
}

// DateTrigger fires once at t.
func DateTrigger(t time.Time) Trigger {
	return Trigger{Kind: TriggerDate, Date: t}
}

// DailyTrigger repeats every day.
func DailyTrigger(hour, minute int) Trigger {
	return Trigger{Kind: TriggerDaily, Hour: hour, Minute: minute, Repeats: true}
}

// WeeklyTrigger repeats every week on wd.
func WeeklyTrigger(wd time.Weekday, hour, minute int) Trigger {
	return Trigger{Kind: TriggerCalendar, Weekday: int(wd) + 1, Hour: hour, Minute: minute, Repeats: true}
}

// MonthlyTrigger repeats every month on day. Months without that day are skipped.
func MonthlyTrigger(day, hour, minute int) Trigger {
	return Trigger{Kind: TriggerCalendar, Day: day, Hour: hour, Minute: minute, Repeats: true}
}

// YearlyTrigger repeats every year on month/day.
func YearlyTrigger(month time.Month, day, hour, minute int) Trigger {
	return Trigger{Kind: TriggerCalendar, Month: month, Day: day, Hour: hour, Minute: minute, Repeats: true}
}

// IntervalTrigger fires once after the given number of seconds.
func IntervalTrigger(seconds int) Trigger {
	return Trigger{Kind: TriggerTimeInterval, Seconds: seconds}
}

// OneShot reports whether the request disappears after firing.
func (t Trigger) OneShot() bool {
	switch t.Kind {
	case TriggerDate, TriggerTimeInterval:
		return true
	case TriggerDaily:
		return false
	default:
		return !t.Repeats
	}
}

// calendarHorizon covers a Feb 29 yearly trigger from any starting point.
const calendarHorizon = 4*366 + 1

// NextAfter returns the first fire time strictly after after, evaluated in
// loc. ok is false when the trigger will never fire again.
func (t Trigger) NextAfter(after time.Time, loc *time.Location) (time.Time, bool) {
	after = after.In(loc)
	switch t.Kind {
	case TriggerDate:
		if t.Date.After(after) {
			return t.Date, true
		}
		return time.Time{}, false
	case TriggerTimeInterval:
		return after.Add(time.Duration(t.Seconds) * time.Second), t.Seconds > 0
	case TriggerDaily:
		return domain.TimeOfDay{Hour: t.Hour, Minute: t.Minute}.Next(after), true
	case TriggerCalendar:
		tod := domain.TimeOfDay{Hour: t.Hour, Minute: t.Minute}
		for i := 0; i <= calendarHorizon; i++ {
			day := after.AddDate(0, 0, i)
			if !t.matches(day) {
				continue
			}
			if at := tod.On(day); at.After(after) {
				return at, true
			}
		}
	}
	return time.Time{}, false
}

func (t Trigger) matches(day time.Time) bool {
	if t.Weekday != 0 && int(day.Weekday())+1 != t.Weekday {
		return false
	}
	if t.Day != 0 && day.Day() != t.Day {
		return false
	}
	if t.Month != 0 && day.Month() != t.Month {
		return false
	}
	return true
}
