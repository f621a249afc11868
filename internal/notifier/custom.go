package notifier

import (
	"sort"
	"time"

	"github.com/lalithlochan/nudge/internal/domain"
)

// maxExpandSteps stops runaway expansion of a malformed repeat.
const maxExpandSteps = 10000

// ExpandCustom lists up to limit occurrences of a custom repeat whose series
// starts at start, keeping only those strictly after anchor. Day-of-month is
// clamped to the length of each month. ok is false for an unknown cadence.
func ExpandCustom(start time.Time, rule domain.CustomRepeat, anchor time.Time, limit int) (out []time.Time, ok bool) {
	interval := rule.Interval
	if interval < 1 {
		interval = 1
	}

	var step func(k int) []time.Time
	switch rule.Cadence {
	case domain.CadenceDays:
		step = func(k int) []time.Time {
			return []time.Time{start.AddDate(0, 0, k*interval)}
		}
	case domain.CadenceWeeks:
		weekdays := normalizeWeekdays(rule.Weekdays)
		if len(weekdays) == 0 {
			step = func(k int) []time.Time {
				return []time.Time{start.AddDate(0, 0, 7*k*interval)}
			}
			break
		}
		sunday := start.AddDate(0, 0, -int(start.Weekday()))
		step = func(k int) []time.Time {
			week := make([]time.Time, 0, len(weekdays))
			for _, wd := range weekdays {
				week = append(week, sunday.AddDate(0, 0, 7*k*interval+wd))
			}
			return week
		}
	case domain.CadenceMonths:
		step = func(k int) []time.Time {
			return []time.Time{clampedDate(start, 0, k*interval)}
		}
	case domain.CadenceYears:
		step = func(k int) []time.Time {
			return []time.Time{clampedDate(start, k*interval, 0)}
		}
	default:
		return nil, false
	}

	for k := firstStep(start, anchor, rule.Cadence, interval); k < maxExpandSteps && len(out) < limit; k++ {
		for _, t := range step(k) {
			if t.Before(start) || !t.After(anchor) {
				continue
			}
			out = append(out, t)
			if len(out) == limit {
				break
			}
		}
	}
	return out, true
}

// clampedDate moves start by years and months, keeping its day of month
// where the target month is long enough and using the last day otherwise.
func clampedDate(start time.Time, years, months int) time.Time {
	first := time.Date(start.Year()+years, start.Month()+time.Month(months), 1,
		start.Hour(), start.Minute(), start.Second(), 0, start.Location())
	day := start.Day()
	if last := domain.DaysIn(first.Year(), first.Month()); day > last {
		day = last
	}
	return time.Date(first.Year(), first.Month(), day,
		start.Hour(), start.Minute(), start.Second(), 0, start.Location())
}

// firstStep skips the part of the series that is certainly before anchor.
func firstStep(start, anchor time.Time, cadence domain.Cadence, interval int) int {
	if !anchor.After(start) {
		return 0
	}
	var units int
	switch cadence {
	case domain.CadenceDays:
		units = int(anchor.Sub(start).Hours() / 24)
	case domain.CadenceWeeks:
		units = int(anchor.Sub(start).Hours() / (24 * 7))
	case domain.CadenceMonths:
		units = (anchor.Year()-start.Year())*12 + int(anchor.Month()) - int(start.Month())
	case domain.CadenceYears:
		units = anchor.Year() - start.Year()
	}
	if k := units/interval - 1; k > 0 {
		return k
	}
	return 0
}

func normalizeWeekdays(in []int) []int {
	seen := make(map[int]bool, len(in))
	out := make([]int, 0, len(in))
	for _, wd := range in {
		if wd < 0 || wd > 6 || seen[wd] {
			continue
		}
		seen[wd] = true
		out = append(out, wd)
	}
	sort.Ints(out)
	return out
}
