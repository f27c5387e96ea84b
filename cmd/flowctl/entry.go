package main

import (
	"fmt"
	"strings"

	"flowdeck/backend/internal/schedule"
)

var weekdays = map[string]string{
	"sun": "0", "mon": "1", "tue": "2", "wed": "3", "thu": "4", "fri": "5", "sat": "6",
}

// parseEntry reads DAY@HH:MM. DAY is a digit 0-6, a weekday name or "*" for
// a daily entry. Out-of-range values are left to schedule normalization.
func parseEntry(spec string) (schedule.Entry, error) {
	day, clock, ok := strings.Cut(strings.TrimSpace(spec), "@")
	if !ok || day == "" || clock == "" {
		return schedule.Entry{}, fmt.Errorf("invalid entry %q: want DAY@HH:MM", spec)
	}
	hour, minute, ok := strings.Cut(clock, ":")
	if !ok || hour == "" || minute == "" {
		return schedule.Entry{}, fmt.Errorf("invalid entry %q: want DAY@HH:MM", spec)
	}

	e := schedule.Entry{Mode: schedule.ModeEveryWeek, Hour: hour, Minute: minute}
	switch d := strings.ToLower(day); {
	case d == "*":
		e.Mode = schedule.ModeEveryDay
	case len(d) >= 3 && weekdays[d[:3]] != "":
		e.DayOfWeek = weekdays[d[:3]]
	default:
		e.DayOfWeek = d
	}
	return e, nil
}

func parseEntries(specs []string) ([]schedule.Entry, error) {
	entries := make([]schedule.Entry, 0, len(specs))
	for _, spec := range specs {
		e, err := parseEntry(spec)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, nil
}
