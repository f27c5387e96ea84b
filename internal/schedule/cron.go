package schedule

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// CronSpec renders e as a five-field cron expression. Entries read from a
// cron expression keep it verbatim. Monthly entries fire on the first day of
// the month.
func (e Entry) CronSpec() string {
	if e.cronExpr != "" {
		return e.cronExpr
	}
	minute, hour, day := trimZero(e.Minute), trimZero(e.Hour), e.DayOfWeek
	switch e.Mode {
	case ModeEveryMinute:
		return "* * * * *"
	case ModeEveryHour:
		return fmt.Sprintf("%s * * * *", minute)
	case ModeEveryDay:
		return fmt.Sprintf("%s %s * * *", minute, hour)
	case ModeEveryMonth:
		return fmt.Sprintf("%s %s 1 * *", minute, hour)
	default:
		if day == "" {
			day = "*"
		}
		return fmt.Sprintf("%s %s * * %s", minute, hour, day)
	}
}

// NextRun returns the first firing time of e strictly after from.
func NextRun(e Entry, from time.Time) (time.Time, error) {
	sched, err := cronParser.Parse(e.CronSpec())
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse schedule %q: %w", e.CronSpec(), err)
	}
	return sched.Next(from), nil
}

// NextRunOf returns the earliest NextRun over entries. Entries that cannot be
// parsed are skipped; ok is false when none can.
func NextRunOf(entries []Entry, from time.Time) (next time.Time, ok bool) {
	for _, e := range entries {
		t, err := NextRun(e, from)
		if err != nil {
			continue
		}
		if !ok || t.Before(next) {
			next, ok = t, true
		}
	}
	return next, ok
}

func trimZero(s string) string {
	if s == "" {
		return "0"
	}
	if len(s) == 2 && s[0] == '0' {
		return s[1:]
	}
	return s
}
