// Package schedule converts between the trigger node parameters of an upstream
// workflow and a flat list of user-editable schedule entries.
package schedule

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Mode is the firing frequency of an entry.
type Mode string

const (
	ModeEveryMinute Mode = "everyMinute"
	ModeEveryHour   Mode = "everyHour"
	ModeEveryDay    Mode = "everyDay"
	ModeEveryWeek   Mode = "everyWeek"
	ModeEveryMonth  Mode = "everyMonth"
)

// Valid reports whether m is one of the known modes.
func (m Mode) Valid() bool {
	switch m {
	case ModeEveryMinute, ModeEveryHour, ModeEveryDay, ModeEveryWeek, ModeEveryMonth:
		return true
	}
	return false
}

// Entry is one normalized firing rule.
//
// Extra holds fields merged in from the opaque "schedule" and "rule" shapes.
// They are flattened next to the typed fields when encoded.
type Entry struct {
	Mode      Mode           `json:"mode" validate:"omitempty,oneof=everyMinute everyHour everyDay everyWeek everyMonth"`
	DayOfWeek string         `json:"dayOfWeek" validate:"omitempty,max=2"`
	Hour      string         `json:"hour" validate:"omitempty,max=4"`
	Minute    string         `json:"minute" validate:"omitempty,max=4"`
	Extra     map[string]any `json:"-"`

	// cronExpr is the source expression of an entry read from cronExpression.
	// Day of month and month are not representable in the typed fields.
	cronExpr string
}

var entryKnownFields = map[string]struct{}{
	"mode": {}, "dayOfWeek": {}, "hour": {}, "minute": {},
}

// MarshalJSON flattens Extra next to the typed fields.
func (e Entry) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(e.Extra)+4)
	for k, v := range e.Extra {
		out[k] = v
	}
	out["mode"] = e.Mode
	out["dayOfWeek"] = e.DayOfWeek
	out["hour"] = e.Hour
	out["minute"] = e.Minute
	return json.Marshal(out)
}

// UnmarshalJSON accepts numbers or strings for the time fields and keeps
// unknown keys in Extra.
func (e *Entry) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("failed to decode schedule entry: %w", err)
	}
	*e = mergeEntry(Entry{}, raw)
	return nil
}

// mergeEntry overlays the keys of obj onto base the way an object spread
// would: known keys replace the typed fields, the rest go to Extra.
func mergeEntry(base Entry, obj map[string]any) Entry {
	for k, v := range obj {
		switch k {
		case "mode":
			base.Mode = Mode(stringify(v))
		case "dayOfWeek":
			base.DayOfWeek = stringify(v)
		case "hour":
			base.Hour = stringify(v)
		case "minute":
			base.Minute = stringify(v)
		default:
			if base.Extra == nil {
				base.Extra = make(map[string]any)
			}
			base.Extra[k] = v
		}
	}
	return base
}

// Normalize returns a copy of e fit for writing back: mode defaults to
// everyWeek, hour and minute are clamped and zero-padded, and an unknown day
// falls back to Monday.
func Normalize(e Entry) Entry {
	if e.Mode == "" {
		e.Mode = ModeEveryWeek
	}
	e.Hour = ClampHour(e.Hour)
	e.Minute = ClampMinute(e.Minute)
	if _, ok := dayLabels[e.DayOfWeek]; !ok {
		e.DayOfWeek = "1"
	}
	return e
}

// ClampHour pads an hour to two digits and clamps it into 00..23.
// Empty or unparsable input becomes "00".
func ClampHour(v string) string {
	return clamp(v, 23)
}

// ClampMinute pads a minute to two digits and clamps it into 00..59.
// Empty or unparsable input becomes "00".
func ClampMinute(v string) string {
	return clamp(v, 59)
}

func clamp(v string, upper int) string {
	n, err := strconv.Atoi(strings.TrimSpace(v))
	switch {
	case err != nil, n < 0:
		n = 0
	case n > upper:
		n = upper
	}
	return fmt.Sprintf("%02d", n)
}

// pad left-pads s with zeros to two characters without range checks.
func pad(s string) string {
	if len(s) >= 2 {
		return s
	}
	return strings.Repeat("0", 2-len(s)) + s
}

var dayLabels = map[string]string{
	"0": "Воскресенье",
	"1": "Понедельник",
	"2": "Вторник",
	"3": "Среда",
	"4": "Четверг",
	"5": "Пятница",
	"6": "Суббота",
}

// DayLabel returns the display name of a "0".."6" weekday, or "" if unknown.
func DayLabel(day string) string {
	return dayLabels[day]
}

// Describe renders an entry as "<day>, HH:MM" for the audit and list views.
func Describe(e Entry) string {
	day := DayLabel(e.DayOfWeek)
	if day == "" {
		day = e.DayOfWeek
	}
	return day + ", " + e.Hour + ":" + e.Minute
}

// stringify renders a decoded JSON scalar the way a JavaScript String() call
// would for the values that appear in trigger parameters.
func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprint(t)
	}
}
