package schedule

import (
	"strings"

	"flowdeck/backend/pkg/models"
)

// Trigger node types that fire on a timer. The first is the legacy cron node,
// the second its replacement.
const (
	TypeCron            = "n8n-nodes-base.cron"
	TypeScheduleTrigger = "n8n-nodes-base.scheduleTrigger"
)

// IsTriggerType reports whether a node type is a time-based trigger.
func IsTriggerType(nodeType string) bool {
	return nodeType == TypeCron || nodeType == TypeScheduleTrigger
}

// FindTrigger returns the index of the first trigger node, or -1.
func FindTrigger(nodes []models.Node) int {
	for i, n := range nodes {
		if IsTriggerType(n.Type) {
			return i
		}
	}
	return -1
}

// decoder reads one parameter shape. matched reports whether the shape was
// present at all; a present but unusable shape still stops the search.
type decoder func(node models.Node) (entries []Entry, matched bool)

// decoders in priority order; the first match wins.
var decoders = []decoder{
	decodeTriggerTimes,
	decodeCronExpression,
	decodeOpaque("schedule"),
	decodeOpaque("rule"),
}

// Extract returns the schedule entries of a workflow's trigger node in source
// order. It never fails: a workflow without a trigger node, or with a shape
// that cannot be read, yields an empty list.
func Extract(wf *models.Workflow) []Entry {
	if wf == nil || len(wf.Nodes) == 0 {
		return []Entry{}
	}
	idx := FindTrigger(wf.Nodes)
	if idx < 0 {
		return []Entry{}
	}
	node := wf.Nodes[idx]
	if node.Parameters == nil {
		return []Entry{}
	}
	for _, decode := range decoders {
		if entries, matched := decode(node); matched {
			if entries == nil {
				entries = []Entry{}
			}
			return entries
		}
	}
	return []Entry{}
}

func decodeTriggerTimes(node models.Node) ([]Entry, bool) {
	tt, ok := node.Parameters["triggerTimes"].(map[string]any)
	if !ok {
		return nil, false
	}
	items, ok := tt["item"].([]any)
	if !ok || len(items) == 0 {
		return nil, false
	}

	entries := make([]Entry, 0, len(items))
	for _, raw := range items {
		item, ok := raw.(map[string]any)
		if !ok {
			continue
		}

		mode := Mode(stringify(item["mode"]))
		if mode == "" {
			mode = ModeEveryWeek
		}

		day := stringify(item["weekday"])
		if _, present := item["weekday"]; !present || item["weekday"] == nil {
			day = inferWeekday(node.Name)
		}

		minute := "00"
		if m := stringify(item["minute"]); m != "" {
			minute = pad(m)
		}

		entries = append(entries, Entry{
			Mode:      mode,
			DayOfWeek: day,
			Hour:      pad(stringify(item["hour"])),
			Minute:    minute,
		})
	}
	return entries, true
}

func decodeCronExpression(node models.Node) ([]Entry, bool) {
	expr, ok := node.Parameters["cronExpression"].(string)
	if !ok || expr == "" {
		return nil, false
	}
	fields := strings.Fields(expr)
	if len(fields) < 5 {
		return nil, true
	}
	// minute hour day month weekday, passed through without padding
	return []Entry{{
		Mode:      classifyCron(fields),
		Minute:    fields[0],
		Hour:      fields[1],
		DayOfWeek: fields[4],
		cronExpr:  strings.Join(fields[:5], " "),
	}}, true
}

func classifyCron(f []string) Mode {
	wild := func(i int) bool { return f[i] == "*" }
	switch {
	case wild(0) && wild(1) && wild(2) && wild(3) && wild(4):
		return ModeEveryMinute
	case wild(1) && wild(2) && wild(3) && wild(4):
		return ModeEveryHour
	case wild(2) && wild(3) && wild(4):
		return ModeEveryDay
	default:
		return ModeEveryWeek
	}
}

func decodeOpaque(key string) decoder {
	return func(node models.Node) ([]Entry, bool) {
		v, ok := node.Parameters[key]
		if !ok || v == nil {
			return nil, false
		}
		e := Entry{Mode: ModeEveryWeek}
		if obj, ok := v.(map[string]any); ok {
			e = mergeEntry(e, obj)
		}
		return []Entry{e}, true
	}
}

// weekdayTokens is checked in order against the lowercased node name. Full
// names come before their abbreviations within each day.
var weekdayTokens = []struct {
	day    string
	tokens []string
}{
	{"1", []string{"понедельник", "пн"}},
	{"2", []string{"вторник", "вт"}},
	{"3", []string{"среда", "ср"}},
	{"4", []string{"четверг", "чт"}},
	{"5", []string{"пятница", "пт"}},
	{"6", []string{"суббота", "сб"}},
	{"0", []string{"воскресенье", "вс"}},
}

// inferWeekday guesses the weekday from a trigger node name such as
// "Запуск в понедельник". Monday is the fallback.
func inferWeekday(name string) string {
	lower := strings.ToLower(name)
	for _, d := range weekdayTokens {
		for _, tok := range d.tokens {
			if strings.Contains(lower, tok) {
				return d.day
			}
		}
	}
	return "1"
}
