package schedule

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flowdeck/backend/pkg/models"
)

func workflowFromJSON(t *testing.T, doc string) *models.Workflow {
	t.Helper()
	var wf models.Workflow
	require.NoError(t, json.Unmarshal([]byte(doc), &wf))
	return &wf
}

func TestExtract_TriggerTimes(t *testing.T) {
	wf := workflowFromJSON(t, `{
		"id": "wf1",
		"name": "Weekly report",
		"nodes": [
			{"name": "Send", "type": "n8n-nodes-base.telegram", "parameters": {}},
			{"name": "Cron", "type": "n8n-nodes-base.cron", "parameters": {
				"triggerTimes": {"item": [
					{"mode": "everyWeek", "weekday": 3, "hour": 9, "minute": 5},
					{"mode": "everyWeek", "weekday": "5", "hour": "18"}
				]}
			}}
		]
	}`)

	entries := Extract(wf)

	require.Len(t, entries, 2)
	assert.Equal(t, Entry{Mode: ModeEveryWeek, DayOfWeek: "3", Hour: "09", Minute: "05"}, entries[0])
	assert.Equal(t, Entry{Mode: ModeEveryWeek, DayOfWeek: "5", Hour: "18", Minute: "00"}, entries[1])
}

func TestExtract_TriggerTimesModeKeptAsGiven(t *testing.T) {
	wf := workflowFromJSON(t, `{"nodes": [{"name": "t", "type": "n8n-nodes-base.scheduleTrigger", "parameters": {
		"triggerTimes": {"item": [{"mode": "everyDay", "hour": 7, "minute": 30}, {"hour": 8}]}
	}}]}`)

	entries := Extract(wf)

	require.Len(t, entries, 2)
	assert.Equal(t, ModeEveryDay, entries[0].Mode)
	assert.Equal(t, ModeEveryWeek, entries[1].Mode)
}

func TestExtract_WeekdayInferredFromNodeName(t *testing.T) {
	cases := []struct {
		name string
		want string
	}{
		{"Запуск Понедельник утро", "1"},
		{"Отчёт ВТОРНИК", "2"},
		{"среда", "3"},
		{"чт 10:00", "4"},
		{"Пятница вечер", "5"},
		{"Суббота", "6"},
		{"Воскресенье", "0"},
		{"Daily trigger", "1"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			wf := &models.Workflow{Nodes: []models.Node{{
				Name: tc.name,
				Type: TypeCron,
				Parameters: map[string]any{
					"triggerTimes": map[string]any{"item": []any{
						map[string]any{"mode": "everyWeek", "hour": float64(10)},
					}},
				},
			}}}

			entries := Extract(wf)

			require.Len(t, entries, 1)
			assert.Equal(t, tc.want, entries[0].DayOfWeek)
		})
	}
}

func TestExtract_CronClassification(t *testing.T) {
	cases := []struct {
		expr string
		want Mode
	}{
		{"* * * * *", ModeEveryMinute},
		{"30 * * * *", ModeEveryHour},
		{"15 9 * * *", ModeEveryDay},
		{"0 9 * * 1", ModeEveryWeek},
		{"0 9 1 * *", ModeEveryWeek},
	}
	for _, tc := range cases {
		t.Run(tc.expr, func(t *testing.T) {
			wf := &models.Workflow{Nodes: []models.Node{{
				Type:       TypeCron,
				Parameters: map[string]any{"cronExpression": tc.expr},
			}}}

			entries := Extract(wf)

			require.Len(t, entries, 1)
			assert.Equal(t, tc.want, entries[0].Mode)
		})
	}
}

func TestExtract_CronFieldsNotPadded(t *testing.T) {
	wf := workflowFromJSON(t, `{"nodes": [{"name": "c", "type": "n8n-nodes-base.cron",
		"parameters": {"cronExpression": "0 9 * * 1"}}]}`)

	entries := Extract(wf)

	assert.Equal(t, []Entry{{Mode: ModeEveryWeek, Minute: "0", Hour: "9", DayOfWeek: "1", cronExpr: "0 9 * * 1"}}, entries)

	out, err := json.Marshal(entries[0])
	require.NoError(t, err)
	assert.JSONEq(t, `{"mode":"everyWeek","dayOfWeek":"1","hour":"9","minute":"0"}`, string(out))
}

func TestExtract_CronNextRunKeepsDayOfMonth(t *testing.T) {
	from := time.Date(2026, 10, 17, 10, 0, 0, 0, time.UTC)
	cases := []struct {
		expr string
		want time.Time
	}{
		{"0 9 1 * *", time.Date(2026, 11, 1, 9, 0, 0, 0, time.UTC)},
		{"30  6 15 1 *", time.Date(2027, 1, 15, 6, 30, 0, 0, time.UTC)},
		{"0 9 * * 1", time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)},
	}
	for _, tc := range cases {
		t.Run(tc.expr, func(t *testing.T) {
			wf := &models.Workflow{Nodes: []models.Node{{
				Type:       TypeCron,
				Parameters: map[string]any{"cronExpression": tc.expr},
			}}}

			next, ok := NextRunOf(Extract(wf), from)

			require.True(t, ok)
			assert.Equal(t, tc.want, next)
		})
	}
}

func TestExtract_ShortCronStopsSearch(t *testing.T) {
	wf := &models.Workflow{Nodes: []models.Node{{
		Type: TypeCron,
		Parameters: map[string]any{
			"cronExpression": "0 9 *",
			"schedule":       map[string]any{"hour": "10"},
		},
	}}}

	assert.Empty(t, Extract(wf))
}

func TestExtract_PriorityOrder(t *testing.T) {
	wf := &models.Workflow{Nodes: []models.Node{{
		Type: TypeCron,
		Parameters: map[string]any{
			"triggerTimes":   map[string]any{"item": []any{map[string]any{"weekday": "2", "hour": "3", "minute": "4"}}},
			"cronExpression": "* * * * *",
			"rule":           map[string]any{"hour": "10"},
		},
	}}}

	entries := Extract(wf)

	require.Len(t, entries, 1)
	assert.Equal(t, "2", entries[0].DayOfWeek)
	assert.Equal(t, ModeEveryWeek, entries[0].Mode)
}

func TestExtract_EmptyTriggerTimesFallsThrough(t *testing.T) {
	wf := &models.Workflow{Nodes: []models.Node{{
		Type: TypeScheduleTrigger,
		Parameters: map[string]any{
			"triggerTimes":   map[string]any{"item": []any{}},
			"cronExpression": "30 * * * *",
		},
	}}}

	entries := Extract(wf)

	require.Len(t, entries, 1)
	assert.Equal(t, ModeEveryHour, entries[0].Mode)
}

func TestExtract_OpaqueShapes(t *testing.T) {
	t.Run("schedule merged over everyWeek", func(t *testing.T) {
		wf := workflowFromJSON(t, `{"nodes": [{"type": "n8n-nodes-base.cron", "name": "c",
			"parameters": {"schedule": {"dayOfWeek": "4", "hour": "12", "minute": "00", "timezone": "Europe/Moscow"}}}]}`)

		entries := Extract(wf)

		require.Len(t, entries, 1)
		assert.Equal(t, ModeEveryWeek, entries[0].Mode)
		assert.Equal(t, "4", entries[0].DayOfWeek)
		assert.Equal(t, "12", entries[0].Hour)
		assert.Equal(t, "Europe/Moscow", entries[0].Extra["timezone"])
	})

	t.Run("rule used when schedule absent", func(t *testing.T) {
		wf := workflowFromJSON(t, `{"nodes": [{"type": "n8n-nodes-base.scheduleTrigger", "name": "s",
			"parameters": {"rule": {"interval": [{"field": "weeks"}]}}}]}`)

		entries := Extract(wf)

		require.Len(t, entries, 1)
		assert.Equal(t, ModeEveryWeek, entries[0].Mode)
		assert.Contains(t, entries[0].Extra, "interval")

		out, err := json.Marshal(entries[0])
		require.NoError(t, err)
		assert.Contains(t, string(out), `"interval"`)
		assert.Contains(t, string(out), `"mode":"everyWeek"`)
	})
}

func TestExtract_NoTrigger(t *testing.T) {
	assert.Empty(t, Extract(&models.Workflow{}))
	assert.Empty(t, Extract(nil))
	assert.Empty(t, Extract(&models.Workflow{Nodes: []models.Node{
		{Type: "n8n-nodes-base.webhook", Parameters: map[string]any{"cronExpression": "* * * * *"}},
	}}))
	assert.Empty(t, Extract(&models.Workflow{Nodes: []models.Node{{Type: TypeCron}}}))
}

func TestExtract_MalformedItemsSkipped(t *testing.T) {
	wf := &models.Workflow{Nodes: []models.Node{{
		Type: TypeCron,
		Parameters: map[string]any{
			"triggerTimes": map[string]any{"item": []any{"garbage", map[string]any{"weekday": "6", "hour": "7"}}},
		},
	}}}

	entries := Extract(wf)

	require.Len(t, entries, 1)
	assert.Equal(t, "6", entries[0].DayOfWeek)
}
