package api

import (
	"encoding/json"
	"strings"

	"flowdeck/backend/internal/schedule"
	"flowdeck/backend/pkg/models"
)

// AuditRow is an audit entry with human-readable columns for the logs page.
type AuditRow struct {
	*models.AuditEntry
	ActionLabel string `json:"action_label"`
	Workflow    string `json:"workflow"`
	OldLabel    string `json:"old_label"`
	NewLabel    string `json:"new_label"`
}

var actionLabels = map[models.AuditAction]string{
	models.AuditActionActivate:       "Включение воркфлоу",
	models.AuditActionDeactivate:     "Выключение воркфлоу",
	models.AuditActionUpdateSchedule: "Изменение расписания",
	models.AuditActionExecute:        "Запуск воркфлоу",
}

// ActionLabel describes an action; unknown actions are shown as is.
func ActionLabel(a models.AuditAction) string {
	if l, ok := actionLabels[a]; ok {
		return l
	}
	return string(a)
}

// ValueLabel describes the old or new value of an entry.
func ValueLabel(action models.AuditAction, raw json.RawMessage) string {
	switch action {
	case models.AuditActionActivate, models.AuditActionDeactivate:
		var v struct {
			Active bool `json:"active"`
		}
		_ = json.Unmarshal(raw, &v)
		if v.Active {
			return "Воркфлоу был включён"
		}
		return "Воркфлоу был выключен"
	case models.AuditActionUpdateSchedule:
		var entries []schedule.Entry
		if err := json.Unmarshal(raw, &entries); err != nil || len(entries) == 0 {
			return "-"
		}
		parts := make([]string, len(entries))
		for i, e := range entries {
			parts[i] = schedule.Describe(e)
		}
		return strings.Join(parts, "; ")
	}
	return "-"
}

func auditRows(entries []*models.AuditEntry) []AuditRow {
	rows := make([]AuditRow, len(entries))
	for i, e := range entries {
		workflow := e.WorkflowName
		if workflow == "" {
			workflow = e.WorkflowID
		}
		rows[i] = AuditRow{
			AuditEntry:  e,
			ActionLabel: ActionLabel(e.Action),
			Workflow:    workflow,
			OldLabel:    ValueLabel(e.Action, e.OldValue),
			NewLabel:    ValueLabel(e.Action, e.NewValue),
		}
	}
	return rows
}
