package models

import (
	"encoding/json"
	"time"
)

// AuditAction names a user action recorded in the audit trail.
type AuditAction string

const (
	AuditActionActivate       AuditAction = "activate"
	AuditActionDeactivate     AuditAction = "deactivate"
	AuditActionUpdateSchedule AuditAction = "update_schedule"
	AuditActionExecute        AuditAction = "execute"
)

// AuditEntry is one row of the audit trail.
type AuditEntry struct {
	ID           string          `json:"id,omitempty"`
	Action       AuditAction     `json:"action"`
	WorkflowID   string          `json:"workflow_id"`
	WorkflowName string          `json:"workflow_name,omitempty"`
	OldValue     json.RawMessage `json:"old_value,omitempty"`
	NewValue     json.RawMessage `json:"new_value,omitempty"`
	UserName     string          `json:"user_name"`
	UserEmail    string          `json:"user_email"`
	Timestamp    time.Time       `json:"timestamp,omitempty"`
}
