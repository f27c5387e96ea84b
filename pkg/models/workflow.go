package models

import (
	"encoding/json"
	"time"
)

// Workflow is the workflow document owned by the upstream automation service.
// Connections and settings are kept as raw JSON so they survive a read/write
// cycle byte for byte.
type Workflow struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	Active       bool            `json:"active"`
	Nodes        []Node          `json:"nodes"`
	Connections  json.RawMessage `json:"connections,omitempty"`
	Settings     json.RawMessage `json:"settings,omitempty"`
	Tags         []Tag           `json:"tags,omitempty"`
	TriggerCount int             `json:"triggerCount,omitempty"`
	VersionID    string          `json:"versionId,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
	UpdatedAt    time.Time       `json:"updatedAt"`
}

// HasTag reports whether the workflow carries a tag with exactly this name.
func (w *Workflow) HasTag(name string) bool {
	for _, t := range w.Tags {
		if t.Name == name {
			return true
		}
	}
	return false
}

// UpdatePayload is the minimal body accepted by PUT /workflows/{id}. Other
// top-level fields (id, versionId, tags...) are rejected or ignored upstream.
type UpdatePayload struct {
	Name        string          `json:"name"`
	Nodes       []Node          `json:"nodes"`
	Connections json.RawMessage `json:"connections"`
	Settings    json.RawMessage `json:"settings"`
}

// Execution is the record returned by POST /workflows/{id}/execute.
type Execution struct {
	ID         string     `json:"id"`
	Status     string     `json:"status"`
	StartedAt  time.Time  `json:"startedAt"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
	WorkflowID string     `json:"workflowId"`
	Data       any        `json:"data,omitempty"`
}

// Tag is a workflow tag. Upstream returns either a bare string or an object
// with id and name depending on the API version.
type Tag struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name"`
}

// UnmarshalJSON accepts both the string and the object form.
func (t *Tag) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err == nil {
		*t = Tag{Name: name}
		return nil
	}
	type plain Tag
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*t = Tag(p)
	return nil
}
