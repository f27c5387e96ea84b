package schedule

import (
	"errors"

	"flowdeck/backend/pkg/models"
)

// ErrMissingTriggerNode is returned by Rebuild when the workflow has no
// time-based trigger node to write the schedule into.
var ErrMissingTriggerNode = errors.New("workflow has no schedule trigger node")

type rebuildOptions struct {
	preserveModes bool
}

// RebuildOption tunes Rebuild.
type RebuildOption func(*rebuildOptions)

// PreserveModes keeps each entry's own mode in the written trigger items
// instead of stamping everyWeek on all of them.
func PreserveModes() RebuildOption {
	return func(o *rebuildOptions) { o.preserveModes = true }
}

// Rebuild writes entries into the trigger node of wf as a canonical
// triggerTimes.item list and returns the minimal update payload. Only
// parameters.triggerTimes of the trigger node changes; wf itself is not
// modified.
func Rebuild(wf *models.Workflow, entries []Entry, opts ...RebuildOption) (*models.UpdatePayload, error) {
	var o rebuildOptions
	for _, opt := range opts {
		opt(&o)
	}

	if wf == nil {
		return nil, ErrMissingTriggerNode
	}
	idx := FindTrigger(wf.Nodes)
	if idx < 0 {
		return nil, ErrMissingTriggerNode
	}

	items := make([]any, 0, len(entries))
	for _, e := range entries {
		mode := ModeEveryWeek
		if o.preserveModes && e.Mode != "" {
			mode = e.Mode
		}
		items = append(items, map[string]any{
			"mode":    string(mode),
			"hour":    e.Hour,
			"minute":  e.Minute,
			"weekday": e.DayOfWeek,
		})
	}

	nodes := make([]models.Node, len(wf.Nodes))
	copy(nodes, wf.Nodes)
	trigger := nodes[idx].Clone()
	if trigger.Parameters == nil {
		trigger.Parameters = make(map[string]any)
	}
	trigger.Parameters["triggerTimes"] = map[string]any{"item": items}
	nodes[idx] = trigger

	return &models.UpdatePayload{
		Name:        wf.Name,
		Nodes:       nodes,
		Connections: wf.Connections,
		Settings:    wf.Settings,
	}, nil
}
