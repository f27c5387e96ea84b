package models

import (
	"encoding/json"
	"fmt"
)

// Node is a single step of a workflow. Only the fields the dashboard reads are
// typed; everything else the upstream sends (position, credentials, webhookId,
// notes...) is kept in Extra and written back untouched.
type Node struct {
	ID         string                     `json:"id,omitempty"`
	Name       string                     `json:"name"`
	Type       string                     `json:"type"`
	Parameters map[string]any             `json:"parameters"`
	Extra      map[string]json.RawMessage `json:"-"`
}

var nodeKnownFields = map[string]struct{}{
	"id": {}, "name": {}, "type": {}, "parameters": {},
}

// UnmarshalJSON decodes the typed fields and collects the rest into Extra.
func (n *Node) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("failed to decode node: %w", err)
	}

	type plain Node
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("failed to decode node: %w", err)
	}
	*n = Node(p)

	for k, v := range raw {
		if _, ok := nodeKnownFields[k]; ok {
			continue
		}
		if n.Extra == nil {
			n.Extra = make(map[string]json.RawMessage)
		}
		n.Extra[k] = v
	}
	return nil
}

// MarshalJSON writes the typed fields merged with Extra.
func (n Node) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(n.Extra)+4)
	for k, v := range n.Extra {
		out[k] = v
	}
	if n.ID != "" {
		out["id"] = n.ID
	}
	out["name"] = n.Name
	out["type"] = n.Type
	params := n.Parameters
	if params == nil {
		params = map[string]any{}
	}
	out["parameters"] = params
	return json.Marshal(out)
}

// Clone returns a copy whose Parameters and Extra maps can be modified
// without touching the original. Nested parameter values are shared.
func (n Node) Clone() Node {
	c := n
	if n.Parameters != nil {
		c.Parameters = make(map[string]any, len(n.Parameters))
		for k, v := range n.Parameters {
			c.Parameters[k] = v
		}
	}
	if n.Extra != nil {
		c.Extra = make(map[string]json.RawMessage, len(n.Extra))
		for k, v := range n.Extra {
			c.Extra[k] = v
		}
	}
	return c
}
