package domain

import (
	"encoding/json"
	"reflect"
)

// RunDiff represents the changes between two snapshots of a run.
// It is designed to be serialized to JSON for partial updates on the client.
type RunDiff struct {
	// RunID is always present to identify the target.
	RunID string `json:"run_id"`

	CurrentNode *string `json:"current_node,omitempty"`
	Steps       *int    `json:"steps,omitempty"`
	Done        *bool   `json:"done,omitempty"`

	// Visited contains the nodes appended to the path.
	Visited *VisitDelta `json:"visited,omitempty"`

	// State contains only changed, added or cleared fields (by JSON name).
	// Cleared fields are present with a nil value.
	State map[string]any `json:"state,omitempty"`
}

// VisitDelta represents nodes appended to the visited path.
type VisitDelta struct {
	Appended []string `json:"appended"`
}

// Diff calculates the difference between oldRun and newRun.
// If oldRun is nil, it returns a diff representing the entire newRun (initial load).
// It returns nil when nothing changed.
func Diff(oldRun, newRun *Run) *RunDiff {
	if newRun == nil {
		return nil
	}

	diff := &RunDiff{RunID: newRun.ID}

	if oldRun == nil || oldRun.CurrentNode != newRun.CurrentNode {
		diff.CurrentNode = &newRun.CurrentNode
	}
	if oldRun == nil || oldRun.Steps != newRun.Steps {
		diff.Steps = &newRun.Steps
	}
	if (oldRun == nil && newRun.Done) || (oldRun != nil && oldRun.Done != newRun.Done) {
		diff.Done = &newRun.Done
	}

	diff.Visited = diffVisited(oldRun, newRun)
	diff.State = diffState(oldRun, newRun)

	if diff.IsEmpty() {
		return nil
	}
	return diff
}

func diffState(oldRun, newRun *Run) map[string]any {
	newFields := stateFields(newRun.State)
	delta := make(map[string]any)

	if oldRun == nil {
		for k, v := range newFields {
			delta[k] = v
		}
	} else {
		oldFields := stateFields(oldRun.State)
		for k, newVal := range newFields {
			if oldVal, ok := oldFields[k]; !ok || !reflect.DeepEqual(oldVal, newVal) {
				delta[k] = newVal
			}
		}
		for k := range oldFields {
			if _, ok := newFields[k]; !ok {
				delta[k] = nil
			}
		}
	}

	if len(delta) == 0 {
		return nil
	}
	return delta
}

// stateFields flattens a state into its JSON field map, so omitted (zero) fields
// disappear the same way they do on the wire.
func stateFields(s State) map[string]any {
	raw, err := json.Marshal(s)
	if err != nil {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil
	}
	return out
}

// diffVisited assumes append-only behavior for the visited path.
func diffVisited(oldRun, newRun *Run) *VisitDelta {
	if len(newRun.Visited) == 0 {
		return nil
	}
	if oldRun == nil {
		return &VisitDelta{Appended: newRun.Visited}
	}
	if len(newRun.Visited) > len(oldRun.Visited) {
		return &VisitDelta{Appended: newRun.Visited[len(oldRun.Visited):]}
	}
	return nil
}

// IsEmpty checks if the diff contains any actionable changes.
func (d *RunDiff) IsEmpty() bool {
	return d.CurrentNode == nil &&
		d.Steps == nil &&
		d.Done == nil &&
		d.Visited == nil &&
		len(d.State) == 0
}
