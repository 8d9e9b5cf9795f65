package domain

import "time"

// Run is the persisted record of one execution of a graph.
type Run struct {
	ID string `json:"id"`

	// Graph names the definition the run was started with.
	Graph string `json:"graph"`
	// GraphFingerprint pins the compiled graph; resuming against a changed graph fails.
	GraphFingerprint string `json:"graph_fingerprint"`

	// CurrentNode is the next node to execute. Equals the terminal once Done.
	CurrentNode string `json:"current_node"`
	Steps       int    `json:"steps"`
	Done        bool   `json:"done"`

	// Visited is the path taken, used by graph overlays.
	Visited []string `json:"visited,omitempty"`

	State State `json:"state"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Clone returns a deep copy of the run.
func (r *Run) Clone() *Run {
	out := *r
	out.Visited = append([]string(nil), r.Visited...)
	out.State = r.State.Clone()
	return &out
}

// StepResult is what one externally driven step reports back.
type StepResult struct {
	RunID string `json:"run_id"`
	// Node is the node that was executed.
	Node  string `json:"node"`
	Done  bool   `json:"done"`
	State State  `json:"state"`
}
