package runtime

import (
	"sort"

	"github.com/aretw0/pergola/pkg/nodes"
)

// StateFields are the state fields node kinds can declare they touch.
var StateFields = []string{
	"input", "messages", "iteration", "max_iterations",
	"difficulty", "review_result", "review_count", "review_feedback",
	"answer", "final_answer", "last_output", "current_step",
	"todos", "current_todo_index", "completion_signal", "completion_detail",
	"context_budget", "is_complete", "error", "memory_refs", "metadata",
}

// FieldUsage lists, per state field, the nodes that read and write it.
type FieldUsage struct {
	Readers map[string][]string `json:"readers"`
	Writers map[string][]string `json:"writers"`
	// Unused are state fields no node in the graph touches.
	Unused []string `json:"unused"`
}

// AnalyzeFields reports which nodes read and write which state fields, from
// the kind declarations plus configuration-dependent fields.
func (g *Graph) AnalyzeFields() FieldUsage {
	u := FieldUsage{Readers: make(map[string][]string), Writers: make(map[string][]string)}

	for _, spec := range g.def.Nodes {
		n := g.nodes[spec.ID]
		reads := append([]string(nil), n.kind.Reads...)
		if r, ok := n.exec.(nodes.FieldReader); ok {
			reads = append(reads, r.Reads()...)
		}
		writes := append([]string(nil), n.kind.Writes...)
		if w, ok := n.exec.(nodes.FieldWriter); ok {
			writes = append(writes, w.Writes()...)
		}
		for _, f := range dedupe(reads) {
			u.Readers[f] = append(u.Readers[f], spec.ID)
		}
		for _, f := range dedupe(writes) {
			u.Writers[f] = append(u.Writers[f], spec.ID)
		}
	}

	for _, f := range StateFields {
		if len(u.Readers[f]) == 0 && len(u.Writers[f]) == 0 {
			u.Unused = append(u.Unused, f)
		}
	}
	return u
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := in[:0]
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}
