package graph

import (
	"fmt"
	"strings"

	"github.com/aretw0/pergola/pkg/domain"
)

// GraphOverlay contains run data to visualize on the graph.
type GraphOverlay struct {
	VisitedNodes []string
	CurrentNode  string
}

// OverlayFromRun builds the overlay of a stored run.
func OverlayFromRun(run *domain.Run) *GraphOverlay {
	if run == nil {
		return nil
	}
	o := &GraphOverlay{VisitedNodes: run.Visited}
	if !run.Done {
		o.CurrentNode = run.CurrentNode
	}
	return o
}

// GenerateMermaid produces a Mermaid flowchart from a graph definition.
// It applies semantic styling:
// - start and end: ((Circle))
// - nodes with ported edges: {Decision}
// - Default: [Rectangle]
// Edges leaving through a named port carry the edge label, or the port name.
func GenerateMermaid(def domain.GraphDefinition, overlay *GraphOverlay) string {
	var sb strings.Builder
	sb.WriteString("graph TD\n")

	branching := make(map[string]bool)
	for _, e := range def.Edges {
		if e.Port != "" && e.Port != domain.DefaultPort {
			branching[e.Source] = true
		}
	}

	for _, n := range def.Nodes {
		safeID := sanitizeMermaidID(n.ID)

		opener, closer := "[", "]"
		switch {
		case n.Kind == domain.KindStart || n.Kind == domain.KindEnd:
			opener, closer = "((", "))"
		case branching[n.ID]:
			opener, closer = "{", "}"
		}

		label := n.ID
		if n.Label != "" {
			label = n.Label
		}
		label = escape(label)
		if n.Kind != domain.KindStart && n.Kind != domain.KindEnd {
			label = fmt.Sprintf("%s<br/><i>%s</i>", label, n.Kind)
		}
		fmt.Fprintf(&sb, "    %s%s\"%s\"%s\n", safeID, opener, label, closer)
	}

	for _, e := range def.Edges {
		from, to := sanitizeMermaidID(e.Source), sanitizeMermaidID(e.Target)
		text := e.Label
		if text == "" && e.Port != "" && e.Port != domain.DefaultPort {
			text = e.Port
		}
		if text == "" {
			fmt.Fprintf(&sb, "    %s --> %s\n", from, to)
			continue
		}
		fmt.Fprintf(&sb, "    %s -- \"%s\" --> %s\n", from, escape(text), to)
	}

	if overlay != nil {
		sb.WriteString("\n    %% Overlay Styles\n")
		// Force black text (color:#000) for high-contrast on light backgrounds, regardless of theme (Light/Dark)
		sb.WriteString("    classDef visited fill:#e1f5fe,stroke:#01579b,stroke-width:2px,color:#000;\n")
		sb.WriteString("    classDef current fill:#ffeb3b,stroke:#fbc02d,stroke-width:4px,color:#000;\n")

		visitedSet := make(map[string]bool)
		for _, id := range overlay.VisitedNodes {
			if _, ok := def.Node(id); !ok {
				continue
			}
			safeID := sanitizeMermaidID(id)
			if !visitedSet[safeID] {
				visitedSet[safeID] = true
				fmt.Fprintf(&sb, "    class %s visited;\n", safeID)
			}
		}

		if overlay.CurrentNode != "" {
			fmt.Fprintf(&sb, "    class %s current;\n", sanitizeMermaidID(overlay.CurrentNode))
		}
	}

	return sb.String()
}

func escape(s string) string {
	return strings.ReplaceAll(s, "\"", "'")
}

// sanitizeMermaidID maps node ids onto Mermaid identifiers. "end" is a
// Mermaid keyword.
func sanitizeMermaidID(id string) string {
	if strings.EqualFold(id, "end") {
		return id + "_"
	}
	s := strings.ReplaceAll(id, ".", "_")
	s = strings.ReplaceAll(s, "-", "_")
	s = strings.ReplaceAll(s, "/", "_")
	s = strings.ReplaceAll(s, "\\", "_")
	return s
}
