package domain

// Pseudo-node kinds marking where a graph enters and ends.
const (
	KindStart = "start"
	KindEnd   = "end"
)

// DefaultPort is the port of an unconditional edge.
const DefaultPort = "default"

// NodeSpec is one node instance in a graph definition.
type NodeSpec struct {
	ID    string `json:"id" yaml:"id" mapstructure:"id"`
	Kind  string `json:"kind" yaml:"kind" mapstructure:"kind"`
	Label string `json:"label,omitempty" yaml:"label,omitempty" mapstructure:"label"`

	// Config is decoded by the node kind at compile time.
	Config map[string]any `json:"config,omitempty" yaml:"config,omitempty" mapstructure:"config"`
}

// Edge connects a source node's port to a target node.
// An empty Port is the default (unconditional) port.
type Edge struct {
	Source string `json:"source" yaml:"source" mapstructure:"source"`
	Target string `json:"target" yaml:"target" mapstructure:"target"`
	Port   string `json:"port,omitempty" yaml:"port,omitempty" mapstructure:"port"`
	Label  string `json:"label,omitempty" yaml:"label,omitempty" mapstructure:"label"`
}

// PortOrDefault returns the edge port, or DefaultPort when unset.
func (e Edge) PortOrDefault() string {
	if e.Port == "" {
		return DefaultPort
	}
	return e.Port
}

// GraphDefinition is the declarative, data-driven description of a graph.
type GraphDefinition struct {
	Name        string     `json:"name" yaml:"name" mapstructure:"name"`
	Description string     `json:"description,omitempty" yaml:"description,omitempty" mapstructure:"description"`
	Nodes       []NodeSpec `json:"nodes" yaml:"nodes" mapstructure:"nodes"`
	Edges       []Edge     `json:"edges" yaml:"edges" mapstructure:"edges"`
}

// Node returns the node with the given id.
func (g GraphDefinition) Node(id string) (NodeSpec, bool) {
	for _, n := range g.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return NodeSpec{}, false
}

// Outgoing returns the edges leaving the given node, in declaration order.
func (g GraphDefinition) Outgoing(id string) []Edge {
	var out []Edge
	for _, e := range g.Edges {
		if e.Source == id {
			out = append(out, e)
		}
	}
	return out
}
