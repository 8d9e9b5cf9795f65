package runtime

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/zeebo/blake3"

	"github.com/aretw0/pergola/pkg/domain"
	"github.com/aretw0/pergola/pkg/nodes"
)

// Issue is one problem found while compiling a graph definition.
type Issue struct {
	Rule    string `json:"rule"`
	NodeID  string `json:"node_id,omitempty"`
	Message string `json:"message"`
}

func (i Issue) String() string {
	if i.NodeID == "" {
		return i.Rule + ": " + i.Message
	}
	return fmt.Sprintf("%s: node %s: %s", i.Rule, i.NodeID, i.Message)
}

// CompileError reports every issue found in a graph definition.
type CompileError struct {
	Graph  string
	Issues []Issue
}

func (e *CompileError) Error() string {
	parts := make([]string, len(e.Issues))
	for i, issue := range e.Issues {
		parts[i] = issue.String()
	}
	return fmt.Sprintf("graph %q is invalid (%d issues):\n- %s", e.Graph, len(e.Issues), strings.Join(parts, "\n- "))
}

// node is a compiled node: its executor plus where it can go next.
type node struct {
	spec     domain.NodeSpec
	kind     nodes.Kind
	exec     nodes.Executor
	router   nodes.Router
	next     string
	branches map[string]string
}

// Graph is an immutable, validated graph ready to execute.
type Graph struct {
	def         domain.GraphDefinition
	entry       string
	terminal    string
	nodes       map[string]*node
	fingerprint string
}

// Name returns the definition name.
func (g *Graph) Name() string { return g.def.Name }

// Entry returns the id of the start node.
func (g *Graph) Entry() string { return g.entry }

// Terminal returns the id of the end node errors are routed to.
func (g *Graph) Terminal() string { return g.terminal }

// Fingerprint is the BLAKE3 hash of the canonical definition.
func (g *Graph) Fingerprint() string { return g.fingerprint }

// Definition returns the source definition.
func (g *Graph) Definition() domain.GraphDefinition { return g.def }

// IsTerminal reports whether id names an end node.
func (g *Graph) IsTerminal(id string) bool {
	n, ok := g.nodes[id]
	return ok && n.kind.Name == domain.KindEnd
}

// Kind returns the kind of a node.
func (g *Graph) Kind(id string) (nodes.Kind, bool) {
	n, ok := g.nodes[id]
	if !ok {
		return nodes.Kind{}, false
	}
	return n.kind, true
}

// Branches returns the branch table of a conditional node, nil otherwise.
func (g *Graph) Branches(id string) map[string]string {
	n, ok := g.nodes[id]
	if !ok || n.branches == nil {
		return nil
	}
	out := make(map[string]string, len(n.branches))
	for k, v := range n.branches {
		out[k] = v
	}
	return out
}

// Compile validates def against the kinds in reg and builds its executors.
// All problems are reported together in a *CompileError.
func Compile(def domain.GraphDefinition, reg *nodes.Registry) (*Graph, error) {
	c := &compiler{def: def, reg: reg, g: &Graph{def: def, nodes: make(map[string]*node)}}
	c.nodes()
	c.edges()
	c.reachability()

	if len(c.issues) > 0 {
		return nil, &CompileError{Graph: def.Name, Issues: c.issues}
	}

	fp, err := Fingerprint(def)
	if err != nil {
		return nil, err
	}
	c.g.fingerprint = fp
	return c.g, nil
}

// Fingerprint hashes the canonical JSON encoding of a definition.
func Fingerprint(def domain.GraphDefinition) (string, error) {
	raw, err := json.Marshal(def)
	if err != nil {
		return "", fmt.Errorf("fingerprint graph %s: %w", def.Name, err)
	}
	sum := blake3.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}

type compiler struct {
	def    domain.GraphDefinition
	reg    *nodes.Registry
	g      *Graph
	issues []Issue
}

func (c *compiler) add(rule, nodeID, format string, args ...any) {
	c.issues = append(c.issues, Issue{Rule: rule, NodeID: nodeID, Message: fmt.Sprintf(format, args...)})
}

func (c *compiler) nodes() {
	var starts, ends []string
	seen := make(map[string]bool, len(c.def.Nodes))
	for _, spec := range c.def.Nodes {
		if spec.ID == "" {
			c.add("node_id", "", "node of kind %q has no id", spec.Kind)
			continue
		}
		if seen[spec.ID] {
			c.add("node_id", spec.ID, "duplicate node id")
			continue
		}
		seen[spec.ID] = true

		kind, err := c.reg.Lookup(spec.Kind)
		if err != nil {
			c.add("node_kind", spec.ID, "%v", err)
			continue
		}
		exec, err := kind.New(spec.Config)
		if err != nil {
			c.add("node_config", spec.ID, "%v", err)
			continue
		}

		n := &node{spec: spec, kind: kind, exec: exec}
		if kind.Conditional() {
			r, ok := exec.(nodes.Router)
			if !ok {
				c.add("node_kind", spec.ID, "conditional kind %s does not route", kind.Name)
				continue
			}
			n.router = r
		}
		c.g.nodes[spec.ID] = n

		switch kind.Name {
		case domain.KindStart:
			starts = append(starts, spec.ID)
		case domain.KindEnd:
			ends = append(ends, spec.ID)
		}
	}

	if len(starts) != 1 {
		c.add("start_node", "", "graph must have exactly one start node (found %d: %v)", len(starts), starts)
	} else {
		c.g.entry = starts[0]
	}
	if len(ends) == 0 {
		c.add("end_node", "", "graph must have at least one end node")
	} else {
		c.g.terminal = ends[0]
	}
}

func (c *compiler) edges() {
	outgoing := make(map[string][]domain.Edge)
	for _, e := range c.def.Edges {
		if _, ok := c.g.nodes[e.Source]; !ok {
			if _, declared := c.def.Node(e.Source); !declared {
				c.add("edge_source", e.Source, "edge to %s starts at an unknown node", e.Target)
			}
			continue
		}
		if _, ok := c.g.nodes[e.Target]; !ok {
			if _, declared := c.def.Node(e.Target); !declared {
				c.add("edge_target", e.Source, "edge points at unknown node %q", e.Target)
			}
			continue
		}
		if e.Target == c.g.entry {
			c.add("start_incoming", e.Source, "edge points back at the start node")
		}
		outgoing[e.Source] = append(outgoing[e.Source], e)
	}

	for _, spec := range c.def.Nodes {
		n, ok := c.g.nodes[spec.ID]
		if !ok {
			continue
		}
		out := outgoing[spec.ID]

		switch {
		case n.kind.Name == domain.KindEnd:
			if len(out) > 0 {
				c.add("end_outgoing", spec.ID, "end node has %d outgoing edges", len(out))
			}
		case n.router != nil:
			c.branchTable(n, out)
		default:
			if len(out) != 1 {
				c.add("successor", spec.ID, "non-conditional node needs exactly one outgoing edge (found %d)", len(out))
				continue
			}
			if p := out[0].PortOrDefault(); p != domain.DefaultPort {
				c.add("successor", spec.ID, "non-conditional node cannot use port %q", p)
				continue
			}
			n.next = out[0].Target
		}
	}
}

// branchTable maps every declared branch of a conditional node to its target.
func (c *compiler) branchTable(n *node, out []domain.Edge) {
	declared := n.kind.Branches
	if lister, ok := n.exec.(nodes.BranchLister); ok {
		declared = lister.Branches()
	}

	n.branches = make(map[string]string, len(out))
	for _, e := range out {
		port := e.PortOrDefault()
		if !contains(declared, port) {
			c.add("branch_unknown", n.spec.ID, "port %q is not a branch of %s (branches: %v)", port, n.kind.Name, declared)
			continue
		}
		if prev, dup := n.branches[port]; dup {
			c.add("branch_duplicate", n.spec.ID, "port %q leads to both %s and %s", port, prev, e.Target)
			continue
		}
		n.branches[port] = e.Target
	}

	var missing []string
	for _, b := range declared {
		if _, ok := n.branches[b]; !ok {
			missing = append(missing, b)
		}
	}
	if len(missing) > 0 {
		c.add("branch_missing", n.spec.ID, "no edge for branches %v", missing)
	}
}

func (n *node) successors() []string {
	if n.branches == nil {
		if n.next == "" {
			return nil
		}
		return []string{n.next}
	}
	out := make([]string, 0, len(n.branches))
	for _, target := range n.branches {
		out = append(out, target)
	}
	sort.Strings(out)
	return out
}

// reachability requires every node to be reachable from the entry and an end
// node to be reachable from every node.
func (c *compiler) reachability() {
	if c.g.entry == "" || len(c.issues) > 0 {
		return
	}

	forward := map[string]bool{c.g.entry: true}
	queue := []string{c.g.entry}
	reverse := make(map[string][]string)
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, next := range c.g.nodes[id].successors() {
			if !forward[next] {
				forward[next] = true
				queue = append(queue, next)
			}
		}
	}

	for id, n := range c.g.nodes {
		for _, next := range n.successors() {
			reverse[next] = append(reverse[next], id)
		}
	}
	backward := make(map[string]bool)
	for id, n := range c.g.nodes {
		if n.kind.Name == domain.KindEnd {
			backward[id] = true
			queue = append(queue, id)
		}
	}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, prev := range reverse[id] {
			if !backward[prev] {
				backward[prev] = true
				queue = append(queue, prev)
			}
		}
	}

	for _, spec := range c.def.Nodes {
		if !forward[spec.ID] {
			c.add("unreachable", spec.ID, "node cannot be reached from %s", c.g.entry)
		}
		if !backward[spec.ID] {
			c.add("dead_end", spec.ID, "no end node can be reached from this node")
		}
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
