package runtime

import (
	"fmt"

	"github.com/aretw0/pergola/pkg/domain"
)

// route picks the node after n given the merged state. A set error sends the
// run to the terminal whatever the edges say. An unknown branch is a fault
// that does the same.
func (g *Graph) route(n *node, s domain.State) (target, branch string, fault error) {
	if s.Error != "" {
		return g.terminal, "", nil
	}
	if n.router == nil {
		return n.next, "", nil
	}

	branch = n.router.Route(s)
	target, ok := n.branches[branch]
	if !ok {
		return g.terminal, branch, fmt.Errorf("node %s selected unknown branch %q", n.spec.ID, branch)
	}
	return target, branch, nil
}
