package model

// Graph is the resolved dependency tree/DAG for one run: an arena of nodes
// addressed by NodeID, plus the root's id. Stored on SharedContext so every
// stage sees the same resolved shape; built once by pkg/resolver and read
// thereafter by pkg/graph, pkg/stages, and pkg/report.
type Graph struct {
	Nodes  []DependencyNode
	RootID NodeID
}

// Node returns the node at id. Callers must not retain the returned pointer
// past a subsequent AddNode call, which may reallocate the backing slice.
func (g *Graph) Node(id NodeID) *DependencyNode {
	return &g.Nodes[id]
}

// AddNode appends n to the arena and returns its id.
func (g *Graph) AddNode(n DependencyNode) NodeID {
	id := NodeID(len(g.Nodes))
	g.Nodes = append(g.Nodes, n)
	return id
}

// Len returns the number of nodes in the arena.
func (g *Graph) Len() int { return len(g.Nodes) }

// Walk invokes fn once per node in arena order (not tree order). Returning
// false from fn stops the walk early.
func (g *Graph) Walk(fn func(id NodeID, n *DependencyNode) bool) {
	for i := range g.Nodes {
		if !fn(NodeID(i), &g.Nodes[i]) {
			return
		}
	}
}

// Find returns the id of the node matching ref's normalized (name, version),
// or false if absent.
func (g *Graph) Find(ref PackageRef) (NodeID, bool) {
	norm := ref.Normalize()
	for i := range g.Nodes {
		if g.Nodes[i].Ref.Normalize() == norm {
			return NodeID(i), true
		}
	}
	return 0, false
}
