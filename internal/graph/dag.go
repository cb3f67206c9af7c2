// Package graph implements the component dependency resolver: Kahn's
// algorithm for a layered topological sort, three-color DFS for cycle
// detection, and a (priority desc, name asc) tie-break for deterministic
// layer ordering, sitting underneath forced/auto/virtual/replaces
// component resolution.
package graph

import (
	"maps"
	"slices"
)

// NodeID uniquely identifies a component in the dependency graph.
type NodeID string

// Node represents a component in the dependency graph.
type Node struct {
	ID           NodeID
	Name         string
	SortPriority int
}

// Layer is a group of nodes with no dependency edges between them: all
// layer-i dependencies are fully satisfied by layers 0..i-1.
type Layer struct {
	Nodes []*Node
}

// dag is the low-level directed-acyclic-graph primitive: add nodes, add
// edges (dependent -> dependency), detect cycles, and produce layers.
type dag struct {
	nodes    map[NodeID]*Node
	edges    map[NodeID]map[NodeID]struct{}
	inDegree map[NodeID]int
}

func newDAG() *dag {
	return &dag{
		nodes:    make(map[NodeID]*Node),
		edges:    make(map[NodeID]map[NodeID]struct{}),
		inDegree: make(map[NodeID]int),
	}
}

func (g *dag) addNode(name string, sortPriority int) *Node {
	id := NodeID(name)
	if node, exists := g.nodes[id]; exists {
		return node
	}
	node := &Node{ID: id, Name: name, SortPriority: sortPriority}
	g.nodes[id] = node
	g.inDegree[id] = 0
	return node
}

func (g *dag) addEdge(from, to *Node) {
	if from == nil || to == nil {
		panic("graph: addEdge called with nil node")
	}
	if _, exists := g.nodes[from.ID]; !exists {
		panic("graph: node " + string(from.ID) + " does not exist")
	}
	if _, exists := g.nodes[to.ID]; !exists {
		panic("graph: node " + string(to.ID) + " does not exist")
	}
	if g.edges[from.ID] == nil {
		g.edges[from.ID] = make(map[NodeID]struct{})
	}
	if _, exists := g.edges[from.ID][to.ID]; !exists {
		g.edges[from.ID][to.ID] = struct{}{}
		g.inDegree[from.ID]++
	}
}

type nodeColor int

const (
	white nodeColor = iota
	gray
	black
)

// detectCycle returns a cycle path if one exists, nil otherwise. Uses DFS
// with three-color marking for cycle detection.
func (g *dag) detectCycle() []NodeID {
	color := make(map[NodeID]nodeColor, len(g.nodes))
	parent := make(map[NodeID]NodeID, len(g.nodes))

	var cycle []NodeID

	var dfs func(node NodeID) bool
	dfs = func(node NodeID) bool {
		color[node] = gray

		for dep := range g.edges[node] {
			if color[dep] == gray {
				cycle = []NodeID{dep}
				for curr := node; curr != dep; curr = parent[curr] {
					cycle = append(cycle, curr)
				}
				cycle = append(cycle, dep)
				slices.Reverse(cycle)
				return true
			}
			if color[dep] == white {
				parent[dep] = node
				if dfs(dep) {
					return true
				}
			}
		}

		color[node] = black
		return false
	}

	// Iterate in a stable order so repeated runs on the same graph surface
	// the same member of the cycle first.
	ids := make([]NodeID, 0, len(g.nodes))
	for id := range g.nodes {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	for _, id := range ids {
		if color[id] == white {
			if dfs(id) {
				return cycle
			}
		}
	}

	return nil
}

// sortNodesByPriority sorts nodes by (SortPriority desc, Name asc) so
// layer ordering is reproducible across runs.
func sortNodesByPriority(nodes []*Node) {
	slices.SortFunc(nodes, func(a, b *Node) int {
		if a.SortPriority != b.SortPriority {
			return b.SortPriority - a.SortPriority
		}
		if a.Name < b.Name {
			return -1
		}
		if a.Name > b.Name {
			return 1
		}
		return 0
	})
}

// topologicalSort returns execution layers using Kahn's algorithm. Nodes
// within the same layer have no dependency edges between them.
func (g *dag) topologicalSort() ([]Layer, error) {
	if cycle := g.detectCycle(); cycle != nil {
		return nil, NewCycleError(cycle)
	}

	inDegree := make(map[NodeID]int, len(g.inDegree))
	maps.Copy(inDegree, g.inDegree)

	reverseEdges := make(map[NodeID][]NodeID, len(g.nodes))
	for from, deps := range g.edges {
		for dep := range deps {
			reverseEdges[dep] = append(reverseEdges[dep], from)
		}
	}

	layers := make([]Layer, 0, len(g.nodes))

	queue := make([]NodeID, 0, len(g.nodes))
	for id, degree := range inDegree {
		if degree == 0 {
			queue = append(queue, id)
		}
	}

	for len(queue) > 0 {
		layer := Layer{Nodes: make([]*Node, 0, len(queue))}
		nextQueue := make([]NodeID, 0, len(g.nodes))

		for _, id := range queue {
			layer.Nodes = append(layer.Nodes, g.nodes[id])

			for _, dependent := range reverseEdges[id] {
				inDegree[dependent]--
				if inDegree[dependent] == 0 {
					nextQueue = append(nextQueue, dependent)
				}
			}
		}

		sortNodesByPriority(layer.Nodes)

		layers = append(layers, layer)
		queue = nextQueue
	}

	return layers, nil
}

func (g *dag) nodeCount() int { return len(g.nodes) }

func (g *dag) edgeCount() int {
	count := 0
	for _, deps := range g.edges {
		count += len(deps)
	}
	return count
}

// Flatten concatenates all layers into a single topologically-ordered list,
// used by InstallRuntime which needs one linear execution order, not layer
// groupings.
func Flatten(layers []Layer) []*Node {
	var out []*Node
	for _, l := range layers {
		out = append(out, l.Nodes...)
	}
	return out
}
