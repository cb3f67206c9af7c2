package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestTopologicalSort_Linear(t *testing.T) {
	t.Parallel()
	d := newDAG()
	a := d.addNode("a", 0)
	b := d.addNode("b", 0)
	c := d.addNode("c", 0)
	d.addEdge(a, b)
	d.addEdge(b, c)

	layers, err := d.topologicalSort()
	require.NoError(t, err)
	require.Len(t, layers, 3)
	assert.Equal(t, "c", layers[0].Nodes[0].Name)
	assert.Equal(t, "b", layers[1].Nodes[0].Name)
	assert.Equal(t, "a", layers[2].Nodes[0].Name)
}

func TestTopologicalSort_TieBreak(t *testing.T) {
	t.Parallel()
	d := newDAG()
	d.addNode("zeta", 5)
	d.addNode("alpha", 5)
	d.addNode("beta", 10)

	layers, err := d.topologicalSort()
	require.NoError(t, err)
	require.Len(t, layers, 1)
	names := make([]string, len(layers[0].Nodes))
	for i, n := range layers[0].Nodes {
		names[i] = n.Name
	}
	assert.Equal(t, []string{"beta", "alpha", "zeta"}, names)
}

func TestTopologicalSort_CycleDetected(t *testing.T) {
	t.Parallel()
	d := newDAG()
	a := d.addNode("a", 0)
	b := d.addNode("b", 0)
	c := d.addNode("c", 0)
	d.addEdge(a, b)
	d.addEdge(b, c)
	d.addEdge(c, a)

	_, err := d.topologicalSort()
	require.Error(t, err)

	var cycleErr *CycleError
	require.ErrorAs(t, err, &cycleErr)
	assert.GreaterOrEqual(t, len(cycleErr.Path), 3)
}

func TestFlatten(t *testing.T) {
	t.Parallel()
	layers := []Layer{
		{Nodes: []*Node{{Name: "a"}}},
		{Nodes: []*Node{{Name: "b"}, {Name: "c"}}},
	}
	flat := Flatten(layers)
	require.Len(t, flat, 3)
	assert.Equal(t, "a", flat[0].Name)
}

// TestTopologicalSort_RespectsEdges is a property test: for any randomly
// generated DAG, every node must appear in a layer strictly after all of
// its dependencies' layers.
func TestTopologicalSort_RespectsEdges(t *testing.T) {
	t.Parallel()
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(1, 12).Draw(t, "n")
		d := newDAG()
		nodes := make([]*Node, n)
		for i := 0; i < n; i++ {
			nodes[i] = d.addNode(rapid.StringN(1, 4, 4).Draw(t, "name")+"-"+string(rune('a'+i)), rapid.IntRange(0, 5).Draw(t, "priority"))
		}

		// Only add edges from higher index to lower index, guaranteeing
		// acyclicity regardless of random choices.
		for i := 1; i < n; i++ {
			edgeCount := rapid.IntRange(0, i).Draw(t, "edgeCount")
			for e := 0; e < edgeCount; e++ {
				j := rapid.IntRange(0, i-1).Draw(t, "target")
				d.addEdge(nodes[i], nodes[j])
			}
		}

		layers, err := d.topologicalSort()
		require.NoError(t, err)

		layerOf := make(map[NodeID]int)
		for idx, l := range layers {
			for _, node := range l.Nodes {
				layerOf[node.ID] = idx
			}
		}

		for from, deps := range d.edges {
			for to := range deps {
				if layerOf[from] <= layerOf[to] {
					t.Fatalf("node %s (layer %d) must be strictly after dependency %s (layer %d)", from, layerOf[from], to, layerOf[to])
				}
			}
		}
	})
}
