package graph_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/installforge/core/internal/component"
	"github.com/installforge/core/internal/graph"
)

func comp(name string, opts ...func(*component.Component)) *component.Component {
	c := &component.Component{Name: name}
	for _, o := range opts {
		o(c)
	}
	return c
}

func withDeps(names ...string) func(*component.Component) {
	return func(c *component.Component) {
		for _, n := range names {
			c.Dependencies = append(c.Dependencies, component.Ref{Name: n})
		}
	}
}

func withAutoDepend(names ...string) func(*component.Component) {
	return func(c *component.Component) { c.AutoDepend = names }
}

func checked(c *component.Component) { c.CheckState = component.Checked }

func installed(c *component.Component) { c.InstallState = component.Installed }

func TestResolveInstallSet_PullsInDependencies(t *testing.T) {
	t.Parallel()
	components := []*component.Component{
		comp("app", checked, withDeps("runtime")),
		comp("runtime"),
		comp("unrelated"),
	}
	g := graph.New(components)

	additions, err := g.ResolveInstallSet()
	require.NoError(t, err)

	names := namesOf(additions)
	assert.ElementsMatch(t, []string{"app", "runtime"}, names)
}

func TestResolveInstallSet_AutoDependency(t *testing.T) {
	t.Parallel()
	components := []*component.Component{
		comp("app", checked),
		comp("app.plugin", withAutoDepend("app")),
	}
	g := graph.New(components)

	additions, err := g.ResolveInstallSet()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"app", "app.plugin"}, namesOf(additions))
}

func TestResolveInstallSet_UnresolvedDependency(t *testing.T) {
	t.Parallel()
	components := []*component.Component{
		comp("app", checked, withDeps("missing")),
	}
	g := graph.New(components)

	_, err := g.ResolveInstallSet()
	require.Error(t, err)

	var unresolved *graph.UnresolvedDependencyError
	require.ErrorAs(t, err, &unresolved)
	assert.Equal(t, "missing", unresolved.Dependency)
}

func TestResolveInstallSet_ForcedAlwaysScheduled(t *testing.T) {
	t.Parallel()
	components := []*component.Component{
		comp("core", func(c *component.Component) { c.IsForced = true }),
	}
	g := graph.New(components)

	additions, err := g.ResolveInstallSet()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"core"}, namesOf(additions))
}

func TestTopologicalOrder_DependencyCycle(t *testing.T) {
	t.Parallel()
	components := []*component.Component{
		comp("a", checked, withDeps("b")),
		comp("b", checked, withDeps("a")),
	}
	g := graph.New(components)

	additions, err := g.ResolveInstallSet()
	require.NoError(t, err)

	_, err = g.TopologicalOrder(additions)
	require.Error(t, err)
}

func TestResolveReplacements(t *testing.T) {
	t.Parallel()
	components := []*component.Component{
		comp("new-tool", checked, func(c *component.Component) { c.Replaces = []string{"old-tool"} }),
		comp("old-tool", installed),
	}
	g := graph.New(components)

	additions, err := g.ResolveInstallSet()
	require.NoError(t, err)

	replacements := g.ResolveReplacements(additions)
	require.Len(t, replacements, 1)
	assert.Equal(t, "old-tool", replacements[0].Component.Name)
	assert.Equal(t, graph.ReasonReplacedBy, replacements[0].Reason)
}

func TestResolveUninstallSet_PullsInDependees(t *testing.T) {
	t.Parallel()
	components := []*component.Component{
		comp("runtime", installed),
		comp("app", installed, withDeps("runtime")),
	}
	g := graph.New(components)
	// user unchecks runtime; app must come along since it depends on it.
	for _, c := range components {
		if c.Name == "runtime" {
			c.CheckState = component.Unchecked
		} else {
			c.CheckState = component.Checked
		}
	}

	additions, err := g.ResolveUninstallSet(nil)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"runtime", "app"}, namesOf(additions))
}

func TestResolveUninstallSet_AutoDependNoLongerSatisfied(t *testing.T) {
	t.Parallel()
	components := []*component.Component{
		comp("app", installed),
		comp("app.plugin", installed, withAutoDepend("app")),
	}
	g := graph.New(components)
	components[0].CheckState = component.Unchecked
	components[1].CheckState = component.Checked

	additions, err := g.ResolveUninstallSet(nil)
	require.NoError(t, err)
	names := namesOf(additions)
	assert.Contains(t, names, "app")
	assert.Contains(t, names, "app.plugin")
}

func TestAssignInitialCheckState(t *testing.T) {
	t.Parallel()
	components := []*component.Component{
		comp("default-tool", func(c *component.Component) { c.IsDefault = true }),
		comp("already-installed", installed),
		comp("optional"),
	}
	g := graph.New(components)
	g.AssignInitialCheckState()

	assert.Equal(t, component.Checked, components[0].CheckState)
	assert.Equal(t, component.Checked, components[1].CheckState)
	assert.Equal(t, component.Unchecked, components[2].CheckState)
}

func namesOf(additions []graph.Addition) []string {
	names := make([]string, len(additions))
	for i, a := range additions {
		names[i] = a.Component.Name
	}
	return names
}
