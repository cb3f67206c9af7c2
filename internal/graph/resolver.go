package graph

import (
	"fmt"
	"slices"

	"github.com/installforge/core/internal/component"
)

// AdditionReason explains why a component was pulled into an install or
// uninstall set, surfaced to the UI/log so a user can see "why is this
// checked".
type AdditionReason string

const (
	ReasonUserSelected      AdditionReason = "user-selected"
	ReasonDependencyOf      AdditionReason = "dependency-of"
	ReasonAutoDependency    AdditionReason = "auto-dependency"
	ReasonUserUnselected    AdditionReason = "user-unselected"
	ReasonDependeeOf        AdditionReason = "dependee-of"
	ReasonNoLongerRequired  AdditionReason = "no-longer-auto-required"
	ReasonReplacedBy        AdditionReason = "replaced-by"
)

// Addition records one component scheduled into an install or uninstall set,
// along with the reason it was pulled in (for diagnostics and logging).
type Addition struct {
	Component *component.Component
	Reason    AdditionReason
	Cause     string // the component name that caused this addition, if any
}

// ComponentGraph resolves a component collection's install/uninstall sets
// and produces a deterministic execution order, following the algorithm
// in §4.6: tree assembly, initial check-state preselection, fixed-point
// install-set expansion (user selection + dependencies + auto-depend),
// replaces pre-emption, topological sort, and symmetric uninstall-set
// expansion.
type ComponentGraph struct {
	byName map[string]*component.Component
}

// New builds a ComponentGraph over the given components, keyed by name.
// Duplicate names overwrite earlier entries (last one wins), matching how
// repository merge (add/remove/replace) is expected to have already
// deduplicated the collection before it reaches here.
func New(components []*component.Component) *ComponentGraph {
	byName := make(map[string]*component.Component, len(components))
	for _, c := range components {
		byName[c.Name] = c
	}
	return &ComponentGraph{byName: byName}
}

// AssignInitialCheckState preselects check states: a non-tri-state component
// that is a default installer item, or one already installed, starts
// Checked; everything else starts Unchecked.
func (g *ComponentGraph) AssignInitialCheckState() {
	for _, c := range g.byName {
		switch {
		case c.InstallState == component.Installed:
			c.CheckState = component.Checked
		case c.IsDefault && !c.IsVirtual:
			c.CheckState = component.Checked
		default:
			c.CheckState = component.Unchecked
		}
	}
}

// ParentName returns the dotted-name parent of name within this graph, or ""
// if name is a root or unknown.
func (g *ComponentGraph) ParentName(name string) string {
	return component.ParentName(name)
}

// Children returns the direct dotted-name children of name.
func (g *ComponentGraph) Children(name string) []*component.Component {
	var out []*component.Component
	for _, c := range g.byName {
		if component.ParentName(c.Name) == name {
			out = append(out, c)
		}
	}
	slices.SortFunc(out, func(a, b *component.Component) int {
		if a.Name < b.Name {
			return -1
		}
		if a.Name > b.Name {
			return 1
		}
		return 0
	})
	return out
}

// ResolveInstallSet computes the fixed-point install set starting from
// components whose CheckState is currently Checked or PartiallyChecked
// (or forced, which is always scheduled regardless of check state).
// It returns the set sorted by component name; callers needing an
// execution order should feed the result through TopologicalOrder.
func (g *ComponentGraph) ResolveInstallSet() ([]Addition, error) {
	scheduled := make(map[string]Addition)

	enqueue := func(name string, reason AdditionReason, cause string) {
		if _, ok := scheduled[name]; ok {
			return
		}
		c, ok := g.byName[name]
		if !ok {
			return
		}
		scheduled[name] = Addition{Component: c, Reason: reason, Cause: cause}
	}

	for _, c := range g.byName {
		if c.IsForced {
			enqueue(c.Name, ReasonUserSelected, "")
			continue
		}
		if c.CheckState == component.Checked || c.CheckState == component.PartiallyChecked {
			enqueue(c.Name, ReasonUserSelected, "")
		}
	}

	const maxPasses = 1000 // generous bound; real graphs converge in a handful of passes.
	pass := 0
	for {
		pass++
		if pass > maxPasses {
			return nil, NewRecursionError("<install-set>", pass)
		}

		changed := false

		// (a) dependency closure. Cycles are not detected here; a cyclic
		// set resolves normally and TopologicalOrder reports the cycle.
		for name := range scheduled {
			if err := g.requireDependencies(name, scheduled, &changed); err != nil {
				return nil, err
			}
		}

		// (b) auto-depend closure: schedule any component whose auto_depend
		// list is fully satisfied by the current set.
		for _, c := range g.byName {
			if _, already := scheduled[c.Name]; already {
				continue
			}
			if len(c.AutoDepend) == 0 {
				continue
			}
			if allScheduled(c.AutoDepend, scheduled) {
				scheduled[c.Name] = Addition{Component: c, Reason: ReasonAutoDependency}
				changed = true
			}
		}

		if !changed {
			break
		}
	}

	out := make([]Addition, 0, len(scheduled))
	for _, a := range scheduled {
		out = append(out, a)
	}
	slices.SortFunc(out, func(a, b Addition) int {
		if a.Component.Name < b.Component.Name {
			return -1
		}
		if a.Component.Name > b.Component.Name {
			return 1
		}
		return 0
	})
	return out, nil
}

func (g *ComponentGraph) requireDependencies(name string, scheduled map[string]Addition, changed *bool) error {
	c, ok := g.byName[name]
	if !ok {
		return nil
	}
	for _, dep := range c.Dependencies {
		target, ok := g.byName[dep.Name]
		if !ok {
			return NewUnresolvedDependencyError(c.Name, dep.Name, dep.Constraint)
		}
		if dep.Constraint != "" && !dep.Satisfies(target.Version) {
			return NewUnresolvedDependencyError(c.Name, dep.Name, dep.Constraint)
		}
		if _, already := scheduled[dep.Name]; !already {
			scheduled[dep.Name] = Addition{Component: target, Reason: ReasonDependencyOf, Cause: c.Name}
			*changed = true
		}
	}
	return nil
}

func allScheduled(names []string, scheduled map[string]Addition) bool {
	for _, n := range names {
		if _, ok := scheduled[n]; !ok {
			return false
		}
	}
	return true
}

// ResolveReplacements returns, for an install set, the components that
// should be uninstalled first because something in the install set
// replaces them (step 4: replacement targets inherit the new component's
// identity for the undo log).
func (g *ComponentGraph) ResolveReplacements(installSet []Addition) []Addition {
	var out []Addition
	seen := make(map[string]bool)
	for _, a := range installSet {
		for _, replaced := range a.Component.Replaces {
			if seen[replaced] {
				continue
			}
			target, ok := g.byName[replaced]
			if !ok {
				continue
			}
			if target.InstallState != component.Installed {
				continue
			}
			seen[replaced] = true
			out = append(out, Addition{Component: target, Reason: ReasonReplacedBy, Cause: a.Component.Name})
		}
	}
	slices.SortFunc(out, func(a, b Addition) int {
		if a.Component.Name < b.Component.Name {
			return -1
		}
		if a.Component.Name > b.Component.Name {
			return 1
		}
		return 0
	})
	return out
}

// TopologicalOrder builds the dependent->dependency graph over the given
// additions and returns execution layers in deterministic order. A cycle
// returns a DependencyCycle error carrying the full cycle path.
func (g *ComponentGraph) TopologicalOrder(additions []Addition) ([]Layer, error) {
	d := newDAG()
	nodes := make(map[string]*Node, len(additions))

	for _, a := range additions {
		nodes[a.Component.Name] = d.addNode(a.Component.Name, a.Component.SortPriority)
	}

	for _, a := range additions {
		from := nodes[a.Component.Name]
		for _, dep := range a.Component.Dependencies {
			to, ok := nodes[dep.Name]
			if !ok {
				// Dependency outside the given addition set: not our concern here,
				// ResolveInstallSet already guarantees closure for install sets.
				continue
			}
			d.addEdge(from, to)
		}
	}

	return d.topologicalSort()
}

// ResolveUninstallSet computes the symmetric uninstall set: starting from
// currently-installed components whose CheckState has been cleared by the
// user, pull in transitive dependees (components that depend on something
// being removed), plus auto-dependent components whose auto_depend list is
// no longer satisfied by what remains installed, unless a replaces
// relationship already accounts for the removal.
func (g *ComponentGraph) ResolveUninstallSet(alreadyReplaced map[string]bool) ([]Addition, error) {
	scheduled := make(map[string]Addition)

	for _, c := range g.byName {
		if c.InstallState != component.Installed {
			continue
		}
		if c.IsForced || c.IsEssential {
			continue
		}
		if c.CheckState == component.Unchecked {
			scheduled[c.Name] = Addition{Component: c, Reason: ReasonUserUnselected}
		}
	}

	const maxPasses = 1000
	pass := 0
	for {
		pass++
		if pass > maxPasses {
			return nil, NewRecursionError("<uninstall-set>", pass)
		}
		changed := false

		// Transitive dependees: anything installed that depends on a
		// scheduled-for-removal component must also be removed.
		for _, c := range g.byName {
			if c.InstallState != component.Installed {
				continue
			}
			if _, already := scheduled[c.Name]; already {
				continue
			}
			for _, dep := range c.Dependencies {
				if target, ok := scheduled[dep.Name]; ok {
					scheduled[c.Name] = Addition{Component: c, Reason: ReasonDependeeOf, Cause: target.Component.Name}
					changed = true
					break
				}
			}
		}

		// Auto-dependent components whose requirement set no longer holds
		// among remaining installed components.
		for _, c := range g.byName {
			if c.InstallState != component.Installed {
				continue
			}
			if _, already := scheduled[c.Name]; already {
				continue
			}
			if len(c.AutoDepend) == 0 {
				continue
			}
			if alreadyReplaced[c.Name] {
				continue
			}
			if !g.autoDependSatisfiedExcluding(c.AutoDepend, scheduled) {
				scheduled[c.Name] = Addition{Component: c, Reason: ReasonNoLongerRequired}
				changed = true
			}
		}

		if !changed {
			break
		}
	}

	out := make([]Addition, 0, len(scheduled))
	for _, a := range scheduled {
		out = append(out, a)
	}
	slices.SortFunc(out, func(a, b Addition) int {
		if a.Component.Name < b.Component.Name {
			return -1
		}
		if a.Component.Name > b.Component.Name {
			return 1
		}
		return 0
	})
	return out, nil
}

func (g *ComponentGraph) autoDependSatisfiedExcluding(names []string, removed map[string]Addition) bool {
	for _, n := range names {
		target, ok := g.byName[n]
		if !ok {
			return false
		}
		if _, isRemoved := removed[n]; isRemoved {
			return false
		}
		if target.InstallState != component.Installed {
			return false
		}
	}
	return true
}

// Lookup returns the component with the given name, if present.
func (g *ComponentGraph) Lookup(name string) (*component.Component, bool) {
	c, ok := g.byName[name]
	return c, ok
}

// String renders a compact human-readable summary, useful for --verbose
// dumps of what would be installed/removed and why.
func (a Addition) String() string {
	if a.Cause == "" {
		return fmt.Sprintf("%s (%s)", a.Component.Name, a.Reason)
	}
	return fmt.Sprintf("%s (%s: %s)", a.Component.Name, a.Reason, a.Cause)
}
