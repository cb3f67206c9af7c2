// Package component defines the runtime-side Component and Operation data
// model, plus the small Ref/Dependency helpers the dependency resolver
// (internal/graph) consumes.
package component

import (
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// CheckState is the tri-state UI selection state of a component.
type CheckState int

const (
	Unchecked CheckState = iota
	PartiallyChecked
	Checked
)

// InstallState is the lifecycle state of a component on the target machine.
type InstallState int

const (
	NotInstalled InstallState = iota
	Installed
	Uninstalled
)

// Ref names another component, optionally pinned to a version constraint
// using "name@constraint" syntax.
type Ref struct {
	Name       string
	Constraint string // semver constraint, e.g. ">=1.2.0"; empty means "any"
}

// ParseRef parses "name" or "name@constraint" into a Ref.
func ParseRef(s string) Ref {
	name, constraint, ok := strings.Cut(s, "@")
	if !ok {
		return Ref{Name: s}
	}
	return Ref{Name: name, Constraint: constraint}
}

func (r Ref) String() string {
	if r.Constraint == "" {
		return r.Name
	}
	return r.Name + "@" + r.Constraint
}

// Satisfies reports whether version satisfies this ref's constraint. An
// empty constraint always matches, and an unparsable version or constraint
// is treated as a non-match so resolution fails loudly instead of silently.
func (r Ref) Satisfies(version string) bool {
	if r.Constraint == "" {
		return true
	}
	c, err := semver.NewConstraint(r.Constraint)
	if err != nil {
		return false
	}
	v, err := semver.NewVersion(version)
	if err != nil {
		return false
	}
	return c.Check(v)
}

// Operation is a named, argument-bearing, reversible action owned by at
// most one component. The concrete backup/perform/undo behavior lives
// behind the OperationRegistry (internal/operation); this struct is the
// serializable value shape that round-trips through the undo log.
type Operation struct {
	Kind         string
	Arguments    []string
	NamedValues  map[string]string
	Owner        string // owning component name, "" if none
	ErrorKind    string
	ErrorMessage string
}

// Clone returns a deep copy so operations can be mutated during backup/perform
// without aliasing the persisted undo-log entry.
func (o *Operation) Clone() *Operation {
	clone := &Operation{
		Kind:         o.Kind,
		Owner:        o.Owner,
		ErrorKind:    o.ErrorKind,
		ErrorMessage: o.ErrorMessage,
	}
	clone.Arguments = append([]string(nil), o.Arguments...)
	if o.NamedValues != nil {
		clone.NamedValues = make(map[string]string, len(o.NamedValues))
		for k, v := range o.NamedValues {
			clone.NamedValues[k] = v
		}
	}
	return clone
}

// Component is a named, versioned, installable unit with dependencies,
// associated operations, and install-state tracking.
type Component struct {
	Name             string
	Version          string
	DisplayName      string
	Description      string
	Dependencies     []Ref
	AutoDepend       []string
	Replaces         []string
	IsVirtual        bool
	IsDefault        bool
	IsForced         bool
	IsEssential      bool
	UncompressedSize int64
	RequiresAdmin    bool
	StopProcesses    []string
	SortPriority     int
	CheckState       CheckState
	InstallState     InstallState
	Operations       []*Operation
}

// ParentName returns the dotted-name parent of a component ("a.b.c" -> "a.b"),
// or "" if this is a root component.
func ParentName(name string) string {
	i := strings.LastIndexByte(name, '.')
	if i < 0 {
		return ""
	}
	return name[:i]
}

// DependencyNames strips version constraints, returning bare component names.
func DependencyNames(deps []Ref) []string {
	names := make([]string, len(deps))
	for i, d := range deps {
		names[i] = d.Name
	}
	return names
}

func (c *Component) String() string {
	if c.Version == "" {
		return c.Name
	}
	return fmt.Sprintf("%s@%s", c.Name, c.Version)
}
