package graph

import (
	"fmt"
	"strings"

	instErrors "github.com/installforge/core/internal/errors"
)

// CycleError reports a dependency cycle found during resolution.
type CycleError struct {
	Path []NodeID
}

// NewCycleError builds a CycleError and the structured installer error that
// wraps it, so callers higher up the stack can just branch on Category.
func NewCycleError(path []NodeID) error {
	names := make([]string, len(path))
	for i, id := range path {
		names[i] = string(id)
	}
	return instErrors.Wrap(
		instErrors.CategoryDependency,
		instErrors.CodeDependencyCycle,
		fmt.Sprintf("dependency cycle detected: %s", strings.Join(names, " -> ")),
		&CycleError{Path: path},
	).WithDetail("cycle", names)
}

func (e *CycleError) Error() string {
	names := make([]string, len(e.Path))
	for i, id := range e.Path {
		names[i] = string(id)
	}
	return "cycle: " + strings.Join(names, " -> ")
}

// UnresolvedDependencyError reports a component requiring a dependency that
// does not exist in the candidate set, or whose version constraint no
// installed/candidate version satisfies.
type UnresolvedDependencyError struct {
	Component  string
	Dependency string
	Constraint string
}

func (e *UnresolvedDependencyError) Error() string {
	if e.Constraint == "" {
		return fmt.Sprintf("component %q requires unknown dependency %q", e.Component, e.Dependency)
	}
	return fmt.Sprintf("component %q requires %q@%s, which no candidate satisfies", e.Component, e.Dependency, e.Constraint)
}

// NewUnresolvedDependencyError builds the structured installer error wrapping
// an UnresolvedDependencyError.
func NewUnresolvedDependencyError(component, dependency, constraint string) error {
	inner := &UnresolvedDependencyError{Component: component, Dependency: dependency, Constraint: constraint}
	return instErrors.Wrap(
		instErrors.CategoryDependency,
		instErrors.CodeUnresolvedDependency,
		inner.Error(),
		inner,
	).WithDetail("component", component).WithDetail("dependency", dependency)
}

// RecursionError reports auto-dependency or replaces expansion that did not
// converge within the bounded number of passes, which should only happen if
// a component graph references itself indirectly through auto-depend rules.
type RecursionError struct {
	Component string
	Passes    int
}

func (e *RecursionError) Error() string {
	return fmt.Sprintf("auto-dependency expansion for %q did not converge after %d passes", e.Component, e.Passes)
}

// NewRecursionError builds the structured installer error wrapping a
// RecursionError.
func NewRecursionError(component string, passes int) error {
	inner := &RecursionError{Component: component, Passes: passes}
	return instErrors.Wrap(
		instErrors.CategoryDependency,
		instErrors.CodeDependencyRecursion,
		inner.Error(),
		inner,
	).WithDetail("component", component).WithDetail("passes", passes)
}
