package component_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/installforge/core/internal/component"
)

func TestParseRef(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in       string
		wantName string
		wantCon  string
	}{
		{"runtime", "runtime", ""},
		{"runtime@>=1.2.0", "runtime", ">=1.2.0"},
		{"runtime@1.2.0", "runtime", "1.2.0"},
	}

	for _, tc := range cases {
		ref := component.ParseRef(tc.in)
		assert.Equal(t, tc.wantName, ref.Name)
		assert.Equal(t, tc.wantCon, ref.Constraint)
		assert.Equal(t, tc.in, ref.String())
	}
}

func TestRef_Satisfies(t *testing.T) {
	t.Parallel()

	assert.True(t, component.Ref{Name: "a"}.Satisfies("1.0.0"), "empty constraint matches anything")
	assert.True(t, component.Ref{Name: "a", Constraint: ">=1.2.0"}.Satisfies("1.5.0"))
	assert.False(t, component.Ref{Name: "a", Constraint: ">=1.2.0"}.Satisfies("1.0.0"))
	assert.False(t, component.Ref{Name: "a", Constraint: ">=1.2.0"}.Satisfies("not-a-version"))
	assert.False(t, component.Ref{Name: "a", Constraint: "not-a-constraint!!"}.Satisfies("1.0.0"))
}

func TestParentName(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "a.b", component.ParentName("a.b.c"))
	assert.Equal(t, "", component.ParentName("root"))
}

func TestOperation_Clone(t *testing.T) {
	t.Parallel()

	original := &component.Operation{
		Kind:        "Copy",
		Arguments:   []string{"src", "dst"},
		NamedValues: map[string]string{"overwrite": "true"},
		Owner:       "app",
	}
	clone := original.Clone()

	clone.Arguments[0] = "mutated"
	clone.NamedValues["overwrite"] = "false"

	assert.Equal(t, "src", original.Arguments[0], "clone must not alias the original's backing array")
	assert.Equal(t, "true", original.NamedValues["overwrite"], "clone must not alias the original's map")
}

func TestComponent_String(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "app", (&component.Component{Name: "app"}).String())
	assert.Equal(t, "app@1.0.0", (&component.Component{Name: "app", Version: "1.0.0"}).String())
}

func TestDependencyNames(t *testing.T) {
	t.Parallel()

	deps := []component.Ref{{Name: "a"}, {Name: "b", Constraint: ">=2.0"}}
	assert.Equal(t, []string{"a", "b"}, component.DependencyNames(deps))
}
