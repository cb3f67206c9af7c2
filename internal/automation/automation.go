// Package automation parses the declarative script a --script PATH (or a
// positional "Script=PATH" argument, spec.md §6.3) points at: which
// components to pre-select and which engine key/value pairs to seed,
// without requiring an interactive wizard session. This is the one piece
// of "automation script" spec.md §1 keeps in scope (selection/engine-value
// seeding) while the embedded general-purpose scripting layer itself
// stays behind the opaque internal/scripthost.ScriptHost boundary.
//
// Grounded on the teacher's internal/registry/aqua/fetcher.go, which reads
// its package descriptors with github.com/goccy/go-yaml rather than
// gopkg.in/yaml.v3; the document is additionally checked against a CUE
// schema the way internal/config/loader.go validates manifests, using
// cuelang.org/go/cue/cuecontext's Context.CompileString +
// Context.Encode/Unify round trip rather than the module-aware
// cue/load pipeline the teacher's full config loader needs (there is no
// CUE module tree to resolve here, just one self-contained document).
package automation

import (
	"fmt"
	"os"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/goccy/go-yaml"
)

// Script is a parsed automation script.
type Script struct {
	// SelectComponents lists component names to force into the install
	// set's initial check state, overriding isDefault.
	SelectComponents []string `json:"selectComponents" yaml:"selectComponents"`
	// DeselectComponents lists component names to force unchecked.
	DeselectComponents []string `json:"deselectComponents" yaml:"deselectComponents"`
	// EngineValues seeds operation.Context.Engine, the same key/value
	// store CLI KEY=VALUE arguments populate.
	EngineValues map[string]string `json:"engineValues" yaml:"engineValues"`
}

// schema is the CUE shape a script document must satisfy: known field
// names, string-keyed/valued maps, string-sliced selections.
const schema = `
close({
	selectComponents?: [...string]
	deselectComponents?: [...string]
	engineValues?: [string]: string
})
`

// Load parses and validates the script at path.
func Load(path string) (*Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read automation script %s: %w", path, err)
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse automation script %s: %w", path, err)
	}

	ctx := cuecontext.New()
	schemaVal := ctx.CompileString(schema)
	if err := schemaVal.Err(); err != nil {
		return nil, fmt.Errorf("compile automation script schema: %w", err)
	}
	dataVal := ctx.Encode(raw)
	unified := schemaVal.Unify(dataVal)
	if err := unified.Validate(cue.Concrete(false)); err != nil {
		return nil, fmt.Errorf("automation script %s does not match schema: %w", path, err)
	}

	var s Script
	if err := unified.Decode(&s); err != nil {
		return nil, fmt.Errorf("decode automation script %s: %w", path, err)
	}
	return &s, nil
}
