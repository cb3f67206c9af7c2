// Package scripthost defines the opaque ScriptHost interface InstallRuntime
// calls into for a component's optional install script (spec.md §9's design
// note). No concrete scripting backend (QJSEngine-equivalent, a Lua VM,
// a WASM sandbox) ships in this repo; the actual scripting language is an
// external collaborator, same as the GUI wizard pages and platform shell
// integration per spec.md §1.
package scripthost

import "context"

// Event is one notification emitted by the runtime into a loaded script
// (component install/uninstall lifecycle events, per spec.md §9).
type Event struct {
	Name    string
	Payload map[string]string
}

// ScriptHost loads and drives a single component's install script.
type ScriptHost interface {
	// Load parses and initializes the script at path, without running
	// any component method yet.
	Load(ctx context.Context, path string) error
	// Invoke calls a named component method (e.g. "Component.createOperations",
	// "Component.beginInstallation") with string-keyed arguments, returning
	// the script's string-keyed result.
	Invoke(ctx context.Context, componentMethod string, args map[string]string) (map[string]string, error)
	// EmitEvent notifies the script of a lifecycle event it may have
	// registered a handler for.
	EmitEvent(ctx context.Context, event Event) error
}

// Null is a no-op ScriptHost, used when a component has no script or when
// running in an environment with no scripting backend wired in.
type Null struct{}

func (Null) Load(context.Context, string) error { return nil }

func (Null) Invoke(context.Context, string, map[string]string) (map[string]string, error) {
	return nil, nil
}

func (Null) EmitEvent(context.Context, Event) error { return nil }
