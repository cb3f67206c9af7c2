// Package runtime implements InstallRuntime (C8, spec.md §4.8): the
// transactional heart that walks an ordered component list, running each
// operation's backup/perform cycle, persisting a session undo log, and
// rolling the whole session back in reverse on failure. It is built
// directly on internal/operation (the registry + per-kind contract),
// internal/state (packages.xml + the in-memory SessionLog), and
// internal/elevate (admin-rights reference counting), following the
// phases spec.md §4.8 lays out rather than any single teacher file —
// tomei has no fine-grained per-file operation log, only whole-resource
// install/remove (internal/installer/executor.Executor.Execute); the
// per-operation backup/perform/undo/rollback loop below is new code
// built from the contract table, while its shape (load state, execute in
// order, save state, surface errors through Category/Code) mirrors
// tomei's internal/installer/engine.Engine.Apply.
package runtime

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/installforge/core/internal/archivestore"
	"github.com/installforge/core/internal/component"
	insterrors "github.com/installforge/core/internal/errors"
	"github.com/installforge/core/internal/elevate"
	"github.com/installforge/core/internal/operation"
	"github.com/installforge/core/internal/progress"
	"github.com/installforge/core/internal/scripthost"
	"github.com/installforge/core/internal/state"
)

// Decision is the user's answer to a Retry/Ignore/Cancel prompt raised
// when an operation's Backup/Perform/Undo fails (spec.md §4.8 phase
// 3(d), and the "Rollback" paragraph).
type Decision int

const (
	DecisionRetry Decision = iota
	DecisionIgnore
	DecisionCancel
)

// PromptFunc asks the UI layer what to do about a failed operation.
// rollback is true when the prompt is raised while undoing, in which case
// a returned DecisionCancel is coerced to DecisionIgnore by the caller
// (spec.md §4.8: "Rollback itself cannot cancel").
type PromptFunc func(ctx context.Context, componentName string, op operation.Instance, cause error, rollback bool) Decision

// AlwaysIgnore is a PromptFunc for headless runs: every failure is
// ignored and the session presses on, never retries, never cancels on
// its own. A real UI front end supplies its own PromptFunc wired to an
// actual Retry/Ignore/Cancel dialog.
func AlwaysIgnore(context.Context, string, operation.Instance, error, bool) Decision {
	return DecisionIgnore
}

// ArchiveResolver supplies the ArchiveStore and Codec an Extract operation
// needs while one component's operations are running. Each component's
// archives live in their own binary-payload segment (spec.md §4.1/§4.2),
// so InstallRuntime asks for them fresh per component rather than holding
// one store for the whole session.
type ArchiveResolver interface {
	Archives(componentName string) (*archivestore.Store, archivestore.Codec)
}

// Config collects InstallRuntime's collaborators (spec.md §4.8).
type Config struct {
	Registry     *operation.Registry
	Store        *state.Store
	Elevate      *elevate.Handle
	Scripts      scripthost.ScriptHost
	Archives     ArchiveResolver
	Processes    operation.ProcessLister
	FileTypes    operation.FileTypeRegistrar
	Repositories operation.RepositoryBuilder
	Coordinator  *progress.Coordinator
	Prompt       PromptFunc

	// Engine seeds operation.Context.Engine, the free-form key/value
	// store ConsumeOutput writes to and CLI KEY=VALUE arguments seed.
	Engine map[string]string
}

// Report summarizes one Install or Uninstall session's outcome.
type Report struct {
	RestartRequired bool
	Installed       []string
	Uninstalled     []string
}

// Runtime executes an ordered component list's operations with
// backup/perform/undo semantics, aggregates progress through a
// progress.Coordinator, and rolls the current session back in reverse
// order on failure (spec.md §4.8).
type Runtime struct {
	cfg Config
}

// New returns a Runtime. cfg.Store must already be locked by the caller
// (spec.md §5 makes the undo log a "process-local single-writer
// structure"); Runtime only Loads/Saves it, never acquires the lock
// itself.
func New(cfg Config) *Runtime {
	if cfg.Scripts == nil {
		cfg.Scripts = scripthost.Null{}
	}
	if cfg.Prompt == nil {
		cfg.Prompt = AlwaysIgnore
	}
	if cfg.Engine == nil {
		cfg.Engine = make(map[string]string)
	}
	return &Runtime{cfg: cfg}
}

// Install runs components' operations in the given order — already
// topologically sorted by internal/graph — firing begin_installation on
// every component up front, polling for processes that must be stopped,
// then executing each component's operation list in turn. packages.xml is
// rewritten after every completed component so a crash leaves a
// consistent state (spec.md §4.8 "Self-awareness"). Any failure rolls the
// whole session back in reverse before returning.
func (rt *Runtime) Install(ctx context.Context, components []*component.Component) (*Report, error) {
	doc, err := rt.cfg.Store.Load()
	if err != nil {
		return nil, err
	}

	session := &state.SessionLog{}
	report := &Report{}

	for _, c := range components {
		if _, err := rt.cfg.Scripts.Invoke(ctx, "Component.beginInstallation", map[string]string{"name": c.Name}); err != nil {
			slog.Warn("beginInstallation script hook failed", "component", c.Name, "error", err)
		}
	}

	if err := rt.stopProcessesForUpdate(ctx, components); err != nil {
		return report, err
	}

	for _, c := range components {
		if err := rt.installComponent(ctx, c, session, report); err != nil {
			rt.rollback(ctx, session)
			return report, err
		}

		doc.Upsert(state.PackageRecord{
			Name:               c.Name,
			Version:            c.Version,
			InstallDate:        time.Now(),
			ForcedInstallation: c.IsForced,
		})
		if err := rt.cfg.Store.Save(doc); err != nil {
			rt.rollback(ctx, session)
			return report, err
		}
		report.Installed = append(report.Installed, c.Name)
	}

	return report, nil
}

// Uninstall undoes components' operations, walking the list backward so
// dependents are undone before the dependencies they relied on (the list
// itself is handed in dependency order, the same order Install would use,
// per spec.md §4.8's "Operation sorting" note that naive reverse
// iteration respects child-before-parent). Each component's own
// packages.xml record is removed as soon as its operations finish
// undoing.
func (rt *Runtime) Uninstall(ctx context.Context, components []*component.Component) (*Report, error) {
	doc, err := rt.cfg.Store.Load()
	if err != nil {
		return nil, err
	}
	report := &Report{}

	for i := len(components) - 1; i >= 0; i-- {
		c := components[i]
		oc := rt.contextFor(c.Name)

		for j := len(c.Operations) - 1; j >= 0; j-- {
			instance, err := rt.cfg.Registry.Load(c.Operations[j])
			if err != nil {
				return report, err
			}
			if err := rt.undoWithPrompt(ctx, c.Name, instance, oc, false); err != nil {
				return report, err
			}
		}

		doc.Remove(c.Name)
		if err := rt.cfg.Store.Save(doc); err != nil {
			return report, err
		}
		report.Uninstalled = append(report.Uninstalled, c.Name)
	}

	return report, nil
}

// stopProcessesForUpdate collects the union of every component's
// StopProcesses, polls the OS for matching running processes, and prompts
// Retry/Ignore/Cancel if any are found (spec.md §4.8 phase 2).
func (rt *Runtime) stopProcessesForUpdate(ctx context.Context, components []*component.Component) error {
	seen := make(map[string]bool)
	var names []string
	for _, c := range components {
		for _, p := range c.StopProcesses {
			if !seen[p] {
				seen[p] = true
				names = append(names, p)
			}
		}
	}
	if len(names) == 0 || rt.cfg.Processes == nil {
		return nil
	}

	for {
		running, err := rt.cfg.Processes.Running(names)
		if err != nil {
			return err
		}
		if len(running) == 0 {
			return nil
		}

		cause := insterrors.New(insterrors.CategoryOperation, insterrors.CodeUserDefined, "processes must be closed before continuing").
			WithDetail("processes", running)
		switch rt.cfg.Prompt(ctx, "", nil, cause, false) {
		case DecisionRetry:
			continue
		case DecisionIgnore:
			return nil
		default:
			return cancelErr()
		}
	}
}

// installComponent runs one component's operation list in order, backing
// up, performing, elevating on demand, and appending each successfully
// performed operation to session. A StopProcesses-bearing component gets
// a trailing FakeStopProcessForUpdate pseudo-op so a future rollback can
// ask whether those processes are still running (spec.md §4.8's "append
// any ... FakeStopProcessForUpdate entries" step).
func (rt *Runtime) installComponent(ctx context.Context, c *component.Component, session *state.SessionLog, report *Report) error {
	oc := rt.contextFor(c.Name)

	for _, opValue := range c.Operations {
		opValue.Owner = c.Name

		instance, err := rt.cfg.Registry.Load(opValue)
		if err != nil {
			return err
		}

		if err := rt.runComponentOperation(ctx, c, instance, oc); err != nil {
			return err
		}

		xmlBlob, err := operation.MarshalXML(instance.Value())
		if err != nil {
			return err
		}
		session.Append(state.SessionEntry{
			ComponentName: c.Name,
			OperationKind: instance.Name(),
			OperationXML:  xmlBlob,
		})

		if c.IsEssential {
			report.RestartRequired = true
		}
	}

	if len(c.StopProcesses) > 0 {
		fake, err := rt.cfg.Registry.Create(operation.KindFakeStopProcessForUpdate)
		if err != nil {
			return err
		}
		fake.Value().Arguments = []string{strings.Join(c.StopProcesses, ",")}
		fake.Value().Owner = c.Name
		if err := fake.Perform(ctx, oc); err != nil {
			return err
		}
		xmlBlob, err := operation.MarshalXML(fake.Value())
		if err != nil {
			return err
		}
		session.Append(state.SessionEntry{
			ComponentName: c.Name,
			OperationKind: fake.Name(),
			OperationXML:  xmlBlob,
		})
	}

	return nil
}

// runComponentOperation runs one op's backup+perform cycle with
// elevation scoped to the op (spec.md §4.8 phase 3(b): "dropped after the
// op unless another op requires it too" — the reference-counted
// elevate.Handle makes repeated Acquire/Release across consecutive
// admin-requiring ops cheap without ever dropping below the floor a
// still-running op needs).
func (rt *Runtime) runComponentOperation(ctx context.Context, c *component.Component, instance operation.Instance, oc *operation.Context) error {
	handle := progress.NewTaskHandle()
	if rt.cfg.Coordinator != nil {
		rt.cfg.Coordinator.Track(handle)
	}
	oc.Progress = handle
	handle.Start()
	defer handle.Finish()

	if c.RequiresAdmin && rt.cfg.Elevate != nil {
		if err := rt.cfg.Elevate.Acquire(ctx); err != nil {
			return err
		}
		defer func() { _ = rt.cfg.Elevate.Release(ctx) }()
	}

	return rt.performWithPrompt(ctx, c.Name, instance, oc)
}

// performWithPrompt runs Backup then Perform, retrying or ignoring the
// failure per the user's prompt decision. InvalidArguments and Fatal
// errors skip the prompt and fail immediately: InvalidArguments is "a
// hard stop of the current op" that still lets the caller roll back
// everything already applied, and Fatal means rollback itself cannot be
// trusted to proceed (spec.md §7).
func (rt *Runtime) performWithPrompt(ctx context.Context, componentName string, instance operation.Instance, oc *operation.Context) error {
	for {
		if err := instance.Backup(ctx, oc); err != nil {
			if hardFail(err) {
				return err
			}
			switch rt.cfg.Prompt(ctx, componentName, instance, err, false) {
			case DecisionRetry:
				continue
			case DecisionIgnore:
				return nil
			default:
				return cancelErr()
			}
		}

		err := rt.runPerform(ctx, instance, oc)
		if err == nil {
			return nil
		}
		if insterrors.IsCanceled(err) || hardFail(err) {
			return err
		}

		switch rt.cfg.Prompt(ctx, componentName, instance, err, false) {
		case DecisionRetry:
			continue
		case DecisionIgnore:
			return nil
		default:
			return cancelErr()
		}
	}
}

// runPerform runs instance.Perform on a worker goroutine so the caller
// (in a real front end, the UI event loop) stays responsive, per spec.md
// §4.8 phase 3(d): "perform() in a worker thread while the event loop
// pumps UI messages".
func (rt *Runtime) runPerform(ctx context.Context, instance operation.Instance, oc *operation.Context) error {
	done := make(chan error, 1)
	go func() {
		done <- instance.Perform(ctx, oc)
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return insterrors.Wrap(insterrors.CategoryCanceled, insterrors.CodeCanceled, "operation canceled", ctx.Err())
	}
}

// undoWithPrompt calls instance.Undo, retrying or ignoring per the
// user's prompt decision. When rollback is true a DecisionCancel is
// coerced to DecisionIgnore, per spec.md §4.8: "Rollback itself cannot
// cancel."
func (rt *Runtime) undoWithPrompt(ctx context.Context, componentName string, instance operation.Instance, oc *operation.Context, rollback bool) error {
	for {
		err := instance.Undo(ctx, oc)
		if err == nil {
			return nil
		}

		decision := rt.cfg.Prompt(ctx, componentName, instance, err, rollback)
		if rollback && decision == DecisionCancel {
			decision = DecisionIgnore
		}
		switch decision {
		case DecisionRetry:
			continue
		case DecisionIgnore:
			return nil
		default:
			return cancelErr()
		}
	}
}

// rollback undoes every operation session recorded, newest first,
// ignoring (per the forced-Ignore-on-Cancel rule) rather than aborting on
// a stubborn failure, since a rollback that gives up partway would leave
// the filesystem in a worse state than the one it started from.
func (rt *Runtime) rollback(ctx context.Context, session *state.SessionLog) {
	for _, entry := range session.Reversed() {
		opValue := &component.Operation{Kind: entry.OperationKind, Owner: entry.ComponentName}
		if err := operation.UnmarshalXML(entry.OperationXML, opValue); err != nil {
			slog.Error("rollback: failed to decode operation", "component", entry.ComponentName, "kind", entry.OperationKind, "error", err)
			continue
		}

		instance, err := rt.cfg.Registry.Load(opValue)
		if err != nil {
			slog.Error("rollback: unknown operation kind", "kind", entry.OperationKind, "error", err)
			continue
		}

		oc := rt.contextFor(entry.ComponentName)
		if err := rt.undoWithPrompt(ctx, entry.ComponentName, instance, oc, true); err != nil {
			slog.Error("rollback: giving up on operation", "component", entry.ComponentName, "kind", entry.OperationKind, "error", err)
		}
	}
}

// contextFor builds a fresh operation.Context for componentName, binding
// whatever ArchiveStore/Codec that component's archives live behind.
func (rt *Runtime) contextFor(componentName string) *operation.Context {
	oc := &operation.Context{
		Engine:            rt.cfg.Engine,
		RepositoryBuilder: rt.cfg.Repositories,
		FileTypeRegistrar: rt.cfg.FileTypes,
		ProcessLister:     rt.cfg.Processes,
	}
	if rt.cfg.Archives != nil {
		oc.ArchiveStore, oc.Codec = rt.cfg.Archives.Archives(componentName)
	}
	return oc
}

func hardFail(err error) bool {
	e, ok := err.(*insterrors.Error)
	if !ok {
		return false
	}
	return e.Code == insterrors.CodeInvalidArguments || e.Category == insterrors.CategoryFatal
}

func cancelErr() error {
	return insterrors.New(insterrors.CategoryCanceled, insterrors.CodeCanceled, "user canceled installation")
}
