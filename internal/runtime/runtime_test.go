package runtime_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/installforge/core/internal/component"
	insterrors "github.com/installforge/core/internal/errors"
	"github.com/installforge/core/internal/operation"
	"github.com/installforge/core/internal/runtime"
	"github.com/installforge/core/internal/state"
)

// forceFailOp is a test-only Instance whose Perform always raises a hard,
// prompt-skipping failure (CodeInvalidArguments), standing in for spec.md
// §8 scenario 1's "operation that forces an exception".
type forceFailOp struct {
	op *component.Operation
}

func (f *forceFailOp) Name() string                                  { return "ForceFail" }
func (f *forceFailOp) Value() *component.Operation                   { return f.op }
func (f *forceFailOp) Test() error                                   { return nil }
func (f *forceFailOp) Backup(context.Context, *operation.Context) error { return nil }
func (f *forceFailOp) Perform(context.Context, *operation.Context) error {
	return insterrors.New(insterrors.CategoryOperation, insterrors.CodeInvalidArguments, "forced failure")
}
func (f *forceFailOp) Undo(context.Context, *operation.Context) error { return nil }
func (f *forceFailOp) Clone() operation.Instance                     { return &forceFailOp{op: f.op.Clone()} }

func newStore(t *testing.T) *state.Store {
	t.Helper()
	store, err := state.NewStore(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, store.Lock())
	t.Cleanup(func() { _ = store.Unlock() })
	return store
}

// TestInstall_RollsBackPriorComponentOnForcedFailure implements spec.md
// §8 scenario 1: a Mkdir that succeeds, followed by a forced exception in
// a later component, must undo the Mkdir rather than leave it behind.
func TestInstall_RollsBackPriorComponentOnForcedFailure(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "ifw-test")

	reg := operation.NewRegistry()
	reg.Register("ForceFail", func(op *component.Operation) operation.Instance {
		return &forceFailOp{op: op}
	})

	rt := runtime.New(runtime.Config{
		Registry: reg,
		Store:    newStore(t),
	})

	good := &component.Component{
		Name: "core",
		Operations: []*component.Operation{
			{Kind: operation.KindMkdir, Arguments: []string{target}},
		},
	}
	broken := &component.Component{
		Name: "broken",
		Operations: []*component.Operation{
			{Kind: "ForceFail"},
		},
	}

	report, err := rt.Install(context.Background(), []*component.Component{good, broken})
	require.Error(t, err)
	require.Equal(t, []string{"core"}, report.Installed)

	_, statErr := os.Stat(target)
	require.True(t, os.IsNotExist(statErr), "rollback must remove the directory Mkdir created")
}

// TestInstall_PersistsPackageRecordPerComponent checks the "packages.xml
// rewritten after every completed component" behavior (spec.md §4.8
// "Self-awareness") by installing two components that both succeed and
// confirming both land in the store.
func TestInstall_PersistsPackageRecordPerComponent(t *testing.T) {
	dir := t.TempDir()

	reg := operation.NewRegistry()
	store := newStore(t)
	rt := runtime.New(runtime.Config{Registry: reg, Store: store})

	a := &component.Component{
		Name:    "alpha",
		Version: "1.0.0",
		Operations: []*component.Operation{
			{Kind: operation.KindMkdir, Arguments: []string{filepath.Join(dir, "a")}},
		},
	}
	b := &component.Component{
		Name:    "beta",
		Version: "2.0.0",
		Operations: []*component.Operation{
			{Kind: operation.KindMkdir, Arguments: []string{filepath.Join(dir, "b")}},
		},
	}

	report, err := rt.Install(context.Background(), []*component.Component{a, b})
	require.NoError(t, err)
	require.Equal(t, []string{"alpha", "beta"}, report.Installed)

	doc, err := store.Load()
	require.NoError(t, err)
	rec, ok := doc.Get("alpha")
	require.True(t, ok)
	require.Equal(t, "1.0.0", rec.Version)
	rec, ok = doc.Get("beta")
	require.True(t, ok)
	require.Equal(t, "2.0.0", rec.Version)
}

// TestUninstall_UndoesOperationsAndRemovesPackageRecord exercises the
// mirror direction: undo every operation in reverse and drop the
// packages.xml entry.
func TestUninstall_UndoesOperationsAndRemovesPackageRecord(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "gamma")

	reg := operation.NewRegistry()
	store := newStore(t)
	rt := runtime.New(runtime.Config{Registry: reg, Store: store})

	c := &component.Component{
		Name: "gamma",
		Operations: []*component.Operation{
			{Kind: operation.KindMkdir, Arguments: []string{target}},
		},
	}

	_, err := rt.Install(context.Background(), []*component.Component{c})
	require.NoError(t, err)
	_, statErr := os.Stat(target)
	require.NoError(t, statErr)

	report, err := rt.Uninstall(context.Background(), []*component.Component{c})
	require.NoError(t, err)
	require.Equal(t, []string{"gamma"}, report.Uninstalled)

	_, statErr = os.Stat(target)
	require.True(t, os.IsNotExist(statErr))

	doc, err := store.Load()
	require.NoError(t, err)
	_, ok := doc.Get("gamma")
	require.False(t, ok)
}

// TestInstall_AppendsFakeStopProcessEntryForStopProcessesComponent checks
// that a component listing StopProcesses gets a trailing
// FakeStopProcessForUpdate pseudo-op recorded in the session (spec.md
// §4.8's "append any ... FakeStopProcessForUpdate entries" step), by
// forcing a later failure and confirming its Undo runs without the
// process lister reporting anything still running.
func TestInstall_AppendsFakeStopProcessEntryForStopProcessesComponent(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "delta")

	reg := operation.NewRegistry()
	reg.Register("ForceFail", func(op *component.Operation) operation.Instance {
		return &forceFailOp{op: op}
	})

	rt := runtime.New(runtime.Config{
		Registry: reg,
		Store:    newStore(t),
	})

	updated := &component.Component{
		Name:          "delta",
		StopProcesses: []string{"delta.exe"},
		Operations: []*component.Operation{
			{Kind: operation.KindMkdir, Arguments: []string{target}},
		},
	}
	broken := &component.Component{
		Name: "broken",
		Operations: []*component.Operation{
			{Kind: "ForceFail"},
		},
	}

	_, err := rt.Install(context.Background(), []*component.Component{updated, broken})
	require.Error(t, err)

	// Rollback must run the FakeStopProcessForUpdate undo (a no-op here,
	// since no ProcessLister was configured) and then the Mkdir undo,
	// leaving the directory removed.
	_, statErr := os.Stat(target)
	require.True(t, os.IsNotExist(statErr))
}
