package operation_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/installforge/core/internal/component"
	"github.com/installforge/core/internal/operation"
	"github.com/installforge/core/internal/progress"
)

func TestRegistry_RoundTripsEveryKind(t *testing.T) {
	reg := operation.NewRegistry()
	for _, kind := range reg.Names() {
		inst, err := reg.Create(kind)
		require.NoError(t, err, kind)
		require.Equal(t, kind, inst.Name())

		data, err := operation.MarshalXML(inst.Value())
		require.NoError(t, err, kind)

		loaded, err := reg.Load(&component.Operation{Kind: kind})
		require.NoError(t, err, kind)
		require.NoError(t, operation.UnmarshalXML(data, loaded.Value()), kind)
	}
}

func TestMkdir_PerformAndUndo(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "a", "b", "c")

	reg := operation.NewRegistry()
	inst, err := reg.Create(operation.KindMkdir)
	require.NoError(t, err)
	inst.Value().Arguments = []string{target}

	ctx := context.Background()
	oc := operation.NewContext()
	require.NoError(t, inst.Perform(ctx, oc))

	info, err := os.Stat(target)
	require.NoError(t, err)
	require.True(t, info.IsDir())

	require.NoError(t, inst.Undo(ctx, oc))
	_, err = os.Stat(filepath.Join(dir, "a"))
	require.True(t, os.IsNotExist(err))
}

func TestMkdir_PreExistingAncestorSurvivesUndo(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, "a"), 0o755))
	target := filepath.Join(dir, "a", "b")

	reg := operation.NewRegistry()
	inst, err := reg.Create(operation.KindMkdir)
	require.NoError(t, err)
	inst.Value().Arguments = []string{target}

	ctx := context.Background()
	oc := operation.NewContext()
	require.NoError(t, inst.Perform(ctx, oc))
	require.NoError(t, inst.Undo(ctx, oc))

	_, err = os.Stat(filepath.Join(dir, "a"))
	require.NoError(t, err, "pre-existing ancestor must survive undo")
	_, err = os.Stat(target)
	require.True(t, os.IsNotExist(err))
}

func TestCopy_BackupRestoresExistingDestination(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.txt")
	dst := filepath.Join(dir, "dst.txt")
	require.NoError(t, os.WriteFile(src, []byte("new"), 0o644))
	require.NoError(t, os.WriteFile(dst, []byte("old"), 0o644))

	reg := operation.NewRegistry()
	inst, err := reg.Create(operation.KindCopy)
	require.NoError(t, err)
	inst.Value().Arguments = []string{src, dst}

	ctx := context.Background()
	oc := operation.NewContext()
	require.NoError(t, inst.Backup(ctx, oc))
	require.NoError(t, inst.Perform(ctx, oc))

	content, err := os.ReadFile(dst)
	require.NoError(t, err)
	require.Equal(t, "new", string(content))

	require.NoError(t, inst.Undo(ctx, oc))
	content, err = os.ReadFile(dst)
	require.NoError(t, err)
	require.Equal(t, "old", string(content))
}

func TestCopy_UndoRemovesNewlyCreatedDestination(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.txt")
	dst := filepath.Join(dir, "dst.txt")
	require.NoError(t, os.WriteFile(src, []byte("new"), 0o644))

	reg := operation.NewRegistry()
	inst, err := reg.Create(operation.KindCopy)
	require.NoError(t, err)
	inst.Value().Arguments = []string{src, dst}

	ctx := context.Background()
	oc := operation.NewContext()
	require.NoError(t, inst.Backup(ctx, oc))
	require.NoError(t, inst.Perform(ctx, oc))
	require.NoError(t, inst.Undo(ctx, oc))

	_, err = os.Stat(dst)
	require.True(t, os.IsNotExist(err))
}

func TestDelete_PerformAndUndo(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gone.txt")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	reg := operation.NewRegistry()
	inst, err := reg.Create(operation.KindDelete)
	require.NoError(t, err)
	inst.Value().Arguments = []string{path}

	ctx := context.Background()
	oc := operation.NewContext()
	require.NoError(t, inst.Perform(ctx, oc))
	_, err = os.Stat(path)
	require.True(t, os.IsNotExist(err))

	require.NoError(t, inst.Undo(ctx, oc))
	_, err = os.Stat(path)
	require.NoError(t, err)
}

func TestSettings_UndoRestoresOldValueOrRemovesNewKey(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "settings.ini")
	require.NoError(t, os.WriteFile(file, []byte("existing=1\n"), 0o644))

	reg := operation.NewRegistry()
	ctx := context.Background()
	oc := operation.NewContext()

	updateExisting, err := reg.Create(operation.KindSettings)
	require.NoError(t, err)
	updateExisting.Value().Arguments = []string{file, "existing", "2"}
	require.NoError(t, updateExisting.Backup(ctx, oc))
	require.NoError(t, updateExisting.Perform(ctx, oc))
	require.NoError(t, updateExisting.Undo(ctx, oc))

	values, err := os.ReadFile(file)
	require.NoError(t, err)
	require.Contains(t, string(values), "existing=1")

	newKey, err := reg.Create(operation.KindSettings)
	require.NoError(t, err)
	newKey.Value().Arguments = []string{file, "brandnew", "v"}
	require.NoError(t, newKey.Backup(ctx, oc))
	require.NoError(t, newKey.Perform(ctx, oc))
	require.NoError(t, newKey.Undo(ctx, oc))

	values, err = os.ReadFile(file)
	require.NoError(t, err)
	require.NotContains(t, string(values), "brandnew")
}

func TestReplace_UndoIsDocumentedNoOp(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "file.txt")
	require.NoError(t, os.WriteFile(file, []byte("hello world"), 0o644))

	reg := operation.NewRegistry()
	inst, err := reg.Create(operation.KindReplace)
	require.NoError(t, err)
	inst.Value().Arguments = []string{file, "world", "go"}

	ctx := context.Background()
	oc := operation.NewContext()
	require.NoError(t, inst.Perform(ctx, oc))
	require.NoError(t, inst.Undo(ctx, oc))

	content, err := os.ReadFile(file)
	require.NoError(t, err)
	require.Equal(t, "hello go", string(content), "undo must not revert the edit")
}

func TestConsumeOutput_StoresResultOnEngine(t *testing.T) {
	reg := operation.NewRegistry()
	inst, err := reg.Create(operation.KindConsumeOutput)
	require.NoError(t, err)
	inst.Value().Arguments = []string{"echoed", "echo", "hi"}

	oc := operation.NewContext()
	require.NoError(t, inst.Perform(context.Background(), oc))
	require.Equal(t, "hi", oc.Engine["echoed"])
}

func TestFakeStopProcessForUpdate_UndoFailsWhenProcessRunning(t *testing.T) {
	reg := operation.NewRegistry()
	inst, err := reg.Create(operation.KindFakeStopProcessForUpdate)
	require.NoError(t, err)
	inst.Value().Arguments = []string{"app.exe,helper.exe"}

	oc := operation.NewContext()
	oc.ProcessLister = stubProcessLister{running: []string{"app.exe"}}

	require.NoError(t, inst.Perform(context.Background(), oc))
	err = inst.Undo(context.Background(), oc)
	require.Error(t, err)
}

func TestFakeStopProcessForUpdate_UndoSucceedsWhenNothingRunning(t *testing.T) {
	reg := operation.NewRegistry()
	inst, err := reg.Create(operation.KindFakeStopProcessForUpdate)
	require.NoError(t, err)
	inst.Value().Arguments = []string{"app.exe"}

	oc := operation.NewContext()
	oc.ProcessLister = stubProcessLister{}
	require.NoError(t, inst.Undo(context.Background(), oc))
}

type stubProcessLister struct{ running []string }

func (s stubProcessLister) Running([]string) ([]string, error) { return s.running, nil }

func TestMinimumProgress_ReportsATick(t *testing.T) {
	reg := operation.NewRegistry()
	inst, err := reg.Create(operation.KindMinimumProgress)
	require.NoError(t, err)

	handle := progress.NewTaskHandle()
	oc := operation.NewContext()
	oc.Progress = handle

	require.NoError(t, inst.Perform(context.Background(), oc))
	require.Equal(t, int64(1), handle.Progress())
}
