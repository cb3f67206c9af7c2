package filetask_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/installforge/core/internal/checksum"
	"github.com/installforge/core/internal/filetask"
	"github.com/installforge/core/internal/progress"
)

func TestCopyTask_ZeroLengthSource(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	src := filepath.Join(dir, "empty")
	require.NoError(t, os.WriteFile(src, nil, 0o644))
	dst := filepath.Join(dir, "out")

	task := filetask.NewCopyTask(filetask.Item{Source: src, Target: dst})
	result, err := task.Run(context.Background(), progress.NewTaskHandle())
	require.NoError(t, err)
	require.Equal(t, dst, result.TargetPath)

	emptySum, err := checksum.FromReader(bytes.NewReader(nil))
	require.NoError(t, err)
	require.Equal(t, emptySum, result.Checksum)
}

func TestCopyTask_ChecksumMatchesContent(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	content := []byte("the quick brown fox jumps over the lazy dog")
	require.NoError(t, os.WriteFile(src, content, 0o644))

	task := filetask.NewCopyTask(filetask.Item{Source: src})
	result, err := task.Run(context.Background(), progress.NewTaskHandle())
	require.NoError(t, err)

	data, err := os.ReadFile(result.TargetPath)
	require.NoError(t, err)
	require.Equal(t, content, data)

	want, err := checksum.File(result.TargetPath)
	require.NoError(t, err)
	require.Equal(t, want, result.Checksum)
}

func TestCopyTask_CancelBeforeStart(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	require.NoError(t, os.WriteFile(src, []byte("data"), 0o644))

	handle := progress.NewTaskHandle()
	handle.Cancel()

	task := filetask.NewCopyTask(filetask.Item{Source: src})
	_, err := task.Run(context.Background(), handle)
	require.Error(t, err)
}
