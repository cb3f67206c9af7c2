package tui_test

import (
	"bytes"
	"io"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/installforge/core/internal/tui"
)

func captureStdout(t *testing.T, fn func()) string {
	t.Helper()
	r, w, err := os.Pipe()
	require.NoError(t, err)
	orig := os.Stdout
	os.Stdout = w
	defer func() { os.Stdout = orig }()

	fn()
	require.NoError(t, w.Close())

	var buf bytes.Buffer
	_, err = io.Copy(&buf, r)
	require.NoError(t, err)
	return buf.String()
}

func TestPlainReportListsInstalledItems(t *testing.T) {
	out := captureStdout(t, func() {
		tui.PlainReport(tui.Summary{
			Title: "installed 2 component(s)",
			Items: []string{"com.example.core", "com.example.docs"},
		})
	})

	assert.Contains(t, out, "installed 2 component(s)")
	assert.Contains(t, out, "com.example.core")
	assert.Contains(t, out, "com.example.docs")
	assert.NotContains(t, out, "restart is required")
}

func TestPlainReportFlagsRestartRequired(t *testing.T) {
	out := captureStdout(t, func() {
		tui.PlainReport(tui.Summary{
			Title:           "installed 1 component(s)",
			Items:           []string{"com.example.core"},
			RestartRequired: true,
		})
	})

	assert.Contains(t, out, "restart is required")
}
