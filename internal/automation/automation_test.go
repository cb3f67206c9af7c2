package automation_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/installforge/core/internal/automation"
)

func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "install-script.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadValidScript(t *testing.T) {
	t.Parallel()
	path := writeScript(t, `
selectComponents:
  - com.example.core
  - com.example.docs
deselectComponents:
  - com.example.optional
engineValues:
  TargetDir: /opt/example
  ProductKey: ABC123
`)

	script, err := automation.Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"com.example.core", "com.example.docs"}, script.SelectComponents)
	assert.Equal(t, []string{"com.example.optional"}, script.DeselectComponents)
	assert.Equal(t, "/opt/example", script.EngineValues["TargetDir"])
	assert.Equal(t, "ABC123", script.EngineValues["ProductKey"])
}

func TestLoadEmptyScript(t *testing.T) {
	t.Parallel()
	path := writeScript(t, "{}\n")

	script, err := automation.Load(path)
	require.NoError(t, err)
	assert.Empty(t, script.SelectComponents)
	assert.Empty(t, script.DeselectComponents)
	assert.Empty(t, script.EngineValues)
}

func TestLoadRejectsUnknownField(t *testing.T) {
	t.Parallel()
	path := writeScript(t, "selectComponents: [com.example.core]\nnotAField: true\n")

	_, err := automation.Load(path)
	assert.Error(t, err)
}

func TestLoadRejectsWrongShape(t *testing.T) {
	t.Parallel()
	path := writeScript(t, "selectComponents: \"not-a-list\"\n")

	_, err := automation.Load(path)
	assert.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()
	_, err := automation.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
