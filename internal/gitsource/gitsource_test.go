package gitsource_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/installforge/core/internal/gitsource"
)

func TestIsGitRepository(t *testing.T) {
	t.Parallel()
	assert.True(t, gitsource.IsGitRepository("git+https://example.com/owner/repo.git"))
	assert.False(t, gitsource.IsGitRepository("https://example.com/owner/repo.git"))
	assert.False(t, gitsource.IsGitRepository("oci://example.com/owner/repo"))
}

func TestCloneURL(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "https://example.com/owner/repo.git", gitsource.CloneURL("git+https://example.com/owner/repo.git"))
	assert.Equal(t, "https://example.com/owner/repo.git", gitsource.CloneURL("https://example.com/owner/repo.git"))
}

func TestCheckoutFailsForUnreachableRemote(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	// Checkout needs network access to clone, so this only checks that a
	// remote which cannot be reached surfaces an error.
	_, err := gitsource.Checkout(context.Background(), root, "git+not-a-real-remote")
	assert.Error(t, err)
}

func TestUpdatesXMLPathAndArchivePath(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "/tmp/work/Updates.xml", gitsource.UpdatesXMLPath("/tmp/work"))
	assert.Equal(t, "/tmp/work/pkg/1.0.0meta.7z", gitsource.ArchivePath("/tmp/work", "pkg", "1.0.0"))
}
