package metadata

import (
	"context"
	"os"
	"path/filepath"

	"github.com/installforge/core/internal/gitsource"
	"github.com/installforge/core/internal/state"
)

// fetchGitUpdatesXML checks out (or updates) repo's git worktree under the
// job's temp dir and returns its Updates.xml bytes.
func (j *Job) fetchGitUpdatesXML(ctx context.Context, repo state.Repository) ([]byte, error) {
	worktree, err := gitsource.Checkout(ctx, j.gitCacheRoot(), repo.URL)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(gitsource.UpdatesXMLPath(worktree))
}

// fetchGitArchive returns the path to p's meta.7z inside its repository's
// already-checked-out git worktree; no copy is needed since extractOne
// only ever reads the archive, never mutates it in place.
func (j *Job) fetchGitArchive(ctx context.Context, p PendingPackage) (string, error) {
	worktree, err := gitsource.Checkout(ctx, j.gitCacheRoot(), p.Repository.URL)
	if err != nil {
		return "", err
	}
	return gitsource.ArchivePath(worktree, p.Update.Name, p.Update.Version), nil
}

func (j *Job) gitCacheRoot() string {
	dir := j.cfg.TempDir
	if dir == "" {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "installforge-git-cache")
}
