// Package gitsource resolves a "git+<url>"-scheme repository URL (spec.md
// §6.2's Repository, generalized alongside the "oci://" scheme
// internal/metadata.OCIFetcher already supports) by cloning or pulling the
// repository into a local cache directory and reading its Updates.xml and
// per-package meta.7z files straight off the worktree, for sites that
// publish a repository as a plain git remote instead of a web server or
// container registry.
//
// Grounded on the teacher's internal/git/git.go: the same
// git.PlainCloneContext/git.PlainOpen + Worktree().PullContext pair,
// the same NoErrAlreadyUpToDate tolerance, and a clone-if-absent-else-pull
// wrapper (Checkout here), narrowed from "fetch a registry definition repo" to "materialize a
// package repository's worktree locally".
package gitsource

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-git/go-git/v5"
)

// Prefix marks a repository URL as git-backed: "git+https://host/owner/repo.git".
const Prefix = "git+"

// IsGitRepository reports whether repoURL names a git-backed repository.
func IsGitRepository(repoURL string) bool {
	return strings.HasPrefix(repoURL, Prefix)
}

// CloneURL strips the "git+" marker to recover the real clone URL.
func CloneURL(repoURL string) string {
	return strings.TrimPrefix(repoURL, Prefix)
}

// Checkout clones repoURL into a stable cache directory under cacheRoot
// (keyed by a hash of the URL, so repeated runs reuse the same worktree),
// pulling instead of cloning if it already exists, and returns the
// worktree's local path.
func Checkout(ctx context.Context, cacheRoot, repoURL string) (string, error) {
	url := CloneURL(repoURL)
	sum := sha256.Sum256([]byte(url))
	dest := filepath.Join(cacheRoot, hex.EncodeToString(sum[:])[:16])

	if _, err := os.Stat(dest); err == nil {
		if err := pull(ctx, dest); err != nil {
			return "", err
		}
		return dest, nil
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", fmt.Errorf("create git cache directory: %w", err)
	}
	if _, err := git.PlainCloneContext(ctx, dest, false, &git.CloneOptions{URL: url, Depth: 1, SingleBranch: true}); err != nil {
		return "", fmt.Errorf("clone %s: %w", url, err)
	}
	return dest, nil
}

func pull(ctx context.Context, dest string) error {
	repo, err := git.PlainOpen(dest)
	if err != nil {
		return fmt.Errorf("open %s: %w", dest, err)
	}
	w, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("worktree for %s: %w", dest, err)
	}
	if err := w.PullContext(ctx, &git.PullOptions{}); err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		return fmt.Errorf("pull %s: %w", dest, err)
	}
	return nil
}

// UpdatesXMLPath and ArchivePath locate the repository's documents inside
// a checked-out worktree, the same fixed layout internal/metadata expects
// from an HTTP-hosted repository (spec.md §6.2).
func UpdatesXMLPath(worktree string) string {
	return filepath.Join(worktree, "Updates.xml")
}

func ArchivePath(worktree, packageName, version string) string {
	return filepath.Join(worktree, packageName, version+"meta.7z")
}
