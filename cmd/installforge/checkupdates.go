package main

import (
	"fmt"

	"github.com/Masterminds/semver/v3"
	"github.com/spf13/cobra"

	"github.com/installforge/core/internal/archivestore"
	"github.com/installforge/core/internal/download"
	insterrors "github.com/installforge/core/internal/errors"
	"github.com/installforge/core/internal/metadata"
	"github.com/installforge/core/internal/state"
)

// runCheckUpdates implements --checkupdates (spec.md §6.3): run
// MetadataJob against the configured repositories, compare every
// advertised package against the installed packages.xml record by
// semver, and report whether at least one newer version is available.
// Exit code 0 means updates were found, 1 means none were — the caller
// maps that through exitCode via a sentinel "no updates" error.
func runCheckUpdates(cmd *cobra.Command) error {
	store, err := state.NewStore(stateDir())
	if err != nil {
		return err
	}
	if err := store.Lock(); err != nil {
		return err
	}
	defer store.Unlock()

	doc, err := store.Load()
	if err != nil {
		return err
	}

	job := metadata.New(metadata.Config{
		Repositories: doc.Repositories,
	}, download.New(8), archivestore.XZCodec{})

	extracted, err := job.Run(cmd.Context())
	if err != nil {
		return err
	}

	found := false
	for _, pkg := range extracted {
		installed, ok := doc.Get(pkg.Update.Name)
		if !ok {
			found = true
			fmt.Fprintf(cmd.OutOrStdout(), "%s: new, version %s available\n", pkg.Update.Name, pkg.Update.Version)
			continue
		}
		newer, err := isNewerVersion(pkg.Update.Version, installed.Version)
		if err != nil {
			continue
		}
		if newer {
			found = true
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s -> %s\n", pkg.Update.Name, installed.Version, pkg.Update.Version)
		}
	}

	if !found {
		return insterrors.New(insterrors.CategoryOperation, "", "no updates available")
	}
	return nil
}

func isNewerVersion(candidate, installed string) (bool, error) {
	c, err := semver.NewVersion(candidate)
	if err != nil {
		return false, err
	}
	i, err := semver.NewVersion(installed)
	if err != nil {
		return false, err
	}
	return c.GreaterThan(i), nil
}
