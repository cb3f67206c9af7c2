package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/installforge/core/internal/state"
)

// runRepositoryFlags implements --addRepository/--addTempRepository/
// --setTempRepository (spec.md §6.3): each takes a comma-separated URL
// list. --addRepository persists into packages.xml's repository list;
// the Temp variants only affect this run's in-memory list (folded here
// by simply never calling store.Save for them), matching spec.md §4.5's
// RepositoryUpdate add/remove/replace semantics applied to URLs directly
// rather than through a repository's own Updates.xml.
func runRepositoryFlags(cmd *cobra.Command) error {
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

	persist := false

	if flagAddRepo != "" {
		addRepos(doc, flagAddRepo, false)
		persist = true
	}
	if flagAddTempRepo != "" {
		addRepos(doc, flagAddTempRepo, true)
	}
	if flagSetTempRepo != "" {
		doc.Repositories = nil
		addRepos(doc, flagSetTempRepo, true)
	}

	if persist {
		if err := store.Save(doc); err != nil {
			return err
		}
	}

	fmt.Fprintf(cmd.OutOrStdout(), "repository list now has %d entries\n", len(doc.Repositories))
	return nil
}

func addRepos(doc *state.Document, csv string, temporary bool) {
	for _, url := range strings.Split(csv, ",") {
		url = strings.TrimSpace(url)
		if url == "" {
			continue
		}
		doc.Repositories = append(doc.Repositories, state.Repository{
			URL:       url,
			Enabled:   true,
			Temporary: temporary,
		})
	}
}
