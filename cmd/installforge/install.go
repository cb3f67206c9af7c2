package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/installforge/core/internal/archivestore"
	"github.com/installforge/core/internal/automation"
	"github.com/installforge/core/internal/component"
	"github.com/installforge/core/internal/download"
	"github.com/installforge/core/internal/graph"
	"github.com/installforge/core/internal/metadata"
	"github.com/installforge/core/internal/operation"
	"github.com/installforge/core/internal/progress"
	"github.com/installforge/core/internal/runtime"
	"github.com/installforge/core/internal/scripthost"
	"github.com/installforge/core/internal/state"
	"github.com/installforge/core/internal/tui"
)

// runInstall is the fallback action when none of --checkupdates,
// --runoperation, etc. is given: fetch every configured repository's
// advertised packages, resolve the install set, and run them through
// InstallRuntime headlessly. Remaining positional KEY=VALUE args seed the
// engine key/value store (spec.md §6.3); a "Script=PATH" argument, in any
// position, is treated the same as --script.
func runInstall(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	engine := make(map[string]string)
	scriptPath := flagScript
	for _, kv := range args {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		if k == "Script" {
			scriptPath = v
			continue
		}
		engine[k] = v
	}

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

	job := metadata.New(metadata.Config{Repositories: doc.Repositories}, download.New(8), archivestore.XZCodec{})
	coord := progress.NewCoordinator(len(doc.Repositories))
	job.SetCoordinator(coord)

	done := make(chan struct{})
	rendered := make(chan struct{})
	renderer := progress.NewRenderer(cmd.OutOrStdout(), "fetching updates")
	go func() {
		renderer.Watch(coord, done, 200*time.Millisecond)
		close(rendered)
	}()

	extracted, err := job.Run(ctx)
	close(done)
	<-rendered
	if err != nil {
		return err
	}

	components := componentsFromExtracted(extracted, stateDir())
	if flagNoForce {
		for _, c := range components {
			c.IsForced = false
		}
	}

	g := graph.New(components)
	g.AssignInitialCheckState()

	if scriptPath != "" {
		script, err := automation.Load(scriptPath)
		if err != nil {
			return err
		}
		for _, name := range script.SelectComponents {
			if c, ok := g.Lookup(name); ok {
				c.CheckState = component.Checked
			}
		}
		for _, name := range script.DeselectComponents {
			if c, ok := g.Lookup(name); ok {
				c.CheckState = component.Unchecked
			}
		}
		for k, v := range script.EngineValues {
			engine[k] = v
		}
	}

	installSet, err := g.ResolveInstallSet()
	if err != nil {
		return err
	}
	layers, err := g.TopologicalOrder(installSet)
	if err != nil {
		return err
	}
	ordered := make([]*component.Component, 0, len(installSet))
	for _, n := range graph.Flatten(layers) {
		if c, ok := g.Lookup(n.Name); ok {
			ordered = append(ordered, c)
		}
	}

	scripts := scripthost.ScriptHost(scripthost.Null{})
	if scriptPath != "" {
		if err := scripts.Load(ctx, scriptPath); err != nil {
			return err
		}
	}

	rt := runtime.New(runtime.Config{
		Registry: operation.NewRegistry(),
		Store:    store,
		Scripts:  scripts,
		Engine:   engine,
	})

	report, err := rt.Install(ctx, ordered)
	if err != nil {
		return err
	}

	summary := tui.Summary{
		Title:           fmt.Sprintf("installed %d component(s)", len(report.Installed)),
		Items:           report.Installed,
		RestartRequired: report.RestartRequired,
	}
	if isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd()) {
		if err := tui.RenderReport(summary); err != nil {
			tui.PlainReport(summary)
		}
	} else {
		tui.PlainReport(summary)
	}

	if flagOfflineRepo {
		if err := writeOfflineRepository(extracted, filepath.Join(stateDir(), "offline-repository")); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "offline repository written next to the installation")
	}
	return nil
}

// writeOfflineRepository implements --create-offline-repository (spec.md
// §6.3): copy every extracted package's archive directory into destDir,
// laying out a repository a future run could point --addRepository at
// with no network access. Reuses the CopyDirectory operation kind rather
// than a bespoke recursive copy.
func writeOfflineRepository(extracted []metadata.ExtractedPackage, destDir string) error {
	reg := operation.NewRegistry()
	for _, e := range extracted {
		inst, err := reg.Create(operation.KindCopyDirectory)
		if err != nil {
			return err
		}
		inst.Value().Arguments = []string{e.ExtractDir, filepath.Join(destDir, e.Update.Name)}
		if err := inst.Perform(context.Background(), operation.NewContext()); err != nil {
			return err
		}
	}
	return nil
}

// componentsFromExtracted builds the minimal component.Component set this
// headless CLI can run: one CopyDirectory operation per package, copying
// its already-extracted archive directory into destDir/<name>. Real per-
// component operation lists (Copy/Mkdir/Settings/...) come from a
// components.xml-style script host that isn't wired into this pipeline;
// PackageUpdate's dependency/autoDepend/forced fields still flow through,
// so the dependency graph resolves identically either way.
func componentsFromExtracted(extracted []metadata.ExtractedPackage, destDir string) []*component.Component {
	components := make([]*component.Component, 0, len(extracted))
	for _, e := range extracted {
		c := &component.Component{
			Name:               e.Update.Name,
			Version:            e.Update.Version,
			IsDefault:          e.Update.Default,
			IsVirtual:          e.Update.Virtual,
			IsEssential:        e.Update.Essential,
			IsForced:           e.Update.ForcedInstallation,
			UncompressedSize:   e.Update.UncompressedSize,
			Operations: []*component.Operation{
				{
					Kind:      operation.KindCopyDirectory,
					Arguments: []string{e.ExtractDir, filepath.Join(destDir, e.Update.Name)},
				},
			},
		}
		if e.Update.Dependencies != "" {
			for _, dep := range strings.Split(e.Update.Dependencies, ",") {
				c.Dependencies = append(c.Dependencies, component.ParseRef(strings.TrimSpace(dep)))
			}
		}
		if e.Update.AutoDependOn != "" {
			for _, dep := range strings.Split(e.Update.AutoDependOn, ",") {
				c.AutoDepend = append(c.AutoDepend, strings.TrimSpace(dep))
			}
		}
		components = append(components, c)
	}
	return components
}
