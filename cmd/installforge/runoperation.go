package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/installforge/core/internal/operation"
)

// runRunOperation implements --runoperation/--undooperation NAME args…
// (spec.md §6.3): invoke a single registered operation kind directly,
// outside any component's install/uninstall session, used for debugging
// and for the maintenance tool's own self-maintenance steps.
func runRunOperation(cmd *cobra.Command, name string, args []string, undo bool) error {
	reg := operation.NewRegistry()
	inst, err := reg.Create(name)
	if err != nil {
		return err
	}
	inst.Value().Arguments = args

	if err := inst.Test(); err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	oc := operation.NewContext()

	if undo {
		return inst.Undo(ctx, oc)
	}
	if err := inst.Backup(ctx, oc); err != nil {
		return err
	}
	return inst.Perform(ctx, oc)
}
