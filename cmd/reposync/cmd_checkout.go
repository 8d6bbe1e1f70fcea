package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/open-policy-agent/ocp-reposync/internal/gitsync"
	"github.com/open-policy-agent/ocp-reposync/internal/logging"
)

func newCheckoutCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "checkout",
		Short: "Check out a revision in a working directory",
		Args:  cobra.NoArgs,
		RunE:  runCheckout,
	}
	cmd.Flags().String("dir", ".", "Working directory")
	cmd.Flags().String("revision", gitsync.DefaultRevision, "Revision to check out")
	cmd.Flags().String("previous", "", "Revision checked out before, for logging")
	cmd.Flags().Bool("submodules", false, "Update submodules recursively after the checkout")
	return cmd
}

func runCheckout(cmd *cobra.Command, _ []string) error {
	dir, _ := cmd.Flags().GetString("dir")
	revision, _ := cmd.Flags().GetString("revision")
	previous, _ := cmd.Flags().GetString("previous")
	submodules, _ := cmd.Flags().GetBool("submodules")

	root, err := loadConfig(cmd, false)
	if err != nil {
		return err
	}

	log := newLogger(cmd, root)
	ctx := cmd.Context()

	eng, err := newEngine(ctx, root, log)
	if err != nil {
		return err
	}
	defer eng.Close()

	helper, err := eng.helper(logging.NewBuildLog(cmd.ErrOrStderr(), log))
	if err != nil {
		return err
	}

	rev, err := helper.Checkout(ctx, dir, revision, previous, submodules)
	if err != nil {
		return err
	}

	_, _ = fmt.Fprintln(cmd.OutOrStdout(), rev)
	return nil
}
