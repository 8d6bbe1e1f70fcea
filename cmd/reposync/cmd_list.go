package main

import (
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

func newListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the configured repositories",
		Args:  cobra.NoArgs,
		RunE:  runList,
	}
	cmd.Flags().StringSlice("only", nil, "List only repositories matching these glob patterns")
	return cmd
}

func runList(cmd *cobra.Command, _ []string) error {
	only, _ := cmd.Flags().GetStringSlice("only")

	root, err := loadConfig(cmd, true)
	if err != nil {
		return err
	}

	repos, err := selectRepositories(root, only)
	if err != nil {
		return err
	}

	table := tablewriter.NewWriter(cmd.OutOrStdout())
	table.Header("Name", "URL", "Mode", "Directory", "Reference", "Revision")
	for _, repo := range repos {
		if err := table.Append(repo.Name, repo.URL, repo.AccessMode().String(), repo.Directory, repo.FetchReference(), repo.TargetRevision()); err != nil {
			return err
		}
	}

	return table.Render()
}
