package main

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "reposync",
		Short:         "Keep local working copies of git repositories in sync",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.SetGlobalNormalizationFunc(dashedFlags)
	cmd.PersistentFlags().StringSliceP("config", "c", nil, "Configuration files or directories, merged in order")
	cmd.PersistentFlags().Bool("allow-overrides", false, "Let later configuration files override earlier values")
	cmd.PersistentFlags().String("log-level", "", "Log level: debug, info, warn, error (overrides the configuration)")
	cmd.PersistentFlags().String("log-format", "", "Log format: text, json (overrides the configuration)")

	cmd.AddCommand(
		newValidateCmd(),
		newListCmd(),
		newSyncCmd(),
		newRunCmd(),
		newFetchCmd(),
		newCheckoutCmd(),
		newSchemaCmd(),
	)

	return cmd
}

// dashedFlags lets --log_level stand in for --log-level.
func dashedFlags(_ *pflag.FlagSet, name string) pflag.NormalizedName {
	return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
}
