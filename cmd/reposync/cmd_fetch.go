package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/thediveo/enumflag/v2"

	"github.com/open-policy-agent/ocp-reposync/internal/access"
	"github.com/open-policy-agent/ocp-reposync/internal/logging"
	"github.com/open-policy-agent/ocp-reposync/internal/service"
)

type fetchOptions struct {
	url           string
	dir           string
	ref           string
	mode          access.Mode
	username      string
	passwordEnv   string
	keyFile       string
	passphraseEnv string
	shallow       bool
	timeout       time.Duration
	verbose       bool
	init          bool
}

func newFetchCmd() *cobra.Command {
	var opts fetchOptions

	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Fetch a reference of a repository into a working directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runFetch(cmd, &opts)
		},
	}

	cmd.Flags().StringVar(&opts.url, "url", "", "Repository URL")
	cmd.Flags().StringVar(&opts.dir, "dir", ".", "Working directory")
	cmd.Flags().StringVar(&opts.ref, "ref", "", "Refspec to fetch (default: the remote's HEAD)")
	cmd.Flags().Var(enumflag.New(&opts.mode, "mode", access.ModeIDs, enumflag.EnumCaseInsensitive),
		"auth", "Authentication mode: none, password, ssh_keypair")
	cmd.Flags().StringVar(&opts.username, "username", "", "User name for password authentication")
	cmd.Flags().StringVar(&opts.passwordEnv, "password-env", "", "Environment variable holding the password")
	cmd.Flags().StringVar(&opts.keyFile, "key-file", "", "Private key file for ssh_keypair authentication")
	cmd.Flags().StringVar(&opts.passphraseEnv, "passphrase-env", "", "Environment variable holding the key passphrase")
	cmd.Flags().BoolVar(&opts.shallow, "shallow", false, "Fetch with --depth=1")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", access.DefaultCommandTimeout, "Timeout of the git command")
	cmd.Flags().BoolVar(&opts.verbose, "verbose", false, "Pass --verbose to git")
	cmd.Flags().BoolVar(&opts.init, "init", false, "Initialize the working directory if it is not a repository")
	_ = cmd.MarkFlagRequired("url")

	return cmd
}

func (o *fetchOptions) descriptor() (access.Descriptor, error) {
	d := access.Descriptor{
		RepositoryURL:  o.url,
		Mode:           o.mode,
		Username:       o.username,
		CommandTimeout: o.timeout,
		VerboseLogs:    o.verbose,
	}

	if o.passwordEnv != "" {
		d.Password = os.Getenv(o.passwordEnv)
	}
	if o.passphraseEnv != "" {
		d.SSHPassphrase = os.Getenv(o.passphraseEnv)
	}
	if o.keyFile != "" {
		bs, err := os.ReadFile(o.keyFile)
		if err != nil {
			return access.Descriptor{}, fmt.Errorf("read key file: %w", err)
		}
		d.SSHKey = string(bs)
	}

	return d, d.Validate()
}

func runFetch(cmd *cobra.Command, opts *fetchOptions) error {
	d, err := opts.descriptor()
	if err != nil {
		return err
	}

	root, err := loadConfig(cmd, false)
	if err != nil {
		return err
	}

	log := newLogger(cmd, root)
	ctx := cmd.Context()

	if opts.init {
		if err := service.PrepareWorkingDirectory(opts.dir); err != nil {
			return fmt.Errorf("prepare %s: %w", opts.dir, err)
		}
	}

	eng, err := newEngine(ctx, root, log)
	if err != nil {
		return err
	}
	defer eng.Close()

	helper, err := eng.helper(logging.NewBuildLog(cmd.ErrOrStderr(), log))
	if err != nil {
		return err
	}

	log.Debugf("fetching with %s", d.Redacted())
	return helper.Fetch(ctx, opts.dir, d, opts.ref, opts.shallow)
}
