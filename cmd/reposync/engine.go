package main

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/open-policy-agent/ocp-reposync/internal/config"
	"github.com/open-policy-agent/ocp-reposync/internal/gitcmd"
	"github.com/open-policy-agent/ocp-reposync/internal/gitsync"
	"github.com/open-policy-agent/ocp-reposync/internal/logging"
	"github.com/open-policy-agent/ocp-reposync/internal/sshproxy"
)

var errNoConfig = errors.New("at least one --config file is required")

// loadConfig merges and parses the files named by --config. Without any and required false, the defaults
// are returned.
func loadConfig(cmd *cobra.Command, required bool) (*config.Root, error) {
	paths, _ := cmd.Flags().GetStringSlice("config")
	overrides, _ := cmd.Flags().GetBool("allow-overrides")

	if len(paths) == 0 {
		if required {
			return nil, errNoConfig
		}
		return config.Parse([]byte("{}"))
	}

	bs, err := config.Merge(paths, !overrides)
	if err != nil {
		return nil, err
	}

	return config.Parse(bs)
}

func newLogger(cmd *cobra.Command, root *config.Root) *logging.Logger {
	level, _ := cmd.Flags().GetString("log-level")
	format, _ := cmd.Flags().GetString("log-format")

	return logging.NewLogger(logging.Config{
		Level:  logging.Level(cmp.Or(level, root.Logging.Level)),
		Format: logging.Format(cmp.Or(format, root.Logging.Format)),
		Output: cmd.ErrOrStderr(),
	})
}

// engine holds what every git operation shares: the git runner and the local ssh proxy with its registry.
type engine struct {
	root    *config.Root
	log     *logging.Logger
	runner  *gitcmd.Native
	local   *sshproxy.Local
	proxies *sshproxy.Registry
}

func newEngine(ctx context.Context, root *config.Root, log *logging.Logger) (*engine, error) {
	runner := gitcmd.NewNative(root.Git.Executable, log).WithSSHCommand(root.Git.SSHCommand)

	v, err := runner.CheckGit(ctx)
	if err != nil {
		return nil, fmt.Errorf("git executable %q is not usable: %w", root.Git.Executable, err)
	}
	log.Debugf("using %s", v)

	hostKeys := sshproxy.HostKeyCallback(root.HostKeyFingerprints(), root.Proxy.InsecureHostKey)
	local := sshproxy.NewLocal(root.Proxy.ListenAddress, hostKeys, log)

	return &engine{
		root:    root,
		log:     log,
		runner:  runner,
		local:   local,
		proxies: sshproxy.NewRegistry(local, log),
	}, nil
}

// helper returns a helper writing its diagnostics to sink.
func (e *engine) helper(sink logging.Sink) (gitsync.Helper, error) {
	return gitsync.NewHelper(gitsync.Options{
		Strategy:            e.root.Git.Strategy,
		TransportAdaptation: e.root.Git.AdaptTransport(),
		CommandTimeout:      time.Duration(e.root.Git.CommandTimeout),
	}, e.runner, e.proxies, sink, e.log)
}

func (e *engine) Close() {
	if n := e.proxies.Live(); n > 0 {
		e.log.Warnf("%d proxy registrations still live at shutdown", n)
	}
	if err := e.local.Close(); err != nil {
		e.log.Warnf("failed to stop ssh proxy: %v", err)
	}
}
