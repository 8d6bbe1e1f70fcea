// gitsync package implements the git operations a build needs on a prepared working directory: fetching
// a reference from the remote and checking out a revision. All network access goes through the external git
// client; the transport adapter decides whether that happens through a local ssh proxy, with credentials
// embedded in the URL or with the URL as configured. Proxies allocated for an operation are released before
// the operation returns, whatever its outcome.
package gitsync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-git/go-git/v5"

	"github.com/open-policy-agent/ocp-reposync/internal/access"
	"github.com/open-policy-agent/ocp-reposync/internal/gitcmd"
	"github.com/open-policy-agent/ocp-reposync/internal/logging"
	"github.com/open-policy-agent/ocp-reposync/internal/metrics"
	"github.com/open-policy-agent/ocp-reposync/internal/transport"
)

const (
	StrategyNative = "native"

	// DefaultRevision is what callers check out when no revision is configured.
	DefaultRevision = "FETCH_HEAD"

	// ProxySSHCommand is the ssh client used for tunneled fetches only. The local proxy presents a fresh
	// host key on every start; upstream host keys are verified by the proxy itself.
	ProxySSHCommand = "ssh -o StrictHostKeyChecking=no -o UserKnownHostsFile=/dev/null -o BatchMode=yes"
)

// Helper performs git operations on behalf of a build.
type Helper interface {
	// Fetch fetches refSpec from the repository described by d into the repository at workDir.
	Fetch(ctx context.Context, workDir string, d access.Descriptor, refSpec string, shallow bool) error

	// Checkout forcibly checks out targetRevision in workDir and, with useSubmodules, updates all
	// submodules recursively afterwards. It returns the revision checked out.
	Checkout(ctx context.Context, workDir, targetRevision, previousRevision string, useSubmodules bool) (string, error)

	// CloseProxy releases the proxy allocated for e, if any.
	CloseProxy(ctx context.Context, e transport.Effective)
}

// Options select and configure a Helper.
type Options struct {
	Strategy            string
	TransportAdaptation bool
	CommandTimeout      time.Duration
}

// NewHelper returns the Helper implementation selected by opts.Strategy. The returned helper writes
// diagnostics to sink.
func NewHelper(opts Options, runner gitcmd.Runner, proxies transport.Registrar, sink logging.Sink, log *logging.Logger) (Helper, error) {
	switch opts.Strategy {
	case "", StrategyNative:
		return NewNativeHelper(runner, proxies, log).
			WithSink(sink).
			WithTransportAdaptation(opts.TransportAdaptation).
			WithCommandTimeout(opts.CommandTimeout), nil
	default:
		return nil, fmt.Errorf("unknown git strategy %q", opts.Strategy)
	}
}

// NativeHelper runs operations with the external git client.
type NativeHelper struct {
	runner  gitcmd.Runner
	proxies transport.Registrar
	adapter *transport.Adapter
	sink    logging.Sink
	log     *logging.Logger
	timeout time.Duration

	proxySSHCommand string
}

func NewNativeHelper(runner gitcmd.Runner, proxies transport.Registrar, log *logging.Logger) *NativeHelper {
	if log == nil {
		log = logging.NewNop()
	}
	return &NativeHelper{
		runner:  runner,
		proxies: proxies,
		adapter: transport.New(proxies),
		sink:    logging.Discard,
		log:     log,
		timeout: access.DefaultCommandTimeout,

		proxySSHCommand: ProxySSHCommand,
	}
}

// WithProxySSHCommand sets the ssh client git uses to reach the local proxy.
func (h *NativeHelper) WithProxySSHCommand(command string) *NativeHelper {
	if command != "" {
		h.proxySSHCommand = command
	}
	return h
}

// WithSink sets the sink git output and tunnel errors are written to.
func (h *NativeHelper) WithSink(sink logging.Sink) *NativeHelper {
	if sink != nil {
		h.sink = sink
	}
	return h
}

func (h *NativeHelper) WithTransportAdaptation(enabled bool) *NativeHelper {
	h.adapter.WithEnabled(enabled)
	return h
}

// WithCommandTimeout sets the timeout of commands that are not bound to a descriptor, i.e. checkout and
// submodule update.
func (h *NativeHelper) WithCommandTimeout(timeout time.Duration) *NativeHelper {
	if timeout > 0 {
		h.timeout = timeout
	}
	return h
}

func (h *NativeHelper) Fetch(ctx context.Context, workDir string, d access.Descriptor, refSpec string, shallow bool) error {
	const op = "fetch"
	startTime := time.Now()

	err := h.fetch(ctx, workDir, d, refSpec, shallow)
	if err != nil {
		re := newRepositoryError(op, err)
		metrics.GitOperationFailed(op, re.Reason())
		return re
	}

	metrics.GitOperationSucceeded(op, startTime)
	return nil
}

func (h *NativeHelper) fetch(ctx context.Context, workDir string, d access.Descriptor, refSpec string, shallow bool) error {
	if err := d.Validate(); err != nil {
		return err
	}

	if _, err := git.PlainOpen(workDir); err != nil {
		return &RepositoryError{Key: KeyWorkingDirectory, Op: "fetch", Err: fmt.Errorf("%s: %w", workDir, err)}
	}

	eff, err := h.adapter.Adapt(ctx, d, h.sink)
	if err != nil {
		return err
	}
	defer h.CloseProxy(context.WithoutCancel(ctx), eff)

	args := []string{"fetch"}
	if shallow {
		args = append(args, "--depth=1")
	}
	if eff.VerboseLogs {
		args = append(args, "--verbose")
		h.sink.Printf("fetching %s from %s", refSpec, access.RedactURL(d.RepositoryURL))
	}
	args = append(args, eff.RepositoryURL)
	if refSpec != "" {
		args = append(args, refSpec)
	}

	h.log.Debugf("fetching %q from %s", refSpec, d)

	var env []string
	if eff.Registration != nil {
		env = append(env, "GIT_SSH_COMMAND="+h.proxySSHCommand)
	}

	if _, err := h.runner.Run(ctx, workDir, args, eff.CommandTimeout, h.sink, env...); err != nil {
		return err
	}
	return nil
}

func (h *NativeHelper) Checkout(ctx context.Context, workDir, targetRevision, previousRevision string, useSubmodules bool) (string, error) {
	const op = "checkout"
	startTime := time.Now()

	h.log.Debugf("checking out %q in %q (previous revision %q)", targetRevision, workDir, previousRevision)

	if _, err := h.runner.Run(ctx, workDir, []string{"checkout", "-f", targetRevision}, h.timeout, h.sink); err != nil {
		re := newRepositoryError(op, err)
		metrics.GitOperationFailed(op, re.Reason())
		return "", re
	}

	if useSubmodules {
		if _, err := h.runner.Run(ctx, workDir, []string{"submodule", "update", "--init", "--recursive"}, h.timeout, h.sink); err != nil {
			re := newRepositoryError("submodule update", err)
			metrics.GitOperationFailed(op, re.Reason())
			return "", re
		}
	}

	metrics.GitOperationSucceeded(op, startTime)
	return targetRevision, nil
}

func (h *NativeHelper) CloseProxy(ctx context.Context, e transport.Effective) {
	if e.Registration == nil || h.proxies == nil {
		return
	}
	h.proxies.Release(ctx, e.Registration)
}

// IsKey reports whether err is a RepositoryError with the given key.
func IsKey(err error, key string) bool {
	var re *RepositoryError
	return errors.As(err, &re) && re.Key == key
}
