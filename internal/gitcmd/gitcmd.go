// Package gitcmd runs the external git client.
package gitcmd

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/open-policy-agent/ocp-reposync/internal/access"
	"github.com/open-policy-agent/ocp-reposync/internal/logging"
)

// waitDelay bounds how long Run waits for git's children (ssh, credential
// helpers) to release stderr after git itself was killed.
const waitDelay = 5 * time.Second

// Runner executes a git command in dir. Standard output is returned, standard
// error is forwarded line by line to sink. A non-positive timeout means no
// limit besides ctx. KEY=VALUE pairs in env apply to this command only and
// take precedence over the runner's own environment.
type Runner interface {
	Run(ctx context.Context, dir string, args []string, timeout time.Duration, sink logging.Sink, env ...string) (string, error)
}

// Error is returned when a git command could not be run to a successful end.
type Error struct {
	Args     []string
	ExitCode int
	Timeout  bool
	Output   string
	Err      error
}

func (e *Error) Error() string {
	cmd := "git " + redact(e.Args)
	switch {
	case e.Timeout:
		return fmt.Sprintf("%s: timed out", cmd)
	case e.ExitCode > 0:
		return fmt.Sprintf("%s: exit status %d: %s", cmd, e.ExitCode, strings.TrimSpace(e.Output))
	default:
		return fmt.Sprintf("%s: %v", cmd, e.Err)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Native runs the git binary found at executable.
type Native struct {
	executable string
	sshCommand string
	env        []string
	log        *logging.Logger
}

func NewNative(executable string, log *logging.Logger) *Native {
	if executable == "" {
		executable = "git"
	}
	if log == nil {
		log = logging.NewNop()
	}
	return &Native{executable: executable, log: log}
}

// WithSSHCommand sets GIT_SSH_COMMAND for every command run. A command's own
// environment can still override it.
func (n *Native) WithSSHCommand(command string) *Native {
	n.sshCommand = command
	return n
}

// WithEnv adds KEY=VALUE pairs to the environment of every command run.
func (n *Native) WithEnv(env ...string) *Native {
	n.env = append(n.env, env...)
	return n
}

// CheckGit verifies the git binary can be executed and returns its version.
func (n *Native) CheckGit(ctx context.Context) (string, error) {
	out, err := n.Run(ctx, "", []string{"--version"}, 30*time.Second, logging.Discard)
	if err != nil {
		return "", fmt.Errorf("git executable %q is not available: %w", n.executable, err)
	}
	return strings.TrimSpace(out), nil
}

func (n *Native) Run(ctx context.Context, dir string, args []string, timeout time.Duration, sink logging.Sink, env ...string) (string, error) {
	if sink == nil {
		sink = logging.Discard
	}

	runCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var stdout, stderr bytes.Buffer
	w, flush := logging.Writer(sink)

	cmd := exec.CommandContext(runCtx, n.executable, args...)
	cmd.Dir = dir
	cmd.Env = n.environ(env)
	cmd.Stdout = &stdout
	cmd.Stderr = io.MultiWriter(&stderr, w)
	cmd.WaitDelay = waitDelay

	n.log.Debugf("running git %s in %q", redact(args), dir)
	start := time.Now()
	err := cmd.Run()
	flush()

	if err == nil {
		n.log.Debugf("git %s finished in %v", redact(args), time.Since(start))
		return stdout.String(), nil
	}

	gerr := &Error{Args: args, Output: stderr.String(), Err: err}

	var exitErr *exec.ExitError
	switch {
	case errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil:
		gerr.Timeout = true
		gerr.Err = context.DeadlineExceeded
	case ctx.Err() != nil:
		gerr.Err = ctx.Err()
	case errors.As(err, &exitErr):
		gerr.ExitCode = exitErr.ExitCode()
	}

	return stdout.String(), gerr
}

// environ builds the command environment. Later entries win over earlier
// ones with the same key.
func (n *Native) environ(extra []string) []string {
	env := append(os.Environ(), "GIT_TERMINAL_PROMPT=0")
	if n.sshCommand != "" {
		env = append(env, "GIT_SSH_COMMAND="+n.sshCommand)
	}
	env = append(env, n.env...)
	return append(env, extra...)
}

// redact joins args, masking passwords embedded in URL arguments.
func redact(args []string) string {
	out := make([]string, len(args))
	for i, arg := range args {
		if strings.Contains(arg, "://") {
			arg = access.RedactURL(arg)
		}
		out[i] = arg
	}
	return strings.Join(out, " ")
}
