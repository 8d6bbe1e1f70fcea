package gitsync

import (
	"errors"
	"fmt"

	"github.com/open-policy-agent/ocp-reposync/internal/access"
	"github.com/open-policy-agent/ocp-reposync/internal/gitcmd"
	"github.com/open-policy-agent/ocp-reposync/internal/sshproxy"
	"github.com/open-policy-agent/ocp-reposync/internal/transport"
)

// Message keys identifying the user facing message of a RepositoryError.
const (
	KeyBadPassphrase         = "repository.git.messages.badPassphrase"
	KeyInvalidRemoteURL      = "repository.git.messages.invalidRemoteURL"
	KeyCannotCreateProxy     = "repository.git.messages.cannotCreateProxy"
	KeyConnectionSetupFailed = "repository.git.messages.connectionSetupFailed"
	KeyCommandFailed         = "repository.git.messages.commandFailed"
	KeyWorkingDirectory      = "repository.git.messages.workingDirectory"
)

var messages = map[string]string{
	KeyBadPassphrase:         "cannot decrypt SSH key, check the passphrase",
	KeyInvalidRemoteURL:      "remote repository URL is invalid",
	KeyCannotCreateProxy:     "cannot create SSH proxy",
	KeyConnectionSetupFailed: "cannot decode connection parameters",
	KeyCommandFailed:         "git command failed",
	KeyWorkingDirectory:      "working directory is not a git repository",
}

// RepositoryError is the error returned by every Helper operation.
type RepositoryError struct {
	Key    string
	Op     string
	Output string
	Err    error
}

func (e *RepositoryError) Error() string {
	return fmt.Sprintf("git %s: %s: %v", e.Op, e.Message(), e.Err)
}

func (e *RepositoryError) Unwrap() error {
	return e.Err
}

// Message returns the user facing message for the error key.
func (e *RepositoryError) Message() string {
	if msg, ok := messages[e.Key]; ok {
		return msg
	}
	return e.Key
}

// Reason is the short form of the key used as a metric label.
func (e *RepositoryError) Reason() string {
	const prefix = "repository.git.messages."
	if len(e.Key) > len(prefix) && e.Key[:len(prefix)] == prefix {
		return e.Key[len(prefix):]
	}
	return e.Key
}

func newRepositoryError(op string, err error) *RepositoryError {
	var repoErr *RepositoryError
	if errors.As(err, &repoErr) {
		return repoErr
	}

	re := &RepositoryError{Op: op, Err: err}

	var proxyErr *sshproxy.Error
	var cmdErr *gitcmd.Error
	switch {
	case transport.IsKind(err, transport.BadPassphrase):
		re.Key = KeyBadPassphrase
	case transport.IsKind(err, transport.InvalidURL), errors.Is(err, access.ErrMissingURL):
		re.Key = KeyInvalidRemoteURL
	case transport.IsKind(err, transport.ConnectionSetupFailed):
		re.Key = KeyConnectionSetupFailed
	case errors.As(err, &proxyErr):
		re.Key = KeyCannotCreateProxy
	case errors.As(err, &cmdErr):
		re.Key = KeyCommandFailed
		re.Output = cmdErr.Output
	case errors.Is(err, access.ErrMissingSSHKey), errors.Is(err, access.ErrInvalidTimeout):
		re.Key = KeyConnectionSetupFailed
	default:
		re.Key = KeyCommandFailed
	}
	return re
}
