package transport

import (
	"crypto/x509"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/ssh"
)

type Kind int

const (
	InvalidURL Kind = iota + 1
	BadPassphrase
	ConnectionSetupFailed
)

func (k Kind) String() string {
	switch k {
	case InvalidURL:
		return "invalid_url"
	case BadPassphrase:
		return "bad_passphrase"
	case ConnectionSetupFailed:
		return "connection_setup_failed"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Error is returned when a descriptor cannot be adapted.
type Error struct {
	Kind Kind
	URL  string
	Err  error
}

func (e *Error) Error() string {
	switch e.Kind {
	case InvalidURL:
		return fmt.Sprintf("remote repository url %q is invalid: %v", e.URL, e.Err)
	case BadPassphrase:
		return fmt.Sprintf("cannot decrypt ssh key for %q, please check the key passphrase: %v", e.URL, e.Err)
	default:
		return fmt.Sprintf("cannot decode connection parameters for %q: %v", e.URL, e.Err)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsKind reports whether err is, or wraps, a transport error of kind k.
func IsKind(err error, k Kind) bool {
	var te *Error
	return errors.As(err, &te) && te.Kind == k
}

// Messages produced by key decryption failures in other key handling stacks.
// They are matched in addition to the typed errors below so keys prepared by
// an external capability are classified the same way.
var badPassphraseMessages = []string{
	"exception using cipher - please check password and data.",
	"decryption password incorrect",
}

func isBadPassphrase(err error) bool {
	var missing *ssh.PassphraseMissingError
	if errors.As(err, &missing) || errors.Is(err, x509.IncorrectPasswordError) {
		return true
	}

	msg := err.Error()
	for _, m := range badPassphraseMessages {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}
