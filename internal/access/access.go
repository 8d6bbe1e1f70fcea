// Package access defines the descriptor of a remote repository: where it
// lives, how to authenticate against it and how long git may take.
package access

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Mode is the authentication mode of a descriptor.
type Mode int

const (
	None Mode = iota
	Password
	SSHKeypair
)

// ModeIDs maps modes to their textual identifiers. The first identifier is
// the canonical one.
var ModeIDs = map[Mode][]string{
	None:       {"none"},
	Password:   {"password"},
	SSHKeypair: {"ssh_keypair", "ssh"},
}

func (m Mode) String() string {
	if ids, ok := ModeIDs[m]; ok {
		return ids[0]
	}
	return fmt.Sprintf("mode(%d)", int(m))
}

func ParseMode(s string) (Mode, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return None, nil
	}
	for m, ids := range ModeIDs {
		for _, id := range ids {
			if id == s {
				return m, nil
			}
		}
	}
	return None, fmt.Errorf("unknown authentication mode %q", s)
}

const DefaultCommandTimeout = 180 * time.Minute

// Descriptor describes one remote target. It is a plain value: assigning it
// copies everything, so adapting a descriptor never affects the caller's copy.
type Descriptor struct {
	RepositoryURL  string
	Username       string
	Password       string
	SSHKey         string
	SSHPassphrase  string
	Mode           Mode
	CommandTimeout time.Duration
	VerboseLogs    bool
}

var (
	ErrMissingURL     = errors.New("repository url is required")
	ErrMissingSSHKey  = errors.New("ssh key is required for ssh_keypair authentication")
	ErrInvalidTimeout = errors.New("command timeout must be positive")
)

func (d Descriptor) Validate() error {
	if strings.TrimSpace(d.RepositoryURL) == "" {
		return ErrMissingURL
	}
	if d.CommandTimeout <= 0 {
		return ErrInvalidTimeout
	}
	if d.Mode == SSHKeypair && d.SSHKey == "" {
		return ErrMissingSSHKey
	}
	return nil
}

// HasPassword reports whether credentials should be embedded into the URL.
func (d Descriptor) HasPassword() bool {
	return d.Mode == Password && strings.TrimSpace(d.Password) != ""
}

const masked = "********"

// Redacted returns a copy that is safe to log.
func (d Descriptor) Redacted() Descriptor {
	r := d
	if r.Password != "" {
		r.Password = masked
	}
	if r.SSHKey != "" {
		r.SSHKey = masked
	}
	if r.SSHPassphrase != "" {
		r.SSHPassphrase = masked
	}
	r.RepositoryURL = RedactURL(r.RepositoryURL)
	return r
}

func (d Descriptor) String() string {
	r := d.Redacted()
	return fmt.Sprintf("%s [%s user=%q timeout=%s]", r.RepositoryURL, r.Mode, r.Username, r.CommandTimeout)
}

// RedactURL masks the password of a URL's user-info. Strings that do not
// parse as URLs, such as scp-like addresses, are returned as is.
func RedactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}
	if _, ok := u.User.Password(); !ok {
		return raw
	}
	return u.Redacted()
}
