// Package transport turns an access descriptor into the URL an external git
// client can use directly: tunneled through a local ssh proxy, with basic
// auth credentials embedded, or untouched.
package transport

import (
	"context"
	"errors"
	"net"
	"net/url"
	"strconv"
	"strings"

	gittransport "github.com/go-git/go-git/v5/plumbing/transport"

	"github.com/open-policy-agent/ocp-reposync/internal/access"
	"github.com/open-policy-agent/ocp-reposync/internal/logging"
	"github.com/open-policy-agent/ocp-reposync/internal/sshproxy"
)

const defaultSSHPort = 22

// Registrar allocates and releases ssh proxies. *sshproxy.Registry
// implements it.
type Registrar interface {
	Register(ctx context.Context, p sshproxy.Params) (*sshproxy.Registration, error)
	Release(ctx context.Context, reg *sshproxy.Registration)
}

// Effective is an adapted descriptor. Registration is non-nil when a proxy was
// allocated for it and must be released by whoever adapted it.
type Effective struct {
	access.Descriptor
	Registration *sshproxy.Registration
}

type Adapter struct {
	proxies  Registrar
	disabled bool
}

func New(proxies Registrar) *Adapter {
	return &Adapter{proxies: proxies}
}

// WithEnabled toggles adaptation. A disabled adapter hands every descriptor
// back unchanged.
func (a *Adapter) WithEnabled(enabled bool) *Adapter {
	a.disabled = !enabled
	return a
}

// Adapt returns the effective form of d. d itself is never modified. The sink
// receives errors raised by a tunnel while it is in use.
func (a *Adapter) Adapt(ctx context.Context, d access.Descriptor, sink logging.Sink) (Effective, error) {
	if a.disabled {
		return Effective{Descriptor: d}, nil
	}

	switch d.Mode {
	case access.SSHKeypair:
		return a.adaptSSH(ctx, d, sink)
	case access.Password:
		return adaptPassword(d)
	default:
		return Effective{Descriptor: d}, nil
	}
}

func (a *Adapter) adaptSSH(ctx context.Context, d access.Descriptor, sink logging.Sink) (Effective, error) {
	raw := NormalizeSSH(d.RepositoryURL)

	u, err := parseURL(raw)
	if err != nil {
		return Effective{}, &Error{Kind: InvalidURL, URL: access.RedactURL(d.RepositoryURL), Err: err}
	}
	if u.Scheme != "git" && u.Scheme != "ssh" {
		return Effective{Descriptor: d}, nil
	}
	if u.Hostname() == "" {
		return Effective{}, &Error{Kind: InvalidURL, URL: access.RedactURL(d.RepositoryURL), Err: errors.New("missing host")}
	}

	username, err := extractUsername(raw)
	if err != nil {
		return Effective{}, &Error{Kind: InvalidURL, URL: access.RedactURL(d.RepositoryURL), Err: err}
	}
	if username != "" {
		d.Username = username
	}

	port := defaultSSHPort
	if p := u.Port(); p != "" {
		if port, err = strconv.Atoi(p); err != nil {
			return Effective{}, &Error{Kind: InvalidURL, URL: access.RedactURL(d.RepositoryURL), Err: err}
		}
	}

	if _, err := sshproxy.ParseKey(d.SSHKey, d.SSHPassphrase); err != nil {
		if isBadPassphrase(err) {
			if sink != nil {
				sink.Errorf("Encryption exception - please check ssh keyfile passphrase.")
			}
			return Effective{}, &Error{Kind: BadPassphrase, URL: access.RedactURL(d.RepositoryURL), Err: err}
		}
		return Effective{}, &Error{Kind: ConnectionSetupFailed, URL: access.RedactURL(d.RepositoryURL), Err: err}
	}

	reg, err := a.proxies.Register(ctx, sshproxy.Params{
		RemoteHost:     u.Hostname(),
		RemotePort:     port,
		RemoteUsername: d.Username,
		Key:            d.SSHKey,
		Passphrase:     d.SSHPassphrase,
		ErrorSink:      sink,
	})
	if err != nil {
		return Effective{}, err
	}

	d.RepositoryURL = withAuthority(raw, url.User(reg.ProxyUsername), net.JoinHostPort(reg.ProxyHost, reg.Port()))
	d.Username = reg.ProxyUsername

	return Effective{Descriptor: d, Registration: reg}, nil
}

func adaptPassword(d access.Descriptor) (Effective, error) {
	if !d.HasPassword() || !strings.Contains(d.RepositoryURL, "://") {
		return Effective{Descriptor: d}, nil
	}

	u, err := parseURL(d.RepositoryURL)
	if err != nil {
		return Effective{}, &Error{Kind: InvalidURL, URL: access.RedactURL(d.RepositoryURL), Err: err}
	}
	if u.Host == "" {
		return Effective{Descriptor: d}, nil
	}

	var userinfo *url.Userinfo
	if d.Username != "" {
		userinfo = url.UserPassword(d.Username, d.Password)
	}

	d.RepositoryURL = withAuthority(d.RepositoryURL, userinfo, u.Host)
	return Effective{Descriptor: d}, nil
}

// NormalizeSSH rewrites scp-like shorthand (user@host:path) into an explicit
// ssh:// URL by replacing the first colon with a slash. URLs that already
// carry a scheme are returned as is, and so are local paths: no colon, or a
// slash before the first one.
func NormalizeSSH(raw string) string {
	if strings.Contains(raw, "://") {
		return raw
	}
	colon := strings.Index(raw, ":")
	if colon < 0 || strings.Contains(raw[:colon], "/") {
		return raw
	}
	return "ssh://" + raw[:colon] + "/" + raw[colon+1:]
}

// parseURL drops the *url.Error wrapper, which quotes the raw URL and with it
// any password.
func parseURL(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	var ue *url.Error
	if errors.As(err, &ue) {
		return nil, ue.Err
	}
	return u, err
}

func extractUsername(raw string) (string, error) {
	ep, err := gittransport.NewEndpoint(raw)
	if err != nil {
		return "", err
	}
	return ep.User, nil
}

// withAuthority replaces the user-info and host of raw, which must contain
// "://". Everything after the authority (path, query and fragment) is kept
// byte for byte.
func withAuthority(raw string, userinfo *url.Userinfo, host string) string {
	scheme, rest, _ := strings.Cut(raw, "://")

	end := strings.IndexAny(rest, "/?#")
	if end < 0 {
		end = len(rest)
	}

	var b strings.Builder
	b.WriteString(scheme)
	b.WriteString("://")
	if userinfo != nil {
		b.WriteString(userinfo.String())
		b.WriteByte('@')
	}
	b.WriteString(host)
	b.WriteString(rest[end:])
	return b.String()
}
