package sshproxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	gliderssh "github.com/gliderlabs/ssh"
	"github.com/google/uuid"
	"golang.org/x/crypto/ssh"

	"github.com/open-policy-agent/ocp-reposync/internal/logging"
)

const dialTimeout = 30 * time.Second

type route struct {
	remote string
	user   string
	signer ssh.Signer
	sink   logging.Sink
}

// Local is a Service that runs an SSH server on a local address. A git client
// connecting to it as the registered proxy user has its exec requests (such as
// git-upload-pack) forwarded to the remote repository host, authenticated
// with the registered key.
type Local struct {
	addr     string
	hostKeys ssh.HostKeyCallback
	log      *logging.Logger

	mu     sync.Mutex
	routes map[string]*route
	srv    *gliderssh.Server
	ln     net.Listener
}

// NewLocal returns a Local service listening on addr once the first tunnel
// is registered. Use port 0 for an ephemeral port.
func NewLocal(addr string, hostKeys ssh.HostKeyCallback, log *logging.Logger) *Local {
	if log == nil {
		log = logging.NewNop()
	}
	return &Local{addr: addr, hostKeys: hostKeys, log: log, routes: make(map[string]*route)}
}

func (l *Local) Register(_ context.Context, p Params) (*Registration, error) {
	signer, err := ParseKey(p.Key, p.Passphrase)
	if err != nil {
		return nil, fmt.Errorf("parse key: %w", err)
	}

	if p.ErrorSink == nil {
		p.ErrorSink = logging.Discard
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.start(); err != nil {
		return nil, err
	}

	handle := uuid.NewString()
	l.routes[handle] = &route{remote: p.RemoteAddress(), user: p.RemoteUsername, signer: signer, sink: p.ErrorSink}

	addr := l.ln.Addr().(*net.TCPAddr)
	return &Registration{
		ProxyHost:     addr.IP.String(),
		ProxyPort:     addr.Port,
		ProxyUsername: handle,
		Handle:        handle,
	}, nil
}

func (l *Local) Unregister(_ context.Context, handle string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.routes[handle]; !ok {
		return fmt.Errorf("no proxy registered for %s", handle)
	}
	delete(l.routes, handle)
	return nil
}

// Addr returns the address the proxy listens on, or nil before the first
// registration.
func (l *Local) Addr() net.Addr {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ln == nil {
		return nil
	}
	return l.ln.Addr()
}

// Close stops the proxy server. Live tunnels are dropped.
func (l *Local) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.srv == nil {
		return nil
	}
	err := l.srv.Close()
	l.srv, l.ln = nil, nil
	return err
}

// start must be called with l.mu held.
func (l *Local) start() error {
	if l.srv != nil {
		return nil
	}

	ln, err := net.Listen("tcp", l.addr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	srv := &gliderssh.Server{Handler: l.handle}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, gliderssh.ErrServerClosed) {
			l.log.Errorf("ssh proxy server stopped: %v", err)
		}
	}()

	l.srv, l.ln = srv, ln
	l.log.Debugf("ssh proxy listening on %s", ln.Addr())
	return nil
}

func (l *Local) lookup(handle string) *route {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.routes[handle]
}

func (l *Local) handle(s gliderssh.Session) {
	r := l.lookup(s.User())
	if r == nil {
		fmt.Fprintf(s.Stderr(), "no proxy registered for %s\n", s.User())
		_ = s.Exit(255)
		return
	}

	code, err := l.forward(s, r)
	if err != nil {
		r.sink.Errorf("ssh proxy %s: %v", r.remote, err)
		fmt.Fprintf(s.Stderr(), "ssh proxy: %v\n", err)
	}
	_ = s.Exit(code)
}

func (l *Local) forward(s gliderssh.Session, r *route) (int, error) {
	client, err := l.dial(s.Context(), r)
	if err != nil {
		return 255, err
	}
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return 255, fmt.Errorf("open session: %w", err)
	}
	defer session.Close()

	stdin, err := session.StdinPipe()
	if err != nil {
		return 255, err
	}
	go func() {
		_, _ = io.Copy(stdin, s)
		_ = stdin.Close()
	}()

	stderr, flush := logging.Writer(r.sink)
	defer flush()

	session.Stdout = s
	session.Stderr = io.MultiWriter(s.Stderr(), stderr)

	err = session.Run(s.RawCommand())
	var exitErr *ssh.ExitError
	switch {
	case err == nil:
		return 0, nil
	case errors.As(err, &exitErr):
		return exitErr.ExitStatus(), nil
	default:
		return 255, fmt.Errorf("run %q: %w", s.RawCommand(), err)
	}
}

func (l *Local) dial(ctx context.Context, r *route) (*ssh.Client, error) {
	d := net.Dialer{Timeout: dialTimeout}
	conn, err := d.DialContext(ctx, "tcp", r.remote)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", r.remote, err)
	}

	cfg := &ssh.ClientConfig{
		User:            r.user,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(r.signer)},
		HostKeyCallback: l.hostKeys,
		Timeout:         dialTimeout,
	}

	c, chans, reqs, err := ssh.NewClientConn(conn, r.remote, cfg)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("handshake with %s: %w", r.remote, err)
	}
	return ssh.NewClient(c, chans, reqs), nil
}

// Port is a helper for callers that need the numeric proxy port as text.
func (r *Registration) Port() string {
	return strconv.Itoa(r.ProxyPort)
}
