// Package sshproxy registers SSH connections with a local proxy so that an
// external git client can reach a remote repository through a local address,
// while the proxy authenticates upstream with a key the client never sees.
package sshproxy

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"

	"github.com/open-policy-agent/ocp-reposync/internal/logging"
	"github.com/open-policy-agent/ocp-reposync/internal/metrics"
)

// Params describe the remote end of a tunnel.
type Params struct {
	RemoteHost     string
	RemotePort     int
	RemoteUsername string
	Key            string
	Passphrase     string
	// ErrorSink receives errors raised while traffic is tunneled, next to the
	// output of the git command using the tunnel.
	ErrorSink logging.Sink
}

func (p Params) RemoteAddress() string {
	return net.JoinHostPort(p.RemoteHost, strconv.Itoa(p.RemotePort))
}

// Registration is a live tunnel. Handle is opaque and unique per registration.
type Registration struct {
	ProxyHost     string
	ProxyPort     int
	ProxyUsername string
	Handle        string
}

// Service is the proxy management capability.
type Service interface {
	Register(ctx context.Context, p Params) (*Registration, error)
	Unregister(ctx context.Context, handle string) error
}

// Error is returned when a proxy cannot be registered.
type Error struct {
	Remote string
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("cannot create ssh proxy for %s: %v", e.Remote, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Registry fronts a Service and guarantees that every registration it hands
// out is unregistered exactly once, no matter how often Release is called.
type Registry struct {
	svc  Service
	log  *logging.Logger
	mu   sync.Mutex
	live map[string]struct{}
}

func NewRegistry(svc Service, log *logging.Logger) *Registry {
	if log == nil {
		log = logging.NewNop()
	}
	return &Registry{svc: svc, log: log, live: make(map[string]struct{})}
}

func (r *Registry) Register(ctx context.Context, p Params) (*Registration, error) {
	if p.ErrorSink == nil {
		p.ErrorSink = logging.Discard
	}

	reg, err := r.svc.Register(ctx, p)
	if err != nil {
		return nil, &Error{Remote: p.RemoteAddress(), Err: err}
	}

	r.mu.Lock()
	r.live[reg.Handle] = struct{}{}
	r.mu.Unlock()

	metrics.ProxyRegistrations.Inc()
	r.log.Debugf("registered ssh proxy %s:%d for %s", reg.ProxyHost, reg.ProxyPort, p.RemoteAddress())
	return reg, nil
}

// Release unregisters reg. It never fails: cleanup errors are logged and
// swallowed so they cannot mask the result of the operation being cleaned up.
func (r *Registry) Release(ctx context.Context, reg *Registration) {
	if reg == nil {
		return
	}

	r.mu.Lock()
	_, ok := r.live[reg.Handle]
	delete(r.live, reg.Handle)
	r.mu.Unlock()

	if !ok {
		return
	}

	metrics.ProxyRegistrations.Dec()

	if err := r.svc.Unregister(ctx, reg.Handle); err != nil {
		r.log.Warnf("failed to unregister ssh proxy %s: %v", reg.Handle, err)
		return
	}
	r.log.Debugf("unregistered ssh proxy %s:%d", reg.ProxyHost, reg.ProxyPort)
}

// Live returns the number of registrations not yet released.
func (r *Registry) Live() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.live)
}
