package sshproxy_test

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"testing"

	gliderssh "github.com/gliderlabs/ssh"
	"golang.org/x/crypto/ssh"

	"github.com/open-policy-agent/ocp-reposync/internal/logging"
	"github.com/open-policy-agent/ocp-reposync/internal/sshproxy"
	"github.com/open-policy-agent/ocp-reposync/internal/test/sshkeys"
)

// upstream starts an SSH server that only accepts key, echoes the command it
// was asked to run and copies stdin back to stdout.
func upstream(t *testing.T, key sshkeys.Key) (string, int) {
	t.Helper()

	host := sshkeys.Generate(t, "")
	srv := &gliderssh.Server{
		Handler: func(s gliderssh.Session) {
			fmt.Fprintf(s, "ran %q as %s\n", s.RawCommand(), s.User())
			if s.RawCommand() == "fail" {
				fmt.Fprintln(s.Stderr(), "fatal: repository not found")
				_ = s.Exit(128)
				return
			}
			_, _ = io.Copy(s, s)
			_ = s.Exit(0)
		},
		PublicKeyHandler: func(_ gliderssh.Context, k gliderssh.PublicKey) bool {
			return bytes.Equal(k.Marshal(), key.Public.Marshal())
		},
		HostSigners: []gliderssh.Signer{host.Signer},
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	go func() { _ = srv.Serve(ln) }()
	t.Cleanup(func() { _ = srv.Close() })

	addr := ln.Addr().(*net.TCPAddr)
	return addr.IP.String(), addr.Port
}

func dialProxy(t *testing.T, reg *sshproxy.Registration) *ssh.Client {
	t.Helper()

	client, err := ssh.Dial("tcp", net.JoinHostPort(reg.ProxyHost, reg.Port()), &ssh.ClientConfig{
		User:            reg.ProxyUsername,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestLocalTunnelsExecRequests(t *testing.T) {
	key := sshkeys.Generate(t, "s3cret")
	host, port := upstream(t, key)

	local := sshproxy.NewLocal("127.0.0.1:0", sshproxy.HostKeyCallback(nil, true), nil)
	t.Cleanup(func() { _ = local.Close() })

	var buf bytes.Buffer
	sink := logging.NewBuildLog(&buf, nil)

	reg, err := local.Register(t.Context(), sshproxy.Params{
		RemoteHost:     host,
		RemotePort:     port,
		RemoteUsername: "git",
		Key:            key.PEM,
		Passphrase:     "s3cret",
		ErrorSink:      sink,
	})
	if err != nil {
		t.Fatal(err)
	}
	if reg.ProxyHost != "127.0.0.1" || reg.ProxyPort == 0 || reg.ProxyUsername == "" {
		t.Fatalf("unexpected registration %+v", reg)
	}

	t.Run("success", func(t *testing.T) {
		session, err := dialProxy(t, reg).NewSession()
		if err != nil {
			t.Fatal(err)
		}
		defer session.Close()

		session.Stdin = strings.NewReader("0000")
		out, err := session.Output("git-upload-pack 'org/repo.git'")
		if err != nil {
			t.Fatal(err)
		}

		if exp, act := "ran \"git-upload-pack 'org/repo.git'\" as git\n0000", string(out); exp != act {
			t.Fatalf("expected %q, got %q", exp, act)
		}
	})

	t.Run("exit status and stderr are forwarded", func(t *testing.T) {
		session, err := dialProxy(t, reg).NewSession()
		if err != nil {
			t.Fatal(err)
		}
		defer session.Close()

		err = session.Run("fail")
		var exitErr *ssh.ExitError
		if !errors.As(err, &exitErr) || exitErr.ExitStatus() != 128 {
			t.Fatalf("expected exit status 128, got %v", err)
		}
		if !strings.Contains(buf.String(), "fatal: repository not found") {
			t.Fatalf("expected upstream stderr in sink, got %q", buf.String())
		}
	})

	if err := local.Unregister(t.Context(), reg.Handle); err != nil {
		t.Fatal(err)
	}

	t.Run("unregistered user is rejected", func(t *testing.T) {
		session, err := dialProxy(t, reg).NewSession()
		if err != nil {
			t.Fatal(err)
		}
		defer session.Close()

		var exitErr *ssh.ExitError
		if err := session.Run("git-upload-pack 'org/repo.git'"); !errors.As(err, &exitErr) || exitErr.ExitStatus() != 255 {
			t.Fatalf("expected exit status 255, got %v", err)
		}
	})

	if err := local.Unregister(t.Context(), reg.Handle); err == nil {
		t.Fatal("expected second unregister to fail")
	}
}

func TestLocalRejectsBadPassphrase(t *testing.T) {
	key := sshkeys.Generate(t, "right")
	local := sshproxy.NewLocal("127.0.0.1:0", sshproxy.HostKeyCallback(nil, true), nil)
	t.Cleanup(func() { _ = local.Close() })

	_, err := local.Register(t.Context(), sshproxy.Params{RemoteHost: "127.0.0.1", RemotePort: 22, Key: key.PEM, Passphrase: "wrong"})
	if err == nil {
		t.Fatal("expected error")
	}
	if local.Addr() != nil {
		t.Fatal("expected proxy not to be started")
	}
}
