// Package sshkeys generates throwaway SSH key material for tests.
package sshkeys

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"testing"

	"golang.org/x/crypto/ssh"
)

// Key is a generated key pair in the formats tests need.
type Key struct {
	PEM    string
	Public ssh.PublicKey
	Signer ssh.Signer
}

// Generate returns an ed25519 key. With a non-empty passphrase the PEM is
// encrypted.
func Generate(t testing.TB, passphrase string) Key {
	t.Helper()

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}

	var block *pem.Block
	if passphrase == "" {
		block, err = ssh.MarshalPrivateKey(priv, "test")
	} else {
		block, err = ssh.MarshalPrivateKeyWithPassphrase(priv, "test", []byte(passphrase))
	}
	if err != nil {
		t.Fatal(err)
	}

	sshPub, err := ssh.NewPublicKey(pub)
	if err != nil {
		t.Fatal(err)
	}

	signer, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		t.Fatal(err)
	}

	return Key{PEM: string(pem.EncodeToMemory(block)), Public: sshPub, Signer: signer}
}
