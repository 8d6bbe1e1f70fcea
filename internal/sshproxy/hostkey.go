package sshproxy

import (
	"fmt"
	"net"

	"golang.org/x/crypto/ssh"
)

// WellKnownFingerprints are the SHA256 host key fingerprints of popular git
// hosting services. They are used when no fingerprints are configured.
var WellKnownFingerprints = []string{
	"SHA256:uNiVztksCsDhcc0u9e8BujQXVUpKZIDTMczCvj3tD2s", // github.com https://docs.github.com/en/github/authenticating-to-github/githubs-ssh-key-fingerprints
	"SHA256:p2QAMXNIC1TJYWeIOttrVc98/R1BUFWu3/LiyKgUfQM", // github.com
	"SHA256:+DiY3wvvV6TuJJhbpZisF/zLDA0zPMSvHdkr4UvCOqU", // github.com
	"SHA256:zzXQOXSRBEiUtuE8AikJYKwbHaxvSc0ojez9YXaGp1A", // bitbucket.org https://support.atlassian.com/bitbucket-cloud/docs/configure-ssh-and-two-step-verification/
	"SHA256:ohD8VZEXGWo6Ez8GSEJQ9WpafgLFsOfLOtGGQCQo6Og", // dev.azure.com
}

// HostKeyCallback accepts upstream host keys whose fingerprint is listed.
// With insecure set, every host key is accepted.
func HostKeyCallback(fingerprints []string, insecure bool) ssh.HostKeyCallback {
	if insecure {
		return ssh.InsecureIgnoreHostKey()
	}
	if len(fingerprints) == 0 {
		fingerprints = WellKnownFingerprints
	}

	m := make(map[string]bool, len(fingerprints))
	for _, fp := range fingerprints {
		m[fp] = true
	}

	return func(hostname string, _ net.Addr, key ssh.PublicKey) error {
		fingerprint := ssh.FingerprintSHA256(key)
		if !m[fingerprint] {
			return fmt.Errorf("ssh: unknown fingerprint (%s) for %s", fingerprint, hostname)
		}
		return nil
	}
}

// ParseKey parses a PEM encoded private key, decrypting it with passphrase
// when one is given. A passphrase configured for an unencrypted key is
// ignored.
func ParseKey(key, passphrase string) (ssh.Signer, error) {
	if passphrase == "" {
		return ssh.ParsePrivateKey([]byte(key))
	}

	signer, err := ssh.ParsePrivateKeyWithPassphrase([]byte(key), []byte(passphrase))
	if err == nil {
		return signer, nil
	}
	if plain, plainErr := ssh.ParsePrivateKey([]byte(key)); plainErr == nil {
		return plain, nil
	}
	return nil, err
}
