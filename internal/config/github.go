package config

import (
	"bytes"
	"context"
	"net/http"
	"os"
	"strings"
	"sync"

	"github.com/bradleyfalzon/ghinstallation/v2"
)

var githubApps = &github{}

// github mints installation tokens for GitHub Apps. The transport is cached so tokens are reused until they
// expire.
type github struct {
	integrationID  int64
	installationID int64
	privateKey     []byte
	tr             *ghinstallation.Transport
	mu             sync.Mutex
}

func (gh *github) Token(ctx context.Context, app SecretGitHubApp) (string, error) {
	privateKey, err := readPrivateKey(app.PrivateKey)
	if err != nil {
		return "", err
	}

	tr, err := gh.transport(app.IntegrationID, app.InstallationID, privateKey)
	if err != nil {
		return "", err
	}

	return tr.Token(ctx)
}

func (gh *github) transport(integrationID, installationID int64, privateKey []byte) (*ghinstallation.Transport, error) {
	gh.mu.Lock()
	defer gh.mu.Unlock()

	if gh.tr == nil || gh.integrationID != integrationID || gh.installationID != installationID || !bytes.Equal(gh.privateKey, privateKey) {
		tr, err := ghinstallation.New(http.DefaultTransport, integrationID, installationID, privateKey)
		if err != nil {
			return nil, err
		}

		gh.integrationID = integrationID
		gh.installationID = installationID
		gh.privateKey = privateKey
		gh.tr = tr
	}

	return gh.tr, nil
}

func readPrivateKey(key string) ([]byte, error) {
	if strings.HasPrefix(strings.TrimSpace(key), "-----BEGIN") {
		return []byte(key), nil
	}
	return os.ReadFile(key)
}
