package gitsync

import (
	"cmp"
	"context"
	"errors"
	"fmt"

	"github.com/open-policy-agent/ocp-reposync/internal/access"
	"github.com/open-policy-agent/ocp-reposync/internal/config"
	"github.com/open-policy-agent/ocp-reposync/internal/gitcmd"
	internalgitsync "github.com/open-policy-agent/ocp-reposync/internal/gitsync"
	"github.com/open-policy-agent/ocp-reposync/internal/logging"
	"github.com/open-policy-agent/ocp-reposync/internal/service"
	"github.com/open-policy-agent/ocp-reposync/internal/sshproxy"
	pkgsync "github.com/open-policy-agent/ocp-reposync/pkg/sync"
)

// Synchronizer maintains a local working copy of a git repository.
//
// The synchronizer is not thread-safe. Callers should handle concurrency.
type Synchronizer = pkgsync.Synchronizer

// NewFromGitConfig creates a new Synchronizer for external users using a git configuration map.
//
// The gitConfig map should contain the following fields:
//   - "repo" (string, required): Git repository URL
//   - "reference" (string, optional): refspec to fetch, the remote's HEAD by default
//   - "commit" or "revision" (string, optional): revision to check out, FETCH_HEAD by default
//   - "credential" (string, optional): Name of the credential to use for authentication
//   - "shallow", "submodules" (bool, optional): fetch with --depth=1, update submodules after checkout
//   - "executable" (string, optional): git executable, "git" by default
//   - "host_key_fingerprints" ([]string, optional): accepted ssh host keys of the remote
//
// The secretProvider is required if credentials are needed. The provider will be called
// with the credential name to retrieve the actual credentials.
func NewFromGitConfig(path string, gitConfig map[string]any, sourceName string, provider SecretProvider) (Synchronizer, error) {
	repo, ok := gitConfig["repo"].(string)
	if !ok || repo == "" {
		return nil, errors.New("git config: 'repo' field is required")
	}
	if path == "" {
		return nil, errors.New("git config: path is required")
	}

	r := &config.Repository{
		Name:      sourceName,
		URL:       repo,
		Directory: path,
	}
	r.Reference, _ = gitConfig["reference"].(string)
	r.Revision, _ = gitConfig["revision"].(string)
	if commit, ok := gitConfig["commit"].(string); ok && commit != "" {
		r.Revision = commit
	}
	r.Shallow, _ = gitConfig["shallow"].(bool)
	r.Submodules, _ = gitConfig["submodules"].(bool)

	if name, ok := gitConfig["credential"].(string); ok && name != "" {
		if provider == nil {
			return nil, fmt.Errorf("git config: credential %q requires a secret provider", name)
		}
		r.Credentials = &config.SecretRef{Name: name}
	}

	fingerprints, err := stringList(gitConfig["host_key_fingerprints"])
	if err != nil {
		return nil, fmt.Errorf("git config: 'host_key_fingerprints': %w", err)
	}

	executable, _ := gitConfig["executable"].(string)
	log := logging.NewNop()
	runner := gitcmd.NewNative(cmp.Or(executable, config.DefaultExecutable), log)
	local := sshproxy.NewLocal(config.DefaultListenAddress, sshproxy.HostKeyCallback(fingerprints, false), log)

	helper := internalgitsync.NewNativeHelper(runner, sshproxy.NewRegistry(local, log), log).WithTransportAdaptation(true)

	return &synchronizer{
		repo:       r,
		sourceName: sourceName,
		provider:   provider,
		runner:     runner,
		local:      local,
		helper:     helper,
	}, nil
}

type synchronizer struct {
	repo       *config.Repository
	sourceName string
	provider   SecretProvider
	runner     *gitcmd.Native
	local      *sshproxy.Local
	helper     internalgitsync.Helper
	checked    bool
	revision   string
}

// Execute fetches the configured reference and checks out the configured revision. The working directory
// is initialized first if it does not hold a repository.
func (s *synchronizer) Execute(ctx context.Context) error {
	if err := s.execute(ctx); err != nil {
		return fmt.Errorf("source %q: git synchronizer: %v: %w", s.sourceName, access.RedactURL(s.repo.URL), err)
	}
	return nil
}

func (s *synchronizer) execute(ctx context.Context) error {
	if !s.checked {
		if _, err := s.runner.CheckGit(ctx); err != nil {
			return err
		}
		s.checked = true
	}

	if err := service.PrepareWorkingDirectory(s.repo.Directory); err != nil {
		return err
	}

	var provider pkgsync.SecretProvider
	if s.repo.Credentials != nil {
		provider = s.provider
	}
	d, err := s.repo.Descriptor(ctx, provider)
	if err != nil {
		return err
	}

	if err := s.helper.Fetch(ctx, s.repo.Directory, d, s.repo.FetchReference(), s.repo.Shallow); err != nil {
		return err
	}

	rev, err := s.helper.Checkout(ctx, s.repo.Directory, s.repo.TargetRevision(), s.revision, s.repo.Submodules)
	if err != nil {
		return err
	}
	s.revision = rev
	return nil
}

// Close stops the ssh proxy, if one was started.
func (s *synchronizer) Close(context.Context) {
	_ = s.local.Close()
}

func stringList(v any) ([]string, error) {
	switch v := v.(type) {
	case nil:
		return nil, nil
	case []string:
		return v, nil
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			s, ok := e.(string)
			if !ok {
				return nil, fmt.Errorf("expected string, got %T", e)
			}
			out = append(out, s)
		}
		return out, nil
	}
	return nil, fmt.Errorf("expected list of strings, got %T", v)
}
