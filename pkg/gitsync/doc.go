// Package gitsync keeps a local working copy of a git repository in sync for projects embedding
// ocp-reposync.
//
// Every Execute fetches the configured reference with the external git client and forcibly checks out the
// configured revision (FETCH_HEAD by default). Credentials are looked up by name through a SecretProvider:
//   - GitHub App (short-lived installation tokens)
//   - Personal Access Tokens ("token_auth")
//   - SSH keys, tunneled through a local ssh proxy
//   - Basic HTTP authentication
//
// Example usage:
//
//	gitConfig := map[string]any{
//	    "repo":       "git@github.com:myorg/policies.git",
//	    "reference":  "main",
//	    "credential": "deploy-key",
//	}
//	syncer, err := gitsync.NewFromGitConfig("/path/to/clone", gitConfig, "my-source", provider)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer syncer.Close(ctx)
//	err = syncer.Execute(ctx)
//
// Thread Safety: Synchronizer instances are NOT thread-safe. Each instance should
// be used by a single goroutine. Create separate instances for concurrent operations.
package gitsync
