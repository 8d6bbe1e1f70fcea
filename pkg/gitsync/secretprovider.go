package gitsync

import pkgsync "github.com/open-policy-agent/ocp-reposync/pkg/sync"

// SecretProvider is re-exported from pkg/sync for convenience.
type SecretProvider = pkgsync.SecretProvider
