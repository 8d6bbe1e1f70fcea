package main

import (
	"fmt"

	"github.com/gobwas/glob"

	"github.com/open-policy-agent/ocp-reposync/internal/config"
)

// selectRepositories returns the repositories whose names match any of the patterns, in name order. No
// patterns select everything.
func selectRepositories(root *config.Root, patterns []string) ([]*config.Repository, error) {
	globs := make([]glob.Glob, 0, len(patterns))
	for _, p := range patterns {
		g, err := glob.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid pattern %q: %w", p, err)
		}
		globs = append(globs, g)
	}

	var repos []*config.Repository
	for _, repo := range root.SortedRepositories() {
		if len(globs) == 0 || matchAny(globs, repo.Name) {
			repos = append(repos, repo)
		}
	}

	if len(patterns) > 0 && len(repos) == 0 {
		return nil, fmt.Errorf("no repositories match %v", patterns)
	}

	return repos, nil
}

func matchAny(globs []glob.Glob, name string) bool {
	for _, g := range globs {
		if g.Match(name) {
			return true
		}
	}
	return false
}
