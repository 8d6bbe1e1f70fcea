package main

import (
	"bytes"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/google/go-cmp/cmp"

	"github.com/open-policy-agent/ocp-reposync/internal/config"
)

func requireGit(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not found in PATH")
	}
}

// newSourceRepo creates a repository with a single commit adding README.md and returns its path and commit.
func newSourceRepo(t *testing.T) (string, string) {
	t.Helper()

	dir := t.TempDir()
	repo, err := git.PlainInit(dir, false)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "README.md"), []byte("hello\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	wt, err := repo.Worktree()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := wt.Add("README.md"); err != nil {
		t.Fatal(err)
	}
	hash, err := wt.Commit("initial", &git.CommitOptions{
		Author: &object.Signature{Name: "test", Email: "test@example.com", When: time.Now()},
	})
	if err != nil {
		t.Fatal(err)
	}

	return dir, hash.String()
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()

	var stdout, stderr bytes.Buffer
	root := newRootCmd()
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetArgs(args)
	err := root.ExecuteContext(t.Context())
	return stdout.String(), stderr.String(), err
}

const listConfig = `
repositories:
  app:
    url: git@github.com:org/app.git
    directory: /tmp/app
    credentials: deploy-key
  docs:
    url: https://github.com/org/docs.git
    directory: /tmp/docs
    reference: main
  infra-prod:
    url: https://github.com/org/infra.git
    directory: /tmp/infra
    credentials: token
secrets:
  deploy-key: {type: ssh_key, key: dummy}
  token: {type: token_auth, token: dummy}
`

func TestValidate(t *testing.T) {
	out, _, err := execute(t, "validate", "-c", writeConfig(t, listConfig))
	if err != nil {
		t.Fatal(err)
	}
	if exp := "Configuration is valid (3 repositories, 2 secrets).\n"; out != exp {
		t.Fatalf("expected %q, got %q", exp, out)
	}

	if _, _, err := execute(t, "validate", "--log_level", "debug"); err != errNoConfig {
		t.Fatalf("expected %v, got %v", errNoConfig, err)
	}

	_, _, err = execute(t, "validate", "-c", writeConfig(t, "repositories: {a: {url: x}}\n"))
	if err == nil || !strings.Contains(err.Error(), "directory is required") {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestList(t *testing.T) {
	out, _, err := execute(t, "list", "-c", writeConfig(t, listConfig), "--only", "app", "--only", "infra-*")
	if err != nil {
		t.Fatal(err)
	}

	for _, exp := range []string{"git@github.com:org/app.git", "ssh_keypair", "https://github.com/org/infra.git", "password", "FETCH_HEAD"} {
		if !strings.Contains(out, exp) {
			t.Errorf("expected output to contain %q", exp)
		}
	}
	if strings.Contains(out, "docs") {
		t.Error("expected docs to be filtered out")
	}
	if t.Failed() {
		t.Log(out)
	}
}

func TestSelectRepositories(t *testing.T) {
	root, err := config.Parse([]byte(listConfig))
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		note     string
		patterns []string
		exp      []string
		err      string
	}{
		{note: "all", exp: []string{"app", "docs", "infra-prod"}},
		{note: "glob", patterns: []string{"*-prod"}, exp: []string{"infra-prod"}},
		{note: "several", patterns: []string{"docs", "a*"}, exp: []string{"app", "docs"}},
		{note: "no match", patterns: []string{"web"}, err: "no repositories match"},
		{note: "bad pattern", patterns: []string{"[a"}, err: "invalid pattern"},
	}

	for _, tc := range tests {
		t.Run(tc.note, func(t *testing.T) {
			repos, err := selectRepositories(root, tc.patterns)
			if tc.err != "" {
				if err == nil || !strings.Contains(err.Error(), tc.err) {
					t.Fatalf("expected error containing %q, got %v", tc.err, err)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}

			var names []string
			for _, r := range repos {
				names = append(names, r.Name)
			}
			if diff := cmp.Diff(tc.exp, names); diff != "" {
				t.Fatalf("unexpected selection (-want +got):\n%s", diff)
			}
		})
	}
}

func TestSchema(t *testing.T) {
	out, _, err := execute(t, "schema")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, `"repositories"`) {
		t.Fatalf("unexpected schema output:\n%s", out)
	}
}

func TestSync(t *testing.T) {
	requireGit(t)

	src, commit := newSourceRepo(t)
	work := filepath.Join(t.TempDir(), "work")

	cfg := writeConfig(t, "repositories:\n  app:\n    url: file://"+src+"\n    directory: "+work+"\n    shallow: true\n")
	out, stderr, err := execute(t, "sync", "-c", cfg, "--no-progress", "--jobs", "2")
	if err != nil {
		t.Fatalf("sync failed: %v\n%s", err, stderr)
	}

	if !strings.Contains(out, "SUCCESS") || !strings.Contains(out, commit) || !strings.Contains(out, "Sync complete.") {
		t.Fatalf("unexpected output:\n%s", out)
	}

	bs, err := os.ReadFile(filepath.Join(work, "README.md"))
	if err != nil {
		t.Fatal(err)
	}
	if string(bs) != "hello\n" {
		t.Fatalf("unexpected content %q", bs)
	}
}

func TestSyncFailure(t *testing.T) {
	requireGit(t)

	work := filepath.Join(t.TempDir(), "work")
	cfg := writeConfig(t, "repositories:\n  missing:\n    url: file://"+filepath.Join(t.TempDir(), "nope")+"\n    directory: "+work+"\n")

	out, _, err := execute(t, "sync", "-c", cfg, "--no-progress")
	if err == nil || err.Error() != "1 of 1 repositories failed to sync" {
		t.Fatalf("expected sync failure, got %v", err)
	}
	if !strings.Contains(out, "FETCH_FAILED") {
		t.Fatalf("unexpected output:\n%s", out)
	}
}

func TestFetchAndCheckout(t *testing.T) {
	requireGit(t)

	src, commit := newSourceRepo(t)
	work := filepath.Join(t.TempDir(), "work")

	if _, stderr, err := execute(t, "fetch", "--url", "file://"+src, "--dir", work, "--init", "--auth", "NONE"); err != nil {
		t.Fatalf("fetch failed: %v\n%s", err, stderr)
	}

	out, stderr, err := execute(t, "checkout", "--dir", work)
	if err != nil {
		t.Fatalf("checkout failed: %v\n%s", err, stderr)
	}
	if strings.TrimSpace(out) == "" {
		t.Fatal("expected the checked out revision")
	}

	repo, err := git.PlainOpen(work)
	if err != nil {
		t.Fatal(err)
	}
	head, err := repo.Head()
	if err != nil {
		t.Fatal(err)
	}
	if head.Hash().String() != commit {
		t.Fatalf("expected HEAD %s, got %s", commit, head.Hash())
	}
}

func TestFetchFlags(t *testing.T) {
	tests := []struct {
		note string
		args []string
		exp  string
	}{
		{note: "missing url", args: []string{"fetch"}, exp: `required flag(s) "url" not set`},
		{note: "unknown auth", args: []string{"fetch", "--url", "https://example.com/r.git", "--auth", "kerberos"}, exp: "kerberos"},
		{note: "ssh without key", args: []string{"fetch", "--url", "git@example.com:r.git", "--auth", "ssh"}, exp: "ssh key"},
		{note: "unreadable key", args: []string{"fetch", "--url", "git@example.com:r.git", "--auth", "ssh_keypair", "--key-file", "/does/not/exist"}, exp: "read key file"},
	}

	for _, tc := range tests {
		t.Run(tc.note, func(t *testing.T) {
			_, _, err := execute(t, tc.args...)
			if err == nil || !strings.Contains(err.Error(), tc.exp) {
				t.Fatalf("expected error containing %q, got %v", tc.exp, err)
			}
		})
	}
}
