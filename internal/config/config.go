package config

import (
	"cmp"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"os"
	"sort"
	"time"

	"github.com/goccy/go-yaml"

	"github.com/open-policy-agent/ocp-reposync/internal/access"
	"github.com/open-policy-agent/ocp-reposync/internal/logging"
)

// Internal configuration data structures for ocp-reposync.

const (
	DefaultExecutable    = "git"
	DefaultStrategy      = "native"
	DefaultListenAddress = "127.0.0.1:0"
	DefaultRevision      = "FETCH_HEAD"
	DefaultInterval      = Duration(time.Minute)
)

// Root is the top-level configuration structure used by ocp-reposync.
type Root struct {
	Git          *Git                   `json:"git,omitempty"`
	Proxy        *Proxy                 `json:"proxy,omitempty"`
	Logging      *Logging               `json:"logging,omitempty"`
	Repositories map[string]*Repository `json:"repositories,omitempty"`
	Secrets      map[string]*Secret     `json:"secrets,omitempty"` // Schema validation overrides Secret to object type.

	_ struct{} `additionalProperties:"false"`
}

// UnmarshalYAML implements the yaml.Unmarshaler interface for the Root struct. Repositories and secrets are
// mappings keyed by name; the names are copied into the values and secret references are linked to the
// secrets they name.
func (r *Root) UnmarshalYAML(bs []byte) error {
	type rawRoot Root // avoid recursive calls to UnmarshalYAML by type aliasing
	var raw rawRoot

	if err := yaml.Unmarshal(bs, &raw); err != nil {
		return fmt.Errorf("failed to decode Root: %w", err)
	}

	*r = Root(raw)
	return r.Unmarshal()
}

func (r *Root) UnmarshalJSON(bs []byte) error {
	type rawRoot Root
	var raw rawRoot

	if err := json.Unmarshal(bs, &raw); err != nil {
		return fmt.Errorf("failed to decode Root: %w", err)
	}

	*r = Root(raw)
	return r.Unmarshal()
}

// Unmarshal links names and secret references and fills in defaults. It is idempotent.
func (r *Root) Unmarshal() error {
	for name := range r.Secrets {
		r.Secrets[name] = cmp.Or(r.Secrets[name], &Secret{})
		r.Secrets[name].Name = name
	}

	for name := range r.Repositories {
		r.Repositories[name] = cmp.Or(r.Repositories[name], &Repository{})
		r.Repositories[name].Name = name
		if ref := r.Repositories[name].Credentials; ref != nil {
			ref.value = r.Secrets[ref.Name]
		}
	}

	r.Git = cmp.Or(r.Git, &Git{})
	r.Git.Executable = cmp.Or(r.Git.Executable, DefaultExecutable)
	r.Git.Strategy = cmp.Or(r.Git.Strategy, DefaultStrategy)

	r.Proxy = cmp.Or(r.Proxy, &Proxy{})
	r.Proxy.ListenAddress = cmp.Or(r.Proxy.ListenAddress, DefaultListenAddress)

	r.Logging = cmp.Or(r.Logging, &Logging{})
	r.Logging.Level = cmp.Or(r.Logging.Level, string(logging.LevelInfo))
	r.Logging.Format = cmp.Or(r.Logging.Format, string(logging.FormatText))

	return nil
}

// Validate checks cross references the schema cannot express.
func (r *Root) Validate() error {
	var errs []error
	directories := make(map[string]string, len(r.Repositories))

	for _, repo := range r.SortedRepositories() {
		if repo.URL == "" {
			errs = append(errs, fmt.Errorf("repository %q: url is required", repo.Name))
		}
		if repo.Directory == "" {
			errs = append(errs, fmt.Errorf("repository %q: directory is required", repo.Name))
		} else if other, ok := directories[repo.Directory]; ok {
			errs = append(errs, fmt.Errorf("repository %q: directory %q already used by repository %q", repo.Name, repo.Directory, other))
		} else {
			directories[repo.Directory] = repo.Name
		}
		if repo.Credentials != nil && repo.Credentials.value == nil {
			errs = append(errs, fmt.Errorf("repository %q: secret %q not found", repo.Name, repo.Credentials.Name))
		}
	}

	return errors.Join(errs...)
}

func (r *Root) SortedRepositories() iter.Seq2[int, *Repository] {
	return iterator(r.Repositories, func(repo *Repository) string { return repo.Name })
}

func (r *Root) SortedSecrets() iter.Seq2[int, *Secret] {
	return iterator(r.Secrets, func(s *Secret) string { return s.Name })
}

// HostKeyFingerprints returns the upstream host key fingerprints the ssh proxy accepts: the configured ones
// plus those listed by ssh_key secrets. An empty result means the well-known fingerprints apply.
func (r *Root) HostKeyFingerprints() []string {
	var fps []string
	if r.Proxy != nil {
		fps = append(fps, r.Proxy.HostKeyFingerprints...)
	}
	for _, s := range r.SortedSecrets() {
		if s.Value["type"] != "ssh_key" {
			continue
		}
		var value SecretSSHKey
		if err := decode(s.Value, &value); err == nil {
			fps = append(fps, value.Fingerprints...)
		}
	}
	return fps
}

func iterator[V any](m map[string]V, name func(V) string) func(func(int, V) bool) {
	names := make([]string, 0, len(m))
	for _, v := range m {
		names = append(names, name(v))
	}

	sort.Strings(names)

	return func(yield func(int, V) bool) {
		for i, name := range names {
			if !yield(i, m[name]) {
				return
			}
		}
	}
}

// Validate validates a configuration document against the embedded JSON schema.
func Validate(data []byte) error {
	var config any
	if err := yaml.Unmarshal(data, &config); err != nil {
		return err
	}

	return rootSchema.Validate(config)
}

// Git configures how the external git client is driven.
type Git struct {
	Executable string `json:"executable,omitempty"`
	SSHCommand string `json:"ssh_command,omitempty"`
	Strategy   string `json:"strategy,omitempty" enum:"native"`
	// TransportAdaptation turns proxy tunneling and credential embedding on or off. Defaults to on.
	TransportAdaptation *bool    `json:"transport_adaptation,omitempty"`
	CommandTimeout      Duration `json:"command_timeout,omitzero"`

	_ struct{} `additionalProperties:"false"`
}

func (g *Git) AdaptTransport() bool {
	return g == nil || g.TransportAdaptation == nil || *g.TransportAdaptation
}

// Proxy configures the local ssh proxy tunneled ssh traffic goes through.
type Proxy struct {
	ListenAddress       string   `json:"listen_address,omitempty"`
	HostKeyFingerprints []string `json:"host_key_fingerprints,omitempty"`
	InsecureHostKey     bool     `json:"insecure_ignore_host_key,omitempty"`

	_ struct{} `additionalProperties:"false"`
}

type Logging struct {
	Level  string `json:"level,omitempty" enum:"debug,info,warn,error"`
	Format string `json:"format,omitempty" enum:"text,json"`

	_ struct{} `additionalProperties:"false"`
}

// Repository defines a repository kept in sync in a local working directory.
type Repository struct {
	Name           string     `json:"-"`
	URL            string     `json:"url"`
	Directory      string     `json:"directory"`
	Reference      string     `json:"reference,omitempty"`
	Revision       string     `json:"revision,omitempty"`
	Shallow        bool       `json:"shallow,omitempty"`
	Submodules     bool       `json:"submodules,omitempty"`
	CommandTimeout Duration   `json:"command_timeout,omitzero"`
	VerboseLogs    bool       `json:"verbose_logs,omitempty"`
	Credentials    *SecretRef `json:"credentials,omitempty"` // If nil, the repository is accessed anonymously. Note, JSON schema validation overrides this to string type.
	Interval       Duration   `json:"interval,omitzero"`

	_ struct{} `additionalProperties:"false"`
}

// FetchReference returns the refspec to fetch. Environment variables are expanded.
func (r *Repository) FetchReference() string {
	return os.ExpandEnv(r.Reference)
}

// TargetRevision returns the revision checked out after a fetch. Environment variables are expanded.
func (r *Repository) TargetRevision() string {
	return cmp.Or(os.ExpandEnv(r.Revision), DefaultRevision)
}

func (r *Repository) SyncInterval() time.Duration {
	return time.Duration(cmp.Or(r.Interval, DefaultInterval))
}

func (r *Repository) Timeout() time.Duration {
	return time.Duration(cmp.Or(r.CommandTimeout, Duration(access.DefaultCommandTimeout)))
}

// Instead of marshaling and unmarshaling as int64 it uses strings, like "5m" or "0.5s".
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	val, err := time.ParseDuration(str)
	*d = Duration(val)
	return err
}

func (d *Duration) UnmarshalYAML(bs []byte) error {
	var s string
	if err := yaml.Unmarshal(bs, &s); err != nil {
		return err
	}
	val, err := time.ParseDuration(s)
	*d = Duration(val)
	return err
}

func (d Duration) String() string {
	return time.Duration(d).String()
}

func ParseFile(filename string) (root *Root, err error) {
	bs, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", filename, err)
	}

	return Parse(bs)
}

func Parse(bs []byte) (*Root, error) {
	if err := Validate(bs); err != nil {
		return nil, err
	}

	var root Root
	if err := yaml.Unmarshal(bs, &root); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := root.Unmarshal(); err != nil {
		return nil, err
	}

	if err := root.Validate(); err != nil {
		return nil, err
	}

	return &root, nil
}
