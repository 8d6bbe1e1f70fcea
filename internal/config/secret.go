package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"reflect"

	"github.com/go-viper/mapstructure/v2"
	"github.com/goccy/go-yaml"
	"github.com/swaggest/jsonschema-go"

	"github.com/open-policy-agent/ocp-reposync/internal/access"
	pkgsync "github.com/open-policy-agent/ocp-reposync/pkg/sync"
)

// tokenUsername is the user name sent along with tokens. Git hosting services ignore it for token
// authentication but git requires one to be present.
const tokenUsername = "x-access-token"

// Secret defines credentials used to access repositories.
//
// Each secret is stored as a map of key-value pairs. Secret type is also declared in the config.
// For example, a secret for basic HTTP authentication might look like this (in YAML):
//
// my_secret:
//
//	type: basic_auth
//	username: myuser
//	password: mypassword
//
// Secrets may also refer to environment variables using the ${VAR_NAME} syntax. For example:
//
// deploy_key:
//
//	type: ssh_key
//	key: ${DEPLOY_KEY}
//	passphrase: ${DEPLOY_KEY_PASSPHRASE}
//
// Currently the following secret types are supported:
//
//   - "basic_auth" for HTTP basic authentication. Values for keys "username" and "password" are expected.
//   - "github_app_auth" for GitHub App authentication. Values for keys "integration_id", "installation_id", and "private_key" are expected.
//     "private_key" is either a PEM encoded key or the path of a file holding one.
//   - "password" for password authentication. Value for key "password" is expected.
//   - "ssh_key" for SSH private key authentication. Value for key "key" (private key) is expected. "fingerprints" (string array) and "passphrase" are optional.
//   - "token_auth" for HTTP token authentication. Value for a key "token" is expected.
type Secret struct {
	Name  string         `json:"-"`
	Value map[string]any `json:"-"`
}

func (s *Secret) Ref() *SecretRef {
	return &SecretRef{Name: s.Name, value: s}
}

func (*Secret) PrepareJSONSchema(schema *jsonschema.Schema) error {
	schema.Type = nil
	schema.AddType(jsonschema.Object)
	return nil
}

func (s *Secret) MarshalYAML() (any, error) {
	if len(s.Value) == 0 {
		return map[string]any{}, nil
	}
	return s.Value, nil
}

func (s *Secret) MarshalJSON() ([]byte, error) {
	v, err := s.MarshalYAML()
	if err != nil {
		return nil, err
	}

	return json.Marshal(v)
}

func (s *Secret) UnmarshalYAML(bs []byte) error {
	if err := yaml.Unmarshal(bs, &s.Value); err != nil {
		return fmt.Errorf("expected mapping node: %w", err)
	}
	return nil
}

func (s *Secret) UnmarshalJSON(bs []byte) error {
	return json.Unmarshal(bs, &s.Value)
}

func (s *Secret) Equal(other *Secret) bool {
	if s == other {
		return true
	}
	if s == nil || other == nil {
		return false
	}
	return s.Name == other.Name && reflect.DeepEqual(s.Value, other.Value)
}

// get retrieves the values from any external source as necessary.
// NB: only environment variables are supported as external source so far.
func (s *Secret) get() map[string]any {
	value := make(map[string]any, len(s.Value))

	for k, v := range s.Value {
		switch v := v.(type) {
		case string:
			value[k] = os.ExpandEnv(v)
		default: // Keep non-string values as is
			value[k] = v
		}
	}

	return value
}

func (s *Secret) Typed(context.Context) (any, error) {
	m := s.get()
	if len(m) == 0 {
		return nil, fmt.Errorf("secret %q is not configured", s.Name)
	}

	switch m["type"] {
	case "github_app_auth":
		var value SecretGitHubApp
		if err := decode(m, &value); err != nil {
			return nil, err
		} else if value.IntegrationID == 0 || value.InstallationID == 0 || value.PrivateKey == "" {
			return nil, errors.New("missing integration_id, installation_id or private_key in GitHub App secret")
		}

		return value, nil

	case "ssh_key":
		var value SecretSSHKey
		if err := decode(m, &value); err != nil {
			return nil, err
		} else if value.Key == "" {
			return nil, errors.New("missing key in SSH secret")
		}

		return value, nil

	case "basic_auth":
		var value SecretBasicAuth
		if err := decode(m, &value); err != nil {
			return nil, err
		}

		return value, nil

	case "token_auth":
		var value SecretTokenAuth
		if err := decode(m, &value); err != nil {
			return nil, err
		} else if value.Token == "" {
			return nil, errors.New("missing token in token secret")
		}

		return value, nil

	case "password":
		var value SecretPassword
		if err := decode(m, &value); err != nil {
			return nil, err
		}

		return value, nil

	default:
		return nil, fmt.Errorf("unknown secret type %q", s.Value["type"])
	}
}

type SecretGitHubApp struct {
	IntegrationID  int64  `json:"integration_id"`
	InstallationID int64  `json:"installation_id"`
	PrivateKey     string `json:"private_key"` // Private key as PEM, or path to a PEM file.
}

type SecretSSHKey struct {
	Key          string   `json:"key"`                    // Private key as PEM.
	Passphrase   string   `json:"passphrase,omitempty"`   // Optional passphrase for the private key.
	Fingerprints []string `json:"fingerprints,omitempty"` // Optional SSH host key fingerprints.
}

type SecretBasicAuth struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type SecretTokenAuth struct {
	Token string `json:"token"`
}

type SecretPassword struct {
	Password string `json:"password"`
}

// SecretRef names a secret in the configuration.
type SecretRef struct {
	Name  string `json:"-"`
	value *Secret
}

// Resolve retrieves the secret value from the secret store. If the secret is not found, an error is returned.
// If the secret is found, it returns the typed value, e.g. SecretSSHKey.
func (s *SecretRef) Resolve(ctx context.Context) (any, error) {
	if s.value == nil {
		return nil, fmt.Errorf("secret %q not found", s.Name)
	}

	return s.value.Typed(ctx)
}

func (s *SecretRef) MarshalYAML() (any, error) {
	if s.Name == "" {
		return nil, nil
	}
	return s.Name, nil
}

func (s *SecretRef) MarshalJSON() ([]byte, error) {
	v, err := s.MarshalYAML()
	if err != nil {
		return nil, err
	}

	return json.Marshal(v)
}

func (s *SecretRef) UnmarshalYAML(bs []byte) error {
	if err := yaml.Unmarshal(bs, &s.Name); err != nil {
		return fmt.Errorf("expected scalar node: %w", err)
	}
	return nil
}

func (s *SecretRef) UnmarshalJSON(bs []byte) error {
	if err := json.Unmarshal(bs, &s.Name); err != nil {
		return fmt.Errorf("failed to unmarshal SecretRef: %w", err)
	}

	return nil
}

// Descriptor resolves the repository's credentials into an access descriptor. With a non-nil provider the
// credentials are looked up there instead of in the configuration.
func (r *Repository) Descriptor(ctx context.Context, provider pkgsync.SecretProvider) (access.Descriptor, error) {
	d := access.Descriptor{
		RepositoryURL:  r.URL,
		CommandTimeout: r.Timeout(),
		VerboseLogs:    r.VerboseLogs,
	}

	if r.Credentials == nil {
		return d, nil
	}

	var typed any
	var err error
	if provider != nil {
		var m map[string]any
		m, err = provider.GetSecret(ctx, r.Credentials.Name)
		if err != nil {
			return access.Descriptor{}, fmt.Errorf("repository %q: %w", r.Name, err)
		}
		typed, err = (&Secret{Name: r.Credentials.Name, Value: m}).Typed(ctx)
	} else {
		typed, err = r.Credentials.Resolve(ctx)
	}
	if err != nil {
		return access.Descriptor{}, fmt.Errorf("repository %q: %w", r.Name, err)
	}

	switch value := typed.(type) {
	case SecretBasicAuth:
		d.Mode = access.Password
		d.Username = value.Username
		d.Password = value.Password

	case SecretPassword:
		d.Mode = access.Password
		d.Password = value.Password

	case SecretTokenAuth:
		d.Mode = access.Password
		d.Username = tokenUsername
		d.Password = value.Token

	case SecretGitHubApp:
		token, err := githubApps.Token(ctx, value)
		if err != nil {
			return access.Descriptor{}, fmt.Errorf("repository %q: github app token: %w", r.Name, err)
		}
		d.Mode = access.Password
		d.Username = tokenUsername
		d.Password = token

	case SecretSSHKey:
		d.Mode = access.SSHKeypair
		d.SSHKey = value.Key
		d.SSHPassphrase = value.Passphrase

	default:
		return access.Descriptor{}, fmt.Errorf("repository %q: unsupported credential type %T", r.Name, typed)
	}

	return d, nil
}

// AccessMode reports the mode the repository's credentials resolve to without contacting any token issuer.
func (r *Repository) AccessMode() access.Mode {
	if r.Credentials == nil || r.Credentials.value == nil {
		return access.None
	}
	if r.Credentials.value.Value["type"] == "ssh_key" {
		return access.SSHKeypair
	}
	return access.Password
}

// we use this one so we don't need duplicate tags on every struct
func decode(input any, output any) error {
	config := &mapstructure.DecoderConfig{
		TagName:          "json",
		Metadata:         nil,
		Result:           output,
		WeaklyTypedInput: true, // ids expanded from environment variables arrive as strings
	}

	decoder, err := mapstructure.NewDecoder(config)
	if err != nil {
		return err
	}

	return decoder.Decode(input)
}
