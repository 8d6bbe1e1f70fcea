//go:generate go run ../build/gen-config-schema.go schema.json

// Package config holds the JSON schema of the reposync configuration file. The schema is generated from
// the configuration types in internal/config and embedded so both validation and `reposync schema` use
// the same document.
package config

import (
	_ "embed"
)

//go:embed "schema.json"
var schema []byte

// Schema returns the JSON schema of the configuration file.
func Schema() []byte {
	return schema
}
