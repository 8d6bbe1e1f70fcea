package config

import (
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"os"
	"path/filepath"
	"reflect"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// configExtensions are the files picked up when a directory is given to Merge.
var configExtensions = []string{".yaml", ".yml", ".json"}

// Merge reads the given configuration files and directories and merges them into one YAML document.
// Directories are walked in lexical order and contribute every .yaml, .yml and .json file; files named
// explicitly are always read. Later documents extend earlier ones: maps are merged key by key, any other
// value replaces the previous one. With conflictError set, replacing a different value is an error
// naming both files.
func Merge(configFiles []string, conflictError bool) ([]byte, error) {
	var paths []string
	for _, f := range configFiles {
		found, err := configPaths(f)
		if err != nil {
			return nil, err
		}
		paths = append(paths, found...)
	}

	m := merger{conflictError: conflictError, origin: make(map[string]string)}
	merged := make(map[string]any)

	for _, f := range paths {
		bs, err := os.ReadFile(f)
		if err != nil {
			return nil, fmt.Errorf("failed to read configuration file %v: %w", f, err)
		}

		var doc map[string]any
		if err := yaml.Unmarshal(bs, &doc); err != nil {
			return nil, fmt.Errorf("failed to unmarshal configuration file %v: %w", f, err)
		}
		if len(doc) == 0 {
			continue
		}

		if err := m.merge(merged, doc, "", f); err != nil {
			return nil, err
		}
	}

	bs, err := yaml.Marshal(merged)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal merged configuration: %w", err)
	}

	return bs, nil
}

func configPaths(root string) ([]string, error) {
	fi, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !fi.IsDir() {
		return []string{root}, nil
	}

	var paths []string
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if slices.Contains(configExtensions, strings.ToLower(filepath.Ext(path))) {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, errors.New("no configuration files found in " + root)
	}

	return paths, nil
}

// merger remembers which file set each leaf so conflicts can name both sides.
type merger struct {
	conflictError bool
	origin        map[string]string
}

func (m *merger) merge(dst, src map[string]any, path, file string) error {
	for _, key := range slices.Sorted(maps.Keys(src)) { // Sort keys to ensure deterministic merge errors.
		value := src[key]
		p := path + "/" + key

		if existing, ok := dst[key]; ok {
			if existingMap, ok1 := existing.(map[string]any); ok1 {
				if valueMap, ok2 := value.(map[string]any); ok2 {
					if err := m.merge(existingMap, valueMap, p, file); err != nil {
						return err
					}
					continue
				}
			}

			if m.conflictError && !reflect.DeepEqual(existing, value) {
				return fmt.Errorf("conflict for config path %s (%s, %s)", p, m.origin[p], file)
			}
		}

		dst[key] = value
		m.mark(value, p, file)
	}

	return nil
}

func (m *merger) mark(value any, path, file string) {
	m.origin[path] = file
	if vm, ok := value.(map[string]any); ok {
		for k, v := range vm {
			m.mark(v, path+"/"+k, file)
		}
	}
}
