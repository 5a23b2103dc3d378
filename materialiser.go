package nimi

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// materialise builds a deterministic per-service configuration directory of
// file-tree symlinks (or inline files) within tmpRoot, and returns its path.
//
// The directory name is content-addressed: it is a digest over the
// canonical JSON serialisation of the service's config-data map, so two
// services with equal config-data (by canonical serialisation) are
// materialised to the same path (spec.md §8, invariant 5) and
// materialising the same config-data twice is a no-op on the second call
// (spec.md §8, round-trip property).
//
// Grounded on lxcri/container.go's RuntimePath/ConfigFilePath addressing
// and create.go's os.MkdirAll idiom for directory creation. Inline files are
// written with os.WriteFile, which does not require the file to be new.
func materialise(tmpRoot string, configData ConfigDataMap) (string, error) {
	name, err := configDirName(configData)
	if err != nil {
		return "", err
	}
	dir := filepath.Join(tmpRoot, name)

	if _, err := os.Stat(dir); err == nil {
		return dir, nil
	} else if !os.IsNotExist(err) {
		return dir, errorf("failed to stat config dir %q: %w", dir, err)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return dir, errorf("failed to create config dir %q: %w", dir, err)
	}

	for key, datum := range configData {
		if !datum.Enabled {
			continue
		}
		target := filepath.Join(dir, filepath.Clean(datum.Path))
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return dir, errorf("failed to create parent dir for config datum %q: %w", key, err)
		}
		if datum.hasSource() {
			if err := os.Symlink(datum.Source, target); err != nil {
				return dir, errorf("failed to create symlink for config datum %q (path %q): %w", key, datum.Path, err)
			}
			continue
		}
		text := ""
		if datum.Text != nil {
			text = *datum.Text
		}
		if err := os.WriteFile(target, []byte(text), 0o644); err != nil {
			return dir, errorf("failed to write inline content for config datum %q (path %q): %w", key, datum.Path, err)
		}
	}

	return dir, nil
}

// configDirName computes the "nimi-config-<hex-digest>" directory name for
// the given config-data map.
func configDirName(configData ConfigDataMap) (string, error) {
	bytes, err := canonicalJSON(configData)
	if err != nil {
		return "", errorf("failed to serialise config data to canonical form: %w", err)
	}
	digest := sha256.Sum256(bytes)
	return fmt.Sprintf("nimi-config-%x", digest), nil
}

// canonicalJSON serialises a ConfigDataMap deterministically: keys sorted,
// field order fixed by struct definition. encoding/json already sorts map
// keys when marshalling, so a plain json.Marshal is canonical here.
func canonicalJSON(configData ConfigDataMap) ([]byte, error) {
	return json.Marshal(configData)
}
