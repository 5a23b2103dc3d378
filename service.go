package nimi

import (
	"path/filepath"
	"sort"
	"strings"
)

// Process is a service's process configuration: the argv used to run it.
type Process struct {
	// Argv is the non-empty ordered sequence of strings; Argv[0] is the
	// executable, the rest are its arguments.
	Argv []string `json:"argv"`
}

// ConfigDatum describes a single file to be staged into a service's
// materialised configuration directory.
type ConfigDatum struct {
	Enabled bool   `json:"enable"`
	Path    string `json:"path"`
	// Text is inline file content. Exactly one of Source or Text supplies
	// content; if both are present Source wins.
	Text *string `json:"text,omitempty"`
	// Source is an absolute path whose content is the file body.
	Source string `json:"source,omitempty"`
}

// Validate checks the ConfigDatum invariants from spec.md §3: Path is
// relative and contains no upward traversal.
func (d ConfigDatum) Validate(key string) error {
	if d.Path == "" {
		return configErrorf("configData[%q].path must not be empty", key)
	}
	if filepath.IsAbs(d.Path) {
		return configErrorf("configData[%q].path must be relative, got %q", key, d.Path)
	}
	clean := filepath.Clean(d.Path)
	if clean == ".." || strings.HasPrefix(clean, "../") {
		return configErrorf("configData[%q].path must not traverse upward, got %q", key, d.Path)
	}
	if d.Source == "" && (d.Text == nil || *d.Text == "") {
		return configErrorf("configData[%q] must supply one of source or text", key)
	}
	return nil
}

// hasSource reports whether Source is set, i.e. whether materialising this
// datum should symlink Source rather than write out Text.
func (d ConfigDatum) hasSource() bool {
	return d.Source != ""
}

// ConfigDataMap is the mapping from a logical key to a ConfigDatum. Key
// order is irrelevant to semantics but keys are used, sorted, as the
// canonical fingerprinting order.
type ConfigDataMap map[string]ConfigDatum

// sortedKeys returns the map's keys in sorted order, for fingerprinting.
// The materialiser's canonical serialisation does not use it; it relies on
// encoding/json's own map-key sorting.
func (m ConfigDataMap) sortedKeys() []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Service is a named unit of work: a process to run and the configuration
// files it should be able to read via XDG_CONFIG_HOME.
type Service struct {
	Process    Process       `json:"process"`
	ConfigData ConfigDataMap `json:"configData"`
}

// Validate checks the Service invariant from spec.md §3: Argv must have at
// least one element.
func (s Service) Validate(name string) error {
	if len(s.Process.Argv) == 0 {
		return configErrorf("service %q: process.argv must have at least one element", name)
	}
	for key, datum := range s.ConfigData {
		if err := datum.Validate(key); err != nil {
			return configErrorf("service %q: %w", name, err)
		}
	}
	return nil
}
