package nimi

import (
	"os"

	"sigs.k8s.io/yaml"
)

// Config is the top-level configuration document described in spec.md §6.
type Config struct {
	Settings Settings           `json:"settings"`
	Services map[string]Service `json:"services"`
}

// LoadConfig reads and parses the configuration document at path.
//
// Parsing goes through sigs.k8s.io/yaml, which converts its input to JSON
// and then unmarshals using the json tags already required for the wire
// format in spec.md §6. Since every valid JSON document is valid YAML, this
// accepts the spec's JSON shape unchanged while additionally accepting YAML
// for operators who prefer it, without any duplicate struct tagging.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, configErrorf("failed to read config file %q: %w", path, err)
	}
	return ParseConfig(data)
}

// ParseConfig parses a configuration document from raw bytes (JSON or
// YAML) and validates it.
func ParseConfig(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.UnmarshalStrict(data, &cfg); err != nil {
		// UnmarshalStrict rejects duplicate keys and unknown fields. On any
		// strict failure the document is parsed again with the lenient
		// Unmarshal, so unknown fields (spec.md §6's forward-compatibility
		// requirement) and duplicate keys are both accepted in the end.
		if uerr := yaml.Unmarshal(data, &cfg); uerr != nil {
			return nil, configErrorf("failed to parse config document: %w", uerr)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks every invariant the document's Settings and Services
// must satisfy before it may be used to run services.
func (c Config) Validate() error {
	if err := c.Settings.Validate(); err != nil {
		return err
	}
	for name, svc := range c.Services {
		if err := svc.Validate(name); err != nil {
			return err
		}
	}
	return nil
}
