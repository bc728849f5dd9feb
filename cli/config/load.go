package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load reads a YAML config file, expands environment variables, and
// decodes it into a Config. Unknown keys are rejected.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &Error{Field: "--config", Msg: fmt.Sprintf("config file not found: %s", path)}
		}
		return nil, fmt.Errorf("cannot read config file %q: %w", path, err)
	}

	expanded, err := ExpandEnv(string(data))
	if err != nil {
		return nil, &Error{Field: "--config", Msg: fmt.Sprintf("%s: %v", path, err)}
	}

	var cfg Config
	dec := yaml.NewDecoder(strings.NewReader(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, &Error{Field: "--config", Msg: fmt.Sprintf("invalid YAML in %s: %v", path, err)}
	}

	return &cfg, nil
}
