package config

import (
	"fmt"
	"time"
)

// Config represents a testpipe.yaml configuration file.
// All values are optional and act as defaults for testpipe run flags.
// CLI flags always override config values.
type Config struct {
	Executable      string         `yaml:"executable"`
	Args            []string       `yaml:"args,omitempty"`
	WorkingDir      string         `yaml:"working_dir"`
	BatchCount      *int           `yaml:"batch_count"`
	ShardCount      *int           `yaml:"shard_count"`
	MaxParallel     int            `yaml:"max_parallel"`
	Filter          string         `yaml:"filter"`
	Report          string         `yaml:"report"`
	ResultsOut      string         `yaml:"results_out"`
	MetricsTextfile string         `yaml:"metrics_textfile"`
	LogLevel        string         `yaml:"log_level"`
	Protocol        ProtocolConfig `yaml:"protocol"`
	Adapter         AdapterConfig  `yaml:"adapter"`
}

// ProtocolConfig holds wire protocol settings.
type ProtocolConfig struct {
	// StrictVersion aborts a run when version negotiation finds no
	// common version. Otherwise a warning is logged.
	StrictVersion bool `yaml:"strict_version"`
}

// AdapterConfig holds adapter defaults from the config file.
type AdapterConfig struct {
	Type    string            `yaml:"type"`
	URL     string            `yaml:"url"`
	Channel string            `yaml:"channel,omitempty"`
	Headers map[string]string `yaml:"headers,omitempty"`
	Timeout Duration          `yaml:"timeout,omitempty"`
	Retries *int              `yaml:"retries,omitempty"`
}

// Duration wraps time.Duration for YAML string parsing (e.g. "10s", "5m").
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a duration string like "10s" or "5m30s".
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}
