package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the operator-facing configuration for the gate runner. The
// workspace's own config/config.yaml is a bootstrap artifact and is only
// inspected, never parsed, by this subsystem.
type Config struct {
	WorkspaceRoot string       `yaml:"workspace_root"`
	Slug          string       `yaml:"slug"`
	PolicyPath    string       `yaml:"policy_path"`
	QaEvidence    string       `yaml:"qa_evidence"`
	LeaseTimeout  string       `yaml:"lease_timeout"`
	Mirror        MirrorConfig `yaml:"mirror"`
}

// MirrorConfig points at an optional central postgres ledger that receives a
// copy of every run and decision for fleet-wide audit queries.
type MirrorConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

const DefaultLeaseTimeout = 10 * time.Second

func Load(path string) (Config, error) {
	// #nosec G304 -- path is operator-provided config path.
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	expanded := os.ExpandEnv(string(raw))
	expanded = strings.ReplaceAll(expanded, "\r\n", "\n")

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	if c.WorkspaceRoot == "" {
		return fmt.Errorf("workspace_root is required")
	}
	if c.Slug == "" {
		return fmt.Errorf("slug is required")
	}
	if c.Mirror.Driver != "" && c.Mirror.Driver != "postgres" {
		return fmt.Errorf("mirror.driver %q is not supported", c.Mirror.Driver)
	}
	if c.Mirror.Driver != "" && c.Mirror.DSN == "" {
		return fmt.Errorf("mirror.dsn is required when mirror.driver is set")
	}
	if _, err := c.ParsedLeaseTimeout(); err != nil {
		return err
	}
	return nil
}

// ParsedLeaseTimeout returns the configured lease timeout, defaulted when
// absent.
func (c Config) ParsedLeaseTimeout() (time.Duration, error) {
	if c.LeaseTimeout == "" {
		return DefaultLeaseTimeout, nil
	}
	d, err := time.ParseDuration(c.LeaseTimeout)
	if err != nil {
		return 0, fmt.Errorf("lease_timeout: %w", err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("lease_timeout must be positive")
	}
	return d, nil
}
