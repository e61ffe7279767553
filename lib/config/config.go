// Copyright 2026 The Aura Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/aura-foundation/aura/lib/encstore"
	"github.com/aura-foundation/aura/lib/rendezvous"
	"github.com/aura-foundation/aura/lib/threshold"
)

// Environment represents the deployment environment.
type Environment string

const (
	// Development is for local development machines.
	Development Environment = "development"
	// Staging is for pre-production testing.
	Staging Environment = "staging"
	// Production is for production deployments.
	Production Environment = "production"
)

// Config is the master configuration for an Aura node.
type Config struct {
	// Environment identifies the deployment type.
	Environment Environment `yaml:"environment" json:"environment"`

	// Paths configures directory locations.
	Paths PathsConfig `yaml:"paths" json:"paths"`

	// Storage configures the encrypted store.
	Storage encstore.Config `yaml:"storage" json:"storage"`

	// Identity configures the account's threshold signing key.
	Identity threshold.Config `yaml:"identity" json:"identity"`

	// Connection configures the rendezvous ladder.
	Connection rendezvous.ConnectionConfig `yaml:"connection" json:"connection"`

	// EnvironmentOverrides contains per-environment overrides, applied
	// after the base config is loaded.
	Development *Overrides `yaml:"development,omitempty" json:"development,omitempty"`
	Staging     *Overrides `yaml:"staging,omitempty" json:"staging,omitempty"`
	Production  *Overrides `yaml:"production,omitempty" json:"production,omitempty"`
}

// Overrides contains the sections that can be overridden per
// environment.
type Overrides struct {
	Paths      *PathsConfig                 `yaml:"paths,omitempty" json:"paths,omitempty"`
	Storage    *encstore.Config             `yaml:"storage,omitempty" json:"storage,omitempty"`
	Connection *rendezvous.ConnectionConfig `yaml:"connection,omitempty" json:"connection,omitempty"`
}

// PathsConfig configures directory locations.
type PathsConfig struct {
	// Root is the base directory for Aura data.
	Root string `yaml:"root" json:"root"`

	// State is where the encrypted store keeps its blobs.
	State string `yaml:"state" json:"state"`

	// Snapshots is where journal snapshot archives are written.
	Snapshots string `yaml:"snapshots" json:"snapshots"`
}

// Default returns the default configuration. These defaults exist to
// give every field a sensible value before the config file is merged
// in, not as a substitute for one; the file is required.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	root := filepath.Join(homeDir, ".local", "share", "aura")

	// Rungs that need servers stay off until the file names them.
	connection := rendezvous.DefaultConnectionConfig()
	connection.EnableSTUN = false
	connection.EnableHolePunch = false
	connection.EnableRelayFallback = false

	return &Config{
		Environment: Development,
		Paths: PathsConfig{
			Root:      root,
			State:     filepath.Join(root, "state"),
			Snapshots: filepath.Join(root, "snapshots"),
		},
		Storage:    encstore.DefaultConfig(),
		Identity:   threshold.Config{K: 2, N: 3},
		Connection: connection,
	}
}

// Load loads configuration from the file named by AURA_CONFIG.
func Load() (*Config, error) {
	path := os.Getenv("AURA_CONFIG")
	if path == "" {
		return nil, fmt.Errorf("AURA_CONFIG environment variable not set; " +
			"set it to the path of your aura.yaml config file, or use --config flag")
	}
	return LoadFile(path)
}

// LoadFile loads configuration from a specific file path. The file is
// the single source of truth: environment variables never override
// values, and the only expansion performed is ${HOME} and similar path
// variables.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	if err := cfg.mergeFile(path); err != nil {
		return nil, err
	}
	cfg.applyEnvironmentOverrides()
	cfg.expandVariables()
	return cfg, nil
}

// mergeFile merges one configuration file into the current config.
// JSON and JSONC files are stripped of comments and trailing commas
// first; YAML accepts the result either way.
func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonc":
		data = jsonc.ToJSON(data)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	return nil
}

// applyEnvironmentOverrides applies the section matching Environment.
func (c *Config) applyEnvironmentOverrides() {
	var overrides *Overrides
	switch c.Environment {
	case Development:
		overrides = c.Development
	case Staging:
		overrides = c.Staging
	case Production:
		overrides = c.Production
		// Production never tolerates plaintext blobs.
		c.Storage.AllowPlaintextRead = false
		c.Storage.MigrateOnRead = false
	}
	if overrides == nil {
		return
	}

	if overrides.Paths != nil {
		if overrides.Paths.Root != "" {
			c.Paths.Root = overrides.Paths.Root
		}
		if overrides.Paths.State != "" {
			c.Paths.State = overrides.Paths.State
		}
		if overrides.Paths.Snapshots != "" {
			c.Paths.Snapshots = overrides.Paths.Snapshots
		}
	}
	if overrides.Storage != nil {
		c.Storage = *overrides.Storage
		if c.Environment == Production {
			c.Storage.AllowPlaintextRead = false
			c.Storage.MigrateOnRead = false
		}
	}
	if overrides.Connection != nil {
		c.Connection = *overrides.Connection
	}
}

// expandVariables expands ${VAR} and ${VAR:-default} patterns in
// paths.
func (c *Config) expandVariables() {
	vars := map[string]string{
		"AURA_ROOT": c.Paths.Root,
		"HOME":      os.Getenv("HOME"),
	}

	c.Paths.Root = expandVars(c.Paths.Root, vars)
	vars["AURA_ROOT"] = c.Paths.Root // Dependent paths see the expansion.

	c.Paths.State = expandVars(c.Paths.State, vars)
	c.Paths.Snapshots = expandVars(c.Paths.Snapshots, vars)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}
		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate checks the configuration for errors. Section validation
// delegates to the owning packages.
func (c *Config) Validate() error {
	var errs []error

	if c.Environment != Development && c.Environment != Staging && c.Environment != Production {
		errs = append(errs, fmt.Errorf("invalid environment: %s", c.Environment))
	}
	if c.Paths.Root == "" {
		errs = append(errs, fmt.Errorf("paths.root is required"))
	}
	if c.Paths.State == "" {
		errs = append(errs, fmt.Errorf("paths.state is required"))
	}
	if err := c.Identity.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("identity: %w", err))
	}
	if err := c.Connection.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("connection: %w", err))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
