// Copyright 2026 The Parsec Go Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/parsec-cloud/go-parsec/lib/ref"
)

// Config is the full configuration of a parsec client daemon.
type Config struct {
	// Paths configures directory locations.
	Paths PathsConfig `yaml:"paths"`

	// Server configures the organization's server.
	Server ServerConfig `yaml:"server"`

	// Device configures the local device identity.
	Device DeviceConfig `yaml:"device"`

	// Sync configures the sync and poll cadence.
	Sync SyncConfig `yaml:"sync"`

	// Workspaces lists the realms this device synchronizes.
	Workspaces []WorkspaceConfig `yaml:"workspaces"`
}

// PathsConfig configures directory locations.
type PathsConfig struct {
	// Root is the base directory for local state: the certificate
	// ledger and one manifest database per workspace.
	Root string `yaml:"root"`
}

// ServerConfig configures the organization's server.
type ServerConfig struct {
	// URL is the server's base URL.
	URL string `yaml:"url"`
}

// DeviceConfig configures the local device identity.
type DeviceConfig struct {
	// Keyfile is the path of the encrypted device keyfile.
	Keyfile string `yaml:"keyfile"`

	// PassphraseEnv names the environment variable holding the
	// keyfile passphrase.
	PassphraseEnv string `yaml:"passphrase_env"`

	// PassphraseFile is the path of a file holding the passphrase.
	// Used when PassphraseEnv is unset or empty.
	PassphraseFile string `yaml:"passphrase_file"`
}

// SyncConfig configures the sync and poll cadence. Durations are Go
// duration strings ("10s", "1m").
type SyncConfig struct {
	// PollInterval is the certificate monitor's period. Default: 1m.
	PollInterval string `yaml:"poll_interval"`

	// SyncInterval is each workspace engine's period. Default: 10s.
	SyncInterval string `yaml:"sync_interval"`
}

// WorkspaceConfig names one synchronized realm.
type WorkspaceConfig struct {
	// Realm is the realm's UUID.
	Realm string `yaml:"realm"`

	// Name is the workspace's human name, used when this device
	// bootstraps the realm.
	Name string `yaml:"name"`
}

// RealmID returns the parsed realm id. Call only after Validate has
// accepted the configuration.
func (w WorkspaceConfig) RealmID() ref.RealmID {
	realm, _ := ref.ParseRealmID(w.Realm)
	return realm
}

// Default returns the base configuration merged under the loaded file.
// It exists to give every field a sensible zero value, not as a
// fallback: the config file is required.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	return &Config{
		Paths: PathsConfig{
			Root: filepath.Join(homeDir, ".local", "share", "parsec"),
		},
		Device: DeviceConfig{
			Keyfile:       "${PARSEC_ROOT}/device.keyfile",
			PassphraseEnv: "PARSEC_PASSPHRASE",
		},
		Sync: SyncConfig{
			PollInterval: "1m",
			SyncInterval: "10s",
		},
	}
}

// Load loads configuration from the PARSEC_CONFIG environment
// variable. There are no fallbacks or discovery: if PARSEC_CONFIG is
// not set, this fails.
func Load() (*Config, error) {
	configPath := os.Getenv("PARSEC_CONFIG")
	if configPath == "" {
		return nil, fmt.Errorf("PARSEC_CONFIG environment variable not set; " +
			"set it to the path of your parsec.yaml config file, or use --config flag")
	}
	return LoadFile(configPath)
}

// LoadFile loads configuration from a specific file path. The config
// file is the single source of truth; environment variables do not
// override its values. The only expansion performed is ${HOME} and
// ${PARSEC_ROOT} in paths, for portability.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	cfg.expandVariables()
	return cfg, nil
}

// expandVariables expands ${VAR} and ${VAR:-default} patterns in
// paths.
func (c *Config) expandVariables() {
	vars := map[string]string{
		"PARSEC_ROOT": c.Paths.Root,
		"HOME":        os.Getenv("HOME"),
	}

	c.Paths.Root = expandVars(c.Paths.Root, vars)
	vars["PARSEC_ROOT"] = c.Paths.Root // Update for dependent paths.

	c.Device.Keyfile = expandVars(c.Device.Keyfile, vars)
	c.Device.PassphraseFile = expandVars(c.Device.PassphraseFile, vars)
}

// expandVars expands ${VAR} and ${VAR:-default} patterns.
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

		// Check provided vars first, then environment.
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Paths.Root == "" {
		errs = append(errs, fmt.Errorf("paths.root is required"))
	}
	if c.Server.URL == "" {
		errs = append(errs, fmt.Errorf("server.url is required"))
	}
	if c.Device.Keyfile == "" {
		errs = append(errs, fmt.Errorf("device.keyfile is required"))
	}
	if c.Device.PassphraseEnv == "" && c.Device.PassphraseFile == "" {
		errs = append(errs, fmt.Errorf("one of device.passphrase_env or device.passphrase_file is required"))
	}

	if _, err := c.PollInterval(); err != nil {
		errs = append(errs, fmt.Errorf("sync.poll_interval: %w", err))
	}
	if _, err := c.SyncInterval(); err != nil {
		errs = append(errs, fmt.Errorf("sync.sync_interval: %w", err))
	}

	seen := make(map[ref.RealmID]bool, len(c.Workspaces))
	for i, workspace := range c.Workspaces {
		realm, err := ref.ParseRealmID(workspace.Realm)
		if err != nil {
			errs = append(errs, fmt.Errorf("workspaces[%d].realm: %w", i, err))
			continue
		}
		if seen[realm] {
			errs = append(errs, fmt.Errorf("workspaces[%d]: realm %s listed twice", i, realm))
		}
		seen[realm] = true
		if workspace.Name == "" {
			errs = append(errs, fmt.Errorf("workspaces[%d].name is required", i))
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// PollInterval returns the parsed certificate poll period.
func (c *Config) PollInterval() (time.Duration, error) {
	return parseDuration(c.Sync.PollInterval, time.Minute)
}

// SyncInterval returns the parsed workspace sync period.
func (c *Config) SyncInterval() (time.Duration, error) {
	return parseDuration(c.Sync.SyncInterval, 10*time.Second)
}

func parseDuration(raw string, fallback time.Duration) (time.Duration, error) {
	if raw == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("duration %q is not positive", raw)
	}
	return d, nil
}

// Passphrase resolves the keyfile passphrase from the configured
// source.
func (c *Config) Passphrase() ([]byte, error) {
	if c.Device.PassphraseEnv != "" {
		if value := os.Getenv(c.Device.PassphraseEnv); value != "" {
			return []byte(value), nil
		}
	}
	if c.Device.PassphraseFile != "" {
		raw, err := os.ReadFile(c.Device.PassphraseFile)
		if err != nil {
			return nil, fmt.Errorf("reading passphrase file: %w", err)
		}
		// A trailing newline is an editor artifact, not part of the
		// passphrase.
		for len(raw) > 0 && (raw[len(raw)-1] == '\n' || raw[len(raw)-1] == '\r') {
			raw = raw[:len(raw)-1]
		}
		return raw, nil
	}
	if c.Device.PassphraseEnv != "" {
		return nil, fmt.Errorf("environment variable %s is not set", c.Device.PassphraseEnv)
	}
	return nil, fmt.Errorf("no passphrase source configured")
}

// EnsurePaths creates the configured directories if they don't exist.
func (c *Config) EnsurePaths() error {
	if c.Paths.Root == "" {
		return nil
	}
	if err := os.MkdirAll(c.Paths.Root, 0o700); err != nil {
		return fmt.Errorf("creating %s: %w", c.Paths.Root, err)
	}
	return nil
}

// CertstorePath returns the path of the certificate ledger database.
func (c *Config) CertstorePath() string {
	return filepath.Join(c.Paths.Root, "certificates.sqlite")
}

// WorkspacePath returns the path of a workspace's manifest database.
func (c *Config) WorkspacePath(realm ref.RealmID) string {
	return filepath.Join(c.Paths.Root, "workspace-"+realm.String()+".sqlite")
}
