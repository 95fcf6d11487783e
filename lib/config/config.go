// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// Environment represents the deployment environment.
type Environment string

const (
	// Development is for local development with relaxed settings.
	Development Environment = "development"
	// Staging is for testing with production-like settings.
	Staging Environment = "staging"
	// Production is for deployed systems with strict settings.
	Production Environment = "production"
)

// Backend names accepted in core.backend.
const (
	BackendEmulated = "emulated"
	BackendHardware = "hardware"
)

// Config is the root configuration structure.
type Config struct {
	// Environment determines which override section applies.
	Environment Environment `yaml:"environment"`

	Paths    PathsConfig    `yaml:"paths"`
	Core     CoreConfig     `yaml:"core"`
	Bus      BusConfig      `yaml:"bus"`
	Mailbox  MailboxConfig  `yaml:"mailbox"`
	KeyStore KeyStoreConfig `yaml:"keystore"`
	Auth     AuthConfig     `yaml:"auth"`
	Metrics  MetricsConfig  `yaml:"metrics"`

	// Environment-specific overrides.
	Development *ConfigOverrides `yaml:"development,omitempty"`
	Staging     *ConfigOverrides `yaml:"staging,omitempty"`
	Production  *ConfigOverrides `yaml:"production,omitempty"`
}

// ConfigOverrides contains environment-specific configuration overrides.
type ConfigOverrides struct {
	Paths    *PathsConfig    `yaml:"paths,omitempty"`
	Core     *CoreConfig     `yaml:"core,omitempty"`
	Bus      *BusConfig      `yaml:"bus,omitempty"`
	Mailbox  *MailboxConfig  `yaml:"mailbox,omitempty"`
	KeyStore *KeyStoreConfig `yaml:"keystore,omitempty"`
	Auth     *AuthConfig     `yaml:"auth,omitempty"`
}

// PathsConfig defines filesystem paths.
type PathsConfig struct {
	// Root is the base directory for seclink data. Available as
	// ${SECLINK_ROOT} in other path fields.
	Root string `yaml:"root"`

	// State holds runtime state (sqlite key store, pid files).
	State string `yaml:"state"`
}

// CoreConfig selects and provisions the Security Core backend.
type CoreConfig struct {
	// Backend is "emulated" or "hardware".
	Backend string `yaml:"backend"`

	// Archive is the builtin archive served by ListBuiltins, FindFile
	// and GetFilePage. Empty serves no builtins.
	Archive string `yaml:"archive"`
}

// BusConfig configures the capability bus the coordinator serves.
type BusConfig struct {
	// Interface is the name clients connect to.
	Interface string `yaml:"interface"`

	// SocketPath is the unix socket that carries the bus.
	SocketPath string `yaml:"socket_path"`

	// Windows is the number of concurrently granted shared windows.
	Windows int `yaml:"windows"`

	// WindowSize is the size of each window in bytes, a multiple of
	// the 4096-byte page.
	WindowSize int `yaml:"window_size"`
}

// MailboxConfig configures the hardware mailbox link. Durations are
// Go duration strings ("5s", "250ms").
type MailboxConfig struct {
	FIFODepth       int    `yaml:"fifo_depth"`
	InlineLimit     int    `yaml:"inline_limit"`
	MaxPayload      int    `yaml:"max_payload"`
	ReplyTimeout    string `yaml:"reply_timeout"`
	BreakerFailures uint32 `yaml:"breaker_failures"`
	BreakerCooldown string `yaml:"breaker_cooldown"`
}

// KeyStoreConfig configures key/value persistence.
type KeyStoreConfig struct {
	// Path is the sqlite database. Empty keeps values in memory.
	Path string `yaml:"path"`

	// PoolSize is the number of sqlite connections. Zero uses the
	// pool default.
	PoolSize int `yaml:"pool_size"`

	// RootKey is a file holding the 32-byte root key that seals
	// stored values. Empty stores values unsealed.
	RootKey string `yaml:"root_key"`

	// Identity is an age identity file. When set, RootKey is
	// age-encrypted to it.
	Identity string `yaml:"identity"`
}

// AuthConfig configures connection tokens.
type AuthConfig struct {
	// Required refuses connections without a valid token. When false
	// every connection is a system client.
	Required bool `yaml:"required"`

	// KeyDir holds the token signing keypair.
	KeyDir string `yaml:"key_dir"`

	// TokenTTL is the lifetime of issued tokens.
	TokenTTL string `yaml:"token_ttl"`

	// Revoked lists token ids refused before they expire.
	Revoked []string `yaml:"revoked"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	// Listen is the HTTP address for /metrics. Empty disables it.
	Listen string `yaml:"listen"`
}

// Default returns the default configuration.
// These defaults are used as a base before loading the config file.
// They exist primarily to ensure all fields have sensible zero-values,
// not as a fallback - the config file is required.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	defaultRoot := filepath.Join(homeDir, ".cache", "seclink")

	return &Config{
		Environment: Development,
		Paths: PathsConfig{
			Root:  defaultRoot,
			State: filepath.Join(defaultRoot, "state"),
		},
		Core: CoreConfig{
			Backend: BackendEmulated,
		},
		Bus: BusConfig{
			Interface:  "security",
			SocketPath: "/run/seclink/security.sock",
			Windows:    64,
			WindowSize: 4096,
		},
		Mailbox: MailboxConfig{
			FIFODepth:       64,
			InlineLimit:     256,
			MaxPayload:      8192,
			ReplyTimeout:    "5s",
			BreakerFailures: 5,
			BreakerCooldown: "30s",
		},
		Auth: AuthConfig{
			KeyDir:   filepath.Join(defaultRoot, "auth"),
			TokenTTL: "24h",
		},
	}
}

// Load loads configuration from SECLINK_CONFIG environment variable.
//
// This is the only way to load configuration without an explicit path.
// There are no fallbacks or defaults - if SECLINK_CONFIG is not set, this fails.
func Load() (*Config, error) {
	configPath := os.Getenv("SECLINK_CONFIG")
	if configPath == "" {
		return nil, fmt.Errorf("SECLINK_CONFIG environment variable not set; " +
			"set it to the path of your seclink.yaml config file, or use --config flag")
	}

	return LoadFile(configPath)
}

// LoadFile loads configuration from a specific file path. Files ending
// in .json or .jsonc are read as JSON with comments; anything else is
// YAML.
//
// The config file is the single source of truth. Environment variables do not
// override config values. The only expansion performed is ${HOME} and
// similar path variables for portability.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	if err := cfg.loadFile(path); err != nil {
		return nil, err
	}

	cfg.applyEnvironmentOverrides()
	cfg.expandVariables()

	return cfg, nil
}

// loadFile loads a single configuration file, merging into the current config.
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonc":
		// JSON is valid YAML once comments and trailing commas are gone.
		data = jsonc.ToJSON(data)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	return nil
}

// applyEnvironmentOverrides applies the environment-specific overrides.
func (c *Config) applyEnvironmentOverrides() {
	var overrides *ConfigOverrides

	switch c.Environment {
	case Development:
		overrides = c.Development
	case Staging:
		overrides = c.Staging
	case Production:
		overrides = c.Production
		// Production defaults: tokens are mandatory.
		if overrides == nil {
			overrides = &ConfigOverrides{
				Auth: &AuthConfig{Required: true},
			}
		}
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
	}

	if overrides.Core != nil {
		if overrides.Core.Backend != "" {
			c.Core.Backend = overrides.Core.Backend
		}
		if overrides.Core.Archive != "" {
			c.Core.Archive = overrides.Core.Archive
		}
	}

	if overrides.Bus != nil {
		if overrides.Bus.Interface != "" {
			c.Bus.Interface = overrides.Bus.Interface
		}
		if overrides.Bus.SocketPath != "" {
			c.Bus.SocketPath = overrides.Bus.SocketPath
		}
		if overrides.Bus.Windows != 0 {
			c.Bus.Windows = overrides.Bus.Windows
		}
		if overrides.Bus.WindowSize != 0 {
			c.Bus.WindowSize = overrides.Bus.WindowSize
		}
	}

	if overrides.Mailbox != nil {
		if overrides.Mailbox.FIFODepth != 0 {
			c.Mailbox.FIFODepth = overrides.Mailbox.FIFODepth
		}
		if overrides.Mailbox.InlineLimit != 0 {
			c.Mailbox.InlineLimit = overrides.Mailbox.InlineLimit
		}
		if overrides.Mailbox.MaxPayload != 0 {
			c.Mailbox.MaxPayload = overrides.Mailbox.MaxPayload
		}
		if overrides.Mailbox.ReplyTimeout != "" {
			c.Mailbox.ReplyTimeout = overrides.Mailbox.ReplyTimeout
		}
		if overrides.Mailbox.BreakerFailures != 0 {
			c.Mailbox.BreakerFailures = overrides.Mailbox.BreakerFailures
		}
		if overrides.Mailbox.BreakerCooldown != "" {
			c.Mailbox.BreakerCooldown = overrides.Mailbox.BreakerCooldown
		}
	}

	if overrides.KeyStore != nil {
		if overrides.KeyStore.Path != "" {
			c.KeyStore.Path = overrides.KeyStore.Path
		}
		if overrides.KeyStore.PoolSize != 0 {
			c.KeyStore.PoolSize = overrides.KeyStore.PoolSize
		}
		if overrides.KeyStore.RootKey != "" {
			c.KeyStore.RootKey = overrides.KeyStore.RootKey
		}
		if overrides.KeyStore.Identity != "" {
			c.KeyStore.Identity = overrides.KeyStore.Identity
		}
	}

	if overrides.Auth != nil {
		// Required is a bool, so we always apply it from overrides.
		c.Auth.Required = overrides.Auth.Required
		if overrides.Auth.KeyDir != "" {
			c.Auth.KeyDir = overrides.Auth.KeyDir
		}
		if overrides.Auth.TokenTTL != "" {
			c.Auth.TokenTTL = overrides.Auth.TokenTTL
		}
		c.Auth.Revoked = append(c.Auth.Revoked, overrides.Auth.Revoked...)
	}
}

// expandVariables expands ${VAR} and ${VAR:-default} patterns in paths.
func (c *Config) expandVariables() {
	vars := map[string]string{
		"SECLINK_ROOT": c.Paths.Root,
		"HOME":         os.Getenv("HOME"),
	}

	c.Paths.Root = expandVars(c.Paths.Root, vars)
	vars["SECLINK_ROOT"] = c.Paths.Root // Update for dependent paths.

	c.Paths.State = expandVars(c.Paths.State, vars)
	c.Core.Archive = expandVars(c.Core.Archive, vars)
	c.Bus.SocketPath = expandVars(c.Bus.SocketPath, vars)
	c.KeyStore.Path = expandVars(c.KeyStore.Path, vars)
	c.KeyStore.RootKey = expandVars(c.KeyStore.RootKey, vars)
	c.KeyStore.Identity = expandVars(c.KeyStore.Identity, vars)
	c.Auth.KeyDir = expandVars(c.Auth.KeyDir, vars)
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

	if c.Environment != Development && c.Environment != Staging && c.Environment != Production {
		errs = append(errs, fmt.Errorf("invalid environment: %s", c.Environment))
	}

	if c.Paths.Root == "" {
		errs = append(errs, fmt.Errorf("paths.root is required"))
	}

	backends := []string{BackendEmulated, BackendHardware}
	if !slices.Contains(backends, c.Core.Backend) {
		errs = append(errs, fmt.Errorf("core.backend must be one of: %v", backends))
	}

	if c.Bus.Interface == "" {
		errs = append(errs, fmt.Errorf("bus.interface is required"))
	}
	if c.Bus.SocketPath == "" {
		errs = append(errs, fmt.Errorf("bus.socket_path is required"))
	}
	if c.Bus.Windows <= 0 {
		errs = append(errs, fmt.Errorf("bus.windows must be positive, got %d", c.Bus.Windows))
	}
	if c.Bus.WindowSize <= 0 || c.Bus.WindowSize%4096 != 0 {
		errs = append(errs, fmt.Errorf("bus.window_size must be a positive multiple of 4096, got %d", c.Bus.WindowSize))
	}

	if c.Mailbox.FIFODepth < 0 {
		errs = append(errs, fmt.Errorf("mailbox.fifo_depth must not be negative"))
	}
	if c.Mailbox.InlineLimit < 0 {
		errs = append(errs, fmt.Errorf("mailbox.inline_limit must not be negative"))
	}
	if c.Mailbox.MaxPayload < 0 {
		errs = append(errs, fmt.Errorf("mailbox.max_payload must not be negative"))
	}
	if _, err := parseDuration("mailbox.reply_timeout", c.Mailbox.ReplyTimeout); err != nil {
		errs = append(errs, err)
	}
	if _, err := parseDuration("mailbox.breaker_cooldown", c.Mailbox.BreakerCooldown); err != nil {
		errs = append(errs, err)
	}

	if c.KeyStore.PoolSize < 0 {
		errs = append(errs, fmt.Errorf("keystore.pool_size must not be negative"))
	}
	if c.KeyStore.Identity != "" && c.KeyStore.RootKey == "" {
		errs = append(errs, fmt.Errorf("keystore.identity requires keystore.root_key"))
	}
	if c.Environment == Production && c.KeyStore.Path != "" && c.KeyStore.RootKey == "" {
		errs = append(errs, fmt.Errorf("keystore.root_key is required for a persistent store in production"))
	}

	if c.Auth.Required && c.Auth.KeyDir == "" {
		errs = append(errs, fmt.Errorf("auth.key_dir is required when auth.required is set"))
	}
	if ttl, err := parseDuration("auth.token_ttl", c.Auth.TokenTTL); err != nil {
		errs = append(errs, err)
	} else if ttl <= 0 && c.Auth.TokenTTL != "" {
		errs = append(errs, fmt.Errorf("auth.token_ttl must be positive"))
	}

	return errors.Join(errs...)
}

// ReplyTimeoutDuration parses ReplyTimeout. Empty is zero.
func (m MailboxConfig) ReplyTimeoutDuration() (time.Duration, error) {
	return parseDuration("mailbox.reply_timeout", m.ReplyTimeout)
}

// BreakerCooldownDuration parses BreakerCooldown. Empty is zero.
func (m MailboxConfig) BreakerCooldownDuration() (time.Duration, error) {
	return parseDuration("mailbox.breaker_cooldown", m.BreakerCooldown)
}

// TokenTTLDuration parses TokenTTL. Empty is zero.
func (a AuthConfig) TokenTTLDuration() (time.Duration, error) {
	return parseDuration("auth.token_ttl", a.TokenTTL)
}

func parseDuration(field, value string) (time.Duration, error) {
	if value == "" {
		return 0, nil
	}
	duration, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", field, err)
	}
	if duration < 0 {
		return 0, fmt.Errorf("%s must not be negative, got %s", field, value)
	}
	return duration, nil
}

// EnsurePaths creates all configured directories if they don't exist.
func (c *Config) EnsurePaths() error {
	paths := []string{
		c.Paths.Root,
		c.Paths.State,
	}
	if c.KeyStore.Path != "" {
		paths = append(paths, filepath.Dir(c.KeyStore.Path))
	}

	for _, path := range paths {
		if path == "" {
			continue
		}
		if err := os.MkdirAll(path, 0755); err != nil {
			return fmt.Errorf("creating %s: %w", path, err)
		}
	}

	return nil
}
