// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Environment != Development {
		t.Errorf("expected environment=development, got %s", cfg.Environment)
	}

	if cfg.Core.Backend != BackendEmulated {
		t.Errorf("expected backend=emulated, got %s", cfg.Core.Backend)
	}

	if cfg.Bus.Interface != "security" {
		t.Errorf("expected interface=security, got %s", cfg.Bus.Interface)
	}

	if cfg.Bus.SocketPath != "/run/seclink/security.sock" {
		t.Errorf("expected socket_path=/run/seclink/security.sock, got %s", cfg.Bus.SocketPath)
	}

	if cfg.Auth.Required {
		t.Error("expected auth.required=false for development")
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("default config does not validate: %v", err)
	}
}

func TestLoad_RequiresSeclinkConfig(t *testing.T) {
	t.Setenv("SECLINK_CONFIG", "")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error when SECLINK_CONFIG not set, got nil")
	}

	expectedMsg := "SECLINK_CONFIG environment variable not set"
	if !strings.HasPrefix(err.Error(), expectedMsg) {
		t.Errorf("expected error message to start with %q, got %q", expectedMsg, err.Error())
	}
}

func TestLoad_WithSeclinkConfig(t *testing.T) {
	configPath := writeConfig(t, "seclink.yaml", `
environment: staging
paths:
  root: /test/root
bus:
  socket_path: /test/security.sock
`)
	t.Setenv("SECLINK_CONFIG", configPath)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Environment != Staging {
		t.Errorf("expected environment=staging, got %s", cfg.Environment)
	}

	if cfg.Paths.Root != "/test/root" {
		t.Errorf("expected root=/test/root, got %s", cfg.Paths.Root)
	}

	if cfg.Bus.SocketPath != "/test/security.sock" {
		t.Errorf("expected socket_path=/test/security.sock, got %s", cfg.Bus.SocketPath)
	}
}

func TestLoadFile(t *testing.T) {
	configPath := writeConfig(t, "seclink.yaml", `
environment: staging

paths:
  root: /custom/root

core:
  backend: hardware
  archive: ${SECLINK_ROOT}/builtins.slar

bus:
  windows: 16
  window_size: 8192

mailbox:
  fifo_depth: 32
  reply_timeout: 250ms
  breaker_failures: 3

keystore:
  path: ${SECLINK_ROOT}/keys.db
  root_key: ${SECLINK_ROOT}/root.key

auth:
  required: true
  key_dir: /custom/auth
  revoked: [aa, bb]

metrics:
  listen: 127.0.0.1:9464
`)

	cfg, err := LoadFile(configPath)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}

	if cfg.Core.Backend != BackendHardware {
		t.Errorf("expected backend=hardware, got %s", cfg.Core.Backend)
	}
	if cfg.Core.Archive != "/custom/root/builtins.slar" {
		t.Errorf("expected archive=/custom/root/builtins.slar, got %s", cfg.Core.Archive)
	}
	if cfg.Bus.Windows != 16 || cfg.Bus.WindowSize != 8192 {
		t.Errorf("expected 16 windows of 8192, got %d of %d", cfg.Bus.Windows, cfg.Bus.WindowSize)
	}
	if cfg.Bus.Interface != "security" {
		t.Errorf("expected default interface to survive, got %s", cfg.Bus.Interface)
	}
	if cfg.Mailbox.FIFODepth != 32 || cfg.Mailbox.BreakerFailures != 3 {
		t.Errorf("mailbox = %+v", cfg.Mailbox)
	}
	if timeout, err := cfg.Mailbox.ReplyTimeoutDuration(); err != nil || timeout != 250*time.Millisecond {
		t.Errorf("ReplyTimeoutDuration() = %v, %v; want 250ms", timeout, err)
	}
	if cooldown, err := cfg.Mailbox.BreakerCooldownDuration(); err != nil || cooldown != 30*time.Second {
		t.Errorf("BreakerCooldownDuration() = %v, %v; want default 30s", cooldown, err)
	}
	if cfg.KeyStore.Path != "/custom/root/keys.db" {
		t.Errorf("expected keystore path=/custom/root/keys.db, got %s", cfg.KeyStore.Path)
	}
	if cfg.KeyStore.RootKey != "/custom/root/root.key" {
		t.Errorf("expected root_key=/custom/root/root.key, got %s", cfg.KeyStore.RootKey)
	}
	if !cfg.Auth.Required || cfg.Auth.KeyDir != "/custom/auth" {
		t.Errorf("auth = %+v", cfg.Auth)
	}
	if len(cfg.Auth.Revoked) != 2 {
		t.Errorf("expected 2 revoked ids, got %v", cfg.Auth.Revoked)
	}
	if cfg.Metrics.Listen != "127.0.0.1:9464" {
		t.Errorf("expected metrics listen=127.0.0.1:9464, got %s", cfg.Metrics.Listen)
	}
}

func TestLoadFile_JSONC(t *testing.T) {
	configPath := writeConfig(t, "seclink.jsonc", `{
  // Development box with a persistent store.
  "environment": "development",
  "paths": {"root": "/json/root"},
  "keystore": {
    "path": "/json/root/keys.db", /* sqlite */
  },
}`)

	cfg, err := LoadFile(configPath)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}

	if cfg.Paths.Root != "/json/root" {
		t.Errorf("expected root=/json/root, got %s", cfg.Paths.Root)
	}
	if cfg.KeyStore.Path != "/json/root/keys.db" {
		t.Errorf("expected keystore path=/json/root/keys.db, got %s", cfg.KeyStore.Path)
	}
}

func TestLoadFile_Errors(t *testing.T) {
	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for a missing file")
	}

	configPath := writeConfig(t, "seclink.yaml", "bus: [not, a, map]\n")
	if _, err := LoadFile(configPath); err == nil {
		t.Error("expected error for malformed YAML")
	}
}

func TestEnvironmentOverrides(t *testing.T) {
	configPath := writeConfig(t, "seclink.yaml", `
environment: production

paths:
  root: /default/root

core:
  backend: emulated

auth:
  required: false
  revoked: [base]

production:
  paths:
    root: /prod/root
  core:
    backend: hardware
  mailbox:
    reply_timeout: 2s
  auth:
    required: true
    revoked: [prod]
`)

	cfg, err := LoadFile(configPath)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}

	if cfg.Paths.Root != "/prod/root" {
		t.Errorf("expected root=/prod/root, got %s", cfg.Paths.Root)
	}
	if cfg.Core.Backend != BackendHardware {
		t.Errorf("expected backend=hardware, got %s", cfg.Core.Backend)
	}
	if cfg.Mailbox.ReplyTimeout != "2s" {
		t.Errorf("expected reply_timeout=2s, got %s", cfg.Mailbox.ReplyTimeout)
	}
	if !cfg.Auth.Required {
		t.Error("expected auth.required=true from production override")
	}
	if strings.Join(cfg.Auth.Revoked, ",") != "base,prod" {
		t.Errorf("expected revoked=[base prod], got %v", cfg.Auth.Revoked)
	}
}

func TestProductionDefaults(t *testing.T) {
	configPath := writeConfig(t, "seclink.yaml", `
environment: production
auth:
  required: false
`)

	cfg, err := LoadFile(configPath)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}

	if !cfg.Auth.Required {
		t.Error("production without overrides should require tokens")
	}
}

func TestStagingIgnoresProductionSection(t *testing.T) {
	configPath := writeConfig(t, "seclink.yaml", `
environment: staging
production:
  core:
    backend: hardware
`)

	cfg, err := LoadFile(configPath)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}

	if cfg.Core.Backend != BackendEmulated {
		t.Errorf("expected backend=emulated, got %s", cfg.Core.Backend)
	}
}

func TestEnvVarsDoNotOverride(t *testing.T) {
	// Environment variables named like config fields are ignored; only
	// explicit ${VAR} references in the file are expanded.
	t.Setenv("SECLINK_ROOT", "/env/root")
	t.Setenv("SECLINK_SOCKET_PATH", "/env/security.sock")
	t.Setenv("SECLINK_ENVIRONMENT", "staging")

	configPath := writeConfig(t, "seclink.yaml", `
environment: development
paths:
  root: /file/root
bus:
  socket_path: /file/security.sock
`)

	cfg, err := LoadFile(configPath)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}

	if cfg.Environment != Development {
		t.Errorf("expected environment=development from file, got %s (env vars should not override)", cfg.Environment)
	}

	if cfg.Paths.Root != "/file/root" {
		t.Errorf("expected root=/file/root from file, got %s (env vars should not override)", cfg.Paths.Root)
	}

	if cfg.Bus.SocketPath != "/file/security.sock" {
		t.Errorf("expected socket_path=/file/security.sock from file, got %s (env vars should not override)", cfg.Bus.SocketPath)
	}
}

func TestExpandVars(t *testing.T) {
	tests := []struct {
		input    string
		vars     map[string]string
		expected string
	}{
		{
			input:    "${HOME}/seclink",
			vars:     map[string]string{"HOME": "/home/user"},
			expected: "/home/user/seclink",
		},
		{
			input:    "${SECLINK_TEST_MISSING:-default}",
			vars:     map[string]string{},
			expected: "default",
		},
		{
			input:    "${PRESENT:-default}",
			vars:     map[string]string{"PRESENT": "value"},
			expected: "value",
		},
		{
			input:    "${A}/${B}",
			vars:     map[string]string{"A": "first", "B": "second"},
			expected: "first/second",
		},
		{
			input:    "no variables here",
			vars:     map[string]string{},
			expected: "no variables here",
		},
	}

	for _, tt := range tests {
		result := expandVars(tt.input, tt.vars)
		if result != tt.expected {
			t.Errorf("expandVars(%q) = %q, want %q", tt.input, result, tt.expected)
		}
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr string
	}{
		{
			name:   "valid default config",
			modify: func(c *Config) {},
		},
		{
			name:    "invalid environment",
			modify:  func(c *Config) { c.Environment = "invalid" },
			wantErr: "invalid environment",
		},
		{
			name:    "empty root path",
			modify:  func(c *Config) { c.Paths.Root = "" },
			wantErr: "paths.root",
		},
		{
			name:    "unknown backend",
			modify:  func(c *Config) { c.Core.Backend = "fpga" },
			wantErr: "core.backend",
		},
		{
			name:    "empty socket path",
			modify:  func(c *Config) { c.Bus.SocketPath = "" },
			wantErr: "bus.socket_path",
		},
		{
			name:    "no windows",
			modify:  func(c *Config) { c.Bus.Windows = 0 },
			wantErr: "bus.windows",
		},
		{
			name:    "unaligned window size",
			modify:  func(c *Config) { c.Bus.WindowSize = 5000 },
			wantErr: "bus.window_size",
		},
		{
			name:    "bad reply timeout",
			modify:  func(c *Config) { c.Mailbox.ReplyTimeout = "soon" },
			wantErr: "mailbox.reply_timeout",
		},
		{
			name:    "negative cooldown",
			modify:  func(c *Config) { c.Mailbox.BreakerCooldown = "-1s" },
			wantErr: "mailbox.breaker_cooldown",
		},
		{
			name:    "identity without root key",
			modify:  func(c *Config) { c.KeyStore.Identity = "/etc/seclink/age.key" },
			wantErr: "keystore.identity",
		},
		{
			name: "unsealed persistent store in production",
			modify: func(c *Config) {
				c.Environment = Production
				c.KeyStore.Path = "/var/lib/seclink/keys.db"
			},
			wantErr: "keystore.root_key",
		},
		{
			name: "sealed persistent store in production",
			modify: func(c *Config) {
				c.Environment = Production
				c.KeyStore.Path = "/var/lib/seclink/keys.db"
				c.KeyStore.RootKey = "/var/lib/seclink/root.key"
			},
		},
		{
			name: "required auth without key dir",
			modify: func(c *Config) {
				c.Auth.Required = true
				c.Auth.KeyDir = ""
			},
			wantErr: "auth.key_dir",
		},
		{
			name:    "zero token ttl",
			modify:  func(c *Config) { c.Auth.TokenTTL = "0s" },
			wantErr: "auth.token_ttl",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() = nil, want error mentioning %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want it to mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidateReportsEveryError(t *testing.T) {
	cfg := Default()
	cfg.Paths.Root = ""
	cfg.Bus.Interface = ""

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() = nil, want errors")
	}
	for _, field := range []string{"paths.root", "bus.interface"} {
		if !strings.Contains(err.Error(), field) {
			t.Errorf("Validate() error %q does not mention %s", err, field)
		}
	}
}

func TestEnsurePaths(t *testing.T) {
	tmpDir := t.TempDir()

	cfg := Default()
	cfg.Paths.Root = filepath.Join(tmpDir, "seclink")
	cfg.Paths.State = filepath.Join(cfg.Paths.Root, "state")
	cfg.KeyStore.Path = filepath.Join(tmpDir, "db", "keys.db")

	if err := cfg.EnsurePaths(); err != nil {
		t.Fatalf("EnsurePaths failed: %v", err)
	}

	for _, path := range []string{cfg.Paths.Root, cfg.Paths.State, filepath.Dir(cfg.KeyStore.Path)} {
		info, err := os.Stat(path)
		if err != nil {
			t.Errorf("path %s not created: %v", path, err)
			continue
		}
		if !info.IsDir() {
			t.Errorf("path %s is not a directory", path)
		}
	}
}
