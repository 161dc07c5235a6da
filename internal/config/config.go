// Package config handles configuration loading, validation, and persistence for openqr.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Version is the current configuration schema version.
const Version = 2

// Framing modes understood by the scan normalizer.
const (
	FramingNone    = "none"
	FramingDefault = "default"
	FramingCustom  = "custom"
	FramingEnter   = "enter"
	FramingNewline = "newline"
	FramingTab     = "tab"
)

// History storage methods.
const (
	StorageSQLite     = "sqlite"
	StorageRelational = "relational"
	StorageJSON       = "json"
)

// Framing describes a prefix or suffix the scanner wraps around its payload.
type Framing struct {
	Mode  string  `toml:"mode" json:"mode" yaml:"mode"`
	Value *string `toml:"value,omitempty" json:"value,omitempty" yaml:"value,omitempty"`
}

// Literal returns the custom value, or "" when none is set.
func (f Framing) Literal() string {
	if f.Value == nil {
		return ""
	}
	return *f.Value
}

// Config holds the complete scanner configuration.
type Config struct {
	// Version is the configuration schema version for migrations.
	Version int `toml:"version" json:"version" yaml:"version"`

	// Allowlist, when non-empty, restricts accepted URLs to matching domains.
	Allowlist []string `toml:"allowlist" json:"allowlist" yaml:"allowlist"`

	// Blocklist rejects URLs whose domain or host contains any entry.
	Blocklist []string `toml:"blocklist" json:"blocklist" yaml:"blocklist"`

	// HistoryStorageMethod selects the history backend ("sqlite" or "json").
	HistoryStorageMethod string `toml:"history_storage_method" json:"history_storage_method" yaml:"history_storage_method"`

	// ScanMode is consumed by the UI ("single" or "continuous").
	ScanMode string `toml:"scan_mode" json:"scan_mode" yaml:"scan_mode"`

	// TriggerMode selects the key that completes a scan. Empty derives it
	// from the suffix mode.
	TriggerMode string `toml:"trigger_mode" json:"trigger_mode" yaml:"trigger_mode"`

	// NotificationType is consumed by the UI.
	NotificationType string `toml:"notification_type" json:"notification_type" yaml:"notification_type"`

	// MaxHistoryItems bounds the number of retained history records.
	MaxHistoryItems uint32 `toml:"max_history_items" json:"max_history_items" yaml:"max_history_items"`

	Prefix Framing `toml:"prefix" json:"prefix" yaml:"prefix"`
	Suffix Framing `toml:"suffix" json:"suffix" yaml:"suffix"`

	// CloseToTray is consumed by the UI.
	CloseToTray bool `toml:"close_to_tray" json:"close_to_tray" yaml:"close_to_tray"`

	// AutoProcess validates and records every completed scan without
	// waiting for a UI round trip.
	AutoProcess bool `toml:"auto_process" json:"auto_process" yaml:"auto_process"`

	Logging LoggingConfig `toml:"logging" json:"logging" yaml:"logging"`
	IPC     IPCConfig     `toml:"ipc" json:"ipc" yaml:"ipc"`
}

// LoggingConfig configures the daemon log output.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `toml:"level" json:"level" yaml:"level"`
	// Format is text or json.
	Format string `toml:"format" json:"format" yaml:"format"`
	// Output is stderr, stdout, file or both.
	Output     string `toml:"output" json:"output" yaml:"output"`
	FilePath   string `toml:"file_path" json:"file_path" yaml:"file_path"`
	MaxSizeMB  int64  `toml:"max_size_mb" json:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups" json:"max_backups" yaml:"max_backups"`
	Compress   bool   `toml:"compress" json:"compress" yaml:"compress"`
}

// IPCConfig configures the local socket UI collaborators connect to.
type IPCConfig struct {
	Enabled bool `toml:"enabled" json:"enabled" yaml:"enabled"`
	// SocketPath defaults to openqr.sock inside the data directory.
	SocketPath  string `toml:"socket_path" json:"socket_path" yaml:"socket_path"`
	Permissions string `toml:"permissions" json:"permissions" yaml:"permissions"`
	MaxClients  int    `toml:"max_clients" json:"max_clients" yaml:"max_clients"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Version:              Version,
		Allowlist:            []string{},
		Blocklist:            []string{},
		HistoryStorageMethod: StorageJSON,
		ScanMode:             "single",
		NotificationType:     "toast",
		MaxHistoryItems:      100,
		Prefix:               Framing{Mode: FramingNone},
		Suffix:               Framing{Mode: FramingEnter},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     "stderr",
			MaxSizeMB:  10,
			MaxBackups: 3,
			Compress:   true,
		},
		IPC: IPCConfig{
			Enabled:     true,
			Permissions: "0600",
			MaxClients:  16,
		},
	}
}

// EffectiveTriggerMode resolves the trigger mode string. An explicit
// trigger_mode wins; otherwise a "tab" suffix selects the secondary trigger.
func (c *Config) EffectiveTriggerMode() string {
	if m := strings.TrimSpace(c.TriggerMode); m != "" {
		return m
	}
	if strings.EqualFold(c.Suffix.Mode, FramingTab) {
		return "secondary"
	}
	return "primary"
}

// SocketPath returns the IPC socket location for dataDir.
func (c *Config) SocketPath(dataDir string) string {
	if c.IPC.SocketPath != "" {
		return expandPath(c.IPC.SocketPath)
	}
	return filepath.Join(dataDir, "openqr.sock")
}

// SocketMode parses the configured socket permissions, defaulting to 0600.
func (c *Config) SocketMode() (os.FileMode, error) {
	if c.IPC.Permissions == "" {
		return 0600, nil
	}
	v, err := strconv.ParseUint(c.IPC.Permissions, 8, 32)
	if err != nil {
		return 0, fmt.Errorf("parse ipc permissions %q: %w", c.IPC.Permissions, err)
	}
	return os.FileMode(v), nil
}

// Load reads a configuration file, dispatching on its extension.
// A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			cfg.ApplyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	// Files written before versioning carry no version field.
	cfg.Version = 0
	if err := decode(path, data, cfg); err != nil {
		return nil, err
	}
	if cfg.Version == 0 {
		cfg.Version = 1
	}

	cfg.ApplyEnvOverrides()
	return cfg, nil
}

func decode(path string, data []byte, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("decode JSON: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("decode YAML: %w", err)
		}
	default:
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return fmt.Errorf("decode TOML: %w", err)
		}
	}
	return nil
}

func encode(path string, cfg *Config) ([]byte, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return json.MarshalIndent(cfg, "", "  ")
	case ".yaml", ".yml":
		return yaml.Marshal(cfg)
	default:
		var b strings.Builder
		if err := toml.NewEncoder(&b).Encode(cfg); err != nil {
			return nil, err
		}
		return []byte(b.String()), nil
	}
}

// Save writes cfg to path in the format implied by its extension. The file is
// replaced atomically.
func Save(path string, cfg *Config) error {
	data, err := encode(path, cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace config: %w", err)
	}
	return nil
}

// LoadOrCreate loads the configuration at path. A missing file is created with
// the defaults (created is true). A file that cannot be parsed yields the
// defaults together with the parse error so the caller can log it and carry on.
func LoadOrCreate(path string) (cfg *Config, created bool, err error) {
	if _, statErr := os.Stat(path); errors.Is(statErr, os.ErrNotExist) {
		cfg = DefaultConfig()
		if err := Save(path, cfg); err != nil {
			return cfg, false, err
		}
		cfg.ApplyEnvOverrides()
		return cfg, true, nil
	}

	cfg, err = Load(path)
	if err != nil {
		cfg = DefaultConfig()
		cfg.ApplyEnvOverrides()
		return cfg, false, err
	}
	return cfg, false, nil
}

// ApplyEnvOverrides applies OPENQR_* environment variables.
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("OPENQR_HISTORY_STORAGE_METHOD"); v != "" {
		c.HistoryStorageMethod = v
	}
	if v := os.Getenv("OPENQR_MAX_HISTORY_ITEMS"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 32); err == nil {
			c.MaxHistoryItems = uint32(n)
		}
	}
	if v := os.Getenv("OPENQR_TRIGGER_MODE"); v != "" {
		c.TriggerMode = v
	}
	if v := os.Getenv("OPENQR_AUTO_PROCESS"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.AutoProcess = b
		}
	}
	if v := os.Getenv("OPENQR_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("OPENQR_LOG_PATH"); v != "" {
		c.Logging.FilePath = v
	}
	if v := os.Getenv("OPENQR_SOCKET_PATH"); v != "" {
		c.IPC.SocketPath = v
	}
}

// Clone returns a deep copy of the configuration.
func (c *Config) Clone() *Config {
	out := *c
	out.Allowlist = slices.Clone(c.Allowlist)
	out.Blocklist = slices.Clone(c.Blocklist)
	out.Prefix.Value = cloneString(c.Prefix.Value)
	out.Suffix.Value = cloneString(c.Suffix.Value)
	return &out
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
