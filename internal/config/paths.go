package config

import (
	"os"
	"path/filepath"
	"runtime"
)

const appName = "openqr"

// DataDir returns the directory holding the configuration, history artifacts
// and the IPC socket. OPENQR_DATA_DIR overrides the platform default.
func DataDir() string {
	if v := os.Getenv("OPENQR_DATA_DIR"); v != "" {
		return expandPath(v)
	}
	switch runtime.GOOS {
	case "darwin":
		home, _ := os.UserHomeDir()
		return filepath.Join(home, "Library", "Application Support", appName)
	case "windows":
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, appName)
		}
	default:
		if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
			return filepath.Join(xdg, appName)
		}
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".local", "share", appName)
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, "."+appName)
}

// SupportedConfigFormats lists the configuration file names searched for, in
// order of preference.
func SupportedConfigFormats() []string {
	return []string{"config.toml", "config.json", "config.yaml", "config.yml"}
}

// ConfigPath returns the configuration file inside dataDir: the first existing
// supported file, or config.toml when none exists yet.
func ConfigPath(dataDir string) string {
	for _, name := range SupportedConfigFormats() {
		p := filepath.Join(dataDir, name)
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return filepath.Join(dataDir, "config.toml")
}

// EnsureDataDir creates dataDir with owner-only permissions.
func EnsureDataDir(dataDir string) error {
	return os.MkdirAll(dataDir, 0700)
}

func expandPath(path string) string {
	if len(path) > 1 && path[0] == '~' && (path[1] == '/' || path[1] == '\\') {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
