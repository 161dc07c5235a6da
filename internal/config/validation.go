package config

import (
	"fmt"
	"regexp"
	"strings"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validate checks the configuration and returns ValidationErrors describing
// every problem found, or nil.
func (c *Config) Validate() error {
	var errs ValidationErrors

	if c.Version < 1 || c.Version > Version {
		errs = append(errs, ValidationError{
			Field:   "version",
			Message: fmt.Sprintf("unsupported version %d (current: %d)", c.Version, Version),
		})
	}

	switch strings.ToLower(c.HistoryStorageMethod) {
	case StorageSQLite, StorageRelational, StorageJSON:
	default:
		errs = append(errs, ValidationError{
			Field:   "history_storage_method",
			Message: fmt.Sprintf("invalid storage method: %s (valid: sqlite, json)", c.HistoryStorageMethod),
		})
	}

	switch strings.ToLower(c.TriggerMode) {
	case "", "primary", "enter", "secondary", "tab":
	default:
		errs = append(errs, ValidationError{
			Field:   "trigger_mode",
			Message: fmt.Sprintf("invalid trigger mode: %s (valid: primary, secondary)", c.TriggerMode),
		})
	}

	errs = append(errs, validateFraming("prefix", c.Prefix, FramingNone, FramingDefault, FramingCustom)...)
	errs = append(errs, validateFraming("suffix", c.Suffix, FramingNone, FramingEnter, FramingNewline, FramingTab, FramingCustom)...)

	for i, entry := range c.Allowlist {
		if strings.TrimSpace(entry) == "" {
			errs = append(errs, ValidationError{Field: fmt.Sprintf("allowlist[%d]", i), Message: "empty entry"})
		}
	}
	for i, entry := range c.Blocklist {
		if strings.TrimSpace(entry) == "" {
			errs = append(errs, ValidationError{Field: fmt.Sprintf("blocklist[%d]", i), Message: "empty entry"})
		}
	}

	errs = append(errs, validateLogging(&c.Logging)...)
	errs = append(errs, validateIPC(&c.IPC)...)

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func validateFraming(field string, f Framing, modes ...string) ValidationErrors {
	var errs ValidationErrors

	mode := strings.ToLower(f.Mode)
	known := false
	for _, m := range modes {
		if mode == m {
			known = true
			break
		}
	}
	if !known {
		errs = append(errs, ValidationError{
			Field:   field + ".mode",
			Message: fmt.Sprintf("invalid mode: %s (valid: %s)", f.Mode, strings.Join(modes, ", ")),
		})
	}
	if mode == FramingCustom && f.Literal() == "" {
		errs = append(errs, ValidationError{
			Field:   field + ".value",
			Message: "value is required when mode is 'custom'",
		})
	}
	return errs
}

func validateLogging(l *LoggingConfig) ValidationErrors {
	var errs ValidationErrors

	switch l.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.level",
			Message: fmt.Sprintf("invalid log level: %s (valid: debug, info, warn, error)", l.Level),
		})
	}

	switch l.Format {
	case "text", "json":
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.format",
			Message: fmt.Sprintf("invalid log format: %s (valid: text, json)", l.Format),
		})
	}

	switch l.Output {
	case "stdout", "stderr":
	case "file", "both":
		if l.FilePath == "" {
			errs = append(errs, ValidationError{
				Field:   "logging.file_path",
				Message: fmt.Sprintf("file path is required when output is '%s'", l.Output),
			})
		}
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.output",
			Message: fmt.Sprintf("invalid log output: %s (valid: stdout, stderr, file, both)", l.Output),
		})
	}

	if l.MaxSizeMB < 1 {
		errs = append(errs, ValidationError{
			Field:   "logging.max_size_mb",
			Message: "max size must be at least 1 MB",
		})
	}
	if l.MaxBackups < 0 {
		errs = append(errs, ValidationError{
			Field:   "logging.max_backups",
			Message: "max backups cannot be negative",
		})
	}

	return errs
}

var permissionsPattern = regexp.MustCompile(`^0[0-7]{3}$`)

func validateIPC(i *IPCConfig) ValidationErrors {
	var errs ValidationErrors

	if !i.Enabled {
		return errs
	}

	if i.Permissions != "" && !permissionsPattern.MatchString(i.Permissions) {
		errs = append(errs, ValidationError{
			Field:   "ipc.permissions",
			Message: fmt.Sprintf("invalid permissions format: %s (expected octal like 0600)", i.Permissions),
		})
	}

	if i.MaxClients < 1 {
		errs = append(errs, ValidationError{
			Field:   "ipc.max_clients",
			Message: "max clients must be at least 1",
		})
	}

	return errs
}
