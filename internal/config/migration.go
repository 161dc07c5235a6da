package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
)

// MigrationResult contains the result of a configuration migration.
type MigrationResult struct {
	FromVersion int
	ToVersion   int
	Backup      string
	Changes     []string
	Warnings    []string
}

// MigrateConfig upgrades cfg in place to the current version. When
// configPath names an existing file a timestamped backup is written first.
// It returns nil when no migration was needed.
func MigrateConfig(cfg *Config, configPath string) (*MigrationResult, error) {
	if cfg.Version >= Version {
		return nil, nil
	}

	result := &MigrationResult{
		FromVersion: cfg.Version,
		ToVersion:   Version,
	}

	if configPath != "" {
		backup, err := backupConfig(configPath)
		if err != nil {
			result.Warnings = append(result.Warnings, fmt.Sprintf("could not create backup: %v", err))
		} else {
			result.Backup = backup
		}
	}

	for cfg.Version < Version {
		changes, warnings, err := applyMigration(cfg)
		if err != nil {
			return result, fmt.Errorf("migration from v%d to v%d failed: %w", cfg.Version, cfg.Version+1, err)
		}
		result.Changes = append(result.Changes, changes...)
		result.Warnings = append(result.Warnings, warnings...)
	}

	return result, nil
}

func applyMigration(cfg *Config) (changes []string, warnings []string, err error) {
	switch cfg.Version {
	case 0, 1:
		changes, warnings = migrateV1ToV2(cfg)
		cfg.Version = 2
		return changes, warnings, nil
	default:
		return nil, nil, fmt.Errorf("unknown version %d", cfg.Version)
	}
}

// migrateV1ToV2 upgrades the unversioned JSON layout. The trigger key used
// to be implied by the suffix mode; it is now explicit.
func migrateV1ToV2(cfg *Config) (changes []string, warnings []string) {
	if cfg.TriggerMode == "" {
		cfg.TriggerMode = cfg.EffectiveTriggerMode()
		changes = append(changes, fmt.Sprintf("trigger_mode set to %q from suffix mode %q", cfg.TriggerMode, cfg.Suffix.Mode))
	}

	if strings.EqualFold(cfg.HistoryStorageMethod, StorageRelational) {
		cfg.HistoryStorageMethod = StorageSQLite
		changes = append(changes, "history_storage_method renamed from relational to sqlite")
	}

	if cfg.Prefix.Mode == "" {
		cfg.Prefix.Mode = FramingNone
		warnings = append(warnings, "prefix.mode was empty, set to none")
	}
	if cfg.Suffix.Mode == "" {
		cfg.Suffix.Mode = FramingNone
		warnings = append(warnings, "suffix.mode was empty, set to none")
	}

	return changes, warnings
}

func backupConfig(configPath string) (string, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("read config: %w", err)
	}

	backupPath := configPath + ".backup-" + time.Now().Format("20060102-150405")
	if err := os.WriteFile(backupPath, data, 0600); err != nil {
		return "", fmt.Errorf("write backup: %w", err)
	}
	return backupPath, nil
}
