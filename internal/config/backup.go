package config

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"
)

// MaxConfigBackups is the number of user config backups kept by BackupUserConfig.
const MaxConfigBackups = 3

// BackupUserConfig copies the user config to config.yaml.bak.<timestamp>
// before `config init --force` overwrites it. Returns "" if there is nothing to back up.
func BackupUserConfig() (string, error) {
	path := GetUserConfigPath()
	if !fileExists(path) {
		return "", nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read config for backup: %w", err)
	}

	backup := fmt.Sprintf("%s.bak.%s", path, time.Now().Format("20060102-150405.000"))
	if err := os.WriteFile(backup, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write backup: %w", err)
	}

	pruneConfigBackups(path, MaxConfigBackups)
	return backup, nil
}

// pruneConfigBackups keeps the newest keep backups. Timestamps sort lexically.
func pruneConfigBackups(path string, keep int) {
	matches, err := filepath.Glob(path + ".bak.*")
	if err != nil || len(matches) <= keep {
		return
	}
	slices.SortFunc(matches, func(a, b string) int { return strings.Compare(b, a) })
	for _, m := range matches[keep:] {
		_ = os.Remove(m)
	}
}
