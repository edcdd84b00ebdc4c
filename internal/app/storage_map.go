package app

import (
	"fmt"
	"strings"
	"time"

	"padbridge/internal/config"
	"padbridge/internal/storage"
)

// mapStorageConfig converts the optional storage section. The bool says
// whether a store should be opened at all; a nil or "none" section means
// the daemon runs without an archive.
func mapStorageConfig(cfg *Config) (storage.Config, bool, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, false, nil
	}
	path := strings.TrimSpace(sc.Path)
	if path == "" {
		return storage.Config{}, false, fmt.Errorf("storage.path is required when storage.driver=%s", driver)
	}

	retention, err := config.ParseDurationOrDefault("storage.retention", sc.Retention, 0)
	if err != nil {
		return storage.Config{}, false, err
	}
	maxBytes := sc.MaxBytes
	if maxBytes < 0 {
		maxBytes = 0
	}

	switch driver {
	case "file":
		return storage.Config{Driver: "file", Path: path, MaxBytes: maxBytes, Retention: retention}, true, nil
	case "sqlite", "sqlite3":
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, false, err
		}
		return storage.Config{Driver: "sqlite", Path: path, BusyTimeout: busy, Retention: retention}, true, nil
	default:
		return storage.Config{}, false, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}
