package config

import (
	"fmt"
	"strings"
	"time"
)

// ParseDurationField parses a duration string from the config, naming the
// field path in any error. Empty and whitespace-only values mean zero.
func ParseDurationField(path, raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	switch d, err := time.ParseDuration(raw); {
	case err != nil:
		return 0, fmt.Errorf("%s: %w", path, err)
	case d < 0:
		return 0, fmt.Errorf("%s: negative duration %s", path, d)
	default:
		return d, nil
	}
}

// ParseDurationOrDefault is ParseDurationField with def substituted for a
// zero value.
func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	switch d, err := ParseDurationField(path, raw); {
	case err != nil:
		return 0, err
	case d > 0:
		return d, nil
	default:
		return def, nil
	}
}
