package config

import (
	"encoding/json"

	"github.com/cespare/xxhash/v2"
)

// checksum fingerprints a normalized config. Zero means "unknown" and never
// matches, so a marshaling failure can only cause an extra reload, never a
// missed one.
func checksum(cfg *Config) uint64 {
	if cfg == nil {
		return 0
	}
	b, err := json.Marshal(cfg)
	if err != nil {
		return 0
	}
	return xxhash.Sum64(b)
}
