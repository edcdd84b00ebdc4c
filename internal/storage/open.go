package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"padbridge/pkg/logx"
)

// Store persists events and stats snapshots for the recorder and the
// housekeeping jobs.
type Store interface {
	AppendEvent(ctx context.Context, e EventRecord) error
	AppendSnapshot(ctx context.Context, s StatsSnapshot) error
	// RecentEvents returns up to limit newest events, oldest first.
	RecentEvents(ctx context.Context, limit int) ([]EventRecord, error)
	// Prune drops events and snapshots older than keep. keep <= 0 falls
	// back to the configured retention.
	Prune(ctx context.Context, keep time.Duration) error
	Close() error
}

// Open builds the configured store. Disabled storage yields (nil, nil);
// callers treat a nil Store as "do not record".
func Open(cfg Config, log logx.Logger) (Store, error) {
	switch driver := strings.ToLower(strings.TrimSpace(cfg.Driver)); driver {
	case "", "none":
		return nil, nil
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, fmt.Errorf("storage: unknown driver %q", driver)
	}
}
