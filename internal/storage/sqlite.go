//go:build sqlite

package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"padbridge/pkg/logx"
)

//go:embed migrations.sql
var schemaFS embed.FS

// sqliteStore keeps events and snapshots in one database file. Retention
// is enforced opportunistically: every sweepEvery successful writes a
// short bounded prune runs inline, so the file stays small without a
// dedicated sweeper goroutine.
type sqliteStore struct {
	db   *sql.DB
	log  logx.Logger
	keep time.Duration

	writes     atomic.Uint64
	sweepEvery uint64
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for sqlite driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One writer; SQLite serializes anyway and a single connection avoids
	// SQLITE_BUSY churn under the telemetry write rate.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	st := &sqliteStore{db: db, log: log, keep: cfg.retention(), sweepEvery: 500}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	schema, err := schemaFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(schema))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) AppendEvent(ctx context.Context, e EventRecord) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO events(at_ms, kind, subject, detail) VALUES(?,?,?,?)`,
		e.At.UnixMilli(), e.Kind, e.Subject, nullStr(e.Detail),
	)
	s.maybeSweep(err)
	return err
}

func (s *sqliteStore) AppendSnapshot(ctx context.Context, sn StatsSnapshot) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if sn.At.IsZero() {
		sn.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO stats_snapshots(at_ms, active, total, completed, failed, executions, cpu_percent, uptime_ms)
		 VALUES(?,?,?,?,?,?,?,?)`,
		sn.At.UnixMilli(), sn.Active, sn.Total, sn.Completed, sn.Failed,
		sn.Executions, sn.CPUPercent, sn.Uptime.Milliseconds(),
	)
	s.maybeSweep(err)
	return err
}

func (s *sqliteStore) RecentEvents(ctx context.Context, limit int) ([]EventRecord, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT at_ms, kind, subject, COALESCE(detail, '')
		 FROM events ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []EventRecord
	for rows.Next() {
		var ms int64
		var e EventRecord
		if err := rows.Scan(&ms, &e.Kind, &e.Subject, &e.Detail); err != nil {
			return nil, err
		}
		e.At = time.UnixMilli(ms)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// The query walks newest first; callers want oldest first.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (s *sqliteStore) Prune(ctx context.Context, keep time.Duration) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if keep <= 0 {
		keep = s.keep
	}
	cutoff := time.Now().Add(-keep).UnixMilli()
	if _, err := s.db.ExecContext(ctx, `DELETE FROM events WHERE at_ms < ?`, cutoff); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM stats_snapshots WHERE at_ms < ?`, cutoff)
	return err
}

func (s *sqliteStore) maybeSweep(writeErr error) {
	if writeErr != nil || s.writes.Add(1)%s.sweepEvery != 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := s.Prune(ctx, 0); err != nil {
		s.log.Debug("storage retention sweep failed", logx.Err(err))
	}
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
