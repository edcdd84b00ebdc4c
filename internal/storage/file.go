package storage

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"padbridge/pkg/logx"
)

// fileStore is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.events.jsonl (append-only JSON Lines)
//   - <prefix>.stats.jsonl  (append-only JSON Lines)
//
// A file that grows past the configured cap is compacted down to its
// newest half, so the backend never needs external rotation.
type fileStore struct {
	log      logx.Logger
	maxBytes int64
	keep     time.Duration

	mu     sync.Mutex
	events *appendFile
	stats  *appendFile
}

// appendFile is one jsonl file plus its live append handle.
type appendFile struct {
	path string
	f    *os.File
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	events, err := openAppend(prefix + ".events.jsonl")
	if err != nil {
		return nil, err
	}
	stats, err := openAppend(prefix + ".stats.jsonl")
	if err != nil {
		_ = events.f.Close()
		return nil, err
	}

	return &fileStore{
		log:      log,
		maxBytes: cfg.maxBytes(),
		keep:     cfg.retention(),
		events:   events,
		stats:    stats,
	}, nil
}

func openAppend(path string) (*appendFile, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	return &appendFile{path: path, f: f}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var err1, err2 error
	if s.events != nil {
		err1 = s.events.f.Close()
		s.events = nil
	}
	if s.stats != nil {
		err2 = s.stats.f.Close()
		s.stats = nil
	}
	if err1 != nil {
		return err1
	}
	return err2
}

func (s *fileStore) AppendEvent(ctx context.Context, e EventRecord) error {
	_ = ctx
	if e.At.IsZero() {
		e.At = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendLocked(s.events, e)
}

func (s *fileStore) AppendSnapshot(ctx context.Context, sn StatsSnapshot) error {
	_ = ctx
	if sn.At.IsZero() {
		sn.At = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendLocked(s.stats, sn)
}

func (s *fileStore) appendLocked(af *appendFile, v any) error {
	if af == nil {
		return errors.New("store closed")
	}
	if err := json.NewEncoder(af.f).Encode(v); err != nil {
		return err
	}
	st, err := af.f.Stat()
	if err != nil || st.Size() <= s.maxBytes {
		return nil
	}
	if err := s.compactLocked(af); err != nil {
		s.log.Debug("storage compact failed", logx.String("file", af.path), logx.Err(err))
	}
	return nil
}

func (s *fileStore) RecentEvents(ctx context.Context, limit int) ([]EventRecord, error) {
	_ = ctx
	if limit <= 0 {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.events == nil {
		return nil, errors.New("store closed")
	}
	lines, err := readLines(s.events.path)
	if err != nil {
		return nil, err
	}
	out := make([]EventRecord, 0, len(lines))
	for _, ln := range lines {
		var e EventRecord
		if err := json.Unmarshal(ln, &e); err != nil {
			continue
		}
		out = append(out, e)
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (s *fileStore) Prune(ctx context.Context, keep time.Duration) error {
	_ = ctx
	if keep <= 0 {
		keep = s.keep
	}
	cutoff := time.Now().Add(-keep)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.events == nil || s.stats == nil {
		return errors.New("store closed")
	}
	if err := s.pruneFileLocked(s.events, cutoff); err != nil {
		return err
	}
	return s.pruneFileLocked(s.stats, cutoff)
}

// pruneFileLocked drops lines stamped before cutoff. Lines that do not
// parse go with them.
func (s *fileStore) pruneFileLocked(af *appendFile, cutoff time.Time) error {
	lines, err := readLines(af.path)
	if err != nil {
		return err
	}
	kept := lines[:0]
	for _, ln := range lines {
		var stamp struct {
			At time.Time `json:"at"`
		}
		if err := json.Unmarshal(ln, &stamp); err != nil || stamp.At.Before(cutoff) {
			continue
		}
		kept = append(kept, ln)
	}
	if len(kept) == len(lines) {
		return nil
	}
	return s.rewriteLocked(af, kept)
}

// compactLocked rewrites af keeping only the newest half of its lines.
func (s *fileStore) compactLocked(af *appendFile) error {
	lines, err := readLines(af.path)
	if err != nil {
		return err
	}
	return s.rewriteLocked(af, lines[len(lines)/2:])
}

// rewriteLocked atomically replaces af's content and reopens the append
// handle.
func (s *fileStore) rewriteLocked(af *appendFile, lines [][]byte) error {
	tmp := af.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	for _, ln := range lines {
		if _, err := w.Write(ln); err != nil {
			_ = f.Close()
			return err
		}
		if err := w.WriteByte('\n'); err != nil {
			_ = f.Close()
			return err
		}
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}

	_ = af.f.Close()
	renameErr := os.Rename(tmp, af.path)
	nf, openErr := os.OpenFile(af.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if openErr != nil {
		return openErr
	}
	af.f = nf
	return renameErr
}

func readLines(path string) ([][]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var lines [][]byte
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		if len(bytes.TrimSpace(sc.Bytes())) == 0 {
			continue
		}
		ln := make([]byte, len(sc.Bytes()))
		copy(ln, sc.Bytes())
		lines = append(lines, ln)
	}
	return lines, sc.Err()
}
