package config

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/fsnotify/fsnotify"

	"padbridge/pkg/logx"
)

// debounceWindow batches the burst of filesystem events an editor save
// produces into one reload. It also rides out the moment where the file
// exists but is only partially written.
const debounceWindow = 250 * time.Millisecond

// Watch follows the config file until ctx is canceled. Each settled change
// is parsed, validated and, when accepted, committed and published. A
// broken watcher is rebuilt with jittered exponential backoff so the watch
// survives editors and filesystems that invalidate inotify state.
func (m *ConfigManager) Watch(ctx context.Context) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 250 * time.Millisecond
	bo.MaxInterval = 5 * time.Second
	bo.MaxElapsedTime = 0
	bo.Reset()

	for {
		began := time.Now()
		err := m.watchOnce(ctx)
		if ctx.Err() != nil || err == nil {
			return nil
		}
		if time.Since(began) > time.Minute {
			bo.Reset()
		}
		delay := bo.NextBackOff()
		m.log.Warn("config watcher failed; rebuilding",
			logx.Err(err),
			logx.Duration("delay", delay))
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
	}
}

// watchOnce runs a single watcher until it breaks or ctx ends. It returns
// nil only for ctx cancellation.
func (m *ConfigManager) watchOnce(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("fsnotify: %w", err)
	}
	defer w.Close()

	// Watch the directory, not the file: rename-over saves replace the
	// inode and a file watch would silently go stale.
	dir := filepath.Dir(m.path)
	base := filepath.Base(m.path)
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	m.log.Debug("config watcher armed",
		logx.String("dir", dir), logx.String("file", base))

	var (
		pendMu  sync.Mutex
		pending *time.Timer
	)
	queue := func() {
		pendMu.Lock()
		defer pendMu.Unlock()
		if pending != nil {
			pending.Stop()
		}
		pending = time.AfterFunc(debounceWindow, func() { m.reload(ctx) })
	}
	defer func() {
		pendMu.Lock()
		if pending != nil {
			pending.Stop()
		}
		pendMu.Unlock()
	}()

	// Resync once per watcher: a change may have landed while no watcher
	// was live. The checksum keeps this a no-op for unchanged content.
	queue()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return errors.New("event channel closed")
			}
			// Match by basename; event paths vary between absolute and
			// relative depending on how the directory was added.
			if strings.EqualFold(filepath.Base(ev.Name), base) {
				queue()
			}
		case err, ok := <-w.Errors:
			if !ok {
				return errors.New("error channel closed")
			}
			if err == nil {
				continue
			}
			if strings.Contains(strings.ToLower(err.Error()), "overflow") {
				m.log.Warn("config watch overflow; forcing reload", logx.Err(err))
				queue()
				continue
			}
			return err
		}
	}
}

// reload re-parses the file and, when the content is genuinely new and
// passes validation, commits and publishes it. Any failure leaves the live
// config untouched.
func (m *ConfigManager) reload(ctx context.Context) {
	cfg, err := m.Parse()
	if err != nil {
		m.log.Warn("config reload skipped",
			logx.String("path", m.path), logx.Err(err))
		return
	}

	sum := checksum(cfg)
	m.mu.RLock()
	unchanged := sum != 0 && sum == m.lastSum
	m.mu.RUnlock()
	if unchanged {
		m.log.Debug("config content unchanged; not publishing")
		return
	}

	if m.validator != nil {
		vctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := m.validator(vctx, cfg)
		cancel()
		if err != nil {
			m.log.Warn("config change rejected", logx.Err(err))
			return
		}
	}

	m.Commit(cfg)
	m.publish(cfg)
	m.log.Debug("config reloaded",
		logx.String("path", m.path),
		logx.String("sum", strconv.FormatUint(sum, 16)))
}
