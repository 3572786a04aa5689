package sqlite

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// feed turns new attendance_changes rows into branch notifications.
//
// It reads on file events for the database or its WAL (writes by any
// process, debounced), on the poll ticker, and synchronously after each
// write made through this Store.
type feed struct {
	s       *Store
	watcher *fsnotify.Watcher // nil for remote databases

	drainMu sync.Mutex
	lastSeq int64

	pendingMu sync.Mutex
	pending   bool
	pendingAt time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func startFeed(ctx context.Context, s *Store) (*feed, error) {
	f := &feed{s: s}

	// Only changes made after Open are of interest.
	if err := s.conn.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(seq), 0) FROM attendance_changes").Scan(&f.lastSeq); err != nil {
		return nil, fmt.Errorf("failed to read change log position: %w", err)
	}

	if s.path != "" {
		w, err := fsnotify.NewWatcher()
		if err != nil {
			return nil, fmt.Errorf("failed to create watcher: %w", err)
		}
		dir, err := filepath.Abs(filepath.Dir(s.path))
		if err != nil {
			_ = w.Close()
			return nil, fmt.Errorf("failed to resolve database directory: %w", err)
		}
		if err := w.Add(dir); err != nil {
			_ = w.Close()
			return nil, fmt.Errorf("failed to watch database directory: %w", err)
		}
		f.watcher = w
	}

	f.ctx, f.cancel = context.WithCancel(context.Background())
	f.wg.Add(2)
	go f.watchFileEvents()
	go f.run()
	return f, nil
}

// watchFileEvents queues a read for writes to the database files.
func (f *feed) watchFileEvents() {
	defer f.wg.Done()
	if f.watcher == nil {
		return
	}

	base := filepath.Base(f.s.path)
	for {
		select {
		case <-f.ctx.Done():
			return

		case event, ok := <-f.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			name := filepath.Base(event.Name)
			if name != base && name != base+"-wal" {
				continue
			}
			f.queue()

		case err, ok := <-f.watcher.Errors:
			if !ok {
				return
			}
			f.s.config.Logger.Printf("Watcher error: %v", err)
		}
	}
}

func (f *feed) queue() {
	f.pendingMu.Lock()
	defer f.pendingMu.Unlock()
	if !f.pending {
		f.pending = true
		f.pendingAt = time.Now()
	}
}

func (f *feed) run() {
	defer f.wg.Done()

	debounce := time.NewTicker(f.s.config.DebounceInterval)
	defer debounce.Stop()
	poll := time.NewTicker(f.s.config.PollInterval)
	defer poll.Stop()

	for {
		select {
		case <-f.ctx.Done():
			return

		case <-debounce.C:
			f.pendingMu.Lock()
			ready := f.pending && time.Since(f.pendingAt) >= f.s.config.DebounceInterval
			if ready {
				f.pending = false
			}
			f.pendingMu.Unlock()
			if ready {
				f.drain()
			}

		case <-poll.C:
			f.drain()
			f.prune()
		}
	}
}

// drain reads change rows past lastSeq and notifies each branch once.
func (f *feed) drain() {
	f.drainMu.Lock()
	defer f.drainMu.Unlock()

	rows, err := f.s.conn.QueryContext(f.ctx,
		"SELECT seq, branch FROM attendance_changes WHERE seq > ? ORDER BY seq", f.lastSeq)
	if err != nil {
		if f.ctx.Err() == nil {
			f.s.config.Logger.Printf("Error reading change log: %v", err)
		}
		return
	}

	var branches []string
	seen := make(map[string]struct{})
	last := f.lastSeq
	for rows.Next() {
		var seq int64
		var branch string
		if err := rows.Scan(&seq, &branch); err != nil {
			f.s.config.Logger.Printf("Error scanning change: %v", err)
			_ = rows.Close()
			return
		}
		last = seq
		if _, ok := seen[branch]; !ok {
			seen[branch] = struct{}{}
			branches = append(branches, branch)
		}
	}
	err = rows.Err()
	_ = rows.Close()
	if err != nil {
		f.s.config.Logger.Printf("Error iterating change log: %v", err)
		return
	}

	f.lastSeq = last
	for _, b := range branches {
		f.s.hub.Publish(b)
	}
}

// prune keeps the newest ChangeRetention rows of the change log.
func (f *feed) prune() {
	f.drainMu.Lock()
	cutoff := f.lastSeq - f.s.config.ChangeRetention
	f.drainMu.Unlock()
	if cutoff <= 0 {
		return
	}
	if _, err := f.s.conn.ExecContext(f.ctx,
		"DELETE FROM attendance_changes WHERE seq <= ?", cutoff); err != nil && f.ctx.Err() == nil {
		f.s.config.Logger.Printf("Error pruning change log: %v", err)
	}
}

func (f *feed) stop() {
	f.cancel()
	if f.watcher != nil {
		if err := f.watcher.Close(); err != nil {
			f.s.config.Logger.Printf("Error closing watcher: %v", err)
		}
	}
	f.wg.Wait()
}
