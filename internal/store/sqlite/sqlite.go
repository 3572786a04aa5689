// Package sqlite provides the shared attendance store on SQLite or libSQL.
//
// The database runs in WAL mode so every terminal process can read while one
// writes. Local files are opened with the pure-Go ncruces driver; libsql://
// and https:// URLs go through the libSQL driver, which needs cgo.
//
// Architecture:
//   - attendance_records: one row per member, keyed by code
//   - attendance_changes: append-only change log filled by triggers, so
//     writes from any process (or a sqlite3 shell) are observed
//   - change feed: fsnotify on the database directory for local files,
//     polling for remote URLs; each new change row notifies its branch
//
// Workflow:
//  1. A terminal toggles a member; UpdateStatus writes the row
//  2. The trigger appends (seq, branch) to attendance_changes
//  3. Every process's feed reads rows past its last seq
//  4. Subscribers of that branch re-query
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/eventroll/rollcall/internal/member"
	"github.com/eventroll/rollcall/internal/store"
	"github.com/eventroll/rollcall/internal/store/notify"
)

var (
	_ store.Store        = (*Store)(nil)
	_ store.StatusWriter = (*Store)(nil)
)

// Config holds configuration for the SQLite store.
type Config struct {
	// DSN is a file path or a libsql:// URL.
	DSN string

	// PollInterval is how often the change log is read regardless of
	// file events. Remote databases rely on it alone.
	PollInterval time.Duration

	// DebounceInterval batches bursts of file events into one read.
	DebounceInterval time.Duration

	// ChangeRetention is how many change rows are kept behind the newest.
	ChangeRetention int64

	// Logger for feed activity
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults for dsn.
func DefaultConfig(dsn string) *Config {
	return &Config{
		DSN:              dsn,
		PollInterval:     2 * time.Second,
		DebounceInterval: 50 * time.Millisecond,
		ChangeRetention:  10000,
		Logger:           log.New(os.Stderr, "[sqlite] ", log.LstdFlags),
	}
}

// Store is the attendance store backed by a SQLite database.
type Store struct {
	conn   *sql.DB
	path   string // empty for remote databases
	config *Config

	hub  *notify.Hub
	feed *feed

	mu     sync.RWMutex
	closed bool
}

// IsRemote reports whether dsn names a libSQL server rather than a file.
func IsRemote(dsn string) bool {
	for _, prefix := range []string{"libsql://", "https://", "http://", "wss://", "ws://"} {
		if strings.HasPrefix(dsn, prefix) {
			return true
		}
	}
	return false
}

// Open opens (creating if needed) the database named by config.DSN, creates
// the schema and starts the change feed.
//
// The caller MUST call Close() when done.
func Open(ctx context.Context, config *Config) (*Store, error) {
	if config == nil || config.DSN == "" {
		return nil, fmt.Errorf("sqlite dsn is required")
	}
	defaults := DefaultConfig(config.DSN)
	if config.PollInterval <= 0 {
		config.PollInterval = defaults.PollInterval
	}
	if config.DebounceInterval <= 0 {
		config.DebounceInterval = defaults.DebounceInterval
	}
	if config.ChangeRetention <= 0 {
		config.ChangeRetention = defaults.ChangeRetention
	}
	if config.Logger == nil {
		config.Logger = defaults.Logger
	}

	s := &Store{config: config, hub: notify.NewHub()}

	var err error
	if IsRemote(config.DSN) {
		s.conn, err = openRemote(config.DSN)
	} else {
		s.path = config.DSN
		s.conn, err = openFile(ctx, config.DSN)
	}
	if err != nil {
		return nil, err
	}

	if err := s.InitSchemaContext(ctx); err != nil {
		_ = s.conn.Close()
		return nil, err
	}

	f, err := startFeed(ctx, s)
	if err != nil {
		_ = s.conn.Close()
		return nil, err
	}
	s.feed = f
	return s, nil
}

func openFile(ctx context.Context, path string) (*sql.DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	// busy_timeout in the DSN applies to every pooled connection.
	conn, err := sql.Open("sqlite3", "file:"+path+"?_pragma=busy_timeout(5000)&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := conn.ExecContext(ctx, pragma); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}
	return conn, nil
}

// RawDB returns the underlying sql.DB connection.
func (s *Store) RawDB() *sql.DB {
	return s.conn
}

// Path returns the database file, or "" for a remote database.
func (s *Store) Path() string {
	return s.path
}

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS attendance_records (
		code TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		branch TEXT NOT NULL,
		category TEXT NOT NULL,
		status TEXT NOT NULL CHECK (status IN ('present', 'absent')),
		updated_by TEXT NOT NULL DEFAULT '',
		updated_by_team TEXT NOT NULL DEFAULT '',
		updated_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_attendance_branch
		ON attendance_records(branch, name, code)`,
	`CREATE TABLE IF NOT EXISTS attendance_changes (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		branch TEXT NOT NULL,
		changed_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))
	)`,
	`CREATE TRIGGER IF NOT EXISTS trg_attendance_insert
	AFTER INSERT ON attendance_records
	BEGIN
		INSERT INTO attendance_changes (branch) VALUES (NEW.branch);
	END`,
	`CREATE TRIGGER IF NOT EXISTS trg_attendance_update
	AFTER UPDATE ON attendance_records
	BEGIN
		INSERT INTO attendance_changes (branch) VALUES (NEW.branch);
		INSERT INTO attendance_changes (branch)
			SELECT OLD.branch WHERE OLD.branch <> NEW.branch;
	END`,
	`CREATE TRIGGER IF NOT EXISTS trg_attendance_delete
	AFTER DELETE ON attendance_records
	BEGIN
		INSERT INTO attendance_changes (branch) VALUES (OLD.branch);
	END`,
}

// InitSchema creates the tables and triggers if they don't exist.
// Idempotent.
func (s *Store) InitSchema() error {
	return s.InitSchemaContext(context.Background())
}

// InitSchemaContext creates the schema with context support.
func (s *Store) InitSchemaContext(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := s.conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to initialize schema: %w", err)
		}
	}
	return nil
}

func (s *Store) check(op, key string) error {
	if s.closed {
		return store.Wrap(op, key, store.ErrClosed)
	}
	return nil
}

// QueryByBranch implements store.Store.
func (s *Store) QueryByBranch(ctx context.Context, branch string) ([]member.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(store.OpQuery, branch); err != nil {
		return nil, err
	}

	query := `
	SELECT code, name, branch, category, status,
	       updated_by, updated_by_team, updated_at
	FROM attendance_records
	WHERE branch = ?
	ORDER BY name ASC, code ASC
	`
	rows, err := s.conn.QueryContext(ctx, query, branch)
	if err != nil {
		return nil, store.Wrap(store.OpQuery, branch, fmt.Errorf("failed to query branch: %w", err))
	}
	defer rows.Close()

	records, err := scanRecords(rows)
	if err != nil {
		return nil, store.Wrap(store.OpQuery, branch, err)
	}
	return records, nil
}

func scanRecords(rows *sql.Rows) ([]member.Record, error) {
	var records []member.Record
	for rows.Next() {
		var r member.Record
		var updatedAt string
		if err := rows.Scan(
			&r.Code,
			&r.Name,
			&r.Branch,
			&r.Category,
			&r.Status,
			&r.UpdatedBy,
			&r.UpdatedByTeam,
			&updatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		if t, err := time.Parse(time.RFC3339Nano, updatedAt); err == nil {
			r.UpdatedAt = t
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating records: %w", err)
	}
	return records, nil
}

// UpdateStatus implements store.Store. An unknown code updates nothing and
// returns nil.
func (s *Store) UpdateStatus(ctx context.Context, code string, status member.Status, actor member.Actor) error {
	_, err := s.WriteStatus(ctx, code, status, actor)
	return err
}

// WriteStatus implements store.StatusWriter.
func (s *Store) WriteStatus(ctx context.Context, code string, status member.Status, actor member.Actor) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(store.OpUpdate, code); err != nil {
		return "", err
	}

	query := `
	UPDATE attendance_records
	SET status = ?, updated_by = ?, updated_by_team = ?, updated_at = ?
	WHERE code = ?
	RETURNING branch
	`
	var branch string
	err := s.conn.QueryRowContext(ctx, query,
		status,
		actor.Name,
		actor.Team,
		time.Now().UTC().Format(time.RFC3339Nano),
		code,
	).Scan(&branch)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", store.Wrap(store.OpUpdate, code, fmt.Errorf("failed to update status: %w", err))
	}
	s.feed.drain()
	return branch, nil
}

// InsertMany implements store.Store. The batch is one transaction: a
// duplicate code rolls back every row.
func (s *Store) InsertMany(ctx context.Context, records []member.Record, actor member.Actor) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(store.OpInsert, ""); err != nil {
		return err
	}
	for i := range records {
		if err := records[i].Validate(); err != nil {
			return store.Wrap(store.OpInsert, records[i].Code, err)
		}
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return store.Wrap(store.OpInsert, "", fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
	INSERT INTO attendance_records (
		code, name, branch, category, status,
		updated_by, updated_by_team, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return store.Wrap(store.OpInsert, "", fmt.Errorf("failed to prepare insert: %w", err))
	}
	defer stmt.Close()

	now := time.Now().UTC().Format(time.RFC3339Nano)
	for _, r := range records {
		if _, err := stmt.ExecContext(ctx,
			r.Code,
			r.Name,
			r.Branch,
			r.Category,
			r.Status,
			actor.Name,
			actor.Team,
			now,
		); err != nil {
			return store.Wrap(store.OpInsert, r.Code, fmt.Errorf("failed to insert record: %w", err))
		}
	}

	if err := tx.Commit(); err != nil {
		return store.Wrap(store.OpInsert, "", fmt.Errorf("failed to commit transaction: %w", err))
	}
	s.feed.drain()
	return nil
}

// HasAny implements store.Store.
func (s *Store) HasAny(ctx context.Context) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(store.OpProbe, ""); err != nil {
		return false, err
	}

	var one int
	err := s.conn.QueryRowContext(ctx, "SELECT 1 FROM attendance_records LIMIT 1").Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, store.Wrap(store.OpProbe, "", fmt.Errorf("failed to probe records: %w", err))
	}
	return true, nil
}

// Count returns the number of records in the database.
func (s *Store) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(store.OpProbe, ""); err != nil {
		return 0, err
	}

	var count int
	err := s.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM attendance_records").Scan(&count)
	if err != nil {
		return 0, store.Wrap(store.OpProbe, "", fmt.Errorf("failed to get record count: %w", err))
	}
	return count, nil
}

// Subscribe implements store.Store.
func (s *Store) Subscribe(branch string, onChange func()) (store.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(store.OpSubscribe, branch); err != nil {
		return nil, err
	}
	return s.hub.Subscribe(branch, onChange), nil
}

// Close stops the change feed and closes the database connection.
// Performs a WAL checkpoint for local files.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.feed.stop()
	s.hub.Close()

	if s.path != "" {
		if _, err := s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
			s.config.Logger.Printf("Warning: failed to checkpoint WAL: %v", err)
		}
	}
	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}
