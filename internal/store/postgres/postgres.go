// Package postgres provides the shared attendance store on PostgreSQL.
//
// Queries go through database/sql with the pgx driver. Change notification
// uses LISTEN/NOTIFY: a trigger calls pg_notify with the branch of every
// inserted, updated or deleted row, and one dedicated pgx connection per
// Store listens and fans the branch out to subscribers.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver

	"github.com/eventroll/rollcall/internal/member"
	"github.com/eventroll/rollcall/internal/store"
	"github.com/eventroll/rollcall/internal/store/notify"
)

var (
	_ store.Store        = (*Store)(nil)
	_ store.StatusWriter = (*Store)(nil)
)

const (
	defaultDriver = "pgx"
	defaultDSN    = "postgres://localhost/rollcall?sslmode=disable"

	// Channel is the NOTIFY channel carrying branch names.
	Channel = "attendance_changes"
)

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

// Config holds configuration for the Postgres store.
type Config struct {
	DSN string

	// ReconnectDelay is the first wait before re-establishing a dropped
	// listener connection; it doubles up to MaxReconnectDelay.
	ReconnectDelay    time.Duration
	MaxReconnectDelay time.Duration

	Logger *log.Logger
}

// DefaultConfig returns sensible defaults for dsn.
func DefaultConfig(dsn string) *Config {
	if dsn == "" {
		dsn = defaultDSN
	}
	return &Config{
		DSN:               dsn,
		ReconnectDelay:    250 * time.Millisecond,
		MaxReconnectDelay: 10 * time.Second,
		Logger:            log.New(os.Stderr, "[postgres] ", log.LstdFlags),
	}
}

// Store persists attendance records to Postgres.
type Store struct {
	db     *sql.DB
	config *Config
	hub    *notify.Hub

	mu     sync.RWMutex
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
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
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_attendance_branch
		ON attendance_records(branch, name, code)`,
	`CREATE OR REPLACE FUNCTION attendance_notify() RETURNS trigger AS $$
	BEGIN
		IF TG_OP = 'DELETE' THEN
			PERFORM pg_notify('` + Channel + `', OLD.branch);
			RETURN OLD;
		END IF;
		PERFORM pg_notify('` + Channel + `', NEW.branch);
		IF TG_OP = 'UPDATE' AND OLD.branch IS DISTINCT FROM NEW.branch THEN
			PERFORM pg_notify('` + Channel + `', OLD.branch);
		END IF;
		RETURN NEW;
	END;
	$$ LANGUAGE plpgsql`,
	`CREATE OR REPLACE TRIGGER trg_attendance_notify
		AFTER INSERT OR UPDATE OR DELETE ON attendance_records
		FOR EACH ROW EXECUTE FUNCTION attendance_notify()`,
}

// Open connects to Postgres, applies the schema and starts the listener.
// It returns once the listener is subscribed to the channel, so no write
// made after Open returns goes unnoticed.
func Open(ctx context.Context, config *Config) (*Store, error) {
	if config == nil {
		config = DefaultConfig("")
	}
	defaults := DefaultConfig(config.DSN)
	if config.DSN == "" {
		config.DSN = defaults.DSN
	}
	if config.ReconnectDelay <= 0 {
		config.ReconnectDelay = defaults.ReconnectDelay
	}
	if config.MaxReconnectDelay <= 0 {
		config.MaxReconnectDelay = defaults.MaxReconnectDelay
	}
	if config.Logger == nil {
		config.Logger = defaults.Logger
	}

	openMu.Lock()
	db, err := sqlOpen(defaultDriver, config.DSN)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	for _, stmt := range schemaStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("execute ddl: %w", err)
		}
	}

	s := &Store{db: db, config: config, hub: notify.NewHub()}
	s.ctx, s.cancel = context.WithCancel(context.Background())

	conn, err := s.listen(ctx)
	if err != nil {
		s.cancel()
		_ = db.Close()
		return nil, err
	}
	s.wg.Add(1)
	go s.run(conn)
	return s, nil
}

// DB exposes the underlying sql.DB.
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) listen(ctx context.Context) (*pgx.Conn, error) {
	conn, err := pgx.Connect(ctx, s.config.DSN)
	if err != nil {
		return nil, fmt.Errorf("connect listener: %w", err)
	}
	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{Channel}.Sanitize()); err != nil {
		_ = conn.Close(context.Background())
		return nil, fmt.Errorf("listen %s: %w", Channel, err)
	}
	return conn, nil
}

// run forwards notifications until Close, reconnecting with backoff when
// the connection drops. Changes made while disconnected are covered by a
// publish to every subscribed branch after reconnecting.
func (s *Store) run(conn *pgx.Conn) {
	defer s.wg.Done()
	delay := s.config.ReconnectDelay

	for {
		err := s.forward(conn)
		_ = conn.Close(context.Background())
		if s.ctx.Err() != nil {
			return
		}
		s.config.Logger.Printf("Listener error: %v", err)

		for {
			select {
			case <-s.ctx.Done():
				return
			case <-time.After(delay):
			}
			conn, err = s.listen(s.ctx)
			if err == nil {
				break
			}
			s.config.Logger.Printf("Reconnect failed: %v", err)
			delay *= 2
			if delay > s.config.MaxReconnectDelay {
				delay = s.config.MaxReconnectDelay
			}
		}
		delay = s.config.ReconnectDelay
		s.config.Logger.Println("Listener reconnected")
		for _, b := range s.hub.Branches() {
			s.hub.Publish(b)
		}
	}
}

func (s *Store) forward(conn *pgx.Conn) error {
	for {
		n, err := conn.WaitForNotification(s.ctx)
		if err != nil {
			return err
		}
		if n.Channel == Channel {
			s.hub.Publish(n.Payload)
		}
	}
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

	rows, err := s.db.QueryContext(ctx, `
	SELECT code, name, branch, category, status,
	       updated_by, updated_by_team, updated_at
	FROM attendance_records
	WHERE branch = $1
	ORDER BY name ASC, code ASC`, branch)
	if err != nil {
		return nil, store.Wrap(store.OpQuery, branch, fmt.Errorf("select records: %w", err))
	}
	defer func() { _ = rows.Close() }()

	var records []member.Record
	for rows.Next() {
		var r member.Record
		if err := rows.Scan(&r.Code, &r.Name, &r.Branch, &r.Category, &r.Status,
			&r.UpdatedBy, &r.UpdatedByTeam, &r.UpdatedAt); err != nil {
			return nil, store.Wrap(store.OpQuery, branch, fmt.Errorf("scan record: %w", err))
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, store.Wrap(store.OpQuery, branch, fmt.Errorf("iterate records: %w", err))
	}
	return records, nil
}

// UpdateStatus implements store.Store.
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

	var branch string
	err := s.db.QueryRowContext(ctx, `
	UPDATE attendance_records
	SET status = $1, updated_by = $2, updated_by_team = $3, updated_at = now()
	WHERE code = $4
	RETURNING branch`, status, actor.Name, actor.Team, code).Scan(&branch)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", store.Wrap(store.OpUpdate, code, fmt.Errorf("update status: %w", err))
	}
	return branch, nil
}

// InsertMany implements store.Store in a single transaction.
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

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return store.Wrap(store.OpInsert, "", fmt.Errorf("begin tx: %w", err))
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
	INSERT INTO attendance_records (
		code, name, branch, category, status, updated_by, updated_by_team
	) VALUES ($1, $2, $3, $4, $5, $6, $7)`)
	if err != nil {
		return store.Wrap(store.OpInsert, "", fmt.Errorf("prepare insert: %w", err))
	}
	defer func() { _ = stmt.Close() }()

	for _, r := range records {
		if _, err := stmt.ExecContext(ctx, r.Code, r.Name, r.Branch, r.Category, r.Status,
			actor.Name, actor.Team); err != nil {
			return store.Wrap(store.OpInsert, r.Code, fmt.Errorf("insert record: %w", err))
		}
	}
	if err := tx.Commit(); err != nil {
		return store.Wrap(store.OpInsert, "", fmt.Errorf("commit: %w", err))
	}
	return nil
}

// HasAny implements store.Store.
func (s *Store) HasAny(ctx context.Context) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(store.OpProbe, ""); err != nil {
		return false, err
	}

	var exists bool
	if err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM attendance_records)`).Scan(&exists); err != nil {
		return false, store.Wrap(store.OpProbe, "", fmt.Errorf("probe records: %w", err))
	}
	return exists, nil
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

// Close stops the listener and closes the pool.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
	s.hub.Close()
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close postgres: %w", err)
	}
	return nil
}
