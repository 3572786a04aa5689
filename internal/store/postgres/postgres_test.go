package postgres

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/eventroll/rollcall/internal/member"
	"github.com/eventroll/rollcall/internal/store"
	"github.com/eventroll/rollcall/internal/store/storetest"
)

// testDSN returns the database used by integration tests, skipping when
// none is configured.
func testDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("ROLLCALL_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("ROLLCALL_TEST_POSTGRES_DSN not set")
	}
	return dsn
}

func openTestStore(t *testing.T) *Store {
	t.Helper()
	cfg := DefaultConfig(testDSN(t))
	cfg.Logger = log.New(io.Discard, "", 0)
	s, err := Open(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := s.DB().Exec(`TRUNCATE attendance_records`); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	return s
}

func overrideSQLOpen(fn func(driverName, dsn string) (*sql.DB, error)) func() {
	openMu.Lock()
	prev := sqlOpen
	sqlOpen = fn
	openMu.Unlock()
	return func() {
		openMu.Lock()
		sqlOpen = prev
		openMu.Unlock()
	}
}

func TestOpenReportsDriverErrors(t *testing.T) {
	restore := overrideSQLOpen(func(string, string) (*sql.DB, error) {
		return nil, errors.New("no driver")
	})
	defer restore()

	_, err := Open(context.Background(), DefaultConfig("postgres://ignored"))
	if err == nil || !strings.Contains(err.Error(), "no driver") {
		t.Fatalf("expected driver error, got %v", err)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig("")
	if cfg.DSN != defaultDSN {
		t.Fatalf("DSN = %q, want %q", cfg.DSN, defaultDSN)
	}
	if cfg.ReconnectDelay <= 0 || cfg.MaxReconnectDelay < cfg.ReconnectDelay {
		t.Fatalf("bad reconnect delays: %v / %v", cfg.ReconnectDelay, cfg.MaxReconnectDelay)
	}
}

func TestSchemaNotifiesOnEveryWrite(t *testing.T) {
	var fn, trigger string
	for _, stmt := range schemaStatements {
		switch {
		case strings.Contains(stmt, "CREATE OR REPLACE FUNCTION attendance_notify"):
			fn = stmt
		case strings.Contains(stmt, "TRIGGER trg_attendance_notify"):
			trigger = stmt
		}
	}
	if !strings.Contains(fn, "pg_notify('"+Channel+"', OLD.branch)") {
		t.Fatalf("notify function must publish the old branch: %s", fn)
	}
	if strings.Contains(fn, "TRIGGER trg_attendance_notify") {
		t.Fatalf("function statement matched the trigger: %s", fn)
	}
	if trigger == "" {
		t.Fatal("no trigger statement in schema")
	}
	if !strings.Contains(trigger, "INSERT OR UPDATE OR DELETE") {
		t.Fatalf("trigger must cover every write: %s", trigger)
	}
}

func TestConformance(t *testing.T) {
	testDSN(t)
	storetest.Run(t, func(t *testing.T) store.Store { return openTestStore(t) })
}

func TestNotifyAcrossStores(t *testing.T) {
	writer := openTestStore(t)
	defer writer.Close()
	reader := openTestStore(t)
	defer reader.Close()

	ctx := context.Background()
	if err := writer.InsertMany(ctx, storetest.Fixture(), member.SystemActor); err != nil {
		t.Fatalf("InsertMany: %v", err)
	}
	time.Sleep(200 * time.Millisecond)

	got := make(chan struct{}, 4)
	sub, err := reader.Subscribe("Giza", func() {
		select {
		case got <- struct{}{}:
		default:
		}
	})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer sub.Cancel()

	if err := writer.UpdateStatus(ctx, "G1", member.StatusPresent, member.Actor{Name: "Mona", Team: "external"}); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	storetest.WaitFor(t, got, "Giza notification on second store")
}
