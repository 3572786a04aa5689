//go:build cgo

package sqlite

import (
	"database/sql"
	"fmt"

	_ "github.com/tursodatabase/go-libsql"
)

// openRemote connects to a libSQL server. Credentials travel in the URL
// (libsql://host?authToken=...).
func openRemote(dsn string) (*sql.DB, error) {
	conn, err := sql.Open("libsql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open libsql database: %w", err)
	}
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping libsql database: %w", err)
	}
	return conn, nil
}
