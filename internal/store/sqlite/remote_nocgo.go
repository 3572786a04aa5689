//go:build !cgo

package sqlite

import (
	"database/sql"
	"fmt"
)

func openRemote(dsn string) (*sql.DB, error) {
	return nil, fmt.Errorf("libsql urls need a cgo build (CGO_ENABLED=1)")
}
