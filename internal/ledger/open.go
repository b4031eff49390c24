package ledger

import (
	"context"
	"fmt"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Ledger is a migrated Store that owns its connection.
type Ledger interface {
	Store
	Issuer
	Close() error
}

var (
	_ Ledger = (*PostgresStore)(nil)
	_ Ledger = (*SQLiteStore)(nil)
)

// Open connects to the ledger for driver. url is a PostgreSQL connection
// string or a SQLite file path.
func Open(ctx context.Context, driver string, url string) (Ledger, error) {
	switch driver {
	case DriverPostgres:
		return OpenPostgres(ctx, url)
	case DriverSQLite:
		return OpenSQLite(ctx, url)
	default:
		return nil, fmt.Errorf("unknown ledger driver %q", driver)
	}
}
