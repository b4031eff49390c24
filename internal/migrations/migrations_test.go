package migrations_test

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/garrettladley/plata/internal/migrations"
	"github.com/google/go-cmp/cmp"
	_ "github.com/mattn/go-sqlite3"
)

func TestApplyIsIdempotent(t *testing.T) {
	t.Parallel()

	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("sql.Open() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	ctx := context.Background()

	names, err := migrations.Names()
	if err != nil {
		t.Fatalf("Names() error = %v", err)
	}

	applied, err := migrations.Apply(ctx, db)
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if diff := cmp.Diff(names, applied); diff != "" {
		t.Errorf("first Apply() mismatch (-want +got):\n%s", diff)
	}

	applied, err = migrations.Apply(ctx, db)
	if err != nil {
		t.Fatalf("second Apply() error = %v", err)
	}
	if len(applied) != 0 {
		t.Errorf("second Apply() applied %v, want none", applied)
	}

	for _, table := range []string{"clients", "invoices", "transactions", "client_funds"} {
		var n int
		if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?", table).Scan(&n); err != nil {
			t.Fatalf("lookup %s: %v", table, err)
		}
		if n != 1 {
			t.Errorf("table %s missing", table)
		}
	}
}
