package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/uptrace/bun"
)

func TestApplyEmbeddedMigrations(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "embedded.db")
	db, err := OpenDB(dbPath)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() {
		_ = db.Close()
	})

	if err := ApplyMigrations(context.Background(), db, ""); err != nil {
		t.Fatalf("apply embedded migrations: %v", err)
	}

	for _, table := range []string{"grpo_documents", "grpo_lines", "grpo_serial_numbers", "grn_batches", "grn_po_links", "grn_line_selections", "audit_logs"} {
		var count int64
		err = db.WithReadTx(context.Background(), func(ctx context.Context, tx bun.Tx) error {
			return tx.NewRaw(
				`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, table,
			).Scan(ctx, &count)
		})
		if err != nil {
			t.Fatalf("query sqlite_master: %v", err)
		}
		if count != 1 {
			t.Fatalf("expected table %s after embedded migrations, got %d", table, count)
		}
	}
}
