package db

import (
	"context"
	"path/filepath"
	"testing"
)

func TestOpenCreatesSchemaAndMigrations(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mediaq.db")
	conn, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	_ = conn.Close()

	// Reopening an existing database must be a no-op.
	conn, err = Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer conn.Close()

	rows, err := conn.QueryContext(context.Background(), `SELECT name FROM pragma_table_info('jobs')`)
	if err != nil {
		t.Fatalf("table info: %v", err)
	}
	defer rows.Close()
	cols := map[string]bool{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			t.Fatalf("scan: %v", err)
		}
		cols[name] = true
	}
	for _, want := range []string{"id", "status", "progress", "clip_start", "clip_end", "finished_at"} {
		if !cols[want] {
			t.Fatalf("missing column %s in %v", want, cols)
		}
	}
}
