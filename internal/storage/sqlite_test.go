package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func TestOpenSQLiteBootstrapsTables(t *testing.T) {
	t.Parallel()

	dbPath := filepath.Join(t.TempDir(), "jobs.db")
	db, err := OpenSQLite(context.Background(), dbPath)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	for _, table := range []string{"results", "models", "estates"} {
		var name string
		if err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?;", table).Scan(&name); err != nil {
			t.Fatalf("table %q missing: %v", table, err)
		}
	}
}

func TestOpenSQLiteIsIdempotent(t *testing.T) {
	t.Parallel()

	dbPath := filepath.Join(t.TempDir(), "nested", "jobs.db")
	for i := 0; i < 2; i++ {
		db, err := OpenSQLite(context.Background(), dbPath)
		if err != nil {
			t.Fatalf("OpenSQLite #%d: %v", i+1, err)
		}
		_ = db.Close()
	}
}

func TestOpenSQLiteRejectsEmptyPath(t *testing.T) {
	t.Parallel()

	if _, err := OpenSQLite(context.Background(), ""); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestOpenMySQLParsesDSNWithoutConnecting(t *testing.T) {
	t.Parallel()

	db, err := OpenMySQL("apass:secret@tcp(127.0.0.1:1)/apass", time.Second)
	if err != nil {
		t.Fatalf("OpenMySQL: %v", err)
	}
	_ = db.Close()

	if _, err := OpenMySQL("not a dsn", time.Second); err == nil {
		t.Fatal("expected error for malformed dsn")
	}
}
