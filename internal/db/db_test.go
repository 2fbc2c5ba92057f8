package db

import (
	"os"
	"path/filepath"
	"testing"
)

var testMigrations = []Migration{
	{Version: 1, SQL: `CREATE TABLE IF NOT EXISTS widgets (id TEXT PRIMARY KEY, status TEXT NOT NULL);
		CREATE INDEX IF NOT EXISTS idx_widgets_status ON widgets(status);`},
	{Version: 2, SQL: `CREATE TABLE IF NOT EXISTS gadgets (id TEXT PRIMARY KEY);`},
}

func TestOpen(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	db, err := Open(dbPath, testMigrations)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer db.Close()

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Errorf("database file not created at %s", dbPath)
	}

	var journalMode string
	if err := db.QueryRow("PRAGMA journal_mode;").Scan(&journalMode); err != nil {
		t.Fatalf("failed to query journal_mode: %v", err)
	}
	if journalMode != "wal" {
		t.Errorf("journal_mode = %s, want wal", journalMode)
	}

	for _, table := range []string{"widgets", "gadgets"} {
		var name string
		err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		if err != nil {
			t.Errorf("table %s not found: %v", table, err)
		}
	}
}

func TestOpen_CreatesDirectories(t *testing.T) {
	tmpDir := t.TempDir()
	baseDir := filepath.Join(tmpDir, "nested", "path", ".roam")

	db, err := Open(filepath.Join(baseDir, "test.db"), testMigrations)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer db.Close()

	if _, err := os.Stat(baseDir); os.IsNotExist(err) {
		t.Errorf("base directory not created at %s", baseDir)
	}
}

func TestUserVersion(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "test.db"), testMigrations)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer db.Close()

	version, err := GetUserVersion(db)
	if err != nil {
		t.Fatalf("GetUserVersion() error = %v", err)
	}
	if version != 2 {
		t.Errorf("user_version after Open = %d, want 2", version)
	}

	if err := SetUserVersion(db, 99); err != nil {
		t.Fatalf("SetUserVersion() error = %v", err)
	}
	version, err = GetUserVersion(db)
	if err != nil {
		t.Fatalf("GetUserVersion() error = %v", err)
	}
	if version != 99 {
		t.Errorf("user_version = %d, want 99", version)
	}
}

func TestOpen_MigrationIdempotent(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	db1, err := Open(dbPath, testMigrations[:1])
	if err != nil {
		t.Fatalf("first Open() error = %v", err)
	}
	if _, err := db1.Exec("INSERT INTO widgets (id, status) VALUES ('w1', 'ok')"); err != nil {
		t.Fatalf("insert: %v", err)
	}
	db1.Close()

	// Reopening with an extra migration upgrades without disturbing data
	db2, err := Open(dbPath, testMigrations)
	if err != nil {
		t.Fatalf("second Open() error = %v", err)
	}
	defer db2.Close()

	var count int
	if err := db2.QueryRow("SELECT COUNT(*) FROM widgets").Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Errorf("widgets count = %d, want 1", count)
	}

	version, err := GetUserVersion(db2)
	if err != nil {
		t.Fatalf("GetUserVersion() error = %v", err)
	}
	if version != 2 {
		t.Errorf("user_version after upgrade = %d, want 2", version)
	}
}

func TestOpen_ReapplyingMigrationDoesNotFail(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	db, err := Open(dbPath, testMigrations)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	// Force the migrations to run again against existing tables
	if err := SetUserVersion(db, 0); err != nil {
		t.Fatalf("SetUserVersion() error = %v", err)
	}
	db.Close()

	db, err = Open(dbPath, testMigrations)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	db.Close()
}

func TestOpen_FailedMigrationRollsBack(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	broken := []Migration{
		testMigrations[0],
		{Version: 2, SQL: `CREATE TABLE half (id TEXT); CREATE TABLE broken (`},
	}

	if _, err := Open(dbPath, broken); err == nil {
		t.Fatal("Open() with a broken migration succeeded")
	}

	db, err := Open(dbPath, testMigrations[:1])
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer db.Close()

	version, err := GetUserVersion(db)
	if err != nil {
		t.Fatalf("GetUserVersion() error = %v", err)
	}
	if version != 1 {
		t.Errorf("user_version = %d, want 1", version)
	}
	var n int
	if err := db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE name = 'half'").Scan(&n); err != nil {
		t.Fatalf("sqlite_master: %v", err)
	}
	if n != 0 {
		t.Error("table from the failed migration was kept")
	}
}

func TestOpen_RejectsUnorderedMigrations(t *testing.T) {
	unordered := []Migration{testMigrations[1], testMigrations[0]}
	if _, err := Open(filepath.Join(t.TempDir(), "test.db"), unordered); err == nil {
		t.Fatal("Open() accepted migrations out of order")
	}
}
