package database

import (
	"context"
	"embed"
	"io/fs"
	"testing"
	"testing/fstest"
	"time"
)

//go:embed testdata/*.sql
var testdataFS embed.FS

// useMigrations registers fsys for the duration of the test.
func useMigrations(t *testing.T, fsys fs.FS) {
	t.Helper()

	prev := registeredMigrations()
	RegisterMigrations(fsys)
	t.Cleanup(func() { RegisterMigrations(prev) })
}

func testdataMigrations(t *testing.T) fs.FS {
	t.Helper()

	sub, err := fs.Sub(testdataFS, "testdata")
	if err != nil {
		t.Fatalf("fs.Sub() error = %v", err)
	}
	return sub
}

func tableExists(t *testing.T, db *DB, name string) bool {
	t.Helper()

	var n int
	err := db.QueryRowContext(context.Background(),
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", name,
	).Scan(&n)
	if err != nil {
		t.Fatalf("querying sqlite_master: %v", err)
	}
	return n == 1
}

// =============================================================================
// Migrate
// =============================================================================

func TestMigrate(t *testing.T) {
	useMigrations(t, testdataMigrations(t))
	db := openTestDB(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	if !tableExists(t, db, "test_topics") {
		t.Fatal("table test_topics not created")
	}

	version, err := db.SchemaVersion(ctx)
	if err != nil {
		t.Fatalf("SchemaVersion() error = %v", err)
	}
	if version != "20260101_000000" {
		t.Errorf("SchemaVersion() = %q, want 20260101_000000", version)
	}

	pending, err := db.PendingMigrations(ctx)
	if err != nil {
		t.Fatalf("PendingMigrations() error = %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("PendingMigrations() = %d, want 0", len(pending))
	}

	// Idempotent
	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("second Migrate() error = %v", err)
	}
}

func TestMigrate_Ordered(t *testing.T) {
	useMigrations(t, fstest.MapFS{
		"20260102_000000_add_column.up.sql": {Data: []byte("ALTER TABLE topics ADD COLUMN note TEXT;")},
		"20260101_000000_topics.up.sql":     {Data: []byte("CREATE TABLE topics (topic TEXT PRIMARY KEY);")},
		"20260101_000000_topics.down.sql":   {Data: []byte("DROP TABLE topics;")},
		"README.md":                         {Data: []byte("not a migration")},
	})
	db := openTestDB(t)
	ctx := context.Background()

	pending, err := db.PendingMigrations(ctx)
	if err != nil {
		t.Fatalf("PendingMigrations() error = %v", err)
	}
	if len(pending) != 2 || pending[0].Name != "topics" || pending[1].Name != "add_column" {
		t.Fatalf("PendingMigrations() = %+v, want topics then add_column", pending)
	}

	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	if _, err := db.ExecContext(ctx, "INSERT INTO topics (topic, note) VALUES ('a', 'b')"); err != nil {
		t.Errorf("insert after migrations error = %v", err)
	}

	pending, err = db.PendingMigrations(ctx)
	if err != nil || len(pending) != 0 {
		t.Errorf("PendingMigrations() after Migrate = %+v, %v; want none", pending, err)
	}
}

func TestMigrate_FailureKeepsEarlier(t *testing.T) {
	useMigrations(t, fstest.MapFS{
		"20260101_000000_ok.up.sql":     {Data: []byte("CREATE TABLE ok (v INTEGER);")},
		"20260102_000000_broken.up.sql": {Data: []byte("CREATE TABL broken;")},
	})
	db := openTestDB(t)
	ctx := context.Background()

	if err := db.Migrate(ctx); err == nil {
		t.Fatal("Migrate() error = nil, want failure")
	}
	if !tableExists(t, db, "ok") {
		t.Error("earlier migration rolled back")
	}
	version, _ := db.SchemaVersion(ctx)
	if version != "20260101_000000" {
		t.Errorf("SchemaVersion() = %q, want 20260101_000000", version)
	}
}

func TestMigrate_NoSource(t *testing.T) {
	useMigrations(t, nil)
	db := openTestDB(t)

	if err := db.Migrate(context.Background()); err != nil {
		t.Errorf("Migrate() with no source error = %v", err)
	}
}

// =============================================================================
// File names
// =============================================================================

func TestSplitMigrationName(t *testing.T) {
	tests := []struct {
		stem        string
		wantVersion string
		wantName    string
		wantOK      bool
	}{
		{"20260301_090000_create_subscriptions", "20260301_090000", "create_subscriptions", true},
		{"20260301_090000", "20260301_090000", "20260301_090000", true},
		{"20260301_09000x_bad", "", "", false},
		{"20260301-090000_bad", "", "", false},
		{"20260301_0900001_bad", "", "", false},
		{"short", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.stem, func(t *testing.T) {
			version, name, ok := splitMigrationName(tt.stem)
			if ok != tt.wantOK {
				t.Fatalf("splitMigrationName(%q) ok = %v, want %v", tt.stem, ok, tt.wantOK)
			}
			if version != tt.wantVersion || name != tt.wantName {
				t.Errorf("splitMigrationName(%q) = (%q, %q), want (%q, %q)",
					tt.stem, version, name, tt.wantVersion, tt.wantName)
			}
		})
	}
}
