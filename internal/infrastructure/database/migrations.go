package database

import (
	"context"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	upSuffix = ".up.sql"

	// versionLength is len("YYYYMMDD_HHMMSS").
	versionLength = 15
)

var (
	sourceMu sync.RWMutex
	source   fs.FS
)

// RegisterMigrations sets the filesystem Migrate reads from. Files live at
// its root and are named YYYYMMDD_HHMMSS_description.up.sql. Other files
// are ignored.
func RegisterMigrations(fsys fs.FS) {
	sourceMu.Lock()
	source = fsys
	sourceMu.Unlock()
}

func registeredMigrations() fs.FS {
	sourceMu.RLock()
	defer sourceMu.RUnlock()
	return source
}

// Migration is one schema step.
type Migration struct {
	Version string
	Name    string
	Up      string
}

// Migrate applies every pending migration in version order. Each migration
// runs in its own transaction; a failure leaves earlier ones committed and
// the next call resumes from the failed one.
func (db *DB) Migrate(ctx context.Context) error {
	if err := db.ensureMigrationsTable(ctx); err != nil {
		return err
	}

	pending, err := db.pendingMigrations(ctx)
	if err != nil {
		return err
	}

	for _, m := range pending {
		if err := db.runMigration(ctx, m); err != nil {
			return fmt.Errorf("applying migration %s (%s): %w", m.Version, m.Name, err)
		}
	}
	return nil
}

// SchemaVersion returns the latest applied version, or "" for an empty
// schema.
func (db *DB) SchemaVersion(ctx context.Context) (string, error) {
	var version string
	err := db.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(version), '') FROM schema_migrations",
	).Scan(&version)
	if err != nil {
		return "", fmt.Errorf("reading schema version: %w", err)
	}
	return version, nil
}

// PendingMigrations lists registered migrations not yet applied.
func (db *DB) PendingMigrations(ctx context.Context) ([]Migration, error) {
	if err := db.ensureMigrationsTable(ctx); err != nil {
		return nil, err
	}
	return db.pendingMigrations(ctx)
}

func (db *DB) ensureMigrationsTable(ctx context.Context) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TEXT NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("creating migrations table: %w", err)
	}
	return nil
}

func (db *DB) pendingMigrations(ctx context.Context) ([]Migration, error) {
	all, err := loadMigrations(registeredMigrations())
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, "SELECT version FROM schema_migrations")
	if err != nil {
		return nil, fmt.Errorf("querying migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[string]struct{})
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scanning migration row: %w", err)
		}
		applied[v] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating migrations: %w", err)
	}

	var pending []Migration
	for _, m := range all {
		if _, ok := applied[m.Version]; !ok {
			pending = append(pending, m)
		}
	}
	return pending, nil
}

// runMigration executes one script and records its version in the same
// transaction.
func (db *DB) runMigration(ctx context.Context, m Migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // No-op after commit

	if _, err := tx.ExecContext(ctx, m.Up); err != nil {
		return fmt.Errorf("executing SQL: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		"INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)",
		m.Version, time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("updating schema_migrations: %w", err)
	}

	return tx.Commit()
}

// loadMigrations reads every up script from fsys, sorted by version.
// A nil fsys has no migrations.
func loadMigrations(fsys fs.FS) ([]Migration, error) {
	if fsys == nil {
		return nil, nil
	}

	ups, err := fs.Glob(fsys, "*"+upSuffix)
	if err != nil {
		return nil, fmt.Errorf("listing migrations: %w", err)
	}

	migrations := make([]Migration, 0, len(ups))
	for _, upFile := range ups {
		stem := strings.TrimSuffix(upFile, upSuffix)
		version, name, ok := splitMigrationName(stem)
		if !ok {
			continue
		}

		up, err := fs.ReadFile(fsys, upFile)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", upFile, err)
		}
		migrations = append(migrations, Migration{Version: version, Name: name, Up: string(up)})
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})
	return migrations, nil
}

// splitMigrationName splits "20260301_090000_create_subscriptions" into
// version "20260301_090000" and name "create_subscriptions".
func splitMigrationName(stem string) (version, name string, ok bool) {
	if len(stem) < versionLength || stem[8] != '_' {
		return "", "", false
	}
	if len(stem) > versionLength && stem[versionLength] != '_' {
		return "", "", false
	}
	for i, r := range stem[:versionLength] {
		if i == 8 {
			continue
		}
		if r < '0' || r > '9' {
			return "", "", false
		}
	}

	version = stem[:versionLength]
	name = strings.TrimPrefix(stem[versionLength:], "_")
	if name == "" {
		name = version
	}
	return version, name, true
}
