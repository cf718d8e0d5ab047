// Package database provides SQLite connectivity for persisted session state.
//
// It opens the database with WAL mode and a busy timeout, verifies the
// connection and applies the embedded schema migrations. The subscription
// store is its only consumer.
//
// Usage:
//
//	db, err := database.Open(database.Config{
//	    Path:        cfg.Database.Path,
//	    WALMode:     cfg.Database.WALMode,
//	    BusyTimeout: cfg.Database.BusyTimeout,
//	})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
//
// Migrations:
//
// The migrations package registers its embedded files through
// RegisterMigrations when imported. Files are named
// YYYYMMDD_HHMMSS_description.up.sql; other files are ignored.
// Applied versions are recorded in schema_migrations. All tables use
// STRICT mode.
//
// MemoryPath opens an in-memory database on a single connection, which is
// what the store tests use.
package database
