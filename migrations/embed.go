// Package migrations embeds the SQL migration files into the binary.
//
// Importing this package registers the files with the database package, so
// the session store schema is created by db.Migrate without any SQL files on
// disk.
package migrations

import (
	"embed"

	"github.com/nerrad567/gray-logic-session/internal/infrastructure/database"
)

//go:embed *.sql
var files embed.FS

func init() {
	database.RegisterMigrations(files)
}
