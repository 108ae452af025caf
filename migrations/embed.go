// Package migrations embeds the schema files into the binary and registers
// them with the database package.
package migrations

import (
	"embed"

	"github.com/nerrad567/gray-logic-ingest/internal/infrastructure/database"
)

//go:embed *.sql
var migrationsFS embed.FS

func init() {
	database.RegisterMigrations(migrationsFS, ".")
}
