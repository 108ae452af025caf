// Package database provides the SQLite store behind the device registry
// and the sensor table.
//
// It opens the database with WAL mode, a busy timeout and foreign keys,
// restricts the file to 0600, and applies versioned SQL migrations that
// the migrations package embeds into the binary.
//
// Usage:
//
//	db, err := database.Open(cfg.Database)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
//
// Migrations are additive: new columns must be nullable or carry a
// default, and every .up.sql has a matching .down.sql.
package database
