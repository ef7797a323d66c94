// Package database provides SQLite connectivity for NodeKeeper.
//
// It opens the database with WAL mode and a busy timeout, limits the pool
// to the single writer SQLite supports, and applies schema migrations from
// an fs.FS (normally the embedded migrations package).
//
// Usage:
//
//	db, err := database.Open(database.Config{Path: cfg.Database.Path, WALMode: true, BusyTimeout: 5})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    log.Fatal(err)
//	}
//
// Migrations are additive: new columns must be nullable or carry a default
// so that MigrateDown of the latest step never loses data older code needs.
package database
