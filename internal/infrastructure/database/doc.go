// Package database opens the SQLite file that backs the device registry and
// applies its schema migrations.
//
// The connection runs in WAL mode with a busy timeout, limited to a single
// writer. Migrations are plain SQL files named
// YYYYMMDD_HHMMSS_description.up.sql (with an optional .down.sql twin),
// supplied as an fs.FS so they can be embedded in the binary:
//
//	db, err := database.Open(ctx, database.Config{Path: cfg.Database.Path, WALMode: true})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
package database
