// Package database provides the SQLite connection used by the Freebox bridge.
//
// The database is small: it persists the app token of the box so the bridge
// does not have to be paired again after a restart. The file is created with
// 0600 permissions because the token grants control of the home devices.
//
// Usage:
//
//	db, err := database.Open(database.Config{Path: cfg.Database.Path, WALMode: true})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
//
// Migrations are plain SQL files named YYYYMMDD_HHMMSS_description.up.sql
// (with an optional .down.sql) and are applied in version order, each in its
// own transaction.
package database
