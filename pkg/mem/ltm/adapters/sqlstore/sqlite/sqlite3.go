// Package sqlite opens the sqlx record store on a SQLite database file.
package sqlite

import (
	"context"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/lexlapax/ragmem/pkg/errors"
	"github.com/lexlapax/ragmem/pkg/mem/ltm/adapters/sqlstore"
)

// Open opens (or creates) the database file at path and initializes the
// record table. Timestamps are stored in UTC.
func Open(ctx context.Context, path string) (*sqlstore.Store, error) {
	if path == "" {
		return nil, errors.Wrap(errors.ErrInvalidInput, "sqlite: path is required")
	}

	db, err := sqlx.ConnectContext(ctx, "sqlite3", "file:"+path+"?_loc=UTC&_busy_timeout=5000")
	if err != nil {
		return nil, errors.Wrap(err, "opening sqlite database at %s", path)
	}

	// SQLite allows one writer at a time; a single connection avoids
	// SQLITE_BUSY under concurrent writes.
	db.SetMaxOpenConns(1)

	store, err := sqlstore.New(ctx, db, sqlstore.DialectSQLite)
	if err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}
