// Package postgres opens the sqlx record store on PostgreSQL.
package postgres

import (
	"context"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/lexlapax/ragmem/pkg/errors"
	"github.com/lexlapax/ragmem/pkg/mem/ltm/adapters/sqlstore"
)

// Open connects to the database at dsn and initializes the record table.
func Open(ctx context.Context, dsn string) (*sqlstore.Store, error) {
	if dsn == "" {
		return nil, errors.Wrap(errors.ErrInvalidInput, "postgres: DSN is required")
	}

	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "connecting to postgres")
	}

	store, err := sqlstore.New(ctx, db, sqlstore.DialectPostgres)
	if err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}
