// Package sqlstore implements the record store on a relational database
// through sqlx. The same implementation serves SQLite and PostgreSQL;
// queries are written with ? placeholders and rebound per driver, and
// the tags, metadata, and chunk list are stored as JSON text columns.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/lexlapax/ragmem/pkg/errors"
	"github.com/lexlapax/ragmem/pkg/log"
	"github.com/lexlapax/ragmem/pkg/mem/ltm"
	"github.com/lexlapax/ragmem/pkg/session"
)

// DefaultTable is used when no table name is given.
const DefaultTable = "memory_records"

// Dialect selects the DDL variant for the backing database.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// Store is a sqlx backed ltm.RecordStore.
type Store struct {
	db    *sqlx.DB
	table string
}

// New wraps an open sqlx handle and creates the record table and its
// indexes if they do not exist.
func New(ctx context.Context, db *sqlx.DB, dialect Dialect) (*Store, error) {
	return NewWithTable(ctx, db, dialect, DefaultTable)
}

// NewWithTable is New with an explicit table name, mainly for tests
// that need isolated tables on a shared database.
func NewWithTable(ctx context.Context, db *sqlx.DB, dialect Dialect, table string) (*Store, error) {
	if table == "" {
		table = DefaultTable
	}
	store := &Store{db: db, table: table}
	if err := store.initSchema(ctx, dialect); err != nil {
		return nil, err
	}

	log.Debug("Initialized SQL record store",
		"driver", db.DriverName(), "table", table)
	return store, nil
}

func (s *Store) initSchema(ctx context.Context, dialect Dialect) error {
	timestampType := "TIMESTAMP"
	if dialect == DialectPostgres {
		timestampType = "TIMESTAMP WITH TIME ZONE"
	}

	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS `+s.table+` (
			id           TEXT PRIMARY KEY,
			session_id   TEXT NOT NULL,
			turn_id      TEXT NOT NULL DEFAULT '',
			content      TEXT NOT NULL,
			content_hash TEXT NOT NULL,
			category     TEXT NOT NULL DEFAULT '',
			tags         TEXT NOT NULL DEFAULT 'null',
			metadata     TEXT NOT NULL DEFAULT 'null',
			chunks       TEXT NOT NULL DEFAULT 'null',
			created_at   `+timestampType+` NOT NULL,
			expires_at   `+timestampType+`,
			indexed      BOOLEAN NOT NULL DEFAULT TRUE
		)`)
	if err != nil {
		return errors.Wrap(err, "creating table %s", s.table)
	}

	statements := []string{
		"CREATE INDEX IF NOT EXISTS " + s.table + "_session_id_idx ON " + s.table + " (session_id)",
		"CREATE INDEX IF NOT EXISTS " + s.table + "_hash_idx ON " + s.table + " (session_id, content_hash)",
		"CREATE INDEX IF NOT EXISTS " + s.table + "_expires_at_idx ON " + s.table + " (expires_at)",
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return errors.Wrap(err, "creating index on %s", s.table)
		}
	}
	return nil
}

// recordRow mirrors the table layout for sqlx scanning.
type recordRow struct {
	ID          string       `db:"id"`
	SessionID   string       `db:"session_id"`
	TurnID      string       `db:"turn_id"`
	Content     string       `db:"content"`
	ContentHash string       `db:"content_hash"`
	Category    string       `db:"category"`
	Tags        string       `db:"tags"`
	Metadata    string       `db:"metadata"`
	Chunks      string       `db:"chunks"`
	CreatedAt   time.Time    `db:"created_at"`
	ExpiresAt   sql.NullTime `db:"expires_at"`
	Indexed     bool         `db:"indexed"`
}

func toRow(record ltm.MemoryRecord) (recordRow, error) {
	tags, err := json.Marshal(record.Tags)
	if err != nil {
		return recordRow{}, errors.Wrap(err, "marshaling tags")
	}
	metadata, err := json.Marshal(record.Metadata)
	if err != nil {
		return recordRow{}, errors.Wrap(err, "marshaling metadata")
	}
	chunks, err := json.Marshal(record.Chunks)
	if err != nil {
		return recordRow{}, errors.Wrap(err, "marshaling chunks")
	}

	row := recordRow{
		ID:          record.ID,
		SessionID:   string(session.Normalize(record.SessionID)),
		TurnID:      record.TurnID,
		Content:     record.Content,
		ContentHash: record.ContentHash,
		Category:    record.Category,
		Tags:        string(tags),
		Metadata:    string(metadata),
		Chunks:      string(chunks),
		CreatedAt:   record.CreatedAt.UTC(),
		Indexed:     record.Indexed,
	}
	if record.ExpiresAt != nil {
		row.ExpiresAt = sql.NullTime{Time: record.ExpiresAt.UTC(), Valid: true}
	}
	return row, nil
}

func (row recordRow) toRecord() (ltm.MemoryRecord, error) {
	record := ltm.MemoryRecord{
		ID:          row.ID,
		SessionID:   session.ID(row.SessionID),
		TurnID:      row.TurnID,
		Content:     row.Content,
		ContentHash: row.ContentHash,
		Category:    row.Category,
		CreatedAt:   row.CreatedAt,
		Indexed:     row.Indexed,
	}
	if err := json.Unmarshal([]byte(row.Tags), &record.Tags); err != nil {
		return ltm.MemoryRecord{}, errors.Wrap(err, "unmarshaling tags for %s", row.ID)
	}
	if err := json.Unmarshal([]byte(row.Metadata), &record.Metadata); err != nil {
		return ltm.MemoryRecord{}, errors.Wrap(err, "unmarshaling metadata for %s", row.ID)
	}
	if err := json.Unmarshal([]byte(row.Chunks), &record.Chunks); err != nil {
		return ltm.MemoryRecord{}, errors.Wrap(err, "unmarshaling chunks for %s", row.ID)
	}
	if row.ExpiresAt.Valid {
		expires := row.ExpiresAt.Time
		record.ExpiresAt = &expires
	}
	return record, nil
}

// Put persists a record, replacing any existing row with the same ID.
func (s *Store) Put(ctx context.Context, record ltm.MemoryRecord) error {
	if record.ID == "" {
		return errors.Wrap(errors.ErrInvalidInput, "record ID is required")
	}
	row, err := toRow(record)
	if err != nil {
		return err
	}

	query := s.db.Rebind(`
		INSERT INTO ` + s.table + ` (
			id, session_id, turn_id, content, content_hash, category,
			tags, metadata, chunks, created_at, expires_at, indexed
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			session_id   = excluded.session_id,
			turn_id      = excluded.turn_id,
			content      = excluded.content,
			content_hash = excluded.content_hash,
			category     = excluded.category,
			tags         = excluded.tags,
			metadata     = excluded.metadata,
			chunks       = excluded.chunks,
			created_at   = excluded.created_at,
			expires_at   = excluded.expires_at,
			indexed      = excluded.indexed`)
	_, err = s.db.ExecContext(ctx, query,
		row.ID, row.SessionID, row.TurnID, row.Content, row.ContentHash, row.Category,
		row.Tags, row.Metadata, row.Chunks, row.CreatedAt, row.ExpiresAt, row.Indexed,
	)
	return errors.Wrap(err, "storing record %s", record.ID)
}

const recordColumns = "id, session_id, turn_id, content, content_hash, category, tags, metadata, chunks, created_at, expires_at, indexed"

// Get fetches a record by ID.
func (s *Store) Get(ctx context.Context, id string) (ltm.MemoryRecord, error) {
	var row recordRow
	query := s.db.Rebind("SELECT " + recordColumns + " FROM " + s.table + " WHERE id = ?")
	err := s.db.GetContext(ctx, &row, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return ltm.MemoryRecord{}, errors.Wrap(errors.ErrNotFound, "record %s", id)
	}
	if err != nil {
		return ltm.MemoryRecord{}, errors.Wrap(err, "fetching record %s", id)
	}
	return row.toRecord()
}

// List returns the session's records ordered by creation time.
func (s *Store) List(ctx context.Context, sessionID session.ID) ([]ltm.MemoryRecord, error) {
	sessionID = session.Normalize(sessionID)

	var rows []recordRow
	query := s.db.Rebind("SELECT " + recordColumns + " FROM " + s.table +
		" WHERE session_id = ? ORDER BY created_at, id")
	err := s.db.SelectContext(ctx, &rows, query, string(sessionID))
	if err != nil {
		return nil, errors.Wrap(err, "listing session %s", sessionID)
	}
	return rowsToRecords(rows)
}

// FindByHash returns the session's record with the given content hash.
func (s *Store) FindByHash(ctx context.Context, sessionID session.ID, hash string) (*ltm.MemoryRecord, error) {
	sessionID = session.Normalize(sessionID)

	var row recordRow
	query := s.db.Rebind("SELECT " + recordColumns + " FROM " + s.table +
		" WHERE session_id = ? AND content_hash = ? ORDER BY created_at, id LIMIT 1")
	err := s.db.GetContext(ctx, &row, query, string(sessionID), hash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "finding by hash in session %s", sessionID)
	}
	record, err := row.toRecord()
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// ListExpired returns records across all sessions whose TTL passed.
func (s *Store) ListExpired(ctx context.Context, now time.Time) ([]ltm.MemoryRecord, error) {
	var rows []recordRow
	query := s.db.Rebind("SELECT " + recordColumns + " FROM " + s.table +
		" WHERE expires_at IS NOT NULL AND expires_at <= ? ORDER BY id")
	err := s.db.SelectContext(ctx, &rows, query, now.UTC())
	if err != nil {
		return nil, errors.Wrap(err, "listing expired records")
	}
	return rowsToRecords(rows)
}

// Delete removes a record by ID. A missing record is not an error.
func (s *Store) Delete(ctx context.Context, id string) error {
	query := s.db.Rebind("DELETE FROM " + s.table + " WHERE id = ?")
	_, err := s.db.ExecContext(ctx, query, id)
	return errors.Wrap(err, "deleting record %s", id)
}

// DeleteSession removes all records belonging to a session.
func (s *Store) DeleteSession(ctx context.Context, sessionID session.ID) error {
	sessionID = session.Normalize(sessionID)

	query := s.db.Rebind("DELETE FROM " + s.table + " WHERE session_id = ?")
	_, err := s.db.ExecContext(ctx, query, string(sessionID))
	return errors.Wrap(err, "deleting session %s", sessionID)
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying handle for tests.
func (s *Store) DB() *sqlx.DB {
	return s.db
}

func rowsToRecords(rows []recordRow) ([]ltm.MemoryRecord, error) {
	if len(rows) == 0 {
		return nil, nil
	}
	records := make([]ltm.MemoryRecord, 0, len(rows))
	for _, row := range rows {
		record, err := row.toRecord()
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, nil
}

var _ ltm.RecordStore = (*Store)(nil)
