// Package pgvector implements the vector index on PostgreSQL with the
// pgvector extension. Chunks live in a single table keyed by chunk ID,
// and every search filters on session_id inside the SQL so one session
// can never see another's vectors.
package pgvector

import (
	"context"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lexlapax/ragmem/pkg/errors"
	"github.com/lexlapax/ragmem/pkg/log"
	"github.com/lexlapax/ragmem/pkg/mem/ltm"
	"github.com/lexlapax/ragmem/pkg/session"
)

const (
	// DefaultTable is used when Config.Table is empty.
	DefaultTable = "memory_chunks"

	// DefaultDimensions matches OpenAI's text-embedding models.
	DefaultDimensions = 1536
)

// Supported distance metrics.
const (
	MetricCosine    = "cosine"
	MetricEuclidean = "euclidean"
	MetricDot       = "dot"
)

// Config carries the connection and schema settings for the index.
type Config struct {
	// DSN is the PostgreSQL connection string.
	DSN string

	// Table is the chunk table name.
	Table string

	// Dimensions is the embedding width enforced by the column type.
	Dimensions int

	// Metric selects the distance operator: cosine, euclidean, or dot.
	Metric string
}

// Index is a pgvector backed ltm.VectorIndex.
type Index struct {
	pool   *pgxpool.Pool
	table  string
	dims   int
	metric string
}

// New connects to PostgreSQL, ensures the pgvector extension, and
// creates the chunk table and its indexes if they do not exist.
func New(ctx context.Context, cfg Config) (*Index, error) {
	if cfg.DSN == "" {
		return nil, errors.Wrap(errors.ErrInvalidInput, "pgvector: DSN is required")
	}
	if cfg.Table == "" {
		cfg.Table = DefaultTable
	}
	if cfg.Dimensions <= 0 {
		cfg.Dimensions = DefaultDimensions
	}
	switch cfg.Metric {
	case "":
		cfg.Metric = MetricCosine
	case MetricCosine, MetricEuclidean, MetricDot:
	default:
		return nil, errors.Wrap(errors.ErrInvalidInput,
			"pgvector: unsupported metric %q (must be cosine, euclidean, or dot)", cfg.Metric)
	}

	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, errors.Wrap(err, "connecting to postgres")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "pinging postgres")
	}

	idx := &Index{
		pool:   pool,
		table:  cfg.Table,
		dims:   cfg.Dimensions,
		metric: cfg.Metric,
	}
	if err := idx.initSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return idx, nil
}

func (i *Index) initSchema(ctx context.Context) error {
	var hasExtension bool
	err := i.pool.QueryRow(ctx,
		"SELECT EXISTS (SELECT 1 FROM pg_extension WHERE extname = 'vector')").Scan(&hasExtension)
	if err != nil {
		return errors.Wrap(err, "checking for pgvector extension")
	}
	if !hasExtension {
		if _, err := i.pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
			return errors.Wrap(err, "creating pgvector extension")
		}
		log.Info("Created pgvector extension")
	}

	_, err = i.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS `+i.table+` (
			id         TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			record_id  TEXT NOT NULL,
			seq        INTEGER NOT NULL,
			overlap    INTEGER NOT NULL,
			chunk_text TEXT NOT NULL,
			embedding  VECTOR(`+strconv.Itoa(i.dims)+`) NOT NULL,
			created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT now()
		)`)
	if err != nil {
		return errors.Wrap(err, "creating table %s", i.table)
	}

	statements := []string{
		"CREATE INDEX IF NOT EXISTS " + i.table + "_session_id_idx ON " + i.table + " (session_id)",
		"CREATE INDEX IF NOT EXISTS " + i.table + "_record_id_idx ON " + i.table + " (record_id)",
		"CREATE INDEX IF NOT EXISTS " + i.table + "_embedding_idx ON " + i.table +
			" USING ivfflat (embedding " + i.vectorOps() + ") WITH (lists = 100)",
	}
	for _, stmt := range statements {
		if _, err := i.pool.Exec(ctx, stmt); err != nil {
			return errors.Wrap(err, "creating index on %s", i.table)
		}
	}
	return nil
}

func (i *Index) vectorOps() string {
	switch i.metric {
	case MetricEuclidean:
		return "vector_l2_ops"
	case MetricDot:
		return "vector_ip_ops"
	default:
		return "vector_cosine_ops"
	}
}

// distanceOp is the pgvector operator that the ivfflat index can serve.
func (i *Index) distanceOp() string {
	switch i.metric {
	case MetricEuclidean:
		return "<->"
	case MetricDot:
		return "<#>"
	default:
		return "<=>"
	}
}

// scoreExpr converts the metric's distance into a higher-is-better
// score. Cosine lands in [0, 1] for the embeddings providers produce.
func (i *Index) scoreExpr() string {
	switch i.metric {
	case MetricEuclidean:
		return "-(embedding <-> $2::vector)"
	case MetricDot:
		return "-(embedding <#> $2::vector)"
	default:
		return "1 - (embedding <=> $2::vector)"
	}
}

// Upsert writes entries in one transaction so a failed batch leaves no
// partial chunks behind.
func (i *Index) Upsert(ctx context.Context, entries []ltm.Entry) error {
	if len(entries) == 0 {
		return nil
	}
	for _, e := range entries {
		if len(e.Vector) != i.dims {
			return errors.Wrap(errors.ErrInvalidInput,
				"entry %s: embedding has %d dimensions, table expects %d", e.ID, len(e.Vector), i.dims)
		}
	}

	tx, err := i.pool.Begin(ctx)
	if err != nil {
		return errors.Wrap(err, "beginning transaction")
	}
	defer tx.Rollback(ctx)

	for _, e := range entries {
		_, err := tx.Exec(ctx, `
			INSERT INTO `+i.table+` (id, session_id, record_id, seq, overlap, chunk_text, embedding)
			VALUES ($1, $2, $3, $4, $5, $6, $7::vector)
			ON CONFLICT (id) DO UPDATE SET
				session_id = EXCLUDED.session_id,
				record_id  = EXCLUDED.record_id,
				seq        = EXCLUDED.seq,
				overlap    = EXCLUDED.overlap,
				chunk_text = EXCLUDED.chunk_text,
				embedding  = EXCLUDED.embedding`,
			e.ID,
			string(session.Normalize(e.Payload.SessionID)),
			e.Payload.RecordID,
			e.Payload.Seq,
			e.Payload.Overlap,
			e.Payload.Text,
			vectorLiteral(e.Vector),
		)
		if err != nil {
			return errors.Wrap(err, "inserting chunk %s", e.ID)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return errors.Wrap(err, "committing %d chunks", len(entries))
	}

	log.DebugContext(ctx, "Stored chunks in pgvector",
		"count", len(entries), "table", i.table)
	return nil
}

// Search returns the filter session's k nearest chunks.
func (i *Index) Search(ctx context.Context, vector []float32, filter ltm.Filter, k int) ([]ltm.Hit, error) {
	if k <= 0 {
		return nil, nil
	}
	if len(vector) != i.dims {
		return nil, errors.Wrap(errors.ErrInvalidInput,
			"query embedding has %d dimensions, table expects %d", len(vector), i.dims)
	}

	// ORDER BY uses the bare distance operator so the ivfflat index applies.
	rows, err := i.pool.Query(ctx, `
		SELECT id, session_id, record_id, seq, overlap, chunk_text, `+i.scoreExpr()+` AS score
		FROM `+i.table+`
		WHERE session_id = $1
		ORDER BY embedding `+i.distanceOp()+` $2::vector
		LIMIT $3`,
		string(session.Normalize(filter.SessionID)),
		vectorLiteral(vector),
		k,
	)
	if err != nil {
		return nil, errors.Wrap(err, "searching %s", i.table)
	}
	defer rows.Close()

	return scanHits(rows)
}

func scanHits(rows pgx.Rows) ([]ltm.Hit, error) {
	var hits []ltm.Hit
	for rows.Next() {
		var (
			hit       ltm.Hit
			sessionID string
		)
		err := rows.Scan(
			&hit.ID,
			&sessionID,
			&hit.Payload.RecordID,
			&hit.Payload.Seq,
			&hit.Payload.Overlap,
			&hit.Payload.Text,
			&hit.Score,
		)
		if err != nil {
			return nil, errors.Wrap(err, "scanning hit")
		}
		hit.Payload.SessionID = session.ID(sessionID)
		hits = append(hits, hit)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterating hits")
	}
	return hits, nil
}

// Delete removes chunks by ID. Missing IDs are not an error.
func (i *Index) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := i.pool.Exec(ctx, "DELETE FROM "+i.table+" WHERE id = ANY($1)", ids)
	if err != nil {
		return errors.Wrap(err, "deleting %d chunks", len(ids))
	}
	return nil
}

// Close releases the connection pool.
func (i *Index) Close() error {
	if i.pool != nil {
		i.pool.Close()
	}
	return nil
}

// Pool exposes the underlying connection pool for tests.
func (i *Index) Pool() *pgxpool.Pool {
	return i.pool
}

// vectorLiteral renders a pgvector input literal like [0.1,0.2].
func vectorLiteral(vector []float32) string {
	parts := make([]string, len(vector))
	for i, v := range vector {
		parts[i] = strconv.FormatFloat(float64(v), 'f', -1, 32)
	}
	return "[" + strings.Join(parts, ",") + "]"
}

var _ ltm.VectorIndex = (*Index)(nil)
