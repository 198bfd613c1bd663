// Package store persists batch results to Postgres for longitudinal triage.
// The stage is optional and enabled by a DSN; without one the pipeline keeps
// results on disk only.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/malsift/malsift/pkg/report"
	"github.com/malsift/malsift/pkg/scan"
)

// Store writes batches and their slices to Postgres.
type Store struct {
	pool *pgxpool.Pool
}

// New connects to Postgres using dsn, falling back to the
// MALSIFT_POSTGRES_DSN environment variable.
func New(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		dsn = os.Getenv("MALSIFT_POSTGRES_DSN")
	}
	if dsn == "" {
		return nil, fmt.Errorf("no Postgres DSN configured (set MALSIFT_POSTGRES_DSN)")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	return &Store{pool: pool}, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS batches (
	batch_id     uuid PRIMARY KEY,
	generated_at timestamptz NOT NULL,
	unit_count   integer NOT NULL,
	slice_count  integer NOT NULL,
	errors       jsonb NOT NULL DEFAULT '[]'
);
CREATE TABLE IF NOT EXISTS slices (
	id         bigserial PRIMARY KEY,
	batch_id   uuid NOT NULL REFERENCES batches(batch_id) ON DELETE CASCADE,
	unit_id    text NOT NULL,
	unit_name  text NOT NULL,
	triggers   text[] NOT NULL,
	severity   text NOT NULL,
	start_line integer NOT NULL,
	end_line   integer NOT NULL,
	excerpt    text NOT NULL,
	window     jsonb NOT NULL
);
CREATE INDEX IF NOT EXISTS slices_batch_idx ON slices (batch_id);
CREATE INDEX IF NOT EXISTS slices_severity_idx ON slices (severity);
`

// EnsureSchema creates the tables when they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// SaveBatch writes the batch header and every slice in one transaction.
func (s *Store) SaveBatch(ctx context.Context, b *report.Batch) error {
	errsJSON, err := json.Marshal(b.Summary.Errors)
	if err != nil {
		return fmt.Errorf("marshal batch errors: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin batch tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx,
		`INSERT INTO batches (batch_id, generated_at, unit_count, slice_count, errors)
		 VALUES ($1, $2, $3, $4, $5)`,
		b.BatchID, b.GeneratedAt, b.Summary.UnitCount, b.Summary.TotalSliceCount, errsJSON)
	if err != nil {
		return fmt.Errorf("insert batch %s: %w", b.BatchID, err)
	}

	queued := &pgx.Batch{}
	for _, u := range b.Units {
		for _, sl := range u.Slices {
			window, err := json.Marshal(sl.Window)
			if err != nil {
				return fmt.Errorf("marshal window for %s: %w", u.Name, err)
			}
			queued.Queue(
				`INSERT INTO slices (batch_id, unit_id, unit_name, triggers, severity, start_line, end_line, excerpt, window)
				 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
				b.BatchID, u.UnitID, u.Name, triggerStrings(sl), string(sl.Severity),
				sl.StartLine, sl.EndLine, sl.Excerpt, window)
		}
	}
	if queued.Len() > 0 {
		if err := tx.SendBatch(ctx, queued).Close(); err != nil {
			return fmt.Errorf("insert slices for %s: %w", b.BatchID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit batch %s: %w", b.BatchID, err)
	}
	return nil
}

func triggerStrings(sl scan.Slice) []string {
	out := make([]string, len(sl.Triggers))
	for i, t := range sl.Triggers {
		out[i] = string(t)
	}
	return out
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}
