package store

import (
	"context"
	"errors"
	"fmt"
	"image"
	"time"

	"github.com/andresmejia3/facelog/internal/match"
	"github.com/andresmejia3/facelog/internal/sighting"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// Store journals admitted sightings in PostgreSQL with pgvector descriptors.
type Store struct {
	pool *pgxpool.Pool
}

// Match is a journaled sighting and its cosine distance to a query.
type Match struct {
	sighting.Record
	Distance float64
}

// New establishes a connection pool and ensures the schema is initialized.
func New(ctx context.Context, connString string) (*Store, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	// Initialize schema (Auto-Migration)
	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}

	return &Store{pool: pool}, nil
}

// initSchema creates the sightings table and vector extension if they don't exist.
// The embedding column is unconstrained so descriptor geometry can change; queries filter on vector_dims.
func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	query := `
		CREATE EXTENSION IF NOT EXISTS vector;
		CREATE TABLE IF NOT EXISTS sightings (
			id UUID PRIMARY KEY,
			seen_at TIMESTAMPTZ NOT NULL,
			quality TEXT NOT NULL,
			box_x INT NOT NULL,
			box_y INT NOT NULL,
			box_w INT NOT NULL,
			box_h INT NOT NULL,
			file_path TEXT NOT NULL DEFAULT '',
			embedding VECTOR NOT NULL,
			created_at TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS sightings_seen_at_idx ON sightings (seen_at);
		CREATE INDEX IF NOT EXISTS sightings_file_path_idx ON sightings (file_path);
	`
	_, err := pool.Exec(ctx, query)
	return err
}

// Close terminates the database connections.
func (s *Store) Close(ctx context.Context) {
	s.pool.Close()
}

// AppendSighting inserts rec. Re-journaling the same record is a no-op.
func (s *Store) AppendSighting(ctx context.Context, rec sighting.Record) error {
	if len(rec.Descriptor) == 0 {
		return errors.New("sighting has no descriptor")
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO sightings (id, seen_at, quality, box_x, box_y, box_w, box_h, file_path, embedding)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO NOTHING
	`, rec.ID, rec.Timestamp, rec.Quality,
		rec.Box.Min.X, rec.Box.Min.Y, rec.Box.Dx(), rec.Box.Dy(),
		rec.FilePath, pgvector.NewVector(rec.Descriptor))
	return err
}

const sightingColumns = `id, seen_at, quality, box_x, box_y, box_w, box_h, file_path, embedding`

func scanSighting(row pgx.Row, extra ...any) (sighting.Record, error) {
	var rec sighting.Record
	var x, y, w, h int
	var vec pgvector.Vector
	dest := append([]any{&rec.ID, &rec.Timestamp, &rec.Quality, &x, &y, &w, &h, &rec.FilePath, &vec}, extra...)
	if err := row.Scan(dest...); err != nil {
		return sighting.Record{}, err
	}
	rec.Box = image.Rect(x, y, x+w, y+h)
	rec.Descriptor = match.Descriptor(vec.Slice())
	return rec, nil
}

// FindClosestSightings returns up to limit sightings within maxDistance (cosine) of d, nearest first.
func (s *Store) FindClosestSightings(ctx context.Context, d match.Descriptor, maxDistance float64, limit int) ([]Match, error) {
	// <=> is the cosine distance operator in pgvector
	rows, err := s.pool.Query(ctx, `
		SELECT `+sightingColumns+`, embedding <=> $1 AS distance
		FROM sightings
		WHERE vector_dims(embedding) = $4 AND embedding <=> $1 < $2
		ORDER BY embedding <=> $1 ASC
		LIMIT $3
	`, pgvector.NewVector(d), maxDistance, limit, len(d))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var matches []Match
	for rows.Next() {
		var m Match
		rec, err := scanSighting(rows, &m.Distance)
		if err != nil {
			return nil, err
		}
		m.Record = rec
		matches = append(matches, m)
	}
	return matches, rows.Err()
}

// ListSightings returns journaled sightings, newest first. A zero since returns everything.
func (s *Store) ListSightings(ctx context.Context, since time.Time, limit int) ([]sighting.Record, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+sightingColumns+`
		FROM sightings
		WHERE seen_at >= $1
		ORDER BY seen_at DESC, id
		LIMIT $2
	`, since, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []sighting.Record
	for rows.Next() {
		rec, err := scanSighting(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// CountSightings returns the number of journaled sightings.
func (s *Store) CountSightings(ctx context.Context) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM sightings").Scan(&n)
	return n, err
}

// DeleteByFile removes the sightings whose crop is stored at path.
func (s *Store) DeleteByFile(ctx context.Context, path string) (int64, error) {
	if path == "" {
		return 0, nil
	}
	tag, err := s.pool.Exec(ctx, "DELETE FROM sightings WHERE file_path = $1", path)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// Reset drops all application tables to clear the database state.
// This is useful for development to force a schema refresh without migrations.
func (s *Store) Reset(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `DROP TABLE IF EXISTS sightings CASCADE;`)
	return err
}
