// Package pgvector implements vectorstore.Store on PostgreSQL with the
// pgvector extension. Each collection is a table named "sluice_<collection>".
package pgvector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	"github.com/poiesic/sluice/core"
	"github.com/poiesic/sluice/vectorstore"
)

// undefinedTable is the Postgres SQLSTATE for a missing relation.
const undefinedTable = "42P01"

var validName = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// Store is a vectorstore.Store backed by a pgx connection pool.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

var _ vectorstore.Store = (*Store)(nil)

// NewStore connects to the database described by connString and verifies the connection.
func NewStore(ctx context.Context, connString string) (*Store, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	config.MaxConns = 10
	config.MaxConnLifetime = time.Hour
	config.MaxConnIdleTime = time.Minute * 30

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{
		pool:   pool,
		logger: slog.Default().With("component", "pgvector"),
	}, nil
}

// TableName returns the sanitized table identifier for a collection.
func TableName(collection string) (string, error) {
	if !validName.MatchString(collection) {
		return "", fmt.Errorf("%w: %q", vectorstore.ErrInvalidCollectionName, collection)
	}
	return pgx.Identifier{"sluice_" + collection}.Sanitize(), nil
}

func isUndefinedTable(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == undefinedTable
}

// dbIDs reinterprets chunk IDs as signed BIGINT values.
func dbIDs(ids []core.ID) []int64 {
	out := make([]int64, len(ids))
	for i, id := range ids {
		out[i] = int64(id)
	}
	return out
}

// GetOrCreateCollection implements vectorstore.Store.
func (s *Store) GetOrCreateCollection(ctx context.Context, name string, dimension int) error {
	table, err := TableName(name)
	if err != nil {
		return err
	}
	if dimension <= 0 {
		return fmt.Errorf("%w: collection %s needs a positive dimension", vectorstore.ErrDimensionMismatch, name)
	}

	if _, err := s.pool.Exec(ctx, `CREATE EXTENSION IF NOT EXISTS vector`); err != nil {
		return fmt.Errorf("failed to enable pgvector: %w", err)
	}
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		id BIGINT PRIMARY KEY,
		embedding vector(%d) NOT NULL,
		content TEXT NOT NULL,
		metadata JSONB NOT NULL DEFAULT '{}'::jsonb
	)`, table, dimension)
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("failed to create collection %s: %w", name, err)
	}
	return nil
}

// Exists implements vectorstore.Store.
func (s *Store) Exists(ctx context.Context, collection string, ids []core.ID) (map[core.ID]struct{}, error) {
	table, err := TableName(collection)
	if err != nil {
		return nil, err
	}
	present := make(map[core.ID]struct{}, len(ids))
	if len(ids) == 0 {
		return present, nil
	}

	rows, err := s.pool.Query(ctx, `SELECT id FROM `+table+` WHERE id = ANY($1)`, dbIDs(ids))
	if isUndefinedTable(err) {
		return present, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query ids: %w", err)
	}
	found, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if isUndefinedTable(err) {
		return present, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan ids: %w", err)
	}
	for _, id := range found {
		present[core.ID(id)] = struct{}{}
	}
	return present, nil
}

// Upsert implements vectorstore.Store.
func (s *Store) Upsert(ctx context.Context, collection string, chunks []*core.Chunk) error {
	table, err := TableName(collection)
	if err != nil {
		return err
	}
	if len(chunks) == 0 {
		return nil
	}

	query := `INSERT INTO ` + table + ` (id, embedding, content, metadata)
		VALUES ($1, $2, $3, $4::jsonb)
		ON CONFLICT (id) DO UPDATE SET embedding = EXCLUDED.embedding,
			content = EXCLUDED.content, metadata = EXCLUDED.metadata`

	batch := &pgx.Batch{}
	for _, c := range chunks {
		meta, err := json.Marshal(c.Metadata)
		if err != nil {
			return fmt.Errorf("%w: chunk %d metadata: %w", core.ErrInvalidChunk, c.ID, err)
		}
		batch.Queue(query, int64(c.ID), pgvector.NewVector(c.Vector), c.Text, string(meta))
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for i := 0; i < len(chunks); i++ {
		if _, err := br.Exec(); err != nil {
			if isUndefinedTable(err) {
				return fmt.Errorf("%w: %s", vectorstore.ErrCollectionNotFound, collection)
			}
			return fmt.Errorf("failed to upsert chunk %d: %w", i, err)
		}
	}
	return nil
}

// Delete implements vectorstore.Store.
func (s *Store) Delete(ctx context.Context, collection string, ids []core.ID) error {
	table, err := TableName(collection)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}
	_, err = s.pool.Exec(ctx, `DELETE FROM `+table+` WHERE id = ANY($1)`, dbIDs(ids))
	if err != nil && !isUndefinedTable(err) {
		return fmt.Errorf("failed to delete chunks: %w", err)
	}
	return nil
}

// Count implements vectorstore.Store.
func (s *Store) Count(ctx context.Context, collection string) (int, error) {
	table, err := TableName(collection)
	if err != nil {
		return 0, err
	}
	var n int64
	err = s.pool.QueryRow(ctx, `SELECT count(*) FROM `+table).Scan(&n)
	if isUndefinedTable(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to count chunks: %w", err)
	}
	return int(n), nil
}

// Close closes the connection pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}
