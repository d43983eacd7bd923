// Package pg implements the Postgres side of the migration: the streaming
// scan of the source table, chunked Large Object reads, and the batched,
// guarded hash commits. It is the only package that knows SQL.
package pg

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tocco/lomigrate/internal/logger"
)

// SQLSTATE codes the store reacts to.
const (
	sqlstateDuplicateColumn = "42701"
	sqlstateUndefinedTable  = "42P01"
	sqlstateUndefinedObject = "42704"
)

// Store holds the connection pool shared by all workers. pgxpool is safe
// for concurrent use; each worker operation checks out its own connection.
type Store struct {
	pool *pgxpool.Pool
}

// Config for the source database connection.
type Config struct {
	// URL is the connection string, either a full postgres:// URL or the
	// short USER:PASS@HOST/DB form.
	URL string

	// MaxConns sizes the pool. It must cover the observer, the counter
	// and every receiver and committer; Connect enforces a sane minimum.
	MaxConns int32
}

// Connect creates the pool and verifies the server is reachable, so a bad
// URL fails before any worker starts.
func Connect(ctx context.Context, cfg Config) (*Store, error) {
	poolConfig, err := pgxpool.ParseConfig(NormalizeURL(cfg.URL))
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres url: %w", err)
	}
	if cfg.MaxConns < 4 {
		cfg.MaxConns = 4
	}
	poolConfig.MaxConns = cfg.MaxConns

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	logger.Debug("postgres connection pool ready", "max_conns", cfg.MaxConns)
	return &Store{pool: pool}, nil
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// NormalizeURL accepts both full connection URLs and the short
// USER:PASS@HOST/DB form the CLI documents.
func NormalizeURL(url string) string {
	if strings.Contains(url, "://") {
		return url
	}
	return "postgres://" + url
}

// pgErrCode extracts the SQLSTATE from a pgx error chain.
func pgErrCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}
