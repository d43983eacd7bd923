package pg

import (
	"context"
	"fmt"
	"io"

	"github.com/jackc/pgx/v5"

	"github.com/tocco/lomigrate/internal/logger"
	"github.com/tocco/lomigrate/pkg/migrate"
)

// loReadChunk is the buffer size of the Large Object read loop. Each Read
// is one round trip; the chunk bounds per-object memory regardless of blob
// size.
const loReadChunk = 128 * 1024

// CountBinaries returns the number of rows still to migrate and the total
// row count, in one statement so the two are consistent.
func (s *Store) CountBinaries(ctx context.Context) (remaining, total int64, err error) {
	row := s.pool.QueryRow(ctx, `
		SELECT
			(SELECT count(*) FROM _nice_binary WHERE sha2 IS NULL),
			(SELECT count(*) FROM _nice_binary)`)
	if err := row.Scan(&remaining, &total); err != nil {
		return 0, 0, fmt.Errorf("failed to count binaries: %w", err)
	}
	return remaining, total, nil
}

// ScanPending streams every not-yet-migrated row through yield. The scan
// runs in a single read-only transaction; pgx streams the result set over
// the wire, so memory stays bounded regardless of table size.
func (s *Store) ScanPending(ctx context.Context, yield func(migrate.BinaryRow) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly})
	if err != nil {
		return fmt.Errorf("failed to begin scan transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx,
		`SELECT hash, data, size, mime_type FROM _nice_binary WHERE sha2 IS NULL`)
	if err != nil {
		return fmt.Errorf("failed to query pending binaries: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var row migrate.BinaryRow
		if err := rows.Scan(&row.Hash, &row.OID, &row.Size, &row.MimeType); err != nil {
			return fmt.Errorf("failed to scan binary row: %w", err)
		}
		if err := yield(row); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("scan failed mid-stream: %w", err)
	}

	return tx.Commit(ctx)
}

// ReadLargeObject streams the Large Object's bytes into w. Large Objects
// are only addressable inside a transaction, so each read opens its own.
func (s *Store) ReadLargeObject(ctx context.Context, oid uint32, w io.Writer) (int64, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin read transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	lo := tx.LargeObjects()
	obj, err := lo.Open(ctx, oid, pgx.LargeObjectModeRead)
	if err != nil {
		if pgErrCode(err) == sqlstateUndefinedObject {
			return 0, fmt.Errorf("oid %d: %w", oid, migrate.ErrObjectMissing)
		}
		return 0, fmt.Errorf("failed to open large object %d: %w", oid, err)
	}

	n, err := io.CopyBuffer(w, obj, make([]byte, loReadChunk))
	if err != nil {
		obj.Close()
		return n, fmt.Errorf("failed to stream large object %d: %w", oid, err)
	}
	if err := obj.Close(); err != nil {
		return n, fmt.Errorf("failed to close large object %d: %w", oid, err)
	}

	return n, tx.Commit(ctx)
}

// CommitHashes writes the SHA-256 of each descriptor back to its source row
// in one transaction. The sha2 IS NULL guard makes replays harmless: a row
// committed by an earlier run (or a concurrent worker) matches nothing and
// is counted as stale. More than one affected row means duplicate hashes in
// the source table; the batch is rolled back and the error surfaces.
func (s *Store) CommitHashes(ctx context.Context, objects []*migrate.Lo) (migrate.CommitResult, error) {
	var res migrate.CommitResult

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return res, fmt.Errorf("failed to begin commit transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, lo := range objects {
		ct, err := tx.Exec(ctx,
			`UPDATE _nice_binary SET sha2 = $1 WHERE hash = $2 AND sha2 IS NULL`,
			lo.SHA2, lo.SHA1)
		if err != nil {
			return migrate.CommitResult{}, fmt.Errorf("failed to update sha2 for hash %s: %w", lo.SHA1, err)
		}
		switch n := ct.RowsAffected(); {
		case n == 0:
			logger.Debug("row already committed", logger.KeySHA1, lo.SHA1)
			res.Stale++
		case n == 1:
			res.Updated++
		default:
			return migrate.CommitResult{}, fmt.Errorf("hash %s matched %d rows, refusing to commit batch", lo.SHA1, n)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return migrate.CommitResult{}, fmt.Errorf("failed to commit hash batch: %w", err)
	}
	return res, nil
}
