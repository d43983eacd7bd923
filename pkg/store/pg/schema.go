package pg

import (
	"context"
	"fmt"

	"github.com/tocco/lomigrate/internal/logger"
)

// batchJobName is the Nice2 cleanup job that deletes unreferenced binaries.
// Running it concurrently with the migration would pull rows out from under
// the pipeline.
const batchJobName = "nice2.dms.DeleteUnreferencedBinariesBatchJob"

// EnsureSha2Column adds the sha2 column to the source table. A column that
// already exists (from a previous run) is fine.
func (s *Store) EnsureSha2Column(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `ALTER TABLE _nice_binary ADD COLUMN sha2 CHAR(64)`)
	if err != nil {
		if pgErrCode(err) == sqlstateDuplicateColumn {
			logger.Debug("sha2 column already present")
			return nil
		}
		return fmt.Errorf("failed to add sha2 column: %w", err)
	}
	logger.Info("added sha2 column to _nice_binary")
	return nil
}

// CheckBatchJobDisabled refuses to start while the binary cleanup batch job
// is active. Deployments without a nice_batch_job table skip the check;
// where the table exists, a missing job row is treated as an error exactly
// like an active one, since it means the environment is not what the
// migration was prepared for.
func (s *Store) CheckBatchJobDisabled(ctx context.Context) error {
	rows, err := s.pool.Query(ctx,
		`SELECT active FROM nice_batch_job WHERE id = $1`, batchJobName)
	if err != nil {
		if pgErrCode(err) == sqlstateUndefinedTable {
			logger.Debug("no nice_batch_job table, skipping batch job check")
			return nil
		}
		return fmt.Errorf("failed to query batch job state: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return fmt.Errorf("failed to query batch job state: %w", err)
		}
		return fmt.Errorf("batch job %q not found", batchJobName)
	}
	var active bool
	if err := rows.Scan(&active); err != nil {
		return fmt.Errorf("failed to scan batch job state: %w", err)
	}
	if active {
		return fmt.Errorf("batch job %q must be deactivated before the migration can be started", batchJobName)
	}
	return nil
}

// Finalize locks in the migrated state: sha2 becomes mandatory and unique.
// Only called after a complete run with zero failures.
func (s *Store) Finalize(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx,
		`ALTER TABLE _nice_binary ALTER COLUMN sha2 SET NOT NULL`); err != nil {
		return fmt.Errorf("failed to add NOT NULL constraint: %w", err)
	}
	if _, err := s.pool.Exec(ctx,
		`CREATE UNIQUE INDEX IF NOT EXISTS _nice_binary_sha2_key ON _nice_binary (sha2)`); err != nil {
		return fmt.Errorf("failed to create unique index: %w", err)
	}
	return nil
}
