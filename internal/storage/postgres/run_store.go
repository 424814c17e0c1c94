package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/book-catalog-pipeline/internal/catalog"
)

const runColumns = `id, started_at, finished_at, status, seen, inserted, updated,
	malformed, duplicates, failed, snapshots_pruned, error_message`

// StartRun inserts a run in running status.
func (s *CatalogStore) StartRun(ctx context.Context, id uuid.UUID, startedAt time.Time) error {
	query := `
		INSERT INTO ingest_runs (id, started_at, status)
		VALUES ($1, $2, $3);
	`
	if _, err := s.pool.Exec(ctx, query, id, startedAt, catalog.RunRunning); err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}
	return nil
}

// FinishRun marks a run as completed with its status, counters and optional error.
func (s *CatalogStore) FinishRun(
	ctx context.Context,
	id uuid.UUID,
	finishedAt time.Time,
	status catalog.RunStatus,
	counters catalog.RunCounters,
	errMsg *string,
) error {
	query := `
		UPDATE ingest_runs
		SET finished_at = $1, status = $2, seen = $3, inserted = $4, updated = $5,
			malformed = $6, duplicates = $7, failed = $8, snapshots_pruned = $9,
			error_message = $10
		WHERE id = $11;
	`
	tag, err := s.pool.Exec(ctx, query,
		finishedAt,
		status,
		counters.Seen,
		counters.Inserted,
		counters.Updated,
		counters.Malformed,
		counters.Duplicates,
		counters.Failed,
		counters.SnapshotsPruned,
		errMsg,
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return catalog.ErrNotFound
	}
	return nil
}

func scanRun(row pgx.Row) (catalog.IngestRun, error) {
	var run catalog.IngestRun
	err := row.Scan(
		&run.ID,
		&run.StartedAt,
		&run.FinishedAt,
		&run.Status,
		&run.Counters.Seen,
		&run.Counters.Inserted,
		&run.Counters.Updated,
		&run.Counters.Malformed,
		&run.Counters.Duplicates,
		&run.Counters.Failed,
		&run.Counters.SnapshotsPruned,
		&run.ErrorMessage,
	)
	return run, err
}

// GetRun retrieves a single run by its ID.
func (s *CatalogStore) GetRun(ctx context.Context, id uuid.UUID) (catalog.IngestRun, error) {
	query := `SELECT ` + runColumns + ` FROM ingest_runs WHERE id = $1;`
	run, err := scanRun(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return catalog.IngestRun{}, catalog.ErrNotFound
		}
		return catalog.IngestRun{}, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// ListRuns retrieves runs newest first, with optional status filtering.
func (s *CatalogStore) ListRuns(
	ctx context.Context,
	status *catalog.RunStatus,
	limit,
	offset int,
) ([]catalog.IngestRun, error) {
	query := `
		SELECT ` + runColumns + `
		FROM ingest_runs
		WHERE ($1::text IS NULL OR status = $1)
		ORDER BY started_at DESC
		LIMIT $2 OFFSET $3;
	`
	rows, err := s.pool.Query(ctx, query, status, limitArg(limit), offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	runs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (catalog.IngestRun, error) {
		return scanRun(row)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan run row: %w", err)
	}
	return runs, nil
}
