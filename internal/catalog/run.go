package catalog

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// RunStatus mirrors the ingest_runs status column.
type RunStatus string

// Ingest run statuses persisted in ingest_runs.status.
const (
	RunRunning RunStatus = "running"
	RunSuccess RunStatus = "success"
	RunError   RunStatus = "error"
)

// RunCounters tallies record outcomes for one run.
type RunCounters struct {
	// Seen counts every record pulled from the source.
	Seen int64 `json:"seen"`
	// Inserted counts books created for the first time.
	Inserted int64 `json:"inserted"`
	// Updated counts snapshot-then-update cycles.
	Updated int64 `json:"updated"`
	// Malformed counts records skipped for a missing UPC.
	Malformed int64 `json:"malformed"`
	// Duplicates counts records skipped because their UPC was already processed.
	Duplicates int64 `json:"duplicates"`
	// Failed counts records whose transaction rolled back.
	Failed int64 `json:"failed"`
	// SnapshotsPruned counts snapshots evicted by the retention bound.
	SnapshotsPruned int64 `json:"snapshots_pruned"`
}

// Changed reports whether the run wrote anything to the catalog.
func (c RunCounters) Changed() bool {
	return c.Inserted > 0 || c.Updated > 0
}

// IngestRun models one row of ingest_runs.
type IngestRun struct {
	ID        uuid.UUID
	StartedAt time.Time
	// FinishedAt is nil while the run is in progress.
	FinishedAt *time.Time
	Status     RunStatus
	Counters   RunCounters
	// ErrorMessage holds the run-level failure, if any.
	ErrorMessage *string
}

// RunStore persists ingestion run history.
type RunStore interface {
	StartRun(ctx context.Context, id uuid.UUID, startedAt time.Time) error
	FinishRun(
		ctx context.Context,
		id uuid.UUID,
		finishedAt time.Time,
		status RunStatus,
		counters RunCounters,
		errMsg *string,
	) error
	// GetRun returns ErrNotFound for unknown ids.
	GetRun(ctx context.Context, id uuid.UUID) (IngestRun, error)
	// ListRuns returns runs newest first, optionally filtered by status.
	ListRuns(ctx context.Context, status *RunStatus, limit, offset int) ([]IngestRun, error)
}
