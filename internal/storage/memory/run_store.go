package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JakeFAU/book-catalog-pipeline/internal/catalog"
)

// RunStore keeps ingest run history in memory.
type RunStore struct {
	mu   sync.RWMutex
	runs map[uuid.UUID]catalog.IngestRun
}

// NewRunStore constructs a RunStore.
func NewRunStore() *RunStore {
	return &RunStore{runs: make(map[uuid.UUID]catalog.IngestRun)}
}

// StartRun records a new run in running status.
func (s *RunStore) StartRun(_ context.Context, id uuid.UUID, startedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.runs[id]; exists {
		return errors.New("run already exists")
	}
	s.runs[id] = catalog.IngestRun{ID: id, StartedAt: startedAt, Status: catalog.RunRunning}
	return nil
}

// FinishRun stores the final status and counters of a run.
func (s *RunStore) FinishRun(
	_ context.Context,
	id uuid.UUID,
	finishedAt time.Time,
	status catalog.RunStatus,
	counters catalog.RunCounters,
	errMsg *string,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok {
		return catalog.ErrNotFound
	}
	run.FinishedAt = &finishedAt
	run.Status = status
	run.Counters = counters
	run.ErrorMessage = errMsg
	s.runs[id] = run
	return nil
}

// GetRun fetches a run by id.
func (s *RunStore) GetRun(_ context.Context, id uuid.UUID) (catalog.IngestRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[id]
	if !ok {
		return catalog.IngestRun{}, catalog.ErrNotFound
	}
	return run, nil
}

// ListRuns returns runs newest first.
func (s *RunStore) ListRuns(
	_ context.Context,
	status *catalog.RunStatus,
	limit, offset int,
) ([]catalog.IngestRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]catalog.IngestRun, 0, len(s.runs))
	for _, run := range s.runs {
		if status != nil && run.Status != *status {
			continue
		}
		out = append(out, run)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if offset >= len(out) {
		return make([]catalog.IngestRun, 0), nil
	}
	out = out[offset:]
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
