package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/book-catalog-pipeline/internal/catalog"
	"github.com/JakeFAU/book-catalog-pipeline/internal/metrics"
)

// Source yields records until it returns io.EOF.
type Source interface {
	Dequeue(ctx context.Context) (catalog.Record, error)
}

// Publisher emits the run-completed notification.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// CacheInvalidator drops cached analytics after a run that changed data.
type CacheInvalidator interface {
	Invalidate(ctx context.Context) error
}

// IDGenerator mints run ids.
type IDGenerator interface {
	NewRawID() (uuid.UUID, error)
}

// RunCompleted is published after every run.
type RunCompleted struct {
	RunID      uuid.UUID           `json:"run_id"`
	Status     catalog.RunStatus   `json:"status"`
	Counters   catalog.RunCounters `json:"counters"`
	StartedAt  time.Time           `json:"started_at"`
	FinishedAt time.Time           `json:"finished_at"`
	Error      string              `json:"error,omitempty"`
}

// PipelineDeps wires a Pipeline. Runs, Publisher and Cache are optional.
type PipelineDeps struct {
	Store     catalog.Writer
	Engine    *Engine
	Runs      catalog.RunStore
	Publisher Publisher
	Topic     string
	Cache     CacheInvalidator
	IDs       IDGenerator
	Clock     Clock
	Logger    *zap.Logger
}

// Pipeline drives ingestion runs: it opens a RunContext, feeds every record
// from a Source through the Engine, and records the run.
type Pipeline struct {
	deps PipelineDeps
	mu   sync.Mutex
}

// NewPipeline validates the dependencies.
func NewPipeline(deps PipelineDeps) (*Pipeline, error) {
	if deps.Store == nil {
		return nil, errors.New("catalog store is required")
	}
	if deps.Engine == nil {
		return nil, errors.New("engine is required")
	}
	if deps.IDs == nil {
		return nil, errors.New("id generator is required")
	}
	if deps.Clock == nil {
		return nil, errors.New("clock is required")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Pipeline{deps: deps}, nil
}

// Run ingests every record from src. Runs never overlap. Per-record failures
// are logged and counted; the returned error is only set when the run as a
// whole could not proceed or the context was cancelled.
func (p *Pipeline) Run(ctx context.Context, src Source) (catalog.IngestRun, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	id, err := p.deps.IDs.NewRawID()
	if err != nil {
		return catalog.IngestRun{}, fmt.Errorf("new run id: %w", err)
	}
	run := catalog.IngestRun{ID: id, StartedAt: p.deps.Clock.Now(), Status: catalog.RunRunning}
	logger := p.deps.Logger.With(zap.String("run_id", id.String()))
	logger.Info("ingest run started")

	if p.deps.Runs != nil {
		if err := p.deps.Runs.StartRun(ctx, id, run.StartedAt); err != nil {
			logger.Warn("failed to record run start", zap.Error(err))
		}
	}

	runErr := p.ingestAll(ctx, logger, src, &run)
	return p.finish(ctx, logger, run, runErr)
}

func (p *Pipeline) ingestAll(ctx context.Context, logger *zap.Logger, src Source, run *catalog.IngestRun) error {
	if err := p.deps.Store.Ping(ctx); err != nil {
		return fmt.Errorf("ping store: %w", errors.Join(catalog.ErrStoreUnavailable, err))
	}
	dims, err := p.deps.Store.LoadDimensions(ctx)
	if err != nil {
		return fmt.Errorf("load dimensions: %w", errors.Join(catalog.ErrStoreUnavailable, err))
	}
	rc := NewRunContext(run.ID, dims)
	logger.Debug("dimension cache loaded",
		zap.Int("categories", rc.CacheSize(KindCategory)),
		zap.Int("product_types", rc.CacheSize(KindProductType)),
		zap.Int("taxes", rc.CacheSize(KindTax)),
	)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		rec, err := src.Dequeue(ctx)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("dequeue record: %w", err)
		}

		run.Counters.Seen++
		res, err := p.deps.Engine.Ingest(ctx, rc, rec)
		tally(&run.Counters, res)
		metrics.ObserveIngestRecord(string(res.Outcome))
		metrics.ObserveSnapshotsPruned(res.SnapshotsPruned)
		if err != nil {
			logger.Warn("record not ingested",
				zap.String("upc", rec.Key()),
				zap.String("outcome", string(res.Outcome)),
				zap.Error(err),
			)
			continue
		}
		if res.Outcome == OutcomeDuplicate {
			logger.Debug("duplicate record skipped", zap.String("upc", rec.Key()))
		}
	}
}

func tally(c *catalog.RunCounters, res Result) {
	switch res.Outcome {
	case OutcomeInserted:
		c.Inserted++
	case OutcomeUpdated:
		c.Updated++
	case OutcomeMalformed:
		c.Malformed++
	case OutcomeDuplicate:
		c.Duplicates++
	case OutcomeFailed:
		c.Failed++
	}
	c.SnapshotsPruned += res.SnapshotsPruned
}

func (p *Pipeline) finish(
	ctx context.Context,
	logger *zap.Logger,
	run catalog.IngestRun,
	runErr error,
) (catalog.IngestRun, error) {
	finished := p.deps.Clock.Now()
	run.FinishedAt = &finished
	run.Status = catalog.RunSuccess
	if runErr != nil {
		run.Status = catalog.RunError
		msg := runErr.Error()
		run.ErrorMessage = &msg
	}

	// Bookkeeping must survive a cancelled run context.
	bg := context.WithoutCancel(ctx)
	if p.deps.Runs != nil {
		if err := p.deps.Runs.FinishRun(bg, run.ID, finished, run.Status, run.Counters, run.ErrorMessage); err != nil {
			logger.Warn("failed to record run finish", zap.Error(err))
		}
	}
	if p.deps.Cache != nil && run.Counters.Changed() {
		if err := p.deps.Cache.Invalidate(bg); err != nil {
			logger.Warn("failed to invalidate analytics cache", zap.Error(err))
		}
	}
	p.publish(bg, logger, run)
	metrics.ObserveIngestRun(string(run.Status), finished.Sub(run.StartedAt))

	fields := []zap.Field{
		zap.String("status", string(run.Status)),
		zap.Int64("seen", run.Counters.Seen),
		zap.Int64("inserted", run.Counters.Inserted),
		zap.Int64("updated", run.Counters.Updated),
		zap.Int64("malformed", run.Counters.Malformed),
		zap.Int64("duplicates", run.Counters.Duplicates),
		zap.Int64("failed", run.Counters.Failed),
		zap.Int64("snapshots_pruned", run.Counters.SnapshotsPruned),
	}
	if runErr != nil {
		logger.Error("ingest run failed", append(fields, zap.Error(runErr))...)
		return run, fmt.Errorf("ingest run %s: %w", run.ID, runErr)
	}
	logger.Info("ingest run finished", fields...)
	return run, nil
}

func (p *Pipeline) publish(ctx context.Context, logger *zap.Logger, run catalog.IngestRun) {
	if p.deps.Publisher == nil {
		return
	}
	msg := RunCompleted{
		RunID:      run.ID,
		Status:     run.Status,
		Counters:   run.Counters,
		StartedAt:  run.StartedAt,
		FinishedAt: *run.FinishedAt,
	}
	if run.ErrorMessage != nil {
		msg.Error = *run.ErrorMessage
	}
	id, err := p.deps.Publisher.Publish(ctx, p.deps.Topic, msg)
	if err != nil {
		logger.Warn("failed to publish run completion", zap.Error(err))
		return
	}
	logger.Debug("run completion published", zap.String("message_id", id))
}

// SliceSource serves a fixed list of records.
type SliceSource struct {
	records []catalog.Record
	next    int
}

// Records returns a Source over recs.
func Records(recs ...catalog.Record) *SliceSource {
	return &SliceSource{records: recs}
}

// Dequeue returns the next record or io.EOF.
func (s *SliceSource) Dequeue(ctx context.Context) (catalog.Record, error) {
	if err := ctx.Err(); err != nil {
		return catalog.Record{}, err
	}
	if s.next >= len(s.records) {
		return catalog.Record{}, io.EOF
	}
	rec := s.records[s.next]
	s.next++
	return rec, nil
}
