package postgres

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/JakeFAU/stockcrawler/internal/backfill"
)

const insertRunSQL = `
INSERT INTO backfill_runs (
	id, task, run_window, result, skip_reason, started_at, finished_at,
	total, succeeded, ineligible, failed, mismatched, sentinel_set, rollup_ran, error_message
)
VALUES ($1::uuid, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`

// IDGenerator produces run ids. They must parse as UUIDs.
type IDGenerator interface {
	NewID() (string, error)
}

// RunStore appends finished backfill runs to the backfill_runs table. It
// implements backfill.Recorder.
type RunStore struct {
	db     DB
	ids    IDGenerator
	logger *zap.Logger
}

// NewRunStore wraps db.
func NewRunStore(db DB, ids IDGenerator, logger *zap.Logger) (*RunStore, error) {
	if db == nil {
		return nil, errors.New("pool is required")
	}
	if ids == nil {
		return nil, errors.New("id generator is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RunStore{db: db, ids: ids, logger: logger}, nil
}

// RecordRun inserts one row per run. Failures are logged; a lost history row
// never fails the run itself.
func (s *RunStore) RecordRun(ctx context.Context, run backfill.RunReport) {
	id, err := s.ids.NewID()
	if err != nil {
		s.logger.Warn("run id generation failed", zap.String("task", run.Task), zap.Error(err))
		return
	}
	result := run.Summary.Result()
	var errMsg *string
	if run.Err != nil {
		result = "error"
		msg := run.Err.Error()
		errMsg = &msg
	}
	sum := run.Summary
	_, err = s.db.Exec(ctx, insertRunSQL,
		id, run.Task, sum.Window.String(), result, sum.SkipReason,
		run.Started, run.Finished,
		sum.Total, sum.Succeeded, sum.Ineligible, sum.Failed, sum.Mismatched,
		sum.SentinelSet, sum.RollupRan, errMsg,
	)
	if err != nil {
		s.logger.Warn("failed to persist run", zap.String("task", run.Task), zap.Error(err))
	}
}
