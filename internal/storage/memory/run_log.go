package memory

import (
	"context"
	"sync"
	"time"

	"github.com/JakeFAU/stockcrawler/internal/backfill"
)

// IDGenerator produces run IDs.
type IDGenerator interface {
	NewID() (string, error)
}

// RunRecord is the stored summary of one finished backfill run.
type RunRecord struct {
	ID          string    `json:"id"`
	Task        string    `json:"task"`
	Window      string    `json:"window"`
	Result      string    `json:"result"`
	SkipReason  string    `json:"skip_reason,omitempty"`
	Started     time.Time `json:"started_at"`
	Finished    time.Time `json:"finished_at"`
	Total       int       `json:"total"`
	Succeeded   int       `json:"succeeded"`
	Ineligible  int       `json:"ineligible"`
	Failed      int       `json:"failed"`
	Mismatched  int       `json:"mismatched"`
	SentinelSet bool      `json:"sentinel_set"`
	RollupRan   bool      `json:"rollup_ran"`
	Error       string    `json:"error,omitempty"`
}

// DefaultRunLogSize bounds the number of kept runs.
const DefaultRunLogSize = 200

// RunLog keeps the most recent runs in memory. It implements backfill.Recorder.
type RunLog struct {
	mu   sync.RWMutex
	ids  IDGenerator
	size int
	runs []RunRecord
	last map[string]RunRecord
}

// NewRunLog builds a log holding at most size runs.
func NewRunLog(ids IDGenerator, size int) *RunLog {
	if size <= 0 {
		size = DefaultRunLogSize
	}
	return &RunLog{ids: ids, size: size, last: make(map[string]RunRecord)}
}

// RecordRun implements backfill.Recorder.
func (l *RunLog) RecordRun(_ context.Context, run backfill.RunReport) {
	rec := RunRecord{
		Task:        run.Task,
		Window:      run.Summary.Window.String(),
		Result:      run.Summary.Result(),
		SkipReason:  run.Summary.SkipReason,
		Started:     run.Started,
		Finished:    run.Finished,
		Total:       run.Summary.Total,
		Succeeded:   run.Summary.Succeeded,
		Ineligible:  run.Summary.Ineligible,
		Failed:      run.Summary.Failed,
		Mismatched:  run.Summary.Mismatched,
		SentinelSet: run.Summary.SentinelSet,
		RollupRan:   run.Summary.RollupRan,
	}
	if run.Err != nil {
		rec.Result = "error"
		rec.Error = run.Err.Error()
	}
	if l.ids != nil {
		if id, err := l.ids.NewID(); err == nil {
			rec.ID = id
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.runs = append(l.runs, rec)
	if len(l.runs) > l.size {
		l.runs = append([]RunRecord(nil), l.runs[len(l.runs)-l.size:]...)
	}
	l.last[rec.Task] = rec
}

// Recent returns up to limit runs, newest first. limit <= 0 returns all.
func (l *RunLog) Recent(limit int) []RunRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()
	n := len(l.runs)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]RunRecord, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, l.runs[i])
	}
	return out
}

// Last returns the most recent run of task.
func (l *RunLog) Last(task string) (RunRecord, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	rec, ok := l.last[task]
	return rec, ok
}
