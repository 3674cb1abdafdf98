package backfill

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// WorkItem is one entity the store reported as missing data for a window.
type WorkItem struct {
	SecurityCode string
	Name         string
	Window       Window
	// NetAssetValue is the value currently stored for the entity. Secondary
	// updates use it to avoid clobbering a non-zero value.
	NetAssetValue decimal.Decimal
}

// Record is a fetched, typed result. Entity and ReportWindow are the security
// and period the provider says the data belongs to, which may differ from the
// ones requested.
type Record interface {
	NaturalKey() string
	Entity() string
	ReportWindow() Window
}

// Source fetches the record for one work item.
type Source[R Record] interface {
	Fetch(ctx context.Context, item WorkItem) (R, error)
}

// Store lists missing work and persists validated records idempotently.
type Store[R Record] interface {
	FindMissing(ctx context.Context, window Window) ([]WorkItem, error)
	Upsert(ctx context.Context, record R) error
}

// Sentinel marks tasks that completed recently. GetBool must treat backend
// failures as absent.
type Sentinel interface {
	GetBool(ctx context.Context, key string) bool
	Set(ctx context.Context, key string, value bool, ttl time.Duration) error
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// Recorder receives a summary of every finished run.
type Recorder interface {
	RecordRun(ctx context.Context, run RunReport)
}

// RunReport is what a Recorder is handed once a run ends.
type RunReport struct {
	Task     string
	Started  time.Time
	Finished time.Time
	Summary  Summary
	Err      error
}
