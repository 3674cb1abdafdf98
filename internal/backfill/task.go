package backfill

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/stockcrawler/internal/clock/system"
	"github.com/JakeFAU/stockcrawler/internal/metrics"
)

// MarkPolicy decides when a finished run writes its sentinel.
type MarkPolicy string

const (
	// MarkAttempted writes the sentinel once every item was processed,
	// however many of them failed.
	MarkAttempted MarkPolicy = "attempted"
	// MarkFullSuccess writes the sentinel only when no item failed.
	MarkFullSuccess MarkPolicy = "full_success"
)

// ParseMarkPolicy maps a config value to a MarkPolicy. Empty means MarkAttempted.
func ParseMarkPolicy(s string) (MarkPolicy, error) {
	switch MarkPolicy(s) {
	case "", MarkAttempted:
		return MarkAttempted, nil
	case MarkFullSuccess:
		return MarkFullSuccess, nil
	default:
		return "", fmt.Errorf("unknown mark policy %q", s)
	}
}

// Definition describes one concrete backfill.
type Definition[R Record] struct {
	Name string
	// SentinelKey defaults to Name.
	SentinelKey string
	TTL         time.Duration
	Window      func(now time.Time) Window
	Store       Store[R]
	Source      Source[R]

	// Skip is consulted after the sentinel check. A skipped run writes no sentinel.
	Skip func(ctx context.Context, window Window) (bool, string)
	// Eligible filters items before any fetch.
	Eligible func(item WorkItem) (bool, string)
	// Secondary runs after a successful upsert. Its failure never undoes the upsert.
	Secondary func(ctx context.Context, item WorkItem, record R) error
	// Rollup runs once per run when at least one item was upserted.
	Rollup func(ctx context.Context, summary Summary) error

	// Parallelism bounds how many items are in progress at once. Values
	// below 2 process items sequentially.
	Parallelism int
	MarkPolicy  MarkPolicy
}

func (d Definition[R]) validate() error {
	switch {
	case d.Name == "":
		return fmt.Errorf("%w: name is required", ErrInvalidDefinition)
	case d.TTL <= 0:
		return fmt.Errorf("%w: %s: ttl must be > 0", ErrInvalidDefinition, d.Name)
	case d.Window == nil:
		return fmt.Errorf("%w: %s: window func is required", ErrInvalidDefinition, d.Name)
	case d.Store == nil:
		return fmt.Errorf("%w: %s: store is required", ErrInvalidDefinition, d.Name)
	case d.Source == nil:
		return fmt.Errorf("%w: %s: source is required", ErrInvalidDefinition, d.Name)
	}
	if _, err := ParseMarkPolicy(string(d.MarkPolicy)); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrInvalidDefinition, d.Name, err)
	}
	return nil
}

type options struct {
	clock     Clock
	logger    *zap.Logger
	recorders []Recorder
}

// Option customizes a Task.
type Option func(*options)

// WithClock overrides the wall clock used to compute windows.
func WithClock(c Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithLogger sets the task logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithRecorder registers a Recorder that sees every finished run. It may be
// given more than once; recorders are called in registration order.
func WithRecorder(r Recorder) Option {
	return func(o *options) {
		if r != nil {
			o.recorders = append(o.recorders, r)
		}
	}
}

// Task executes a Definition.
type Task[R Record] struct {
	def       Definition[R]
	sentinel  Sentinel
	clock     Clock
	logger    *zap.Logger
	recorders []Recorder
}

// New validates def and builds a Task.
func New[R Record](def Definition[R], sentinel Sentinel, opts ...Option) (*Task[R], error) {
	if err := def.validate(); err != nil {
		return nil, err
	}
	if sentinel == nil {
		return nil, fmt.Errorf("%w: %s: sentinel is required", ErrInvalidDefinition, def.Name)
	}
	if def.MarkPolicy == "" {
		def.MarkPolicy = MarkAttempted
	}
	o := options{clock: system.New(), logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	return &Task[R]{
		def:       def,
		sentinel:  sentinel,
		clock:     o.clock,
		logger:    o.logger.With(zap.String("task", def.Name)),
		recorders: o.recorders,
	}, nil
}

// Name returns the task name.
func (t *Task[R]) Name() string {
	return t.def.Name
}

// SentinelKey returns the key the task marks on completion.
func (t *Task[R]) SentinelKey() string {
	if t.def.SentinelKey != "" {
		return t.def.SentinelKey
	}
	return t.def.Name
}

// Run executes the task and discards the summary.
func (t *Task[R]) Run(ctx context.Context) error {
	_, err := t.Execute(ctx)
	return err
}

// Execute performs one backfill run. The returned error is non-nil only when
// the run aborted: the work-set query failed or ctx ended mid-run.
func (t *Task[R]) Execute(ctx context.Context) (Summary, error) {
	started := t.clock.Now()
	window := t.def.Window(started.UTC())
	summary := Summary{Task: t.def.Name, Window: window}
	logger := t.logger.With(zap.Stringer("window", window))

	if t.sentinel.GetBool(ctx, t.SentinelKey()) {
		logger.Info("sentinel present, skipping run", zap.String("key", t.SentinelKey()))
		summary.Skipped = true
		summary.SkipReason = "sentinel"
		return t.finish(ctx, started, summary, nil)
	}
	if t.def.Skip != nil {
		if skip, reason := t.def.Skip(ctx, window); skip {
			logger.Info("run skipped", zap.String("reason", reason))
			summary.Skipped = true
			summary.SkipReason = reason
			return t.finish(ctx, started, summary, nil)
		}
	}

	items, err := t.def.Store.FindMissing(ctx, window)
	if err != nil {
		err = fmt.Errorf("%w: find missing %s: %w", ErrPersistenceRead, window, err)
		logger.Error("work set query failed", zap.Error(err))
		return t.finish(ctx, started, summary, err)
	}
	summary.Total = len(items)
	logger.Info("work set loaded", zap.Int("items", len(items)))

	for _, o := range t.process(ctx, window, items, logger) {
		summary.add(o)
	}

	if err := ctx.Err(); err != nil {
		return t.finish(ctx, started, summary, fmt.Errorf("%s interrupted: %w", t.def.Name, err))
	}

	if t.def.Rollup != nil && summary.Succeeded > 0 {
		summary.RollupRan = true
		if err := t.def.Rollup(ctx, summary); err != nil {
			summary.RollupErr = err
			logger.Error("rollup failed", zap.Error(err))
		}
	}

	if t.shouldMark(summary) {
		if err := t.sentinel.Set(ctx, t.SentinelKey(), true, t.def.TTL); err != nil {
			logger.Warn("sentinel write failed", zap.String("key", t.SentinelKey()), zap.Error(err))
		} else {
			summary.SentinelSet = true
		}
	} else {
		logger.Info("sentinel withheld", zap.Int("failed", summary.Failed), zap.String("policy", string(t.def.MarkPolicy)))
	}
	return t.finish(ctx, started, summary, nil)
}

func (t *Task[R]) shouldMark(s Summary) bool {
	if t.def.MarkPolicy == MarkFullSuccess {
		return s.Failed == 0
	}
	return true
}

// process returns one outcome per item, in item order.
func (t *Task[R]) process(ctx context.Context, window Window, items []WorkItem, logger *zap.Logger) []Outcome {
	outcomes := make([]Outcome, len(items))
	if t.def.Parallelism < 2 {
		for i, item := range items {
			outcomes[i] = t.processItem(ctx, window, item, logger)
		}
		return outcomes
	}

	var g errgroup.Group
	g.SetLimit(t.def.Parallelism)
	for i, item := range items {
		g.Go(func() error {
			outcomes[i] = t.processItem(ctx, window, item, logger)
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

func (t *Task[R]) processItem(ctx context.Context, window Window, item WorkItem, logger *zap.Logger) Outcome {
	out := Outcome{Item: item}
	defer func() { metrics.ObserveBackfillItem(t.def.Name, out.Label()) }()
	logger = logger.With(zap.String("security_code", item.SecurityCode))

	if err := ctx.Err(); err != nil {
		out.Kind, out.Err = OutcomeFailed, err
		return out
	}
	if t.def.Eligible != nil {
		if ok, reason := t.def.Eligible(item); !ok {
			logger.Debug("item ineligible", zap.String("reason", reason))
			out.Kind, out.Reason = OutcomeIneligible, reason
			return out
		}
	}

	record, err := t.def.Source.Fetch(ctx, item)
	if err != nil {
		out.Kind, out.Err = OutcomeFailed, fmt.Errorf("%w: %s: %w", ErrTransientFetch, item.SecurityCode, err)
		logger.Warn("fetch failed", zap.Error(err))
		return out
	}

	if got := record.Entity(); got != item.SecurityCode {
		out.Kind = OutcomeFailed
		out.Err = fmt.Errorf("%w: requested %s, got %q", ErrValidationMismatch, item.SecurityCode, got)
		logger.Warn("security mismatch, record discarded", zap.String("received", got))
		return out
	}
	if got := record.ReportWindow(); !got.Equal(window) {
		out.Kind = OutcomeFailed
		out.Err = fmt.Errorf("%w: %s requested %s, got %s", ErrValidationMismatch, item.SecurityCode, window, got)
		logger.Warn("window mismatch, record discarded",
			zap.Stringer("requested", window),
			zap.Stringer("received", got),
		)
		return out
	}

	if err := t.def.Store.Upsert(ctx, record); err != nil {
		out.Kind, out.Err = OutcomeFailed, fmt.Errorf("%w: %s: %w", ErrPersistenceWrite, record.NaturalKey(), err)
		logger.Error("upsert failed", zap.Error(err))
		return out
	}
	out.Kind = OutcomeSucceeded

	if t.def.Secondary != nil {
		if err := t.def.Secondary(ctx, item, record); err != nil {
			out.SecondaryErr = err
			logger.Warn("secondary update failed", zap.Error(err))
		}
	}
	return out
}

func (t *Task[R]) finish(ctx context.Context, started time.Time, summary Summary, err error) (Summary, error) {
	finished := t.clock.Now()
	result := summary.Result()
	if err != nil {
		result = "error"
	}
	metrics.ObserveBackfillRun(t.def.Name, result, finished.Sub(started))

	if !summary.Skipped {
		t.logger.Info("backfill finished",
			zap.String("result", result),
			zap.Int("total", summary.Total),
			zap.Int("succeeded", summary.Succeeded),
			zap.Int("ineligible", summary.Ineligible),
			zap.Int("failed", summary.Failed),
			zap.Int("mismatched", summary.Mismatched),
			zap.Bool("sentinel_set", summary.SentinelSet),
			zap.Duration("duration", finished.Sub(started)),
		)
	}
	report := RunReport{
		Task:     t.def.Name,
		Started:  started,
		Finished: finished,
		Summary:  summary,
		Err:      err,
	}
	for _, r := range t.recorders {
		r.RecordRun(ctx, report)
	}
	return summary, err
}
