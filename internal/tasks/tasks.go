// Package tasks defines the concrete backfills the service schedules.
package tasks

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/JakeFAU/stockcrawler/internal/backfill"
	"github.com/JakeFAU/stockcrawler/internal/market"
	"github.com/JakeFAU/stockcrawler/internal/source/holiday"
)

// Task names, also used as config keys under tasks.
const (
	FinancialStatementQuarterName = "financial_statement_quarter"
	FinancialStatementAnnualName  = "financial_statement_annual"
	DailyQuoteName                = "daily_quote"
)

// QuarterLag is how far back from now the quarterly backfill looks. A
// quarter's reports are complete roughly four months after it closes.
const QuarterLag = 125 * 24 * time.Hour

// EarningsPerShareStore is the statement table with an insert-only EPS write.
type EarningsPerShareStore interface {
	backfill.Store[market.FinancialStatement]
	UpsertEarningsPerShare(ctx context.Context, fs market.FinancialStatement) error
}

// FinancialStatementStore is the statement table plus the stock columns
// derived from it.
type FinancialStatementStore interface {
	EarningsPerShareStore
	UpdateNetAssetValue(ctx context.Context, code string, value decimal.Decimal) error
	UpdateLastEPS(ctx context.Context) (int64, error)
}

// HolidayCalendar reports exchange closures.
type HolidayCalendar interface {
	IsHoliday(ctx context.Context, date time.Time) (bool, error)
}

// Settings carries the per-task knobs from config.
type Settings struct {
	TTL         time.Duration
	MarkPolicy  backfill.MarkPolicy
	Parallelism int
}

func (s Settings) ttl(fallback time.Duration) time.Duration {
	if s.TTL > 0 {
		return s.TTL
	}
	return fallback
}

// FinancialStatementQuarter backfills last quarter's statements.
func FinancialStatementQuarter(
	store FinancialStatementStore,
	src backfill.Source[market.FinancialStatement],
	s Settings,
	logger *zap.Logger,
) backfill.Definition[market.FinancialStatement] {
	logger = orNop(logger).With(zap.String("task", FinancialStatementQuarterName))
	return backfill.Definition[market.FinancialStatement]{
		Name:        FinancialStatementQuarterName,
		SentinelKey: "financial_statement::yahoo",
		TTL:         s.ttl(7 * 24 * time.Hour),
		Window: func(now time.Time) backfill.Window {
			return backfill.PreviousQuarter(now, QuarterLag)
		},
		Store:       store,
		Source:      src,
		Eligible:    skipPreferenceShares,
		Secondary:   fillNetAssetValue(store, logger),
		Rollup:      refreshLastEPS(store, logger),
		Parallelism: s.Parallelism,
		MarkPolicy:  s.MarkPolicy,
	}
}

// FinancialStatementAnnual backfills last year's annual EPS. Rows that
// already exist are never overwritten.
func FinancialStatementAnnual(
	store EarningsPerShareStore,
	src backfill.Source[market.FinancialStatement],
	s Settings,
) backfill.Definition[market.FinancialStatement] {
	return backfill.Definition[market.FinancialStatement]{
		Name:        FinancialStatementAnnualName,
		SentinelKey: "financial_statement::annual",
		TTL:         s.ttl(7 * 24 * time.Hour),
		Window:      backfill.PreviousYear,
		Store:       epsOnly{store},
		Source:      src,
		Eligible:    skipPreferenceShares,
		Parallelism: s.Parallelism,
		MarkPolicy:  s.MarkPolicy,
	}
}

// DailyQuote backfills today's closing prices. The run is skipped on
// weekends and exchange holidays. calendar may be nil.
func DailyQuote(
	store backfill.Store[market.DailyQuote],
	src backfill.Source[market.DailyQuote],
	calendar HolidayCalendar,
	s Settings,
	logger *zap.Logger,
) backfill.Definition[market.DailyQuote] {
	logger = orNop(logger).With(zap.String("task", DailyQuoteName))
	return backfill.Definition[market.DailyQuote]{
		Name:        DailyQuoteName,
		SentinelKey: "daily_quote::price",
		TTL:         s.ttl(12 * time.Hour),
		Window:      backfill.Day,
		Store:       store,
		Source:      src,
		Skip:        closedMarket(calendar, logger),
		Parallelism: s.Parallelism,
		MarkPolicy:  s.MarkPolicy,
	}
}

// epsOnly routes upserts to the insert-only EPS write.
type epsOnly struct {
	EarningsPerShareStore
}

func (s epsOnly) Upsert(ctx context.Context, fs market.FinancialStatement) error {
	return s.UpsertEarningsPerShare(ctx, fs)
}

func skipPreferenceShares(item backfill.WorkItem) (bool, string) {
	if market.IsPreferenceShare(item.SecurityCode) {
		return false, "preference share"
	}
	return true, ""
}

func fillNetAssetValue(store FinancialStatementStore, logger *zap.Logger) func(context.Context, backfill.WorkItem, market.FinancialStatement) error {
	return func(ctx context.Context, item backfill.WorkItem, fs market.FinancialStatement) error {
		if !item.NetAssetValue.IsZero() || fs.NetAssetValuePerShare.IsZero() {
			return nil
		}
		if err := store.UpdateNetAssetValue(ctx, item.SecurityCode, fs.NetAssetValuePerShare); err != nil {
			return fmt.Errorf("update net asset value %s: %w", item.SecurityCode, err)
		}
		logger.Info("net asset value filled",
			zap.String("security_code", item.SecurityCode),
			zap.Stringer("value", fs.NetAssetValuePerShare),
		)
		return nil
	}
}

func refreshLastEPS(store FinancialStatementStore, logger *zap.Logger) func(context.Context, backfill.Summary) error {
	return func(ctx context.Context, _ backfill.Summary) error {
		n, err := store.UpdateLastEPS(ctx)
		if err != nil {
			return fmt.Errorf("update last four eps: %w", err)
		}
		logger.Info("last four eps refreshed", zap.Int64("stocks", n))
		return nil
	}
}

func closedMarket(calendar HolidayCalendar, logger *zap.Logger) func(context.Context, backfill.Window) (bool, string) {
	return func(ctx context.Context, w backfill.Window) (bool, string) {
		if holiday.IsWeekend(w.Date) {
			return true, "weekend"
		}
		if calendar == nil {
			return false, ""
		}
		closed, err := calendar.IsHoliday(ctx, w.Date)
		if err != nil {
			// An unknown schedule must not block a trading day.
			logger.Warn("holiday lookup failed, running anyway", zap.Stringer("window", w), zap.Error(err))
			return false, ""
		}
		if closed {
			return true, "market holiday"
		}
		return false, ""
	}
}

func orNop(l *zap.Logger) *zap.Logger {
	if l == nil {
		return zap.NewNop()
	}
	return l
}
