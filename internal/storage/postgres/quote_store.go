package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/JakeFAU/stockcrawler/internal/backfill"
	"github.com/JakeFAU/stockcrawler/internal/market"
)

const findMissingQuotesSQL = `
SELECT s.stock_symbol, s.name, COALESCE(s.net_asset_value_per_share, 0)::text
FROM stocks AS s
WHERE s.suspend_listing = false
  AND NOT EXISTS (
    SELECT 1
    FROM daily_quote AS q
    WHERE q.security_code = s.stock_symbol
      AND q."date" = $1
  )
ORDER BY s.stock_symbol`

const upsertQuoteSQL = `
INSERT INTO daily_quote (security_code, "date", closing_price, created_time, updated_time)
VALUES ($1, $2, $3::numeric, $4, $4)
ON CONFLICT (security_code, "date") DO UPDATE SET
	closing_price = EXCLUDED.closing_price,
	updated_time = EXCLUDED.updated_time`

// QuoteStore persists daily closing prices.
type QuoteStore struct {
	db  DB
	now func() time.Time
}

// NewQuoteStore wraps db.
func NewQuoteStore(db DB) (*QuoteStore, error) {
	if db == nil {
		return nil, errors.New("pool is required")
	}
	return &QuoteStore{db: db, now: time.Now}, nil
}

// FindMissing lists listed stocks without a quote for the window's date.
func (s *QuoteStore) FindMissing(ctx context.Context, window backfill.Window) ([]backfill.WorkItem, error) {
	if !window.IsDaily() {
		return nil, fmt.Errorf("quote window %s has no date", window)
	}
	rows, err := s.db.Query(ctx, findMissingQuotesSQL, window.Date)
	if err != nil {
		return nil, fmt.Errorf("query stocks without daily quote: %w", err)
	}
	return scanWorkItems(rows, window)
}

// Upsert inserts q or overwrites the stored price for the same date.
func (s *QuoteStore) Upsert(ctx context.Context, q market.DailyQuote) error {
	updated := q.UpdatedAt
	if updated.IsZero() {
		updated = s.now()
	}
	date := backfill.Day(q.Date).Date
	if _, err := s.db.Exec(ctx, upsertQuoteSQL, q.SecurityCode, date, q.Price.String(), updated.UTC()); err != nil {
		return fmt.Errorf("upsert daily quote %s: %w", q.NaturalKey(), err)
	}
	return nil
}
