package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/JakeFAU/stockcrawler/internal/backfill"
	"github.com/JakeFAU/stockcrawler/internal/market"
)

// A stored quarterly statement whose net asset value is still zero counts as
// missing. Annual rows only carry EPS, so any annual row counts as present.
const findMissingStatementsSQL = `
SELECT s.stock_symbol, s.name, COALESCE(s.net_asset_value_per_share, 0)::text
FROM stocks AS s
WHERE s.suspend_listing = false
  AND NOT EXISTS (
    SELECT 1
    FROM financial_statement AS f
    WHERE f.security_code = s.stock_symbol
      AND f."year" = $1
      AND f.quarter = $2
      AND ($2 = '' OR f.net_asset_value_per_share <> 0)
  )
ORDER BY s.stock_symbol`

const upsertStatementSQL = `
INSERT INTO financial_statement (
	security_code, "year", quarter, gross_profit, operating_profit_margin,
	"pre-tax_income", net_income, net_asset_value_per_share, sales_per_share,
	earnings_per_share, profit_before_tax, return_on_equity, return_on_assets,
	created_time, updated_time
) VALUES (
	$1, $2, $3, $4::numeric, $5::numeric, $6::numeric, $7::numeric, $8::numeric,
	$9::numeric, $10::numeric, $11::numeric, $12::numeric, $13::numeric, $14, $14
)
ON CONFLICT (security_code, "year", quarter) DO UPDATE SET
	gross_profit = EXCLUDED.gross_profit,
	operating_profit_margin = EXCLUDED.operating_profit_margin,
	"pre-tax_income" = EXCLUDED."pre-tax_income",
	net_income = EXCLUDED.net_income,
	net_asset_value_per_share = EXCLUDED.net_asset_value_per_share,
	sales_per_share = EXCLUDED.sales_per_share,
	earnings_per_share = EXCLUDED.earnings_per_share,
	profit_before_tax = EXCLUDED.profit_before_tax,
	return_on_equity = EXCLUDED.return_on_equity,
	return_on_assets = EXCLUDED.return_on_assets,
	updated_time = EXCLUDED.updated_time`

const upsertEarningsPerShareSQL = `
INSERT INTO financial_statement (
	security_code, "year", quarter, earnings_per_share, created_time, updated_time
) VALUES ($1, $2, $3, $4::numeric, $5, $5)
ON CONFLICT (security_code, "year", quarter) DO NOTHING`

const updateNetAssetValueSQL = `
UPDATE stocks
SET net_asset_value_per_share = $2::numeric, updated_time = $3
WHERE stock_symbol = $1`

const updateLastEPSSQL = `
UPDATE stocks AS s
SET last_four_eps = e.eps, updated_time = $1
FROM (
	SELECT security_code, SUM(earnings_per_share) AS eps
	FROM (
		SELECT security_code, earnings_per_share,
			ROW_NUMBER() OVER (PARTITION BY security_code ORDER BY "year" DESC, quarter DESC) AS rn
		FROM financial_statement
		WHERE quarter <> ''
	) AS ranked
	WHERE rn <= 4
	GROUP BY security_code
) AS e
WHERE s.stock_symbol = e.security_code`

// FinancialStatementStore persists financial statements and their stock rollups.
type FinancialStatementStore struct {
	db  DB
	now func() time.Time
}

// NewFinancialStatementStore wraps db (a *pgxpool.Pool in production).
func NewFinancialStatementStore(db DB) (*FinancialStatementStore, error) {
	if db == nil {
		return nil, errors.New("pool is required")
	}
	return &FinancialStatementStore{db: db, now: time.Now}, nil
}

// FindMissing lists listed stocks without a usable statement for window.
func (s *FinancialStatementStore) FindMissing(ctx context.Context, window backfill.Window) ([]backfill.WorkItem, error) {
	rows, err := s.db.Query(ctx, findMissingStatementsSQL, window.Year, window.QuarterLabel())
	if err != nil {
		return nil, fmt.Errorf("query stocks without financial statement: %w", err)
	}
	return scanWorkItems(rows, window)
}

// Upsert inserts fs or overwrites every mutable column of the existing row.
func (s *FinancialStatementStore) Upsert(ctx context.Context, fs market.FinancialStatement) error {
	args := []any{
		fs.SecurityCode,
		fs.Year,
		fs.QuarterLabel(),
		fs.GrossProfit.String(),
		fs.OperatingProfitMargin.String(),
		fs.PreTaxIncome.String(),
		fs.NetIncome.String(),
		fs.NetAssetValuePerShare.String(),
		fs.SalesPerShare.String(),
		fs.EarningsPerShare.String(),
		fs.ProfitBeforeTax.String(),
		fs.ReturnOnEquity.String(),
		fs.ReturnOnAssets.String(),
		s.stamp(fs.UpdatedAt),
	}
	if _, err := s.db.Exec(ctx, upsertStatementSQL, args...); err != nil {
		return fmt.Errorf("upsert financial statement %s: %w", fs.NaturalKey(), err)
	}
	return nil
}

// UpsertEarningsPerShare inserts only the EPS column and never overwrites an
// existing row.
func (s *FinancialStatementStore) UpsertEarningsPerShare(ctx context.Context, fs market.FinancialStatement) error {
	_, err := s.db.Exec(ctx, upsertEarningsPerShareSQL,
		fs.SecurityCode, fs.Year, fs.QuarterLabel(), fs.EarningsPerShare.String(), s.stamp(fs.UpdatedAt))
	if err != nil {
		return fmt.Errorf("upsert earnings per share %s: %w", fs.NaturalKey(), err)
	}
	return nil
}

// UpdateNetAssetValue sets the stock's stored net asset value per share.
func (s *FinancialStatementStore) UpdateNetAssetValue(ctx context.Context, code string, value decimal.Decimal) error {
	if _, err := s.db.Exec(ctx, updateNetAssetValueSQL, code, value.String(), s.now().UTC()); err != nil {
		return fmt.Errorf("update net asset value %s: %w", code, err)
	}
	return nil
}

// UpdateLastEPS recomputes every stock's trailing four-quarter EPS and
// returns the number of stocks touched.
func (s *FinancialStatementStore) UpdateLastEPS(ctx context.Context) (int64, error) {
	tag, err := s.db.Exec(ctx, updateLastEPSSQL, s.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("update last eps: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *FinancialStatementStore) stamp(t time.Time) time.Time {
	if t.IsZero() {
		return s.now().UTC()
	}
	return t.UTC()
}
