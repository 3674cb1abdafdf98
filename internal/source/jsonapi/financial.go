// Package jsonapi adapts JSON financial statement endpoints to backfill.Source.
package jsonapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/JakeFAU/stockcrawler/internal/backfill"
	"github.com/JakeFAU/stockcrawler/internal/httpclient"
	"github.com/JakeFAU/stockcrawler/internal/market"
	"github.com/JakeFAU/stockcrawler/internal/source"
	"github.com/JakeFAU/stockcrawler/internal/source/status"
)

// ErrNoData is returned when the envelope carries no statement.
var ErrNoData = errors.New("response has no data")

// Config controls the financial statement adapter.
type Config struct {
	// URLTemplate is expanded with source.Expand.
	URLTemplate string
	// Charset names the body encoding, e.g. "big5". Empty means UTF-8.
	Charset string
	// RequireStat rejects responses whose stat field is not OK.
	RequireStat bool
}

// Getter is the subset of httpclient.Client the adapter needs.
type Getter interface {
	Get(ctx context.Context, url string) (httpclient.Response, error)
}

type envelope struct {
	Stat *string    `json:"stat"`
	Data *statement `json:"data"`
}

type statement struct {
	SecurityCode          string          `json:"security_code"`
	Year                  int             `json:"year"`
	Quarter               string          `json:"quarter"`
	GrossProfit           decimal.Decimal `json:"gross_profit"`
	OperatingProfitMargin decimal.Decimal `json:"operating_profit_margin"`
	PreTaxIncome          decimal.Decimal `json:"pre_tax_income"`
	NetIncome             decimal.Decimal `json:"net_income"`
	NetAssetValuePerShare decimal.Decimal `json:"net_asset_value_per_share"`
	SalesPerShare         decimal.Decimal `json:"sales_per_share"`
	EarningsPerShare      decimal.Decimal `json:"earnings_per_share"`
	ProfitBeforeTax       decimal.Decimal `json:"profit_before_tax"`
	ReturnOnEquity        decimal.Decimal `json:"return_on_equity"`
	ReturnOnAssets        decimal.Decimal `json:"return_on_assets"`
}

// FinancialStatements fetches one statement per work item.
type FinancialStatements struct {
	client Getter
	cfg    Config
	now    func() time.Time
}

// NewFinancialStatements builds the adapter.
func NewFinancialStatements(client Getter, cfg Config) *FinancialStatements {
	return &FinancialStatements{client: client, cfg: cfg, now: time.Now}
}

// Fetch retrieves and decodes the statement for item. The returned record
// reports the period the provider answered with, not the one requested.
func (f *FinancialStatements) Fetch(ctx context.Context, item backfill.WorkItem) (market.FinancialStatement, error) {
	url := source.Expand(f.cfg.URLTemplate, item)
	resp, err := f.client.Get(ctx, url)
	if err != nil {
		return market.FinancialStatement{}, err
	}
	body, err := resp.Text(f.cfg.Charset)
	if err != nil {
		return market.FinancialStatement{}, err
	}

	var env envelope
	if err := json.Unmarshal([]byte(body), &env); err != nil {
		return market.FinancialStatement{}, fmt.Errorf("decode statement %s: %w", item.SecurityCode, err)
	}
	if f.cfg.RequireStat {
		if err := status.Check(env.Stat).Err(); err != nil {
			return market.FinancialStatement{}, fmt.Errorf("statement %s: %w", item.SecurityCode, err)
		}
	}
	if env.Data == nil {
		return market.FinancialStatement{}, fmt.Errorf("statement %s: %w", item.SecurityCode, ErrNoData)
	}

	d := env.Data
	quarter, err := backfill.ParseQuarterLabel(strings.TrimSpace(d.Quarter))
	if err != nil {
		return market.FinancialStatement{}, fmt.Errorf("statement %s: %w", item.SecurityCode, err)
	}
	code := d.SecurityCode
	if code == "" {
		code = item.SecurityCode
	}
	return market.FinancialStatement{
		SecurityCode:          code,
		Year:                  d.Year,
		Quarter:               quarter,
		GrossProfit:           d.GrossProfit,
		OperatingProfitMargin: d.OperatingProfitMargin,
		PreTaxIncome:          d.PreTaxIncome,
		NetIncome:             d.NetIncome,
		NetAssetValuePerShare: d.NetAssetValuePerShare,
		SalesPerShare:         d.SalesPerShare,
		EarningsPerShare:      d.EarningsPerShare,
		ProfitBeforeTax:       d.ProfitBeforeTax,
		ReturnOnEquity:        d.ReturnOnEquity,
		ReturnOnAssets:        d.ReturnOnAssets,
		UpdatedAt:             f.now().UTC(),
	}, nil
}
