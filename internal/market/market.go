// Package market defines the records the backfill tasks fetch and persist.
package market

import (
	"fmt"
	"regexp"
	"time"

	"github.com/shopspring/decimal"

	"github.com/JakeFAU/stockcrawler/internal/backfill"
)

var preferenceShare = regexp.MustCompile(`^\d{4}[A-Za-z]$`)

// IsPreferenceShare reports whether code denotes a preference share, such as 2881A.
func IsPreferenceShare(code string) bool {
	return preferenceShare.MatchString(code)
}

// FinancialStatement holds the per-share and margin figures of one report.
// The natural key is (SecurityCode, Year, Quarter); Quarter is 0 for annual reports.
type FinancialStatement struct {
	SecurityCode          string          `json:"security_code"`
	Year                  int             `json:"year"`
	Quarter               int             `json:"quarter"`
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
	UpdatedAt             time.Time       `json:"updated_at"`
}

// Entity returns the security code.
func (f FinancialStatement) Entity() string { return f.SecurityCode }

// ReportWindow returns the period the statement covers.
func (f FinancialStatement) ReportWindow() backfill.Window {
	return backfill.Window{Year: f.Year, Quarter: f.Quarter}
}

// QuarterLabel is the stored quarter column value.
func (f FinancialStatement) QuarterLabel() string {
	return f.ReportWindow().QuarterLabel()
}

// NaturalKey returns "code-year-quarter".
func (f FinancialStatement) NaturalKey() string {
	return fmt.Sprintf("%s-%d-%s", f.SecurityCode, f.Year, f.QuarterLabel())
}

// DailyQuote is the closing price of one security on one trading date.
type DailyQuote struct {
	SecurityCode string          `json:"security_code"`
	Date         time.Time       `json:"date"`
	Price        decimal.Decimal `json:"price"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// Entity returns the security code.
func (q DailyQuote) Entity() string { return q.SecurityCode }

// ReportWindow returns the daily window of the quote date.
func (q DailyQuote) ReportWindow() backfill.Window {
	return backfill.Day(q.Date)
}

// NaturalKey returns "code-date".
func (q DailyQuote) NaturalKey() string {
	return fmt.Sprintf("%s-%s", q.SecurityCode, q.Date.UTC().Format(time.DateOnly))
}
