// Package source holds helpers shared by the provider adapters.
package source

import (
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/JakeFAU/stockcrawler/internal/backfill"
)

// Expand fills a URL template for item. Supported placeholders are {code},
// {year}, {quarter} (Q1..Q4, empty for annual), {q} (1..4, 0 for annual),
// {date} (YYYY-MM-DD) and {roc_year} (Minguo calendar year).
func Expand(template string, item backfill.WorkItem) string {
	w := item.Window
	date := ""
	if w.IsDaily() {
		date = w.Date.Format(time.DateOnly)
	}
	return strings.NewReplacer(
		"{code}", url.PathEscape(item.SecurityCode),
		"{year}", strconv.Itoa(w.Year),
		"{roc_year}", strconv.Itoa(w.Year-1911),
		"{quarter}", w.QuarterLabel(),
		"{q}", strconv.Itoa(w.Quarter),
		"{date}", date,
	).Replace(template)
}
