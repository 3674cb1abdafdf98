package market

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/JakeFAU/stockcrawler/internal/backfill"
)

func TestIsPreferenceShare(t *testing.T) {
	t.Parallel()

	for code, want := range map[string]bool{
		"2881A": true,
		"2881b": true,
		"2881":  false,
		"00878": false,
		"2330":  false,
		"":      false,
		"281AB": false,
	} {
		assert.Equal(t, want, IsPreferenceShare(code), code)
	}
}

func TestFinancialStatementKeys(t *testing.T) {
	t.Parallel()

	q := FinancialStatement{SecurityCode: "2330", Year: 2024, Quarter: 1}
	assert.Equal(t, "2330-2024-Q1", q.NaturalKey())
	assert.Equal(t, backfill.Window{Year: 2024, Quarter: 1}, q.ReportWindow())

	annual := FinancialStatement{SecurityCode: "2330", Year: 2023}
	assert.Equal(t, "2330-2023-", annual.NaturalKey())
	assert.Equal(t, "", annual.QuarterLabel())
}

func TestDailyQuoteKeys(t *testing.T) {
	t.Parallel()

	q := DailyQuote{SecurityCode: "3008", Date: time.Date(2024, time.July, 4, 7, 1, 0, 0, time.UTC)}
	assert.Equal(t, "3008-2024-07-04", q.NaturalKey())
	assert.True(t, q.ReportWindow().Equal(backfill.Day(q.Date)))
}
