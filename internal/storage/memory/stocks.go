// Package memory provides in-process stores for development and tests.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/JakeFAU/stockcrawler/internal/backfill"
	"github.com/JakeFAU/stockcrawler/internal/market"
)

// Stock is one listed security.
type Stock struct {
	Code          string
	Name          string
	NetAssetValue decimal.Decimal
	LastFourEPS   decimal.Decimal
	Suspended     bool
}

// Stocks is the shared security list the record stores enumerate.
type Stocks struct {
	mu     sync.RWMutex
	stocks map[string]Stock
}

// NewStocks seeds the list.
func NewStocks(stocks ...Stock) *Stocks {
	s := &Stocks{stocks: make(map[string]Stock, len(stocks))}
	for _, st := range stocks {
		s.stocks[st.Code] = st
	}
	return s
}

// Put inserts or replaces a stock.
func (s *Stocks) Put(st Stock) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stocks[st.Code] = st
}

// Get returns the stock with code.
func (s *Stocks) Get(code string) (Stock, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.stocks[code]
	return st, ok
}

// listed returns non-suspended stocks ordered by code.
func (s *Stocks) listed() []Stock {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Stock, 0, len(s.stocks))
	for _, st := range s.stocks {
		if !st.Suspended {
			out = append(out, st)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

func (s *Stocks) update(code string, fn func(*Stock)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.stocks[code]
	if !ok {
		return false
	}
	fn(&st)
	s.stocks[code] = st
	return true
}

// Records is a generic keyed record table. A stock counts as missing for a
// window unless a record for that (code, window) exists and present accepts it.
type Records[R backfill.Record] struct {
	stocks  *Stocks
	codeOf  func(R) string
	present func(R) bool

	mu   sync.RWMutex
	rows map[string]R
}

// NewRecords builds a table. present may be nil.
func NewRecords[R backfill.Record](stocks *Stocks, codeOf func(R) string, present func(R) bool) *Records[R] {
	return &Records[R]{stocks: stocks, codeOf: codeOf, present: present, rows: make(map[string]R)}
}

func rowKey(code string, w backfill.Window) string {
	return code + "|" + w.String()
}

// FindMissing implements backfill.Store.
func (r *Records[R]) FindMissing(_ context.Context, window backfill.Window) ([]backfill.WorkItem, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var items []backfill.WorkItem
	for _, st := range r.stocks.listed() {
		row, ok := r.rows[rowKey(st.Code, window)]
		if ok && (r.present == nil || r.present(row)) {
			continue
		}
		items = append(items, backfill.WorkItem{
			SecurityCode:  st.Code,
			Name:          st.Name,
			Window:        window,
			NetAssetValue: st.NetAssetValue,
		})
	}
	return items, nil
}

// Upsert implements backfill.Store. The last write for a key wins.
func (r *Records[R]) Upsert(_ context.Context, record R) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows[rowKey(r.codeOf(record), record.ReportWindow())] = record
	return nil
}

// Get returns the stored record for code and window.
func (r *Records[R]) Get(code string, window backfill.Window) (R, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	row, ok := r.rows[rowKey(code, window)]
	return row, ok
}

// Len returns the number of stored records.
func (r *Records[R]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rows)
}

func (r *Records[R]) all() []R {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]R, 0, len(r.rows))
	for _, row := range r.rows {
		out = append(out, row)
	}
	return out
}

// FinancialStatements mirrors the Postgres statement store in memory.
type FinancialStatements struct {
	*Records[market.FinancialStatement]
	stocks *Stocks
}

// NewFinancialStatements builds the store over stocks.
func NewFinancialStatements(stocks *Stocks) *FinancialStatements {
	return &FinancialStatements{
		Records: NewRecords(stocks,
			func(fs market.FinancialStatement) string { return fs.SecurityCode },
			func(fs market.FinancialStatement) bool {
				return fs.Quarter == backfill.Annual || !fs.NetAssetValuePerShare.IsZero()
			},
		),
		stocks: stocks,
	}
}

// UpsertEarningsPerShare stores code, window and EPS only, and leaves an
// existing row untouched.
func (f *FinancialStatements) UpsertEarningsPerShare(_ context.Context, fs market.FinancialStatement) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := rowKey(fs.SecurityCode, fs.ReportWindow())
	if _, ok := f.rows[key]; ok {
		return nil
	}
	f.rows[key] = market.FinancialStatement{
		SecurityCode:     fs.SecurityCode,
		Year:             fs.Year,
		Quarter:          fs.Quarter,
		EarningsPerShare: fs.EarningsPerShare,
		UpdatedAt:        fs.UpdatedAt,
	}
	return nil
}

// UpdateNetAssetValue sets the stock's stored net asset value.
func (f *FinancialStatements) UpdateNetAssetValue(_ context.Context, code string, value decimal.Decimal) error {
	f.stocks.update(code, func(st *Stock) { st.NetAssetValue = value })
	return nil
}

// UpdateLastEPS sums the four most recent quarterly EPS figures per stock.
func (f *FinancialStatements) UpdateLastEPS(_ context.Context) (int64, error) {
	byCode := map[string][]market.FinancialStatement{}
	for _, fs := range f.all() {
		if fs.Quarter == backfill.Annual {
			continue
		}
		byCode[fs.SecurityCode] = append(byCode[fs.SecurityCode], fs)
	}
	var touched int64
	for code, list := range byCode {
		sort.Slice(list, func(i, j int) bool {
			if list[i].Year != list[j].Year {
				return list[i].Year > list[j].Year
			}
			return list[i].Quarter > list[j].Quarter
		})
		if len(list) > 4 {
			list = list[:4]
		}
		sum := decimal.Zero
		for _, fs := range list {
			sum = sum.Add(fs.EarningsPerShare)
		}
		if f.stocks.update(code, func(st *Stock) { st.LastFourEPS = sum }) {
			touched++
		}
	}
	return touched, nil
}

// NewQuotes builds a daily quote table over stocks.
func NewQuotes(stocks *Stocks) *Records[market.DailyQuote] {
	return NewRecords(stocks, func(q market.DailyQuote) string { return q.SecurityCode }, nil)
}
