// Package holiday reads the exchange's yearly market holiday schedule.
package holiday

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/stockcrawler/internal/notify"
	"github.com/JakeFAU/stockcrawler/internal/source/status"
)

// tradingStartMarker tags schedule rows that announce the first trading
// day rather than a closure.
const tradingStartMarker = "開始交易"

// JSONGetter is the subset of httpclient.Client the calendar needs.
type JSONGetter interface {
	GetJSON(ctx context.Context, url string, v any) error
}

type scheduleResponse struct {
	Stat      *string    `json:"stat"`
	Date      string     `json:"date"`
	Data      [][]string `json:"data"`
	QueryYear int        `json:"queryYear"`
	Total     int        `json:"total"`
}

// Calendar caches one holiday list per year.
type Calendar struct {
	client      JSONGetter
	urlTemplate string
	notifier    notify.Notifier
	logger      *zap.Logger
	now         func() time.Time

	mu    sync.Mutex
	years map[int]map[string]struct{}
}

// New builds a Calendar. urlTemplate may contain {year} and {ts} (unix millis).
func New(client JSONGetter, urlTemplate string, notifier notify.Notifier, logger *zap.Logger) *Calendar {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Calendar{
		client:      client,
		urlTemplate: urlTemplate,
		notifier:    notifier,
		logger:      logger.Named("holiday"),
		now:         time.Now,
		years:       make(map[int]map[string]struct{}),
	}
}

// Visit downloads the holiday list for year. A non-OK stat is reported to
// the notifier and yields an empty list.
func (c *Calendar) Visit(ctx context.Context, year int) ([]time.Time, error) {
	url := strings.NewReplacer(
		"{year}", strconv.Itoa(year),
		"{ts}", strconv.FormatInt(c.now().UnixMilli(), 10),
	).Replace(c.urlTemplate)

	var res scheduleResponse
	if err := c.client.GetJSON(ctx, url, &res); err != nil {
		return nil, fmt.Errorf("holiday schedule %d: %w", year, err)
	}
	if r := status.Check(res.Stat); !r.OK() {
		c.logger.Warn("holiday schedule stat not ok", zap.Int("year", year), zap.Stringer("kind", r.Kind))
		notify.Fire(ctx, c.notifier, c.logger, fmt.Sprintf("HolidaySchedule stat is %s (%q)", r.Kind, r.Value))
		return nil, nil
	}

	days := make([]time.Time, 0, len(res.Data))
	for _, row := range res.Data {
		if len(row) < 3 || strings.Contains(row[2], tradingStartMarker) {
			continue
		}
		d, err := time.ParseInLocation(time.DateOnly, strings.TrimSpace(row[0]), time.UTC)
		if err != nil {
			continue
		}
		days = append(days, d)
	}
	return days, nil
}

// IsHoliday reports whether date is a listed market holiday. Lists are
// fetched once per year; an empty list caused by a bad stat is not cached.
func (c *Calendar) IsHoliday(ctx context.Context, date time.Time) (bool, error) {
	date = date.UTC()
	year := date.Year()

	c.mu.Lock()
	set, ok := c.years[year]
	c.mu.Unlock()
	if !ok {
		days, err := c.Visit(ctx, year)
		if err != nil {
			return false, err
		}
		set = make(map[string]struct{}, len(days))
		for _, d := range days {
			set[d.Format(time.DateOnly)] = struct{}{}
		}
		if len(days) > 0 {
			c.mu.Lock()
			c.years[year] = set
			c.mu.Unlock()
		}
	}
	_, hit := set[date.Format(time.DateOnly)]
	return hit, nil
}

// IsWeekend reports whether t falls on Saturday or Sunday in UTC.
func IsWeekend(t time.Time) bool {
	switch t.UTC().Weekday() {
	case time.Saturday, time.Sunday:
		return true
	default:
		return false
	}
}
