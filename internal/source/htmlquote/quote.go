// Package htmlquote scrapes a quoted price out of an HTML page using colly.
// Several providers may be configured; they are tried in order until one
// yields a price.
package htmlquote

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/shopspring/decimal"

	"github.com/JakeFAU/stockcrawler/internal/backfill"
	"github.com/JakeFAU/stockcrawler/internal/httpclient"
	"github.com/JakeFAU/stockcrawler/internal/market"
	"github.com/JakeFAU/stockcrawler/internal/source"
)

// ErrPriceNotFound is returned when no configured selector matched.
var ErrPriceNotFound = errors.New("price element not found")

// Provider describes one page layout.
type Provider struct {
	Name        string `mapstructure:"name"`
	URLTemplate string `mapstructure:"url_template"`
	// Selector locates the container; Element, if set, is a child of it
	// whose text is the price.
	Selector string `mapstructure:"selector"`
	Element  string `mapstructure:"element"`
	// DateSelector optionally locates the quote date on the page, parsed
	// with DateLayout. Without it the requested date is assumed.
	DateSelector string `mapstructure:"date_selector"`
	DateLayout   string `mapstructure:"date_layout"`
}

// Config controls the quote adapter.
type Config struct {
	Providers []Provider
	Timeout   time.Duration
}

// Quotes implements backfill.Source for market.DailyQuote.
type Quotes struct {
	client    *httpclient.Client
	cfg       Config
	collector *colly.Collector
	now       func() time.Time
}

// New builds the adapter. Outbound visits are paced and gated by client.
func New(client *httpclient.Client, cfg Config) (*Quotes, error) {
	if len(cfg.Providers) == 0 {
		return nil, errors.New("htmlquote: at least one provider is required")
	}
	for _, p := range cfg.Providers {
		if p.URLTemplate == "" || p.Selector == "" {
			return nil, fmt.Errorf("htmlquote: provider %q needs url_template and selector", p.Name)
		}
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = httpclient.DefaultTimeout
	}
	c := colly.NewCollector(colly.Async(false), colly.AllowURLRevisit())
	c.WithTransport(httpclient.NewTransport())
	c.SetRequestTimeout(timeout)
	if ua := client.UserAgent(); ua != "" {
		c.UserAgent = ua
	}
	return &Quotes{client: client, cfg: cfg, collector: c, now: time.Now}, nil
}

// Fetch returns the quote for item, trying providers in order.
func (q *Quotes) Fetch(ctx context.Context, item backfill.WorkItem) (market.DailyQuote, error) {
	var errs []error
	for _, p := range q.cfg.Providers {
		quote, err := q.fetchFrom(ctx, p, item)
		if err == nil {
			return quote, nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", p.Name, err))
		if ctx.Err() != nil {
			break
		}
	}
	return market.DailyQuote{}, fmt.Errorf("quote %s: %w", item.SecurityCode, errors.Join(errs...))
}

type scrape struct {
	price string
	date  string
	err   error
}

func (q *Quotes) fetchFrom(ctx context.Context, p Provider, item backfill.WorkItem) (market.DailyQuote, error) {
	url := source.Expand(p.URLTemplate, item)
	if err := q.client.Limiter().Wait(ctx, url); err != nil {
		return market.DailyQuote{}, err
	}

	collector := q.collector.Clone()
	var got scrape
	collector.OnHTML(p.Selector, func(e *colly.HTMLElement) {
		if got.price != "" {
			return
		}
		text := e.Text
		if p.Element != "" {
			text = e.ChildText(p.Element)
		}
		got.price = strings.TrimSpace(text)
	})
	if p.DateSelector != "" {
		collector.OnHTML(p.DateSelector, func(e *colly.HTMLElement) {
			if got.date == "" {
				got.date = strings.TrimSpace(e.Text)
			}
		})
	}
	collector.OnError(func(_ *colly.Response, err error) {
		got.err = err
	})

	err := q.client.Gate().Do(ctx, func(ctx context.Context) error {
		return visit(ctx, collector, url)
	})
	if err != nil {
		return market.DailyQuote{}, err
	}
	if got.err != nil {
		return market.DailyQuote{}, fmt.Errorf("colly response failed: %w", got.err)
	}
	return q.toQuote(p, item, got)
}

func visit(ctx context.Context, collector *colly.Collector, url string) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()
	select {
	case <-ctx.Done():
		// The request keeps running until colly's own timeout; hold the
		// caller (and its fetch permit) until it has returned.
		<-done
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		return nil
	}
}

func (q *Quotes) toQuote(p Provider, item backfill.WorkItem, got scrape) (market.DailyQuote, error) {
	if got.price == "" {
		return market.DailyQuote{}, ErrPriceNotFound
	}
	price, err := ParsePrice(got.price)
	if err != nil {
		return market.DailyQuote{}, err
	}

	date := item.Window.Date
	if p.DateSelector != "" {
		layout := p.DateLayout
		if layout == "" {
			layout = time.DateOnly
		}
		parsed, err := time.ParseInLocation(layout, got.date, time.UTC)
		if err != nil {
			return market.DailyQuote{}, fmt.Errorf("parse quote date %q: %w", got.date, err)
		}
		date = parsed
	}
	return market.DailyQuote{
		SecurityCode: item.SecurityCode,
		Date:         date,
		Price:        price,
		UpdatedAt:    q.now().UTC(),
	}, nil
}

// ParsePrice parses a displayed price such as "1,035.00".
func ParsePrice(s string) (decimal.Decimal, error) {
	clean := strings.NewReplacer(",", "", " ", "", "\u00a0", "").Replace(strings.TrimSpace(s))
	d, err := decimal.NewFromString(clean)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse price %q: %w", s, err)
	}
	return d, nil
}
