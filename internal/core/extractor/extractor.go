package extractor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/cambiowatch/cambiowatch/internal/core"
)

// Extractor pulls at most one observation from a provider page.
//
// A nil observation with a nil error means the page loaded but no plausible
// quote was found.
type Extractor interface {
	Provider() core.Provider
	Extract(ctx context.Context, session Session) (*core.RateObservation, error)
}

// Launcher opens the browser session shared by one cycle.
type Launcher interface {
	Launch(ctx context.Context) (Session, error)
}

// Session hands out isolated pages. It is shared by all extractors of a cycle.
type Session interface {
	NewPage() (Page, error)
	Close() error
}

// Page is a single browser tab.
type Page interface {
	Goto(url string, timeout time.Duration) error
	Text() (string, error)
	Evaluate(script string) (any, error)
	Close() error
}

// Quote is a parsed buy/sell pair before range validation.
type Quote struct {
	Buy  decimal.Decimal
	Sell decimal.Decimal
}

// ParseFunc reads a quote from a loaded page. ok=false reports a miss.
type ParseFunc func(page Page) (quote Quote, ok bool, err error)

// Source is a page-backed extractor for a single provider.
type Source struct {
	ID      core.Provider
	URL     string
	Timeout time.Duration
	Settle  time.Duration
	Min     decimal.Decimal
	Max     decimal.Decimal
	Parse   ParseFunc
	Clock   func() time.Time
}

// Provider implements Extractor.
func (s *Source) Provider() core.Provider {
	if s == nil {
		return ""
	}
	return s.ID
}

// Extract opens a page, waits for it to settle and applies the provider parser.
func (s *Source) Extract(ctx context.Context, session Session) (obs *core.RateObservation, err error) {
	if s == nil || s.Parse == nil {
		return nil, errors.New("extractor is not configured")
	}
	if session == nil {
		return nil, errors.New("browser session is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	page, err := session.NewPage()
	if err != nil {
		return nil, fmt.Errorf("open page: %w", err)
	}
	defer func() {
		if cerr := page.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close page: %w", cerr)
			obs = nil
		}
	}()

	if err := page.Goto(s.URL, s.Timeout); err != nil {
		return nil, fmt.Errorf("navigate %s: %w", s.URL, err)
	}

	if s.Settle > 0 {
		timer := time.NewTimer(s.Settle)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	quote, ok, err := s.Parse(page)
	if err != nil {
		return nil, err
	}
	if !ok || !s.plausible(quote) {
		return nil, nil
	}

	return &core.RateObservation{
		Provider:   s.ID,
		BuyRate:    quote.Buy,
		SellRate:   quote.Sell,
		ObservedAt: s.now(),
	}, nil
}

func (s *Source) plausible(q Quote) bool {
	if !q.Buy.IsPositive() || !q.Sell.IsPositive() {
		return false
	}
	for _, v := range []decimal.Decimal{q.Buy, q.Sell} {
		if !s.Min.IsZero() && v.LessThan(s.Min) {
			return false
		}
		if !s.Max.IsZero() && v.GreaterThan(s.Max) {
			return false
		}
	}
	return true
}

func (s *Source) now() time.Time {
	if s != nil && s.Clock != nil {
		return s.Clock()
	}
	return time.Now().UTC()
}
