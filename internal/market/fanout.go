package market

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/vikasavnish/stockwatch/internal/finnhub"
	"github.com/vikasavnish/stockwatch/internal/models"
)

// QuoteSnapshot is the last known price of a ticker
type QuoteSnapshot = models.Quote

// QuoteSource fetches one quote at a time
type QuoteSource interface {
	Enabled() bool
	Quote(ctx context.Context, ticker string) (models.Quote, error)
}

// Fanout looks up quotes for a set of tickers concurrently
type Fanout struct {
	source QuoteSource
}

func NewFanout(source QuoteSource) *Fanout {
	return &Fanout{source: source}
}

// RefreshQuotes issues one lookup per distinct ticker and waits for all of
// them. Tickers whose lookup failed are left out of the result; individual
// failures are never returned. When the source is not configured nothing is
// fetched and finnhub.ErrMissingAPIKey is returned.
func (f *Fanout) RefreshQuotes(ctx context.Context, tickers []string) (map[string]QuoteSnapshot, error) {
	if !f.source.Enabled() {
		return nil, finnhub.ErrMissingAPIKey
	}

	result := make(map[string]QuoteSnapshot, len(tickers))
	if len(tickers) == 0 {
		return result, nil
	}

	var (
		mu   sync.Mutex
		g    errgroup.Group
		seen = make(map[string]struct{}, len(tickers))
	)
	for _, ticker := range tickers {
		if _, dup := seen[ticker]; dup {
			continue
		}
		seen[ticker] = struct{}{}

		g.Go(func() error {
			quote, err := f.source.Quote(ctx, ticker)
			if err != nil {
				log.Debug().Err(err).Str("ticker", ticker).Msg("Quote lookup failed")
				return nil
			}
			mu.Lock()
			result[ticker] = quote
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	return result, nil
}

// QuoteBoard holds the quotes of the last completed refresh
type QuoteBoard struct {
	mu     sync.RWMutex
	quotes map[string]QuoteSnapshot
}

func NewQuoteBoard() *QuoteBoard {
	return &QuoteBoard{quotes: make(map[string]QuoteSnapshot)}
}

// Replace swaps in a new mapping. Entries of the previous refresh are not
// carried over.
func (b *QuoteBoard) Replace(quotes map[string]QuoteSnapshot) {
	next := make(map[string]QuoteSnapshot, len(quotes))
	for k, v := range quotes {
		next[k] = v
	}
	b.mu.Lock()
	b.quotes = next
	b.mu.Unlock()
}

// Get returns the quote of ticker, if one is held
func (b *QuoteBoard) Get(ticker string) (QuoteSnapshot, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	q, ok := b.quotes[ticker]
	return q, ok
}

// Snapshot returns a copy of the current mapping
func (b *QuoteBoard) Snapshot() map[string]QuoteSnapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[string]QuoteSnapshot, len(b.quotes))
	for k, v := range b.quotes {
		out[k] = v
	}
	return out
}
