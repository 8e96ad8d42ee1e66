package market

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/vikasavnish/stockwatch/internal/finnhub"
	"github.com/vikasavnish/stockwatch/internal/models"
)

const (
	DefaultSearchDelay = 300 * time.Millisecond
	DefaultSearchLimit = 12
	searchFailed       = "Search failed"
)

// SearchSource runs symbol searches
type SearchSource interface {
	Enabled() bool
	Search(ctx context.Context, text string, limit int) ([]models.SearchResult, error)
}

// SearchStatus is the phase of the current search cycle
type SearchStatus int

const (
	SearchIdle SearchStatus = iota
	SearchDebouncing
	SearchFetching
)

func (s SearchStatus) String() string {
	switch s {
	case SearchDebouncing:
		return "debouncing"
	case SearchFetching:
		return "fetching"
	default:
		return "idle"
	}
}

// SearchState is delivered after every change. Seq grows with every
// delivery; receivers should ignore a state older than one already seen.
type SearchState struct {
	Seq     uint64
	Query   string
	Status  SearchStatus
	Results []models.SearchResult
	Message string
}

// Loading reports whether a request is in flight
func (s SearchState) Loading() bool {
	return s.Status == SearchFetching
}

// Searcher debounces free-text symbol search. Each call to Set cancels the
// pending timer and arms a new one; only the query that survives the quiet
// period reaches the source. A response is applied only if no newer query
// was set and the searcher is still open.
type Searcher struct {
	source  SearchSource
	delay   time.Duration
	limit   int
	timeout time.Duration
	deliver func(SearchState)

	mu     sync.Mutex
	timer  *time.Timer
	gen    uint64
	seq    uint64
	state  SearchState
	closed bool
}

// NewSearcher creates a searcher that reports to deliver. Zero delay or
// limit select the defaults.
func NewSearcher(source SearchSource, delay time.Duration, limit int, deliver func(SearchState)) *Searcher {
	if delay <= 0 {
		delay = DefaultSearchDelay
	}
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	return &Searcher{
		source:  source,
		delay:   delay,
		limit:   limit,
		timeout: 15 * time.Second,
		deliver: deliver,
	}
}

// Set replaces the query text
func (s *Searcher) Set(text string) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.stopTimerLocked()
	s.gen++
	gen := s.gen

	s.state.Query = text
	s.state.Message = ""
	q := strings.TrimSpace(text)
	switch {
	case q == "":
		s.state.Status = SearchIdle
		s.state.Results = nil
	case !s.source.Enabled():
		s.state.Status = SearchIdle
		s.state.Message = finnhub.ErrMissingAPIKey.Error()
	default:
		s.state.Status = SearchDebouncing
		s.timer = time.AfterFunc(s.delay, func() { s.fire(gen, q) })
	}
	state := s.publishLocked()
	s.mu.Unlock()

	s.deliver(state)
}

// Clear empties the query and the results
func (s *Searcher) Clear() {
	s.Set("")
}

// State returns the latest state
func (s *Searcher) State() SearchState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.copyStateLocked()
}

// Close stops the pending timer. Responses still in flight are dropped.
func (s *Searcher) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.stopTimerLocked()
}

func (s *Searcher) fire(gen uint64, q string) {
	s.mu.Lock()
	if s.closed || gen != s.gen {
		s.mu.Unlock()
		return
	}
	s.timer = nil
	s.state.Status = SearchFetching
	state := s.publishLocked()
	s.mu.Unlock()
	s.deliver(state)

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	results, err := s.source.Search(ctx, q, s.limit)
	cancel()

	s.mu.Lock()
	if s.closed || gen != s.gen {
		s.mu.Unlock()
		return
	}
	s.state.Status = SearchIdle
	if err != nil {
		s.state.Message = searchMessage(err)
	} else {
		s.state.Results = results
	}
	state = s.publishLocked()
	s.mu.Unlock()
	s.deliver(state)
}

func (s *Searcher) stopTimerLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (s *Searcher) publishLocked() SearchState {
	s.seq++
	s.state.Seq = s.seq
	return s.copyStateLocked()
}

func (s *Searcher) copyStateLocked() SearchState {
	state := s.state
	if s.state.Results != nil {
		state.Results = append([]models.SearchResult(nil), s.state.Results...)
	}
	return state
}

func searchMessage(err error) string {
	var httpErr *finnhub.HTTPError
	if errors.As(err, &httpErr) || err.Error() == "" {
		return searchFailed
	}
	return err.Error()
}
