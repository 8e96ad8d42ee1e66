package market

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vikasavnish/stockwatch/internal/finnhub"
	"github.com/vikasavnish/stockwatch/internal/models"
)

const testKey = "test-key-0123456789"

// newProvider serves /quote for AAPL and MSFT and fails everything else.
func newProvider(t *testing.T, calls *int32) *finnhub.Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(calls, 1)
		switch r.URL.Path {
		case "/quote":
			switch r.URL.Query().Get("symbol") {
			case "AAPL":
				w.Write([]byte(`{"c":190.12,"dp":1.5}`))
			case "MSFT":
				w.Write([]byte(`{"c":410}`))
			default:
				http.Error(w, "unknown symbol", http.StatusNotFound)
			}
		case "/search":
			w.Write([]byte(`{"result":[{"symbol":"AAPL","description":"APPLE INC"}]}`))
		}
	}))
	t.Cleanup(srv.Close)
	return finnhub.NewClient(testKey, srv.URL, time.Second)
}

func TestRefreshQuotesKeepsOnlySuccesses(t *testing.T) {
	var calls int32
	fanout := NewFanout(newProvider(t, &calls))

	quotes, err := fanout.RefreshQuotes(context.Background(), []string{"AAPL", "ZZZZINVALID"})
	require.NoError(t, err)
	require.Len(t, quotes, 1)
	assert.Equal(t, 190.12, quotes["AAPL"].CurrentPrice)
	assert.Equal(t, 1.5, quotes["AAPL"].PercentChange)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestRefreshQuotesKeysAreSubsetOfRequest(t *testing.T) {
	var calls int32
	fanout := NewFanout(newProvider(t, &calls))

	sets := [][]string{
		{},
		{"MSFT"},
		{"AAPL", "MSFT", "NOPE"},
		{"AAPL", "AAPL", "MSFT"},
		{"X", "Y", "Z"},
	}
	for _, tickers := range sets {
		quotes, err := fanout.RefreshQuotes(context.Background(), tickers)
		require.NoError(t, err)
		for k := range quotes {
			assert.Contains(t, tickers, k)
		}
	}
}

func TestRefreshQuotesDefaultsMissingChange(t *testing.T) {
	var calls int32
	fanout := NewFanout(newProvider(t, &calls))

	quotes, err := fanout.RefreshQuotes(context.Background(), []string{"MSFT"})
	require.NoError(t, err)
	assert.Equal(t, QuoteSnapshot{CurrentPrice: 410}, quotes["MSFT"])
}

func TestRefreshQuotesSkippedWithoutKey(t *testing.T) {
	fanout := NewFanout(finnhub.NewClient("", "http://127.0.0.1:1", time.Second))

	quotes, err := fanout.RefreshQuotes(context.Background(), []string{"AAPL"})
	assert.ErrorIs(t, err, finnhub.ErrMissingAPIKey)
	assert.Nil(t, quotes)
}

func TestQuoteBoardReplacesWholesale(t *testing.T) {
	board := NewQuoteBoard()
	board.Replace(map[string]QuoteSnapshot{"AAPL": {CurrentPrice: 1}, "MSFT": {CurrentPrice: 2}})
	board.Replace(map[string]QuoteSnapshot{"TSLA": {CurrentPrice: 3}})

	_, ok := board.Get("AAPL")
	assert.False(t, ok)
	q, ok := board.Get("TSLA")
	require.True(t, ok)
	assert.Equal(t, 3.0, q.CurrentPrice)
	assert.Len(t, board.Snapshot(), 1)
}

// fakeSearch records every query that reaches it.
type fakeSearch struct {
	enabled bool
	err     error
	block   chan struct{}

	mu      sync.Mutex
	queries []string
}

func (f *fakeSearch) Enabled() bool { return f.enabled }

func (f *fakeSearch) Search(ctx context.Context, text string, limit int) ([]models.SearchResult, error) {
	f.mu.Lock()
	f.queries = append(f.queries, text)
	block := f.block
	f.mu.Unlock()
	if block != nil {
		<-block
	}
	if f.err != nil {
		return nil, f.err
	}
	return []models.SearchResult{{Symbol: text, Description: "match for " + text}}, nil
}

func (f *fakeSearch) calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.queries...)
}

type stateRecorder struct {
	mu     sync.Mutex
	states []SearchState
	ch     chan SearchState
}

func newRecorder() *stateRecorder {
	return &stateRecorder{ch: make(chan SearchState, 64)}
}

func (r *stateRecorder) deliver(s SearchState) {
	r.mu.Lock()
	r.states = append(r.states, s)
	r.mu.Unlock()
	r.ch <- s
}

// waitFor returns the first delivered state matching fn.
func (r *stateRecorder) waitFor(t *testing.T, fn func(SearchState) bool) SearchState {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case s := <-r.ch:
			if fn(s) {
				return s
			}
		case <-deadline:
			t.Fatal("timed out waiting for search state")
			return SearchState{}
		}
	}
}

func TestSearchDebouncesKeystrokes(t *testing.T) {
	source := &fakeSearch{enabled: true}
	rec := newRecorder()
	s := NewSearcher(source, 100*time.Millisecond, 12, rec.deliver)
	defer s.Close()

	start := time.Now()
	for _, q := range []string{"A", "AA", "AAP", "AAPL"} {
		s.Set(q)
		time.Sleep(10 * time.Millisecond)
	}
	lastKey := time.Now()

	done := rec.waitFor(t, func(st SearchState) bool { return len(st.Results) > 0 })
	assert.GreaterOrEqual(t, time.Since(lastKey), 80*time.Millisecond)
	assert.Equal(t, "AAPL", done.Results[0].Symbol)
	assert.Equal(t, SearchIdle, done.Status)
	assert.Equal(t, []string{"AAPL"}, source.calls())
	assert.Greater(t, time.Since(start), 100*time.Millisecond)
}

func TestSearchEmptyQueryClearsResults(t *testing.T) {
	source := &fakeSearch{enabled: true}
	rec := newRecorder()
	s := NewSearcher(source, 10*time.Millisecond, 12, rec.deliver)
	defer s.Close()

	s.Set("MSFT")
	rec.waitFor(t, func(st SearchState) bool { return len(st.Results) > 0 })

	s.Set("   ")
	st := s.State()
	assert.Empty(t, st.Results)
	assert.Equal(t, SearchIdle, st.Status)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, []string{"MSFT"}, source.calls())
}

func TestSearchMissingKey(t *testing.T) {
	source := &fakeSearch{enabled: false}
	rec := newRecorder()
	s := NewSearcher(source, 10*time.Millisecond, 12, rec.deliver)
	defer s.Close()

	s.Set("AAPL")
	st := s.State()
	assert.Equal(t, "Missing FINNHUB API key.", st.Message)
	assert.Empty(t, st.Results)
	time.Sleep(30 * time.Millisecond)
	assert.Empty(t, source.calls())
}

func TestSearchFailureMessage(t *testing.T) {
	source := &fakeSearch{enabled: true, err: errors.New("connection refused")}
	rec := newRecorder()
	s := NewSearcher(source, 10*time.Millisecond, 12, rec.deliver)
	defer s.Close()

	s.Set("AAPL")
	st := rec.waitFor(t, func(st SearchState) bool { return st.Message != "" })
	assert.Equal(t, "connection refused", st.Message)
	assert.False(t, st.Loading())

	source.err = &finnhub.HTTPError{StatusCode: 500}
	s.Set("MSFT")
	st = rec.waitFor(t, func(st SearchState) bool { return st.Message != "" })
	assert.Equal(t, "Search failed", st.Message)
}

func TestSearchDropsSupersededResponse(t *testing.T) {
	block := make(chan struct{})
	source := &fakeSearch{enabled: true, block: block}
	rec := newRecorder()
	s := NewSearcher(source, 10*time.Millisecond, 12, rec.deliver)
	defer s.Close()

	s.Set("OLD")
	rec.waitFor(t, func(st SearchState) bool { return st.Loading() })

	source.mu.Lock()
	source.block = nil
	source.mu.Unlock()
	s.Set("NEW")
	done := rec.waitFor(t, func(st SearchState) bool { return len(st.Results) > 0 })
	assert.Equal(t, "NEW", done.Results[0].Symbol)

	// Let the stale request finish; it must not overwrite the newer results.
	close(block)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, "NEW", s.State().Results[0].Symbol)
}

func TestSearchClosedDropsResponse(t *testing.T) {
	block := make(chan struct{})
	source := &fakeSearch{enabled: true, block: block}
	rec := newRecorder()
	s := NewSearcher(source, 10*time.Millisecond, 12, rec.deliver)

	s.Set("AAPL")
	rec.waitFor(t, func(st SearchState) bool { return st.Loading() })
	s.Close()
	close(block)
	time.Sleep(30 * time.Millisecond)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.True(t, rec.states[len(rec.states)-1].Loading())
}

func TestSearchSeqIncreases(t *testing.T) {
	source := &fakeSearch{enabled: true}
	rec := newRecorder()
	s := NewSearcher(source, 10*time.Millisecond, 12, rec.deliver)
	defer s.Close()

	s.Set("A")
	s.Set("")
	s.Set("B")
	rec.waitFor(t, func(st SearchState) bool { return len(st.Results) > 0 })

	rec.mu.Lock()
	defer rec.mu.Unlock()
	seen := map[uint64]bool{}
	for _, st := range rec.states {
		assert.False(t, seen[st.Seq])
		seen[st.Seq] = true
	}
}
