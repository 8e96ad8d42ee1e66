package finnhub

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
)

const testKey = "test-key-0123456789"

func TestEnabled(t *testing.T) {
	assert.False(t, NewClient("", "", 0).Enabled())
	assert.False(t, NewClient("0123456789", "", 0).Enabled())
	assert.True(t, NewClient("0123456789a", "", 0).Enabled())
}

func TestMissingKeyMakesNoCalls(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	}))
	defer srv.Close()

	c := NewClient("short", srv.URL, time.Second)
	_, err := c.Search(context.Background(), "AAPL", 12)
	assert.ErrorIs(t, err, ErrMissingAPIKey)
	assert.Equal(t, "Missing FINNHUB API key.", err.Error())
	_, err = c.Quote(context.Background(), "AAPL")
	assert.ErrorIs(t, err, ErrMissingAPIKey)
	assert.Zero(t, atomic.LoadInt32(&calls))
}

func TestSearchFiltersAndLimits(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search", r.URL.Path)
		assert.Equal(t, "apple inc", r.URL.Query().Get("q"))
		assert.Equal(t, testKey, r.URL.Query().Get("token"))
		w.Write([]byte(`{"count":5,"result":[
			{"symbol":"AAPL","description":"APPLE INC","type":"Common Stock"},
			{"symbol":"","description":"NO SYMBOL"},
			{"symbol":"APC.DE","description":""},
			{"symbol":"AAPL.MX","description":"APPLE INC MX"},
			{"symbol":"AAPL.SW","description":"APPLE INC SW"}
		]}`))
	}))
	defer srv.Close()

	c := NewClient(testKey, srv.URL, time.Second)
	results, err := c.Search(context.Background(), "apple inc", 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "AAPL", results[0].Symbol)
	assert.Equal(t, "APPLE INC", results[0].Description)
	assert.Equal(t, "AAPL.MX", results[1].Symbol)
}

func TestSearchHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "limit reached", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewClient(testKey, srv.URL, time.Second)
	_, err := c.Search(context.Background(), "AAPL", 12)
	var httpErr *HTTPError
	require.True(t, errors.As(err, &httpErr))
	assert.Equal(t, http.StatusTooManyRequests, httpErr.StatusCode)
}

func TestQuote(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("symbol") {
		case "AAPL":
			w.Write([]byte(`{"c":189.5,"d":1.2,"dp":0.64,"h":190,"l":187,"o":188,"pc":188.3}`))
		case "NODP":
			w.Write([]byte(`{"c":10,"dp":null}`))
		case "NOPRICE":
			w.Write([]byte(`{"error":"unknown symbol"}`))
		default:
			w.Write([]byte(`not json`))
		}
	}))
	defer srv.Close()

	c := NewClient(testKey, srv.URL, time.Second)
	ctx := context.Background()

	q, err := c.Quote(ctx, "AAPL")
	require.NoError(t, err)
	assert.Equal(t, 189.5, q.CurrentPrice)
	assert.Equal(t, 0.64, q.PercentChange)

	q, err = c.Quote(ctx, "NODP")
	require.NoError(t, err)
	assert.Equal(t, 10.0, q.CurrentPrice)
	assert.Zero(t, q.PercentChange)

	_, err = c.Quote(ctx, "NOPRICE")
	assert.ErrorIs(t, err, ErrNoPrice)

	_, err = c.Quote(ctx, "BROKEN")
	assert.Error(t, err)
}

func TestQuoteCollapsesConcurrentLookups(t *testing.T) {
	var calls int32
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		<-release
		w.Write([]byte(`{"c":1,"dp":2}`))
	}))
	defer srv.Close()

	c := NewClient(testKey, srv.URL, 5*time.Second)
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			q, err := c.Quote(context.Background(), "AAPL")
			assert.NoError(t, err)
			assert.Equal(t, 1.0, q.CurrentPrice)
		}()
	}
	// Let the goroutines pile up behind the first request.
	time.Sleep(100 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestQuoteSharedLookupSurvivesCallerCancel(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		time.Sleep(100 * time.Millisecond)
		w.Write([]byte(`{"c":190.12,"dp":1.5}`))
	}))
	defer srv.Close()

	c := NewClient(testKey, srv.URL, 5*time.Second)
	first, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := c.Quote(first, "AAPL")
		firstErr <- err
	}()

	// Join the lookup the first caller started, then cancel the first caller.
	time.Sleep(20 * time.Millisecond)
	second := make(chan error, 1)
	var quote float64
	go func() {
		q, err := c.Quote(context.Background(), "AAPL")
		quote = q.CurrentPrice
		second <- err
	}()
	time.Sleep(10 * time.Millisecond)
	cancel()

	assert.ErrorIs(t, <-firstErr, context.Canceled)
	require.NoError(t, <-second)
	assert.Equal(t, 190.12, quote)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestResponseBodyIsBounded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write(make([]byte, 2*maxBodySize))
	}))
	defer srv.Close()

	c := NewClient(testKey, srv.URL, time.Second)
	_, err := c.Search(context.Background(), "AAPL", 12)
	var httpErr *HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Len(t, httpErr.Body, maxBodySize)
}
