package finnhub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/vikasavnish/stockwatch/internal/models"
)

const (
	DefaultBaseURL = "https://finnhub.io/api/v1"
	// Keys this short are treated as absent.
	minKeyLength = 10
	maxBodySize  = 1 << 20
)

var (
	// ErrMissingAPIKey is returned without any network call when no usable
	// key is configured.
	ErrMissingAPIKey = errors.New("Missing FINNHUB API key.")
	// ErrNoPrice means the quote payload had no numeric current price.
	ErrNoPrice = errors.New("quote has no current price")
)

// HTTPError is a non-200 response from the provider
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("finnhub: status=%d body=%s", e.StatusCode, e.Body)
}

// Client talks to the Finnhub REST API
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
	quotes     singleflight.Group
}

// NewClient creates a new Client. An empty baseURL selects the public API.
func NewClient(apiKey, baseURL string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		apiKey:     apiKey,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		timeout:    timeout,
	}
}

// Enabled reports whether a plausible API key is configured
func (c *Client) Enabled() bool {
	return len(c.apiKey) > minKeyLength
}

type searchResponse struct {
	Result []models.SearchResult `json:"result"`
}

type quoteResponse struct {
	Current       *float64 `json:"c"`
	PercentChange *float64 `json:"dp"`
}

// Search looks up symbols matching text. Hits without a symbol or a
// description are dropped and at most limit results are returned.
func (c *Client) Search(ctx context.Context, text string, limit int) ([]models.SearchResult, error) {
	if !c.Enabled() {
		return nil, ErrMissingAPIKey
	}

	var resp searchResponse
	if err := c.get(ctx, "/search", url.Values{"q": {text}}, &resp); err != nil {
		return nil, err
	}

	results := make([]models.SearchResult, 0, len(resp.Result))
	for _, r := range resp.Result {
		if r.Symbol == "" || r.Description == "" {
			continue
		}
		results = append(results, r)
		if limit > 0 && len(results) == limit {
			break
		}
	}
	return results, nil
}

// Quote fetches the latest quote for ticker. Concurrent calls for the same
// ticker share one request, which outlives any single caller's ctx; each
// caller stops waiting when its own ctx is done.
func (c *Client) Quote(ctx context.Context, ticker string) (models.Quote, error) {
	if !c.Enabled() {
		return models.Quote{}, ErrMissingAPIKey
	}

	ch := c.quotes.DoChan(ticker, func() (interface{}, error) {
		reqCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
		defer cancel()

		var resp quoteResponse
		if err := c.get(reqCtx, "/quote", url.Values{"symbol": {ticker}}, &resp); err != nil {
			return models.Quote{}, err
		}
		if resp.Current == nil {
			return models.Quote{}, ErrNoPrice
		}
		quote := models.Quote{CurrentPrice: *resp.Current}
		if resp.PercentChange != nil {
			quote.PercentChange = *resp.PercentChange
		}
		return quote, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return models.Quote{}, res.Err
		}
		return res.Val.(models.Quote), nil
	case <-ctx.Done():
		return models.Quote{}, ctx.Err()
	}
}

func (c *Client) get(ctx context.Context, path string, params url.Values, out interface{}) error {
	params.Set("token", c.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+params.Encode(), nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return &HTTPError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	return nil
}
