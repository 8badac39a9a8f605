// Package finnhub provides a client for the Finnhub market data API.
// Finnhub serves real-time quotes, company news, insider transactions,
// institutional ownership and the economic calendar.
package finnhub

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/marketdata/internal/domain"
	"github.com/aristath/marketdata/internal/fetch"
)

const defaultBaseURL = "https://finnhub.io/api/v1"

// Client is the Finnhub API client.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	log        zerolog.Logger
}

// NewClient creates a new Finnhub client. Without an API key the adapter
// reports itself as disabled and is skipped by the fallback chain.
func NewClient(apiKey string, log zerolog.Logger) *Client {
	return &Client{
		baseURL: defaultBaseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		log: log.With().Str("client", "finnhub").Logger(),
	}
}

// Name implements fetch.Provider.
func (c *Client) Name() string {
	return fetch.AdapterFinnhub
}

// Enabled implements fetch.Provider.
func (c *Client) Enabled() bool {
	return c.apiKey != ""
}

// Fetch implements fetch.Provider, dispatching on the requested data type.
func (c *Client) Fetch(ctx context.Context, req fetch.Request) (fetch.Result, error) {
	switch req.DataType {
	case domain.DataTypePrice:
		return c.fetchQuote(ctx, req.Key)
	case domain.DataTypeNews:
		return c.fetchCompanyNews(ctx, req)
	case domain.DataTypeInsider:
		return c.fetchInsiderTransactions(ctx, req.Key)
	case domain.DataTypeOwnership:
		return c.fetchOwnership(ctx, req.Key)
	case domain.DataTypeEconomicCalendar:
		return c.fetchEconomicCalendar(ctx)
	default:
		return fetch.Result{}, fmt.Errorf("%w: %s", fetch.ErrUnsupportedDataType, req.DataType)
	}
}

// Quote is the normalized price payload.
type Quote struct {
	Symbol        string  `json:"symbol"`
	Price         float64 `json:"price"`
	Change        float64 `json:"change"`
	PercentChange float64 `json:"percent_change"`
	High          float64 `json:"high"`
	Low           float64 `json:"low"`
	Open          float64 `json:"open"`
	PrevClose     float64 `json:"prev_close"`
	Timestamp     int64   `json:"timestamp"`
}

func (c *Client) fetchQuote(ctx context.Context, symbol string) (fetch.Result, error) {
	var raw struct {
		C  float64 `json:"c"`  // Current price
		D  float64 `json:"d"`  // Change
		DP float64 `json:"dp"` // Percent change
		H  float64 `json:"h"`
		L  float64 `json:"l"`
		O  float64 `json:"o"`
		PC float64 `json:"pc"`
		T  int64   `json:"t"`
	}
	if err := c.get(ctx, "/quote", url.Values{"symbol": {symbol}}, &raw); err != nil {
		return fetch.Result{}, err
	}

	// Finnhub returns an all-zero quote for unknown symbols
	if raw.C == 0 && raw.T == 0 {
		return fetch.Result{Empty: true}, nil
	}

	return marshalResult(Quote{
		Symbol:        symbol,
		Price:         raw.C,
		Change:        raw.D,
		PercentChange: raw.DP,
		High:          raw.H,
		Low:           raw.L,
		Open:          raw.O,
		PrevClose:     raw.PC,
		Timestamp:     raw.T,
	})
}

// NewsItem is one normalized news article.
type NewsItem struct {
	Headline string `json:"headline"`
	Summary  string `json:"summary"`
	Source   string `json:"source"`
	URL      string `json:"url"`
	Datetime int64  `json:"datetime"`
}

func (c *Client) fetchCompanyNews(ctx context.Context, req fetch.Request) (fetch.Result, error) {
	now := time.Now()
	params := url.Values{
		"symbol": {req.Key},
		"from":   {req.Param("from", now.AddDate(0, 0, -7).Format("2006-01-02"))},
		"to":     {req.Param("to", now.Format("2006-01-02"))},
	}

	var raw []struct {
		Headline string `json:"headline"`
		Summary  string `json:"summary"`
		Source   string `json:"source"`
		URL      string `json:"url"`
		Datetime int64  `json:"datetime"`
	}
	if err := c.get(ctx, "/company-news", params, &raw); err != nil {
		return fetch.Result{}, err
	}

	if len(raw) == 0 {
		return fetch.Result{Empty: true}, nil
	}

	items := make([]NewsItem, 0, len(raw))
	for _, n := range raw {
		items = append(items, NewsItem(n))
	}
	return marshalResult(map[string]interface{}{"symbol": req.Key, "articles": items})
}

func (c *Client) fetchInsiderTransactions(ctx context.Context, symbol string) (fetch.Result, error) {
	var raw struct {
		Data []struct {
			Name             string  `json:"name"`
			Share            int64   `json:"share"`
			Change           int64   `json:"change"`
			TransactionDate  string  `json:"transactionDate"`
			TransactionCode  string  `json:"transactionCode"`
			TransactionPrice float64 `json:"transactionPrice"`
		} `json:"data"`
	}
	if err := c.get(ctx, "/stock/insider-transactions", url.Values{"symbol": {symbol}}, &raw); err != nil {
		return fetch.Result{}, err
	}

	if len(raw.Data) == 0 {
		return fetch.Result{Empty: true}, nil
	}
	return marshalResult(map[string]interface{}{"symbol": symbol, "transactions": raw.Data})
}

func (c *Client) fetchOwnership(ctx context.Context, symbol string) (fetch.Result, error) {
	var raw struct {
		Ownership []struct {
			Name   string `json:"name"`
			Share  int64  `json:"share"`
			Change int64  `json:"change"`
		} `json:"ownership"`
	}
	if err := c.get(ctx, "/stock/ownership", url.Values{"symbol": {symbol}}, &raw); err != nil {
		return fetch.Result{}, err
	}

	if len(raw.Ownership) == 0 {
		return fetch.Result{Empty: true}, nil
	}
	return marshalResult(map[string]interface{}{"symbol": symbol, "holders": raw.Ownership})
}

func (c *Client) fetchEconomicCalendar(ctx context.Context) (fetch.Result, error) {
	var raw struct {
		EconomicCalendar []struct {
			Event    string  `json:"event"`
			Country  string  `json:"country"`
			Time     string  `json:"time"`
			Impact   string  `json:"impact"`
			Actual   float64 `json:"actual"`
			Estimate float64 `json:"estimate"`
			Prev     float64 `json:"prev"`
		} `json:"economicCalendar"`
	}
	if err := c.get(ctx, "/calendar/economic", nil, &raw); err != nil {
		return fetch.Result{}, err
	}

	if len(raw.EconomicCalendar) == 0 {
		return fetch.Result{Empty: true}, nil
	}
	return marshalResult(map[string]interface{}{"events": raw.EconomicCalendar})
}

// get performs an authenticated GET and decodes the JSON response.
func (c *Client) get(ctx context.Context, path string, params url.Values, out interface{}) error {
	if params == nil {
		params = url.Values{}
	}
	params.Set("token", c.apiKey)

	requestURL := fmt.Sprintf("%s%s?%s", c.baseURL, path, params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		c.log.Warn().
			Int("status", resp.StatusCode).
			Str("path", path).
			Str("body", string(body)).
			Msg("API returned non-200 status")
		return fmt.Errorf("API returned status %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}

	return nil
}

func marshalResult(v interface{}) (fetch.Result, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return fetch.Result{}, fmt.Errorf("failed to marshal payload: %w", err)
	}
	return fetch.Result{Data: data}, nil
}
