// Package alphavantage provides a client for the Alpha Vantage API,
// used as a fallback source for fundamentals and news sentiment.
package alphavantage

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/marketdata/internal/domain"
	"github.com/aristath/marketdata/internal/fetch"
)

const defaultBaseURL = "https://www.alphavantage.co"

// Client is the Alpha Vantage API client.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	log        zerolog.Logger
}

// NewClient creates a new Alpha Vantage client.
func NewClient(apiKey string, log zerolog.Logger) *Client {
	return &Client{
		baseURL: defaultBaseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		log: log.With().Str("client", "alphavantage").Logger(),
	}
}

// Name implements fetch.Provider.
func (c *Client) Name() string {
	return fetch.AdapterAlphaVantage
}

// Enabled implements fetch.Provider.
func (c *Client) Enabled() bool {
	return c.apiKey != ""
}

// Fetch implements fetch.Provider.
func (c *Client) Fetch(ctx context.Context, req fetch.Request) (fetch.Result, error) {
	switch req.DataType {
	case domain.DataTypeFundamentals:
		return c.fetchOverview(ctx, req.Key)
	case domain.DataTypeNews:
		return c.fetchNewsSentiment(ctx, req.Key)
	default:
		return fetch.Result{}, fmt.Errorf("%w: %s", fetch.ErrUnsupportedDataType, req.DataType)
	}
}

// Overview is the normalized fundamentals payload.
type Overview struct {
	Symbol            string  `json:"symbol"`
	Name              string  `json:"name"`
	Sector            string  `json:"sector"`
	Industry          string  `json:"industry"`
	MarketCap         float64 `json:"market_cap"`
	TrailingPE        float64 `json:"trailing_pe"`
	ForwardPE         float64 `json:"forward_pe"`
	PriceToBook       float64 `json:"price_to_book"`
	DividendYield     float64 `json:"dividend_yield"`
	ReturnOnEquity    float64 `json:"return_on_equity"`
	ProfitMargins     float64 `json:"profit_margins"`
	EPS               float64 `json:"eps"`
	Beta              float64 `json:"beta"`
	SharesOutstanding float64 `json:"shares_outstanding"`
}

func (c *Client) fetchOverview(ctx context.Context, symbol string) (fetch.Result, error) {
	var raw map[string]string
	if err := c.get(ctx, url.Values{"function": {"OVERVIEW"}, "symbol": {symbol}}, &raw); err != nil {
		return fetch.Result{}, err
	}

	// An empty object means the symbol is unknown; an Information or
	// Note field means the free-tier quota is exhausted.
	if note, ok := raw["Note"]; ok {
		return fetch.Result{}, fmt.Errorf("quota exceeded: %s", note)
	}
	if info, ok := raw["Information"]; ok {
		return fetch.Result{}, fmt.Errorf("quota exceeded: %s", info)
	}
	if raw["Symbol"] == "" {
		return fetch.Result{Empty: true}, nil
	}

	return marshalResult(Overview{
		Symbol:            raw["Symbol"],
		Name:              raw["Name"],
		Sector:            raw["Sector"],
		Industry:          raw["Industry"],
		MarketCap:         parseFloat(raw["MarketCapitalization"]),
		TrailingPE:        parseFloat(raw["TrailingPE"]),
		ForwardPE:         parseFloat(raw["ForwardPE"]),
		PriceToBook:       parseFloat(raw["PriceToBookRatio"]),
		DividendYield:     parseFloat(raw["DividendYield"]),
		ReturnOnEquity:    parseFloat(raw["ReturnOnEquityTTM"]),
		ProfitMargins:     parseFloat(raw["ProfitMargin"]),
		EPS:               parseFloat(raw["EPS"]),
		Beta:              parseFloat(raw["Beta"]),
		SharesOutstanding: parseFloat(raw["SharesOutstanding"]),
	})
}

// SentimentArticle is one normalized news item with sentiment scores.
type SentimentArticle struct {
	Title          string  `json:"title"`
	URL            string  `json:"url"`
	Source         string  `json:"source"`
	TimePublished  string  `json:"time_published"`
	Summary        string  `json:"summary"`
	SentimentScore float64 `json:"sentiment_score"`
	SentimentLabel string  `json:"sentiment_label"`
}

func (c *Client) fetchNewsSentiment(ctx context.Context, symbol string) (fetch.Result, error) {
	params := url.Values{
		"function": {"NEWS_SENTIMENT"},
		"tickers":  {symbol},
		"limit":    {"50"},
	}

	var raw struct {
		Note        string `json:"Note"`
		Information string `json:"Information"`
		Feed        []struct {
			Title                 string  `json:"title"`
			URL                   string  `json:"url"`
			Source                string  `json:"source"`
			TimePublished         string  `json:"time_published"`
			Summary               string  `json:"summary"`
			OverallSentimentScore float64 `json:"overall_sentiment_score"`
			OverallSentimentLabel string  `json:"overall_sentiment_label"`
		} `json:"feed"`
	}
	if err := c.get(ctx, params, &raw); err != nil {
		return fetch.Result{}, err
	}

	if raw.Note != "" || raw.Information != "" {
		return fetch.Result{}, fmt.Errorf("quota exceeded")
	}
	if len(raw.Feed) == 0 {
		return fetch.Result{Empty: true}, nil
	}

	articles := make([]SentimentArticle, 0, len(raw.Feed))
	for _, f := range raw.Feed {
		articles = append(articles, SentimentArticle{
			Title:          f.Title,
			URL:            f.URL,
			Source:         f.Source,
			TimePublished:  f.TimePublished,
			Summary:        f.Summary,
			SentimentScore: f.OverallSentimentScore,
			SentimentLabel: f.OverallSentimentLabel,
		})
	}
	return marshalResult(map[string]interface{}{"symbol": symbol, "articles": articles})
}

func (c *Client) get(ctx context.Context, params url.Values, out interface{}) error {
	params.Set("apikey", c.apiKey)
	requestURL := fmt.Sprintf("%s/query?%s", c.baseURL, params.Encode())

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
			Str("body", string(body)).
			Msg("API returned non-200 status")
		return fmt.Errorf("API returned status %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}

	return nil
}

// parseFloat tolerates the API's "None" and "-" placeholders.
func parseFloat(s string) float64 {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}

func marshalResult(v interface{}) (fetch.Result, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return fetch.Result{}, fmt.Errorf("failed to marshal payload: %w", err)
	}
	return fetch.Result{Data: data}, nil
}
