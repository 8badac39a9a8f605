// Package fred provides a client for the Federal Reserve Economic Data
// (FRED) API, the sole source for macro series and a fallback for the
// economic release calendar.
package fred

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

const defaultBaseURL = "https://api.stlouisfed.org/fred"

// Client is the FRED API client.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	log        zerolog.Logger
}

// NewClient creates a new FRED client.
func NewClient(apiKey string, log zerolog.Logger) *Client {
	return &Client{
		baseURL: defaultBaseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		log: log.With().Str("client", "fred").Logger(),
	}
}

// Name implements fetch.Provider.
func (c *Client) Name() string {
	return fetch.AdapterFRED
}

// Enabled implements fetch.Provider.
func (c *Client) Enabled() bool {
	return c.apiKey != ""
}

// Fetch implements fetch.Provider.
func (c *Client) Fetch(ctx context.Context, req fetch.Request) (fetch.Result, error) {
	switch req.DataType {
	case domain.DataTypeMacro:
		return c.fetchSeries(ctx, req)
	case domain.DataTypeEconomicCalendar:
		return c.fetchReleaseDates(ctx, req)
	default:
		return fetch.Result{}, fmt.Errorf("%w: %s", fetch.ErrUnsupportedDataType, req.DataType)
	}
}

// Observation is one normalized data point of a macro series.
type Observation struct {
	Date  string  `json:"date"`
	Value float64 `json:"value"`
}

// Series is the normalized macro payload. The key is a FRED series ID
// such as GDP, CPIAUCSL or UNRATE.
type Series struct {
	SeriesID     string        `json:"series_id"`
	Observations []Observation `json:"observations"`
	Latest       float64       `json:"latest"`
	LatestDate   string        `json:"latest_date"`
}

func (c *Client) fetchSeries(ctx context.Context, req fetch.Request) (fetch.Result, error) {
	params := url.Values{
		"series_id":  {req.Key},
		"sort_order": {"desc"},
		"limit":      {req.Param("limit", "120")},
	}

	var raw struct {
		ErrorMessage string `json:"error_message"`
		Observations []struct {
			Date  string `json:"date"`
			Value string `json:"value"`
		} `json:"observations"`
	}
	if err := c.get(ctx, "/series/observations", params, &raw); err != nil {
		return fetch.Result{}, err
	}

	if raw.ErrorMessage != "" {
		// FRED reports unknown series IDs as a 400 with an error
		// message, which c.get surfaces as an error; an empty
		// observation list here is the authoritative no-data case.
		return fetch.Result{}, fmt.Errorf("series API error: %s", raw.ErrorMessage)
	}
	if len(raw.Observations) == 0 {
		return fetch.Result{Empty: true}, nil
	}

	series := Series{SeriesID: req.Key}
	for _, o := range raw.Observations {
		// Missing periods are reported as "."
		value, err := strconv.ParseFloat(o.Value, 64)
		if err != nil {
			continue
		}
		series.Observations = append(series.Observations, Observation{Date: o.Date, Value: value})
	}
	if len(series.Observations) == 0 {
		return fetch.Result{Empty: true}, nil
	}
	series.Latest = series.Observations[0].Value
	series.LatestDate = series.Observations[0].Date

	return marshalResult(series)
}

// ReleaseDate is one normalized entry of the release calendar.
type ReleaseDate struct {
	ReleaseID   int    `json:"release_id"`
	ReleaseName string `json:"release_name"`
	Date        string `json:"date"`
}

func (c *Client) fetchReleaseDates(ctx context.Context, req fetch.Request) (fetch.Result, error) {
	params := url.Values{
		"include_release_dates_with_no_data": {"false"},
		"realtime_start":                     {req.Param("from", time.Now().Format("2006-01-02"))},
		"limit":                              {"200"},
	}

	var raw struct {
		ReleaseDates []struct {
			ReleaseID   int    `json:"release_id"`
			ReleaseName string `json:"release_name"`
			Date        string `json:"date"`
		} `json:"release_dates"`
	}
	if err := c.get(ctx, "/releases/dates", params, &raw); err != nil {
		return fetch.Result{}, err
	}

	if len(raw.ReleaseDates) == 0 {
		return fetch.Result{Empty: true}, nil
	}

	dates := make([]ReleaseDate, 0, len(raw.ReleaseDates))
	for _, d := range raw.ReleaseDates {
		dates = append(dates, ReleaseDate(d))
	}
	return marshalResult(map[string]interface{}{"release_dates": dates})
}

func (c *Client) get(ctx context.Context, path string, params url.Values, out interface{}) error {
	params.Set("api_key", c.apiKey)
	params.Set("file_type", "json")
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
