// Package cftc provides a client for the CFTC public data API,
// serving Commitments of Traders (COT) positioning reports.
package cftc

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

// Legacy futures-only COT dataset on the CFTC Socrata instance.
const (
	defaultBaseURL = "https://publicreporting.cftc.gov"
	cotDataset     = "6dca-aqww"
)

// Client is the CFTC public data client. The API needs no credentials.
type Client struct {
	baseURL    string
	httpClient *http.Client
	log        zerolog.Logger
}

// NewClient creates a new CFTC client.
func NewClient(log zerolog.Logger) *Client {
	return &Client{
		baseURL: defaultBaseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		log: log.With().Str("client", "cftc").Logger(),
	}
}

// Name implements fetch.Provider.
func (c *Client) Name() string {
	return fetch.AdapterCFTC
}

// Enabled implements fetch.Provider.
func (c *Client) Enabled() bool {
	return true
}

// Fetch implements fetch.Provider. The request key is a market name
// pattern such as "GOLD" or "E-MINI S&P 500".
func (c *Client) Fetch(ctx context.Context, req fetch.Request) (fetch.Result, error) {
	if req.DataType != domain.DataTypeCOT {
		return fetch.Result{}, fmt.Errorf("%w: %s", fetch.ErrUnsupportedDataType, req.DataType)
	}
	return c.fetchCOT(ctx, req)
}

// Report is one normalized weekly COT report row.
type Report struct {
	MarketName   string `json:"market_name"`
	ReportDate   string `json:"report_date"`
	OpenInterest int64  `json:"open_interest"`
	NoncommLong  int64  `json:"noncomm_long"`
	NoncommShort int64  `json:"noncomm_short"`
	CommLong     int64  `json:"comm_long"`
	CommShort    int64  `json:"comm_short"`
	NonreptLong  int64  `json:"nonrept_long"`
	NonreptShort int64  `json:"nonrept_short"`
	NoncommNet   int64  `json:"noncomm_net"`
	CommNet      int64  `json:"comm_net"`
}

func (c *Client) fetchCOT(ctx context.Context, req fetch.Request) (fetch.Result, error) {
	params := url.Values{
		"$where": {fmt.Sprintf("upper(market_and_exchange_names) like upper('%%%s%%')", sanitize(req.Key))},
		"$order": {"report_date_as_yyyy_mm_dd DESC"},
		"$limit": {req.Param("limit", "26")},
	}

	var raw []struct {
		MarketName   string `json:"market_and_exchange_names"`
		ReportDate   string `json:"report_date_as_yyyy_mm_dd"`
		OpenInterest string `json:"open_interest_all"`
		NoncommLong  string `json:"noncomm_positions_long_all"`
		NoncommShort string `json:"noncomm_positions_short_all"`
		CommLong     string `json:"comm_positions_long_all"`
		CommShort    string `json:"comm_positions_short_all"`
		NonreptLong  string `json:"nonrept_positions_long_all"`
		NonreptShort string `json:"nonrept_positions_short_all"`
	}
	if err := c.get(ctx, "/resource/"+cotDataset+".json", params, &raw); err != nil {
		return fetch.Result{}, err
	}

	if len(raw) == 0 {
		return fetch.Result{Empty: true}, nil
	}

	reports := make([]Report, 0, len(raw))
	for _, r := range raw {
		report := Report{
			MarketName:   r.MarketName,
			ReportDate:   r.ReportDate,
			OpenInterest: parseInt(r.OpenInterest),
			NoncommLong:  parseInt(r.NoncommLong),
			NoncommShort: parseInt(r.NoncommShort),
			CommLong:     parseInt(r.CommLong),
			CommShort:    parseInt(r.CommShort),
			NonreptLong:  parseInt(r.NonreptLong),
			NonreptShort: parseInt(r.NonreptShort),
		}
		report.NoncommNet = report.NoncommLong - report.NoncommShort
		report.CommNet = report.CommLong - report.CommShort
		reports = append(reports, report)
	}

	return marshalResult(map[string]interface{}{"market": req.Key, "reports": reports})
}

func (c *Client) get(ctx context.Context, path string, params url.Values, out interface{}) error {
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

// sanitize strips single quotes so the key cannot break out of the
// SoQL string literal.
func sanitize(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] != '\'' {
			out = append(out, s[i])
		}
	}
	return string(out)
}

func parseInt(s string) int64 {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

func marshalResult(v interface{}) (fetch.Result, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return fetch.Result{}, fmt.Errorf("failed to marshal payload: %w", err)
	}
	return fetch.Result{Data: data}, nil
}
