// Package sec provides a client for SEC EDGAR full-text submission
// data, used for institutional ownership (13F/SC 13) and insider
// (Form 4) filings. EDGAR requires a descriptive User-Agent contact
// string; without one the adapter reports itself disabled.
package sec

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/marketdata/internal/domain"
	"github.com/aristath/marketdata/internal/fetch"
)

const defaultBaseURL = "https://data.sec.gov"

// Client is the SEC EDGAR client.
type Client struct {
	baseURL    string
	userAgent  string
	httpClient *http.Client
	log        zerolog.Logger

	// cikTable caches the ticker map so it is downloaded once. The
	// client is shared by concurrent fetches, so the lazy load is
	// guarded by cikMu.
	cikMu    sync.Mutex
	cikTable map[string]string
}

// NewClient creates a new EDGAR client. userAgent must identify the
// operator per SEC fair-access policy, e.g. "acme research ops@acme.io".
func NewClient(userAgent string, log zerolog.Logger) *Client {
	return &Client{
		baseURL:   defaultBaseURL,
		userAgent: userAgent,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		log: log.With().Str("client", "sec").Logger(),
	}
}

// Name implements fetch.Provider.
func (c *Client) Name() string {
	return fetch.AdapterSEC
}

// Enabled implements fetch.Provider.
func (c *Client) Enabled() bool {
	return c.userAgent != ""
}

// Fetch implements fetch.Provider.
func (c *Client) Fetch(ctx context.Context, req fetch.Request) (fetch.Result, error) {
	switch req.DataType {
	case domain.DataTypeOwnership:
		return c.fetchFilings(ctx, req.Key, []string{"13F-HR", "SC 13G", "SC 13D"})
	case domain.DataTypeInsider:
		return c.fetchFilings(ctx, req.Key, []string{"4"})
	default:
		return fetch.Result{}, fmt.Errorf("%w: %s", fetch.ErrUnsupportedDataType, req.DataType)
	}
}

// Filing is one normalized EDGAR filing reference.
type Filing struct {
	Form            string `json:"form"`
	FilingDate      string `json:"filing_date"`
	AccessionNumber string `json:"accession_number"`
	PrimaryDocument string `json:"primary_document"`
}

func (c *Client) fetchFilings(ctx context.Context, symbol string, forms []string) (fetch.Result, error) {
	cik, err := c.lookupCIK(ctx, symbol)
	if err != nil {
		return fetch.Result{}, err
	}
	if cik == "" {
		return fetch.Result{Empty: true}, nil
	}

	var raw struct {
		Filings struct {
			Recent struct {
				Form            []string `json:"form"`
				FilingDate      []string `json:"filingDate"`
				AccessionNumber []string `json:"accessionNumber"`
				PrimaryDocument []string `json:"primaryDocument"`
			} `json:"recent"`
		} `json:"filings"`
	}
	if err := c.get(ctx, "/submissions/CIK"+cik+".json", &raw); err != nil {
		return fetch.Result{}, err
	}

	wanted := make(map[string]bool, len(forms))
	for _, f := range forms {
		wanted[f] = true
	}

	recent := raw.Filings.Recent
	var filings []Filing
	for i, form := range recent.Form {
		if !wanted[form] {
			continue
		}
		filing := Filing{Form: form}
		if i < len(recent.FilingDate) {
			filing.FilingDate = recent.FilingDate[i]
		}
		if i < len(recent.AccessionNumber) {
			filing.AccessionNumber = recent.AccessionNumber[i]
		}
		if i < len(recent.PrimaryDocument) {
			filing.PrimaryDocument = recent.PrimaryDocument[i]
		}
		filings = append(filings, filing)
	}

	if len(filings) == 0 {
		return fetch.Result{Empty: true}, nil
	}
	return marshalResult(map[string]interface{}{"symbol": symbol, "cik": cik, "filings": filings})
}

// lookupCIK resolves a ticker to its zero-padded CIK via the company
// tickers file, which is cached for the client's lifetime.
func (c *Client) lookupCIK(ctx context.Context, symbol string) (string, error) {
	c.cikMu.Lock()
	defer c.cikMu.Unlock()

	if c.cikTable == nil {
		var raw map[string]struct {
			CIK    int64  `json:"cik_str"`
			Ticker string `json:"ticker"`
		}
		if err := c.get(ctx, "/files/company_tickers.json", &raw); err != nil {
			return "", fmt.Errorf("failed to load ticker map: %w", err)
		}
		table := make(map[string]string, len(raw))
		for _, entry := range raw {
			table[strings.ToUpper(entry.Ticker)] = fmt.Sprintf("%010d", entry.CIK)
		}
		c.cikTable = table
	}
	return c.cikTable[strings.ToUpper(symbol)], nil
}

func (c *Client) get(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

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
			Msg("EDGAR returned non-200 status")
		return fmt.Errorf("EDGAR returned status %d", resp.StatusCode)
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
