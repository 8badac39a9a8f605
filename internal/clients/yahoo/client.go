// Package yahoo provides a client for Yahoo Finance public endpoints.
// Yahoo requires no API key, which makes it the workhorse fallback for
// prices and the primary source for fundamentals and option chains.
package yahoo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/marketdata/internal/domain"
	"github.com/aristath/marketdata/internal/fetch"
)

const defaultBaseURL = "https://query1.finance.yahoo.com"

// Client is the Yahoo Finance client.
type Client struct {
	baseURL    string
	httpClient *http.Client
	log        zerolog.Logger
}

// NewClient creates a new Yahoo Finance client.
func NewClient(log zerolog.Logger) *Client {
	return &Client{
		baseURL: defaultBaseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		log: log.With().Str("client", "yahoo").Logger(),
	}
}

// Name implements fetch.Provider.
func (c *Client) Name() string {
	return fetch.AdapterYahoo
}

// Enabled implements fetch.Provider. Yahoo needs no credentials.
func (c *Client) Enabled() bool {
	return true
}

// Fetch implements fetch.Provider.
func (c *Client) Fetch(ctx context.Context, req fetch.Request) (fetch.Result, error) {
	switch req.DataType {
	case domain.DataTypePrice:
		return c.fetchChart(ctx, req)
	case domain.DataTypeFundamentals:
		return c.fetchFundamentals(ctx, req.Key)
	case domain.DataTypeOptions:
		return c.fetchOptions(ctx, req.Key)
	default:
		return fetch.Result{}, fmt.Errorf("%w: %s", fetch.ErrUnsupportedDataType, req.DataType)
	}
}

// PriceHistory is the normalized price payload. Closes carries the
// recent close series so downstream indicator computation does not
// need a second fetch.
type PriceHistory struct {
	Symbol    string    `json:"symbol"`
	Price     float64   `json:"price"`
	Currency  string    `json:"currency"`
	PrevClose float64   `json:"prev_close"`
	Closes    []float64 `json:"closes"`
	Timestamp int64     `json:"timestamp"`
}

func (c *Client) fetchChart(ctx context.Context, req fetch.Request) (fetch.Result, error) {
	params := url.Values{
		"range":    {req.Param("range", "3mo")},
		"interval": {req.Param("interval", "1d")},
	}

	var raw struct {
		Chart struct {
			Result []struct {
				Meta struct {
					Symbol             string  `json:"symbol"`
					Currency           string  `json:"currency"`
					RegularMarketPrice float64 `json:"regularMarketPrice"`
					PreviousClose      float64 `json:"chartPreviousClose"`
					RegularMarketTime  int64   `json:"regularMarketTime"`
				} `json:"meta"`
				Indicators struct {
					Quote []struct {
						Close []*float64 `json:"close"`
					} `json:"quote"`
				} `json:"indicators"`
			} `json:"result"`
			Error *struct {
				Code        string `json:"code"`
				Description string `json:"description"`
			} `json:"error"`
		} `json:"chart"`
	}
	if err := c.get(ctx, "/v8/finance/chart/"+url.PathEscape(req.Key), params, &raw); err != nil {
		if errors.Is(err, errNotFound) {
			return fetch.Result{Empty: true}, nil
		}
		return fetch.Result{}, err
	}

	if raw.Chart.Error != nil {
		// "Not Found" is an authoritative answer, not an outage
		if raw.Chart.Error.Code == "Not Found" {
			return fetch.Result{Empty: true}, nil
		}
		return fetch.Result{}, fmt.Errorf("chart API error: %s", raw.Chart.Error.Description)
	}
	if len(raw.Chart.Result) == 0 {
		return fetch.Result{Empty: true}, nil
	}

	result := raw.Chart.Result[0]
	history := PriceHistory{
		Symbol:    result.Meta.Symbol,
		Price:     result.Meta.RegularMarketPrice,
		Currency:  result.Meta.Currency,
		PrevClose: result.Meta.PreviousClose,
		Timestamp: result.Meta.RegularMarketTime,
	}
	if len(result.Indicators.Quote) > 0 {
		for _, close := range result.Indicators.Quote[0].Close {
			if close != nil {
				history.Closes = append(history.Closes, *close)
			}
		}
	}

	return marshalResult(history)
}

// Fundamentals is the normalized fundamentals payload.
type Fundamentals struct {
	Symbol            string  `json:"symbol"`
	MarketCap         float64 `json:"market_cap"`
	TrailingPE        float64 `json:"trailing_pe"`
	ForwardPE         float64 `json:"forward_pe"`
	PriceToBook       float64 `json:"price_to_book"`
	DividendYield     float64 `json:"dividend_yield"`
	ReturnOnEquity    float64 `json:"return_on_equity"`
	DebtToEquity      float64 `json:"debt_to_equity"`
	RevenueGrowth     float64 `json:"revenue_growth"`
	ProfitMargins     float64 `json:"profit_margins"`
	FreeCashflow      float64 `json:"free_cashflow"`
	TotalCash         float64 `json:"total_cash"`
	TotalDebt         float64 `json:"total_debt"`
	SharesOutstanding float64 `json:"shares_outstanding"`
}

type yahooValue struct {
	Raw float64 `json:"raw"`
}

func (c *Client) fetchFundamentals(ctx context.Context, symbol string) (fetch.Result, error) {
	params := url.Values{
		"modules": {"summaryDetail,defaultKeyStatistics,financialData"},
	}

	var raw struct {
		QuoteSummary struct {
			Result []struct {
				SummaryDetail struct {
					MarketCap     yahooValue `json:"marketCap"`
					TrailingPE    yahooValue `json:"trailingPE"`
					ForwardPE     yahooValue `json:"forwardPE"`
					DividendYield yahooValue `json:"dividendYield"`
				} `json:"summaryDetail"`
				DefaultKeyStatistics struct {
					PriceToBook       yahooValue `json:"priceToBook"`
					SharesOutstanding yahooValue `json:"sharesOutstanding"`
				} `json:"defaultKeyStatistics"`
				FinancialData struct {
					ReturnOnEquity yahooValue `json:"returnOnEquity"`
					DebtToEquity   yahooValue `json:"debtToEquity"`
					RevenueGrowth  yahooValue `json:"revenueGrowth"`
					ProfitMargins  yahooValue `json:"profitMargins"`
					FreeCashflow   yahooValue `json:"freeCashflow"`
					TotalCash      yahooValue `json:"totalCash"`
					TotalDebt      yahooValue `json:"totalDebt"`
				} `json:"financialData"`
			} `json:"result"`
			Error *struct {
				Description string `json:"description"`
			} `json:"error"`
		} `json:"quoteSummary"`
	}
	if err := c.get(ctx, "/v10/finance/quoteSummary/"+url.PathEscape(symbol), params, &raw); err != nil {
		if errors.Is(err, errNotFound) {
			return fetch.Result{Empty: true}, nil
		}
		return fetch.Result{}, err
	}

	if raw.QuoteSummary.Error != nil {
		return fetch.Result{Empty: true}, nil
	}
	if len(raw.QuoteSummary.Result) == 0 {
		return fetch.Result{Empty: true}, nil
	}

	r := raw.QuoteSummary.Result[0]
	return marshalResult(Fundamentals{
		Symbol:            symbol,
		MarketCap:         r.SummaryDetail.MarketCap.Raw,
		TrailingPE:        r.SummaryDetail.TrailingPE.Raw,
		ForwardPE:         r.SummaryDetail.ForwardPE.Raw,
		PriceToBook:       r.DefaultKeyStatistics.PriceToBook.Raw,
		DividendYield:     r.SummaryDetail.DividendYield.Raw,
		ReturnOnEquity:    r.FinancialData.ReturnOnEquity.Raw,
		DebtToEquity:      r.FinancialData.DebtToEquity.Raw,
		RevenueGrowth:     r.FinancialData.RevenueGrowth.Raw,
		ProfitMargins:     r.FinancialData.ProfitMargins.Raw,
		FreeCashflow:      r.FinancialData.FreeCashflow.Raw,
		TotalCash:         r.FinancialData.TotalCash.Raw,
		TotalDebt:         r.FinancialData.TotalDebt.Raw,
		SharesOutstanding: r.DefaultKeyStatistics.SharesOutstanding.Raw,
	})
}

// OptionContract is one normalized option quote.
type OptionContract struct {
	ContractSymbol    string  `json:"contract_symbol"`
	Strike            float64 `json:"strike"`
	LastPrice         float64 `json:"last_price"`
	Bid               float64 `json:"bid"`
	Ask               float64 `json:"ask"`
	Volume            int64   `json:"volume"`
	OpenInterest      int64   `json:"open_interest"`
	ImpliedVolatility float64 `json:"implied_volatility"`
	Expiration        int64   `json:"expiration"`
}

func (c *Client) fetchOptions(ctx context.Context, symbol string) (fetch.Result, error) {
	var raw struct {
		OptionChain struct {
			Result []struct {
				ExpirationDates []int64 `json:"expirationDates"`
				Options         []struct {
					Calls []rawContract `json:"calls"`
					Puts  []rawContract `json:"puts"`
				} `json:"options"`
			} `json:"result"`
		} `json:"optionChain"`
	}
	if err := c.get(ctx, "/v7/finance/options/"+url.PathEscape(symbol), nil, &raw); err != nil {
		if errors.Is(err, errNotFound) {
			return fetch.Result{Empty: true}, nil
		}
		return fetch.Result{}, err
	}

	if len(raw.OptionChain.Result) == 0 || len(raw.OptionChain.Result[0].Options) == 0 {
		return fetch.Result{Empty: true}, nil
	}

	opts := raw.OptionChain.Result[0].Options[0]
	payload := map[string]interface{}{
		"symbol":           symbol,
		"expiration_dates": raw.OptionChain.Result[0].ExpirationDates,
		"calls":            normalizeContracts(opts.Calls),
		"puts":             normalizeContracts(opts.Puts),
	}
	return marshalResult(payload)
}

type rawContract struct {
	ContractSymbol    string  `json:"contractSymbol"`
	Strike            float64 `json:"strike"`
	LastPrice         float64 `json:"lastPrice"`
	Bid               float64 `json:"bid"`
	Ask               float64 `json:"ask"`
	Volume            int64   `json:"volume"`
	OpenInterest      int64   `json:"openInterest"`
	ImpliedVolatility float64 `json:"impliedVolatility"`
	Expiration        int64   `json:"expiration"`
}

func normalizeContracts(raw []rawContract) []OptionContract {
	contracts := make([]OptionContract, 0, len(raw))
	for _, r := range raw {
		contracts = append(contracts, OptionContract{
			ContractSymbol:    r.ContractSymbol,
			Strike:            r.Strike,
			LastPrice:         r.LastPrice,
			Bid:               r.Bid,
			Ask:               r.Ask,
			Volume:            r.Volume,
			OpenInterest:      r.OpenInterest,
			ImpliedVolatility: r.ImpliedVolatility,
			Expiration:        r.Expiration,
		})
	}
	return contracts
}

func (c *Client) get(ctx context.Context, path string, params url.Values, out interface{}) error {
	requestURL := c.baseURL + path
	if len(params) > 0 {
		requestURL += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	// Yahoo rejects requests without a browser-like user agent
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; marketdata/1.0)")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		// Treated by callers as an authoritative miss
		io.Copy(io.Discard, resp.Body)
		return errNotFound
	}
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

var errNotFound = errors.New("symbol not found")

func marshalResult(v interface{}) (fetch.Result, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return fetch.Result{}, fmt.Errorf("failed to marshal payload: %w", err)
	}
	return fetch.Result{Data: data}, nil
}
