package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/phuslu/log"
	"github.com/shopspring/decimal"

	"MarketAgent/internal/httpclient"
)

const yahooBaseURL = "https://query1.finance.yahoo.com"

// YahooProvider implements Provider using the Yahoo Finance chart API, one request per ticker.
type YahooProvider struct {
	BaseURL string
	Client  *http.Client
}

// NewYahooProvider creates a Yahoo provider. An empty baseURL uses the public endpoint.
func NewYahooProvider(baseURL string, timeout time.Duration, proxyURL string) *YahooProvider {
	if baseURL == "" {
		baseURL = yahooBaseURL
	}
	return &YahooProvider{
		BaseURL: baseURL,
		Client:  httpclient.New(timeout, proxyURL),
	}
}

func (p *YahooProvider) Name() string { return "yahoo" }

// yahooChart is the response structure from Yahoo Finance chart API.
type yahooChart struct {
	Chart struct {
		Result []struct {
			Meta struct {
				GMTOffset int64 `json:"gmtoffset"`
			} `json:"meta"`
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Open   []decimal.NullDecimal `json:"open"`
					High   []decimal.NullDecimal `json:"high"`
					Low    []decimal.NullDecimal `json:"low"`
					Close  []decimal.NullDecimal `json:"close"`
					Volume []decimal.NullDecimal `json:"volume"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

// Download returns a FlatFrame for one ticker and a WideFrame for several.
// Tickers that fail inside a batch are logged and left out; the call fails
// only when no ticker succeeded.
func (p *YahooProvider) Download(ctx context.Context, tickers []string, r RangeSpec) (Frame, error) {
	if len(tickers) == 1 {
		quotes, err := p.fetchChart(ctx, tickers[0], r)
		if err != nil {
			return nil, err
		}
		return FlatFrame{Ticker: tickers[0], Quotes: quotes}, nil
	}

	byTicker := make(map[string][]Quote, len(tickers))
	var lastErr error
	for _, t := range tickers {
		quotes, err := p.fetchChart(ctx, t, r)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			log.Warn().Err(err).Str("ticker", t).Msg("yahoo ticker failed, skipping")
			lastErr = err
			continue
		}
		byTicker[t] = quotes
	}
	if len(byTicker) == 0 && lastErr != nil {
		return nil, fmt.Errorf("yahoo: all %d tickers failed: %w", len(tickers), lastErr)
	}
	return widen(byTicker), nil
}

func (p *YahooProvider) chartURL(ticker string, r RangeSpec) string {
	q := url.Values{}
	q.Set("interval", "1d")
	if r.Kind == RangeFull {
		q.Set("range", r.Period)
	} else {
		// period2 is exclusive, so End is pushed to the next midnight.
		q.Set("period1", fmt.Sprint(r.Start.Unix()))
		q.Set("period2", fmt.Sprint(r.End.AddDate(0, 0, 1).Unix()))
	}
	return fmt.Sprintf("%s/v8/finance/chart/%s?%s", p.BaseURL, url.PathEscape(ticker), q.Encode())
}

func (p *YahooProvider) fetchChart(ctx context.Context, ticker string, r RangeSpec) ([]Quote, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.chartURL(ticker, r), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0")

	resp, err := p.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("yahoo fetch %s: %w", ticker, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("yahoo read body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("yahoo %s: status %d, body: %s", ticker, resp.StatusCode, string(body))
	}

	var chart yahooChart
	if err := json.Unmarshal(body, &chart); err != nil {
		return nil, fmt.Errorf("yahoo decode: %w", err)
	}
	if chart.Chart.Error != nil {
		return nil, fmt.Errorf("yahoo api error: %s", chart.Chart.Error.Description)
	}
	if len(chart.Chart.Result) == 0 {
		return nil, nil
	}

	result := chart.Chart.Result[0]
	if len(result.Indicators.Quote) == 0 {
		return nil, nil
	}
	quote := result.Indicators.Quote[0]
	at := func(col []decimal.NullDecimal, i int) decimal.NullDecimal {
		if i < len(col) {
			return col[i]
		}
		return decimal.NullDecimal{}
	}

	quotes := make([]Quote, 0, len(result.Timestamp))
	for i, ts := range result.Timestamp {
		// Shift into exchange time before taking the calendar day.
		local := time.Unix(ts+result.Meta.GMTOffset, 0).UTC()
		quotes = append(quotes, Quote{
			Date:   time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC),
			Open:   at(quote.Open, i),
			High:   at(quote.High, i),
			Low:    at(quote.Low, i),
			Close:  at(quote.Close, i),
			Volume: at(quote.Volume, i),
		})
	}
	return quotes, nil
}
