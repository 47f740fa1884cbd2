package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"MarketAgent/internal/httpclient"
)

// BulkProvider implements Provider against a REST endpoint that returns every
// requested ticker in one wide document.
type BulkProvider struct {
	BaseURL string
	APIKey  string
	Client  *http.Client
}

// NewBulkProvider creates a new provider with optional proxy support.
func NewBulkProvider(baseURL, apiKey string, timeout time.Duration, proxyURL string) *BulkProvider {
	return &BulkProvider{
		BaseURL: strings.TrimRight(baseURL, "/"),
		APIKey:  apiKey,
		Client:  httpclient.New(timeout, proxyURL),
	}
}

func (p *BulkProvider) Name() string { return "bulk" }

// bulkResponse is the expected JSON shape: a shared date index and
// columns keyed by field then ticker.
type bulkResponse struct {
	Dates   []string                                    `json:"dates"`
	Columns map[string]map[string][]decimal.NullDecimal `json:"columns"`
}

func (p *BulkProvider) Download(ctx context.Context, tickers []string, r RangeSpec) (Frame, error) {
	q := url.Values{}
	q.Set("symbols", strings.Join(tickers, ","))
	if r.Kind == RangeFull {
		q.Set("period", r.Period)
	} else {
		q.Set("from", r.Start.Format("2006-01-02"))
		q.Set("to", r.End.Format("2006-01-02"))
	}
	endpoint := fmt.Sprintf("%s/api/v1/bars/daily?%s", p.BaseURL, q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	if p.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.APIKey)
	}
	resp, err := p.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch bars: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("fetch bars: status %d, body: %s", resp.StatusCode, string(body))
	}

	var doc bulkResponse
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return MalformedFrame{Reason: fmt.Sprintf("decode bars: %v", err)}, nil
	}
	return doc.frame()
}

func (d bulkResponse) frame() (Frame, error) {
	w := WideFrame{
		Dates:   make([]time.Time, 0, len(d.Dates)),
		Columns: make(map[ColumnKey][]decimal.NullDecimal),
	}
	for _, s := range d.Dates {
		t, err := time.Parse("2006-01-02", s)
		if err != nil {
			return MalformedFrame{Reason: fmt.Sprintf("bad date %q", s)}, nil
		}
		w.Dates = append(w.Dates, t)
	}
	for field, byTicker := range d.Columns {
		f := Field(field)
		switch f {
		case FieldOpen, FieldHigh, FieldLow, FieldClose, FieldVolume:
		default:
			continue
		}
		for ticker, vals := range byTicker {
			w.Columns[ColumnKey{Field: f, Ticker: ticker}] = vals
		}
	}
	return w, nil
}
