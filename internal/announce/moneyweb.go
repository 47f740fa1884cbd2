package announce

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/phuslu/log"
	"golang.org/x/time/rate"

	"MarketAgent/internal/httpclient"
)

const (
	selRow       = "div.sens-row"
	selKey       = `a[title="Visit Click a company for this listing"]`
	selLink      = `a[title="Go to SENS announcement"]`
	selTime      = "time"
	selContent   = "div#sens-content"
	noContentMsg = "No content"
)

// MoneywebSource scrapes a SENS listing page and its announcement pages.
type MoneywebSource struct {
	ListURL string
	BaseURL string
	Client  *http.Client
	limiter *rate.Limiter
}

// NewMoneywebSource creates a scraper. Content fetches are spaced at least interval apart.
func NewMoneywebSource(listURL, baseURL string, timeout, interval time.Duration, proxyURL string) *MoneywebSource {
	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}
	return &MoneywebSource{
		ListURL: listURL,
		BaseURL: strings.TrimRight(baseURL, "/"),
		Client:  httpclient.New(timeout, proxyURL),
		limiter: rate.NewLimiter(limit, 1),
	}
}

func (s *MoneywebSource) List(ctx context.Context) ([]Candidate, error) {
	doc, err := s.get(ctx, s.ListURL)
	if err != nil {
		return nil, fmt.Errorf("sens list: %w", err)
	}

	var out []Candidate
	doc.Find(selRow).Each(func(i int, row *goquery.Selection) {
		key := strings.TrimSpace(row.Find(selKey).First().Text())
		href, ok := row.Find(selLink).First().Attr("href")
		if key == "" || !ok || href == "" {
			log.Debug().Int("row", i).Msg("sens row without instrument or link, skipping")
			return
		}
		out = append(out, Candidate{
			Key:           key,
			PublishedText: strings.TrimSpace(row.Find(selTime).First().Text()),
			Permalink:     s.absolute(href),
		})
	})
	return out, nil
}

// Fetch returns the announcement body, preferring its preformatted block.
func (s *MoneywebSource) Fetch(ctx context.Context, permalink string) (string, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return "", err
	}
	doc, err := s.get(ctx, permalink)
	if err != nil {
		return "", err
	}
	body := doc.Find(selContent).First()
	if body.Length() == 0 {
		return noContentMsg, nil
	}
	if pre := body.Find("pre").First(); pre.Length() > 0 {
		return strings.TrimSpace(pre.Text()), nil
	}
	return textLines(body), nil
}

func (s *MoneywebSource) absolute(href string) string {
	if strings.HasPrefix(href, "/") {
		return s.BaseURL + href
	}
	return href
}

func (s *MoneywebSource) get(ctx context.Context, u string) (*goquery.Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0")

	resp, err := s.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GET %s: status %d", u, resp.StatusCode)
	}
	return goquery.NewDocumentFromReader(resp.Body)
}

// textLines joins the trimmed text nodes under sel with newlines.
func textLines(sel *goquery.Selection) string {
	var lines []string
	var walk func(*goquery.Selection)
	walk = func(s *goquery.Selection) {
		s.Contents().Each(func(_ int, c *goquery.Selection) {
			switch goquery.NodeName(c) {
			case "#text":
				if t := strings.TrimSpace(c.Text()); t != "" {
					lines = append(lines, t)
				}
			case "script", "style", "#comment":
			default:
				walk(c)
			}
		})
	}
	walk(sel)
	return strings.Join(lines, "\n")
}
