package announce

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/phuslu/log"

	"MarketAgent/internal/model"
	"MarketAgent/internal/store"
)

// Dispatcher receives events for rows that have been committed.
type Dispatcher interface {
	Dispatch(ev model.Event)
}

// Options configures an Ingestor.
type Options struct {
	// Suffix is appended to listing keys to form universe tickers, e.g. ".JO".
	Suffix   string
	Location *time.Location
	Now      func() time.Time
}

// Ingestor runs one announcement discovery pass per call.
type Ingestor struct {
	source   Source
	store    store.AnnouncementStore
	dispatch Dispatcher
	suffix   string
	loc      *time.Location
	now      func() time.Time
}

func NewIngestor(src Source, s store.AnnouncementStore, d Dispatcher, opts Options) *Ingestor {
	in := &Ingestor{
		source:   src,
		store:    s,
		dispatch: d,
		suffix:   opts.Suffix,
		loc:      opts.Location,
		now:      opts.Now,
	}
	if in.loc == nil {
		in.loc = time.UTC
	}
	if in.now == nil {
		in.now = time.Now
	}
	return in
}

type announceKey struct {
	ticker string
	unix   int64
}

// Ingest stores announcements not seen before and dispatches one event per
// stored row. An unreachable source is logged and yields zero rows; store
// failures are returned.
func (in *Ingestor) Ingest(ctx context.Context, universe []model.Instrument) (int, error) {
	if len(universe) == 0 {
		return 0, nil
	}
	tickers := in.tickerIndex(universe)

	candidates, err := in.source.List(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("announcement source unavailable")
		return 0, nil
	}
	if len(candidates) == 0 {
		return 0, nil
	}

	seen := make(map[announceKey]bool)
	var fresh []model.Announcement
	for _, c := range candidates {
		ticker, ok := tickers[c.Key]
		if !ok {
			continue
		}
		published, err := ParsePublished(c.PublishedText, in.loc)
		if err != nil {
			log.Warn().Err(err).Str("ticker", ticker).Msg("skipping announcement with bad timestamp")
			continue
		}
		k := announceKey{ticker: ticker, unix: published.Unix()}
		if seen[k] {
			continue
		}
		seen[k] = true

		exists, err := in.store.AnnouncementExists(ctx, ticker, published)
		if err != nil {
			return 0, fmt.Errorf("check announcement %s: %w", ticker, err)
		}
		if exists {
			continue
		}

		content, err := in.source.Fetch(ctx, c.Permalink)
		if err != nil {
			log.Warn().Err(err).Str("ticker", ticker).Str("url", c.Permalink).Msg("announcement content fetch failed")
			content = fmt.Sprintf("Error fetching content: %v", err)
		}
		fresh = append(fresh, model.Announcement{
			Ticker:       ticker,
			PublishedAt:  published,
			Content:      content,
			Permalink:    c.Permalink,
			DiscoveredAt: in.now(),
		})
	}
	if len(fresh) == 0 {
		return 0, nil
	}

	inserted, err := in.store.InsertAnnouncements(ctx, fresh)
	if err != nil {
		return 0, fmt.Errorf("store announcements: %w", err)
	}

	for _, a := range inserted {
		log.Info().Str("ticker", a.Ticker).Time("published", a.PublishedAt).Msg("new announcement")
		in.dispatch.Dispatch(model.Event{
			Kind:    model.EventAnnouncement,
			Ticker:  a.Ticker,
			Content: a.Content,
			Day:     model.DateOf(a.PublishedAt),
		})
	}
	return len(inserted), nil
}

// tickerIndex maps listing keys to universe tickers. A ticker is reachable by
// its own name and, when it carries the suffix, by the bare code.
func (in *Ingestor) tickerIndex(universe []model.Instrument) map[string]string {
	idx := make(map[string]string, 2*len(universe))
	for _, inst := range universe {
		idx[inst.Ticker] = inst.Ticker
		if in.suffix != "" && strings.HasSuffix(inst.Ticker, in.suffix) {
			idx[strings.TrimSuffix(inst.Ticker, in.suffix)] = inst.Ticker
		}
	}
	return idx
}
