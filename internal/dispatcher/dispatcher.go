// Package dispatcher runs analysis for committed events in the background.
package dispatcher

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/phuslu/log"
	"golang.org/x/sync/semaphore"

	"MarketAgent/internal/model"
	"MarketAgent/internal/store"
)

// Analyzer produces a free-text analysis for one event.
type Analyzer interface {
	Analyze(ctx context.Context, ticker, prompt string) (string, error)
}

// Sink receives non-empty analysis results.
type Sink interface {
	Deliver(ctx context.Context, rec model.AnalysisRecord) error
}

// Options configures a Dispatcher.
type Options struct {
	MaxConcurrency int64
	Timeout        time.Duration
	// DeliverTimeout bounds all sink deliveries of one result. It starts
	// after Analyze returns.
	DeliverTimeout time.Duration
}

// Dispatcher starts one goroutine per event and never blocks the caller.
// Analyzer calls run on their own context so scheduler cancellation does not
// abort them.
type Dispatcher struct {
	analyzer Analyzer
	sinks    []Sink
	sem      *semaphore.Weighted
	timeout  time.Duration
	deliver  time.Duration
	wg       sync.WaitGroup
	now      func() time.Time
}

func New(a Analyzer, opts Options, sinks ...Sink) *Dispatcher {
	if opts.MaxConcurrency <= 0 {
		opts.MaxConcurrency = 1
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 3 * time.Minute
	}
	if opts.DeliverTimeout <= 0 {
		opts.DeliverTimeout = time.Minute
	}
	return &Dispatcher{
		analyzer: a,
		sinks:    sinks,
		sem:      semaphore.NewWeighted(opts.MaxConcurrency),
		timeout:  opts.Timeout,
		deliver:  opts.DeliverTimeout,
		now:      time.Now,
	}
}

// Dispatch schedules analysis of ev and returns immediately.
func (d *Dispatcher) Dispatch(ev model.Event) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	log.Debug().Str("event", ev.ID).Str("kind", string(ev.Kind)).Str("ticker", ev.Ticker).Msg("dispatching")

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.run(ev)
	}()
}

func (d *Dispatcher) run(ev model.Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("event", ev.ID).Str("ticker", ev.Ticker).Str("panic", fmt.Sprint(r)).
				Str("stack", string(debug.Stack())).Msg("analysis task panicked")
		}
	}()

	analysis, ok := d.analyze(ev)
	if !ok || strings.TrimSpace(analysis) == "" {
		return
	}
	rec := model.AnalysisRecord{
		EventID:   ev.ID,
		Ticker:    ev.Ticker,
		Kind:      ev.Kind,
		Trigger:   ev.Trigger(),
		Analysis:  analysis,
		CreatedAt: d.now(),
	}

	ctx, cancel := context.WithTimeout(context.Background(), d.deliver)
	defer cancel()
	for _, s := range d.sinks {
		if err := s.Deliver(ctx, rec); err != nil {
			log.Error().Err(err).Str("event", ev.ID).Str("sink", fmt.Sprintf("%T", s)).Msg("deliver analysis")
		}
	}
}

// analyze holds an analyzer slot only for the Analyze call itself.
func (d *Dispatcher) analyze(ev model.Event) (string, bool) {
	// Slots are taken on a background context; a queued task is never dropped.
	if err := d.sem.Acquire(context.Background(), 1); err != nil {
		log.Error().Err(err).Str("event", ev.ID).Msg("acquire analysis slot")
		return "", false
	}
	defer d.sem.Release(1)

	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	started := d.now()
	analysis, err := d.analyzer.Analyze(ctx, ev.Ticker, Prompt(ev))
	if err != nil {
		log.Error().Err(err).Str("event", ev.ID).Str("ticker", ev.Ticker).Msg("analysis failed")
		return "", false
	}
	log.Info().Str("event", ev.ID).Str("ticker", ev.Ticker).Dur("took", time.Since(started)).Msg("analysis finished")
	return analysis, true
}

// Wait blocks until every dispatched task has finished or ctx is done.
func (d *Dispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Prompt is the context text handed to the analyzer for ev.
func Prompt(ev model.Event) string {
	var b strings.Builder
	b.WriteString(ev.Trigger())
	b.WriteString(".\n")
	switch ev.Kind {
	case model.EventAnnouncement:
		b.WriteString("\nAnnouncement text:\n")
		b.WriteString(ev.Content)
	case model.EventPriceLevel:
		fmt.Fprintf(&b, "\nWatched level: %d\nPrevious close: %d\nLatest close: %d\n", ev.Level, ev.PrevPrice, ev.NewPrice)
	}
	return b.String()
}

// StoreSink persists results to the analysis log.
type StoreSink struct {
	Store store.AnalysisStore
}

func (s StoreSink) Deliver(ctx context.Context, rec model.AnalysisRecord) error {
	return s.Store.SaveAnalysis(ctx, rec)
}
