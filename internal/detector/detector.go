// Package detector finds watched levels crossed between the last two closes.
package detector

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/phuslu/log"

	"MarketAgent/internal/calculator"
	"MarketAgent/internal/ledger"
	"MarketAgent/internal/model"
	"MarketAgent/internal/store"
)

// Ledger gates each (ticker, level, day) to a single event.
type Ledger interface {
	HasHitToday(ctx context.Context, ticker string, level int64, day time.Time) (bool, error)
	RecordHit(ctx context.Context, ticker string, level int64, day time.Time, price int64) (ledger.Outcome, error)
}

// Dispatcher receives price-level events.
type Dispatcher interface {
	Dispatch(ev model.Event)
}

// Detector compares each instrument's close on a day with its previous close.
type Detector struct {
	universe store.UniverseStore
	closes   store.CloseReader
	ledger   Ledger
	dispatch Dispatcher
}

func New(u store.UniverseStore, c store.CloseReader, l Ledger, d Dispatcher) *Detector {
	return &Detector{universe: u, closes: c, ledger: l, dispatch: d}
}

// Detect returns every crossing found for asOf. An event is dispatched only
// for crossings the ledger had not seen on asOf.
func (d *Detector) Detect(ctx context.Context, asOf time.Time) ([]model.Crossing, error) {
	day := model.DateOf(asOf)
	universe, err := d.universe.Universe(ctx)
	if err != nil {
		return nil, fmt.Errorf("load universe: %w", err)
	}

	var crossings []model.Crossing
	for _, inst := range universe {
		if len(inst.Levels) == 0 {
			continue
		}
		next, err := d.closes.CloseOn(ctx, inst.Ticker, day)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return crossings, err
		}
		prev, _, err := d.closes.PreviousClose(ctx, inst.Ticker, day)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return crossings, err
		}

		for _, lv := range inst.Levels {
			dir := calculator.Cross(prev, next, lv.Price)
			if dir == calculator.None {
				continue
			}
			c := model.Crossing{Ticker: inst.Ticker, Level: lv.Price, NewPrice: next, PrevPrice: prev, Up: dir == calculator.Up}
			crossings = append(crossings, c)

			if err := d.fire(ctx, c, day); err != nil {
				return crossings, err
			}
		}
	}
	return crossings, nil
}

func (d *Detector) fire(ctx context.Context, c model.Crossing, day time.Time) error {
	hit, err := d.ledger.HasHitToday(ctx, c.Ticker, c.Level, day)
	if err != nil {
		return err
	}
	if hit {
		return nil
	}
	out, err := d.ledger.RecordHit(ctx, c.Ticker, c.Level, day, c.NewPrice)
	if err != nil {
		return err
	}
	if out != ledger.Created {
		return nil
	}

	log.Info().Str("ticker", c.Ticker).Int64("level", c.Level).Int64("prev", c.PrevPrice).Int64("close", c.NewPrice).
		Bool("up", c.Up).Msg("price level crossed")
	d.dispatch.Dispatch(model.Event{
		Kind:      model.EventPriceLevel,
		Ticker:    c.Ticker,
		Level:     c.Level,
		NewPrice:  c.NewPrice,
		PrevPrice: c.PrevPrice,
		Day:       day,
	})
	return nil
}
