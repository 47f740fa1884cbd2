// Package ledger records which watched levels have already fired on a given day.
package ledger

import (
	"context"
	"fmt"
	"time"

	"MarketAgent/internal/model"
	"MarketAgent/internal/store"
)

// Outcome is the result of RecordHit.
type Outcome int

const (
	Created Outcome = iota
	AlreadyExists
)

func (o Outcome) String() string {
	switch o {
	case Created:
		return "created"
	case AlreadyExists:
		return "already_exists"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Ledger is the once-per-day gate for price-level triggers.
type Ledger struct {
	store store.TriggerStore
	now   func() time.Time
}

func New(s store.TriggerStore) *Ledger {
	return &Ledger{store: s, now: time.Now}
}

// HasHitToday reports whether (ticker, level) was already recorded for day.
func (l *Ledger) HasHitToday(ctx context.Context, ticker string, level int64, day time.Time) (bool, error) {
	ok, err := l.store.TriggerExists(ctx, ticker, level, model.DateOf(day))
	if err != nil {
		return false, fmt.Errorf("ledger lookup %s@%d: %w", ticker, level, err)
	}
	return ok, nil
}

// RecordHit inserts the hit. Concurrent or repeated calls for the same key
// resolve to exactly one Created.
func (l *Ledger) RecordHit(ctx context.Context, ticker string, level int64, day time.Time, price int64) (Outcome, error) {
	created, err := l.store.InsertTrigger(ctx, model.TriggerRecord{
		Ticker: ticker,
		Level:  level,
		Day:    model.DateOf(day),
		Price:  price,
		HitAt:  l.now(),
	})
	if err != nil {
		return AlreadyExists, fmt.Errorf("ledger record %s@%d: %w", ticker, level, err)
	}
	if !created {
		return AlreadyExists, nil
	}
	return Created, nil
}
