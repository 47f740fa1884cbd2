package collector

import (
	"slices"
	"time"

	"github.com/shopspring/decimal"
)

// Field names one OHLCV column.
type Field string

const (
	FieldOpen   Field = "Open"
	FieldHigh   Field = "High"
	FieldLow    Field = "Low"
	FieldClose  Field = "Close"
	FieldVolume Field = "Volume"
)

// Quote is one provider row. Any value may be missing.
type Quote struct {
	Date   time.Time
	Open   decimal.NullDecimal
	High   decimal.NullDecimal
	Low    decimal.NullDecimal
	Close  decimal.NullDecimal
	Volume decimal.NullDecimal
}

// Frame is what a Provider returns. The variants are FlatFrame, WideFrame and MalformedFrame.
type Frame interface {
	isFrame()
}

// FlatFrame holds rows for a single instrument.
type FlatFrame struct {
	Ticker string
	Quotes []Quote
}

// ColumnKey addresses one column of a WideFrame.
type ColumnKey struct {
	Field  Field
	Ticker string
}

// WideFrame holds several instruments on a shared date index. Every column
// has len(Dates) entries.
type WideFrame struct {
	Dates   []time.Time
	Columns map[ColumnKey][]decimal.NullDecimal
}

// MalformedFrame is a response that could not be shaped into rows.
type MalformedFrame struct {
	Reason string
}

func (FlatFrame) isFrame()      {}
func (WideFrame) isFrame()      {}
func (MalformedFrame) isFrame() {}

// Tickers returns the instruments present in the frame, in first-seen order of want,
// followed by any others sorted by name.
func (w WideFrame) Tickers(want []string) []string {
	present := make(map[string]bool)
	for k := range w.Columns {
		present[k.Ticker] = true
	}
	var out []string
	for _, t := range want {
		if present[t] {
			out = append(out, t)
			delete(present, t)
		}
	}
	var rest []string
	for t := range present {
		rest = append(rest, t)
	}
	slices.Sort(rest)
	return append(out, rest...)
}

// widen aligns per-ticker quotes on the union of their dates.
func widen(byTicker map[string][]Quote) WideFrame {
	dateSet := make(map[time.Time]bool)
	for _, qs := range byTicker {
		for _, q := range qs {
			dateSet[q.Date] = true
		}
	}
	dates := make([]time.Time, 0, len(dateSet))
	for d := range dateSet {
		dates = append(dates, d)
	}
	slices.SortFunc(dates, func(a, b time.Time) int { return a.Compare(b) })
	index := make(map[time.Time]int, len(dates))
	for i, d := range dates {
		index[d] = i
	}

	w := WideFrame{Dates: dates, Columns: make(map[ColumnKey][]decimal.NullDecimal)}
	for ticker, qs := range byTicker {
		cols := map[Field][]decimal.NullDecimal{
			FieldOpen:   make([]decimal.NullDecimal, len(dates)),
			FieldHigh:   make([]decimal.NullDecimal, len(dates)),
			FieldLow:    make([]decimal.NullDecimal, len(dates)),
			FieldClose:  make([]decimal.NullDecimal, len(dates)),
			FieldVolume: make([]decimal.NullDecimal, len(dates)),
		}
		for _, q := range qs {
			i := index[q.Date]
			cols[FieldOpen][i] = q.Open
			cols[FieldHigh][i] = q.High
			cols[FieldLow][i] = q.Low
			cols[FieldClose][i] = q.Close
			cols[FieldVolume][i] = q.Volume
		}
		for f, vals := range cols {
			w.Columns[ColumnKey{Field: f, Ticker: ticker}] = vals
		}
	}
	return w
}
