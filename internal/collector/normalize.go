package collector

import (
	"fmt"

	"github.com/phuslu/log"
	"github.com/shopspring/decimal"

	"MarketAgent/internal/model"
)

// Normalize turns any Frame into daily bars. Rows missing open, high, low or
// close are dropped; a missing volume is stored as 0. Prices are scaled by
// minorUnits and truncated toward zero.
func Normalize(f Frame, requested []string, minorUnits int64) ([]model.DailyBar, error) {
	switch fr := f.(type) {
	case nil:
		return nil, nil
	case FlatFrame:
		ticker := fr.Ticker
		if ticker == "" {
			if len(requested) != 1 {
				return nil, fmt.Errorf("%w: flat frame without ticker for %d instruments", ErrMalformedFrame, len(requested))
			}
			ticker = requested[0]
		}
		return normalizeQuotes(ticker, fr.Quotes, minorUnits), nil
	case *FlatFrame:
		return Normalize(*fr, requested, minorUnits)
	case WideFrame:
		return normalizeWide(fr, requested, minorUnits)
	case *WideFrame:
		return normalizeWide(*fr, requested, minorUnits)
	case MalformedFrame:
		return nil, fmt.Errorf("%w: %s", ErrMalformedFrame, fr.Reason)
	case *MalformedFrame:
		return nil, fmt.Errorf("%w: %s", ErrMalformedFrame, fr.Reason)
	default:
		return nil, fmt.Errorf("%w: unknown frame %T", ErrMalformedFrame, f)
	}
}

func normalizeWide(w WideFrame, requested []string, minorUnits int64) ([]model.DailyBar, error) {
	for k, col := range w.Columns {
		if len(col) != len(w.Dates) {
			return nil, fmt.Errorf("%w: column %s/%s has %d values for %d dates",
				ErrMalformedFrame, k.Field, k.Ticker, len(col), len(w.Dates))
		}
	}
	var bars []model.DailyBar
	for _, ticker := range w.Tickers(requested) {
		col := func(f Field) []decimal.NullDecimal { return w.Columns[ColumnKey{Field: f, Ticker: ticker}] }
		open, high, low, cl, vol := col(FieldOpen), col(FieldHigh), col(FieldLow), col(FieldClose), col(FieldVolume)
		if open == nil || high == nil || low == nil || cl == nil {
			log.Warn().Str("ticker", ticker).Msg("wide frame lacks price columns, skipping instrument")
			continue
		}
		quotes := make([]Quote, len(w.Dates))
		for i, d := range w.Dates {
			quotes[i] = Quote{Date: d, Open: open[i], High: high[i], Low: low[i], Close: cl[i]}
			if vol != nil {
				quotes[i].Volume = vol[i]
			}
		}
		bars = append(bars, normalizeQuotes(ticker, quotes, minorUnits)...)
	}
	return bars, nil
}

func normalizeQuotes(ticker string, quotes []Quote, minorUnits int64) []model.DailyBar {
	bars := make([]model.DailyBar, 0, len(quotes))
	dropped := 0
	for _, q := range quotes {
		if !q.Open.Valid || !q.High.Valid || !q.Low.Valid || !q.Close.Valid {
			dropped++
			continue
		}
		var volume int64
		if q.Volume.Valid {
			volume = q.Volume.Decimal.IntPart()
		}
		bars = append(bars, model.DailyBar{
			Ticker:    ticker,
			TradeDate: model.DateOf(q.Date),
			Open:      ToMinorUnits(q.Open.Decimal, minorUnits),
			High:      ToMinorUnits(q.High.Decimal, minorUnits),
			Low:       ToMinorUnits(q.Low.Decimal, minorUnits),
			Close:     ToMinorUnits(q.Close.Decimal, minorUnits),
			Volume:    volume,
		})
	}
	if dropped > 0 {
		log.Warn().Str("ticker", ticker).Int("dropped", dropped).Msg("dropped rows with missing prices")
	}
	return bars
}

// ToMinorUnits scales a provider price and truncates toward zero.
func ToMinorUnits(price decimal.Decimal, minorUnits int64) int64 {
	if minorUnits <= 0 {
		minorUnits = 1
	}
	return price.Mul(decimal.NewFromInt(minorUnits)).Truncate(0).IntPart()
}
