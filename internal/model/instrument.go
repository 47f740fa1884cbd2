package model

// WatchedLevel is a user-defined price level (minor units) on an instrument.
type WatchedLevel struct {
	Ticker string
	Price  int64
}

// Instrument is a tracked security. Maintained outside this process.
type Instrument struct {
	Ticker string
	Levels []WatchedLevel
}

// Tickers returns the tickers of the universe in order.
func Tickers(universe []Instrument) []string {
	out := make([]string, 0, len(universe))
	for _, in := range universe {
		out = append(out, in.Ticker)
	}
	return out
}
