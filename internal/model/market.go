package model

import "time"

// DailyBar is one end-of-day OHLCV row. Prices are integer minor currency units.
type DailyBar struct {
	Ticker    string
	TradeDate time.Time // civil date, see DateOf
	Open      int64
	High      int64
	Low       int64
	Close     int64
	Volume    int64
}

// IngestionLogEntry is one append-only audit row written after a bulk price save.
type IngestionLogEntry struct {
	At           time.Time
	RecordsSaved int64
}

// DateOf truncates t to its calendar day in t's own location and returns it as 00:00 UTC.
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DaysBetween returns the whole number of calendar days from a to b.
func DaysBetween(a, b time.Time) int {
	return int(DateOf(b).Sub(DateOf(a)).Hours() / 24)
}
