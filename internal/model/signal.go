package model

import (
	"fmt"
	"time"
)

// EventKind says what produced an event.
type EventKind string

const (
	EventAnnouncement EventKind = "announcement"
	EventPriceLevel   EventKind = "price_level"
)

// Announcement is a published corporate announcement. Unique on (Ticker, PublishedAt).
type Announcement struct {
	Ticker       string
	PublishedAt  time.Time
	Content      string
	Permalink    string
	DiscoveredAt time.Time
}

// TriggerRecord marks that Level was hit for Ticker on Day. At most one per key.
type TriggerRecord struct {
	Ticker string
	Level  int64
	Day    time.Time
	Price  int64
	HitAt  time.Time
}

// Crossing is a level passed between two consecutive closes.
type Crossing struct {
	Ticker    string
	Level     int64
	NewPrice  int64
	PrevPrice int64
	Up        bool
}

// Event is handed to the dispatcher after its record has been committed.
type Event struct {
	ID        string
	Kind      EventKind
	Ticker    string
	Content   string
	Level     int64
	NewPrice  int64
	PrevPrice int64
	Day       time.Time
}

// AnalysisRecord is the persisted result of one analyzer call.
type AnalysisRecord struct {
	EventID   string
	Ticker    string
	Kind      EventKind
	Trigger   string
	Analysis  string
	CreatedAt time.Time
}

// Trigger describes what raised the event, in one line.
func (e Event) Trigger() string {
	switch e.Kind {
	case EventPriceLevel:
		dir := "down through"
		if e.NewPrice >= e.Level && e.PrevPrice < e.Level {
			dir = "up through"
		}
		return fmt.Sprintf("%s closed %s %d (previous close %d, close %d on %s)",
			e.Ticker, dir, e.Level, e.PrevPrice, e.NewPrice, e.Day.Format("2006-01-02"))
	case EventAnnouncement:
		return fmt.Sprintf("%s published an announcement on %s", e.Ticker, e.Day.Format("2006-01-02"))
	default:
		return fmt.Sprintf("%s %s", e.Ticker, e.Kind)
	}
}
