// Package announce discovers new corporate announcements for the tracked
// universe, stores them, and hands each newly stored one to the dispatcher.
package announce

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Candidate is one listing row before it has been matched, parsed or fetched.
type Candidate struct {
	Key           string // instrument code as shown on the listing
	PublishedText string
	Permalink     string
}

// Source lists recent announcements and fetches their bodies.
type Source interface {
	List(ctx context.Context) ([]Candidate, error)
	Fetch(ctx context.Context, permalink string) (string, error)
}

// publishedLayouts are tried in order. Some listings drop the space before the time.
var publishedLayouts = []string{
	"02.01.06 15:04",
	"02.01.0615:04",
}

// ParsePublished parses a listing timestamp in loc.
func ParsePublished(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range publishedLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", s)
}
