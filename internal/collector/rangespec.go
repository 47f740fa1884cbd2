package collector

import (
	"fmt"
	"time"

	"MarketAgent/internal/model"
)

// RangeKind selects how much history a download asks for.
type RangeKind int

const (
	RangeFull RangeKind = iota
	RangeBackfill
	RangeRolling
)

func (k RangeKind) String() string {
	switch k {
	case RangeFull:
		return "full"
	case RangeBackfill:
		return "backfill"
	case RangeRolling:
		return "rolling"
	default:
		return fmt.Sprintf("range(%d)", int(k))
	}
}

// RangeSpec is either a named period (RangeFull) or an inclusive [Start, End] date range.
type RangeSpec struct {
	Kind   RangeKind
	Period string
	Start  time.Time
	End    time.Time
}

func (r RangeSpec) String() string {
	if r.Kind == RangeFull {
		return fmt.Sprintf("%s(%s)", r.Kind, r.Period)
	}
	return fmt.Sprintf("%s(%s..%s)", r.Kind, r.Start.Format("2006-01-02"), r.End.Format("2006-01-02"))
}

// RangePolicy holds the thresholds SelectRange works from.
type RangePolicy struct {
	FullHistory       string
	BackfillAfterDays int
	RollingDays       int
}

// SelectRange picks the download range from the latest stored trade date.
// ok is false when nothing is stored yet.
func SelectRange(latest time.Time, ok bool, today time.Time, p RangePolicy) RangeSpec {
	today = model.DateOf(today)
	if !ok {
		return RangeSpec{Kind: RangeFull, Period: p.FullHistory}
	}
	latest = model.DateOf(latest)
	if model.DaysBetween(latest, today) > p.BackfillAfterDays {
		return RangeSpec{Kind: RangeBackfill, Start: latest.AddDate(0, 0, 1), End: today}
	}
	return RangeSpec{Kind: RangeRolling, Start: today.AddDate(0, 0, -p.RollingDays), End: today}
}
