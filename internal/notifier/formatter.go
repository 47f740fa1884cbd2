package notifier

import (
	"fmt"
	"html"
	"strings"
	"time"

	"MarketAgent/internal/model"
)

// FormatAnalysis formats an analysis result into a Telegram HTML message.
func FormatAnalysis(rec model.AnalysisRecord) string {
	var b strings.Builder

	icon := "📰"
	title := "Announcement"
	if rec.Kind == model.EventPriceLevel {
		icon = "📈"
		title = "Price level"
	}
	b.WriteString(fmt.Sprintf("%s <b>%s</b> | %s\n", icon, html.EscapeString(rec.Ticker), title))
	b.WriteString(fmt.Sprintf("<i>%s</i>\n\n", html.EscapeString(rec.Trigger)))
	b.WriteString(html.EscapeString(strings.TrimSpace(rec.Analysis)))
	b.WriteString(fmt.Sprintf("\n\n%s", rec.CreatedAt.Format("2006-01-02 15:04")))
	return b.String()
}

// FormatStaleness formats the freshness watchdog notice.
func FormatStaleness(last model.IngestionLogEntry, age, limit time.Duration) string {
	var b strings.Builder
	b.WriteString("⚠️ <b>Price data is stale</b>\n\n")
	if last.At.IsZero() {
		b.WriteString("No price ingestion has been recorded yet.\n")
	} else {
		b.WriteString(fmt.Sprintf("Last save: %s (%d records)\n", last.At.Format("2006-01-02 15:04"), last.RecordsSaved))
		b.WriteString(fmt.Sprintf("Age: %s, limit %s\n", age.Round(time.Minute), limit))
	}
	return b.String()
}

// Split breaks text into chunks of at most limit bytes, preferring line breaks.
// A single line longer than limit is cut at rune boundaries.
func Split(text string, limit int) []string {
	if len(text) <= limit {
		return []string{text}
	}
	var parts []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			parts = append(parts, cur.String())
			cur.Reset()
		}
	}
	for _, line := range strings.SplitAfter(text, "\n") {
		for len(line) > limit {
			flush()
			cut := limit
			for cut > 0 && !utf8Start(line[cut]) {
				cut--
			}
			parts = append(parts, line[:cut])
			line = line[cut:]
		}
		if cur.Len()+len(line) > limit {
			flush()
		}
		cur.WriteString(line)
	}
	flush()
	return parts
}

func utf8Start(b byte) bool { return b&0xC0 != 0x80 }
