// Package export renders session transcripts and poll results as plain text
// and writes them to disk.
package export

import (
	"fmt"
	"strings"
	"time"

	"github.com/sjawhar/pollcast/internal/session"
)

const resultSeparator = "\n-----------------------\n"

// Transcript renders one "[15:04:05] text" block per entry, in the order
// given, with timestamps shown in loc.
func Transcript(entries []session.TranscriptEntry, loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}
	blocks := make([]string, 0, len(entries))
	for _, e := range entries {
		blocks = append(blocks, fmt.Sprintf("[%s] %s", e.Timestamp.In(loc).Format("15:04:05"), e.Text))
	}
	return strings.Join(blocks, "\n\n")
}

func PollResult(r session.PollResult) string {
	pct := r.Percentages()
	lines := []string{
		"Poll Question: " + r.Question,
		fmt.Sprintf("Total Responses: %d", r.TotalResponses),
		"",
		"Results:",
	}
	for i, option := range r.Options {
		count, share := 0, 0
		if i < len(r.Responses) {
			count, share = r.Responses[i], pct[i]
		}
		lines = append(lines, fmt.Sprintf("Option %d: \"%s\" - %d votes (%d%%)", i+1, option, count, share))
	}
	return strings.Join(lines, "\n")
}

// Results renders every result followed by a separator line.
func Results(results []session.PollResult) string {
	parts := make([]string, 0, len(results))
	for _, r := range results {
		parts = append(parts, PollResult(r)+"\n"+resultSeparator)
	}
	return strings.Join(parts, "\n")
}
