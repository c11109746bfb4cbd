// Package progress converts the line-oriented output of the generator tools
// into structured progress events. The generators' output is an external
// wire format we do not control, so parsing is tolerant: any line that does
// not carry a recognizable percentage degrades to a message-only event, and
// percentages observed out of order are floored by a Tracker so the
// client-visible percent never regresses within a stage.
package progress

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Event is one structured progress observation from a generator.
type Event struct {
	Stage      string    `json:"stage"`
	Percent    int       `json:"percent"`
	HasPercent bool      `json:"-"`
	Message    string    `json:"message"`
	Timestamp  time.Time `json:"timestamp"`
}

// percentPattern matches a percentage anywhere in a line, e.g. "10% parsing"
// or "progress: 75 %". Only the first match is used.
var percentPattern = regexp.MustCompile(`(\d{1,3})\s*%`)

// Parse converts one output line into an Event. Lines with a recognizable
// percentage produce a percent-bearing event; everything else produces a
// message-only event. Parse never fails: unrecognized formats are still
// worth forwarding as messages.
func Parse(stage, line string) Event {
	ev := Event{
		Stage:     stage,
		Message:   strings.TrimSpace(line),
		Timestamp: time.Now(),
	}

	m := percentPattern.FindStringSubmatch(line)
	if m == nil {
		return ev
	}

	pct, err := strconv.Atoi(m[1])
	if err != nil {
		// Malformed percent: forward the message without one.
		return ev
	}

	ev.Percent = clamp(pct)
	ev.HasPercent = true
	return ev
}

// clamp bounds a percentage to [0, 100].
func clamp(pct int) int {
	if pct < 0 {
		return 0
	}
	if pct > 100 {
		return 100
	}
	return pct
}
