package progress

import "sync"

// Tracker enforces per-stage percent monotonicity at the point of emission.
// A late or lower value is reported at the last-seen percent instead of
// regressing; message-only events are stamped with the current percent so
// observers always see a complete (percent, message) pair.
// Tracker is safe for concurrent use.
type Tracker struct {
	mu   sync.Mutex
	last map[string]int
}

// NewTracker creates an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{last: make(map[string]int)}
}

// Observe folds an event into the tracker and returns the event as it
// should be emitted: percent floored at the stage's high-water mark.
func (t *Tracker) Observe(ev Event) Event {
	t.mu.Lock()
	defer t.mu.Unlock()

	high := t.last[ev.Stage]
	if ev.HasPercent && ev.Percent > high {
		high = ev.Percent
		t.last[ev.Stage] = high
	}

	ev.Percent = high
	ev.HasPercent = true
	return ev
}

// Percent returns the current high-water mark for a stage.
func (t *Tracker) Percent(stage string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.last[stage]
}

// Reset clears a stage's high-water mark. Called when a new session starts
// so the new run begins at zero.
func (t *Tracker) Reset(stage string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.last, stage)
}
