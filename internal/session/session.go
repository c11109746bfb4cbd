package session

import (
	"time"

	"github.com/saltyhash/docpipe/internal/config"
	"github.com/saltyhash/docpipe/internal/topic"
)

// DocumentStatus classifies one topic's document-generation outcome.
type DocumentStatus string

const (
	// StatusSucceeded means the first attempt produced a document.
	StatusSucceeded DocumentStatus = "succeeded"
	// StatusFailed means the attempt failed and no retry was configured.
	StatusFailed DocumentStatus = "failed"
	// StatusRetriedSucceeded means the first attempt failed and the
	// configured retry produced a document.
	StatusRetriedSucceeded DocumentStatus = "retried-then-succeeded"
	// StatusRetriedFailed means both the attempt and its retry failed.
	StatusRetriedFailed DocumentStatus = "retried-then-failed"
)

// Succeeded reports whether a document was ultimately produced.
func (s DocumentStatus) Succeeded() bool {
	return s == StatusSucceeded || s == StatusRetriedSucceeded
}

// DocumentResult is the terminal outcome of one selected topic's document
// generation. Immutable once recorded.
type DocumentResult struct {
	TopicID        int            `json:"topic_id"`
	Title          string         `json:"title"`
	Status         DocumentStatus `json:"status"`
	OutputLocation string         `json:"output_location,omitempty"`
	ErrorDetail    string         `json:"error_detail,omitempty"`
	Attempts       int            `json:"attempts"`
}

// Session is the single mutable root of a pipeline run. It is owned
// exclusively by the Machine; other components see it only through
// Snapshot copies.
type Session struct {
	ID              string
	Dir             string // per-session directory (topic files live here)
	Config          config.Pipeline
	Stage           Stage
	Topics          []topic.Topic
	Selection       []int
	Results         []DocumentResult
	Error           string
	StartedAt       time.Time
	EndedAt         time.Time // zero until terminal
	CancelRequested bool
}

// Snapshot is a copy of the session state, safe to hand to other
// goroutines. Exists is false when no session has ever been started.
type Snapshot struct {
	Exists          bool
	ID              string
	Dir             string
	Config          config.Pipeline
	Stage           Stage
	Topics          []topic.Topic
	Selection       []int
	Results         []DocumentResult
	Error           string
	StartedAt       time.Time
	EndedAt         time.Time
	CancelRequested bool
}

// snapshot copies the session; slices are cloned so callers cannot reach
// back into machine-owned state.
func (s *Session) snapshot() Snapshot {
	snap := Snapshot{
		Exists:          true,
		ID:              s.ID,
		Dir:             s.Dir,
		Config:          s.Config,
		Stage:           s.Stage,
		Error:           s.Error,
		StartedAt:       s.StartedAt,
		EndedAt:         s.EndedAt,
		CancelRequested: s.CancelRequested,
	}
	snap.Topics = append([]topic.Topic(nil), s.Topics...)
	snap.Selection = append([]int(nil), s.Selection...)
	snap.Results = append([]DocumentResult(nil), s.Results...)
	return snap
}

// SelectedTopics returns the session's topics in selection order.
func (s Snapshot) SelectedTopics() []topic.Topic {
	byID := make(map[int]topic.Topic, len(s.Topics))
	for _, t := range s.Topics {
		byID[t.ID] = t
	}

	selected := make([]topic.Topic, 0, len(s.Selection))
	for _, id := range s.Selection {
		if t, ok := byID[id]; ok {
			selected = append(selected, t)
		}
	}
	return selected
}
