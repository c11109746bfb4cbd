// Package event defines the events the orchestration core publishes to
// observers, and the Broadcaster that fans them out. Event payloads are
// JSON-marshalable so the API layer can forward them to clients verbatim.
package event

import (
	"time"

	"github.com/saltyhash/docpipe/internal/topic"
)

// Event is the interface that all events implement.
type Event interface {
	// EventType returns a string identifier for this event type, e.g.
	// "stage_changed" or "progress".
	EventType() string

	// Timestamp returns when the event occurred.
	Timestamp() time.Time
}

// baseEvent provides common fields for all events.
// Embed this in concrete event types to satisfy the Event interface.
type baseEvent struct {
	kind string
	At   time.Time `json:"timestamp"`
}

func (e baseEvent) EventType() string    { return e.kind }
func (e baseEvent) Timestamp() time.Time { return e.At }

// newBaseEvent creates a baseEvent with the current time.
func newBaseEvent(kind string) baseEvent {
	return baseEvent{kind: kind, At: time.Now()}
}

// StageChangedEvent is emitted whenever the session transitions to a new
// stage.
type StageChangedEvent struct {
	baseEvent
	Stage string `json:"stage"`
}

// NewStageChangedEvent creates a StageChangedEvent.
func NewStageChangedEvent(stage string) StageChangedEvent {
	return StageChangedEvent{
		baseEvent: newBaseEvent("stage_changed"),
		Stage:     stage,
	}
}

// ProgressEvent carries one progress observation from a running stage.
// Percent is monotonic non-decreasing within a stage.
type ProgressEvent struct {
	baseEvent
	Stage   string `json:"stage"`
	Percent int    `json:"percent"`
	Message string `json:"message"`
}

// NewProgressEvent creates a ProgressEvent.
func NewProgressEvent(stage string, percent int, message string) ProgressEvent {
	return ProgressEvent{
		baseEvent: newBaseEvent("progress"),
		Stage:     stage,
		Percent:   percent,
		Message:   message,
	}
}

// TopicsReadyEvent is emitted when the idea stage has produced its topic
// list and the session is awaiting selection.
type TopicsReadyEvent struct {
	baseEvent
	Topics []topic.Topic `json:"topics"`
}

// NewTopicsReadyEvent creates a TopicsReadyEvent.
func NewTopicsReadyEvent(topics []topic.Topic) TopicsReadyEvent {
	return TopicsReadyEvent{
		baseEvent: newBaseEvent("topics_ready"),
		Topics:    topics,
	}
}

// DocumentOutcome is the payload of one per-topic document result. It is
// shared between the live DocumentResultEvent and the snapshot.
type DocumentOutcome struct {
	TopicID        int    `json:"topic_id"`
	Title          string `json:"title"`
	Status         string `json:"status"`
	OutputLocation string `json:"output_location,omitempty"`
	ErrorDetail    string `json:"error_detail,omitempty"`
	Attempts       int    `json:"attempts"`
}

// DocumentResultEvent is emitted as each selected topic's document
// generation concludes, in selection order.
type DocumentResultEvent struct {
	baseEvent
	DocumentOutcome
}

// NewDocumentResultEvent creates a DocumentResultEvent.
func NewDocumentResultEvent(outcome DocumentOutcome) DocumentResultEvent {
	return DocumentResultEvent{
		baseEvent:       newBaseEvent("document_result"),
		DocumentOutcome: outcome,
	}
}

// Summary aggregates the document stage's results.
type Summary struct {
	Total     int    `json:"total"`
	Succeeded int    `json:"succeeded"`
	Failed    int    `json:"failed"`
	Duration  string `json:"duration"`
}

// PipelineFinishedEvent is emitted once when the pipeline reaches a
// terminal stage.
type PipelineFinishedEvent struct {
	baseEvent
	Stage   string  `json:"stage"`
	Summary Summary `json:"summary"`
}

// NewPipelineFinishedEvent creates a PipelineFinishedEvent.
func NewPipelineFinishedEvent(stage string, summary Summary) PipelineFinishedEvent {
	return PipelineFinishedEvent{
		baseEvent: newBaseEvent("pipeline_finished"),
		Stage:     stage,
		Summary:   summary,
	}
}

// ErrorEvent reports a stage failure to observers.
type ErrorEvent struct {
	baseEvent
	Stage  string `json:"stage"`
	Detail string `json:"detail"`
}

// NewErrorEvent creates an ErrorEvent.
func NewErrorEvent(stage, detail string) ErrorEvent {
	return ErrorEvent{
		baseEvent: newBaseEvent("error"),
		Stage:     stage,
		Detail:    detail,
	}
}

// StageProgress is the latest progress observation for one stage, carried
// in the snapshot.
type StageProgress struct {
	Percent int    `json:"percent"`
	Message string `json:"message"`
}

// SnapshotEvent describes the full current session state. It is delivered
// to every new subscriber before any live event, so a client joining
// mid-pipeline is never blind.
type SnapshotEvent struct {
	baseEvent
	SessionID string                   `json:"session_id,omitempty"`
	Stage     string                   `json:"stage"`
	Progress  map[string]StageProgress `json:"progress,omitempty"`
	Topics    []topic.Topic            `json:"topics,omitempty"`
	Results   []DocumentOutcome        `json:"results,omitempty"`
	Error     string                   `json:"error,omitempty"`
}

// NewSnapshotEvent creates a SnapshotEvent.
func NewSnapshotEvent(sessionID, stage string, prog map[string]StageProgress, topics []topic.Topic, results []DocumentOutcome, errDetail string) SnapshotEvent {
	return SnapshotEvent{
		baseEvent: newBaseEvent("snapshot"),
		SessionID: sessionID,
		Stage:     stage,
		Progress:  prog,
		Topics:    topics,
		Results:   results,
		Error:     errDetail,
	}
}
