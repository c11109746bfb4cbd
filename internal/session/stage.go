// Package session holds the single pipeline session and the state machine
// that is its sole mutator. Every transition is validated against the
// current stage under one mutex, so concurrent control commands serialize
// and a command whose preconditions are not met gets a conflict error
// instead of blocking.
package session

// Stage represents the session's position in the pipeline lifecycle.
//
// The lifecycle progresses:
//
//	idle → running_ideas → awaiting_selection → running_docs →
//	completed | failed | cancelled
//
// with cancellation reachable from any non-terminal stage.
type Stage string

const (
	// StageIdle means no session has been started yet.
	StageIdle Stage = "idle"

	// StageRunningIdeas means the idea-generation tool is executing.
	StageRunningIdeas Stage = "running_ideas"

	// StageAwaitingSelection means topics are ready and the pipeline is
	// paused for the human to choose a subset.
	StageAwaitingSelection Stage = "awaiting_selection"

	// StageRunningDocs means documents are being generated for the
	// selected topics.
	StageRunningDocs Stage = "running_docs"

	// StageCompleted means the document stage finished. Individual
	// documents may still have failed; overall failure is per-document.
	StageCompleted Stage = "completed"

	// StageFailed means a stage-level error terminated the pipeline.
	StageFailed Stage = "failed"

	// StageCancelled means a cancel request terminated the pipeline.
	StageCancelled Stage = "cancelled"
)

// String returns the string representation of the stage.
func (s Stage) String() string {
	return string(s)
}

// IsTerminal returns true if this stage represents a final state. A session
// in a terminal stage is eligible for replacement by a new start.
func (s Stage) IsTerminal() bool {
	return s == StageCompleted || s == StageFailed || s == StageCancelled
}

// IsRunning returns true while a generator subprocess may be active.
func (s Stage) IsRunning() bool {
	return s == StageRunningIdeas || s == StageRunningDocs
}
