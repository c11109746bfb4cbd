package session

import (
	"fmt"
	"time"

	"github.com/saltyhash/docpipe/internal/config"
	"github.com/saltyhash/docpipe/internal/errors"
	"github.com/saltyhash/docpipe/internal/topic"

	"sync"
)

// Machine is the session state machine: the sole mutator of the Session.
// At most one session exists at a time; a start request while the current
// session is non-terminal is a conflict.
//
// Executor-driven transitions (IdeaSucceeded, AppendResult, ...) carry the
// session ID they were produced for. An event that arrives after its
// session was cancelled or replaced is rejected with ErrSessionReplaced and
// must be discarded by the caller, never applied to the newer session.
type Machine struct {
	mu   sync.Mutex
	sess *Session
}

// NewMachine creates a Machine with no session (stage idle).
func NewMachine() *Machine {
	return &Machine{}
}

// Start creates a fresh session in running_ideas. It is rejected with a
// conflict unless the current session is absent or terminal.
func (m *Machine) Start(id, dir string, cfg config.Pipeline) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sess != nil && !m.sess.Stage.IsTerminal() {
		return errors.NewConflictError("start", m.sess.Stage.String())
	}

	m.sess = &Session{
		ID:        id,
		Dir:       dir,
		Config:    cfg,
		Stage:     StageRunningIdeas,
		StartedAt: time.Now(),
	}
	return nil
}

// IdeaSucceeded stores the topic list and moves to awaiting_selection.
func (m *Machine) IdeaSucceeded(id string, topics []topic.Topic) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.current(id); err != nil {
		return err
	}
	if m.sess.Stage != StageRunningIdeas {
		return errors.NewConflictError("complete idea stage", m.sess.Stage.String())
	}

	m.sess.Topics = append([]topic.Topic(nil), topics...)
	m.sess.Stage = StageAwaitingSelection
	return nil
}

// IdeaFailed terminates the session with a stage-level idea failure.
func (m *Machine) IdeaFailed(id, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.current(id); err != nil {
		return err
	}
	if m.sess.Stage != StageRunningIdeas {
		return errors.NewConflictError("fail idea stage", m.sess.Stage.String())
	}

	m.fail(reason)
	return nil
}

// SelectAndGenerate validates the selection against the known topics and
// moves to running_docs. The selection must be a non-empty subset of known
// topic IDs; duplicates are collapsed, first occurrence wins. On a
// validation error the state is unchanged.
func (m *Machine) SelectAndGenerate(ids []int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sess == nil {
		return errors.ErrNoSession
	}
	if m.sess.Stage != StageAwaitingSelection {
		return errors.NewConflictError("select topics", m.sess.Stage.String())
	}
	if len(ids) == 0 {
		return errors.ErrEmptySelection
	}

	known := make(map[int]bool, len(m.sess.Topics))
	for _, t := range m.sess.Topics {
		known[t.ID] = true
	}

	selection := make([]int, 0, len(ids))
	seen := make(map[int]bool, len(ids))
	for _, id := range ids {
		if !known[id] {
			return fmt.Errorf("topic %d: %w", id, errors.ErrUnknownTopic)
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		selection = append(selection, id)
	}

	m.sess.Selection = selection
	m.sess.Stage = StageRunningDocs
	return nil
}

// AppendResult records one topic's terminal document outcome. The stage
// stays running_docs.
func (m *Machine) AppendResult(id string, res DocumentResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.current(id); err != nil {
		return err
	}
	if m.sess.Stage != StageRunningDocs {
		return errors.NewConflictError("record document result", m.sess.Stage.String())
	}

	m.sess.Results = append(m.sess.Results, res)
	return nil
}

// DocsFinished moves the session to completed. Reached even when
// individual documents failed; overall failure is per-document.
func (m *Machine) DocsFinished(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.current(id); err != nil {
		return err
	}
	if m.sess.Stage != StageRunningDocs {
		return errors.NewConflictError("finish document stage", m.sess.Stage.String())
	}

	m.sess.Stage = StageCompleted
	m.sess.EndedAt = time.Now()
	return nil
}

// DocsFailed terminates the session with a stage-level document failure:
// a timeout, a fail-fast abort, or a launch error. An individual
// document's non-zero exit is not stage-level.
func (m *Machine) DocsFailed(id, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.current(id); err != nil {
		return err
	}
	if m.sess.Stage != StageRunningDocs {
		return errors.NewConflictError("fail document stage", m.sess.Stage.String())
	}

	m.fail(reason)
	return nil
}

// Cancel moves any non-terminal session to cancelled and marks it so the
// active executor can observe the request. Rejected when there is no
// session or it is already terminal.
func (m *Machine) Cancel() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sess == nil {
		return errors.ErrNoSession
	}
	if m.sess.Stage.IsTerminal() {
		return errors.NewConflictError("cancel", m.sess.Stage.String())
	}

	m.sess.CancelRequested = true
	m.sess.Stage = StageCancelled
	m.sess.EndedAt = time.Now()
	return nil
}

// Stage returns the current stage, StageIdle when no session exists.
func (m *Machine) Stage() Stage {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sess == nil {
		return StageIdle
	}
	return m.sess.Stage
}

// Snapshot returns a copy of the current session state.
func (m *Machine) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sess == nil {
		return Snapshot{Stage: StageIdle}
	}
	return m.sess.snapshot()
}

// current verifies that an executor event belongs to the live session.
// Callers hold m.mu.
func (m *Machine) current(id string) error {
	if m.sess == nil || m.sess.ID != id {
		return errors.ErrSessionReplaced
	}
	if m.sess.Stage == StageCancelled {
		// The session was cancelled out from under the executor; its
		// remaining events are discarded.
		return errors.ErrSessionReplaced
	}
	return nil
}

// fail marks the session failed. Callers hold m.mu.
func (m *Machine) fail(reason string) {
	m.sess.Stage = StageFailed
	m.sess.Error = reason
	m.sess.EndedAt = time.Now()
}
