// Package controller exposes the pipeline's control surface: start a
// session, select topics, cancel, observe. It owns the session machine,
// the progress tracker, the event broadcaster and the stage executor, and
// is the only place that launches stage goroutines.
package controller

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/saltyhash/docpipe/internal/config"
	"github.com/saltyhash/docpipe/internal/errors"
	"github.com/saltyhash/docpipe/internal/event"
	"github.com/saltyhash/docpipe/internal/logging"
	"github.com/saltyhash/docpipe/internal/progress"
	"github.com/saltyhash/docpipe/internal/session"
	"github.com/saltyhash/docpipe/internal/stage"
)

// Controller coordinates the session lifecycle. All methods are safe for
// concurrent use; conflicting commands get errors, they never block.
type Controller struct {
	machine *session.Machine
	tracker *progress.Tracker
	bus     *event.Broadcaster
	exec    *stage.Executor

	sessionsDir string
	logger      *logging.Logger

	// mu guards the active session's subprocess context. The machine
	// decides which commands are admitted; mu only makes the context
	// handoff between Start, SelectAndGenerate and Cancel safe.
	mu            sync.Mutex
	cancelSession context.CancelFunc
	sessionCtx    context.Context
}

// New creates a Controller from the server configuration.
func New(cfg *config.Server, logger *logging.Logger) *Controller {
	c := &Controller{
		machine:     session.NewMachine(),
		tracker:     progress.NewTracker(),
		sessionsDir: cfg.ResolveSessionsDir(),
		logger:      logger,
	}
	c.bus = event.NewBroadcaster(c.snapshotEvent)
	c.exec = stage.NewExecutor(c.machine, c.tracker, c.bus, cfg, logger)
	return c
}

// Start validates the pipeline configuration, creates a new session and
// launches the idea stage in the background. It returns the new session
// ID. A start while a session is active is a conflict; an invalid
// configuration is rejected synchronously without touching session state.
func (c *Controller) Start(cfg config.Pipeline) (string, error) {
	if errs := cfg.Validate(); len(errs) > 0 {
		joined := make([]error, len(errs))
		for i, ve := range errs {
			joined[i] = errors.NewValidationError(ve.Field, ve.Message)
		}
		return "", errors.Join(joined...)
	}

	id := newSessionID()
	dir := filepath.Join(c.sessionsDir, id)
	if err := os.MkdirAll(filepath.Join(dir, "topics"), 0o755); err != nil {
		return "", fmt.Errorf("failed to create session directory: %w", err)
	}

	if err := c.machine.Start(id, dir, cfg); err != nil {
		return "", err
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	c.sessionCtx, c.cancelSession = ctx, cancel
	c.mu.Unlock()

	c.logger.WithSession(id).Info("session started", "pipeline", cfg.Name, "mode", cfg.Mode)
	c.bus.Publish(event.NewStageChangedEvent(session.StageRunningIdeas.String()))
	go c.exec.RunIdeaStage(ctx, c.machine.Snapshot())
	return id, nil
}

// SelectAndGenerate accepts the human's topic selection and launches the
// document stage in the background.
func (c *Controller) SelectAndGenerate(ids []int) error {
	if err := c.machine.SelectAndGenerate(ids); err != nil {
		return err
	}

	c.mu.Lock()
	ctx := c.sessionCtx
	c.mu.Unlock()

	snap := c.machine.Snapshot()
	c.logger.WithSession(snap.ID).Info("topics selected", "count", len(snap.Selection))
	c.bus.Publish(event.NewStageChangedEvent(session.StageRunningDocs.String()))
	go c.exec.RunDocStage(ctx, snap)
	return nil
}

// Cancel terminates the active session. The subprocess context is torn
// down after the machine accepts the cancel, so a racing stage completion
// either lands first or is discarded as stale.
func (c *Controller) Cancel() error {
	if err := c.machine.Cancel(); err != nil {
		return err
	}
	c.mu.Lock()
	if c.cancelSession != nil {
		c.cancelSession()
	}
	c.mu.Unlock()

	snap := c.machine.Snapshot()
	c.logger.WithSession(snap.ID).Info("session cancelled")
	c.bus.Publish(event.NewStageChangedEvent(session.StageCancelled.String()))
	c.bus.Publish(event.NewPipelineFinishedEvent(session.StageCancelled.String(), resultSummary(snap)))
	return nil
}

// Snapshot returns a copy of the current session state.
func (c *Controller) Snapshot() session.Snapshot {
	return c.machine.Snapshot()
}

// Subscribe attaches a new event observer. The first event delivered is
// always a snapshot of the current state.
func (c *Controller) Subscribe() *event.Subscriber {
	return c.bus.Subscribe()
}

// Unsubscribe detaches an observer.
func (c *Controller) Unsubscribe(s *event.Subscriber) {
	c.bus.Unsubscribe(s)
}

// Close cancels any active session's subprocesses and shuts the
// broadcaster down.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.cancelSession != nil {
		c.cancelSession()
	}
	c.mu.Unlock()
	c.bus.Close()
}

// snapshotEvent builds the snapshot delivered to new subscribers. Called
// by the broadcaster under its own lock.
func (c *Controller) snapshotEvent() event.Event {
	snap := c.machine.Snapshot()

	var prog map[string]event.StageProgress
	if snap.Exists {
		prog = map[string]event.StageProgress{
			stage.IdeaStage: {Percent: c.tracker.Percent(stage.IdeaStage)},
			stage.DocStage:  {Percent: c.tracker.Percent(stage.DocStage)},
		}
	}

	results := make([]event.DocumentOutcome, len(snap.Results))
	for i, res := range snap.Results {
		results[i] = event.DocumentOutcome{
			TopicID:        res.TopicID,
			Title:          res.Title,
			Status:         string(res.Status),
			OutputLocation: res.OutputLocation,
			ErrorDetail:    res.ErrorDetail,
			Attempts:       res.Attempts,
		}
	}

	return event.NewSnapshotEvent(snap.ID, snap.Stage.String(), prog, snap.Topics, results, snap.Error)
}

// resultSummary aggregates whatever results exist when a session ends.
func resultSummary(snap session.Snapshot) event.Summary {
	succeeded := 0
	for _, res := range snap.Results {
		if res.Status.Succeeded() {
			succeeded++
		}
	}
	duration := ""
	if !snap.StartedAt.IsZero() {
		end := snap.EndedAt
		if end.IsZero() {
			end = time.Now()
		}
		duration = end.Sub(snap.StartedAt).Round(time.Millisecond).String()
	}
	return event.Summary{
		Total:     len(snap.Results),
		Succeeded: succeeded,
		Failed:    len(snap.Results) - succeeded,
		Duration:  duration,
	}
}

// newSessionID builds a sortable, collision-free session identifier.
func newSessionID() string {
	return fmt.Sprintf("%s-%s", time.Now().Format("20060102-150405"), uuid.NewString()[:8])
}
