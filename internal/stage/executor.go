// Package stage runs the two pipeline stages against the external
// generator tools. The Executor owns no session state of its own: it
// reports everything through the session Machine and the event
// Broadcaster, and it discards its own work when the Machine tells it the
// session was cancelled or replaced underneath it.
package stage

import (
	"context"
	"fmt"
	"path/filepath"
	"slices"
	"time"

	"github.com/saltyhash/docpipe/internal/artifact"
	"github.com/saltyhash/docpipe/internal/config"
	"github.com/saltyhash/docpipe/internal/errors"
	"github.com/saltyhash/docpipe/internal/event"
	"github.com/saltyhash/docpipe/internal/logging"
	"github.com/saltyhash/docpipe/internal/progress"
	"github.com/saltyhash/docpipe/internal/runner"
	"github.com/saltyhash/docpipe/internal/session"
	"github.com/saltyhash/docpipe/internal/topic"
)

// Progress-stage names, used as tracker keys and in progress events.
const (
	IdeaStage = "ideas"
	DocStage  = "docs"
)

// Executor drives the generator subprocesses for a session. A single
// Executor serves all sessions; per-session state travels in the
// arguments.
type Executor struct {
	machine *session.Machine
	tracker *progress.Tracker
	bus     *event.Broadcaster

	ideaTool config.Tool
	docTool  config.Tool
	grace    time.Duration

	logger *logging.Logger
}

// NewExecutor creates an Executor wired to the shared machine, tracker and
// broadcaster and the configured generator tools.
func NewExecutor(m *session.Machine, tr *progress.Tracker, bus *event.Broadcaster, cfg *config.Server, logger *logging.Logger) *Executor {
	return &Executor{
		machine:  m,
		tracker:  tr,
		bus:      bus,
		ideaTool: cfg.IdeaTool,
		docTool:  cfg.DocTool,
		grace:    cfg.Grace(),
		logger:   logger,
	}
}

// RunIdeaStage executes the idea-generation tool for the session described
// by snap, collects the topic files it produced into the session
// directory, and moves the session to awaiting_selection. Any stage-level
// failure moves the session to failed. Meant to run on its own goroutine;
// it never returns an error, only reports through the machine and the bus.
func (e *Executor) RunIdeaStage(ctx context.Context, snap session.Snapshot) {
	log := e.logger.WithSession(snap.ID).WithStage(IdeaStage)
	cfg := snap.Config

	// Both stages reset here so a replacement session's snapshots do not
	// show the previous run's document progress.
	e.tracker.Reset(IdeaStage)
	e.tracker.Reset(DocStage)
	e.publishProgress(progress.Event{Stage: IdeaStage, Percent: 0, HasPercent: true, Message: "Starting idea generation"})

	spec := runner.Spec{
		Command: e.ideaTool.Command,
		Args:    ideaArgs(e.ideaTool, cfg),
		Dir:     e.ideaTool.Dir,
		Timeout: cfg.Stage1Timeout(),
		Grace:   e.grace,
	}

	proc, err := runner.Start(ctx, spec, log)
	if err != nil {
		e.failIdea(snap.ID, log, fmt.Sprintf("failed to launch idea generator: %v", err))
		return
	}

	e.publishProgress(progress.Event{Stage: IdeaStage, Percent: 25, HasPercent: true, Message: "Idea generator running"})

	for line := range proc.Lines() {
		e.publishProgress(progress.Parse(IdeaStage, line))
	}
	res := proc.Wait()

	switch res.Status {
	case runner.StatusCancelled:
		log.Info("idea stage cancelled")
		return
	case runner.StatusTimedOut:
		e.failIdea(snap.ID, log, errors.NewTimeoutError(IdeaStage, cfg.Stage1Timeout()).Error())
		return
	case runner.StatusFailed:
		e.failIdea(snap.ID, log, errors.NewExecutionError(IdeaStage, res.ExitCode, res.Stderr, res.Err).Error())
		return
	}

	e.publishProgress(progress.Event{Stage: IdeaStage, Percent: 75, HasPercent: true, Message: "Collecting topic files"})

	topics, err := topic.Collect(e.ideaTool.Dir, filepath.Join(snap.Dir, "topics"))
	if err != nil {
		e.failIdea(snap.ID, log, fmt.Sprintf("idea generator produced no readable topics: %v", err))
		return
	}

	if err := e.machine.IdeaSucceeded(snap.ID, topics); err != nil {
		log.Info("discarding idea result", "error", err)
		return
	}

	log.Info("idea stage finished", "topics", len(topics))
	e.publishProgress(progress.Event{Stage: IdeaStage, Percent: 100, HasPercent: true, Message: "Topics ready for selection"})
	e.bus.Publish(event.NewTopicsReadyEvent(topics))
	e.bus.Publish(event.NewStageChangedEvent(session.StageAwaitingSelection.String()))
}

// RunDocStage generates one document per selected topic, sequentially in
// selection order. Individual failures become per-topic results; a
// timeout, a launch error or a fail-fast abort ends the stage and fails
// the session. Meant to run on its own goroutine.
func (e *Executor) RunDocStage(ctx context.Context, snap session.Snapshot) {
	log := e.logger.WithSession(snap.ID).WithStage(DocStage)
	cfg := snap.Config
	selected := snap.SelectedTopics()
	total := len(selected)
	started := time.Now()

	e.tracker.Reset(DocStage)
	e.publishProgress(progress.Event{Stage: DocStage, Percent: 0, HasPercent: true, Message: fmt.Sprintf("Starting document generation for %d topics", total)})

	watcher, err := artifact.Watch(cfg.Doc.Output, artifact.DefaultPatterns)
	if err != nil {
		e.failDocs(snap.ID, log, started, total, 0, fmt.Sprintf("cannot watch output location: %v", err))
		return
	}
	defer watcher.Close()
	attributed := make(map[string]bool)

	succeeded := 0
	for i, top := range selected {
		tlog := log.WithTopic(top.ID)
		e.publishProgress(progress.Event{
			Stage:      DocStage,
			Percent:    (i * 100) / total,
			HasPercent: true,
			Message:    fmt.Sprintf("Generating document %d of %d: %s", i+1, total, top.Title),
		})

		attemptStart := time.Now()
		res, err := e.runDocOnce(ctx, cfg, top, i, total, tlog)
		if err != nil {
			e.failDocs(snap.ID, log, started, total, succeeded,
				fmt.Sprintf("failed to launch document generator: %v", err))
			return
		}

		outcome := session.DocumentResult{TopicID: top.ID, Title: top.Title, Attempts: 1}
		switch res.Status {
		case runner.StatusCancelled:
			tlog.Info("document generation cancelled")
			return
		case runner.StatusTimedOut:
			e.failDocs(snap.ID, log, started, total, succeeded,
				errors.NewTimeoutError(DocStage, cfg.Stage2Timeout()).Error())
			return
		case runner.StatusSucceeded:
			outcome.Status = session.StatusSucceeded
		case runner.StatusFailed:
			firstDetail := resultDetail(res)
			if cfg.RetryOnFailure {
				tlog.Warn("document generation failed, retrying once", "error", firstDetail)
				retry, err := e.runDocOnce(ctx, cfg, top, i, total, tlog)
				if err != nil {
					e.failDocs(snap.ID, log, started, total, succeeded,
						fmt.Sprintf("failed to launch document generator: %v", err))
					return
				}
				outcome.Attempts = 2
				switch retry.Status {
				case runner.StatusCancelled:
					tlog.Info("document generation cancelled")
					return
				case runner.StatusTimedOut:
					e.failDocs(snap.ID, log, started, total, succeeded,
						errors.NewTimeoutError(DocStage, cfg.Stage2Timeout()).Error())
					return
				case runner.StatusSucceeded:
					outcome.Status = session.StatusRetriedSucceeded
				case runner.StatusFailed:
					outcome.Status = session.StatusRetriedFailed
					outcome.ErrorDetail = resultDetail(retry)
				}
			} else {
				outcome.Status = session.StatusFailed
				outcome.ErrorDetail = firstDetail
			}
		}

		if outcome.Status.Succeeded() {
			outcome.OutputLocation = e.locateArtifact(watcher, attributed, cfg.Doc.Output, attemptStart)
			succeeded++
		}

		if err := e.machine.AppendResult(snap.ID, outcome); err != nil {
			tlog.Info("discarding document result", "error", err)
			return
		}
		e.bus.Publish(event.NewDocumentResultEvent(event.DocumentOutcome{
			TopicID:        outcome.TopicID,
			Title:          outcome.Title,
			Status:         string(outcome.Status),
			OutputLocation: outcome.OutputLocation,
			ErrorDetail:    outcome.ErrorDetail,
			Attempts:       outcome.Attempts,
		}))
		e.publishProgress(progress.Event{
			Stage:      DocStage,
			Percent:    ((i + 1) * 100) / total,
			HasPercent: true,
			Message:    fmt.Sprintf("Finished document %d of %d", i+1, total),
		})

		if outcome.Status == session.StatusFailed && cfg.Doc.FailurePolicy == config.FailFast {
			e.failDocs(snap.ID, log, started, total, succeeded,
				fmt.Sprintf("aborting after failure on topic %d: %s", top.ID, outcome.ErrorDetail))
			return
		}
	}

	e.publishProgress(progress.Event{Stage: DocStage, Percent: 100, HasPercent: true, Message: "Document generation complete"})
	if err := e.machine.DocsFinished(snap.ID); err != nil {
		log.Info("discarding document stage completion", "error", err)
		return
	}

	log.Info("document stage finished", "succeeded", succeeded, "failed", total-succeeded)
	e.bus.Publish(event.NewStageChangedEvent(session.StageCompleted.String()))
	e.bus.Publish(event.NewPipelineFinishedEvent(session.StageCompleted.String(), event.Summary{
		Total:     total,
		Succeeded: succeeded,
		Failed:    total - succeeded,
		Duration:  time.Since(started).Round(time.Millisecond).String(),
	}))
}

// runDocOnce runs a single document-generation attempt, streaming its
// progress scaled into the topic's slice of the overall stage. A non-nil
// error means the process could not be launched at all.
func (e *Executor) runDocOnce(ctx context.Context, cfg config.Pipeline, top topic.Topic, index, total int, log *logging.Logger) (runner.Result, error) {
	spec := runner.Spec{
		Command: e.docTool.Command,
		Args:    docArgs(e.docTool, cfg, top),
		Dir:     e.docTool.Dir,
		Timeout: cfg.Stage2Timeout(),
		Grace:   e.grace,
	}

	proc, err := runner.Start(ctx, spec, log)
	if err != nil {
		return runner.Result{}, err
	}

	for line := range proc.Lines() {
		ev := progress.Parse(DocStage, line)
		if ev.HasPercent {
			// A tool-reported percent covers one topic; scale it into
			// this topic's share of the stage.
			ev.Percent = (index*100 + ev.Percent) / total
		}
		e.publishProgress(ev)
	}
	return proc.Wait(), nil
}

// locateArtifact attributes the newest unclaimed output file to the
// attempt that just finished. Watcher events are preferred; a directory
// scan covers tools that write before the watch was established.
func (e *Executor) locateArtifact(w *artifact.Watcher, attributed map[string]bool, dir string, since time.Time) string {
	candidates := w.Created()
	if extra, err := artifact.Discover(dir, artifact.DefaultPatterns, since); err == nil {
		candidates = append(candidates, extra...)
	}
	for _, path := range candidates {
		if !attributed[path] {
			attributed[path] = true
			return path
		}
	}
	return ""
}

// publishProgress floors the event through the monotonic tracker and
// broadcasts it. Once the session is terminal no further progress is
// emitted, so observers never see output from a subprocess that is still
// winding down after a cancel.
func (e *Executor) publishProgress(ev progress.Event) {
	if e.machine.Stage().IsTerminal() {
		return
	}
	ev = e.tracker.Observe(ev)
	e.bus.Publish(event.NewProgressEvent(ev.Stage, ev.Percent, ev.Message))
}

// failIdea terminates the session for a stage-level idea failure and
// broadcasts the terminal events. Skipped silently when cancellation won
// the race.
func (e *Executor) failIdea(id string, log *logging.Logger, detail string) {
	if err := e.machine.IdeaFailed(id, detail); err != nil {
		log.Info("discarding idea failure", "error", err)
		return
	}
	log.Error("idea stage failed", "detail", detail)
	e.bus.Publish(event.NewErrorEvent(IdeaStage, detail))
	e.bus.Publish(event.NewStageChangedEvent(session.StageFailed.String()))
	e.bus.Publish(event.NewPipelineFinishedEvent(session.StageFailed.String(), event.Summary{}))
}

// failDocs terminates the session for a stage-level document failure and
// broadcasts the terminal events.
func (e *Executor) failDocs(id string, log *logging.Logger, started time.Time, total, succeeded int, detail string) {
	if err := e.machine.DocsFailed(id, detail); err != nil {
		log.Info("discarding document stage failure", "error", err)
		return
	}
	log.Error("document stage failed", "detail", detail)
	e.bus.Publish(event.NewErrorEvent(DocStage, detail))
	e.bus.Publish(event.NewStageChangedEvent(session.StageFailed.String()))
	e.bus.Publish(event.NewPipelineFinishedEvent(session.StageFailed.String(), event.Summary{
		Total:     total,
		Succeeded: succeeded,
		Failed:    total - succeeded,
		Duration:  time.Since(started).Round(time.Millisecond).String(),
	}))
}

// resultDetail condenses a failed runner result into a diagnostic string.
func resultDetail(res runner.Result) string {
	if res.Stderr != "" {
		return fmt.Sprintf("exit code %d: %s", res.ExitCode, res.Stderr)
	}
	if res.Err != nil {
		return fmt.Sprintf("exit code %d: %v", res.ExitCode, res.Err)
	}
	return fmt.Sprintf("exit code %d", res.ExitCode)
}

// ideaArgs builds the idea-generation invocation from the pipeline config.
func ideaArgs(tool config.Tool, cfg config.Pipeline) []string {
	args := slices.Clone(tool.Args)
	args = append(args, "--source", cfg.Idea.Source)
	if cfg.Mode == config.ModeTest {
		args = append(args, "--test")
	}
	if cfg.Idea.StartDate != "" {
		args = append(args, "--start-date", cfg.Idea.StartDate)
	}
	if cfg.Idea.Label != "" {
		args = append(args, "--label", cfg.Idea.Label)
	}
	if cfg.Idea.Focus != "" {
		args = append(args, "--focus", cfg.Idea.Focus)
	}
	if cfg.Idea.CombinedTopics {
		args = append(args, "--combined-topics")
	}
	return args
}

// docArgs builds one per-topic document-generation invocation.
func docArgs(tool config.Tool, cfg config.Pipeline, top topic.Topic) []string {
	args := slices.Clone(tool.Args)
	args = append(args,
		"--topic-file", top.File,
		"--audience", cfg.Doc.Audience,
		"--doc-type", cfg.Doc.DocType,
		"--size", cfg.Doc.Size,
		"--output", cfg.Doc.Output,
	)
	if cfg.Doc.StyleFile != "" {
		args = append(args, "--style-file", cfg.Doc.StyleFile)
	}
	if cfg.Doc.StoryFile != "" {
		args = append(args, "--story-file", cfg.Doc.StoryFile)
	}
	if cfg.Mode == config.ModeTest {
		args = append(args, "--test")
	}
	return args
}
