package stage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/saltyhash/docpipe/internal/config"
	"github.com/saltyhash/docpipe/internal/event"
	"github.com/saltyhash/docpipe/internal/logging"
	"github.com/saltyhash/docpipe/internal/progress"
	"github.com/saltyhash/docpipe/internal/session"
	"github.com/saltyhash/docpipe/internal/topic"
)

type harness struct {
	machine *session.Machine
	exec    *Executor
	sub     *event.Subscriber

	toolDir    string
	sessionDir string
	outputDir  string
}

// newHarness wires an Executor to shell-script generator tools. The
// scripts may reference h.toolDir and h.outputDir, which are created
// before the scripts are interpolated by the caller.
func newHarness(t *testing.T, ideaScript, docScript string) *harness {
	t.Helper()

	h := &harness{
		machine:    session.NewMachine(),
		toolDir:    t.TempDir(),
		sessionDir: t.TempDir(),
		outputDir:  filepath.Join(t.TempDir(), "output"),
	}

	tracker := progress.NewTracker()
	bus := event.NewBroadcaster(func() event.Event {
		snap := h.machine.Snapshot()
		return event.NewSnapshotEvent(snap.ID, snap.Stage.String(), nil, nil, nil, snap.Error)
	})
	t.Cleanup(bus.Close)

	cfg := &config.Server{
		IdeaTool:     config.Tool{Command: "/bin/sh", Args: []string{"-c", ideaScript, "ideas"}, Dir: h.toolDir},
		DocTool:      config.Tool{Command: "/bin/sh", Args: []string{"-c", docScript, "docs"}},
		GraceSeconds: 1,
	}
	h.exec = NewExecutor(h.machine, tracker, bus, cfg, logging.NopLogger())
	h.sub = bus.Subscribe()
	return h
}

func (h *harness) pipeline() config.Pipeline {
	cfg := config.ExamplePipeline()
	cfg.Doc.Output = h.outputDir
	cfg.RetryOnFailure = false
	cfg.Stage1TimeoutSecs = 30
	cfg.Stage2TimeoutSecs = 30
	return cfg
}

// startDocs drives the machine to running_docs with the given topics all
// selected.
func (h *harness) startDocs(t *testing.T, cfg config.Pipeline, topics []topic.Topic) session.Snapshot {
	t.Helper()
	if err := h.machine.Start("sess-1", h.sessionDir, cfg); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := h.machine.IdeaSucceeded("sess-1", topics); err != nil {
		t.Fatalf("IdeaSucceeded failed: %v", err)
	}
	ids := make([]int, len(topics))
	for i, tp := range topics {
		ids[i] = tp.ID
	}
	if err := h.machine.SelectAndGenerate(ids); err != nil {
		t.Fatalf("SelectAndGenerate failed: %v", err)
	}
	return h.machine.Snapshot()
}

// drain empties the subscriber's buffered events. All executor calls in
// these tests are synchronous, so everything published is already queued.
func (h *harness) drain() []event.Event {
	var evs []event.Event
	for {
		select {
		case ev := <-h.sub.Events():
			evs = append(evs, ev)
		default:
			return evs
		}
	}
}

func kinds(evs []event.Event) []string {
	out := make([]string, len(evs))
	for i, ev := range evs {
		out[i] = ev.EventType()
	}
	return out
}

func hasKind(evs []event.Event, kind string) bool {
	for _, ev := range evs {
		if ev.EventType() == kind {
			return true
		}
	}
	return false
}

func writeTopicFiles(t *testing.T, dir string) {
	t.Helper()
	files := map[string]string{
		"topic_alpha.md": "# Alpha Topic\n\nFirst idea.\n",
		"topic_beta.md":  "# Beta Topic\n\nSecond idea.\n",
	}
	for name, body := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

func TestRunIdeaStage_Success(t *testing.T) {
	h := newHarness(t, `echo "scanning 10%"; echo "drafting 60%"`, "true")
	writeTopicFiles(t, h.toolDir)

	if err := h.machine.Start("sess-1", h.sessionDir, h.pipeline()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	h.exec.RunIdeaStage(context.Background(), h.machine.Snapshot())

	snap := h.machine.Snapshot()
	if snap.Stage != session.StageAwaitingSelection {
		t.Fatalf("stage = %s, want awaiting_selection (error: %s)", snap.Stage, snap.Error)
	}
	if len(snap.Topics) != 2 {
		t.Fatalf("got %d topics, want 2", len(snap.Topics))
	}
	if snap.Topics[0].Title != "Alpha Topic" {
		t.Errorf("first topic = %q, want %q", snap.Topics[0].Title, "Alpha Topic")
	}
	// Topic files move into the session directory.
	if !strings.HasPrefix(snap.Topics[0].File, h.sessionDir) {
		t.Errorf("topic file %q not under session dir", snap.Topics[0].File)
	}

	evs := h.drain()
	if !hasKind(evs, "topics_ready") {
		t.Errorf("missing topics_ready event, got %v", kinds(evs))
	}
	if !hasKind(evs, "stage_changed") {
		t.Errorf("missing stage_changed event, got %v", kinds(evs))
	}
}

func TestRunIdeaStage_ProgressIsMonotonic(t *testing.T) {
	h := newHarness(t, `echo "late 80%"; echo "stale 20%"; echo "no percent here"`, "true")
	writeTopicFiles(t, h.toolDir)

	if err := h.machine.Start("sess-1", h.sessionDir, h.pipeline()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	h.exec.RunIdeaStage(context.Background(), h.machine.Snapshot())

	last := -1
	for _, ev := range h.drain() {
		pe, ok := ev.(event.ProgressEvent)
		if !ok {
			continue
		}
		if pe.Percent < last {
			t.Fatalf("progress went backwards: %d after %d", pe.Percent, last)
		}
		last = pe.Percent
	}
	if last != 100 {
		t.Errorf("final progress = %d, want 100", last)
	}
}

func TestRunIdeaStage_ToolFailure(t *testing.T) {
	h := newHarness(t, `echo "doomed" >&2; exit 2`, "true")

	if err := h.machine.Start("sess-1", h.sessionDir, h.pipeline()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	h.exec.RunIdeaStage(context.Background(), h.machine.Snapshot())

	snap := h.machine.Snapshot()
	if snap.Stage != session.StageFailed {
		t.Fatalf("stage = %s, want failed", snap.Stage)
	}
	if !strings.Contains(snap.Error, "doomed") {
		t.Errorf("error %q should carry the tool's stderr", snap.Error)
	}

	evs := h.drain()
	if !hasKind(evs, "error") || !hasKind(evs, "pipeline_finished") {
		t.Errorf("missing terminal events, got %v", kinds(evs))
	}
}

func TestRunIdeaStage_NoTopicsProduced(t *testing.T) {
	h := newHarness(t, "true", "true")

	if err := h.machine.Start("sess-1", h.sessionDir, h.pipeline()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	h.exec.RunIdeaStage(context.Background(), h.machine.Snapshot())

	snap := h.machine.Snapshot()
	if snap.Stage != session.StageFailed {
		t.Fatalf("stage = %s, want failed when the tool exits clean without topics", snap.Stage)
	}
}

func TestRunIdeaStage_Timeout(t *testing.T) {
	h := newHarness(t, "sleep 30", "true")

	cfg := h.pipeline()
	cfg.Stage1TimeoutSecs = 1
	if err := h.machine.Start("sess-1", h.sessionDir, cfg); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	h.exec.RunIdeaStage(context.Background(), h.machine.Snapshot())

	snap := h.machine.Snapshot()
	if snap.Stage != session.StageFailed {
		t.Fatalf("stage = %s, want failed", snap.Stage)
	}
	if !strings.Contains(snap.Error, "timed out") {
		t.Errorf("error %q should identify the timeout", snap.Error)
	}
}

func TestRunIdeaStage_CancelledMidRun(t *testing.T) {
	h := newHarness(t, "sleep 30", "true")

	if err := h.machine.Start("sess-1", h.sessionDir, h.pipeline()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	snap := h.machine.Snapshot()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		if err := h.machine.Cancel(); err != nil {
			t.Error(err)
		}
		cancel()
	}()
	h.exec.RunIdeaStage(ctx, snap)

	if got := h.machine.Stage(); got != session.StageCancelled {
		t.Errorf("stage = %s, want cancelled to stand after the executor returns", got)
	}
}

// docTopics returns two topics backed by files in dir.
func docTopics(t *testing.T, dir string) []topic.Topic {
	t.Helper()
	writeTopicFiles(t, dir)
	return []topic.Topic{
		{ID: 0, Title: "Alpha Topic", File: filepath.Join(dir, "topic_alpha.md")},
		{ID: 1, Title: "Beta Topic", File: filepath.Join(dir, "topic_beta.md")},
	}
}

func TestRunDocStage_AllSucceed(t *testing.T) {
	outDir := filepath.Join(t.TempDir(), "output")
	script := fmt.Sprintf(`echo "writing 50%%"; touch %s/doc_$$.md`, outDir)
	h := newHarness(t, "true", script)
	h.outputDir = outDir

	snap := h.startDocs(t, h.pipeline(), docTopics(t, h.toolDir))
	h.exec.RunDocStage(context.Background(), snap)

	got := h.machine.Snapshot()
	if got.Stage != session.StageCompleted {
		t.Fatalf("stage = %s, want completed (error: %s)", got.Stage, got.Error)
	}
	if len(got.Results) != 2 {
		t.Fatalf("got %d results, want 2", len(got.Results))
	}
	for i, res := range got.Results {
		if res.Status != session.StatusSucceeded {
			t.Errorf("result %d status = %s, want succeeded (%s)", i, res.Status, res.ErrorDetail)
		}
		if res.Attempts != 1 {
			t.Errorf("result %d attempts = %d, want 1", i, res.Attempts)
		}
		if res.OutputLocation == "" {
			t.Errorf("result %d has no output location", i)
		}
	}
	// Results follow selection order.
	if got.Results[0].TopicID != 0 || got.Results[1].TopicID != 1 {
		t.Errorf("results out of order: %+v", got.Results)
	}

	evs := h.drain()
	count := 0
	for _, ev := range evs {
		if ev.EventType() == "document_result" {
			count++
		}
	}
	if count != 2 {
		t.Errorf("got %d document_result events, want 2", count)
	}
	if !hasKind(evs, "pipeline_finished") {
		t.Errorf("missing pipeline_finished, got %v", kinds(evs))
	}
}

func TestRunDocStage_ContinuePolicyIsolatesFailures(t *testing.T) {
	// The tool fails for the alpha topic and succeeds for beta.
	outDir := filepath.Join(t.TempDir(), "output")
	script := fmt.Sprintf(`case "$2" in *alpha*) echo "no source material" >&2; exit 1;; esac; touch %s/doc_$$.md`, outDir)
	h := newHarness(t, "true", script)
	h.outputDir = outDir

	cfg := h.pipeline()
	cfg.Doc.FailurePolicy = config.Continue
	snap := h.startDocs(t, cfg, docTopics(t, h.toolDir))
	h.exec.RunDocStage(context.Background(), snap)

	got := h.machine.Snapshot()
	if got.Stage != session.StageCompleted {
		t.Fatalf("stage = %s, want completed despite a per-topic failure", got.Stage)
	}
	if len(got.Results) != 2 {
		t.Fatalf("got %d results, want 2", len(got.Results))
	}
	if got.Results[0].Status != session.StatusFailed {
		t.Errorf("alpha status = %s, want failed", got.Results[0].Status)
	}
	if !strings.Contains(got.Results[0].ErrorDetail, "no source material") {
		t.Errorf("failure detail %q should carry stderr", got.Results[0].ErrorDetail)
	}
	if got.Results[1].Status != session.StatusSucceeded {
		t.Errorf("beta status = %s, want succeeded", got.Results[1].Status)
	}
}

func TestRunDocStage_FailFastAborts(t *testing.T) {
	outDir := filepath.Join(t.TempDir(), "output")
	script := fmt.Sprintf(`case "$2" in *alpha*) exit 1;; esac; touch %s/doc_$$.md`, outDir)
	h := newHarness(t, "true", script)
	h.outputDir = outDir

	cfg := h.pipeline()
	cfg.Doc.FailurePolicy = config.FailFast
	snap := h.startDocs(t, cfg, docTopics(t, h.toolDir))
	h.exec.RunDocStage(context.Background(), snap)

	got := h.machine.Snapshot()
	if got.Stage != session.StageFailed {
		t.Fatalf("stage = %s, want failed under fail_fast", got.Stage)
	}
	// The failing topic's result is recorded; the rest are skipped.
	if len(got.Results) != 1 {
		t.Fatalf("got %d results, want 1", len(got.Results))
	}
	if got.Results[0].TopicID != 0 || got.Results[0].Status != session.StatusFailed {
		t.Errorf("unexpected recorded result: %+v", got.Results[0])
	}
}

func TestRunDocStage_RetryOnFailure(t *testing.T) {
	// First invocation per topic fails, the retry succeeds. $2 is the
	// topic file path; its basename keys the per-topic attempt marker.
	outDir := filepath.Join(t.TempDir(), "output")
	marker := filepath.Join(t.TempDir(), "tried")
	script := fmt.Sprintf(
		`m=%s.$(basename "$2"); if [ ! -f "$m" ]; then touch "$m"; exit 1; fi; touch %s/doc_$$.md`,
		marker, outDir)
	h := newHarness(t, "true", script)
	h.outputDir = outDir

	cfg := h.pipeline()
	cfg.RetryOnFailure = true
	cfg.Doc.FailurePolicy = config.FailFast
	snap := h.startDocs(t, cfg, docTopics(t, h.toolDir))
	h.exec.RunDocStage(context.Background(), snap)

	got := h.machine.Snapshot()
	if got.Stage != session.StageCompleted {
		t.Fatalf("stage = %s, want completed after retries (error: %s)", got.Stage, got.Error)
	}
	for i, res := range got.Results {
		if res.Status != session.StatusRetriedSucceeded {
			t.Errorf("result %d status = %s, want retried-then-succeeded", i, res.Status)
		}
		if res.Attempts != 2 {
			t.Errorf("result %d attempts = %d, want 2", i, res.Attempts)
		}
	}
}

func TestRunDocStage_RetryThenFailureContinues(t *testing.T) {
	// Alpha fails both attempts; fail_fast must not trigger because the
	// retry path never consults the failure policy.
	outDir := filepath.Join(t.TempDir(), "output")
	script := fmt.Sprintf(`case "$2" in *alpha*) exit 1;; esac; touch %s/doc_$$.md`, outDir)
	h := newHarness(t, "true", script)
	h.outputDir = outDir

	cfg := h.pipeline()
	cfg.RetryOnFailure = true
	cfg.Doc.FailurePolicy = config.FailFast
	snap := h.startDocs(t, cfg, docTopics(t, h.toolDir))
	h.exec.RunDocStage(context.Background(), snap)

	got := h.machine.Snapshot()
	if got.Stage != session.StageCompleted {
		t.Fatalf("stage = %s, want completed", got.Stage)
	}
	if got.Results[0].Status != session.StatusRetriedFailed {
		t.Errorf("alpha status = %s, want retried-then-failed", got.Results[0].Status)
	}
	if got.Results[0].Attempts != 2 {
		t.Errorf("alpha attempts = %d, want 2", got.Results[0].Attempts)
	}
	if got.Results[1].Status != session.StatusSucceeded {
		t.Errorf("beta status = %s, want succeeded", got.Results[1].Status)
	}
}

func TestRunDocStage_PerTopicTimeoutFailsStage(t *testing.T) {
	h := newHarness(t, "true", "sleep 30")

	cfg := h.pipeline()
	cfg.Stage2TimeoutSecs = 1
	snap := h.startDocs(t, cfg, docTopics(t, h.toolDir))
	h.exec.RunDocStage(context.Background(), snap)

	got := h.machine.Snapshot()
	if got.Stage != session.StageFailed {
		t.Fatalf("stage = %s, want failed on per-topic timeout", got.Stage)
	}
	if !strings.Contains(got.Error, "timed out") {
		t.Errorf("error %q should identify the timeout", got.Error)
	}
}
