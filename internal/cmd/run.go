package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/saltyhash/docpipe/internal/config"
	"github.com/saltyhash/docpipe/internal/controller"
	"github.com/saltyhash/docpipe/internal/event"
	"github.com/saltyhash/docpipe/internal/logging"
	"github.com/saltyhash/docpipe/internal/session"
	"github.com/saltyhash/docpipe/internal/topic"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a pipeline headless, without the server",
	Long: `Runs one pipeline end to end from a YAML configuration file. The
topic selection normally made by a human in the UI is supplied with
--select: either "all" or a comma-separated list of topic IDs.`,
	RunE: runHeadless,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringP("file", "f", "", "pipeline configuration file (YAML)")
	runCmd.Flags().String("select", "all", `topic selection: "all" or comma-separated IDs, e.g. "0,2"`)
	_ = runCmd.MarkFlagRequired("file")
}

func runHeadless(cmd *cobra.Command, args []string) error {
	file, _ := cmd.Flags().GetString("file")
	selectSpec, _ := cmd.Flags().GetString("select")

	pipeline, err := config.LoadPipelineFile(file)
	if err != nil {
		return err
	}

	cfg, err := config.LoadServer()
	if err != nil {
		return fmt.Errorf("invalid server configuration: %w", err)
	}
	logger, err := logging.New(cfg.Logging.Dir, cfg.Logging.Level)
	if err != nil {
		return fmt.Errorf("failed to set up logging: %w", err)
	}
	defer logger.Close()

	ctrl := controller.New(cfg, logger)
	defer ctrl.Close()

	sub := ctrl.Subscribe()
	defer ctrl.Unsubscribe(sub)
	<-sub.Events() // initial snapshot

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, os.Interrupt, syscall.SIGTERM)

	id, err := ctrl.Start(pipeline)
	if err != nil {
		return err
	}
	fmt.Printf("session %s started\n", id)

	for {
		select {
		case sig := <-sigc:
			fmt.Printf("received %s, cancelling\n", sig)
			if err := ctrl.Cancel(); err != nil {
				return err
			}
		case ev, ok := <-sub.Events():
			if !ok {
				return fmt.Errorf("event stream closed unexpectedly")
			}
			switch ev := ev.(type) {
			case event.ProgressEvent:
				fmt.Printf("[%s] %3d%% %s\n", ev.Stage, ev.Percent, ev.Message)
			case event.TopicsReadyEvent:
				ids, err := parseSelection(selectSpec, ev.Topics)
				if err != nil {
					_ = ctrl.Cancel()
					return err
				}
				fmt.Printf("selecting %d of %d topics\n", len(ids), len(ev.Topics))
				if err := ctrl.SelectAndGenerate(ids); err != nil {
					return err
				}
			case event.DocumentResultEvent:
				if ev.OutputLocation != "" {
					fmt.Printf("  %s: %s (%s)\n", ev.Title, ev.Status, ev.OutputLocation)
				} else {
					fmt.Printf("  %s: %s %s\n", ev.Title, ev.Status, ev.ErrorDetail)
				}
			case event.PipelineFinishedEvent:
				fmt.Printf("pipeline %s: %d/%d documents succeeded in %s\n",
					ev.Stage, ev.Summary.Succeeded, ev.Summary.Total, ev.Summary.Duration)
				if ev.Stage == session.StageFailed.String() {
					return fmt.Errorf("pipeline failed: %s", ctrl.Snapshot().Error)
				}
				return nil
			}
		}
	}
}

// parseSelection resolves the --select flag against the produced topics.
func parseSelection(spec string, topics []topic.Topic) ([]int, error) {
	if spec == "all" {
		ids := make([]int, len(topics))
		for i, t := range topics {
			ids[i] = t.ID
		}
		return ids, nil
	}

	parts := strings.Split(spec, ",")
	ids := make([]int, 0, len(parts))
	for _, part := range parts {
		id, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return nil, fmt.Errorf("invalid topic selection %q: %w", spec, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
