package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/saltyhash/docpipe/internal/api"
	"github.com/saltyhash/docpipe/internal/config"
	"github.com/saltyhash/docpipe/internal/controller"
	"github.com/saltyhash/docpipe/internal/logging"
)

// shutdownTimeout bounds the drain of in-flight HTTP requests; the
// generator subprocesses are torn down separately by the controller.
const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the pipeline server",
	Long: `Starts the HTTP control surface. Clients start sessions, select
topics and cancel over JSON endpoints, and observe progress over a
server-sent event stream at /api/events.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("listen", "", "address to bind (overrides config)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadServer()
	if err != nil {
		return fmt.Errorf("invalid server configuration: %w", err)
	}
	if listen, _ := cmd.Flags().GetString("listen"); listen != "" {
		cfg.Listen = listen
	}

	logger, err := logging.New(cfg.Logging.Dir, cfg.Logging.Level)
	if err != nil {
		return fmt.Errorf("failed to set up logging: %w", err)
	}
	defer logger.Close()

	ctrl := controller.New(cfg, logger)
	defer ctrl.Close()

	srv := &http.Server{
		Addr:    cfg.Listen,
		Handler: api.NewServer(ctrl, logger).Handler(),
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", cfg.Listen)
		errc <- srv.ListenAndServe()
	}()

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errc:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case sig := <-sigc:
		logger.Info("shutting down", "signal", sig.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(ctx)
}
