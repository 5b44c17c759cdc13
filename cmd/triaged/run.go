package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/triaged/internal/config"
	httpserver "github.com/fyrsmithlabs/triaged/internal/http"
)

const httpInstrumentationName = "github.com/fyrsmithlabs/triaged/internal/http"

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the triage loop",
	Long: `Run the poll loop until interrupted. Each cycle fetches new error
events, syncs the working copy and handles the events one at a time.

When server.enabled is set, the status API and /metrics are served on
server.port.

Examples:
  triaged run
  triaged run --config /etc/triaged/config.yaml`,
	RunE: runRun,
}

var onceCmd = &cobra.Command{
	Use:   "once",
	Short: "Run a single cycle and print its report",
	Long: `Run exactly one cycle and print the cycle report as JSON.
The command exits non-zero when any stage failed during the cycle.`,
	RunE: runOnce,
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close(context.Background())
	a.startBackground(ctx)

	var srv *httpserver.Server
	serverErr := make(chan error, 1)
	if cfg.Server.Enabled {
		srv, err = httpserver.NewServer(httpserver.Deps{
			Pipeline:  a.orchestrator,
			Policy:    a.policy,
			Audit:     a.audit,
			Gatherer:  prometheus.DefaultGatherer,
			Telemetry: a.telemetry,
			Meter:     a.telemetry.Meter(httpInstrumentationName),
		}, a.logger.Named("http"), &httpserver.Config{
			Host:    "0.0.0.0",
			Port:    cfg.Server.Port,
			Version: version,
		})
		if err != nil {
			return fmt.Errorf("failed to create http server: %w", err)
		}
		go func() {
			if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serverErr <- err
			}
		}()
	}

	runErr := make(chan error, 1)
	go func() { runErr <- a.orchestrator.Run(ctx) }()

	select {
	case err = <-runErr:
	case err = <-serverErr:
		a.logger.Error(ctx, "http server failed", zap.Error(err))
		stop()
		<-runErr
	}

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if serr := srv.Shutdown(shutdownCtx); serr != nil {
			a.logger.Warn(shutdownCtx, "http server shutdown failed", zap.Error(serr))
		}
	}

	if errors.Is(err, context.Canceled) {
		a.logger.Info(context.Background(), "triaged stopped")
		return nil
	}
	return err
}

func runOnce(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close(context.Background())

	report := a.orchestrator.RunCycle(ctx)
	if err := a.telemetry.ForceFlush(ctx); err != nil {
		a.logger.Warn(ctx, "telemetry flush failed", zap.Error(err))
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	if len(report.Errors) > 0 {
		return fmt.Errorf("cycle %s finished with %d error(s)", report.ID, len(report.Errors))
	}
	return nil
}
