package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	appLog "calview/internal/log"
	"calview/internal/metrics"
	"calview/internal/web"
)

const (
	shutdownTimeout = 10 * time.Second
	refreshTimeout  = time.Minute
)

func newServeCmd(configPath *string) *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		Long: `Start the HTTP server backing the calendar widget.

Sources are rediscovered on the configured refresh schedule. SIGINT or
SIGTERM drains in-flight requests and exits.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, *configPath, listen)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "HTTP listen address (overrides config if set)")
	return cmd
}

func runServe(ctx context.Context, configPath, listen string) error {
	appLog.Info("calview starting", "version", version)

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if listen != "" {
		cfg.Listen = listen
	}

	appLog.Info("effective config",
		"listen", cfg.Listen,
		"timezone", cfg.Timezone,
		"refresh", cfg.RefreshCron,
		"hass", appLog.RedactURL(cfg.Hass.URL),
		"ics_count", len(cfg.ICS),
		"google_count", len(cfg.Google.Calendars),
		"basic_auth", cfg.BasicAuth != nil,
	)

	a, err := newApp(ctx, cfg, metrics.New())
	if err != nil {
		return err
	}
	defer a.sessions.Close()

	if err := a.sessions.SetDefault(ctx, cfg.Widget); err != nil {
		return fmt.Errorf("default session: %w", err)
	}

	sched, err := newScheduler(ctx, a)
	if err != nil {
		return err
	}
	sched.Start()
	defer func() {
		<-sched.Stop().Done()
	}()

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           web.NewServer(cfg, a.sessions, a.metrics).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("http server listening", "addr", cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	appLog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	appLog.Info("calview exiting")
	return nil
}

// newScheduler registers source rediscovery on the refresh schedule, evaluated
// in the configured timezone.
func newScheduler(ctx context.Context, a *app) (*cron.Cron, error) {
	c := cron.New(cron.WithLocation(a.cfg.Location()))
	_, err := c.AddFunc(a.cfg.RefreshCron, func() {
		rctx, cancel := context.WithTimeout(ctx, refreshTimeout)
		defer cancel()
		if err := a.sessions.RefreshAll(rctx); err != nil {
			appLog.Error("scheduled refresh failed", err)
			return
		}
		appLog.Debug("scheduled refresh done", "sessions", a.sessions.Len())
	})
	if err != nil {
		return nil, fmt.Errorf("refresh schedule %q: %w", a.cfg.RefreshCron, err)
	}
	return c, nil
}
