package main

import (
	"context"
	"fmt"
	"os"

	"calview/internal/config"
	"calview/internal/fetch"
	"calview/internal/gcal"
	"calview/internal/hass"
	"calview/internal/ics"
	appLog "calview/internal/log"
	"calview/internal/metrics"
	"calview/internal/source"
	"calview/internal/widget"
)

// app is the wired object graph shared by every command.
type app struct {
	cfg      *config.Config
	metrics  *metrics.Metrics
	router   *source.Router
	loader   *fetch.Orchestrator
	sessions *widget.Manager
}

// loadConfig reads path and applies the log settings it carries.
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}
	appLog.Configure(os.Stderr, appLog.Format(cfg.Log.Format))
	appLog.SetLevel(appLog.ParseLevel(cfg.Log.Level))
	return cfg, nil
}

func newApp(ctx context.Context, cfg *config.Config, m *metrics.Metrics) (*app, error) {
	providers, err := buildProviders(ctx, cfg)
	if err != nil {
		return nil, err
	}
	router := source.NewRouter(providers...)

	loader := fetch.New(router, fetch.Options{
		Timeout:        cfg.Fetch.Timeout,
		MaxAttempts:    cfg.Fetch.MaxAttempts,
		BackoffInitial: cfg.Fetch.BackoffInitial,
		BackoffMax:     cfg.Fetch.BackoffMax,
		Concurrency:    cfg.Fetch.Concurrency,
		Metrics:        m,
	})

	sessions := widget.NewManager(router, loader, nil, widget.ManagerOptions{
		Max:     cfg.Sessions.Max,
		IdleTTL: cfg.Sessions.IdleTTL,
		Metrics: m,
	})

	return &app{
		cfg:      cfg,
		metrics:  m,
		router:   router,
		loader:   loader,
		sessions: sessions,
	}, nil
}

// buildProviders returns the configured providers in routing order. The host
// provider claims every ID, so it goes last.
func buildProviders(ctx context.Context, cfg *config.Config) ([]source.Provider, error) {
	var providers []source.Provider

	if len(cfg.ICS) > 0 {
		feeds := make([]ics.Feed, 0, len(cfg.ICS))
		for _, c := range cfg.ICS {
			feeds = append(feeds, ics.Feed{ID: c.ID, URL: c.URL})
		}
		fetcher := ics.NewFetcher(cfg.ICSCacheDir, nil)
		providers = append(providers, ics.NewProvider(fetcher, feeds, cfg.Location()))
	}

	if cfg.Google.CredentialsFile != "" && len(cfg.Google.Calendars) > 0 {
		ids := make([]string, 0, len(cfg.Google.Calendars))
		for _, c := range cfg.Google.Calendars {
			ids = append(ids, c.ID)
		}
		p, err := gcal.NewFromCredentialsFile(ctx, cfg.Google.CredentialsFile, ids)
		if err != nil {
			return nil, err
		}
		providers = append(providers, p)
	}

	if cfg.Hass.URL != "" {
		c, err := hass.NewClient(hass.Options{
			BaseURL:   cfg.Hass.URL,
			Token:     cfg.Hass.Token,
			Prefix:    cfg.Widget.EntityPrefix,
			RateLimit: cfg.Hass.RateLimit,
			Burst:     cfg.Hass.Burst,
		})
		if err != nil {
			return nil, err
		}
		providers = append(providers, c)
	}

	if len(providers) == 0 {
		appLog.Warn("no calendar providers configured")
	}
	for _, p := range providers {
		appLog.Debug("provider registered", "provider", p.Name())
	}
	return providers, nil
}
