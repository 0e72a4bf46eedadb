package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"calview/internal/colors"
	"calview/internal/config"
	"calview/internal/model"
)

const teamICS = "BEGIN:VCALENDAR\r\n" +
	"VERSION:2.0\r\n" +
	"PRODID:-//calview//test//EN\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:review@example.com\r\n" +
	"SUMMARY:Review\r\n" +
	"DTSTART:20250106T090000Z\r\n" +
	"DTEND:20250106T100000Z\r\n" +
	"END:VEVENT\r\n" +
	"END:VCALENDAR\r\n"

func writeConfig(t *testing.T, feedURL string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := fmt.Sprintf(`timezone: UTC
ics_cache_dir: %s
ics:
  - id: team
    url: %s
log:
  level: error
`, filepath.Join(dir, "ics-cache"), feedURL)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func feedServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/calendar")
		_, _ = w.Write([]byte(teamICS))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestWindowFromArgs(t *testing.T) {
	now := time.Date(2025, 1, 8, 15, 30, 0, 0, time.UTC)

	w, err := windowFromArgs("", "", now, time.UTC)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 1, 8, 0, 0, 0, 0, time.UTC), w.Start)
	assert.Equal(t, time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC), w.End)

	w, err = windowFromArgs("2025-01-06", "2025-01-07T12:00:00Z", now, time.UTC)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 1, 6, 0, 0, 0, 0, time.UTC), w.Start)
	assert.Equal(t, time.Date(2025, 1, 7, 12, 0, 0, 0, time.UTC), w.End)

	_, err = windowFromArgs("yesterday", "", now, time.UTC)
	assert.Error(t, err)

	_, err = windowFromArgs("2025-01-06", "2025-01-06", now, time.UTC)
	assert.ErrorIs(t, err, model.ErrInvalidWindow)
}

func TestBuildProvidersOrder(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Hass.URL = "http://hass.local:8123"
	cfg.ICS = []config.ICSConfig{{ID: "team", URL: "http://feeds.local/team.ics"}}
	cfg.ICSCacheDir = t.TempDir()
	cfg.Normalize()

	providers, err := buildProviders(context.Background(), cfg)
	require.NoError(t, err)

	var names []string
	for _, p := range providers {
		names = append(names, p.Name())
	}
	assert.Equal(t, []string{"ics", "hass"}, names)
}

func TestBuildProvidersNone(t *testing.T) {
	cfg := config.DefaultConfig()
	providers, err := buildProviders(context.Background(), cfg)
	require.NoError(t, err)
	assert.Empty(t, providers)
}

func TestBuildProvidersBadCredentials(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Google.CredentialsFile = filepath.Join(t.TempDir(), "missing.json")
	cfg.Google.Calendars = []config.GoogleCalendarConfig{{ID: "team@example.com"}}

	_, err := buildProviders(context.Background(), cfg)
	assert.Error(t, err)
}

func TestNewScheduler(t *testing.T) {
	cfg := config.DefaultConfig()
	a, err := newApp(context.Background(), cfg, nil)
	require.NoError(t, err)

	c, err := newScheduler(context.Background(), a)
	require.NoError(t, err)
	assert.Len(t, c.Entries(), 1)

	cfg.RefreshCron = "every now and then"
	_, err = newScheduler(context.Background(), a)
	assert.Error(t, err)
}

func TestRunEvents(t *testing.T) {
	srv := feedServer(t)
	path := writeConfig(t, srv.URL+"/team.ics")

	var out bytes.Buffer
	err := runEvents(context.Background(), &out, path, "2025-01-06", "2025-01-13")
	require.NoError(t, err)

	var got struct {
		Start    string               `json:"start"`
		End      string               `json:"end"`
		Events   []model.DisplayEvent `json:"events"`
		Failures map[string]string    `json:"failures"`
	}
	require.NoError(t, json.Unmarshal(out.Bytes(), &got))
	assert.Empty(t, got.Failures)
	require.Len(t, got.Events, 1)
	assert.Equal(t, "review@example.com", got.Events[0].ID)
	assert.Equal(t, "Review", got.Events[0].Title)
	assert.Equal(t, "ics.team", got.Events[0].SourceID)
	assert.False(t, got.Events[0].AllDay)
}

func TestRunEventsReportsFailingFeed(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	t.Cleanup(srv.Close)
	path := writeConfig(t, srv.URL+"/gone.ics")

	var out bytes.Buffer
	err := runEvents(context.Background(), &out, path, "2025-01-06", "2025-01-13")
	require.NoError(t, err)

	var got eventsOutput
	require.NoError(t, json.Unmarshal(out.Bytes(), &got))
	assert.Empty(t, got.Events)
	assert.Contains(t, got.Failures, "ics.team")
}

func TestRunSources(t *testing.T) {
	srv := feedServer(t)
	path := writeConfig(t, srv.URL+"/team.ics")

	var out bytes.Buffer
	require.NoError(t, runSources(context.Background(), &out, path))

	var legend []colors.LegendEntry
	require.NoError(t, json.Unmarshal(out.Bytes(), &legend))
	require.Len(t, legend, 1)
	assert.Equal(t, "ics.team", legend[0].Source)
	assert.NotEmpty(t, legend[0].Background)
}

func TestRootCommandWiring(t *testing.T) {
	root := newRootCmd()
	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	assert.ElementsMatch(t, []string{"serve", "events", "sources"}, names)
	assert.NotNil(t, root.PersistentFlags().Lookup("config"))

	serve, _, err := root.Find([]string{"serve"})
	require.NoError(t, err)
	assert.NotNil(t, serve.Flags().Lookup("listen"))
}
