package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"calview/internal/model"
)

// Grid views understood by the rendering widget.
const (
	ViewDay   = "timeGridDay"
	ViewWeek  = "timeGridWeek"
	ViewMonth = "dayGridMonth"
)

// Theme hints.
const (
	ThemeAuto  = "auto"
	ThemeLight = "light"
	ThemeDark  = "dark"
)

const (
	defaultListen       = "127.0.0.1:8080"
	defaultTimezone     = "UTC"
	defaultRefresh      = "*/15 * * * *"
	defaultTitle        = "Calendar"
	defaultLocale       = "en"
	defaultEntityPrefix = "calendar."
	defaultICSCacheDir  = "./var/ics-cache"
)

// ICSConfig describes a single ICS subscription source.
type ICSConfig struct {
	// URL is the ICS subscription endpoint.
	URL string `yaml:"url" json:"url"`
	// ID becomes the source identifier "ics.<id>".
	ID string `yaml:"id" json:"id"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// WidgetConfig is the host-supplied widget configuration. It is also the
// body accepted when creating a session over HTTP.
type WidgetConfig struct {
	Title       string `yaml:"title" json:"title"`
	DefaultView string `yaml:"default_view" json:"default_view"`

	// Entities is the explicit source list. When empty, sources are
	// discovered from the host registry.
	Entities []string `yaml:"entities" json:"entities"`

	// EntityPrefix filters host registry entries during discovery.
	EntityPrefix string `yaml:"entity_prefix" json:"entity_prefix"`

	Locale string `yaml:"locale" json:"locale"`
	Theme  string `yaml:"theme" json:"theme"`

	Colors map[string]model.ColorSpec `yaml:"colors" json:"colors"`
}

// HassConfig points at the host dashboard's REST API.
type HassConfig struct {
	URL   string `yaml:"url" json:"url"`
	Token string `yaml:"token" json:"-"`

	// RateLimit caps outbound requests per second. Zero disables limiting.
	RateLimit float64 `yaml:"rate_limit" json:"rate_limit"`
	Burst     int     `yaml:"burst" json:"burst"`
}

// GoogleCalendarConfig is one Google calendar exposed as "gcal.<id>".
type GoogleCalendarConfig struct {
	ID string `yaml:"id" json:"id"`
}

// GoogleConfig enables the Google Calendar provider.
type GoogleConfig struct {
	CredentialsFile string                 `yaml:"credentials_file" json:"credentials_file"`
	Calendars       []GoogleCalendarConfig `yaml:"calendars" json:"calendars"`
}

// FetchConfig tunes per-source fetching.
type FetchConfig struct {
	// Timeout bounds one attempt against a source. Zero means none.
	Timeout        time.Duration `yaml:"timeout" json:"timeout"`
	MaxAttempts    int           `yaml:"max_attempts" json:"max_attempts"`
	BackoffInitial time.Duration `yaml:"backoff_initial" json:"backoff_initial"`
	BackoffMax     time.Duration `yaml:"backoff_max" json:"backoff_max"`
	Concurrency    int           `yaml:"concurrency" json:"concurrency"`
}

// SessionsConfig bounds the number and idle lifetime of widget sessions.
type SessionsConfig struct {
	Max     int           `yaml:"max" json:"max"`
	IdleTTL time.Duration `yaml:"idle_ttl" json:"idle_ttl"`
}

// LogConfig selects log level and output format.
type LogConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the API.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA zone used when expanding ICS recurrences.
	Timezone string `yaml:"timezone" json:"timezone"`

	// RefreshCron is the schedule for re-discovering host sources.
	RefreshCron string `yaml:"refresh" json:"refresh"`

	Widget WidgetConfig `yaml:"widget" json:"widget"`
	Hass   HassConfig   `yaml:"hass" json:"hass"`

	// ICS is the list of subscribed ICS sources.
	ICS         []ICSConfig `yaml:"ics" json:"ics"`
	ICSCacheDir string      `yaml:"ics_cache_dir" json:"ics_cache_dir"`

	Google GoogleConfig `yaml:"google" json:"google"`

	Fetch    FetchConfig    `yaml:"fetch" json:"fetch"`
	Sessions SessionsConfig `yaml:"sessions" json:"sessions"`
	Log      LogConfig      `yaml:"log" json:"log"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all endpoints
	// except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// DefaultWidget returns the widget defaults.
func DefaultWidget() WidgetConfig {
	return WidgetConfig{
		Title:        defaultTitle,
		DefaultView:  ViewWeek,
		EntityPrefix: defaultEntityPrefix,
		Locale:       defaultLocale,
		Theme:        ThemeAuto,
		Colors:       map[string]model.ColorSpec{},
	}
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:      defaultListen,
		Timezone:    defaultTimezone,
		RefreshCron: defaultRefresh,
		Widget:      DefaultWidget(),
		Hass: HassConfig{
			RateLimit: 10,
			Burst:     5,
		},
		ICS:         []ICSConfig{},
		ICSCacheDir: defaultICSCacheDir,
		Fetch: FetchConfig{
			Timeout:        15 * time.Second,
			MaxAttempts:    3,
			BackoffInitial: 200 * time.Millisecond,
			BackoffMax:     2 * time.Second,
			Concurrency:    8,
		},
		Sessions: SessionsConfig{
			Max:     256,
			IdleTTL: 30 * time.Minute,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Normalize fills in defaults and replaces unknown enum values.
func (w *WidgetConfig) Normalize() {
	if strings.TrimSpace(w.Title) == "" {
		w.Title = defaultTitle
	}
	switch w.DefaultView {
	case ViewDay, ViewWeek, ViewMonth:
		// ok
	default:
		w.DefaultView = ViewWeek
	}
	if w.EntityPrefix == "" {
		w.EntityPrefix = defaultEntityPrefix
	}
	if w.Locale == "" {
		w.Locale = defaultLocale
	}
	switch w.Theme {
	case ThemeAuto, ThemeLight, ThemeDark:
		// ok
	default:
		w.Theme = ThemeAuto
	}

	// Drop blanks and duplicates while keeping the configured order.
	if len(w.Entities) > 0 {
		seen := make(map[string]struct{}, len(w.Entities))
		out := w.Entities[:0]
		for _, e := range w.Entities {
			e = strings.TrimSpace(e)
			if e == "" {
				continue
			}
			if _, dup := seen[e]; dup {
				continue
			}
			seen[e] = struct{}{}
			out = append(out, e)
		}
		w.Entities = out
	}
	if w.Colors == nil {
		w.Colors = map[string]model.ColorSpec{}
	}
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	def := DefaultConfig()

	if c.Listen == "" {
		c.Listen = def.Listen
	}
	if c.Timezone == "" {
		c.Timezone = def.Timezone
	}
	if c.RefreshCron == "" {
		c.RefreshCron = def.RefreshCron
	}

	c.Widget.Normalize()

	c.Hass.URL = strings.TrimRight(c.Hass.URL, "/")
	if c.Hass.RateLimit < 0 {
		c.Hass.RateLimit = 0
	}
	if c.Hass.RateLimit > 0 && c.Hass.Burst <= 0 {
		c.Hass.Burst = 1
	}

	if c.ICS == nil {
		c.ICS = []ICSConfig{}
	}
	if c.ICSCacheDir == "" {
		c.ICSCacheDir = def.ICSCacheDir
	}

	if c.Fetch.Timeout < 0 {
		c.Fetch.Timeout = 0
	}
	if c.Fetch.MaxAttempts <= 0 {
		c.Fetch.MaxAttempts = def.Fetch.MaxAttempts
	}
	if c.Fetch.BackoffInitial <= 0 {
		c.Fetch.BackoffInitial = def.Fetch.BackoffInitial
	}
	if c.Fetch.BackoffMax < c.Fetch.BackoffInitial {
		c.Fetch.BackoffMax = c.Fetch.BackoffInitial
	}
	if c.Fetch.Concurrency <= 0 {
		c.Fetch.Concurrency = def.Fetch.Concurrency
	}

	if c.Sessions.Max <= 0 {
		c.Sessions.Max = def.Sessions.Max
	}
	if c.Sessions.IdleTTL <= 0 {
		c.Sessions.IdleTTL = def.Sessions.IdleTTL
	}

	switch strings.ToLower(c.Log.Format) {
	case "json", "text":
		c.Log.Format = strings.ToLower(c.Log.Format)
	default:
		c.Log.Format = def.Log.Format
	}
	if c.Log.Level == "" {
		c.Log.Level = def.Log.Level
	}
}

// Location resolves Timezone, falling back to UTC for unknown names.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist, a default config is written with 0600
//     permissions (parent directories created) and returned.
//   - Otherwise the YAML is decoded and normalized.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()

	return cfg, nil
}

// Save writes cfg to path atomically (temp file + rename) with 0600
// permissions, creating the parent directory with 0700 if needed.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".calview-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}

	return os.Rename(tmpName, path)
}

// Save is a convenience method on Config that delegates to Save.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
