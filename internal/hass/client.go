// Package hass talks to the host dashboard's REST API: it discovers calendar
// entities from the live state registry and reads their events per window.
package hass

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	appLog "calview/internal/log"
	"calview/internal/model"
)

const (
	providerName   = "hass"
	defaultTimeout = 15 * time.Second
	maxErrorBody   = 512
)

// StatusError is a non-2xx answer from the host API.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("hass: unexpected status %d", e.Code)
	}
	return fmt.Sprintf("hass: unexpected status %d: %s", e.Code, e.Body)
}

// Permanent reports whether retrying cannot help.
func (e *StatusError) Permanent() bool {
	if e.Code == http.StatusTooManyRequests || e.Code == http.StatusRequestTimeout {
		return false
	}
	return e.Code >= 400 && e.Code < 500
}

// Options configures a Client.
type Options struct {
	BaseURL string
	Token   string
	// Prefix filters discovered entity IDs; defaults to "calendar.".
	Prefix string
	// RateLimit is requests per second; zero disables limiting.
	RateLimit float64
	Burst     int
	// HTTPClient overrides the default client (15s timeout).
	HTTPClient *http.Client
}

// Client is a source.Provider backed by the host API.
type Client struct {
	base    string
	token   string
	prefix  string
	http    *http.Client
	limiter *rate.Limiter
}

func NewClient(opts Options) (*Client, error) {
	if opts.BaseURL == "" {
		return nil, errors.New("hass: base URL is required")
	}
	if _, err := url.Parse(opts.BaseURL); err != nil {
		return nil, fmt.Errorf("hass: invalid base URL: %w", err)
	}

	c := &Client{
		base:   strings.TrimRight(opts.BaseURL, "/"),
		token:  opts.Token,
		prefix: opts.Prefix,
		http:   opts.HTTPClient,
	}
	if c.prefix == "" {
		c.prefix = "calendar."
	}
	if c.http == nil {
		c.http = &http.Client{Timeout: defaultTimeout}
	}
	if opts.RateLimit > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}
	return c, nil
}

func (c *Client) Name() string { return providerName }

// Handles accepts every ID; the router consults this provider last.
func (c *Client) Handles(string) bool { return true }

type stateEntry struct {
	EntityID string `json:"entity_id"`
}

// Discover lists entity IDs from /api/states that carry prefix, in registry
// order. An empty prefix falls back to the client's configured one.
func (c *Client) Discover(ctx context.Context, prefix string) ([]string, error) {
	if prefix == "" {
		prefix = c.prefix
	}

	var states []stateEntry
	if err := c.getJSON(ctx, "/api/states", nil, &states); err != nil {
		return nil, err
	}

	ids := make([]string, 0)
	for _, s := range states {
		if strings.HasPrefix(s.EntityID, prefix) {
			ids = append(ids, s.EntityID)
		}
	}
	appLog.Debug("hass discovery completed", "prefix", prefix, "count", len(ids))
	return ids, nil
}

// Fetch reads GET /api/calendars/{id}?start=..&end=.. and decodes each record.
// Malformed records are logged and passed through with the broken side left
// empty.
func (c *Client) Fetch(ctx context.Context, id string, w model.Window) ([]model.RawEvent, error) {
	q := url.Values{}
	q.Set("start", model.ISO(w.Start))
	q.Set("end", model.ISO(w.End))

	var wire []wireEvent
	if err := c.getJSON(ctx, "/api/calendars/"+url.PathEscape(id), q, &wire); err != nil {
		return nil, err
	}

	out := make([]model.RawEvent, 0, len(wire))
	malformed := 0
	for i, we := range wire {
		raw, err := we.decode()
		if err != nil {
			malformed++
			appLog.Warn("hass: malformed calendar record", "source", id, "index", i, "err", err)
		}
		out = append(out, raw)
	}
	appLog.Debug("hass fetch completed", "source", id, "count", len(out), "malformed", malformed)
	return out, nil
}

func (c *Client) getJSON(ctx context.Context, path string, q url.Values, into any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	u := c.base + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	if err := json.NewDecoder(resp.Body).Decode(into); err != nil {
		return fmt.Errorf("hass: decode %s: %w", path, err)
	}
	return nil
}
