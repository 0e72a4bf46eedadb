// Package gcal exposes Google calendars as calendar sources.
package gcal

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	appLog "calview/internal/log"
	"calview/internal/model"
	"calview/internal/source"
)

// SourcePrefix namespaces Google calendars among calendar sources.
const SourcePrefix = "gcal."

// Provider lists events of a fixed set of Google calendars.
type Provider struct {
	service   *calendar.Service
	calendars []string
	known     map[string]bool
}

// NewFromCredentialsFile builds a provider from a service account JSON file.
func NewFromCredentialsFile(ctx context.Context, path string, calendarIDs []string) (*Provider, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("gcal: read credentials: %w", err)
	}
	cfg, err := google.JWTConfigFromJSON(data, calendar.CalendarReadonlyScope)
	if err != nil {
		return nil, fmt.Errorf("gcal: parse credentials: %w", err)
	}
	svc, err := calendar.NewService(ctx, option.WithTokenSource(cfg.TokenSource(ctx)))
	if err != nil {
		return nil, fmt.Errorf("gcal: create service: %w", err)
	}
	return newProvider(svc, calendarIDs), nil
}

// NewFromHTTP builds a provider on a pre-authorized HTTP client.
func NewFromHTTP(ctx context.Context, client *http.Client, calendarIDs []string) (*Provider, error) {
	svc, err := calendar.NewService(ctx, option.WithHTTPClient(client))
	if err != nil {
		return nil, fmt.Errorf("gcal: create service: %w", err)
	}
	return newProvider(svc, calendarIDs), nil
}

func newProvider(svc *calendar.Service, calendarIDs []string) *Provider {
	p := &Provider{service: svc, known: make(map[string]bool, len(calendarIDs))}
	for _, id := range calendarIDs {
		id = strings.TrimSpace(id)
		if id == "" || p.known[id] {
			continue
		}
		p.known[id] = true
		p.calendars = append(p.calendars, id)
	}
	return p
}

func (p *Provider) Name() string { return "gcal" }

func (p *Provider) Handles(id string) bool {
	return strings.HasPrefix(id, SourcePrefix) && p.known[id[len(SourcePrefix):]]
}

func (p *Provider) Discover(context.Context, string) ([]string, error) {
	ids := make([]string, 0, len(p.calendars))
	for _, c := range p.calendars {
		ids = append(ids, SourcePrefix+c)
	}
	return ids, nil
}

// Fetch lists single (expanded) instances overlapping w in start order.
func (p *Provider) Fetch(ctx context.Context, id string, w model.Window) ([]model.RawEvent, error) {
	if !p.Handles(id) {
		return nil, fmt.Errorf("%w: %s", source.ErrUnknownSource, id)
	}
	calID := strings.TrimPrefix(id, SourcePrefix)

	out := make([]model.RawEvent, 0)
	call := p.service.Events.List(calID).
		TimeMin(model.ISO(w.Start)).
		TimeMax(model.ISO(w.End)).
		SingleEvents(true).
		OrderBy("startTime").
		ShowDeleted(false)

	err := call.Pages(ctx, func(page *calendar.Events) error {
		for _, item := range page.Items {
			if item.Status == "cancelled" {
				continue
			}
			raw, derr := decode(item)
			if derr != nil {
				appLog.Warn("gcal: malformed event", "calendar", calID, "event", item.Id, "err", derr)
			}
			out = append(out, raw)
		}
		return nil
	})
	if err != nil {
		return nil, wrapAPIError(err)
	}
	return out, nil
}

func decode(item *calendar.Event) (model.RawEvent, error) {
	raw := model.RawEvent{ID: item.Id, Title: item.Summary}
	var errs []error

	start, err := moment(item.Start)
	if err != nil {
		errs = append(errs, fmt.Errorf("start: %w", err))
	}
	end, err := moment(item.End)
	if err != nil {
		errs = append(errs, fmt.Errorf("end: %w", err))
	}
	raw.Start, raw.End = start, end
	return raw, errors.Join(errs...)
}

func moment(dt *calendar.EventDateTime) (model.Moment, error) {
	if dt == nil {
		return model.ParseMoment("", "")
	}
	return model.ParseMoment(dt.DateTime, dt.Date)
}

// StatusError is a non-OK answer from the Calendar API.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("gcal: status %d: %s", e.Code, e.Message)
}

// Permanent reports whether retrying cannot help.
func (e *StatusError) Permanent() bool {
	if e.Code == http.StatusTooManyRequests || e.Code == http.StatusRequestTimeout {
		return false
	}
	return e.Code >= 400 && e.Code < 500
}

func wrapAPIError(err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return &StatusError{Code: gerr.Code, Message: gerr.Message}
	}
	return err
}
