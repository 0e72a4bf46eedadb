// Package source routes calendar source identifiers to the provider that
// can discover and fetch them.
package source

import (
	"context"
	"errors"
	"fmt"

	appLog "calview/internal/log"
	"calview/internal/model"
)

// ErrUnknownSource is returned when no provider handles a source ID.
var ErrUnknownSource = errors.New("unknown source")

// Provider is one backend (host API, ICS feeds, Google Calendar).
type Provider interface {
	// Name is a short label used in logs and metrics.
	Name() string
	// Handles reports whether id belongs to this provider.
	Handles(id string) bool
	// Discover lists the source IDs this provider currently offers. prefix
	// narrows host entity IDs; providers with their own namespace ignore it.
	Discover(ctx context.Context, prefix string) ([]string, error)
	// Fetch returns the raw records of one source within w, in source order.
	Fetch(ctx context.Context, id string, w model.Window) ([]model.RawEvent, error)
}

// Router dispatches to providers in priority order.
type Router struct {
	providers []Provider
}

func NewRouter(providers ...Provider) *Router {
	ps := make([]Provider, 0, len(providers))
	for _, p := range providers {
		if p != nil {
			ps = append(ps, p)
		}
	}
	return &Router{providers: ps}
}

// Providers returns the registered providers in priority order.
func (r *Router) Providers() []Provider {
	return append([]Provider(nil), r.providers...)
}

// Lookup returns the provider for id.
func (r *Router) Lookup(id string) (Provider, error) {
	for _, p := range r.providers {
		if p.Handles(id) {
			return p, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownSource, id)
}

// Fetch routes to the owning provider.
func (r *Router) Fetch(ctx context.Context, id string, w model.Window) ([]model.RawEvent, error) {
	p, err := r.Lookup(id)
	if err != nil {
		return nil, err
	}
	return p.Fetch(ctx, id, w)
}

// Discover concatenates every provider's sources in provider order,
// dropping duplicates. A failing provider is logged and skipped; the
// combined error is returned only if every provider failed.
func (r *Router) Discover(ctx context.Context, prefix string) ([]string, error) {
	var (
		out  []string
		errs []error
		seen = make(map[string]struct{})
	)
	for _, p := range r.providers {
		ids, err := p.Discover(ctx, prefix)
		if err != nil {
			appLog.Error("source discovery failed", err, "provider", p.Name())
			errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
			continue
		}
		for _, id := range ids {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	if len(errs) > 0 && len(errs) == len(r.providers) {
		return nil, errors.Join(errs...)
	}
	return out, nil
}
