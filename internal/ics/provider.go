package ics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"calview/internal/model"
	"calview/internal/source"
)

// SourcePrefix namespaces ICS feeds among calendar sources.
const SourcePrefix = "ics."

// Provider exposes configured ICS feeds as calendar sources.
type Provider struct {
	fetcher *Fetcher
	feeds   []Feed
	byID    map[string]Feed
	loc     *time.Location
}

// NewProvider keeps feeds in configuration order. loc is the zone timed
// occurrences are rendered in.
func NewProvider(fetcher *Fetcher, feeds []Feed, loc *time.Location) *Provider {
	if loc == nil {
		loc = time.UTC
	}
	p := &Provider{
		fetcher: fetcher,
		byID:    make(map[string]Feed, len(feeds)),
		loc:     loc,
	}
	for _, f := range feeds {
		if f.ID == "" || f.URL == "" {
			continue
		}
		if _, dup := p.byID[SourcePrefix+f.ID]; dup {
			continue
		}
		p.feeds = append(p.feeds, f)
		p.byID[SourcePrefix+f.ID] = f
	}
	return p
}

func (p *Provider) Name() string { return "ics" }

func (p *Provider) Handles(id string) bool {
	_, ok := p.byID[id]
	return ok
}

func (p *Provider) Discover(context.Context, string) ([]string, error) {
	ids := make([]string, 0, len(p.feeds))
	for _, f := range p.feeds {
		ids = append(ids, SourcePrefix+f.ID)
	}
	return ids, nil
}

// Fetch downloads, parses and expands one feed into the window.
func (p *Provider) Fetch(ctx context.Context, id string, w model.Window) ([]model.RawEvent, error) {
	feed, ok := p.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", source.ErrUnknownSource, id)
	}

	res, err := p.fetcher.Fetch(ctx, feed)
	if err != nil {
		return nil, err
	}
	parsed, err := ParseICS(feed, res.Body)
	if err != nil {
		return nil, err
	}
	expanded, err := ExpandOccurrences(parsed, ExpandConfig{
		DisplayLocation: p.loc,
		RangeStart:      w.Start,
		RangeEnd:        w.End,
	})
	if err != nil {
		return nil, err
	}

	out := make([]model.RawEvent, 0, len(expanded.Occurrences))
	for _, occ := range expanded.Occurrences {
		out = append(out, toRawEvent(occ))
	}
	return out, nil
}

func toRawEvent(occ Occurrence) model.RawEvent {
	raw := model.RawEvent{
		ID:    strings.TrimSpace(occ.UID),
		Title: occ.Summary,
	}
	if occ.AllDay {
		raw.Start = model.DateMoment(occ.Start)
		raw.End = model.DateMoment(occ.End)
	} else {
		raw.Start = model.TimedMoment(occ.Start)
		raw.End = model.TimedMoment(occ.End)
	}
	return raw
}
