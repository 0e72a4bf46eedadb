// Package fetch loads the events of a visible window from every configured
// source, merges them and fills the session's range cache.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	appLog "calview/internal/log"
	"calview/internal/metrics"
	"calview/internal/model"
	"calview/internal/normalize"
	"calview/internal/rangecache"
	"calview/internal/source"
)

// Router resolves a source ID to its provider.
type Router interface {
	Lookup(id string) (source.Provider, error)
}

// Options tune per-source fetching. Zero values take defaults.
type Options struct {
	// Timeout bounds a single attempt against one source. Zero disables it.
	Timeout        time.Duration
	MaxAttempts    int
	BackoffInitial time.Duration
	BackoffMax     time.Duration
	Concurrency    int
	Metrics        *metrics.Metrics
}

// SourceFailure is a source excluded from a merged result.
type SourceFailure struct {
	Source string
	Err    error
}

func (f SourceFailure) Error() string {
	return fmt.Sprintf("%s: %v", f.Source, f.Err)
}

// Result is the merged outcome for one window.
type Result struct {
	Events   []model.DisplayEvent
	Failures []SourceFailure
	// Cached is true when Events came from the range cache without any
	// provider calls.
	Cached bool
}

type Orchestrator struct {
	router Router
	opts   Options
	group  singleflight.Group
}

func New(router Router, opts Options) *Orchestrator {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 1
	}
	if opts.BackoffInitial <= 0 {
		opts.BackoffInitial = 200 * time.Millisecond
	}
	if opts.BackoffMax < opts.BackoffInitial {
		opts.BackoffMax = opts.BackoffInitial
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 8
	}
	return &Orchestrator{router: router, opts: opts}
}

// Load returns the events of w for sources. A cache hit makes no provider
// calls. On a miss every source is fetched concurrently; failed sources are
// reported in Result.Failures and the rest are merged in source order, then
// record order, and cached under w.Key() unless every source failed. A
// canceled ctx discards the merge.
func (o *Orchestrator) Load(ctx context.Context, cache *rangecache.Cache, norm *normalize.Normalizer, sources []string, w model.Window) (Result, error) {
	if err := w.Validate(); err != nil {
		return Result{}, err
	}
	key := w.Key()
	if events, ok := cache.Get(key); ok {
		o.opts.Metrics.CacheLookup(true)
		return Result{Events: events, Cached: true}, nil
	}
	o.opts.Metrics.CacheLookup(false)

	flightKey := fmt.Sprintf("%p|%s|%s", cache, key, strings.Join(sources, ","))
	for {
		ch := o.group.DoChan(flightKey, func() (any, error) {
			return o.load(ctx, cache, norm, sources, w)
		})

		select {
		case <-ctx.Done():
			return Result{}, ctx.Err()
		case res := <-ch:
			if res.Err != nil {
				// The shared call belonged to a caller that went away.
				if errors.Is(res.Err, context.Canceled) && ctx.Err() == nil {
					continue
				}
				return Result{}, res.Err
			}
			r := res.Val.(Result)
			r.Failures = append([]SourceFailure(nil), r.Failures...)
			return r, nil
		}
	}
}

func (o *Orchestrator) load(ctx context.Context, cache *rangecache.Cache, norm *normalize.Normalizer, sources []string, w model.Window) (Result, error) {
	// A flight that finished between the caller's lookup and this one.
	if events, ok := cache.Get(w.Key()); ok {
		return Result{Events: events, Cached: true}, nil
	}

	batches := make([][]model.RawEvent, len(sources))
	errs := make([]error, len(sources))

	var g errgroup.Group
	g.SetLimit(o.opts.Concurrency)
	for i, id := range sources {
		g.Go(func() error {
			batches[i], errs[i] = o.fetchOne(ctx, id, w)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		appLog.Debug("fetch: window abandoned", "window", w.Key())
		return Result{}, err
	}

	var res Result
	merged := make([]model.DisplayEvent, 0)
	for i, id := range sources {
		if errs[i] != nil {
			appLog.Error("fetch: source failed", errs[i], "source", id, "window", w.Key())
			res.Failures = append(res.Failures, SourceFailure{Source: id, Err: errs[i]})
			continue
		}
		merged = append(merged, norm.All(id, batches[i])...)
	}

	// A window nothing answered for is retried on the next load.
	if len(sources) == 0 || len(res.Failures) < len(sources) {
		cache.Put(w.Key(), merged)
	}
	res.Events = merged
	appLog.Debug("fetch: window loaded", "window", w.Key(), "events", len(merged), "failures", len(res.Failures))
	return res, nil
}

// fetchOne retries transient failures of one source with exponential backoff.
func (o *Orchestrator) fetchOne(ctx context.Context, id string, w model.Window) ([]model.RawEvent, error) {
	p, err := o.router.Lookup(id)
	if err != nil {
		return nil, err
	}

	started := time.Now()
	op := func() ([]model.RawEvent, error) {
		actx := ctx
		if o.opts.Timeout > 0 {
			var cancel context.CancelFunc
			actx, cancel = context.WithTimeout(ctx, o.opts.Timeout)
			defer cancel()
		}
		raws, err := p.Fetch(actx, id, w)
		if err == nil {
			return raws, nil
		}
		if ctx.Err() != nil {
			return nil, backoff.Permanent(ctx.Err())
		}
		if isPermanent(err) {
			return nil, backoff.Permanent(err)
		}
		return nil, err
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = o.opts.BackoffInitial
	b.MaxInterval = o.opts.BackoffMax

	raws, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(o.opts.MaxAttempts)),
		backoff.WithNotify(func(err error, next time.Duration) {
			appLog.Warn("fetch: retrying source", "source", id, "provider", p.Name(), "in", next, "err", err)
		}),
	)
	o.opts.Metrics.SourceFetch(p.Name(), err, time.Since(started))
	return raws, err
}

func isPermanent(err error) bool {
	var perm interface{ Permanent() bool }
	if errors.As(err, &perm) {
		return perm.Permanent()
	}
	return errors.Is(err, source.ErrUnknownSource)
}
