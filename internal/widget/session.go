// Package widget holds the per-viewer calendar widget state: configuration,
// resolved sources, the range cache and the currently visible events.
package widget

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"calview/internal/colors"
	"calview/internal/config"
	"calview/internal/fetch"
	appLog "calview/internal/log"
	"calview/internal/model"
	"calview/internal/normalize"
	"calview/internal/rangecache"
)

var (
	ErrInvalidState    = errors.New("operation not allowed in current state")
	ErrSessionNotFound = errors.New("session not found")
	ErrEventNotFound   = errors.New("event not visible")

	// ErrSuperseded is returned by SetWindow when a newer window canceled
	// the load before it finished.
	ErrSuperseded = errors.New("window superseded")
)

// State is the lifecycle stage of a Session.
type State int

const (
	StateUnconfigured State = iota
	StateLoading
	StateReady
	StateDestroyed
)

func (s State) String() string {
	switch s {
	case StateUnconfigured:
		return "unconfigured"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateDestroyed:
		return "destroyed"
	default:
		return "unknown"
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(b []byte) error {
	for st := StateUnconfigured; st <= StateDestroyed; st++ {
		if st.String() == string(b) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("widget: unknown state %q", b)
}

// Discoverer lists the sources offered by the host. prefix filters host
// entity IDs.
type Discoverer interface {
	Discover(ctx context.Context, prefix string) ([]string, error)
}

// Loader fills a cache with the merged events of one window.
type Loader interface {
	Load(ctx context.Context, cache *rangecache.Cache, norm *normalize.Normalizer, sources []string, w model.Window) (fetch.Result, error)
}

// View is the outcome of moving the widget to a window.
type View struct {
	Window   model.Window
	Events   []model.DisplayEvent
	Failures []fetch.SourceFailure
	Cached   bool
	// Stale marks a result that finished after a newer window was requested.
	// It is cached but never becomes the visible list.
	Stale bool
}

type Session struct {
	discoverer Discoverer
	loader     Loader
	notifier   Notifier

	// life is canceled by Destroy and parents every window load.
	life context.Context
	stop context.CancelFunc

	mu       sync.Mutex
	state    State
	cfg      config.WidgetConfig
	assigner *colors.Assigner
	norm     *normalize.Normalizer
	cache    *rangecache.Cache
	sources  []string

	gen      uint64
	inflight context.CancelFunc
	window   model.Window
	visible  []model.DisplayEvent
}

// NewSession returns an unconfigured session. A nil notifier logs
// activations.
func NewSession(d Discoverer, l Loader, n Notifier) *Session {
	if n == nil {
		n = LogNotifier{}
	}
	life, stop := context.WithCancel(context.Background())
	return &Session{
		discoverer: d,
		loader:     l,
		notifier:   n,
		life:       life,
		stop:       stop,
		state:      StateUnconfigured,
	}
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Configure applies cfg with defaults filled in. It drops the range cache and
// any in-flight window, leaving the session Loading until the next Attach.
func (s *Session) Configure(cfg config.WidgetConfig) error {
	cfg.Entities = slices.Clone(cfg.Entities)
	cfg.Normalize()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateDestroyed {
		return ErrInvalidState
	}

	s.cancelInflight()
	s.cfg = cfg
	s.assigner = colors.NewAssigner(cfg.Colors)
	s.norm = normalize.New(s.assigner)
	s.cache = rangecache.New()
	s.sources = nil
	s.visible = nil
	s.window = model.Window{}
	s.state = StateLoading
	return nil
}

// Attach resolves the source list and makes the session Ready.
func (s *Session) Attach(ctx context.Context) error {
	s.mu.Lock()
	st := s.state
	s.mu.Unlock()
	if st != StateLoading && st != StateReady {
		return ErrInvalidState
	}
	return s.resolve(ctx)
}

// Refresh re-resolves sources after the host registry changed.
func (s *Session) Refresh(ctx context.Context) error {
	if s.State() != StateReady {
		return ErrInvalidState
	}
	return s.resolve(ctx)
}

func (s *Session) resolve(ctx context.Context) error {
	s.mu.Lock()
	explicit := slices.Clone(s.cfg.Entities)
	prefix := s.cfg.EntityPrefix
	s.mu.Unlock()

	sources := explicit
	if len(sources) == 0 {
		found, err := s.discoverer.Discover(ctx, prefix)
		if err != nil {
			return err
		}
		sources = found
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateLoading && s.state != StateReady {
		return ErrInvalidState
	}
	if s.state == StateReady && !slices.Equal(s.sources, sources) {
		// Cached merges reflect the old source list.
		s.cache = rangecache.New()
		appLog.Info("widget sources changed", "count", len(sources))
	}
	s.sources = sources
	s.state = StateReady
	return nil
}

// SetWindow loads w and makes it the visible list. The previous in-flight
// window, if any, is canceled.
func (s *Session) SetWindow(ctx context.Context, w model.Window) (View, error) {
	if err := w.Validate(); err != nil {
		return View{}, err
	}

	s.mu.Lock()
	if s.state != StateReady {
		s.mu.Unlock()
		return View{}, ErrInvalidState
	}
	s.cancelInflight()
	s.gen++
	gen := s.gen
	lctx, cancel := context.WithCancel(ctx)
	s.inflight = cancel
	cache, norm, sources := s.cache, s.norm, slices.Clone(s.sources)
	s.mu.Unlock()

	stopLife := context.AfterFunc(s.life, cancel)
	defer stopLife()
	defer cancel()

	res, err := s.loader.Load(lctx, cache, norm, sources, w)

	s.mu.Lock()
	defer s.mu.Unlock()
	current := s.gen == gen
	if current {
		s.inflight = nil
	}
	if s.state == StateDestroyed {
		return View{}, ErrInvalidState
	}
	if err != nil {
		if !current && ctx.Err() == nil && errors.Is(err, context.Canceled) {
			return View{Window: w, Stale: true}, ErrSuperseded
		}
		return View{}, err
	}

	view := View{Window: w, Events: res.Events, Failures: res.Failures, Cached: res.Cached}
	if !current || s.state != StateReady {
		view.Stale = true
		return view, nil
	}
	s.window = w
	s.visible = res.Events
	return view, nil
}

// Peek loads w through the session's cache without making it the visible
// window and without canceling other loads. Viewers sharing one session go
// through Peek so they never supersede each other.
func (s *Session) Peek(ctx context.Context, w model.Window) (View, error) {
	if err := w.Validate(); err != nil {
		return View{}, err
	}

	s.mu.Lock()
	if s.state != StateReady {
		s.mu.Unlock()
		return View{}, ErrInvalidState
	}
	cache, norm, sources := s.cache, s.norm, slices.Clone(s.sources)
	s.mu.Unlock()

	lctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stopLife := context.AfterFunc(s.life, cancel)
	defer stopLife()

	res, err := s.loader.Load(lctx, cache, norm, sources, w)
	if s.State() == StateDestroyed {
		return View{}, ErrInvalidState
	}
	if err != nil {
		return View{}, err
	}
	return View{Window: w, Events: res.Events, Failures: res.Failures, Cached: res.Cached}, nil
}

// Visible returns the window and events currently shown.
func (s *Session) Visible() (model.Window, []model.DisplayEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.window, s.visible
}

// Sources returns the resolved sources in enumeration order.
func (s *Session) Sources() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.sources)
}

// Activate reports a click on an event to the notifier. The event must be in
// the visible list or in a window this session has served.
func (s *Session) Activate(eventID string) (Activation, error) {
	s.mu.Lock()
	if s.state != StateReady {
		s.mu.Unlock()
		return Activation{}, ErrInvalidState
	}
	var ev model.DisplayEvent
	idx := slices.IndexFunc(s.visible, func(e model.DisplayEvent) bool { return e.ID == eventID })
	if idx >= 0 {
		ev = s.visible[idx]
	} else if found, ok := s.cache.Find(eventID); ok {
		ev = found
	} else {
		s.mu.Unlock()
		return Activation{}, ErrEventNotFound
	}
	act := Activation{Type: MoreInfoEvent, SourceID: ev.SourceID}
	s.mu.Unlock()

	s.notifier.Notify(act)
	return act, nil
}

// Legend returns the color legend over the resolved sources.
func (s *Session) Legend() ([]colors.LegendEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateLoading && s.state != StateReady {
		return nil, ErrInvalidState
	}
	return s.assigner.Legend(s.sources), nil
}

// Options returns the rendering widget configuration.
func (s *Session) Options() (RenderOptions, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateLoading && s.state != StateReady {
		return RenderOptions{}, ErrInvalidState
	}
	return renderOptions(s.cfg), nil
}

// Destroy cancels in-flight work and drops the cache. It is idempotent.
func (s *Session) Destroy() {
	s.stop()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateDestroyed {
		return
	}
	s.cancelInflight()
	s.state = StateDestroyed
	s.cache = nil
	s.visible = nil
	s.sources = nil
}

// cancelInflight must be called with mu held.
func (s *Session) cancelInflight() {
	if s.inflight != nil {
		s.inflight()
		s.inflight = nil
	}
}
