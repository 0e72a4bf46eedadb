package widget

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"calview/internal/colors"
	"calview/internal/config"
	"calview/internal/fetch"
	"calview/internal/model"
	"calview/internal/normalize"
	"calview/internal/rangecache"
)

type fakeDiscoverer struct {
	ids   []string
	err   error
	calls atomic.Int32
}

func (d *fakeDiscoverer) Discover(_ context.Context, prefix string) ([]string, error) {
	d.calls.Add(1)
	if d.err != nil {
		return nil, d.err
	}
	var out []string
	for _, id := range d.ids {
		if strings.HasPrefix(id, prefix) {
			out = append(out, id)
		}
	}
	return out, nil
}

type loadFunc func(ctx context.Context, sources []string, w model.Window) (fetch.Result, error)

type fakeLoader struct {
	fn loadFunc
}

func (l *fakeLoader) Load(ctx context.Context, cache *rangecache.Cache, norm *normalize.Normalizer, sources []string, w model.Window) (fetch.Result, error) {
	res, err := l.fn(ctx, sources, w)
	if err == nil && !res.Cached {
		cache.Put(w.Key(), res.Events)
	}
	return res, err
}

func day(t *testing.T, d int) model.Window {
	t.Helper()
	start := time.Date(2024, 1, d, 0, 0, 0, 0, time.UTC)
	w, err := model.NewWindow(start, start.AddDate(0, 0, 1))
	require.NoError(t, err)
	return w
}

func eventsFor(w model.Window, source string) []model.DisplayEvent {
	n := normalize.New(nil)
	return []model.DisplayEvent{n.Normalize(source, 0, model.RawEvent{
		Title: "Standup",
		Start: model.TimedMoment(w.Start.Add(9 * time.Hour)),
		End:   model.TimedMoment(w.Start.Add(10 * time.Hour)),
	})}
}

func staticLoader() *fakeLoader {
	return &fakeLoader{fn: func(_ context.Context, sources []string, w model.Window) (fetch.Result, error) {
		var evs []model.DisplayEvent
		for _, s := range sources {
			evs = append(evs, eventsFor(w, s)...)
		}
		return fetch.Result{Events: evs}, nil
	}}
}

func readySession(t *testing.T, d Discoverer, l Loader, n Notifier, cfg config.WidgetConfig) *Session {
	t.Helper()
	s := NewSession(d, l, n)
	require.NoError(t, s.Configure(cfg))
	require.NoError(t, s.Attach(context.Background()))
	require.Equal(t, StateReady, s.State())
	return s
}

func TestLifecycle(t *testing.T) {
	d := &fakeDiscoverer{ids: []string{"calendar.a"}}
	s := NewSession(d, staticLoader(), nil)
	assert.Equal(t, StateUnconfigured, s.State())

	_, err := s.SetWindow(context.Background(), day(t, 8))
	assert.ErrorIs(t, err, ErrInvalidState)
	assert.ErrorIs(t, s.Attach(context.Background()), ErrInvalidState)
	_, err = s.Options()
	assert.ErrorIs(t, err, ErrInvalidState)

	require.NoError(t, s.Configure(config.WidgetConfig{}))
	assert.Equal(t, StateLoading, s.State())
	assert.ErrorIs(t, s.Refresh(context.Background()), ErrInvalidState)

	require.NoError(t, s.Attach(context.Background()))
	assert.Equal(t, StateReady, s.State())
	assert.Equal(t, []string{"calendar.a"}, s.Sources())

	require.NoError(t, s.Configure(config.WidgetConfig{Title: "Again"}))
	assert.Equal(t, StateLoading, s.State())

	s.Destroy()
	s.Destroy()
	assert.Equal(t, StateDestroyed, s.State())
	assert.ErrorIs(t, s.Configure(config.WidgetConfig{}), ErrInvalidState)
	assert.ErrorIs(t, s.Attach(context.Background()), ErrInvalidState)
}

func TestEntityPrefixNarrowsDiscovery(t *testing.T) {
	d := &fakeDiscoverer{ids: []string{"calendar.work_team", "calendar.home", "calendar.work_oncall"}}

	s := readySession(t, d, staticLoader(), nil, config.WidgetConfig{EntityPrefix: "calendar.work_"})
	assert.Equal(t, []string{"calendar.work_team", "calendar.work_oncall"}, s.Sources())

	all := readySession(t, d, staticLoader(), nil, config.WidgetConfig{})
	assert.Len(t, all.Sources(), 3)
}

func TestExplicitEntitiesSkipDiscovery(t *testing.T) {
	d := &fakeDiscoverer{ids: []string{"calendar.x"}}
	s := readySession(t, d, staticLoader(), nil, config.WidgetConfig{
		Entities: []string{"calendar.b", " calendar.a ", "calendar.b"},
	})
	assert.Equal(t, []string{"calendar.b", "calendar.a"}, s.Sources())
	assert.EqualValues(t, 0, d.calls.Load())
}

func TestAttachDiscoveryFailureStaysLoading(t *testing.T) {
	d := &fakeDiscoverer{err: errors.New("host unreachable")}
	s := NewSession(d, staticLoader(), nil)
	require.NoError(t, s.Configure(config.WidgetConfig{}))
	assert.Error(t, s.Attach(context.Background()))
	assert.Equal(t, StateLoading, s.State())
}

func TestSetWindowUpdatesVisible(t *testing.T) {
	s := readySession(t, &fakeDiscoverer{ids: []string{"calendar.a", "calendar.b"}}, staticLoader(), nil, config.WidgetConfig{})

	w := day(t, 8)
	view, err := s.SetWindow(context.Background(), w)
	require.NoError(t, err)
	assert.False(t, view.Stale)
	require.Len(t, view.Events, 2)
	assert.Equal(t, "calendar.a", view.Events[0].SourceID)

	gotW, visible := s.Visible()
	assert.Equal(t, w, gotW)
	assert.Equal(t, view.Events, visible)

	_, err = s.SetWindow(context.Background(), model.Window{Start: w.End, End: w.Start})
	assert.ErrorIs(t, err, model.ErrInvalidWindow)
}

func TestSupersededWindowIsCanceled(t *testing.T) {
	entered := make(chan struct{})
	w1, w2 := day(t, 8), day(t, 9)
	l := &fakeLoader{fn: func(ctx context.Context, sources []string, w model.Window) (fetch.Result, error) {
		if w == w1 {
			close(entered)
			<-ctx.Done()
			return fetch.Result{}, ctx.Err()
		}
		return fetch.Result{Events: eventsFor(w, sources[0])}, nil
	}}
	s := readySession(t, &fakeDiscoverer{ids: []string{"calendar.a"}}, l, nil, config.WidgetConfig{})

	type outcome struct {
		view View
		err  error
	}
	done := make(chan outcome, 1)
	go func() {
		v, err := s.SetWindow(context.Background(), w1)
		done <- outcome{v, err}
	}()
	<-entered

	view, err := s.SetWindow(context.Background(), w2)
	require.NoError(t, err)
	assert.False(t, view.Stale)

	first := <-done
	assert.ErrorIs(t, first.err, ErrSuperseded)
	assert.True(t, first.view.Stale)

	gotW, _ := s.Visible()
	assert.Equal(t, w2, gotW)
}

func TestPeekDoesNotSupersedeOtherViewers(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	week, month := day(t, 8), day(t, 9)
	l := &fakeLoader{fn: func(ctx context.Context, sources []string, w model.Window) (fetch.Result, error) {
		if w == week {
			close(entered)
			select {
			case <-release:
			case <-ctx.Done():
				return fetch.Result{}, ctx.Err()
			}
		}
		return fetch.Result{Events: eventsFor(w, sources[0])}, nil
	}}
	s := readySession(t, &fakeDiscoverer{ids: []string{"calendar.a"}}, l, nil, config.WidgetConfig{})

	type outcome struct {
		view View
		err  error
	}
	done := make(chan outcome, 1)
	go func() {
		v, err := s.Peek(context.Background(), week)
		done <- outcome{v, err}
	}()
	<-entered

	other, err := s.Peek(context.Background(), month)
	require.NoError(t, err)
	assert.False(t, other.Stale)
	assert.Len(t, other.Events, 1)
	close(release)

	first := <-done
	require.NoError(t, first.err)
	assert.False(t, first.view.Stale)
	require.Len(t, first.view.Events, 1)

	gotW, visible := s.Visible()
	assert.True(t, gotW.Start.IsZero())
	assert.Empty(t, visible)

	act, err := s.Activate(first.view.Events[0].ID)
	require.NoError(t, err)
	assert.Equal(t, "calendar.a", act.SourceID)
}

func TestPeekRequiresReady(t *testing.T) {
	s := NewSession(&fakeDiscoverer{}, staticLoader(), nil)
	_, err := s.Peek(context.Background(), day(t, 8))
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestLateResultIsStaleButCached(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	w1, w2 := day(t, 8), day(t, 9)
	l := &fakeLoader{fn: func(_ context.Context, sources []string, w model.Window) (fetch.Result, error) {
		if w == w1 {
			close(entered)
			<-release
		}
		return fetch.Result{Events: eventsFor(w, sources[0])}, nil
	}}
	s := readySession(t, &fakeDiscoverer{ids: []string{"calendar.a"}}, l, nil, config.WidgetConfig{})

	done := make(chan View, 1)
	go func() {
		v, err := s.SetWindow(context.Background(), w1)
		assert.NoError(t, err)
		done <- v
	}()
	<-entered

	_, err := s.SetWindow(context.Background(), w2)
	require.NoError(t, err)
	close(release)

	late := <-done
	assert.True(t, late.Stale)
	assert.Len(t, late.Events, 1)

	gotW, visible := s.Visible()
	assert.Equal(t, w2, gotW)
	assert.Equal(t, eventsFor(w2, "calendar.a"), visible)

	s.mu.Lock()
	_, cached := s.cache.Get(w1.Key())
	s.mu.Unlock()
	assert.True(t, cached)
}

func TestDestroyCancelsInflight(t *testing.T) {
	entered := make(chan struct{})
	l := &fakeLoader{fn: func(ctx context.Context, _ []string, _ model.Window) (fetch.Result, error) {
		close(entered)
		<-ctx.Done()
		return fetch.Result{}, ctx.Err()
	}}
	s := readySession(t, &fakeDiscoverer{ids: []string{"calendar.a"}}, l, nil, config.WidgetConfig{})

	done := make(chan error, 1)
	go func() {
		_, err := s.SetWindow(context.Background(), day(t, 8))
		done <- err
	}()
	<-entered
	s.Destroy()

	assert.ErrorIs(t, <-done, ErrInvalidState)
}

func TestRefreshResetsCacheWhenSourcesChange(t *testing.T) {
	d := &fakeDiscoverer{ids: []string{"calendar.a"}}
	s := readySession(t, d, staticLoader(), nil, config.WidgetConfig{})

	_, err := s.SetWindow(context.Background(), day(t, 8))
	require.NoError(t, err)

	require.NoError(t, s.Refresh(context.Background()))
	s.mu.Lock()
	assert.Equal(t, 1, s.cache.Len())
	s.mu.Unlock()

	d.ids = []string{"calendar.a", "calendar.b"}
	require.NoError(t, s.Refresh(context.Background()))
	s.mu.Lock()
	assert.Equal(t, 0, s.cache.Len())
	s.mu.Unlock()
	assert.Equal(t, []string{"calendar.a", "calendar.b"}, s.Sources())
}

func TestActivate(t *testing.T) {
	var got []Activation
	n := NotifierFunc(func(a Activation) { got = append(got, a) })
	s := readySession(t, &fakeDiscoverer{ids: []string{"calendar.team"}}, staticLoader(), n, config.WidgetConfig{})

	view, err := s.SetWindow(context.Background(), day(t, 8))
	require.NoError(t, err)
	require.Len(t, view.Events, 1)

	act, err := s.Activate(view.Events[0].ID)
	require.NoError(t, err)
	assert.Equal(t, Activation{Type: "hass-more-info", SourceID: "calendar.team"}, act)
	assert.Equal(t, []Activation{act}, got)

	_, err = s.Activate("calendar.team:9:nope")
	assert.ErrorIs(t, err, ErrEventNotFound)
}

func TestOptionsAndLegend(t *testing.T) {
	s := readySession(t, &fakeDiscoverer{ids: []string{"calendar.a", "calendar.b"}}, staticLoader(), nil, config.WidgetConfig{
		DefaultView: "listWeek",
		Colors: map[string]model.ColorSpec{
			"calendar.a": {Background: "#112233"},
		},
	})

	opts, err := s.Options()
	require.NoError(t, err)
	assert.Equal(t, config.ViewWeek, opts.View)
	assert.Equal(t, "prev,next today", opts.HeaderToolbar.Left)
	assert.Equal(t, "title", opts.HeaderToolbar.Center)
	assert.Equal(t, "dayGridMonth,timeGridWeek,timeGridDay", opts.HeaderToolbar.Right)
	assert.Equal(t, "auto", opts.Height)
	assert.False(t, opts.Editable)
	assert.True(t, opts.NowIndicator)
	assert.Equal(t, "en", opts.Locale)
	assert.Equal(t, "Calendar", opts.Title)

	legend, err := s.Legend()
	require.NoError(t, err)
	require.Len(t, legend, 2)
	assert.Equal(t, "#112233", legend[0].Background)
	assert.Equal(t, colors.DefaultText, legend[0].Text)
	assert.Equal(t, colors.Derive("calendar.b"), legend[1].Background)
}

func TestStateMarshalText(t *testing.T) {
	b, err := StateReady.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "ready", string(b))
	assert.Equal(t, "unknown", State(42).String())
}

func TestManagerSessions(t *testing.T) {
	m := NewManager(&fakeDiscoverer{ids: []string{"calendar.a"}}, staticLoader(), nil, ManagerOptions{Max: 2})

	id1, s1, err := m.Create(context.Background(), config.WidgetConfig{})
	require.NoError(t, err)
	got, err := m.Get(id1)
	require.NoError(t, err)
	assert.Same(t, s1, got)

	_, _, err = m.Create(context.Background(), config.WidgetConfig{})
	require.NoError(t, err)
	_, _, err = m.Create(context.Background(), config.WidgetConfig{})
	require.NoError(t, err)
	assert.Equal(t, 2, m.Len())

	// id1 was touched first and is evicted once the table is full.
	_, err = m.Get(id1)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.Equal(t, StateDestroyed, s1.State())

	assert.ErrorIs(t, m.Remove(id1), ErrSessionNotFound)
}

func TestManagerRemoveDestroys(t *testing.T) {
	m := NewManager(&fakeDiscoverer{ids: []string{"calendar.a"}}, staticLoader(), nil, ManagerOptions{})
	id, s, err := m.Create(context.Background(), config.WidgetConfig{})
	require.NoError(t, err)

	require.NoError(t, m.Remove(id))
	assert.Equal(t, StateDestroyed, s.State())
	_, err = m.Get(id)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestManagerCreateFailsOnDiscovery(t *testing.T) {
	m := NewManager(&fakeDiscoverer{err: errors.New("down")}, staticLoader(), nil, ManagerOptions{})
	_, _, err := m.Create(context.Background(), config.WidgetConfig{})
	assert.Error(t, err)
	assert.Equal(t, 0, m.Len())
}

func TestManagerDefaultAndRefresh(t *testing.T) {
	d := &fakeDiscoverer{err: errors.New("down")}
	m := NewManager(d, staticLoader(), nil, ManagerOptions{})

	_, err := m.Default()
	assert.ErrorIs(t, err, ErrSessionNotFound)

	require.NoError(t, m.SetDefault(context.Background(), config.WidgetConfig{}))
	def, err := m.Default()
	require.NoError(t, err)
	assert.Equal(t, StateLoading, def.State())

	d.err = nil
	d.ids = []string{"calendar.a"}
	require.NoError(t, m.RefreshAll(context.Background()))
	assert.Equal(t, StateReady, def.State())

	m.Close()
	assert.Equal(t, StateDestroyed, def.State())
}

func TestStateUnmarshalText(t *testing.T) {
	var st State
	require.NoError(t, st.UnmarshalText([]byte("destroyed")))
	assert.Equal(t, StateDestroyed, st)
	assert.Error(t, st.UnmarshalText([]byte("paused")))
}
