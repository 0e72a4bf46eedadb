package web

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"calview/internal/config"
	appLog "calview/internal/log"
	"calview/internal/metrics"
	"calview/internal/model"
	"calview/internal/widget"
)

const maxBodyBytes = 1 << 20

// Server exposes widget sessions over HTTP.
type Server struct {
	cfg      *config.Config
	sessions *widget.Manager
	metrics  *metrics.Metrics
	router   *mux.Router
}

// NewServer constructs a new Server. m may be nil.
func NewServer(cfg *config.Config, sessions *widget.Manager, m *metrics.Metrics) *Server {
	s := &Server{
		cfg:      cfg,
		sessions: sessions,
		metrics:  m,
		router:   mux.NewRouter(),
	}
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.router)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		return s.basicAuthMiddleware(h)
	}
	return h
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	// Blank credentials disable auth rather than lock everyone out.
	if s.cfg.BasicAuth.Username == "" || s.cfg.BasicAuth.Password == "" {
		return false
	}
	return true
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="calview", charset="UTF-8"`)
			writeError(w, http.StatusUnauthorized, "unauthorized", "Unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func (s *Server) registerRoutes() {
	r := s.router
	r.Use(s.instrument)

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/api/stub-config", s.handleStubConfig).Methods(http.MethodGet)

	// The sessionless routes act on the default session.
	api := r.PathPrefix("/api").Subrouter()
	s.registerSessionRoutes(api)

	api.HandleFunc("/sessions", s.handleCreateSession).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{id}", s.withSession(s.handleSessionInfo)).Methods(http.MethodGet)
	api.HandleFunc("/sessions/{id}", s.handleDeleteSession).Methods(http.MethodDelete)
	s.registerSessionRoutes(api.PathPrefix("/sessions/{id}").Subrouter())

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not_found", "no such route")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	})
}

func (s *Server) registerSessionRoutes(r *mux.Router) {
	r.HandleFunc("/options", s.withSession(s.handleOptions)).Methods(http.MethodGet)
	r.HandleFunc("/legend", s.withSession(s.handleLegend)).Methods(http.MethodGet)
	r.HandleFunc("/events", s.withSession(s.handleEvents)).Methods(http.MethodGet)
	r.HandleFunc("/activate", s.withSession(s.handleActivate)).Methods(http.MethodPost)
	r.HandleFunc("/refresh", s.withSession(s.handleRefresh)).Methods(http.MethodPost)
}

type sessionHandler func(w http.ResponseWriter, r *http.Request, id string, sess *widget.Session)

// withSession resolves {id} to a live session, or the default session when
// the route has no id.
func (s *Server) withSession(h sessionHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, scoped := mux.Vars(r)["id"]

		var (
			sess *widget.Session
			err  error
		)
		if scoped {
			sess, err = s.sessions.Get(id)
		} else {
			sess, err = s.sessions.Default()
		}
		if err != nil {
			writeErr(w, err)
			return
		}
		h(w, r, id, sess)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (s *Server) handleStubConfig(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, widget.StubConfig())
}

func (s *Server) handleOptions(w http.ResponseWriter, _ *http.Request, _ string, sess *widget.Session) {
	opts, err := sess.Options()
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, opts)
}

func (s *Server) handleLegend(w http.ResponseWriter, _ *http.Request, _ string, sess *widget.Session) {
	legend, err := sess.Legend()
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, legend)
}

type failureDTO struct {
	Source string `json:"source"`
	Error  string `json:"error"`
}

// eventsResponse is the JSON response shape for the events routes.
type eventsResponse struct {
	Start    string               `json:"start"`
	End      string               `json:"end"`
	Events   []model.DisplayEvent `json:"events"`
	Dropped  int                  `json:"dropped"`
	Failures []failureDTO         `json:"failures"`
	Cached   bool                 `json:"cached"`
	Stale    bool                 `json:"stale"`
}

// handleEvents moves a session to the requested window. The default session
// only serves the window; its visible list is left alone.
//
// GET .../events?start=<RFC3339|date>&end=<RFC3339|date>
//
// Dates without a time are read in the configured timezone.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request, id string, sess *widget.Session) {
	q := r.URL.Query()
	loc := s.cfg.Location()

	start, err := parseBound(q.Get("start"), loc)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_window", "start: "+err.Error())
		return
	}
	end, err := parseBound(q.Get("end"), loc)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_window", "end: "+err.Error())
		return
	}
	win, err := model.NewWindow(start, end)
	if err != nil {
		writeErr(w, err)
		return
	}

	// Sessionless callers share the default session and must not cancel
	// each other's windows.
	load := sess.SetWindow
	if id == "" {
		load = sess.Peek
	}
	view, err := load(r.Context(), win)
	if err != nil {
		writeErr(w, err)
		return
	}

	resp := eventsResponse{
		Start:    model.ISO(win.Start),
		End:      model.ISO(win.End),
		Events:   make([]model.DisplayEvent, 0, len(view.Events)),
		Failures: make([]failureDTO, 0, len(view.Failures)),
		Cached:   view.Cached,
		Stale:    view.Stale,
	}
	// Events without a resolvable start cannot be placed on the grid.
	for _, ev := range view.Events {
		if !ev.Start.Valid() {
			resp.Dropped++
			continue
		}
		resp.Events = append(resp.Events, ev)
	}
	for _, f := range view.Failures {
		resp.Failures = append(resp.Failures, failureDTO{Source: f.Source, Error: f.Err.Error()})
	}

	appLog.Debug("api events request",
		"window", win.Key(),
		"events", len(resp.Events),
		"dropped", resp.Dropped,
		"failures", len(resp.Failures),
		"cached", resp.Cached,
		"stale", resp.Stale,
	)
	writeJSON(w, http.StatusOK, resp)
}

type activateRequest struct {
	EventID string `json:"eventId"`
}

func (s *Server) handleActivate(w http.ResponseWriter, r *http.Request, _ string, sess *widget.Session) {
	var req activateRequest
	if err := decodeBody(r, &req); err != nil || strings.TrimSpace(req.EventID) == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "body must be {\"eventId\": \"...\"}")
		return
	}
	act, err := sess.Activate(req.EventID)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, act)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request, id string, sess *widget.Session) {
	if err := sess.Refresh(r.Context()); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionInfo(id, sess))
}

type sessionResponse struct {
	ID      string       `json:"id,omitempty"`
	State   widget.State `json:"state"`
	Sources []string     `json:"sources,omitempty"`
	Window  *windowDTO   `json:"window,omitempty"`
}

type windowDTO struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

func sessionInfo(id string, sess *widget.Session) sessionResponse {
	resp := sessionResponse{ID: id, State: sess.State(), Sources: sess.Sources()}
	if win, _ := sess.Visible(); !win.Start.IsZero() {
		resp.Window = &windowDTO{Start: model.ISO(win.Start), End: model.ISO(win.End)}
	}
	return resp
}

// handleCreateSession accepts an optional widget config body. An empty body
// uses the file configuration.
func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	cfg := s.cfg.Widget

	var body config.WidgetConfig
	switch err := decodeBody(r, &body); {
	case err == nil:
		cfg = body
	case errors.Is(err, io.EOF):
	default:
		writeError(w, http.StatusBadRequest, "bad_request", "invalid widget config: "+err.Error())
		return
	}

	id, sess, err := s.sessions.Create(r.Context(), cfg)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sessionInfo(id, sess))
}

func (s *Server) handleSessionInfo(w http.ResponseWriter, _ *http.Request, id string, sess *widget.Session) {
	writeJSON(w, http.StatusOK, sessionInfo(id, sess))
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.Remove(mux.Vars(r)["id"]); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// instrument records per-route request metrics.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route := r.URL.Path
		if cur := mux.CurrentRoute(r); cur != nil {
			if tpl, err := cur.GetPathTemplate(); err == nil {
				route = tpl
			}
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		started := time.Now()
		next.ServeHTTP(rec, r)
		s.metrics.Request(r.Method, route, rec.status, time.Since(started))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func parseBound(v string, loc *time.Location) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, errors.New("required")
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	return time.ParseInLocation(time.DateOnly, v, loc)
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	return dec.Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	type errResp struct {
		Error string `json:"error"`
		Code  string `json:"code"`
	}
	writeJSON(w, status, errResp{Error: msg, Code: code})
}

// writeErr maps domain errors onto HTTP statuses.
func writeErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, widget.ErrSessionNotFound):
		writeError(w, http.StatusNotFound, "session_not_found", err.Error())
	case errors.Is(err, widget.ErrEventNotFound):
		writeError(w, http.StatusNotFound, "event_not_found", err.Error())
	case errors.Is(err, widget.ErrInvalidState):
		writeError(w, http.StatusConflict, "invalid_state", err.Error())
	case errors.Is(err, widget.ErrSuperseded):
		writeError(w, http.StatusConflict, "superseded", err.Error())
	case errors.Is(err, model.ErrInvalidWindow):
		writeError(w, http.StatusBadRequest, "invalid_window", err.Error())
	default:
		appLog.Error("api request failed", err)
		writeError(w, http.StatusBadGateway, "upstream_error", err.Error())
	}
}
