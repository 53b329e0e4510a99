package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gorilla/handlers"

	"schoollights/internal/config"
	appLog "schoollights/internal/log"
	"schoollights/internal/model"
	"schoollights/internal/termdates"
)

// Refresher re-resolves the term dates on demand.
type Refresher interface {
	Resolve(ctx context.Context) (*termdates.Resolution, error)
}

// Server exposes the resolved term dates over HTTP.
type Server struct {
	cfg       *config.Config
	cal       *termdates.Calendar
	refresher Refresher
	loc       *time.Location
	mux       *http.ServeMux

	now func() time.Time
}

// NewServer constructs a new Server.
func NewServer(cfg *config.Config, cal *termdates.Calendar, refresher Refresher) *Server {
	s := &Server{
		cfg:       cfg,
		cal:       cal,
		refresher: refresher,
		loc:       cfg.Location(),
		mux:       http.NewServeMux(),
		now:       time.Now,
	}
	s.registerRoutes()
	return s
}

// Handler returns the full handler chain: recovery, request logging, then
// basic auth when configured.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		h = s.basicAuthMiddleware(h)
	}
	h = handlers.LoggingHandler(appLog.Writer(appLog.LevelDebug), h)
	return handlers.RecoveryHandler(
		handlers.RecoveryLogger(recoveryLogger{}),
		handlers.PrintRecoveryStack(false),
	)(h)
}

type recoveryLogger struct{}

func (recoveryLogger) Println(v ...interface{}) {
	appLog.Error("http handler panic", errors.New(fmt.Sprint(v...)))
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+s.cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	// Empty username or password means disabled.
	return s.cfg.BasicAuth.Username != "" && s.cfg.BasicAuth.Password != ""
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
			w.Header().Set("WWW-Authenticate", `Basic realm="SchoolLights", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
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
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /api/day", s.handleDay)
	s.mux.HandleFunc("GET /api/ranges", s.handleRanges)
	s.mux.HandleFunc("POST /api/refresh", s.handleRefresh)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleDay answers both school-day predicates for one date.
//
// GET /api/day?date=2024-05-14
//   - date: YYYY-MM-DD, defaults to today in the configured zone
//
// Before the first successful resolution the response has resolved=false.
func (s *Server) handleDay(w http.ResponseWriter, r *http.Request) {
	date := model.DateOf(s.now().In(s.loc))
	if q := r.URL.Query().Get("date"); q != "" {
		d, err := model.ParseDate(q)
		if err != nil {
			writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
			return
		}
		date = d
	}
	writeJSON(w, http.StatusOK, s.cal.Status(date))
}

// rangeDTO is one valid-day interval. Unbounded ends are omitted.
type rangeDTO struct {
	Start *model.Date `json:"start,omitempty"`
	End   *model.Date `json:"end,omitempty"`
	Days  int64       `json:"days"`
}

type issueDTO struct {
	Index int         `json:"index"`
	Title string      `json:"title,omitempty"`
	Start *model.Date `json:"start,omitempty"`
	Error string      `json:"error"`
}

// rangesResponse is the JSON response shape for /api/ranges and
// /api/refresh.
type rangesResponse struct {
	ResolutionID string     `json:"resolution_id"`
	ResolvedAt   time.Time  `json:"resolved_at"`
	ResolvedAgo  string     `json:"resolved_ago"`
	Events       int        `json:"events"`
	Recognized   int        `json:"recognized"`
	ValidDays    int64      `json:"valid_days"`
	Ranges       []rangeDTO `json:"ranges"`
	Issues       []issueDTO `json:"issues"`
}

func (s *Server) handleRanges(w http.ResponseWriter, _ *http.Request) {
	res, ok := s.cal.Resolution()
	if !ok {
		writeError(w, http.StatusServiceUnavailable, "no term data yet")
		return
	}
	writeJSON(w, http.StatusOK, newRangesResponse(res))
}

// handleRefresh re-resolves synchronously. On failure the previous ranges
// stay published and the response is 502.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	appLog.Info("api refresh requested", "remote", r.RemoteAddr)
	res, err := s.refresher.Resolve(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, newRangesResponse(res))
}

func newRangesResponse(res *termdates.Resolution) rangesResponse {
	ivs := res.ValidDays.Intervals()
	resp := rangesResponse{
		ResolutionID: res.ID.String(),
		ResolvedAt:   res.ResolvedAt,
		ResolvedAgo:  humanize.Time(res.ResolvedAt),
		Events:       res.EventCount,
		Recognized:   res.Recognized,
		ValidDays:    res.ValidDays.Days(),
		Ranges:       make([]rangeDTO, 0, len(ivs)),
		Issues:       make([]issueDTO, 0, len(res.Issues)),
	}
	for _, iv := range ivs {
		dto := rangeDTO{Days: iv.Days()}
		if lo, ok := iv.Lower(); ok {
			dto.Start = &lo
		}
		if hi, ok := iv.Upper(); ok {
			dto.End = &hi
		}
		resp.Ranges = append(resp.Ranges, dto)
	}
	for _, is := range res.Issues {
		dto := issueDTO{Index: is.Index, Title: is.Title, Error: is.Err.Error()}
		if !is.Start.IsZero() {
			start := is.Start
			dto.Start = &start
		}
		resp.Issues = append(resp.Issues, dto)
	}
	return resp
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
