package web

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"schoollights/internal/config"
	"schoollights/internal/interval"
	"schoollights/internal/model"
	"schoollights/internal/termdates"
)

type stubRefresher struct {
	cal   *termdates.Calendar
	res   *termdates.Resolution
	err   error
	calls int
}

func (r *stubRefresher) Resolve(context.Context) (*termdates.Resolution, error) {
	r.calls++
	if r.err != nil {
		return nil, r.err
	}
	r.cal.Publish(r.res)
	return r.res, nil
}

func summerResolution() *termdates.Resolution {
	return &termdates.Resolution{
		ID:         uuid.New(),
		ResolvedAt: time.Now().Add(-2 * time.Hour),
		ValidDays: interval.NewSet(
			interval.Closed(model.NewDate(2024, 4, 15), model.NewDate(2024, 5, 5)),
			interval.AtLeast(model.NewDate(2024, 6, 1)),
		),
		EventCount: 5,
		Recognized: 4,
		Issues: []termdates.Issue{
			{Index: 4, Title: "INSET Day", Start: model.NewDate(2024, 7, 22), Err: termdates.ErrMalformedEvent},
			{Index: -1, Err: termdates.ErrOrderSensitive},
		},
	}
}

func newTestServer(cfg *config.Config, cal *termdates.Calendar, ref Refresher) *Server {
	s := NewServer(cfg, cal, ref)
	s.loc = time.UTC
	s.now = func() time.Time { return time.Date(2024, 5, 14, 8, 0, 0, 0, time.UTC) }
	return s
}

func do(t *testing.T, h http.Handler, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func TestHealth(t *testing.T) {
	s := newTestServer(config.DefaultConfig(), termdates.NewCalendar(), &stubRefresher{})
	rec := do(t, s.Handler(), http.MethodGet, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}

func TestDay(t *testing.T) {
	cal := termdates.NewCalendar()
	cal.Publish(summerResolution())
	s := newTestServer(config.DefaultConfig(), cal, &stubRefresher{})

	tests := []struct {
		target string
		want   termdates.DayStatus
	}{
		{"/api/day", termdates.DayStatus{Date: model.NewDate(2024, 5, 14), Resolved: true}},
		{"/api/day?date=2024-04-16", termdates.DayStatus{Date: model.NewDate(2024, 4, 16), Resolved: true, SchoolDay: true, BiweeklySchoolDay: true}},
		{"/api/day?date=2024-04-23", termdates.DayStatus{Date: model.NewDate(2024, 4, 23), Resolved: true, SchoolDay: true}},
		{"/api/day?date=2024-04-20", termdates.DayStatus{Date: model.NewDate(2024, 4, 20), Resolved: true}},
	}
	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			rec := do(t, s.Handler(), http.MethodGet, tt.target)
			require.Equal(t, http.StatusOK, rec.Code)

			var got termdates.DayStatus
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDayBeforeResolution(t *testing.T) {
	s := newTestServer(config.DefaultConfig(), termdates.NewCalendar(), &stubRefresher{})
	rec := do(t, s.Handler(), http.MethodGet, "/api/day?date=2024-04-16")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"date":"2024-04-16","resolved":false,"school_day":false,"biweekly_school_day":false}`, rec.Body.String())
}

func TestDayBadDate(t *testing.T) {
	s := newTestServer(config.DefaultConfig(), termdates.NewCalendar(), &stubRefresher{})
	rec := do(t, s.Handler(), http.MethodGet, "/api/day?date=16/04/2024")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "YYYY-MM-DD")
}

func TestRanges(t *testing.T) {
	cal := termdates.NewCalendar()
	res := summerResolution()
	cal.Publish(res)
	s := newTestServer(config.DefaultConfig(), cal, &stubRefresher{})

	rec := do(t, s.Handler(), http.MethodGet, "/api/ranges")
	require.Equal(t, http.StatusOK, rec.Code)

	var got rangesResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, res.ID.String(), got.ResolutionID)
	assert.Equal(t, "2 hours ago", got.ResolvedAgo)
	assert.Equal(t, 5, got.Events)
	assert.Equal(t, 4, got.Recognized)
	assert.Equal(t, int64(-1), got.ValidDays)

	require.Len(t, got.Ranges, 2)
	assert.Equal(t, "2024-04-15", got.Ranges[0].Start.String())
	assert.Equal(t, "2024-05-05", got.Ranges[0].End.String())
	assert.Equal(t, int64(21), got.Ranges[0].Days)
	assert.Equal(t, "2024-06-01", got.Ranges[1].Start.String())
	assert.Nil(t, got.Ranges[1].End)

	require.Len(t, got.Issues, 2)
	assert.Equal(t, 4, got.Issues[0].Index)
	assert.Equal(t, termdates.ErrMalformedEvent.Error(), got.Issues[0].Error)
	assert.Equal(t, -1, got.Issues[1].Index)
	assert.Nil(t, got.Issues[1].Start)
}

func TestRangesBeforeResolution(t *testing.T) {
	s := newTestServer(config.DefaultConfig(), termdates.NewCalendar(), &stubRefresher{})
	rec := do(t, s.Handler(), http.MethodGet, "/api/ranges")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRefresh(t *testing.T) {
	cal := termdates.NewCalendar()
	ref := &stubRefresher{cal: cal, res: summerResolution()}
	s := newTestServer(config.DefaultConfig(), cal, ref)

	rec := do(t, s.Handler(), http.MethodPost, "/api/refresh")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, ref.calls)

	_, ok := cal.Resolution()
	assert.True(t, ok)

	rec = do(t, s.Handler(), http.MethodGet, "/api/refresh")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, 1, ref.calls)
}

func TestRefreshFailureKeepsRanges(t *testing.T) {
	cal := termdates.NewCalendar()
	prev := summerResolution()
	cal.Publish(prev)
	ref := &stubRefresher{cal: cal, err: termdates.ErrFeedUnavailable}
	s := newTestServer(config.DefaultConfig(), cal, ref)

	rec := do(t, s.Handler(), http.MethodPost, "/api/refresh")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, rec.Body.String(), "term feed unavailable")

	cur, _ := cal.Resolution()
	assert.Same(t, prev, cur)
}

func TestBasicAuth(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.BasicAuth = &config.BasicAuthConfig{Username: "parent", Password: "s3cret"}
	cal := termdates.NewCalendar()
	cal.Publish(summerResolution())
	h := newTestServer(cfg, cal, &stubRefresher{}).Handler()

	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/health").Code)

	rec := do(t, h, http.MethodGet, "/api/ranges")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Header().Get("WWW-Authenticate"), "Basic")

	req := httptest.NewRequest(http.MethodGet, "/api/ranges", nil)
	req.SetBasicAuth("parent", "wrong!")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/ranges", nil)
	req.SetBasicAuth("parent", "s3cret")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestBasicAuthDisabledWhenIncomplete(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.BasicAuth = &config.BasicAuthConfig{Username: "parent"}
	s := newTestServer(cfg, termdates.NewCalendar(), &stubRefresher{})
	assert.False(t, s.basicAuthEnabled())
}

func TestSecureCompare(t *testing.T) {
	assert.True(t, secureCompare("abc", "abc"))
	assert.False(t, secureCompare("abc", "abd"))
	assert.False(t, secureCompare("abc", "abcd"))
}

func TestListenAndServeShutsDown(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Listen = "127.0.0.1:0"
	s := newTestServer(cfg, termdates.NewCalendar(), &stubRefresher{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.ListenAndServe(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
