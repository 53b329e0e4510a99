package ics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"schoollights/internal/interval"
	"schoollights/internal/termdates"
)

func TestFileCacheRoundTrip(t *testing.T) {
	cache := NewFileCache(t.TempDir(), "https://example.test/feed.ics")

	_, err := cache.Load()
	assert.ErrorIs(t, err, ErrCacheMiss)

	in := Entry{URL: "https://example.test/feed.ics", ETag: `"v1"`, UpdatedAt: time.Now().UTC(), Body: summerTerm}
	require.NoError(t, cache.Store(in))

	out, err := cache.Load()
	require.NoError(t, err)
	assert.Equal(t, in.Body, out.Body)
	assert.Equal(t, in.ETag, out.ETag)
	assert.Equal(t, in.URL, out.URL)
}

func TestFetchStoresFreshBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("ETag", `"v1"`)
		_, _ = w.Write(summerTerm)
	}))
	defer srv.Close()

	cache := NewFileCache(t.TempDir(), srv.URL)
	res, err := NewFetcher(srv.URL, cache).Fetch(context.Background())
	require.NoError(t, err)
	assert.False(t, res.FromCache)
	assert.Equal(t, summerTerm, res.Body)

	stored, err := cache.Load()
	require.NoError(t, err)
	assert.Equal(t, summerTerm, stored.Body)
	assert.Equal(t, `"v1"`, stored.ETag)
}

func TestFetchNotModifiedUsesCache(t *testing.T) {
	var sawETag string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sawETag = r.Header.Get("If-None-Match")
		w.WriteHeader(http.StatusNotModified)
	}))
	defer srv.Close()

	cache := NewFileCache(t.TempDir(), srv.URL)
	require.NoError(t, cache.Store(Entry{URL: srv.URL, ETag: `"v1"`, Body: summerTerm}))

	res, err := NewFetcher(srv.URL, cache).Fetch(context.Background())
	require.NoError(t, err)
	assert.True(t, res.FromCache)
	assert.Equal(t, summerTerm, res.Body)
	assert.Equal(t, `"v1"`, sawETag)
}

func TestFetchFallsBackOnServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	cache := NewFileCache(t.TempDir(), srv.URL)
	require.NoError(t, cache.Store(Entry{URL: srv.URL, Body: summerTerm}))

	res, err := NewFetcher(srv.URL, cache).Fetch(context.Background())
	require.NoError(t, err)
	assert.True(t, res.FromCache)
	assert.Equal(t, summerTerm, res.Body)
}

func TestFetchKeepsCacheOnInvalidBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Header().Set("ETag", `"portal"`)
		_, _ = w.Write([]byte("<html><body>Diary temporarily unavailable</body></html>"))
	}))
	defer srv.Close()

	cache := NewFileCache(t.TempDir(), srv.URL)
	require.NoError(t, cache.Store(Entry{URL: srv.URL, ETag: `"v1"`, Body: summerTerm}))

	res, err := NewFetcher(srv.URL, cache).Fetch(context.Background())
	require.NoError(t, err)
	assert.True(t, res.FromCache)
	assert.Equal(t, summerTerm, res.Body)

	stored, err := cache.Load()
	require.NoError(t, err)
	assert.Equal(t, summerTerm, stored.Body)
	assert.Equal(t, `"v1"`, stored.ETag)

	_, err = NewFetcher(srv.URL, NewFileCache(t.TempDir(), srv.URL)).Fetch(context.Background())
	assert.ErrorIs(t, err, ErrFeedUnavailable)
}

func TestFetchFallsBackOnNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	cache := NewFileCache(t.TempDir(), url)
	require.NoError(t, cache.Store(Entry{URL: url, Body: summerTerm}))

	res, err := NewFetcher(url, cache).Fetch(context.Background())
	require.NoError(t, err)
	assert.True(t, res.FromCache)
}

func TestFetchUnavailableWithoutCache(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewFetcher(url, NewFileCache(t.TempDir(), url)).Fetch(context.Background())
	assert.ErrorIs(t, err, ErrFeedUnavailable)

	_, err = NewFetcher("", NewFileCache(t.TempDir(), "")).Fetch(context.Background())
	assert.ErrorIs(t, err, ErrFeedUnavailable)
}

func TestFeedResolvesSummerTerm(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(summerTerm)
	}))
	defer srv.Close()

	feed := NewFeed(NewFetcher(srv.URL, NewFileCache(t.TempDir(), srv.URL)), plusTwo, 365)
	feed.now = func() time.Time { return time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC) }

	cal := termdates.NewCalendar()
	res, err := termdates.NewResolver(feed, cal).Resolve(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 5, res.EventCount)
	assert.Equal(t, 4, res.Recognized)
	assert.Equal(t, []interval.Interval{
		interval.Closed(date(2024, 4, 15), date(2024, 5, 5)),
		interval.Closed(date(2024, 5, 7), date(2024, 5, 26)),
		interval.Closed(date(2024, 6, 2), date(2024, 7, 19)),
	}, res.ValidDays.Intervals())

	assert.True(t, cal.IsSchoolDay(date(2024, 4, 15)))
	assert.False(t, cal.IsSchoolDay(date(2024, 5, 6)), "bank holiday")
	assert.False(t, cal.IsSchoolDay(date(2024, 5, 29)), "half term")
}
