package ics

import (
	"context"
	"fmt"
	"time"

	appLog "schoollights/internal/log"
	"schoollights/internal/model"
)

// Feed is a fetched, parsed and expanded calendar. It satisfies
// termdates.Source.
type Feed struct {
	fetcher *Fetcher
	loc     *time.Location
	horizon time.Duration
	now     func() time.Time
}

// NewFeed returns a Feed reading through fetcher. Recurring events are
// expanded horizonDays either side of now; timed values are read as dates
// in loc.
func NewFeed(fetcher *Fetcher, loc *time.Location, horizonDays int) *Feed {
	if loc == nil {
		loc = time.Local
	}
	if horizonDays <= 0 {
		horizonDays = 730
	}
	return &Feed{
		fetcher: fetcher,
		loc:     loc,
		horizon: time.Duration(horizonDays) * 24 * time.Hour,
		now:     time.Now,
	}
}

// Events returns the feed's events in emission order.
func (f *Feed) Events(ctx context.Context) ([]model.CalendarEvent, error) {
	res, err := f.fetcher.Fetch(ctx)
	if err != nil {
		return nil, err
	}

	parsed, err := ParseICS(res.Body)
	if err != nil {
		return nil, fmt.Errorf("feed body (from_cache=%t): %w", res.FromCache, err)
	}

	now := f.now()
	events, err := Expand(parsed, ExpandConfig{
		Location:   f.loc,
		RangeStart: now.Add(-f.horizon),
		RangeEnd:   now.Add(f.horizon),
	})
	if err != nil {
		return nil, err
	}

	appLog.Info("ics feed loaded",
		"vevents", len(parsed),
		"events", len(events),
		"from_cache", res.FromCache,
		"updated_at", res.UpdatedAt.Format(time.RFC3339),
	)
	return events, nil
}
