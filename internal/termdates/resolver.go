package termdates

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	appLog "schoollights/internal/log"
	"schoollights/internal/model"
)

// Source produces calendar events in feed order. Implementations do all
// I/O (fetching, caching, parsing); the resolver never touches it.
type Source interface {
	Events(ctx context.Context) ([]model.CalendarEvent, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context) ([]model.CalendarEvent, error)

func (f SourceFunc) Events(ctx context.Context) ([]model.CalendarEvent, error) {
	return f(ctx)
}

// Resolver runs resolution passes against a Source and publishes the
// results to a Calendar.
type Resolver struct {
	src Source
	cal *Calendar

	// mu serializes passes so there is a single writer.
	mu  sync.Mutex
	now func() time.Time
}

func NewResolver(src Source, cal *Calendar) *Resolver {
	return &Resolver{
		src: src,
		cal: cal,
		now: time.Now,
	}
}

// Calendar returns the calendar this resolver publishes to.
func (r *Resolver) Calendar() *Calendar {
	return r.cal
}

// Resolve pulls events from the source, folds them and publishes the new
// valid-day set. If the source fails, the previous resolution stays in
// place and the error wraps ErrFeedUnavailable.
func (r *Resolver) Resolve(ctx context.Context) (*Resolution, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	events, err := r.src.Events(ctx)
	if err != nil {
		appLog.Error("term resolution: no events; keeping previous ranges", err)
		return nil, fmt.Errorf("%w: %w", ErrFeedUnavailable, err)
	}

	res := Fold(events, NewState())
	issues := res.Issues

	if byDate, same := CheckOrder(events, res.State.ValidDays); !same {
		appLog.Warn("term brackets differ when events are sorted by date; using feed order",
			"feed_order", res.State.ValidDays.String(),
			"date_order", byDate.String(),
		)
		issues = append(issues, Issue{Index: -1, Err: ErrOrderSensitive})
	}

	resolution := &Resolution{
		ID:         uuid.New(),
		ResolvedAt: r.now(),
		ValidDays:  res.State.ValidDays,
		EventCount: len(events),
		Recognized: res.Recognized,
		Issues:     issues,
	}

	logIssues(resolution)

	if resolution.Empty() {
		appLog.Warn("term resolution produced no valid days",
			"resolution_id", resolution.ID,
			"events", resolution.EventCount,
			"recognized", resolution.Recognized,
		)
	}

	r.cal.Publish(resolution)

	appLog.Info("term resolution published",
		"resolution_id", resolution.ID,
		"events", resolution.EventCount,
		"recognized", resolution.Recognized,
		"ranges", len(resolution.ValidDays.Intervals()),
		"valid_days", resolution.ValidDays.Days(),
		"malformed", countIssues(issues, ErrMalformedEvent),
		"unpaired_starts", countIssues(issues, ErrUnpairedTermStart),
	)
	return resolution, nil
}

func logIssues(res *Resolution) {
	for _, is := range res.Issues {
		switch {
		case is.Index < 0:
			// Feed-wide issues are logged where they are detected.
		case isNotice(is.Err):
			appLog.Debug("term event ignored", "resolution_id", res.ID, "issue", is.Error())
		default:
			appLog.Warn("term event skipped", "resolution_id", res.ID, "issue", is.Error())
		}
	}
}

func isNotice(err error) bool {
	return errors.Is(err, ErrUnpairedTermStart) || errors.Is(err, ErrInvertedBracket)
}
