package ics

import (
	"errors"
	"time"

	"github.com/teambition/rrule-go"

	appLog "schoollights/internal/log"
	"schoollights/internal/model"
)

const defaultMaxOccurrencesPerEvent = 500

// ExpandConfig controls recurrence expansion.
type ExpandConfig struct {
	// Location converts timed values to calendar dates. Nil means time.Local.
	Location *time.Location

	// RangeStart / RangeEnd bound the occurrences produced for recurring
	// events. Non-recurring events are always kept.
	RangeStart time.Time
	RangeEnd   time.Time

	// MaxOccurrencesPerEvent caps a single RRULE. Zero means
	// defaultMaxOccurrencesPerEvent.
	MaxOccurrencesPerEvent int
}

// Expand turns parsed VEVENTs into calendar events in feed order.
//
// A recurring VEVENT is replaced in place by its occurrences (EXDATEs
// removed, RECURRENCE-ID overrides applied). Override VEVENTs attached to a
// recurring base are consumed there; orphans pass through as plain events.
// Index on the returned events is the position in the expanded sequence.
func Expand(events []ParsedEvent, cfg ExpandConfig) ([]model.CalendarEvent, error) {
	if cfg.RangeEnd.Before(cfg.RangeStart) {
		return nil, errors.New("expand: RangeEnd is before RangeStart")
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.MaxOccurrencesPerEvent <= 0 {
		cfg.MaxOccurrencesPerEvent = defaultMaxOccurrencesPerEvent
	}

	recurringUIDs := make(map[string]bool)
	overridesByUID := make(map[string][]ParsedEvent)
	for _, ev := range events {
		if ev.IsOverride {
			overridesByUID[ev.UID] = append(overridesByUID[ev.UID], ev)
		} else if ev.RawRRule != "" && ev.UID != "" {
			recurringUIDs[ev.UID] = true
		}
	}

	out := make([]model.CalendarEvent, 0, len(events))
	emit := func(uid, title string, start, end model.Date) {
		out = append(out, model.CalendarEvent{
			UID:   uid,
			Title: title,
			Start: start,
			End:   end,
			Index: len(out),
		})
	}

	for _, ev := range events {
		switch {
		case ev.IsOverride && recurringUIDs[ev.UID]:
			continue
		case ev.RawRRule == "" || ev.Start.IsZero():
			start, end := ev.Dates(cfg.Location)
			emit(ev.UID, ev.Summary, start, end)
		default:
			for _, occ := range expandRecurring(ev, overridesByUID[ev.UID], cfg) {
				start, end := occ.Dates(cfg.Location)
				emit(occ.UID, occ.Summary, start, end)
			}
		}
	}
	return out, nil
}

func expandRecurring(ev ParsedEvent, overrides []ParsedEvent, cfg ExpandConfig) []ParsedEvent {
	r, err := rrule.StrToRRule(ev.RawRRule)
	if err != nil {
		appLog.Error("expand: failed to parse RRULE; keeping first instance", err, "uid", ev.UID, "rrule", ev.RawRRule)
		return []ParsedEvent{ev}
	}
	r.DTStart(ev.Start)

	var set rrule.Set
	set.RRule(r)
	for _, ex := range ev.ExDates {
		set.ExDate(ex.In(ev.Start.Location()))
	}

	times := set.Between(cfg.RangeStart.In(ev.Start.Location()), cfg.RangeEnd.In(ev.Start.Location()), true)
	if len(times) > cfg.MaxOccurrencesPerEvent {
		appLog.Warn("expand: truncated occurrences", "uid", ev.UID, "cap", cfg.MaxOccurrencesPerEvent)
		times = times[:cfg.MaxOccurrencesPerEvent]
	}

	dur := ev.End.Sub(ev.Start)
	if ev.End.IsZero() {
		dur = 0
	}

	out := make([]ParsedEvent, 0, len(times))
	for _, start := range times {
		occ := ev
		occ.Start = start
		occ.End = start.Add(dur)
		if ev.End.IsZero() {
			occ.End = time.Time{}
		}
		if o, ok := findOverride(overrides, start); ok {
			occ = o
		}
		out = append(out, occ)
	}
	return out
}

// findOverride finds the override whose RECURRENCE-ID is start.
func findOverride(overrides []ParsedEvent, start time.Time) (ParsedEvent, bool) {
	for _, ov := range overrides {
		if ov.Recurrence != nil && ov.Recurrence.Equal(start) {
			return ov, true
		}
	}
	return ParsedEvent{}, false
}
