package ics

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	appLog "schoollights/internal/log"
	"schoollights/internal/model"
)

const dateLayout = "20060102"

// ParsedEvent is a VEVENT as read from the feed, before recurrence
// expansion and date normalization.
type ParsedEvent struct {
	// Index is the VEVENT's position in the feed.
	Index int

	UID     string
	Summary string

	// Start/End are zero when the property is present but unparseable.
	// All-day values are midnight UTC of the stated date. DTEND is taken
	// as the last day of the event, which is how school diaries use it.
	Start  time.Time
	End    time.Time
	AllDay bool

	RawRRule   string
	ExDates    []time.Time
	Recurrence *time.Time // RECURRENCE-ID, if this VEVENT overrides an instance
	IsOverride bool
}

// Dates returns the inclusive calendar dates of ev, with timed values
// converted to loc first. Missing values come back as zero Dates.
func (ev ParsedEvent) Dates(loc *time.Location) (start, end model.Date) {
	return spanDates(ev.Start, ev.End, ev.AllDay, loc)
}

func spanDates(s, e time.Time, allDay bool, loc *time.Location) (start, end model.Date) {
	if loc == nil {
		loc = time.Local
	}
	if s.IsZero() {
		return model.Date{}, model.Date{}
	}
	if allDay {
		start = model.DateOf(s)
	} else {
		start = model.DateOf(s.In(loc))
	}
	if e.IsZero() {
		return start, model.Date{}
	}
	if allDay {
		return start, model.DateOf(e)
	}
	return start, model.DateOf(e.In(loc))
}

// ParseICS parses a whole ICS payload. VEVENTs keep feed order. Events with
// broken dates are kept (with zero times) so resolution can report them.
func ParseICS(body []byte) ([]ParsedEvent, error) {
	if len(body) == 0 {
		return nil, errors.New("empty ICS body")
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse ics: %w", err)
	}

	vevents := cal.Events()
	events := make([]ParsedEvent, 0, len(vevents))
	for i, ve := range vevents {
		events = append(events, parseVEvent(i, ve))
	}

	appLog.Debug("ics parse completed", "event_count", len(events))
	return events, nil
}

func parseVEvent(index int, ve *ical.VEvent) ParsedEvent {
	out := ParsedEvent{Index: index}

	if p := ve.GetProperty(ical.ComponentPropertyUniqueId); p != nil {
		out.UID = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
		out.Summary = strings.TrimSpace(p.Value)
	}

	startProp := ve.GetProperty(ical.ComponentPropertyDtStart)
	if startProp == nil {
		appLog.Debug("ics vevent has no DTSTART", "index", index, "summary", out.Summary)
		return out
	}
	out.AllDay = isDateValue(startProp)

	start, err := propTime(startProp, out.AllDay)
	if err != nil {
		appLog.Debug("ics vevent DTSTART unparseable", "index", index, "summary", out.Summary, "value", startProp.Value, "err", err)
		return out
	}
	out.Start = start

	if endProp := ve.GetProperty(ical.ComponentPropertyDtEnd); endProp != nil {
		if end, err := propTime(endProp, out.AllDay); err == nil {
			out.End = end
		} else {
			appLog.Debug("ics vevent DTEND unparseable", "index", index, "summary", out.Summary, "value", endProp.Value, "err", err)
		}
	} else {
		// No DTEND: the event covers its start day only.
		out.End = start
	}

	if p := ve.GetProperty(ical.ComponentPropertyRrule); p != nil {
		out.RawRRule = p.Value
	}

	for _, p := range ve.GetProperties(ical.ComponentPropertyExdate) {
		for _, part := range strings.Split(p.Value, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			if t, err := parseICSTime(part, tzid(p)); err == nil {
				out.ExDates = append(out.ExDates, t)
			}
		}
	}

	if p := ve.GetProperty(ical.ComponentProperty("RECURRENCE-ID")); p != nil {
		if t, err := parseICSTime(p.Value, tzid(p)); err == nil {
			out.Recurrence = &t
			out.IsOverride = true
		}
	}

	return out
}

// isDateValue reports whether a DTSTART carries a DATE rather than a
// DATE-TIME: VALUE=DATE, or no 'T' in the value.
func isDateValue(p *ical.IANAProperty) bool {
	if vs, ok := p.ICalParameters["VALUE"]; ok && len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
		return true
	}
	return !strings.Contains(p.Value, "T")
}

func tzid(p *ical.IANAProperty) string {
	if tzs, ok := p.ICalParameters["TZID"]; ok && len(tzs) > 0 {
		return tzs[0]
	}
	return ""
}

func propTime(p *ical.IANAProperty, allDay bool) (time.Time, error) {
	v := strings.TrimSpace(p.Value)
	if allDay {
		// Some feeds send a DATE-TIME DTEND on a DATE event; keep the date part.
		if len(v) >= len(dateLayout) {
			v = v[:len(dateLayout)]
		}
		return time.Parse(dateLayout, v)
	}
	return parseICSTime(v, tzid(p))
}

// parseICSTime parses a DATE or DATE-TIME value. Floating times and TZIDs
// the runtime does not know are read as local time.
func parseICSTime(v, tz string) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, errors.New("empty time value")
	}

	// UTC form, e.g. 20250101T090000Z
	if strings.HasSuffix(v, "Z") {
		return time.Parse("20060102T150405Z", v)
	}

	loc := time.Local
	if tz != "" {
		if l, err := time.LoadLocation(tz); err == nil {
			loc = l
		}
	}

	if strings.Contains(v, "T") {
		return time.ParseInLocation("20060102T150405", v, loc)
	}
	return time.Parse(dateLayout, v)
}
