package termdates

import (
	"fmt"
	"regexp"
	"strings"

	"schoollights/internal/interval"
	"schoollights/internal/model"
)

// Kind is the role an event plays in term resolution.
type Kind int

const (
	Unrecognized Kind = iota
	TermEnd
	TermStart
	SingleDayExclusion
	RangedExclusion
)

func (k Kind) String() string {
	switch k {
	case TermEnd:
		return "term_end"
	case TermStart:
		return "term_start"
	case SingleDayExclusion:
		return "single_day_exclusion"
	case RangedExclusion:
		return "ranged_exclusion"
	default:
		return "unrecognized"
	}
}

// IsExclusion reports whether events of kind k remove days.
func (k Kind) IsExclusion() bool {
	return k == SingleDayExclusion || k == RangedExclusion
}

// Classified is an event tagged with its kind and the bound it contributes.
type Classified struct {
	Event model.CalendarEvent
	Kind  Kind
	Bound interval.Interval
}

type rule struct {
	pattern *regexp.Regexp
	kind    Kind
	bound   func(ev model.CalendarEvent) (interval.Interval, error)
}

// Patterns are anchored at the start of the title and case-insensitive.
// Order matters: the first match wins.
var rules = []rule{
	{regexp.MustCompile(`(?i)^End of \w+ Term`), TermEnd, upToStart},
	{regexp.MustCompile(`(?i)^Start of \w+ Term`), TermStart, fromStart},
	{regexp.MustCompile(`(?i)^INSET Day`), SingleDayExclusion, onStart},
	{regexp.MustCompile(`(?i)^(\w+ )?Bank Holiday`), SingleDayExclusion, onStart},
	{regexp.MustCompile(`(?i)^(\w+ )?Half Term`), RangedExclusion, startToEnd},
}

func upToStart(ev model.CalendarEvent) (interval.Interval, error) {
	if ev.Start.IsZero() {
		return interval.Empty(), fmt.Errorf("%w: missing start date", ErrMalformedEvent)
	}
	return interval.AtMost(ev.Start), nil
}

func fromStart(ev model.CalendarEvent) (interval.Interval, error) {
	if ev.Start.IsZero() {
		return interval.Empty(), fmt.Errorf("%w: missing start date", ErrMalformedEvent)
	}
	return interval.AtLeast(ev.Start), nil
}

func onStart(ev model.CalendarEvent) (interval.Interval, error) {
	if ev.Start.IsZero() {
		return interval.Empty(), fmt.Errorf("%w: missing start date", ErrMalformedEvent)
	}
	return interval.Singleton(ev.Start), nil
}

func startToEnd(ev model.CalendarEvent) (interval.Interval, error) {
	switch {
	case ev.Start.IsZero():
		return interval.Empty(), fmt.Errorf("%w: missing start date", ErrMalformedEvent)
	case ev.End.IsZero():
		return interval.Empty(), fmt.Errorf("%w: missing end date", ErrMalformedEvent)
	case ev.End.Before(ev.Start):
		return interval.Empty(), fmt.Errorf("%w: end %s before start %s", ErrMalformedEvent, ev.End, ev.Start)
	}
	return interval.Closed(ev.Start, ev.End), nil
}

// KindOf classifies a title without looking at dates.
func KindOf(title string) Kind {
	if r, ok := match(title); ok {
		return r.kind
	}
	return Unrecognized
}

func match(title string) (rule, bool) {
	title = strings.TrimSpace(title)
	for _, r := range rules {
		if r.pattern.MatchString(title) {
			return r, true
		}
	}
	return rule{}, false
}

// Classify tags ev and computes its bound. Unrecognized titles are not an
// error. A recognized event without usable dates returns ErrMalformedEvent.
func Classify(ev model.CalendarEvent) (Classified, error) {
	r, ok := match(ev.Title)
	if !ok {
		return Classified{Event: ev, Kind: Unrecognized}, nil
	}
	bound, err := r.bound(ev)
	if err != nil {
		return Classified{Event: ev, Kind: r.kind}, err
	}
	return Classified{Event: ev, Kind: r.kind, Bound: bound}, nil
}
