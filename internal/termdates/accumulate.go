package termdates

import (
	"errors"
	"sort"

	"github.com/samber/mo"

	"schoollights/internal/interval"
	"schoollights/internal/model"
)

// State is the accumulator for one resolution pass. It is a value: Apply
// returns a new State and never mutates the receiver.
type State struct {
	// PendingTermEnd is (−∞, end] of the most recent unconsumed term end.
	PendingTermEnd mo.Option[interval.Interval]
	Excluded       interval.Set
	ValidDays      interval.Set
}

// NewState returns the empty state every pass starts from.
func NewState() State {
	return State{PendingTermEnd: mo.None[interval.Interval]()}
}

// Apply folds one classified event into s.
//
// The returned error is a notice about c (ErrUnpairedTermStart or
// ErrInvertedBracket); the returned State is valid either way.
func (s State) Apply(c Classified) (State, error) {
	switch c.Kind {
	case TermEnd:
		// Most recent term end wins.
		s.PendingTermEnd = mo.Some(c.Bound)

	case SingleDayExclusion, RangedExclusion:
		s.Excluded = s.Excluded.Add(c.Bound)

	case TermStart:
		pending, ok := s.PendingTermEnd.Get()
		if !ok {
			return s, ErrUnpairedTermStart
		}
		bracket := c.Bound.Intersect(pending)
		s.ValidDays = s.ValidDays.Union(interval.NewSet(bracket).Subtract(s.Excluded))
		s.PendingTermEnd = mo.None[interval.Interval]()
		if bracket.IsEmpty() {
			return s, ErrInvertedBracket
		}
	}
	return s, nil
}

// Result is the outcome of a Fold.
type Result struct {
	State      State
	Issues     []Issue
	Recognized int
}

// Fold classifies events and applies them to init in the order given.
//
// Events must be in the feed's emission order, not sorted by date: a term
// end is paired with the next term start that follows it in the feed.
func Fold(events []model.CalendarEvent, init State) Result {
	res := Result{State: init}
	for _, ev := range events {
		c, err := Classify(ev)
		if err != nil {
			res.Issues = append(res.Issues, issueFor(ev, err))
			continue
		}
		if c.Kind == Unrecognized {
			continue
		}
		res.Recognized++

		next, notice := res.State.Apply(c)
		res.State = next
		if notice != nil {
			res.Issues = append(res.Issues, issueFor(ev, notice))
		}
	}
	return res
}

// Resolve runs a fresh Fold and returns only the valid days.
func Resolve(events []model.CalendarEvent) interval.Set {
	return Fold(events, NewState()).State.ValidDays
}

// CheckOrder folds events again sorted by start date and compares the
// outcome with feedOrder. It returns the date-sorted outcome and whether
// the two agree.
func CheckOrder(events []model.CalendarEvent, feedOrder interval.Set) (interval.Set, bool) {
	sorted := make([]model.CalendarEvent, len(events))
	copy(sorted, events)
	sort.SliceStable(sorted, func(a, b int) bool {
		return sorted[a].Start.Before(sorted[b].Start)
	})
	byDate := Resolve(sorted)
	return byDate, byDate.Equal(feedOrder)
}

func issueFor(ev model.CalendarEvent, err error) Issue {
	return Issue{Index: ev.Index, Title: ev.Title, Start: ev.Start, Err: err}
}

// countIssues returns how many issues wrap target.
func countIssues(issues []Issue, target error) int {
	n := 0
	for _, is := range issues {
		if errors.Is(is.Err, target) {
			n++
		}
	}
	return n
}
