package termdates

import (
	"errors"
	"fmt"

	"schoollights/internal/model"
)

var (
	// ErrFeedUnavailable is returned by Resolve when the Source produced no
	// events at all (network and cache both failed, or the body did not parse).
	ErrFeedUnavailable = errors.New("term feed unavailable")

	// ErrMalformedEvent marks a recognized event without usable dates. The
	// event is skipped.
	ErrMalformedEvent = errors.New("malformed term event")

	// ErrUnpairedTermStart marks a term start with no open term end. It is a
	// notice, not a failure; feeds produce it at the edges of a series.
	ErrUnpairedTermStart = errors.New("term start without preceding term end")

	// ErrInvertedBracket marks a term start anchored after the pending term
	// end, which closes an empty bracket.
	ErrInvertedBracket = errors.New("term start is after pending term end")

	// ErrOrderSensitive marks a feed whose brackets would differ if the
	// events were sorted by date.
	ErrOrderSensitive = errors.New("term brackets depend on feed order")
)

// Issue is a per-event condition found while folding a feed.
type Issue struct {
	// Index is the event's position in feed order, or -1 for feed-wide issues.
	Index int
	Title string
	Start model.Date
	Err   error
}

func (i Issue) Error() string {
	if i.Index < 0 {
		return i.Err.Error()
	}
	return fmt.Sprintf("event %d %q (%s): %v", i.Index, i.Title, i.Start, i.Err)
}

func (i Issue) Unwrap() error { return i.Err }
