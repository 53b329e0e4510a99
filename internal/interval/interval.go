// Package interval implements closed, possibly half-bounded date intervals
// and normalized sets of them.
//
// Dates are discrete, so [a, b] and [b+1, c] are adjacent and a Set merges
// them into [a, c]. Every Set operation returns a new normalized Set; Sets
// are never mutated in place and are safe to share between goroutines.
package interval

import (
	"math"
	"sort"
	"strings"

	"schoollights/internal/model"
)

// Sentinel day ordinals for unbounded ends. Real dates never get close.
const (
	negInf int64 = math.MinInt32
	posInf int64 = math.MaxInt32
)

// Interval is a closed range of dates. The zero value is empty.
type Interval struct {
	lo, hi int64
	ok     bool
}

func newInterval(lo, hi int64) Interval {
	if lo > hi {
		return Interval{}
	}
	return Interval{lo: lo, hi: hi, ok: true}
}

// Empty returns the empty interval.
func Empty() Interval { return Interval{} }

// All returns (−∞, +∞).
func All() Interval { return newInterval(negInf, posInf) }

// Closed returns [lo, hi]. It is empty when hi is before lo.
func Closed(lo, hi model.Date) Interval { return newInterval(lo.Days(), hi.Days()) }

// Singleton returns [d, d].
func Singleton(d model.Date) Interval { return Closed(d, d) }

// AtMost returns (−∞, hi].
func AtMost(hi model.Date) Interval { return newInterval(negInf, hi.Days()) }

// AtLeast returns [lo, +∞).
func AtLeast(lo model.Date) Interval { return newInterval(lo.Days(), posInf) }

func (i Interval) IsEmpty() bool { return !i.ok }

// Lower returns the lower bound. bounded is false for −∞ or an empty interval.
func (i Interval) Lower() (d model.Date, bounded bool) {
	if !i.ok || i.lo == negInf {
		return model.Date{}, false
	}
	return model.DateFromDays(i.lo), true
}

// Upper returns the upper bound. bounded is false for +∞ or an empty interval.
func (i Interval) Upper() (d model.Date, bounded bool) {
	if !i.ok || i.hi == posInf {
		return model.Date{}, false
	}
	return model.DateFromDays(i.hi), true
}

func (i Interval) Contains(d model.Date) bool {
	n := d.Days()
	return i.ok && i.lo <= n && n <= i.hi
}

func (i Interval) Intersect(j Interval) Interval {
	if !i.ok || !j.ok {
		return Interval{}
	}
	return newInterval(max(i.lo, j.lo), min(i.hi, j.hi))
}

// Days returns the number of dates in i, or -1 if i is unbounded.
func (i Interval) Days() int64 {
	if !i.ok {
		return 0
	}
	if i.lo == negInf || i.hi == posInf {
		return -1
	}
	return i.hi - i.lo + 1
}

func (i Interval) String() string {
	if !i.ok {
		return "()"
	}
	var b strings.Builder
	if lo, ok := i.Lower(); ok {
		b.WriteString("[" + lo.String())
	} else {
		b.WriteString("(-inf")
	}
	b.WriteString(", ")
	if hi, ok := i.Upper(); ok {
		b.WriteString(hi.String() + "]")
	} else {
		b.WriteString("+inf)")
	}
	return b.String()
}

// Set is an ordered collection of non-overlapping, non-adjacent, non-empty
// intervals. The zero value is the empty set.
type Set struct {
	ivs []Interval
}

// NewSet builds a normalized Set from arbitrary intervals.
func NewSet(ivs ...Interval) Set {
	return Set{ivs: normalize(ivs)}
}

func normalize(in []Interval) []Interval {
	ivs := make([]Interval, 0, len(in))
	for _, iv := range in {
		if iv.ok {
			ivs = append(ivs, iv)
		}
	}
	if len(ivs) == 0 {
		return nil
	}
	sort.Slice(ivs, func(a, b int) bool { return ivs[a].lo < ivs[b].lo })

	out := ivs[:1]
	for _, iv := range ivs[1:] {
		last := &out[len(out)-1]
		if iv.lo <= last.hi+1 {
			last.hi = max(last.hi, iv.hi)
			continue
		}
		out = append(out, iv)
	}
	return out
}

func (s Set) IsEmpty() bool { return len(s.ivs) == 0 }

// Intervals returns a copy of the set's intervals in ascending order.
func (s Set) Intervals() []Interval {
	out := make([]Interval, len(s.ivs))
	copy(out, s.ivs)
	return out
}

func (s Set) Contains(d model.Date) bool {
	n := d.Days()
	k := sort.Search(len(s.ivs), func(k int) bool { return s.ivs[k].hi >= n })
	return k < len(s.ivs) && s.ivs[k].lo <= n
}

// Add returns s ∪ {iv}.
func (s Set) Add(iv Interval) Set {
	return s.Union(NewSet(iv))
}

func (s Set) Union(o Set) Set {
	all := make([]Interval, 0, len(s.ivs)+len(o.ivs))
	all = append(all, s.ivs...)
	all = append(all, o.ivs...)
	return NewSet(all...)
}

func (s Set) Intersect(o Set) Set {
	var out []Interval
	a, b := 0, 0
	for a < len(s.ivs) && b < len(o.ivs) {
		if iv := s.ivs[a].Intersect(o.ivs[b]); iv.ok {
			out = append(out, iv)
		}
		// Advance whichever interval ends first.
		if s.ivs[a].hi < o.ivs[b].hi {
			a++
		} else {
			b++
		}
	}
	return Set{ivs: normalize(out)}
}

// Complement returns every date not in s.
func (s Set) Complement() Set {
	var out []Interval
	next := negInf
	for _, iv := range s.ivs {
		if iv.lo > next {
			out = append(out, newInterval(next, iv.lo-1))
		}
		next = iv.hi + 1
	}
	if next <= posInf {
		out = append(out, newInterval(next, posInf))
	}
	return Set{ivs: out}
}

// Subtract returns s − o.
func (s Set) Subtract(o Set) Set {
	if s.IsEmpty() || o.IsEmpty() {
		return s
	}
	return s.Intersect(o.Complement())
}

func (s Set) Equal(o Set) bool {
	if len(s.ivs) != len(o.ivs) {
		return false
	}
	for k := range s.ivs {
		if s.ivs[k] != o.ivs[k] {
			return false
		}
	}
	return true
}

// Days returns the total number of dates in s, or -1 if s is unbounded.
func (s Set) Days() int64 {
	var n int64
	for _, iv := range s.ivs {
		d := iv.Days()
		if d < 0 {
			return -1
		}
		n += d
	}
	return n
}

func (s Set) String() string {
	if len(s.ivs) == 0 {
		return "{}"
	}
	parts := make([]string, len(s.ivs))
	for k, iv := range s.ivs {
		parts[k] = iv.String()
	}
	return strings.Join(parts, " | ")
}
