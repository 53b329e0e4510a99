package termdates

import (
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"schoollights/internal/interval"
	"schoollights/internal/model"
)

// Resolution is one complete resolution pass. It is immutable once
// published.
type Resolution struct {
	ID         uuid.UUID
	ResolvedAt time.Time

	ValidDays interval.Set

	EventCount int
	Recognized int
	Issues     []Issue
}

// Empty reports whether the pass produced no valid days at all.
func (r *Resolution) Empty() bool {
	return r.ValidDays.IsEmpty()
}

// IsSchoolDay reports whether d is a resolved valid day falling Mon–Fri.
func (r *Resolution) IsSchoolDay(d model.Date) bool {
	switch d.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	return r.ValidDays.Contains(d)
}

// IsBiweeklySchoolDay is IsSchoolDay restricted to even ISO weeks.
func (r *Resolution) IsBiweeklySchoolDay(d model.Date) bool {
	_, week := d.ISOWeek()
	return week%2 == 0 && r.IsSchoolDay(d)
}

// DayStatus answers both predicates for one date.
type DayStatus struct {
	Date              model.Date `json:"date"`
	Resolved          bool       `json:"resolved"`
	SchoolDay         bool       `json:"school_day"`
	BiweeklySchoolDay bool       `json:"biweekly_school_day"`
}

// Calendar holds the latest Resolution for concurrent readers. A single
// writer replaces it wholesale via Publish; readers never observe a
// partially built set.
type Calendar struct {
	current atomic.Pointer[Resolution]
}

func NewCalendar() *Calendar {
	return &Calendar{}
}

// Publish makes r the current resolution.
func (c *Calendar) Publish(r *Resolution) {
	c.current.Store(r)
}

// Resolution returns the current resolution, or false before the first
// successful pass. Callers must treat that as "no data yet", not as
// "no school".
func (c *Calendar) Resolution() (*Resolution, bool) {
	r := c.current.Load()
	return r, r != nil
}

func (c *Calendar) IsSchoolDay(d model.Date) bool {
	r, ok := c.Resolution()
	return ok && r.IsSchoolDay(d)
}

func (c *Calendar) IsBiweeklySchoolDay(d model.Date) bool {
	r, ok := c.Resolution()
	return ok && r.IsBiweeklySchoolDay(d)
}

func (c *Calendar) Status(d model.Date) DayStatus {
	st := DayStatus{Date: d}
	r, ok := c.Resolution()
	if !ok {
		return st
	}
	st.Resolved = true
	st.SchoolDay = r.IsSchoolDay(d)
	st.BiweeklySchoolDay = r.IsBiweeklySchoolDay(d)
	return st
}
