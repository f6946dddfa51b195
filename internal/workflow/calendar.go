package workflow

import (
	"time"

	"github.com/spec-kit/workflow-service/internal/domain"
	apperrors "github.com/spec-kit/workflow-service/pkg/util/errorutil"
)

// HolidaySet is a set of non-business calendar dates, keyed by year-month-day
// in the date's own location.
type HolidaySet map[string]struct{}

const holidayKeyLayout = "2006-01-02"

// NewHolidaySet builds a set from configured holidays.
func NewHolidaySet(holidays []domain.Holiday) HolidaySet {
	set := make(HolidaySet, len(holidays))
	for _, h := range holidays {
		set[h.Date.Format(holidayKeyLayout)] = struct{}{}
	}
	return set
}

// Contains reports whether the date (ignoring time of day) is a holiday.
func (s HolidaySet) Contains(t time.Time) bool {
	_, ok := s[t.Format(holidayKeyLayout)]
	return ok
}

// Calendar computes business-day deadlines against a holiday set. The zero
// value treats only weekends as non-business. Calendar is immutable; callers
// rebuild it when the holiday configuration changes.
type Calendar struct {
	holidays HolidaySet
}

// NewCalendar creates a calendar for the given holiday set.
func NewCalendar(holidays HolidaySet) *Calendar {
	return &Calendar{holidays: holidays}
}

// IsBusinessDay reports whether t falls on a business day.
func (c *Calendar) IsBusinessDay(t time.Time) bool {
	switch t.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	if c.holidays != nil && c.holidays.Contains(t) {
		return false
	}
	return true
}

// NextBusinessDay returns t advanced to the next business day, preserving the
// time of day. If t already falls on a business day it is returned unchanged.
func (c *Calendar) NextBusinessDay(t time.Time) time.Time {
	for !c.IsBusinessDay(t) {
		t = t.AddDate(0, 0, 1)
	}
	return t
}

// AddBusinessDays adds days business days to start. A start on a non-business
// day is first normalized to the next business day, so AddBusinessDays(d, 0)
// returns the next business day at or after d. The result is always a
// business day.
func (c *Calendar) AddBusinessDays(start time.Time, days int) (time.Time, error) {
	if days < 0 {
		return time.Time{}, apperrors.NewInvalidArgument("business day count must be non-negative", map[string]any{
			"days": days,
		})
	}
	t := c.NextBusinessDay(start)
	for counted := 0; counted < days; {
		t = t.AddDate(0, 0, 1)
		if c.IsBusinessDay(t) {
			counted++
		}
	}
	return t, nil
}

// AddBusinessHours adds hours whole business hours to start; non-business
// days contribute zero elapsed business time. Advancement is hour-stepping,
// matching minute-simulation semantics at weekend and holiday boundaries.
func (c *Calendar) AddBusinessHours(start time.Time, hours int) (time.Time, error) {
	if hours < 0 {
		return time.Time{}, apperrors.NewInvalidArgument("business hour count must be non-negative", map[string]any{
			"hours": hours,
		})
	}
	t := c.NextBusinessDay(start)
	for counted := 0; counted < hours; {
		t = t.Add(time.Hour)
		if c.IsBusinessDay(t) {
			counted++
		} else {
			// Skip the rest of the non-business day in whole days,
			// keeping the time of day intact.
			t = c.NextBusinessDay(t)
			counted++
		}
	}
	return t, nil
}
