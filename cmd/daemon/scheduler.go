package main

import (
	"time"

	"github.com/dgnsrekt/volsurface/internal/calendar"
)

// Scheduler handles time-based scheduling and market day validation
type Scheduler struct {
	hour       int
	minute     int
	location   *time.Location
	isBusiness calendar.BusinessDayFunc
	holidays   map[time.Time]bool
	now        func() time.Time
}

// NewScheduler creates a scheduler firing at hour:minute in timezone on the
// days isBusiness accepts, minus the extra holidays.
func NewScheduler(hour, minute int, timezone string, isBusiness calendar.BusinessDayFunc, holidays []time.Time) *Scheduler {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		loc = time.UTC
	}
	skip := make(map[time.Time]bool, len(holidays))
	for _, h := range holidays {
		skip[calendar.Day(h)] = true
	}
	return &Scheduler{
		hour:       hour,
		minute:     minute,
		location:   loc,
		isBusiness: isBusiness,
		holidays:   skip,
		now:        time.Now,
	}
}

// IsScheduledTime reports whether the current time is at or past today's
// schedule. A daemon that was down at the scheduled minute still runs later
// the same day; the tracker prevents a second run.
func (s *Scheduler) IsScheduledTime() bool {
	now := s.now().In(s.location)
	return now.Hour() > s.hour || (now.Hour() == s.hour && now.Minute() >= s.minute)
}

// TodayDate returns today's date in YYYY-MM-DD format in the configured timezone
func (s *Scheduler) TodayDate() string {
	return s.now().In(s.location).Format("2006-01-02")
}

// IsMarketDay checks if the given date is a trading day (not weekend/holiday)
func (s *Scheduler) IsMarketDay(dateStr string) bool {
	d, err := calendar.ParseDate(dateStr)
	if err != nil {
		return false
	}
	return s.isBusiness(d) && !s.holidays[d]
}

// Location returns the scheduler's timezone location
func (s *Scheduler) Location() *time.Location {
	return s.location
}
