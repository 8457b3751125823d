package schedule

import (
	"math/rand/v2"
	"time"

	"github.com/robfig/cron/v3"
)

const maxStartupSpread = 30 * time.Second

// spreadSchedule wraps a base schedule and overrides the first run time.
// After the first run, it delegates to the base schedule.
type spreadSchedule struct {
	base  cron.Schedule
	first time.Time
}

func (s *spreadSchedule) Next(t time.Time) time.Time {
	if !s.first.IsZero() && t.Before(s.first) {
		return s.first
	}
	return s.base.Next(t)
}

// intervalSchedule staggers the first run of an interval job by up to
// min(every, maxStartupSpread) so jobs registered together do not fire together.
func intervalSchedule(every time.Duration, now time.Time, spread bool) (cron.Schedule, time.Duration) {
	base := cron.Every(every)
	limit := min(every, maxStartupSpread)
	if !spread || limit <= 0 {
		return base, 0
	}
	jitter := rand.N(limit)
	return &spreadSchedule{base: base, first: now.Add(every + jitter)}, jitter
}
