package runner

import (
	"fmt"
	"time"

	"github.com/jrsteele09/go-store-claimer/internal/config"
	"github.com/robfig/cron/v3"
)

// Deadlines derives how long a human may take from the time left until the next
// scheduled cycle.
type Deadlines struct {
	schedule cron.Schedule
	buffer   time.Duration
	min      time.Duration
	max      time.Duration
}

func NewDeadlines(cfg config.ScheduleConfig) (*Deadlines, error) {
	sched, err := cron.ParseStandard(cfg.GetCronSchedule())
	if err != nil {
		return nil, fmt.Errorf("[NewDeadlines] cron %q: %w", cfg.GetCronSchedule(), err)
	}
	return &Deadlines{
		schedule: sched,
		buffer:   cfg.GetEscalationBuffer(),
		min:      cfg.GetMinEscalationWait(),
		max:      cfg.GetMaxEscalationWait(),
	}, nil
}

// Next is the next scheduled cycle after now.
func (d *Deadlines) Next(now time.Time) time.Time {
	return d.schedule.Next(now)
}

// Deadline is the next cycle minus the safety buffer, kept within the configured
// minimum and maximum wait.
func (d *Deadlines) Deadline(now time.Time) time.Time {
	wait := d.Next(now).Sub(now) - d.buffer
	if wait < d.min {
		wait = d.min
	}
	if d.max > 0 && wait > d.max {
		wait = d.max
	}
	return now.Add(wait)
}
