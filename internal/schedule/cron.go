package schedule

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// Cadence is a fixed schedule evaluated in the operating timezone.
type Cadence struct {
	spec  string
	sched cron.Schedule
	loc   *time.Location
}

// ParseCadence parses a standard 5-field cron expression or a descriptor such as "@hourly".
func ParseCadence(spec string, loc *time.Location) (*Cadence, error) {
	if loc == nil {
		loc = time.UTC
	}
	sched, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, fmt.Errorf("schedule: cadence %q: %w", spec, err)
	}
	return &Cadence{spec: spec, sched: sched, loc: loc}, nil
}

// Next returns the first activation strictly after now.
func (c *Cadence) Next(now time.Time) time.Time {
	return c.sched.Next(now.In(c.loc))
}

func (c *Cadence) String() string {
	return c.spec
}
