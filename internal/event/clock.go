package event

import "time"

// Clock abstracts wall-clock reads so cooldown, daily-cap and active-hours
// logic can be driven by a fake in tests.
type Clock interface {
	Now() time.Time
}

// RealClock reads the system clock.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }
