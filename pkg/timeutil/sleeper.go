package timeutil

import "time"

// Sleeper abstracts time.Sleep so callers can inject a fake clock in tests.
type Sleeper interface {
	Sleep(d time.Duration)
}

type realSleeper struct{}

// NewRealSleeper returns a Sleeper backed by time.Sleep.
func NewRealSleeper() Sleeper {
	return realSleeper{}
}

func (realSleeper) Sleep(d time.Duration) {
	time.Sleep(d)
}
