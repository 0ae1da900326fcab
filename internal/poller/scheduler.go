package poller

import "time"

// Timer is a pending one-shot attempt.
type Timer interface {
	Stop() bool
}

// Scheduler arms one-shot timers. Tests substitute a manual clock.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type systemScheduler struct{}

func (systemScheduler) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// SystemScheduler runs attempts on time.AfterFunc.
var SystemScheduler Scheduler = systemScheduler{}
