// internal/supervisor/clock.go
package supervisor

import "time"

// Clock abstracts time so reconnect pacing can be observed in tests
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
}

type realClock struct{}

func (realClock) Now() time.Time        { return time.Now() }
func (realClock) Sleep(d time.Duration) { time.Sleep(d) }

// RealClock returns the wall clock
func RealClock() Clock {
	return realClock{}
}
