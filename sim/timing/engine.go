// Package timing defines how simulated time is told and how a simulated
// delay is turned into an actual wait.
package timing

import "math"

// VTimeInUsec defines a point in the simulated time, in microseconds.
type VTimeInUsec int64

// Units of simulated time.
const (
	Usec VTimeInUsec = 1
	Msec VTimeInUsec = 1000 * Usec
	Sec  VTimeInUsec = 1000 * Msec
)

// Seconds converts the time to seconds.
func (t VTimeInUsec) Seconds() float64 {
	return float64(t) / float64(Sec)
}

// Max returns the latest of the given times.
func Max(t VTimeInUsec, others ...VTimeInUsec) VTimeInUsec {
	for _, o := range others {
		if o > t {
			t = o
		}
	}

	return t
}

// Never is a time that is never reached.
const Never = VTimeInUsec(math.MaxInt64)

// TimeTeller can be used to get the current time.
type TimeTeller interface {
	Now() VTimeInUsec
}

// A Realizer blocks the caller until the simulated time reaches the given
// time. Realizing a time in the past returns immediately.
type Realizer interface {
	WaitUntil(t VTimeInUsec)
}

// A Clock tells the time and can wait for a future time.
type Clock interface {
	TimeTeller
	Realizer
}
