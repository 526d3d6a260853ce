package timing

import (
	"runtime"
	"time"
)

// DefaultSpinThreshold is the remaining wait below which a WallClock stops
// sleeping and starts spinning.
const DefaultSpinThreshold = 200 * Usec

// A WallClock is a Clock backed by the host's monotonic clock. Elapsed host
// time stands in for elapsed device time.
type WallClock struct {
	start         time.Time
	spinThreshold VTimeInUsec
}

// NewWallClock creates a WallClock whose time 0 is now.
func NewWallClock() *WallClock {
	return &WallClock{
		start:         time.Now(),
		spinThreshold: DefaultSpinThreshold,
	}
}

// WithSpinThreshold sets how close to the target the clock switches from
// sleeping to busy waiting.
func (c *WallClock) WithSpinThreshold(d VTimeInUsec) *WallClock {
	c.spinThreshold = d
	return c
}

// Now returns the microseconds elapsed since the clock was created.
func (c *WallClock) Now() VTimeInUsec {
	return VTimeInUsec(time.Since(c.start).Microseconds())
}

// WaitUntil blocks the calling goroutine until t. Long waits sleep, the last
// stretch spins so short NAND delays stay accurate.
func (c *WallClock) WaitUntil(t VTimeInUsec) {
	for {
		left := t - c.Now()
		if left <= 0 {
			return
		}

		if left > c.spinThreshold {
			time.Sleep(time.Duration(left-c.spinThreshold) * time.Microsecond)
			continue
		}

		runtime.Gosched()
	}
}
