package timing

import "sync/atomic"

// A LogicalClock is a Clock whose time only moves when it is told to.
// Waiting on a LogicalClock never blocks, it jumps the clock forward.
type LogicalClock struct {
	now atomic.Int64
}

// NewLogicalClock creates a LogicalClock that starts at time 0.
func NewLogicalClock() *LogicalClock {
	return &LogicalClock{}
}

// Now returns the current logical time.
func (c *LogicalClock) Now() VTimeInUsec {
	return VTimeInUsec(c.now.Load())
}

// WaitUntil moves the clock to t if t is in the future.
func (c *LogicalClock) WaitUntil(t VTimeInUsec) {
	for {
		cur := c.now.Load()
		if int64(t) <= cur {
			return
		}

		if c.now.CompareAndSwap(cur, int64(t)) {
			return
		}
	}
}

// Advance moves the clock forward by d.
func (c *LogicalClock) Advance(d VTimeInUsec) {
	if d < 0 {
		panic("cannot move a logical clock backward")
	}

	c.now.Add(int64(d))
}
