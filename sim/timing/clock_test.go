package timing

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("LogicalClock", func() {
	var c *LogicalClock

	BeforeEach(func() {
		c = NewLogicalClock()
	})

	It("should start at zero", func() {
		Expect(c.Now()).To(Equal(VTimeInUsec(0)))
	})

	It("should jump forward when waiting for a future time", func() {
		c.WaitUntil(120)

		Expect(c.Now()).To(Equal(VTimeInUsec(120)))
	})

	It("should not move backward when waiting for a past time", func() {
		c.Advance(50)
		c.WaitUntil(10)

		Expect(c.Now()).To(Equal(VTimeInUsec(50)))
	})

	It("should panic on negative advance", func() {
		Expect(func() { c.Advance(-1) }).To(Panic())
	})
})

var _ = Describe("WallClock", func() {
	It("should wait until the target time", func() {
		c := NewWallClock()
		target := c.Now() + 2*Msec

		c.WaitUntil(target)

		Expect(c.Now()).To(BeNumerically(">=", target))
	})
})

var _ = Describe("Max", func() {
	It("should return the latest time", func() {
		Expect(Max(3, 9, 1)).To(Equal(VTimeInUsec(9)))
		Expect(Max(3)).To(Equal(VTimeInUsec(3)))
	})

	It("should convert to seconds", func() {
		Expect((1500 * Msec).Seconds()).To(BeNumerically("~", 1.5, 1e-9))
	})
})
