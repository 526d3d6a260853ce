package tracing

import (
	"sort"
	"sync"

	"github.com/sarchlab/ssdsim/sim/hooking"
	"github.com/sarchlab/ssdsim/sim/timing"
)

// A KeyFunc tells which resource a page access keeps busy.
type KeyFunc func(a hooking.PageAccess) int

// ByRegister keys page accesses by plane register.
func ByRegister(a hooking.PageAccess) int { return a.Register }

// ByChannel keys page accesses by channel.
func ByChannel(a hooking.PageAccess) int { return a.Channel }

// A PageAccessFilter selects the page accesses a tracer counts.
type PageAccessFilter func(a hooking.PageAccess) bool

type interval struct {
	start, end timing.VTimeInUsec
}

type resourceBusyTime struct {
	closed timing.VTimeInUsec
	open   []interval
}

// BusyTimeTracer measures how long each resource is busy. Page accesses
// that overlap on the same resource count once.
type BusyTimeTracer struct {
	key    KeyFunc
	filter PageAccessFilter

	mu        sync.Mutex
	resources map[int]*resourceBusyTime
}

// NewBusyTimeTracer creates a tracer. A nil filter counts every access.
func NewBusyTimeTracer(key KeyFunc, filter PageAccessFilter) *BusyTimeTracer {
	if key == nil {
		key = ByRegister
	}

	return &BusyTimeTracer{
		key:       key,
		filter:    filter,
		resources: make(map[int]*resourceBusyTime),
	}
}

// Func records a page access.
func (t *BusyTimeTracer) Func(ctx hooking.HookCtx) {
	a, ok := ctx.Item.(hooking.PageAccess)
	if !ok {
		return
	}

	if t.filter != nil && !t.filter(a) {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	r := t.resources[t.key(a)]
	if r == nil {
		r = &resourceBusyTime{}
		t.resources[t.key(a)] = r
	}

	// No later access starts before the current one is issued.
	r.collapse(timing.VTimeInUsec(a.Issue))
	r.add(interval{
		start: timing.VTimeInUsec(a.Start),
		end:   timing.VTimeInUsec(a.End),
	})
}

// BusyTime returns the busy time of one resource.
func (t *BusyTimeTracer) BusyTime(key int) timing.VTimeInUsec {
	t.mu.Lock()
	defer t.mu.Unlock()

	r := t.resources[key]
	if r == nil {
		return 0
	}

	return r.total()
}

// BusyTimes returns the busy time of every resource seen so far.
func (t *BusyTimeTracer) BusyTimes() map[int]timing.VTimeInUsec {
	t.mu.Lock()
	defer t.mu.Unlock()

	times := make(map[int]timing.VTimeInUsec, len(t.resources))
	for k, r := range t.resources {
		times[k] = r.total()
	}

	return times
}

// add inserts an interval, merging it with the intervals it overlaps or
// touches. The open intervals stay sorted and disjoint.
func (r *resourceBusyTime) add(in interval) {
	if in.end <= in.start {
		return
	}

	i := sort.Search(len(r.open), func(i int) bool {
		return r.open[i].end >= in.start
	})

	j := i
	for j < len(r.open) && r.open[j].start <= in.end {
		in.start = min(in.start, r.open[j].start)
		in.end = max(in.end, r.open[j].end)
		j++
	}

	r.open = append(r.open[:i], append([]interval{in}, r.open[j:]...)...)
}

// collapse folds the intervals that end before now into the closed total.
func (r *resourceBusyTime) collapse(now timing.VTimeInUsec) {
	n := 0
	for n < len(r.open) && r.open[n].end < now {
		r.closed += r.open[n].end - r.open[n].start
		n++
	}

	r.open = r.open[n:]
}

func (r *resourceBusyTime) total() timing.VTimeInUsec {
	busy := r.closed
	for _, in := range r.open {
		busy += in.end - in.start
	}

	return busy
}
