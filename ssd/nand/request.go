package nand

import (
	"github.com/sarchlab/ssdsim/sim/id"
	"github.com/sarchlab/ssdsim/sim/timing"
)

// DefaultLatencyWindow is the number of samples the latency averages
// remember.
const DefaultLatencyWindow = 1000

// IORequest is a logical operation whose pages are in flight.
type IORequest struct {
	Seq     uint64
	Kind    Kind
	Pages   int
	Started int
	Ended   int
	Starts  []timing.VTimeInUsec
	Ends    []timing.VTimeInUsec
}

func (r *IORequest) done() bool {
	return r.Started == r.Pages && r.Ended == r.Pages
}

// span returns the first start and the last end of the request.
func (r *IORequest) span() (timing.VTimeInUsec, timing.VTimeInUsec) {
	first, last := r.Starts[0], r.Ends[0]
	for i := 1; i < len(r.Starts); i++ {
		first = min(first, r.Starts[i])
		last = max(last, r.Ends[i])
	}

	return first, last
}

type requestTracker struct {
	seq      id.SeqGenerator
	inFlight map[uint64]*IORequest
}

func newRequestTracker() *requestTracker {
	return &requestTracker{
		seq:      id.NewSeqGenerator(0),
		inFlight: make(map[uint64]*IORequest),
	}
}

func (t *requestTracker) admit(kind Kind, pages int) *IORequest {
	r := &IORequest{
		Seq:    t.seq.Next(),
		Kind:   kind,
		Pages:  pages,
		Starts: make([]timing.VTimeInUsec, 0, pages),
		Ends:   make([]timing.VTimeInUsec, 0, pages),
	}
	t.inFlight[r.Seq] = r

	return r
}

// record adds one page to the request. It returns the request once every
// page has started and ended; the request is then forgotten.
func (t *requestTracker) record(
	seq uint64,
	start, end timing.VTimeInUsec,
) (*IORequest, bool) {
	r, ok := t.inFlight[seq]
	if !ok {
		return nil, false
	}

	r.Starts = append(r.Starts, start)
	r.Started++
	r.Ends = append(r.Ends, end)
	r.Ended++

	if !r.done() {
		return nil, false
	}

	delete(t.inFlight, seq)

	return r, true
}

// cancel forgets a request whose remaining pages will never be accessed.
// It returns the request if at least one page was recorded.
func (t *requestTracker) cancel(seq uint64) (*IORequest, bool) {
	r, ok := t.inFlight[seq]
	if !ok {
		return nil, false
	}

	delete(t.inFlight, seq)

	if r.Started == 0 {
		return nil, false
	}

	r.Pages = r.Started

	return r, true
}

func (t *requestTracker) kindOf(seq uint64) (Kind, bool) {
	r, ok := t.inFlight[seq]
	if !ok {
		return 0, false
	}

	return r.Kind, true
}

func (t *requestTracker) inFlightCount() int {
	return len(t.inFlight)
}
