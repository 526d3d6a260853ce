// Package tracing turns the hooks of the simulator into records and
// measurements.
package tracing

import (
	"github.com/sarchlab/ssdsim/datarecording"
	"github.com/sarchlab/ssdsim/internal/logging"
	"github.com/sarchlab/ssdsim/sim/hooking"
)

// Table names used by the Recorder.
const (
	PageAccessTable  = "page_access"
	RequestDoneTable = "request_done"
	GCRunTable       = "gc_run"
)

type pageAccessRow struct {
	Domain    string
	Op        string
	Kind      string
	PPN       uint32
	SrcPPN    uint32
	Channel   int
	Register  int
	IssueUs   int64
	StartUs   int64
	EndUs     int64
	ReleaseUs int64
	Request   uint64
}

func makePageAccessRow(domain string, a hooking.PageAccess) pageAccessRow {
	return pageAccessRow{
		Domain:    domain,
		Op:        a.Op,
		Kind:      a.Kind,
		PPN:       a.PPN,
		SrcPPN:    a.SrcPPN,
		Channel:   a.Channel,
		Register:  a.Register,
		IssueUs:   a.Issue,
		StartUs:   a.Start,
		EndUs:     a.End,
		ReleaseUs: a.Release,
		Request:   a.Request,
	}
}

type requestDoneRow struct {
	Domain    string
	Seq       uint64
	Kind      string
	Pages     int
	StartUs   int64
	EndUs     int64
	PerPageUs float64
}

type gcRunRow struct {
	Domain     string
	Phase      string
	Flash      int
	Block      int
	ValidPages int
	Moved      int
	Copybacks  int
	Emergency  bool
	Err        string
}

// Recorder is a hook that writes the write log of the device into a
// DataRecorder: every page access, every completed request and every GC run.
type Recorder struct {
	recorder datarecording.DataRecorder
	log      *logging.Logger
	created  map[string]bool
	failed   bool
}

// NewRecorder creates a recorder hook.
func NewRecorder(r datarecording.DataRecorder, log *logging.Logger) *Recorder {
	if log == nil {
		log = logging.Nop()
	}

	return &Recorder{
		recorder: r,
		log:      log.WithComponent("tracing"),
		created:  make(map[string]bool),
	}
}

// Func records the item of the hook context.
func (r *Recorder) Func(ctx hooking.HookCtx) {
	domain := ""
	if ctx.Domain != nil {
		domain = ctx.Domain.Name()
	}

	switch item := ctx.Item.(type) {
	case hooking.PageAccess:
		r.insert(PageAccessTable, makePageAccessRow(domain, item))
	case hooking.RequestDone:
		r.insert(RequestDoneTable, requestDoneRow{
			Domain:    domain,
			Seq:       item.Seq,
			Kind:      item.Kind,
			Pages:     item.Pages,
			StartUs:   item.Start,
			EndUs:     item.End,
			PerPageUs: item.PerPageUs,
		})
	case hooking.GCRun:
		r.insert(GCRunTable, gcRunRow{
			Domain:     domain,
			Phase:      ctx.Pos.Name,
			Flash:      item.Flash,
			Block:      item.Block,
			ValidPages: item.ValidPages,
			Moved:      item.Moved,
			Copybacks:  item.Copybacks,
			Emergency:  item.Emergency,
			Err:        item.Err,
		})
	}
}

func (r *Recorder) insert(table string, row any) {
	if r.failed {
		return
	}

	if !r.created[table] {
		if err := r.recorder.CreateTable(table, row); err != nil {
			r.disable(err)
			return
		}
		r.created[table] = true
	}

	if err := r.recorder.InsertData(table, row); err != nil {
		r.disable(err)
	}
}

func (r *Recorder) disable(err error) {
	r.failed = true
	r.log.Error("recording stopped", "error", err.Error())
}

// Flush writes the buffered rows.
func (r *Recorder) Flush() error {
	return r.recorder.Flush()
}

// Close flushes the buffered rows and closes the database.
func (r *Recorder) Close() error {
	return r.recorder.Close()
}
