package hooking

// A list of hook poses for the hooks to apply to.
var (
	// HookPosPageAccess is triggered after a physical page access has been
	// scheduled on the NAND model. The item is a PageAccess.
	HookPosPageAccess = &HookPos{Name: "HookPosPageAccess"}

	// HookPosRequestDone is triggered when all the pages of an I/O request
	// have completed. The item is a RequestDone.
	HookPosRequestDone = &HookPos{Name: "HookPosRequestDone"}

	// HookPosGCStart and HookPosGCEnd bracket the collection of one victim
	// block. The item is a GCRun.
	HookPosGCStart = &HookPos{Name: "HookPosGCStart"}
	HookPosGCEnd   = &HookPos{Name: "HookPosGCEnd"}
)

// PageAccess describes one scheduled physical page operation. Times are in
// microseconds of simulated time.
type PageAccess struct {
	Op       string
	Kind     string
	PPN      uint32
	SrcPPN   uint32
	Channel  int
	Register int
	Issue    int64
	Start    int64
	End      int64
	Release  int64
	Request  uint64
}

// RequestDone describes a completed multi-page I/O request.
type RequestDone struct {
	Seq       uint64
	Kind      string
	Pages     int
	Start     int64
	End       int64
	PerPageUs float64
}

// GCRun describes the collection of a victim block.
type GCRun struct {
	Flash      int
	Block      int
	ValidPages int
	Moved      int
	Copybacks  int
	Emergency  bool
	Err        string
}
