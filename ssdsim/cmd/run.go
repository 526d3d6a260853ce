package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/sarchlab/ssdsim/datarecording"
	"github.com/sarchlab/ssdsim/monitoring"
	"github.com/sarchlab/ssdsim/sim/hooking"
	"github.com/sarchlab/ssdsim/sim/timing"
	"github.com/sarchlab/ssdsim/ssd/ftl"
	"github.com/sarchlab/ssdsim/ssd/object"
	"github.com/sarchlab/ssdsim/ssd/workload"
	"github.com/sarchlab/ssdsim/tracing"
)

type runOptions struct {
	pattern     string
	ops         int
	size        int
	seed        int64
	stateDir    string
	record      bool
	recordFile  string
	monitor     bool
	monitorPort int
	openBrowser bool
	realtime    bool
	objects     bool
	objectPages int
	check       bool
}

// runSummary is what run prints when the workload ends.
type runSummary struct {
	Pattern    string        `json:"pattern"`
	Requests   int           `json:"requests"`
	GCFailed   int           `json:"gc_failed"`
	OutOfSpace bool          `json:"out_of_space"`
	Report     ftl.Summary   `json:"report"`
	Registers  map[int]int64 `json:"register_busy_us"`
	Channels   map[int]int64 `json:"channel_busy_us"`
	Record     string        `json:"record,omitempty"`
}

func newRunCommand(a *app) *cobra.Command {
	o := &runOptions{}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Drive the FTL with a synthetic workload.",
		Long: "`run` issues a synthetic stream of host requests against the " +
			"FTL and prints the statistics when it ends. With --state-dir " +
			"the engine resumes from and saves to a directory.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			return a.run(ctx, cmd, o)
		},
	}

	flags := runCmd.Flags()
	flags.StringVar(&o.pattern, "pattern", string(workload.Random),
		"workload pattern: sequential, random, mixed or overwrite")
	flags.IntVar(&o.ops, "ops", 10000, "number of requests to issue")
	flags.IntVar(&o.size, "size", 8, "request size in sectors")
	flags.Int64Var(&o.seed, "seed", 1, "seed of the workload generator")
	flags.StringVar(&o.stateDir, "state-dir", "",
		"directory to restore the engine from and save it to")
	flags.BoolVar(&o.record, "record", false,
		"record page accesses, requests and GC runs into SQLite")
	flags.StringVar(&o.recordFile, "record-file", "",
		"SQLite file of --record (default: a new ssdsim_<id>.sqlite3)")
	flags.BoolVar(&o.monitor, "monitor", false, "serve the monitoring API")
	flags.IntVar(&o.monitorPort, "monitor-port", 0,
		"port of the monitoring API (default: a random port)")
	flags.BoolVar(&o.openBrowser, "open-browser", false,
		"open the monitoring API in a browser")
	flags.BoolVar(&o.realtime, "realtime", false,
		"wait out NAND delays on the wall clock")
	flags.BoolVar(&o.objects, "objects", false,
		"drive the object front end instead of the sector front end")
	flags.IntVar(&o.objectPages, "object-pages", 16,
		"size of an object in pages with --objects")
	flags.BoolVar(&o.check, "check", false,
		"verify the FTL tables when the workload ends")

	return runCmd
}

func (a *app) run(ctx context.Context, cmd *cobra.Command, o *runOptions) error {
	if o.stateDir == "" {
		o.stateDir = a.cfg.StateDir
	}

	if o.objects && o.stateDir != "" {
		return errors.New("--objects cannot be combined with a state directory")
	}

	if o.objects && o.objectPages <= 0 {
		return fmt.Errorf("--object-pages must be positive, got %d", o.objectPages)
	}

	e, err := a.buildEngine(o.stateDir, o.realtime)
	if err != nil {
		return err
	}
	defer e.Shutdown()

	gen, err := workload.New(workload.Pattern(o.pattern), e.Geometry(), o.size, o.seed)
	if err != nil {
		return err
	}

	var t target = sectorTarget{engine: e}
	if o.objects {
		t = objectTarget{
			store:         object.New(e),
			sectorSize:    int64(e.Geometry().SectorSize),
			objectSectors: o.objectPages * e.Geometry().SectorsPerPage,
		}
	}

	registers := tracing.NewBusyTimeTracer(tracing.ByRegister, nil)
	channels := tracing.NewBusyTimeTracer(tracing.ByChannel, nil)
	e.NAND().AcceptHook(registers)
	e.NAND().AcceptHook(channels)

	summary := runSummary{Pattern: o.pattern}

	var recorder *tracing.Recorder
	if o.record {
		recorder, summary.Record, err = a.attachRecorder(e, o.recordFile)
		if err != nil {
			return err
		}
	}

	mon := monitoring.NewMonitor().
		WithLogger(a.log).
		WithPortNumber(o.monitorPort).
		WithBrowser(o.openBrowser)
	mon.RegisterEngine(e)

	if o.monitor {
		if _, err := mon.StartServer(); err != nil {
			return err
		}
		defer func() {
			if err := mon.StopServer(); err != nil {
				a.log.Warn("monitor did not stop cleanly", "error", err)
			}
		}()
	}

	if err := a.drive(ctx, mon, gen, t, o.ops, &summary); err != nil {
		return err
	}

	if recorder != nil {
		if err := recorder.Close(); err != nil {
			return errors.Wrap(err, "closing the recorder")
		}
	}

	if o.check {
		if err := e.Check(); err != nil {
			return err
		}
	}

	if o.stateDir != "" {
		if err := e.Save(o.stateDir); err != nil {
			return errors.Wrapf(err, "saving %s", o.stateDir)
		}
		a.log.Info("engine state saved", "dir", o.stateDir)
	}

	summary.Report = e.Report()
	summary.Registers = toMicroseconds(registers.BusyTimes())
	summary.Channels = toMicroseconds(channels.BusyTimes())

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")

	return enc.Encode(summary)
}

// drive issues the requests until the count is reached, the context is
// cancelled or the device runs out of space.
func (a *app) drive(
	ctx context.Context,
	mon *monitoring.Monitor,
	gen *workload.Generator,
	t target,
	ops int,
	summary *runSummary,
) error {
	bar := mon.CreateProgressBar("workload", uint64(ops))
	defer mon.CompleteProgressBar(bar)

	for i := 0; i < ops; i++ {
		if ctx.Err() != nil {
			a.log.Warn("workload interrupted", "requests", i)
			return nil
		}

		op := gen.Next()

		bar.IncrementInProgress(1)
		err := mon.Do(func() error { return t.apply(op) })
		bar.MoveInProgressToFinished(1)
		summary.Requests++

		switch {
		case err == nil:
		case ftl.IsCode(err, ftl.CodeGCFailed):
			summary.GCFailed++
			a.log.Debug("gc could not keep up", "request", i, "error", err)
		case ftl.IsCode(err, ftl.CodeOutOfSpace):
			summary.OutOfSpace = true
			a.log.Warn("device is out of space", "request", i)
			return nil
		default:
			return errors.Wrapf(err, "request %d (%s %d+%d)",
				i, op.Kind, op.Sector, op.Length)
		}
	}

	return nil
}

func (a *app) attachRecorder(e *ftl.Engine, path string) (*tracing.Recorder, string, error) {
	if path == "" {
		path = datarecording.DefaultPath()
	}

	db, err := datarecording.New(path, datarecording.DefaultBatchSize)
	if err != nil {
		return nil, "", err
	}

	recorder := tracing.NewRecorder(db, a.log)

	var hook hooking.Hook = recorder
	e.AcceptHook(hook)
	e.NAND().AcceptHook(hook)

	a.log.Info("recording the run", "file", path)

	return recorder, path, nil
}

func toMicroseconds(times map[int]timing.VTimeInUsec) map[int]int64 {
	us := make(map[int]int64, len(times))
	for k, t := range times {
		us[k] = int64(t)
	}

	return us
}
