package cmd

import (
	"github.com/pkg/errors"

	"github.com/sarchlab/ssdsim/sim/timing"
	"github.com/sarchlab/ssdsim/ssd/ftl"
	"github.com/sarchlab/ssdsim/ssd/object"
	"github.com/sarchlab/ssdsim/ssd/workload"
)

const engineName = "SSD"

// buildEngine creates an engine from the config. If stateDir holds a saved
// engine, its tables are restored.
func (a *app) buildEngine(stateDir string, realtime bool) (*ftl.Engine, error) {
	g, err := a.cfg.GeometryOf()
	if err != nil {
		return nil, err
	}

	b := ftl.MakeBuilder().
		WithGeometry(g).
		WithDelays(a.cfg.Delays).
		WithLogger(a.log).
		WithLatencyWindow(a.cfg.LatencyWindow)

	if a.cfg.ExperimentalPolicies {
		b = b.WithExperimentalPolicies()
	}

	if realtime {
		b = b.WithClock(timing.NewWallClock())
	}

	if stateDir == "" {
		return b.Build(engineName), nil
	}

	e, err := ftl.Load(stateDir, b, engineName)
	if err != nil {
		return nil, errors.Wrapf(err, "restoring %s", stateDir)
	}

	return e, nil
}

// target applies workload requests to one of the front ends.
type target interface {
	apply(op workload.Op) error
}

type sectorTarget struct {
	engine *ftl.Engine
}

func (t sectorTarget) apply(op workload.Op) error {
	switch op.Kind {
	case workload.KindRead:
		return t.engine.Read(op.Sector, op.Length)
	case workload.KindTrim:
		return t.engine.Trim(op.Sector, op.Length)
	default:
		return t.engine.Write(op.Sector, op.Length)
	}
}

// objectTarget cuts the logical sector space into objects of a fixed number
// of sectors. A request goes to the object its first sector falls in and is
// clipped at the end of that object.
type objectTarget struct {
	store         *object.Store
	sectorSize    int64
	objectSectors int
}

func (t objectTarget) apply(op workload.Op) error {
	id := object.ID{Object: uint64(op.Sector / t.objectSectors)}
	start := op.Sector % t.objectSectors

	length := op.Length
	if start+length > t.objectSectors {
		length = t.objectSectors - start
	}

	offset := int64(start) * t.sectorSize
	size := int64(length) * t.sectorSize

	switch op.Kind {
	case workload.KindRead:
		return t.store.Read(id, offset, size)
	case workload.KindTrim:
		return t.store.Delete(id, offset, size)
	default:
		return t.store.Write(id, offset, size)
	}
}
