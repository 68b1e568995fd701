package triad

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wippyai/mdgx-bridge/errors"
)

// Handle owns the trajectory control, topology and simulation state an
// evaluator keeps between force/energy calls. All three are live from a
// successful Construct until Destroy; there is no partially built Handle.
//
// A Handle is not safe for concurrent use.
type Handle struct {
	ev        Evaluator
	tc        Block
	uf        Block
	md        Block
	id        uuid.UUID
	atomCount int
	destroyed bool
}

// Topology is a non-owning view of a Handle's topology.
type Topology struct {
	Ptr       uint32
	AtomCount int
}

// Construct builds the triad strictly in order: trajectory control, then the
// topology loaded from topologyPath, then the simulation state built from
// coordinatePath. When a stage fails everything already built is released in
// reverse order and a resource load error naming the stage is returned.
func Construct(ctx context.Context, ev Evaluator, topologyPath, coordinatePath string) (*Handle, error) {
	if ev == nil {
		return nil, errors.NotInitialized(errors.PhaseTrajCon, "evaluator")
	}

	h := &Handle{ev: ev, id: uuid.New()}
	log := Logger().With(zap.String("handle", h.id.String()))

	var undo undoStack
	fail := func(phase errors.Phase, detail string, cause error) error {
		if err := undo.unwind(ctx); err != nil {
			log.Warn("cleanup after failed construction was incomplete", zap.Error(err))
		}
		constructFailures.WithLabelValues(string(phase)).Inc()
		err := errors.ResourceLoad(phase, detail, cause)
		log.Debug("construction failed", zap.String("stage", err.Stage()), zap.Error(cause))
		return err
	}

	tc, err := h.allocate(ctx, KindTrajCon, &undo)
	if err != nil {
		return nil, fail(errors.PhaseTrajCon, "allocate trajectory control", err)
	}
	if err := ev.CreateTrajCon(ctx, tc.Ptr); err != nil {
		return nil, fail(errors.PhaseTrajCon, "create trajectory control", err)
	}
	undo.push("destroy_trajcon", func(ctx context.Context) error {
		return ev.DestroyTrajCon(ctx, tc.Ptr)
	})

	uf, err := h.allocate(ctx, KindUform, &undo)
	if err != nil {
		return nil, fail(errors.PhaseTopology, "allocate topology", err)
	}
	if err := ev.LoadTopology(ctx, topologyPath, tc.Ptr, uf.Ptr); err != nil {
		return nil, fail(errors.PhaseTopology, "load topology "+topologyPath, err)
	}
	undo.push("destroy_uform", func(ctx context.Context) error {
		return ev.DestroyUform(ctx, uf.Ptr, 0)
	})
	natom, err := ev.AtomCount(ctx, uf.Ptr)
	if err != nil {
		return nil, fail(errors.PhaseTopology, "query atom count", err)
	}
	if natom <= 0 {
		return nil, fail(errors.PhaseTopology, "topology describes no atoms", nil)
	}

	md, err := h.allocate(ctx, KindMDSys, &undo)
	if err != nil {
		return nil, fail(errors.PhaseMDSys, "allocate simulation state", err)
	}
	if err := ev.CreateMDSys(ctx, coordinatePath, uf.Ptr, md.Ptr); err != nil {
		return nil, fail(errors.PhaseMDSys, "create simulation state from "+coordinatePath, err)
	}

	undo.disarm()
	h.tc, h.uf, h.md = tc, uf, md
	h.atomCount = int(natom)

	handlesConstructed.Inc()
	log.Debug("handle constructed",
		zap.Int("atoms", h.atomCount),
		zap.Uint32("trajcon", tc.Ptr),
		zap.Uint32("uform", uf.Ptr),
		zap.Uint32("mdsys", md.Ptr))
	return h, nil
}

// allocate obtains a block for kind and schedules its release on undo. The
// block is released even if the structure built in it later fails.
func (h *Handle) allocate(ctx context.Context, kind Kind, undo *undoStack) (Block, error) {
	size, err := h.ev.SizeOf(ctx, kind)
	if err != nil {
		return Block{}, err
	}
	ptr, err := h.ev.Alloc(size, blockAlign)
	if err != nil {
		return Block{}, err
	}
	if ptr == 0 {
		return Block{}, errors.AllocationFailed(phaseOf(kind), size, blockAlign)
	}
	b := Block{Kind: kind, Ptr: ptr, Size: size}
	undo.push("free "+string(kind), func(context.Context) error {
		h.ev.Free(b.Ptr, b.Size, blockAlign)
		return nil
	})
	return b, nil
}

func phaseOf(kind Kind) errors.Phase {
	switch kind {
	case KindTrajCon:
		return errors.PhaseTrajCon
	case KindUform:
		return errors.PhaseTopology
	default:
		return errors.PhaseMDSys
	}
}

// Destroy releases the triad in the order the evaluator requires: trajectory
// control, then the topology jointly with the simulation state, then the
// simulation state, then the three blocks. The handle is marked destroyed
// before any evaluator call, so a failing step is never retried and a second
// Destroy is a no-op.
func (h *Handle) Destroy(ctx context.Context) error {
	if h == nil || h.destroyed {
		return nil
	}
	if h.ev == nil {
		// zero Handle: nothing was built
		h.destroyed = true
		return nil
	}
	h.destroyed = true

	var firstErr error
	record := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	record(h.ev.DestroyTrajCon(ctx, h.tc.Ptr))
	record(h.ev.DestroyUform(ctx, h.uf.Ptr, h.md.Ptr))
	record(h.ev.DestroyMDSys(ctx, h.md.Ptr))

	for _, b := range [...]Block{h.tc, h.uf, h.md} {
		h.ev.Free(b.Ptr, b.Size, blockAlign)
	}

	handlesDestroyed.Inc()
	if firstErr != nil {
		Logger().Warn("handle teardown reported an error",
			zap.String("handle", h.id.String()),
			zap.Error(firstErr))
	} else {
		Logger().Debug("handle destroyed", zap.String("handle", h.id.String()))
	}
	return firstErr
}

// Destroyed reports whether Destroy has been called.
func (h *Handle) Destroyed() bool {
	return h == nil || h.destroyed
}

// ID returns the handle's unique identifier, used in logs.
func (h *Handle) ID() uuid.UUID {
	return h.id
}

// AtomCount returns the number of atoms fixed by the topology.
func (h *Handle) AtomCount() int {
	return h.atomCount
}

// Blocks returns the trajcon, uform and mdsys blocks.
func (h *Handle) Blocks() (tc, uf, md Block) {
	return h.tc, h.uf, h.md
}

// Topology exposes the topology without transferring ownership. It reports
// false once the handle is destroyed.
func (h *Handle) Topology() (Topology, bool) {
	if h.Destroyed() {
		return Topology{}, false
	}
	return Topology{Ptr: h.uf.Ptr, AtomCount: h.atomCount}, true
}

// Evaluate runs the evaluator's force/energy routine for coordinates using
// the structures owned by h. gradients and target are mutated in place.
//
// All three buffers must hold exactly 3 values per atom and h must be live;
// otherwise a precondition violation is returned and the evaluator is not
// called.
func Evaluate(ctx context.Context, coordinates, target, gradients []float64, h *Handle) error {
	return h.Evaluate(ctx, coordinates, target, gradients)
}

// Evaluate is the method form of the package-level Evaluate.
func (h *Handle) Evaluate(ctx context.Context, coordinates, target, gradients []float64) error {
	if err := h.checkBuffers(coordinates, target, gradients); err != nil {
		evaluations.WithLabelValues("rejected").Inc()
		return err
	}

	start := time.Now()
	err := h.ev.Forces(ctx, coordinates, target, gradients, h.uf.Ptr, h.tc.Ptr, h.md.Ptr)
	evaluationDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		evaluations.WithLabelValues("error").Inc()
		return err
	}
	evaluations.WithLabelValues("ok").Inc()
	return nil
}

func (h *Handle) checkBuffers(coordinates, target, gradients []float64) error {
	if h == nil || h.ev == nil {
		return errors.Precondition(errors.PhaseEvaluate, "handle was never constructed")
	}
	if h.destroyed {
		return errors.Precondition(errors.PhaseEvaluate, "handle is destroyed")
	}
	want := 3 * h.atomCount
	if len(coordinates) != want {
		return errors.LengthMismatch(errors.PhaseEvaluate, "coordinates", len(coordinates), want)
	}
	if len(target) != want {
		return errors.LengthMismatch(errors.PhaseEvaluate, "target", len(target), want)
	}
	if len(gradients) != want {
		return errors.LengthMismatch(errors.PhaseEvaluate, "gradients", len(gradients), want)
	}
	return nil
}
