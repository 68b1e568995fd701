package engine

import (
	"context"
	"os"

	"github.com/tetratelabs/wazero/api"

	"github.com/wippyai/mdgx-bridge/errors"
	"github.com/wippyai/mdgx-bridge/marshal"
	"github.com/wippyai/mdgx-bridge/triad"
)

// Instance is one instantiated evaluator. It implements triad.Evaluator.
// An Instance is not safe for concurrent use.
type Instance struct {
	mod     api.Module
	memory  *Memory
	alloc   *allocator
	funcs   map[string]api.Function
	liveFn  api.Function
	countFn api.Function
}

var _ triad.Evaluator = (*Instance)(nil)

func newInstance(mod api.Module) (*Instance, error) {
	i := &Instance{
		mod:   mod,
		funcs: make(map[string]api.Function, len(requiredABI)),
	}
	for _, sig := range requiredABI {
		fn := mod.ExportedFunction(sig.Name)
		if fn == nil {
			_ = mod.Close(context.Background())
			return nil, errors.NewMissingExportsError([]string{sig.Name})
		}
		i.funcs[sig.Name] = fn
	}
	mem := mod.ExportedMemory(MemoryExport)
	if mem == nil {
		_ = mod.Close(context.Background())
		return nil, errors.NewMissingExportsError([]string{MemoryExport})
	}
	i.memory = &Memory{mem: mem}
	i.alloc = newAllocator(i.funcs["malloc"], i.funcs["free"])
	i.liveFn = mod.ExportedFunction("live_objects")
	i.countFn = mod.ExportedFunction("eval_count")
	return i, nil
}

// Memory returns the instance's linear memory.
func (i *Instance) Memory() *Memory {
	return i.memory
}

// call invokes an export, mapping a trap to a structured error.
func (i *Instance) call(ctx context.Context, phase errors.Phase, export string, params ...uint64) ([]uint64, error) {
	if i.mod == nil {
		return nil, errors.NotInitialized(phase, "evaluator instance")
	}
	i.alloc.setContext(ctx)
	results, err := i.funcs[export].Call(ctx, params...)
	if err != nil {
		return nil, errors.Trap(phase, export, err)
	}
	return results, nil
}

// callStatus invokes an export returning an s32 status and maps non-zero
// status to an error.
func (i *Instance) callStatus(ctx context.Context, phase errors.Phase, export string, params ...uint64) error {
	results, err := i.call(ctx, phase, export, params...)
	if err != nil {
		return err
	}
	if status := api.DecodeI32(results[0]); status != 0 {
		return errors.NativeStatus(phase, export, status)
	}
	return nil
}

func (i *Instance) Alloc(size, align uint32) (uint32, error) {
	if i.alloc == nil {
		return 0, errors.NotInitialized(errors.PhaseMarshal, "evaluator instance")
	}
	return i.alloc.Alloc(size, align)
}

func (i *Instance) Free(ptr, size, align uint32) {
	if i.alloc == nil {
		return
	}
	i.alloc.Free(ptr, size, align)
}

// SizeOf reports the block size the evaluator needs for a structure.
func (i *Instance) SizeOf(ctx context.Context, kind triad.Kind) (uint32, error) {
	var export string
	switch kind {
	case triad.KindTrajCon, triad.KindUform, triad.KindMDSys:
		export = "sizeof_" + string(kind)
	default:
		return 0, errors.InvalidInput(errors.PhaseABI, "unknown structure kind "+string(kind))
	}
	results, err := i.call(ctx, errors.PhaseABI, export)
	if err != nil {
		return 0, err
	}
	return api.DecodeU32(results[0]), nil
}

func (i *Instance) CreateTrajCon(ctx context.Context, tc uint32) error {
	return i.callStatus(ctx, errors.PhaseTrajCon, "create_trajcon", api.EncodeU32(tc))
}

// LoadTopology stages the topology file and calls load_topology.
func (i *Instance) LoadTopology(ctx context.Context, path string, tc, uf uint32) error {
	return i.withFile(ctx, errors.PhaseTopology, path, func(data, n uint32) error {
		return i.callStatus(ctx, errors.PhaseTopology, "load_topology",
			api.EncodeU32(data), api.EncodeU32(n), api.EncodeU32(tc), api.EncodeU32(uf))
	})
}

// CreateMDSys stages the coordinate file and calls create_mdsys.
func (i *Instance) CreateMDSys(ctx context.Context, path string, uf, md uint32) error {
	return i.withFile(ctx, errors.PhaseMDSys, path, func(data, n uint32) error {
		return i.callStatus(ctx, errors.PhaseMDSys, "create_mdsys",
			api.EncodeU32(data), api.EncodeU32(n), api.EncodeU32(uf), api.EncodeU32(md))
	})
}

// withFile reads path, stages its bytes in evaluator memory for fn and
// frees the staging block afterwards.
func (i *Instance) withFile(ctx context.Context, phase errors.Phase, path string, fn func(data, n uint32) error) error {
	if i.mod == nil {
		return errors.NotInitialized(phase, "evaluator instance")
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrap(phase, errors.KindInvalidInput, err, "read "+path)
	}

	i.alloc.setContext(ctx)
	staged := marshal.NewAllocations()
	defer staged.FreeAndRelease(i.alloc)

	ptr, err := staged.StageBytes(i.alloc, i.memory, content)
	if err != nil {
		return err
	}
	return fn(ptr, uint32(len(content)))
}

func (i *Instance) AtomCount(ctx context.Context, uf uint32) (int32, error) {
	results, err := i.call(ctx, errors.PhaseTopology, "atom_count", api.EncodeU32(uf))
	if err != nil {
		return 0, err
	}
	return api.DecodeI32(results[0]), nil
}

// Forces stages the three buffers, runs getmdgxfrc and copies frc and
// target back.
func (i *Instance) Forces(ctx context.Context, crd, target, frc []float64, uf, tc, md uint32) error {
	if i.alloc == nil {
		return errors.NotInitialized(errors.PhaseEvaluate, "evaluator instance")
	}
	i.alloc.setContext(ctx)
	staged := marshal.NewAllocations()
	defer staged.FreeAndRelease(i.alloc)

	crdPtr, err := staged.Stage(i.alloc, i.memory, crd)
	if err != nil {
		return err
	}
	targetPtr, err := staged.Stage(i.alloc, i.memory, target)
	if err != nil {
		return err
	}
	frcPtr, err := staged.Stage(i.alloc, i.memory, frc)
	if err != nil {
		return err
	}

	err = i.callStatus(ctx, errors.PhaseEvaluate, "getmdgxfrc",
		api.EncodeU32(crdPtr), api.EncodeU32(targetPtr), api.EncodeU32(frcPtr),
		api.EncodeU32(uf), api.EncodeU32(tc), api.EncodeU32(md))
	if err != nil {
		return err
	}

	if err := marshal.ReadFloat64s(i.memory, frcPtr, frc); err != nil {
		return err
	}
	return marshal.ReadFloat64s(i.memory, targetPtr, target)
}

func (i *Instance) DestroyTrajCon(ctx context.Context, tc uint32) error {
	_, err := i.call(ctx, errors.PhaseTeardown, "destroy_trajcon", api.EncodeU32(tc))
	return err
}

func (i *Instance) DestroyUform(ctx context.Context, uf, md uint32) error {
	_, err := i.call(ctx, errors.PhaseTeardown, "destroy_uform", api.EncodeU32(uf), api.EncodeU32(md))
	return err
}

func (i *Instance) DestroyMDSys(ctx context.Context, md uint32) error {
	_, err := i.call(ctx, errors.PhaseTeardown, "destroy_mdsys", api.EncodeU32(md))
	return err
}

// Outstanding returns how many blocks the host allocated and has not freed.
func (i *Instance) Outstanding() int {
	if i.alloc == nil {
		return 0
	}
	return i.alloc.count()
}

// LiveObjects asks the evaluator how many structures it holds. It fails
// with a not-found error when the module does not export live_objects.
func (i *Instance) LiveObjects(ctx context.Context) (int, error) {
	if i.liveFn == nil {
		return 0, errors.NotFound(errors.PhaseABI, "export", "live_objects")
	}
	results, err := i.liveFn.Call(ctx)
	if err != nil {
		return 0, errors.Trap(errors.PhaseABI, "live_objects", err)
	}
	return int(api.DecodeI32(results[0])), nil
}

// EvalCount reports how many evaluations the simulation state md served,
// when the module exports eval_count.
func (i *Instance) EvalCount(ctx context.Context, md uint32) (int, error) {
	if i.countFn == nil {
		return 0, errors.NotFound(errors.PhaseABI, "export", "eval_count")
	}
	results, err := i.countFn.Call(ctx, api.EncodeU32(md))
	if err != nil {
		return 0, errors.Trap(errors.PhaseABI, "eval_count", err)
	}
	return int(api.DecodeI32(results[0])), nil
}

func (i *Instance) Close(ctx context.Context) error {
	var firstErr error
	if i.mod != nil {
		if err := i.mod.Close(ctx); err != nil {
			firstErr = err
		}
		i.mod = nil
	}
	// Clear references to help GC
	i.funcs = nil
	i.memory = nil
	i.alloc = nil
	i.liveFn = nil
	i.countFn = nil
	return firstErr
}
