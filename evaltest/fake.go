package evaltest

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"sync"

	"github.com/wippyai/mdgx-bridge/errors"
	"github.com/wippyai/mdgx-bridge/triad"
)

type fakeObject struct {
	kind  triad.Kind
	natom int32
	ref   []float64
}

// Fake is a pure-Go triad.Evaluator with the reference evaluator's
// semantics. It logs every call, counts outstanding blocks and live
// structures, and records lifecycle violations instead of trapping.
type Fake struct {
	// FailExport makes the named export report FailStatus. "malloc" makes
	// allocation return 0.
	FailExport string
	FailStatus int32

	mu         sync.Mutex
	next       uint32
	blocks     map[uint32]uint32
	objects    map[uint32]fakeObject
	calls      []string
	violations []string
	closed     bool
}

var _ triad.Evaluator = (*Fake)(nil)

// NewFake returns a Fake with an empty heap.
func NewFake() *Fake {
	return &Fake{
		next:    HeapBase,
		blocks:  make(map[uint32]uint32),
		objects: make(map[uint32]fakeObject),
	}
}

// FailingFake returns a Fake whose export fails with status.
func FailingFake(export string, status int32) *Fake {
	f := NewFake()
	f.FailExport = export
	f.FailStatus = status
	return f
}

func (f *Fake) record(format string, args ...any) {
	f.calls = append(f.calls, fmt.Sprintf(format, args...))
}

func (f *Fake) violate(format string, args ...any) {
	f.violations = append(f.violations, fmt.Sprintf(format, args...))
}

func (f *Fake) failing(export string) bool {
	return f.FailExport == export
}

func (f *Fake) Alloc(size, align uint32) (uint32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("malloc(%d)", size)
	if f.failing("malloc") {
		return 0, nil
	}
	if align == 0 {
		align = 1
	}
	ptr := (f.next + align - 1) &^ (align - 1)
	f.next = ptr + size
	if size == 0 {
		f.next++
	}
	f.blocks[ptr] = size
	return ptr, nil
}

func (f *Fake) Free(ptr, size, align uint32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("free(%d)", ptr)
	if _, ok := f.blocks[ptr]; !ok {
		f.violate("free of unknown block %d", ptr)
		return
	}
	delete(f.blocks, ptr)
}

func (f *Fake) SizeOf(_ context.Context, kind triad.Kind) (uint32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("sizeof_%s", kind)
	switch kind {
	case triad.KindTrajCon:
		return SizeTrajCon, nil
	case triad.KindUform:
		return SizeUform, nil
	case triad.KindMDSys:
		return SizeMDSys, nil
	}
	return 0, errors.InvalidInput(errors.PhaseABI, "unknown structure kind "+string(kind))
}

func (f *Fake) CreateTrajCon(_ context.Context, tc uint32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("create_trajcon")
	if f.failing("create_trajcon") {
		return errors.NativeStatus(errors.PhaseTrajCon, "create_trajcon", f.FailStatus)
	}
	if tc == 0 {
		return errors.NativeStatus(errors.PhaseTrajCon, "create_trajcon", StatusNull)
	}
	f.objects[tc] = fakeObject{kind: triad.KindTrajCon}
	return nil
}

func (f *Fake) LoadTopology(_ context.Context, path string, tc, uf uint32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("load_topology")
	if f.failing("load_topology") {
		return errors.NativeStatus(errors.PhaseTopology, "load_topology", f.FailStatus)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrap(errors.PhaseTopology, errors.KindInvalidInput, err, "read topology file")
	}
	if !f.live(tc, triad.KindTrajCon) {
		return errors.NativeStatus(errors.PhaseTopology, "load_topology", StatusBadStruct)
	}
	natom, status := ParseTopology(data)
	if status != StatusOK {
		return errors.NativeStatus(errors.PhaseTopology, "load_topology", status)
	}
	f.objects[uf] = fakeObject{kind: triad.KindUform, natom: int32(natom)}
	return nil
}

func (f *Fake) CreateMDSys(_ context.Context, path string, uf, md uint32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("create_mdsys")
	if f.failing("create_mdsys") {
		return errors.NativeStatus(errors.PhaseMDSys, "create_mdsys", f.FailStatus)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrap(errors.PhaseMDSys, errors.KindInvalidInput, err, "read coordinate file")
	}
	if !f.live(uf, triad.KindUform) {
		return errors.NativeStatus(errors.PhaseMDSys, "create_mdsys", StatusBadStruct)
	}
	ref, status := ParseCoordinates(data, uint32(f.objects[uf].natom))
	if status != StatusOK {
		return errors.NativeStatus(errors.PhaseMDSys, "create_mdsys", status)
	}
	f.objects[md] = fakeObject{kind: triad.KindMDSys, natom: f.objects[uf].natom, ref: ref}
	return nil
}

func (f *Fake) AtomCount(_ context.Context, uf uint32) (int32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("atom_count")
	if f.failing("atom_count") {
		return 0, nil
	}
	if !f.live(uf, triad.KindUform) {
		return 0, nil
	}
	return f.objects[uf].natom, nil
}

func (f *Fake) Forces(_ context.Context, crd, target, frc []float64, uf, tc, md uint32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("getmdgxfrc")
	if f.failing("getmdgxfrc") {
		return errors.NativeStatus(errors.PhaseEvaluate, "getmdgxfrc", f.FailStatus)
	}
	if !f.live(tc, triad.KindTrajCon) || !f.live(uf, triad.KindUform) || !f.live(md, triad.KindMDSys) {
		return errors.NativeStatus(errors.PhaseEvaluate, "getmdgxfrc", StatusBadStruct)
	}
	forces, energy := HarmonicForces(crd, f.objects[md].ref)
	copy(frc, forces)
	if len(target) > 0 {
		target[0] = energy
	}
	return nil
}

func (f *Fake) DestroyTrajCon(_ context.Context, tc uint32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("destroy_trajcon")
	return f.destroy("destroy_trajcon", tc, triad.KindTrajCon)
}

func (f *Fake) DestroyUform(_ context.Context, uf, md uint32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("destroy_uform(md=%t)", md != 0)
	if md != 0 && !f.live(md, triad.KindMDSys) {
		f.violate("destroy_uform after simulation state %d was destroyed", md)
		return errors.Trap(errors.PhaseTeardown, "destroy_uform", fmt.Errorf("simulation state %d is not live", md))
	}
	return f.destroy("destroy_uform", uf, triad.KindUform)
}

func (f *Fake) DestroyMDSys(_ context.Context, md uint32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("destroy_mdsys")
	return f.destroy("destroy_mdsys", md, triad.KindMDSys)
}

func (f *Fake) destroy(export string, ptr uint32, kind triad.Kind) error {
	if f.failing(export) {
		delete(f.objects, ptr)
		return errors.NativeStatus(errors.PhaseTeardown, export, f.FailStatus)
	}
	if ptr == 0 {
		return nil
	}
	if !f.live(ptr, kind) {
		f.violate("%s on dead %s %d", export, kind, ptr)
		return errors.Trap(errors.PhaseTeardown, export, fmt.Errorf("%s %d is not live", kind, ptr))
	}
	delete(f.objects, ptr)
	return nil
}

func (f *Fake) live(ptr uint32, kind triad.Kind) bool {
	obj, ok := f.objects[ptr]
	return ok && obj.kind == kind
}

// Close marks the fake closed. Structures still live are not released.
func (f *Fake) Close(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// Closed reports whether Close was called.
func (f *Fake) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// Calls returns the evaluator calls made so far, in order.
func (f *Fake) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// Outstanding returns the number of blocks allocated and not yet freed.
func (f *Fake) Outstanding() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.blocks)
}

// LiveObjects returns the number of structures built and not destroyed.
func (f *Fake) LiveObjects() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.objects)
}

// Violations returns lifecycle misuse the fake observed.
func (f *Fake) Violations() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.violations...)
}

// ParseTopology decodes a reference topology file.
func ParseTopology(data []byte) (natom uint32, status int32) {
	if len(data) < 8 || binary.LittleEndian.Uint32(data) != MagicTopology {
		return 0, StatusBadFile
	}
	natom = binary.LittleEndian.Uint32(data[4:])
	if natom == 0 {
		return 0, StatusNoAtoms
	}
	return natom, StatusOK
}

// ParseCoordinates decodes a reference coordinate file that must describe
// natom atoms.
func ParseCoordinates(data []byte, natom uint32) ([]float64, int32) {
	if len(data) < 8 || binary.LittleEndian.Uint32(data) != MagicCoordinates {
		return nil, StatusBadFile
	}
	if binary.LittleEndian.Uint32(data[4:]) != natom {
		return nil, StatusAtomMismatch
	}
	n := int(natom) * 3
	if len(data)-8 < n*8 {
		return nil, StatusBadFile
	}
	ref := make([]float64, n)
	for i := range ref {
		ref[i] = math.Float64frombits(binary.LittleEndian.Uint64(data[8+8*i:]))
	}
	return ref, StatusOK
}
