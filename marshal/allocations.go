package marshal

import (
	"sync"

	mdgxbridge "github.com/wippyai/mdgx-bridge"
	"github.com/wippyai/mdgx-bridge/errors"
)

// Allocation is one block obtained from the evaluator allocator.
type Allocation struct {
	Ptr   uint32
	Size  uint32
	Align uint32
}

// Allocations records staging blocks so they can be released together.
type Allocations struct {
	allocations []Allocation
}

var allocationsPool = sync.Pool{
	New: func() any {
		return &Allocations{allocations: make([]Allocation, 0, 4)}
	},
}

// NewAllocations returns an empty list from the pool. Call Release when done.
func NewAllocations() *Allocations {
	return allocationsPool.Get().(*Allocations)
}

const maxPooledAllocationCapacity = 64

// Release returns to pool. Must call after Free(); list invalid after Release.
func (al *Allocations) Release() {
	if cap(al.allocations) > maxPooledAllocationCapacity {
		return
	}
	al.Reset()
	allocationsPool.Put(al)
}

// FreeAndRelease frees every recorded block and returns the list to the pool.
func (al *Allocations) FreeAndRelease(allocator mdgxbridge.Allocator) {
	al.Free(allocator)
	al.Release()
}

// Add records a block so Free releases it.
func (al *Allocations) Add(ptr, size, align uint32) {
	al.allocations = append(al.allocations, Allocation{
		Ptr:   ptr,
		Size:  size,
		Align: align,
	})
}

// Free releases recorded blocks, most recent first.
func (al *Allocations) Free(allocator mdgxbridge.Allocator) {
	if allocator == nil {
		return
	}
	for i := len(al.allocations) - 1; i >= 0; i-- {
		a := al.allocations[i]
		if a.Ptr != 0 {
			allocator.Free(a.Ptr, a.Size, a.Align)
		}
	}
	al.allocations = al.allocations[:0]
}

// Reset forgets recorded blocks without freeing them.
func (al *Allocations) Reset() {
	al.allocations = al.allocations[:0]
}

// Count returns the number of recorded blocks.
func (al *Allocations) Count() int {
	return len(al.allocations)
}

// Stage allocates a block for vals, writes them and records the block.
// Zero-length buffers still get an 8-byte block so the pointer is valid.
func (al *Allocations) Stage(allocator mdgxbridge.Allocator, mem mdgxbridge.Memory, vals []float64) (uint32, error) {
	size := ByteLen(len(vals))
	if size == 0 {
		size = Float64Size
	}
	ptr, err := allocator.Alloc(size, Float64Size)
	if err != nil {
		return 0, err
	}
	if ptr == 0 {
		return 0, errors.AllocationFailed(errors.PhaseMarshal, size, Float64Size)
	}
	al.Add(ptr, size, Float64Size)
	if err := WriteFloat64s(mem, ptr, vals); err != nil {
		return 0, err
	}
	return ptr, nil
}

// StageBytes allocates a block for raw bytes, writes them and records the block.
func (al *Allocations) StageBytes(allocator mdgxbridge.Allocator, mem mdgxbridge.Memory, data []byte) (uint32, error) {
	size := uint32(len(data))
	if size == 0 {
		size = 1
	}
	ptr, err := allocator.Alloc(size, 1)
	if err != nil {
		return 0, err
	}
	if ptr == 0 {
		return 0, errors.AllocationFailed(errors.PhaseMarshal, size, 1)
	}
	al.Add(ptr, size, 1)
	if len(data) > 0 {
		if err := mem.Write(ptr, data); err != nil {
			return 0, errors.Wrap(errors.PhaseMarshal, errors.KindOutOfBounds, err, "write staged bytes")
		}
	}
	return ptr, nil
}
