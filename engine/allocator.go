package engine

import (
	"context"
	"sync"

	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	mdgxbridge "github.com/wippyai/mdgx-bridge"
	"github.com/wippyai/mdgx-bridge/errors"
)

// allocator calls the evaluator's malloc and free exports and tracks the
// blocks the host has not released yet.
type allocator struct {
	allocFn     api.Function
	freeFn      api.Function
	currentCtx  context.Context
	outstanding map[uint32]uint32
	stackBuf    []uint64
	mu          sync.Mutex
}

var _ mdgxbridge.Allocator = (*allocator)(nil)

func newAllocator(allocFn, freeFn api.Function) *allocator {
	return &allocator{
		allocFn:     allocFn,
		freeFn:      freeFn,
		outstanding: make(map[uint32]uint32),
		stackBuf:    make([]uint64, 1),
	}
}

func (a *allocator) setContext(ctx context.Context) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.currentCtx = ctx
}

// Alloc returns a block of at least size bytes. The evaluator's malloc
// aligns to 8, which covers every alignment the host asks for. A zero
// pointer with a nil error means the evaluator is out of memory.
func (a *allocator) Alloc(size, align uint32) (uint32, error) {
	if a.allocFn == nil {
		return 0, errors.NotInitialized(errors.PhaseMarshal, "allocator")
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	ctx := a.currentCtx
	if ctx == nil {
		ctx = context.Background()
	}

	a.stackBuf[0] = api.EncodeU32(size)
	if err := a.allocFn.CallWithStack(ctx, a.stackBuf[:1]); err != nil {
		return 0, errors.Trap(errors.PhaseMarshal, "malloc", err)
	}
	ptr := api.DecodeU32(a.stackBuf[0])
	if ptr != 0 {
		a.outstanding[ptr] = size
	}
	return ptr, nil
}

func (a *allocator) Free(ptr, size, align uint32) {
	if a.freeFn == nil || ptr == 0 {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.outstanding[ptr]; !ok {
		Logger().Warn("free of a block the host does not own", zap.Uint32("ptr", ptr))
		return
	}
	delete(a.outstanding, ptr)

	ctx := a.currentCtx
	if ctx == nil {
		ctx = context.Background()
	}

	a.stackBuf[0] = api.EncodeU32(ptr)
	if err := a.freeFn.CallWithStack(ctx, a.stackBuf[:1]); err != nil {
		Logger().Warn("free: evaluator call failed",
			zap.Uint32("ptr", ptr),
			zap.Uint32("size", size),
			zap.Error(err))
	}
}

func (a *allocator) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.outstanding)
}
