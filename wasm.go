package mdgxbridge

// Memory represents evaluator linear memory
type Memory interface {
	Read(offset uint32, length uint32) ([]byte, error)
	Write(offset uint32, data []byte) error
	ReadU32(offset uint32) (uint32, error)
	ReadF64(offset uint32) (float64, error)
	WriteU32(offset uint32, value uint32) error
	WriteF64(offset uint32, value float64) error
}

// MemorySizer provides the current size of evaluator linear memory in bytes.
type MemorySizer interface {
	Size() uint32
}

// Allocator allocates memory through the evaluator's own allocator, so every
// block has the raw-byte layout the evaluator expects.
type Allocator interface {
	Alloc(size, align uint32) (uint32, error)
	Free(ptr, size, align uint32)
}
