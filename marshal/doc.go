// Package marshal moves float64 buffers between the host and the evaluator.
//
// On the host side a read-only View is copied into an owned, contiguous
// []float64 (ToOwned) and owned buffers can be rendered for inspection
// (Render, Print).
//
// On the evaluator side buffers are laid out as packed little-endian IEEE-754
// doubles in linear memory, 8 bytes per value:
//
//	ptr+0   value[0]
//	ptr+8   value[1]
//	...
//
// WriteFloat64s and ReadFloat64s perform that conversion against any
// mdgxbridge.Memory. Staging blocks obtained from the evaluator allocator are
// tracked in an Allocations list and released together after the call.
package marshal
