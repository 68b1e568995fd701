// Package engine hosts an external force-field evaluator compiled to a
// WebAssembly core module.
//
// This package wraps wazero: it compiles the evaluator once, checks that the
// module implements the evaluator ABI, and hands out isolated instances that
// implement triad.Evaluator.
//
// # Architecture
//
//	Engine   - Compiled evaluator plus the wazero runtime it lives in
//	Instance - One instantiated evaluator with its own linear memory
//	Memory   - Bounds-checked view of an instance's linear memory
//
// # Evaluator ABI
//
// The ABI is declared in WIT function syntax (see ABI). Export names are
// the snake_case form of the WIT names. Every pointer is an i32 offset into
// the exported memory; status results are s32 with 0 meaning success:
//
//	WIT name          Export            Core signature
//	──────────────────────────────────────────────────────────
//	malloc            malloc            (i32) -> i32
//	create-trajcon    create_trajcon    (i32) -> i32
//	load-topology     load_topology     (i32 i32 i32 i32) -> i32
//	create-mdsys      create_mdsys      (i32 i32 i32 i32) -> i32
//	getmdgxfrc        getmdgxfrc        (i32 i32 i32 i32 i32 i32) -> i32
//	destroy-uform     destroy_uform     (i32 i32) -> ()
//
// # Files
//
// Topology and coordinate files are opaque to the host. An instance reads
// the file, stages its bytes in evaluator memory and passes (ptr, len) to the
// loading export, so evaluators need no filesystem access.
//
// # Thread Safety
//
// Engine is safe for concurrent use; Instantiate may run on many goroutines.
// An Instance is not: it serializes nothing beyond its allocator.
package engine
