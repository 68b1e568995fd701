// Package mdgxbridge lets a host numerical environment drive an external
// molecular-dynamics force-field evaluator compiled to WebAssembly.
//
// The evaluator keeps three interdependent native structures alive between
// force/energy calls: the topology (uform), the trajectory-control settings
// (trajcon) and the simulation state (mdsys: coordinates, grid, forces).
// Building them is expensive, so the bridge owns them in a single handle and
// reuses them across evaluations.
//
// # Architecture Overview
//
//	mdgxbridge/     Root package with core Memory and Allocator interfaces
//	├── engine/     wazero integration: ABI validation, instances, guest memory
//	├── triad/      Resource triad handle lifecycle and the evaluation entry point
//	├── marshal/    Host array <-> owned buffer conversion, guest f64 layout
//	├── binding/    Stable call surface for host environments
//	├── resource/   Integer handle table for host-visible objects
//	├── restraints/ Energy/gradient results on top of an evaluation
//	├── config/     YAML configuration and logger construction
//	├── evaltest/   Reference evaluator and fakes for tests
//	├── errors/     Structured error types
//	└── cmd/mdgx/   CLI: ABI check, evaluation, batch runs, interactive inspect
//
// # Quick Start
//
//	eng, err := engine.New(ctx, wasmBytes, nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer eng.Close(ctx)
//
//	mod := binding.New(binding.FromEngine(eng))
//	defer mod.Close(ctx)
//
//	h, err := mod.NewUform(ctx, "system.prmtop", "system.inpcrd")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	grads := make([]float64, len(sites))
//	target := make([]float64, len(sites))
//	if err := mod.CallMdgx(ctx, sites, grads, target, h); err != nil {
//	    log.Fatal(err)
//	}
//	mod.PrintVec(os.Stdout, grads)
//
// # Thread Safety
//
// Engine and binding.Module are safe for concurrent use. A triad.Handle is
// NOT: the evaluator mutates its simulation state on every call. Distinct
// handles own distinct evaluator instances and may run on distinct goroutines.
//
// # Memory Model
//
// Native structures live in evaluator linear memory and are allocated with the
// evaluator's malloc export. Linear memory never shrinks; freed blocks are
// reused by the evaluator's allocator.
package mdgxbridge
