// Package errors provides structured error types for the mdgx bridge.
//
// Errors are categorized by Phase (where the error occurred) and Kind (error
// category). Construction failures of the resource triad carry the stage that
// failed as their Phase: trajcon, topology or mdsys.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseTopology, errors.KindNativeStatus).
//		Export("load_topology").
//		Status(3).
//		Detail("topology rejected").
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.ResourceLoad(errors.PhaseMDSys, "create simulation state", cause)
//	err := errors.LengthMismatch(errors.PhaseEvaluate, "gradients", 6, 9)
//
// The ErrResourceLoad and ErrPrecondition sentinels match any phase:
//
//	if errors.Is(err, mdgxerrors.ErrResourceLoad) { ... }
package errors
