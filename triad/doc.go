// Package triad owns the three evaluator structures a force-field
// evaluation needs: trajectory control (trajcon), the topology (uform) and
// the simulation state (mdsys).
//
// Construction is strictly ordered and all-or-nothing:
//
//	h, err := triad.Construct(ctx, ev, "system.prmtop", "system.inpcrd")
//	if errors.Is(err, mdgxerrors.ErrResourceLoad) {
//	    // err.(*mdgxerrors.Error).Stage() names the step that failed
//	}
//	defer h.Destroy(ctx)
//
// Teardown follows the evaluator's dependency order. The topology is
// destroyed together with the simulation state because grid buffers inside
// the simulation state are tied to the topology's lifetime:
//
//	destroy_trajcon(tc) -> destroy_uform(uf, md) -> destroy_mdsys(md)
//
// Evaluate checks handle state and buffer sizes before reaching the
// evaluator, since the evaluator itself trusts its caller.
package triad
