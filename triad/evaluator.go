package triad

import (
	"context"

	mdgxbridge "github.com/wippyai/mdgx-bridge"
)

// Kind names one of the three evaluator structures a Handle owns.
type Kind string

const (
	KindTrajCon Kind = "trajcon"
	KindUform   Kind = "uform"
	KindMDSys   Kind = "mdsys"
)

// Block is an evaluator-allocated region holding one opaque structure.
type Block struct {
	Kind Kind
	Ptr  uint32
	Size uint32
}

// blockAlign is the alignment requested for structure blocks.
const blockAlign = 8

// Evaluator is the construction, destruction and evaluation surface of an
// external force-field evaluator. Structures are addressed by the pointer of
// the block they were built in; blocks come from the evaluator's own
// allocator so their raw layout is what the evaluator expects.
//
// Every method reports evaluator failures as *errors.Error values carrying
// the export name and status code.
type Evaluator interface {
	mdgxbridge.Allocator

	// SizeOf reports the block size needed for a structure.
	SizeOf(ctx context.Context, kind Kind) (uint32, error)

	// CreateTrajCon default-constructs trajectory control in tc.
	CreateTrajCon(ctx context.Context, tc uint32) error

	// LoadTopology reads the topology file at path into uf, consulting tc.
	LoadTopology(ctx context.Context, path string, tc, uf uint32) error

	// CreateMDSys builds the simulation state in md from the coordinate file
	// at path and the topology uf.
	CreateMDSys(ctx context.Context, path string, uf, md uint32) error

	// AtomCount reports the number of atoms the topology describes.
	AtomCount(ctx context.Context, uf uint32) (int32, error)

	// Forces runs the force/energy routine. frc and target are written in
	// place; crd is read only.
	Forces(ctx context.Context, crd, target, frc []float64, uf, tc, md uint32) error

	DestroyTrajCon(ctx context.Context, tc uint32) error
	// DestroyUform releases the topology together with the grid resources
	// md holds against it. md is 0 when no simulation state was built.
	DestroyUform(ctx context.Context, uf, md uint32) error
	DestroyMDSys(ctx context.Context, md uint32) error
}
