// Package restraints turns a raw force evaluation into restraint energies:
// a residual, gradients of the residual with respect to the sites and the
// energy components the evaluator reports in its target buffer.
package restraints

import (
	"context"
	"fmt"
	"io"
	"math"

	"github.com/wippyai/mdgx-bridge/errors"
	"github.com/wippyai/mdgx-bridge/triad"
)

// Target buffer slots written by the evaluator.
const (
	SlotTotal = iota
	SlotBond
	SlotAngle
	SlotDihedral
	SlotElec
	SlotVDW
	SlotNBond
	SlotNAngle
	SlotNDihedral

	numSlots
)

// Components are the energy terms of one evaluation. Counts are stored by
// the evaluator as doubles and truncated here.
type Components struct {
	Total     float64
	Bond      float64
	Angle     float64
	Dihedral  float64
	Elec      float64
	VDW       float64
	NBond     int
	NAngle    int
	NDihedral int
}

// DecodeComponents reads the component slots present in target. Slots past
// the end of target stay zero.
func DecodeComponents(target []float64) Components {
	var slots [numSlots]float64
	copy(slots[:], target)
	return Components{
		Total:     slots[SlotTotal],
		Bond:      slots[SlotBond],
		Angle:     slots[SlotAngle],
		Dihedral:  slots[SlotDihedral],
		Elec:      slots[SlotElec],
		VDW:       slots[SlotVDW],
		NBond:     int(slots[SlotNBond]),
		NAngle:    int(slots[SlotNAngle]),
		NDihedral: int(slots[SlotNDihedral]),
	}
}

// Energies is the result of one restraint evaluation.
type Energies struct {
	// Gradients of the residual, 3 per atom. All zero unless gradients
	// were requested.
	Gradients []float64
	// Target is the raw target buffer the evaluator filled.
	Target             []float64
	Components         Components
	ResidualSum        float64
	NumberOfRestraints int
	ComputeGradients   bool
}

// GRMS returns the root-mean-square of the gradient entries.
func (e *Energies) GRMS() float64 {
	if len(e.Gradients) == 0 {
		return 0
	}
	var sum float64
	for _, g := range e.Gradients {
		sum += g * g
	}
	return math.Sqrt(sum / float64(len(e.Gradients)))
}

// Show writes a summary of the energy components to w.
func (e *Energies) Show(w io.Writer) error {
	c := e.Components
	_, err := fmt.Fprintf(w,
		"    total energy: %0.2f\n"+
			"      bonds (n=%d): %0.2f\n"+
			"      angles (n=%d): %0.2f\n"+
			"      dihedrals (n=%d): %0.2f\n"+
			"      electrostatics: %0.2f\n"+
			"      van der Waals: %0.2f\n",
		e.ResidualSum,
		c.NBond, c.Bond,
		c.NAngle, c.Angle,
		c.NDihedral, c.Dihedral,
		c.Elec,
		c.VDW)
	return err
}

// Evaluator runs one force/energy evaluation, writing forces into gradients
// and energy terms into target. *triad.Handle and binding.Bound satisfy it.
type Evaluator interface {
	Evaluate(ctx context.Context, coordinates, target, gradients []float64) error
}

var _ Evaluator = (*triad.Handle)(nil)

// Manager evaluates restraint energies for one handle. It is as safe for
// concurrent use as its Handle.
type Manager struct {
	Handle             Evaluator
	NumberOfRestraints int
}

// NewManager returns a Manager for h.
func NewManager(h Evaluator) *Manager {
	return &Manager{Handle: h}
}

// EnergiesSites evaluates the handle at sites. Gradients are the negated
// forces when computeGradients is set and zeros otherwise.
func (m *Manager) EnergiesSites(ctx context.Context, sites []float64, computeGradients bool) (*Energies, error) {
	if m.Handle == nil {
		return nil, errors.Precondition(errors.PhaseEvaluate, "no handle to evaluate")
	}
	forces := make([]float64, len(sites))
	target := make([]float64, len(sites))
	if err := m.Handle.Evaluate(ctx, sites, target, forces); err != nil {
		return nil, err
	}

	gradients := make([]float64, len(sites))
	if computeGradients {
		for i, f := range forces {
			gradients[i] = -f
		}
	}

	return &Energies{
		Gradients:          gradients,
		Target:             target,
		Components:         DecodeComponents(target),
		ResidualSum:        target[SlotTotal],
		NumberOfRestraints: m.NumberOfRestraints,
		ComputeGradients:   computeGradients,
	}, nil
}

// PrintSites writes sites to w, one atom per line with three fixed-width
// columns.
func PrintSites(w io.Writer, sites []float64) error {
	for i := 0; i+2 < len(sites); i += 3 {
		if _, err := fmt.Fprintf(w, "%8.3f%8.3f%8.3f\n", sites[i], sites[i+1], sites[i+2]); err != nil {
			return err
		}
	}
	return nil
}
