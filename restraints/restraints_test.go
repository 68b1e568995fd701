package restraints_test

import (
	"bytes"
	"context"
	"errors"
	"math"
	"slices"
	"strings"
	"testing"

	"github.com/wippyai/mdgx-bridge/binding"
	mdgxerrors "github.com/wippyai/mdgx-bridge/errors"
	"github.com/wippyai/mdgx-bridge/evaltest"
	"github.com/wippyai/mdgx-bridge/restraints"
	"github.com/wippyai/mdgx-bridge/triad"
)

func newManager(t *testing.T) *restraints.Manager {
	t.Helper()
	ctx := context.Background()
	top, crd := evaltest.WriteSystem(t, evaltest.Water)
	h, err := triad.Construct(ctx, evaltest.NewFake(), top, crd)
	if err != nil {
		t.Fatalf("Construct: %v", err)
	}
	t.Cleanup(func() { h.Destroy(ctx) })
	return restraints.NewManager(h)
}

func TestEnergiesSites(t *testing.T) {
	m := newManager(t)
	m.NumberOfRestraints = 4

	sites := slices.Clone(evaltest.Water)
	sites[0] += 0.5
	sites[5] -= 1
	forces, energy := evaltest.HarmonicForces(sites, evaltest.Water)

	tests := []struct {
		name     string
		compute  bool
		wantGrad func(i int) float64
	}{
		{"with gradients", true, func(i int) float64 { return -forces[i] }},
		{"without gradients", false, func(int) float64 { return 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, err := m.EnergiesSites(context.Background(), sites, tt.compute)
			if err != nil {
				t.Fatalf("EnergiesSites: %v", err)
			}
			if len(e.Gradients) != len(sites) {
				t.Fatalf("len(Gradients) = %d, want %d", len(e.Gradients), len(sites))
			}
			for i, g := range e.Gradients {
				if g != tt.wantGrad(i) {
					t.Errorf("Gradients[%d] = %v, want %v", i, g, tt.wantGrad(i))
				}
			}
			if e.ResidualSum != energy || e.Components.Total != energy {
				t.Errorf("ResidualSum = %v, Total = %v, want %v", e.ResidualSum, e.Components.Total, energy)
			}
			if e.NumberOfRestraints != 4 {
				t.Errorf("NumberOfRestraints = %d, want 4", e.NumberOfRestraints)
			}
			if e.ComputeGradients != tt.compute {
				t.Errorf("ComputeGradients = %t", e.ComputeGradients)
			}
		})
	}
}

func TestEnergiesSites_Precondition(t *testing.T) {
	tests := []struct {
		name  string
		m     *restraints.Manager
		sites []float64
	}{
		{"short sites", newManager(t), make([]float64, 6)},
		{"no handle", restraints.NewManager(nil), slices.Clone(evaltest.Water)},
		{"zero Manager", &restraints.Manager{}, slices.Clone(evaltest.Water)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.m.EnergiesSites(context.Background(), tt.sites, true)
			if !errors.Is(err, mdgxerrors.ErrPrecondition) {
				t.Errorf("expected precondition violation, got %v", err)
			}
		})
	}
}

func TestEnergiesSites_BoundHandle(t *testing.T) {
	ctx := context.Background()
	mod := binding.New(binding.FactoryFunc(func(context.Context) (binding.Evaluator, error) {
		return evaltest.NewFake(), nil
	}))
	defer mod.Close(ctx)
	top, crd := evaltest.WriteSystem(t, evaltest.Water)
	h, err := mod.NewUform(ctx, top, crd)
	if err != nil {
		t.Fatalf("NewUform: %v", err)
	}
	m := restraints.NewManager(mod.Bind(h))

	sites := slices.Clone(evaltest.Water)
	sites[4] += 1
	_, energy := evaltest.HarmonicForces(sites, evaltest.Water)
	e, err := m.EnergiesSites(ctx, sites, true)
	if err != nil {
		t.Fatalf("EnergiesSites: %v", err)
	}
	if e.ResidualSum != energy {
		t.Errorf("ResidualSum = %v, want %v", e.ResidualSum, energy)
	}

	if err := mod.Release(ctx, h); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if _, err := m.EnergiesSites(ctx, sites, true); !errors.Is(err, mdgxerrors.ErrPrecondition) {
		t.Errorf("expected precondition violation after release, got %v", err)
	}
}

func TestDecodeComponents(t *testing.T) {
	tests := []struct {
		name   string
		target []float64
		want   restraints.Components
	}{
		{"empty", nil, restraints.Components{}},
		{"total only", []float64{12.5}, restraints.Components{Total: 12.5}},
		{
			name:   "full layout",
			target: []float64{10, 1, 2, 3, 4, 5, 6, 7, 8, 99},
			want: restraints.Components{
				Total: 10, Bond: 1, Angle: 2, Dihedral: 3, Elec: 4, VDW: 5,
				NBond: 6, NAngle: 7, NDihedral: 8,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := restraints.DecodeComponents(tt.target); got != tt.want {
				t.Errorf("DecodeComponents = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestGRMS(t *testing.T) {
	tests := []struct {
		name string
		grad []float64
		want float64
	}{
		{"empty", nil, 0},
		{"zeros", []float64{0, 0, 0}, 0},
		{"uniform", []float64{2, -2, 2, -2}, 2},
		{"mixed", []float64{3, 4}, math.Sqrt(12.5)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := &restraints.Energies{Gradients: tt.grad}
			if got := e.GRMS(); math.Abs(got-tt.want) > 1e-12 {
				t.Errorf("GRMS = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestShow(t *testing.T) {
	e := &restraints.Energies{
		ResidualSum: 10.5,
		Components:  restraints.DecodeComponents([]float64{10.5, 1, 2, 3, 4, 5, 6, 7, 8}),
	}
	var buf bytes.Buffer
	if err := e.Show(&buf); err != nil {
		t.Fatalf("Show: %v", err)
	}
	out := buf.String()
	for _, want := range []string{
		"total energy: 10.50",
		"bonds (n=6): 1.00",
		"angles (n=7): 2.00",
		"dihedrals (n=8): 3.00",
		"electrostatics: 4.00",
		"van der Waals: 5.00",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestPrintSites(t *testing.T) {
	var buf bytes.Buffer
	if err := restraints.PrintSites(&buf, []float64{1, 2.5, -3, 0.1234, 0, 10}); err != nil {
		t.Fatalf("PrintSites: %v", err)
	}
	want := "   1.000   2.500  -3.000\n   0.123   0.000  10.000\n"
	if buf.String() != want {
		t.Errorf("PrintSites =\n%q\nwant\n%q", buf.String(), want)
	}
}
