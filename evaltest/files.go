package evaltest

import (
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"testing"
)

// TopologyBytes returns a reference topology file for natom atoms.
func TopologyBytes(natom uint32) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint32(b[0:], MagicTopology)
	binary.LittleEndian.PutUint32(b[4:], natom)
	return b
}

// CoordinateBytes returns a reference coordinate file holding coords, three
// values per atom.
func CoordinateBytes(coords []float64) []byte {
	b := make([]byte, 8+8*len(coords))
	binary.LittleEndian.PutUint32(b[0:], MagicCoordinates)
	binary.LittleEndian.PutUint32(b[4:], uint32(len(coords)/3))
	for i, v := range coords {
		binary.LittleEndian.PutUint64(b[8+8*i:], math.Float64bits(v))
	}
	return b
}

// WriteFile writes data to a file in a per-test temporary directory.
func WriteFile(tb testing.TB, name string, data []byte) string {
	tb.Helper()
	path := filepath.Join(tb.TempDir(), name)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		tb.Fatalf("write %s: %v", name, err)
	}
	return path
}

// WriteSystem writes a matching topology and coordinate file pair for the
// given reference coordinates and returns their paths.
func WriteSystem(tb testing.TB, coords []float64) (topology, coordinates string) {
	tb.Helper()
	dir := tb.TempDir()
	topology = filepath.Join(dir, "system.prmtop")
	coordinates = filepath.Join(dir, "system.inpcrd")
	if err := os.WriteFile(topology, TopologyBytes(uint32(len(coords)/3)), 0o600); err != nil {
		tb.Fatalf("write topology: %v", err)
	}
	if err := os.WriteFile(coordinates, CoordinateBytes(coords), 0o600); err != nil {
		tb.Fatalf("write coordinates: %v", err)
	}
	return topology, coordinates
}

// Water is a three-atom reference geometry.
var Water = []float64{
	0.000, 0.000, 0.000,
	0.957, 0.000, 0.000,
	-0.240, 0.927, 0.000,
}

// HarmonicForces computes what the reference evaluator returns for crd
// restrained to ref: per-coordinate forces and the energy.
func HarmonicForces(crd, ref []float64) (forces []float64, energy float64) {
	forces = make([]float64, len(crd))
	for i := range crd {
		d := crd[i] - ref[i]
		forces[i] = d * Stiffness * -2
		energy += float64(d * d * Stiffness)
	}
	return forces, energy
}
