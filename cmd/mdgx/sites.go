package main

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"

	"github.com/wippyai/mdgx-bridge/errors"
)

// readSites loads a sites file: whitespace-separated coordinates, three per
// atom.
func readSites(path string) ([]float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseBinding, errors.KindInvalidInput, err, "open sites file")
	}
	defer f.Close()

	sites, err := parseSites(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return sites, nil
}

func parseSites(r io.Reader) ([]float64, error) {
	sc := bufio.NewScanner(r)
	sc.Split(bufio.ScanWords)

	var sites []float64
	for sc.Scan() {
		v, err := strconv.ParseFloat(sc.Text(), 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, errors.InvalidInput(errors.PhaseBinding,
				fmt.Sprintf("value %d: %q is not a finite number", len(sites)+1, sc.Text()))
		}
		sites = append(sites, v)
	}
	if err := sc.Err(); err != nil {
		return nil, errors.Wrap(errors.PhaseBinding, errors.KindInvalidInput, err, "read sites")
	}
	if len(sites) == 0 || len(sites)%3 != 0 {
		return nil, errors.InvalidInput(errors.PhaseBinding,
			fmt.Sprintf("%d values is not a whole number of atoms", len(sites)))
	}
	return sites, nil
}

// atomNorms returns the Euclidean norm of each atom's 3-vector in v.
func atomNorms(v []float64) []float64 {
	norms := make([]float64, len(v)/3)
	for i := range norms {
		x, y, z := v[3*i], v[3*i+1], v[3*i+2]
		norms[i] = math.Sqrt(x*x + y*y + z*z)
	}
	return norms
}
