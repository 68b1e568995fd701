package marshal

// View is a read-only indexed sequence of doubles owned by the host.
type View interface {
	Len() int
	At(i int) float64
}

// Slice adapts a []float64 to View.
type Slice []float64

func (s Slice) Len() int         { return len(s) }
func (s Slice) At(i int) float64 { return s[i] }

// Func adapts an accessor pair to View, for host arrays that are not slices.
type Func struct {
	N   int
	Get func(i int) float64
}

func (f Func) Len() int         { return f.N }
func (f Func) At(i int) float64 { return f.Get(i) }

// ToOwned copies every element of v into a new contiguous slice, preserving
// order and length. The result never aliases the view.
func ToOwned(v View) []float64 {
	if v == nil {
		return []float64{}
	}
	n := v.Len()
	out := make([]float64, n)
	if s, ok := v.(Slice); ok {
		copy(out, s)
		return out
	}
	for i := 0; i < n; i++ {
		out[i] = v.At(i)
	}
	return out
}
