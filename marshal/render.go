package marshal

import (
	"io"
	"strconv"
	"strings"
)

// Render formats seq as "[ v0, v1, ..., vn, ]" with no trailing newline.
// An empty sequence renders as "[ ]". Values use the shortest 'g' form, so
// 1.0 renders as "1".
func Render(seq []float64) string {
	var b strings.Builder
	b.Grow(4 + len(seq)*8)
	b.WriteString("[ ")
	var buf [32]byte
	for _, v := range seq {
		b.Write(strconv.AppendFloat(buf[:0], v, 'g', -1, 64))
		b.WriteString(", ")
	}
	b.WriteByte(']')
	return b.String()
}

// Print writes Render(seq) followed by a newline.
func Print(w io.Writer, seq []float64) error {
	_, err := io.WriteString(w, Render(seq)+"\n")
	return err
}
