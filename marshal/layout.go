package marshal

import (
	"encoding/binary"
	"math"

	mdgxbridge "github.com/wippyai/mdgx-bridge"
	"github.com/wippyai/mdgx-bridge/errors"
)

// Float64Size is the size of one staged value in linear memory.
const Float64Size = 8

// ByteLen returns the staged size of n values.
func ByteLen(n int) uint32 {
	return uint32(n) * Float64Size
}

// WriteFloat64s writes vals to mem at ptr as packed little-endian doubles.
func WriteFloat64s(mem mdgxbridge.Memory, ptr uint32, vals []float64) error {
	if len(vals) == 0 {
		return nil
	}
	buf := make([]byte, ByteLen(len(vals)))
	for i, v := range vals {
		binary.LittleEndian.PutUint64(buf[i*Float64Size:], math.Float64bits(v))
	}
	if err := mem.Write(ptr, buf); err != nil {
		return errors.Wrap(errors.PhaseMarshal, errors.KindOutOfBounds, err, "write float64 buffer")
	}
	return nil
}

// ReadFloat64s fills dst from packed little-endian doubles at ptr.
func ReadFloat64s(mem mdgxbridge.Memory, ptr uint32, dst []float64) error {
	if len(dst) == 0 {
		return nil
	}
	data, err := mem.Read(ptr, ByteLen(len(dst)))
	if err != nil {
		return errors.Wrap(errors.PhaseMarshal, errors.KindOutOfBounds, err, "read float64 buffer")
	}
	for i := range dst {
		dst[i] = math.Float64frombits(binary.LittleEndian.Uint64(data[i*Float64Size:]))
	}
	return nil
}
