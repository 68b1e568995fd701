package engine

import (
	"github.com/tetratelabs/wazero/api"

	mdgxbridge "github.com/wippyai/mdgx-bridge"
	"github.com/wippyai/mdgx-bridge/errors"
)

// Memory wraps an instance's linear memory with bounds-checked accessors.
type Memory struct {
	mem api.Memory
}

var (
	_ mdgxbridge.Memory      = (*Memory)(nil)
	_ mdgxbridge.MemorySizer = (*Memory)(nil)
)

func (m *Memory) Read(offset uint32, length uint32) ([]byte, error) {
	data, ok := m.mem.Read(offset, length)
	if !ok {
		return nil, errors.OutOfBounds(errors.PhaseMarshal, offset, length)
	}
	return data, nil
}

func (m *Memory) Write(offset uint32, data []byte) error {
	if !m.mem.Write(offset, data) {
		return errors.OutOfBounds(errors.PhaseMarshal, offset, uint32(len(data)))
	}
	return nil
}

func (m *Memory) ReadU32(offset uint32) (uint32, error) {
	val, ok := m.mem.ReadUint32Le(offset)
	if !ok {
		return 0, errors.OutOfBounds(errors.PhaseMarshal, offset, 4)
	}
	return val, nil
}

func (m *Memory) ReadF64(offset uint32) (float64, error) {
	val, ok := m.mem.ReadFloat64Le(offset)
	if !ok {
		return 0, errors.OutOfBounds(errors.PhaseMarshal, offset, 8)
	}
	return val, nil
}

func (m *Memory) WriteU32(offset uint32, value uint32) error {
	if !m.mem.WriteUint32Le(offset, value) {
		return errors.OutOfBounds(errors.PhaseMarshal, offset, 4)
	}
	return nil
}

func (m *Memory) WriteF64(offset uint32, value float64) error {
	if !m.mem.WriteFloat64Le(offset, value) {
		return errors.OutOfBounds(errors.PhaseMarshal, offset, 8)
	}
	return nil
}

// Size returns the current size of linear memory in bytes.
func (m *Memory) Size() uint32 {
	return m.mem.Size()
}
