package engine_test

import (
	"errors"
	"testing"

	mdgxerrors "github.com/wippyai/mdgx-bridge/errors"
	"github.com/wippyai/mdgx-bridge/evaltest"
)

func TestMemory(t *testing.T) {
	mem := newInstance(t, newEngine(t)).Memory()

	if got := mem.Size(); got != evaltest.Pages*65536 {
		t.Fatalf("Size = %d, want %d", got, evaltest.Pages*65536)
	}

	if err := mem.WriteF64(2048, -1.5); err != nil {
		t.Fatal(err)
	}
	if v, err := mem.ReadF64(2048); err != nil || v != -1.5 {
		t.Errorf("ReadF64 = %v, %v", v, err)
	}
	if err := mem.WriteU32(4096, 0xdeadbeef); err != nil {
		t.Fatal(err)
	}
	if v, err := mem.ReadU32(4096); err != nil || v != 0xdeadbeef {
		t.Errorf("ReadU32 = %#x, %v", v, err)
	}

	end := mem.Size()
	tests := []struct {
		name string
		fn   func() error
	}{
		{"Read", func() error { _, err := mem.Read(end-4, 8); return err }},
		{"Write", func() error { return mem.Write(end-2, []byte{1, 2, 3}) }},
		{"ReadF64", func() error { _, err := mem.ReadF64(end - 4); return err }},
		{"WriteF64", func() error { return mem.WriteF64(end, 1) }},
		{"ReadU32", func() error { _, err := mem.ReadU32(end); return err }},
		{"WriteU32", func() error { return mem.WriteU32(end-2, 1) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.fn()
			if !errors.Is(err, &mdgxerrors.Error{Kind: mdgxerrors.KindOutOfBounds}) {
				t.Errorf("expected out of bounds, got %v", err)
			}
		})
	}
}
