package evaltest

import (
	"bytes"
	"encoding/binary"
	"math"
	"slices"
)

// Binary encoding of the small core-module subset the reference evaluator
// needs: i32/f64 locals, globals, one memory, imports of functions and the
// structured control instructions.

const (
	secType     = 1
	secImport   = 2
	secFunction = 3
	secMemory   = 5
	secGlobal   = 6
	secExport   = 7
	secCode     = 10
)

const (
	i32 byte = 0x7F
	f64 byte = 0x7C

	funcTypeByte = 0x60
	blockEmpty   = 0x40

	exportFunc   = 0x00
	exportMemory = 0x02
)

func writeULEB(w *bytes.Buffer, v uint32) {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			b |= 0x80
		}
		w.WriteByte(b)
		if v == 0 {
			return
		}
	}
}

func writeSLEB(w *bytes.Buffer, v int32) {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		done := (v == 0 && b&0x40 == 0) || (v == -1 && b&0x40 != 0)
		if !done {
			b |= 0x80
		}
		w.WriteByte(b)
		if done {
			return
		}
	}
}

func writeName(w *bytes.Buffer, s string) {
	writeULEB(w, uint32(len(s)))
	w.WriteString(s)
}

func writeSection(w *bytes.Buffer, id byte, content []byte) {
	w.WriteByte(id)
	writeULEB(w, uint32(len(content)))
	w.Write(content)
}

// code is a function body under construction. Methods append one
// instruction and return the receiver so bodies read top to bottom.
type code struct {
	buf bytes.Buffer
}

func (c *code) op(b ...byte) *code {
	c.buf.Write(b)
	return c
}

func (c *code) idx(op byte, i uint32) *code {
	c.buf.WriteByte(op)
	writeULEB(&c.buf, i)
	return c
}

func (c *code) memarg(op byte, align, offset uint32) *code {
	c.buf.WriteByte(op)
	writeULEB(&c.buf, align)
	writeULEB(&c.buf, offset)
	return c
}

func (c *code) unreachable() *code { return c.op(0x00) }
func (c *code) block() *code       { return c.op(0x02, blockEmpty) }
func (c *code) loop() *code        { return c.op(0x03, blockEmpty) }
func (c *code) ifThen() *code      { return c.op(0x04, blockEmpty) }
func (c *code) end() *code         { return c.op(0x0B) }
func (c *code) br(depth uint32) *code {
	return c.idx(0x0C, depth)
}
func (c *code) brIf(depth uint32) *code {
	return c.idx(0x0D, depth)
}
func (c *code) ret() *code { return c.op(0x0F) }
func (c *code) call(fn uint32) *code {
	return c.idx(0x10, fn)
}

func (c *code) localGet(i uint32) *code  { return c.idx(0x20, i) }
func (c *code) localSet(i uint32) *code  { return c.idx(0x21, i) }
func (c *code) localTee(i uint32) *code  { return c.idx(0x22, i) }
func (c *code) globalGet(i uint32) *code { return c.idx(0x23, i) }
func (c *code) globalSet(i uint32) *code { return c.idx(0x24, i) }

func (c *code) i32Load(offset uint32) *code  { return c.memarg(0x28, 2, offset) }
func (c *code) f64Load(offset uint32) *code  { return c.memarg(0x2B, 3, offset) }
func (c *code) i32Store(offset uint32) *code { return c.memarg(0x36, 2, offset) }
func (c *code) f64Store(offset uint32) *code { return c.memarg(0x39, 3, offset) }

func (c *code) memorySize() *code { return c.op(0x3F, 0x00) }
func (c *code) memoryCopy() *code { return c.op(0xFC, 0x0A, 0x00, 0x00) }

func (c *code) i32Const(v int32) *code {
	c.buf.WriteByte(0x41)
	writeSLEB(&c.buf, v)
	return c
}

func (c *code) f64Const(v float64) *code {
	c.buf.WriteByte(0x44)
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], math.Float64bits(v))
	c.buf.Write(b[:])
	return c
}

func (c *code) i32Eqz() *code { return c.op(0x45) }
func (c *code) i32Ne() *code  { return c.op(0x47) }
func (c *code) i32LtU() *code { return c.op(0x49) }
func (c *code) i32GtU() *code { return c.op(0x4B) }
func (c *code) i32GeU() *code { return c.op(0x4F) }
func (c *code) i32Add() *code { return c.op(0x6A) }
func (c *code) i32Sub() *code { return c.op(0x6B) }
func (c *code) i32Mul() *code { return c.op(0x6C) }
func (c *code) i32And() *code { return c.op(0x71) }
func (c *code) i32Shl() *code { return c.op(0x74) }
func (c *code) f64Add() *code { return c.op(0xA0) }
func (c *code) f64Sub() *code { return c.op(0xA1) }
func (c *code) f64Mul() *code { return c.op(0xA2) }

// returnIf emits "if <top of stack> { return v }".
func (c *code) returnIf(v int32) *code {
	return c.ifThen().i32Const(v).ret().end()
}

// element computes base + i*8 for f64 indexing.
func (c *code) element(base, i uint32) *code {
	return c.localGet(base).localGet(i).i32Const(3).i32Shl().i32Add()
}

type funcType struct {
	params  []byte
	results []byte
}

type function struct {
	name   string
	typ    uint32
	locals []byte
	body   *code
}

type funcImport struct {
	module string
	name   string
	typ    uint32
}

type global struct {
	init int32
}

// module is an in-memory core module. Imported functions occupy the first
// indices of the function index space.
type module struct {
	types    []funcType
	imports  []funcImport
	funcs    []function
	globals  []global
	pages    uint32
	exports  map[string]uint32
	memories []string
}

func (m *module) encode() []byte {
	var out bytes.Buffer
	out.Write([]byte{0x00, 0x61, 0x73, 0x6D, 0x01, 0x00, 0x00, 0x00})

	var sec bytes.Buffer
	writeULEB(&sec, uint32(len(m.types)))
	for _, t := range m.types {
		sec.WriteByte(funcTypeByte)
		writeULEB(&sec, uint32(len(t.params)))
		sec.Write(t.params)
		writeULEB(&sec, uint32(len(t.results)))
		sec.Write(t.results)
	}
	writeSection(&out, secType, sec.Bytes())

	if len(m.imports) > 0 {
		sec.Reset()
		writeULEB(&sec, uint32(len(m.imports)))
		for _, imp := range m.imports {
			writeName(&sec, imp.module)
			writeName(&sec, imp.name)
			sec.WriteByte(exportFunc)
			writeULEB(&sec, imp.typ)
		}
		writeSection(&out, secImport, sec.Bytes())
	}

	sec.Reset()
	writeULEB(&sec, uint32(len(m.funcs)))
	for _, f := range m.funcs {
		writeULEB(&sec, f.typ)
	}
	writeSection(&out, secFunction, sec.Bytes())

	sec.Reset()
	writeULEB(&sec, 1)
	sec.WriteByte(0x00)
	writeULEB(&sec, m.pages)
	writeSection(&out, secMemory, sec.Bytes())

	if len(m.globals) > 0 {
		sec.Reset()
		writeULEB(&sec, uint32(len(m.globals)))
		for _, g := range m.globals {
			sec.WriteByte(i32)
			sec.WriteByte(0x01)
			sec.WriteByte(0x41)
			writeSLEB(&sec, g.init)
			sec.WriteByte(0x0B)
		}
		writeSection(&out, secGlobal, sec.Bytes())
	}

	sec.Reset()
	writeULEB(&sec, uint32(len(m.exports)+len(m.memories)))
	for _, name := range m.memories {
		writeName(&sec, name)
		sec.WriteByte(exportMemory)
		writeULEB(&sec, 0)
	}
	// Deterministic order: walk the function list.
	base := uint32(len(m.imports))
	emitted := make(map[string]bool, len(m.exports))
	for i := range m.funcs {
		for _, name := range exportNames(m.exports, base+uint32(i)) {
			if emitted[name] {
				continue
			}
			emitted[name] = true
			writeName(&sec, name)
			sec.WriteByte(exportFunc)
			writeULEB(&sec, m.exports[name])
		}
	}
	writeSection(&out, secExport, sec.Bytes())

	sec.Reset()
	writeULEB(&sec, uint32(len(m.funcs)))
	var body bytes.Buffer
	for _, f := range m.funcs {
		body.Reset()
		writeULEB(&body, uint32(len(f.locals)))
		for _, t := range f.locals {
			writeULEB(&body, 1)
			body.WriteByte(t)
		}
		body.Write(f.body.buf.Bytes())
		writeULEB(&sec, uint32(body.Len()))
		sec.Write(body.Bytes())
	}
	writeSection(&out, secCode, sec.Bytes())

	return out.Bytes()
}

// exportNames returns the export names bound to fn in sorted order.
func exportNames(exports map[string]uint32, fn uint32) []string {
	var names []string
	for name, idx := range exports {
		if idx == fn {
			names = append(names, name)
		}
	}
	slices.Sort(names)
	return names
}
