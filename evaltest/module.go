package evaltest

// Structure magics written by the reference evaluator.
const (
	MagicTrajCon = 0x4E4F4354 // "TCON"
	MagicUform   = 0x4D524655 // "UFRM"
	MagicMDSys   = 0x5953444D // "MDSY"

	MagicTopology    = 0x544D5250 // "PRMT"
	MagicCoordinates = 0x43504E49 // "INPC"
)

// Structure sizes reported by the sizeof_* exports.
const (
	SizeTrajCon = 16
	SizeUform   = 16
	SizeMDSys   = 24
)

// Status codes returned by the reference evaluator.
const (
	StatusOK           = 0
	StatusNull         = 1
	StatusBadStruct    = 2
	StatusBadFile      = 3
	StatusNoAtoms      = 4
	StatusAtomMismatch = 5
	StatusNoMemory     = 6
)

// Stiffness is the restraint constant the reference trajcon carries.
const Stiffness = 1.0

// HeapBase is where the reference malloc starts handing out blocks.
const HeapBase = 1024

// Pages is the fixed linear memory size of the reference evaluator.
const Pages = 2

const (
	globalHeap = 0
	globalLive = 1
)

const (
	typeNoneI32 = iota // () -> i32
	typeI32I32         // (i32) -> i32
	typeI32None        // (i32) -> ()
	typeI32x4I32       // (i32, i32, i32, i32) -> i32
	typeI32x2None      // (i32, i32) -> ()
	typeI32x6I32       // (i32 x6) -> i32
)

// Option customizes the reference evaluator module.
type Option func(*options)

type options struct {
	omit  map[string]bool
	alias map[string]string
	wasi  bool
	pages uint32
}

// WithoutExports drops the named exports from the module.
func WithoutExports(names ...string) Option {
	return func(o *options) {
		for _, n := range names {
			o.omit[n] = true
		}
	}
}

// ExportAs binds export name to the function normally exported as target,
// which produces a signature mismatch when the two types differ.
func ExportAs(name, target string) Option {
	return func(o *options) {
		o.alias[name] = target
	}
}

// WithWASIImport makes the module import wasi_snapshot_preview1.proc_exit.
func WithWASIImport() Option {
	return func(o *options) {
		o.wasi = true
	}
}

// WithPages sets the linear memory size in 64KiB pages.
func WithPages(n uint32) Option {
	return func(o *options) {
		o.pages = n
	}
}

// Module returns the reference evaluator as WebAssembly bytes.
//
// The evaluator applies a harmonic restraint pulling every coordinate toward
// the reference coordinates of the coordinate file: forces are
// -2k(x - x0) and target[0] receives the energy sum k(x - x0)^2. Destroy
// exports trap on a structure whose magic is gone, which catches double
// destruction and destroying the simulation state before the topology.
func Module(opts ...Option) []byte {
	o := options{
		omit:  map[string]bool{},
		alias: map[string]string{},
		pages: Pages,
	}
	for _, opt := range opts {
		opt(&o)
	}

	m := &module{
		types: []funcType{
			typeNoneI32:   {results: []byte{i32}},
			typeI32I32:    {params: []byte{i32}, results: []byte{i32}},
			typeI32None:   {params: []byte{i32}},
			typeI32x4I32:  {params: []byte{i32, i32, i32, i32}, results: []byte{i32}},
			typeI32x2None: {params: []byte{i32, i32}},
			typeI32x6I32:  {params: []byte{i32, i32, i32, i32, i32, i32}, results: []byte{i32}},
		},
		globals:  []global{{init: HeapBase}, {init: 0}},
		pages:    o.pages,
		exports:  map[string]uint32{},
		memories: []string{"memory"},
	}
	if o.wasi {
		m.imports = append(m.imports, funcImport{
			module: "wasi_snapshot_preview1",
			name:   "proc_exit",
			typ:    typeI32None,
		})
	}

	base := uint32(len(m.imports))
	mallocIdx := base

	m.funcs = []function{
		{name: "malloc", typ: typeI32I32, locals: []byte{i32, i32}, body: mallocBody()},
		{name: "free", typ: typeI32None, body: new(code).end()},
		{name: "sizeof_trajcon", typ: typeNoneI32, body: new(code).i32Const(SizeTrajCon).end()},
		{name: "sizeof_uform", typ: typeNoneI32, body: new(code).i32Const(SizeUform).end()},
		{name: "sizeof_mdsys", typ: typeNoneI32, body: new(code).i32Const(SizeMDSys).end()},
		{name: "create_trajcon", typ: typeI32I32, body: createTrajConBody()},
		{name: "load_topology", typ: typeI32x4I32, locals: []byte{i32}, body: loadTopologyBody()},
		{name: "create_mdsys", typ: typeI32x4I32, locals: []byte{i32, i32, i32}, body: createMDSysBody(mallocIdx)},
		{name: "atom_count", typ: typeI32I32, body: atomCountBody()},
		{name: "getmdgxfrc", typ: typeI32x6I32, locals: []byte{i32, i32, i32, f64, f64, f64}, body: forcesBody()},
		{name: "destroy_trajcon", typ: typeI32None, body: destroyBody(MagicTrajCon)},
		{name: "destroy_uform", typ: typeI32x2None, body: destroyUformBody()},
		{name: "destroy_mdsys", typ: typeI32None, body: destroyBody(MagicMDSys)},
		{name: "live_objects", typ: typeNoneI32, body: new(code).globalGet(globalLive).end()},
		{name: "eval_count", typ: typeI32I32, body: evalCountBody()},
	}

	byName := make(map[string]uint32, len(m.funcs))
	for i, f := range m.funcs {
		byName[f.name] = base + uint32(i)
	}
	for name, idx := range byName {
		if !o.omit[name] {
			m.exports[name] = idx
		}
	}
	for name, target := range o.alias {
		if idx, ok := byName[target]; ok && !o.omit[name] {
			m.exports[name] = idx
		}
	}
	if o.omit["memory"] {
		m.memories = nil
	}

	return m.encode()
}

// malloc(size) bump-allocates 8-aligned blocks and returns 0 once the heap
// would pass the end of linear memory. Locals: 1 ptr, 2 end.
func mallocBody() *code {
	c := new(code)
	c.globalGet(globalHeap).i32Const(7).i32Add().i32Const(-8).i32And().localTee(1)
	c.localGet(0).i32Add().localSet(2)
	c.localGet(2).localGet(1).i32LtU().returnIf(0)
	c.localGet(2).memorySize().i32Const(16).i32Shl().i32GtU().returnIf(0)
	c.localGet(2).globalSet(globalHeap)
	c.localGet(1)
	return c.end()
}

func bumpLive(c *code, delta int32) *code {
	return c.globalGet(globalLive).i32Const(delta).i32Add().globalSet(globalLive)
}

// checkMagic emits "if load(ptr) != magic { return status }".
func checkMagic(c *code, ptr uint32, magic int32, status int32) *code {
	return c.localGet(ptr).i32Load(0).i32Const(magic).i32Ne().returnIf(status)
}

// create_trajcon(tc)
func createTrajConBody() *code {
	c := new(code)
	c.localGet(0).i32Eqz().returnIf(StatusNull)
	c.localGet(0).i32Const(MagicTrajCon).i32Store(0)
	c.localGet(0).f64Const(Stiffness).f64Store(8)
	bumpLive(c, 1)
	return c.i32Const(StatusOK).end()
}

// load_topology(data, len, tc, uf). Local 4 holds the atom count.
func loadTopologyBody() *code {
	c := new(code)
	c.localGet(3).i32Eqz().returnIf(StatusNull)
	c.localGet(2).i32Eqz().returnIf(StatusNull)
	checkMagic(c, 2, MagicTrajCon, StatusBadStruct)
	c.localGet(1).i32Const(8).i32LtU().returnIf(StatusBadFile)
	checkMagic(c, 0, MagicTopology, StatusBadFile)
	c.localGet(0).i32Load(4).localTee(4).i32Eqz().returnIf(StatusNoAtoms)
	c.localGet(3).i32Const(MagicUform).i32Store(0)
	c.localGet(3).localGet(4).i32Store(4)
	bumpLive(c, 1)
	return c.i32Const(StatusOK).end()
}

// create_mdsys(data, len, uf, md). Locals: 4 natom, 5 reference block,
// 6 reference byte length.
func createMDSysBody(mallocIdx uint32) *code {
	c := new(code)
	c.localGet(3).i32Eqz().returnIf(StatusNull)
	c.localGet(2).i32Eqz().returnIf(StatusNull)
	checkMagic(c, 2, MagicUform, StatusBadStruct)
	c.localGet(1).i32Const(8).i32LtU().returnIf(StatusBadFile)
	checkMagic(c, 0, MagicCoordinates, StatusBadFile)
	c.localGet(0).i32Load(4).localTee(4)
	c.localGet(2).i32Load(4).i32Ne().returnIf(StatusAtomMismatch)
	c.localGet(4).i32Const(24).i32Mul().localSet(6)
	c.localGet(1).i32Const(8).i32Sub().localGet(6).i32LtU().returnIf(StatusBadFile)
	c.localGet(6).call(mallocIdx).localTee(5).i32Eqz().returnIf(StatusNoMemory)
	c.localGet(5).localGet(0).i32Const(8).i32Add().localGet(6).memoryCopy()
	c.localGet(3).i32Const(MagicMDSys).i32Store(0)
	c.localGet(3).localGet(4).i32Store(4)
	c.localGet(3).localGet(5).i32Store(8)
	c.localGet(3).i32Const(0).i32Store(12)
	bumpLive(c, 1)
	return c.i32Const(StatusOK).end()
}

// atom_count(uf) returns 0 for anything that is not a live uform.
func atomCountBody() *code {
	c := new(code)
	c.localGet(0).i32Eqz().returnIf(0)
	checkMagic(c, 0, MagicUform, 0)
	return c.localGet(0).i32Load(4).end()
}

// getmdgxfrc(crd, target, frc, uf, tc, md). Locals: 6 i, 7 n, 8 reference
// block, 9 d, 10 energy, 11 k.
func forcesBody() *code {
	c := new(code)
	c.localGet(3).i32Eqz().returnIf(StatusNull)
	c.localGet(4).i32Eqz().returnIf(StatusNull)
	c.localGet(5).i32Eqz().returnIf(StatusNull)
	checkMagic(c, 4, MagicTrajCon, StatusBadStruct)
	checkMagic(c, 3, MagicUform, StatusBadStruct)
	checkMagic(c, 5, MagicMDSys, StatusBadStruct)

	c.localGet(4).f64Load(8).localSet(11)
	c.localGet(3).i32Load(4).i32Const(3).i32Mul().localSet(7)
	c.localGet(5).i32Load(8).localSet(8)

	c.block().loop()
	c.localGet(6).localGet(7).i32GeU().brIf(1)
	// d = crd[i] - ref[i]
	c.element(0, 6).f64Load(0).element(8, 6).f64Load(0).f64Sub().localSet(9)
	// frc[i] = -2 k d
	c.element(2, 6).localGet(9).localGet(11).f64Mul().f64Const(-2).f64Mul().f64Store(0)
	// energy += k d d
	c.localGet(10).localGet(9).localGet(9).f64Mul().localGet(11).f64Mul().f64Add().localSet(10)
	c.localGet(6).i32Const(1).i32Add().localSet(6)
	c.br(0)
	c.end().end()

	c.localGet(1).localGet(10).f64Store(0)
	c.localGet(5).localGet(5).i32Load(12).i32Const(1).i32Add().i32Store(12)
	return c.i32Const(StatusOK).end()
}

// destroy_trajcon(tc) and destroy_mdsys(md): trap unless the magic is live,
// then clear it.
func destroyBody(magic int32) *code {
	c := new(code)
	c.localGet(0).i32Eqz().ifThen().ret().end()
	c.localGet(0).i32Load(0).i32Const(magic).i32Ne().ifThen().unreachable().end()
	c.localGet(0).i32Const(0).i32Store(0)
	bumpLive(c, -1)
	return c.end()
}

// destroy_uform(uf, md): the simulation state, when given, must still be
// live because its grid is released against the topology.
func destroyUformBody() *code {
	c := new(code)
	c.localGet(0).i32Eqz().ifThen().ret().end()
	c.localGet(0).i32Load(0).i32Const(MagicUform).i32Ne().ifThen().unreachable().end()
	c.localGet(1).ifThen()
	c.localGet(1).i32Load(0).i32Const(MagicMDSys).i32Ne().ifThen().unreachable().end()
	c.end()
	c.localGet(0).i32Const(0).i32Store(0)
	bumpLive(c, -1)
	return c.end()
}

// eval_count(md) returns how many evaluations the simulation state served.
func evalCountBody() *code {
	c := new(code)
	c.localGet(0).i32Eqz().returnIf(0)
	return c.localGet(0).i32Load(12).end()
}
