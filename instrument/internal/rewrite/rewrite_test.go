package rewrite

import (
	"testing"

	"github.com/wippyai/wasabi/errors"
	"github.com/wippyai/wasabi/instrument/internal/hook"
	"github.com/wippyai/wasabi/instrument/internal/location"
	"github.com/wippyai/wasabi/instrument/internal/plumbing"
	"github.com/wippyai/wasabi/internal/wasmtest"
	"github.com/wippyai/wasabi/wasm"
)

var (
	i32 = wasm.ValI32
	i64 = wasm.ValI64
)

type instrumented struct {
	m        *wasm.Module
	layout   *plumbing.Layout
	reg      *location.Registry
	bin      []byte
	inserted int
}

func instrumentModule(t *testing.T, m *wasm.Module, hooks hook.Set) *instrumented {
	t.Helper()
	req, err := Plan(m, hooks)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	layout, err := plumbing.Build(m, req)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	reg := location.New()
	n, err := Apply(m, hooks, layout, reg)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if n != reg.Len() {
		t.Fatalf("inserted %d hook calls but registered %d sites", n, reg.Len())
	}
	bin := wasmtest.Encode(t, m)
	wasmtest.Validate(t, bin)

	lo := layout.OrigImportedFuncs
	if got := wasmtest.CountCalls(t, m, lo, lo+layout.Added); got != n {
		t.Fatalf("module contains %d hook calls, want %d", got, n)
	}
	return &instrumented{m: m, layout: layout, reg: reg, bin: bin, inserted: n}
}

func (in *instrumented) site(t *testing.T, loc uint64) location.Site {
	t.Helper()
	s, ok := in.reg.Site(location.ID(int32(uint32(loc))))
	if !ok {
		t.Fatalf("unknown location %d", loc)
	}
	return s
}

func TestMemoryGrowOnly(t *testing.T) {
	b := wasmtest.New()
	b.Memory(1)
	f := b.Func(b.Type(nil, []wasm.ValType{i32}), nil, wasmtest.I32(2), wasmtest.MemoryGrow())
	b.Export("grow", wasm.KindFunc, f)

	in := instrumentModule(t, b.Module(), hook.NewSet(hook.MemoryGrow))
	if in.inserted != 1 {
		t.Fatalf("inserted = %d, want 1", in.inserted)
	}
	if len(in.layout.Signatures) != 1 || in.layout.Signatures[0].ImportName() != "memory_grow_i32_i32" {
		t.Fatalf("signatures = %v", in.layout.Signatures)
	}

	res, calls := wasmtest.Run(t, in.bin, "grow")
	if res[0] != 1 {
		t.Errorf("memory.grow returned %d, want previous size 1", res[0])
	}
	if len(calls) != 1 {
		t.Fatalf("got %d hook calls, want 1", len(calls))
	}
	if p := calls[0].Params; p[1] != 2 || p[2] != 1 {
		t.Errorf("hook params = %v, want delta 2 previous 1", p)
	}
	if s := in.site(t, calls[0].Params[0]); s.Hook != hook.MemoryGrow || s.Instr != 1 {
		t.Errorf("site = %+v", s)
	}
}

// twoReturns returns a when a != 0, b + 100 when b != 0, else 3.
func twoReturns(b *wasmtest.Builder) uint32 {
	return b.Func(b.Type([]wasm.ValType{i32, i32}, []wasm.ValType{i32}), nil,
		wasmtest.LocalGet(0),
		wasmtest.If(wasm.BlockTypeVoid),
		wasmtest.LocalGet(0),
		wasmtest.Op(wasm.OpReturn),
		wasmtest.Op(wasm.OpEnd),
		wasmtest.LocalGet(1),
		wasmtest.If(wasm.BlockTypeVoid),
		wasmtest.LocalGet(1),
		wasmtest.I32(100),
		wasmtest.Op(wasm.OpI32Add),
		wasmtest.Op(wasm.OpReturn),
		wasmtest.Op(wasm.OpEnd),
		wasmtest.I32(3),
	)
}

func TestBeginEndExits(t *testing.T) {
	b := wasmtest.New()
	f := twoReturns(b)
	b.Export("f", wasm.KindFunc, f)

	in := instrumentModule(t, b.Module(), hook.NewSet(hook.Begin, hook.End))

	begins, ends := 0, 0
	for _, s := range in.reg.Sites() {
		switch s.Hook {
		case hook.Begin:
			begins++
			if s.Instr != location.EntryInstr {
				t.Errorf("begin site instr = %d", s.Instr)
			}
		case hook.End:
			ends++
		}
	}
	if begins != 1 || ends != 3 {
		t.Fatalf("begin = %d end = %d, want 1 and 3", begins, ends)
	}
	if !in.m.HasExport(plumbing.CallDepthExport) {
		t.Error("call depth global not exported")
	}

	tests := []struct {
		name   string
		args   []uint64
		result uint64
		op     string
	}{
		{"first return", []uint64{7, 0}, 7, "return"},
		{"second return", []uint64{0, 5}, 105, "return"},
		{"fall through", []uint64{0, 0}, 3, "end"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, calls := wasmtest.Run(t, in.bin, "f", tt.args...)
			if res[0] != tt.result {
				t.Fatalf("result = %d, want %d", res[0], tt.result)
			}
			if len(calls) != 2 {
				t.Fatalf("got %d hook calls, want 2", len(calls))
			}
			begin := calls[0]
			if begin.Name != "begin_function_i32_i32" || begin.Params[1] != uint64(f) ||
				begin.Params[2] != tt.args[0] || begin.Params[3] != tt.args[1] {
				t.Errorf("begin call = %+v", begin)
			}
			end := calls[1]
			if end.Name != "end_function_i32" || end.Params[1] != tt.result {
				t.Errorf("end call = %+v", end)
			}
			if s := in.site(t, end.Params[0]); s.Op != tt.op {
				t.Errorf("end site op = %q, want %q", s.Op, tt.op)
			}
		})
	}
}

func TestBranchExits(t *testing.T) {
	b := wasmtest.New()
	f := b.Func(b.Type([]wasm.ValType{i32}, []wasm.ValType{i32}), nil,
		wasmtest.I32(10),
		wasmtest.LocalGet(0),
		wasmtest.I32(1),
		wasmtest.Op(wasm.OpI32Eq),
		wasmtest.BrIf(0),
		wasmtest.Op(wasm.OpDrop),
		wasmtest.Block(wasm.BlockTypeI32),
		wasmtest.I32(30),
		wasmtest.LocalGet(0),
		wasmtest.BrTable(1, 0),
		wasmtest.Op(wasm.OpEnd),
		wasmtest.I32(1),
		wasmtest.Op(wasm.OpI32Add),
	)
	b.Export("f", wasm.KindFunc, f)

	in := instrumentModule(t, b.Module(), hook.NewSet(hook.Begin, hook.End))
	if in.inserted != 4 {
		t.Fatalf("inserted = %d, want 4", in.inserted)
	}

	tests := []struct {
		arg, result uint64
		op          string
	}{
		{1, 10, "br_if"},
		{2, 30, "br_table"},
		{0, 31, "end"},
	}
	for _, tt := range tests {
		t.Run(tt.op, func(t *testing.T) {
			res, calls := wasmtest.Run(t, in.bin, "f", tt.arg)
			if res[0] != tt.result {
				t.Fatalf("result = %d, want %d", res[0], tt.result)
			}
			ends := wasmtest.Named(calls, "end_function_i32")
			if len(ends) != 1 {
				t.Fatalf("got %d end calls, want 1", len(ends))
			}
			if ends[0].Params[1] != tt.result {
				t.Errorf("end value = %d, want %d", ends[0].Params[1], tt.result)
			}
			if s := in.site(t, ends[0].Params[0]); s.Op != tt.op {
				t.Errorf("exit op = %q, want %q", s.Op, tt.op)
			}
		})
	}
}

func TestCallHooks(t *testing.T) {
	b := wasmtest.New()
	binary := b.Type([]wasm.ValType{i32, i32}, []wasm.ValType{i32})
	add := b.Func(binary, nil, wasmtest.LocalGet(0), wasmtest.LocalGet(1), wasmtest.Op(wasm.OpI32Add))
	main := b.Func(b.Type(nil, []wasm.ValType{i32}), nil, wasmtest.I32(2), wasmtest.I32(3), wasmtest.Call(add))
	b.Export("main", wasm.KindFunc, main)

	in := instrumentModule(t, b.Module(), hook.NewSet(hook.Call))
	if in.inserted != 2 {
		t.Fatalf("inserted = %d, want 2", in.inserted)
	}
	if idx := in.m.Exports[0].Idx; idx != in.layout.Remap(main) {
		t.Errorf("export points at %d, want %d", idx, in.layout.Remap(main))
	}

	res, calls := wasmtest.Run(t, in.bin, "main")
	if res[0] != 5 {
		t.Fatalf("result = %d, want 5", res[0])
	}
	if len(calls) != 2 {
		t.Fatalf("got %d hook calls, want 2", len(calls))
	}
	pre, post := calls[0], calls[1]
	if pre.Name != "call_pre_i32_i32" || pre.Params[1] != uint64(add) || pre.Params[2] != 2 || pre.Params[3] != 3 {
		t.Errorf("pre = %+v", pre)
	}
	if post.Name != "call_post_i32" || post.Params[1] != 5 {
		t.Errorf("post = %+v", post)
	}
	if s := in.site(t, pre.Params[0]); s.Callee == nil || *s.Callee != add {
		t.Errorf("pre site = %+v", s)
	}
}

func TestCallIndirectExportsTable(t *testing.T) {
	b := wasmtest.New()
	binary := b.Type([]wasm.ValType{i32, i32}, []wasm.ValType{i32})
	add := b.Func(binary, nil, wasmtest.LocalGet(0), wasmtest.LocalGet(1), wasmtest.Op(wasm.OpI32Add))
	main := b.Func(b.Type(nil, []wasm.ValType{i32}), nil,
		wasmtest.I32(4), wasmtest.I32(5), wasmtest.I32(0), wasmtest.CallIndirect(binary, 0))
	b.Table(1)
	b.Elements(0, add)
	b.Export("main", wasm.KindFunc, main)

	in := instrumentModule(t, b.Module(), hook.NewSet(hook.Call))
	if name := in.layout.TableExports[0]; name != "__wasabi_table_0" || !in.m.HasExport(name) {
		t.Fatalf("table export = %q", name)
	}
	if got := in.m.Elements[0].FuncIdxs[0]; got != in.layout.Remap(add) {
		t.Errorf("element entry = %d, want %d", got, in.layout.Remap(add))
	}

	res, calls := wasmtest.Run(t, in.bin, "main")
	if res[0] != 9 {
		t.Fatalf("result = %d, want 9", res[0])
	}
	pre := wasmtest.Named(calls, "call_indirect_pre_i32_i32")
	if len(pre) != 1 || pre[0].Params[1] != 0 || pre[0].Params[2] != 4 || pre[0].Params[3] != 5 {
		t.Fatalf("indirect pre = %+v", pre)
	}
	if s := in.site(t, pre[0].Params[0]); s.Table == nil || *s.Table != 0 {
		t.Errorf("site = %+v", s)
	}
}

func TestGlobalLoadStore(t *testing.T) {
	b := wasmtest.New()
	b.Memory(1)
	g := b.Global(i64, true, wasmtest.I64(0))
	f := b.Func(b.Type([]wasm.ValType{i32}, []wasm.ValType{i64}), nil,
		wasmtest.LocalGet(0),
		wasmtest.I64(7),
		wasmtest.Store(wasm.OpI64Store, 8),
		wasmtest.LocalGet(0),
		wasmtest.Load(wasm.OpI64Load, 8),
		wasmtest.GlobalSet(g),
		wasmtest.GlobalGet(g),
	)
	b.Export("f", wasm.KindFunc, f)

	in := instrumentModule(t, b.Module(), hook.NewSet(hook.Global, hook.Load, hook.Store))
	if in.layout.MemoryExports[0] == "" {
		t.Error("memory should be exported for memory hooks")
	}

	res, calls := wasmtest.Run(t, in.bin, "f", 16)
	if res[0] != 7 {
		t.Fatalf("result = %d, want 7", res[0])
	}
	want := []struct {
		name   string
		params []uint64
	}{
		{"store_i32_i64", []uint64{16, 7}},
		{"load_i32_i64", []uint64{16, 7}},
		{"global_set_i64", []uint64{uint64(g), 7}},
		{"global_get_i64", []uint64{uint64(g), 7}},
	}
	if len(calls) != len(want) {
		t.Fatalf("got %d hook calls, want %d", len(calls), len(want))
	}
	for i, w := range want {
		c := calls[i]
		if c.Name != w.name || c.Params[1] != w.params[0] || c.Params[2] != w.params[1] {
			t.Errorf("call %d = %+v, want %s %v", i, c, w.name, w.params)
		}
	}
	store := in.site(t, calls[0].Params[0])
	if store.Offset == nil || *store.Offset != 8 || store.Op != "i64.store" {
		t.Errorf("store site = %+v", store)
	}
}

func TestTableAccess(t *testing.T) {
	b := wasmtest.New()
	m := b.Module()
	m.Tables = append(m.Tables, wasm.TableType{ElemType: wasm.ValExtern, Limits: wasm.Limits{Min: 2}})
	f := b.Func(b.Type(nil, nil), nil,
		wasmtest.I32(1),
		wasmtest.RefNull(wasm.ValExtern),
		wasmtest.TableSet(0),
		wasmtest.I32(1),
		wasmtest.TableGet(0),
		wasmtest.Op(wasm.OpDrop),
	)
	b.Export("f", wasm.KindFunc, f)

	in := instrumentModule(t, m, hook.NewSet(hook.TableGet, hook.TableSet))
	_, calls := wasmtest.Run(t, in.bin, "f")
	if len(calls) != 2 || calls[0].Name != "table_set_externref" || calls[1].Name != "table_get_externref" {
		t.Fatalf("calls = %+v", calls)
	}
	if calls[0].Params[1] != 1 || calls[1].Params[1] != 1 {
		t.Errorf("element index not passed: %+v", calls)
	}
}

func TestV128Omitted(t *testing.T) {
	b := wasmtest.New()
	f := b.Func(b.Type([]wasm.ValType{wasm.ValV128, i32}, nil), nil, wasmtest.Op(wasm.OpNop))
	b.Export("f", wasm.KindFunc, f)

	in := instrumentModule(t, b.Module(), hook.NewSet(hook.Begin))
	if got := in.layout.Signatures[0].ImportName(); got != "begin_function_i32" {
		t.Errorf("import = %q, want begin_function_i32", got)
	}
}

func TestUnreachableCode(t *testing.T) {
	b := wasmtest.New()
	b.Memory(1)
	b.Func(b.Type(nil, []wasm.ValType{i32}), nil,
		wasmtest.Op(wasm.OpUnreachable),
		wasmtest.Load(wasm.OpI32Load, 0),
		wasmtest.Op(wasm.OpReturn),
	)
	in := instrumentModule(t, b.Module(), hook.AllHooks())
	if in.inserted != 4 {
		t.Errorf("inserted = %d, want begin, load, return and end hooks", in.inserted)
	}
}

func TestTailCalls(t *testing.T) {
	b := wasmtest.New()
	unary := b.Type([]wasm.ValType{i32}, []wasm.ValType{i32})
	id := b.Func(unary, nil, wasmtest.LocalGet(0))
	b.Func(unary, nil,
		wasmtest.LocalGet(0),
		wasm.Instruction{Opcode: wasm.OpReturnCall, Imm: wasm.CallImm{FuncIdx: id}},
	)

	req, err := Plan(b.Module(), hook.NewSet(hook.Call, hook.End))
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	for _, sig := range req.Signatures {
		if sig.Variant == hook.VariantCallPost {
			t.Errorf("tail calls must not get a post hook: %v", req.Signatures)
		}
	}
}

func TestPlanRequirements(t *testing.T) {
	b := wasmtest.New()
	b.Memory(1)
	b.Table(1)
	void := b.Type(nil, nil)
	b.Func(void, []wasm.LocalEntry{{Count: 2, ValType: i64}},
		wasmtest.I32(0), wasmtest.Load(wasm.OpI32Load, 0), wasmtest.Op(wasm.OpDrop),
		wasmtest.I32(0), wasmtest.Load(wasm.OpI32Load, 4), wasmtest.Op(wasm.OpDrop),
		wasmtest.I32(0), wasmtest.CallIndirect(void, 0),
	)
	b.Func(void, nil, wasmtest.Op(wasm.OpNop))

	req, err := Plan(b.Module(), hook.NewSet(hook.Load, hook.Call))
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	names := make([]string, len(req.Signatures))
	for i, sig := range req.Signatures {
		names[i] = sig.ImportName()
	}
	if len(names) != 2 || names[0] != "load_i32_i32" || names[1] != "call_indirect_pre" {
		t.Errorf("signatures = %v", names)
	}
	if len(req.IndirectTables) != 1 || req.IndirectTables[0] != 0 {
		t.Errorf("indirect tables = %v", req.IndirectTables)
	}
	// 2 declared locals plus two i32 scratch locals for the load.
	if req.Locals[0] != 4 {
		t.Errorf("locals[0] = %d, want 4", req.Locals[0])
	}
	if req.Locals[1] != 0 {
		t.Errorf("locals[1] = %d, want 0 for an untouched function", req.Locals[1])
	}
}

func TestMalformedBodies(t *testing.T) {
	tests := []struct {
		name  string
		code  []byte
		instr int
	}{
		{
			name:  "call out of range",
			code:  wasm.EncodeInstructions([]wasm.Instruction{wasmtest.Call(9), wasmtest.Op(wasm.OpEnd)}),
			instr: 0,
		},
		{
			name:  "branch too deep",
			code:  wasm.EncodeInstructions([]wasm.Instruction{wasmtest.Op(wasm.OpNop), wasmtest.Br(1), wasmtest.Op(wasm.OpEnd)}),
			instr: 1,
		},
		{
			name:  "else outside if",
			code:  wasm.EncodeInstructions([]wasm.Instruction{wasmtest.Block(wasm.BlockTypeVoid), wasmtest.Op(wasm.OpElse), wasmtest.Op(wasm.OpEnd), wasmtest.Op(wasm.OpEnd)}),
			instr: 1,
		},
		{
			name:  "missing final end",
			code:  wasm.EncodeInstructions([]wasm.Instruction{wasmtest.Op(wasm.OpNop)}),
			instr: 1,
		},
		{
			name:  "code after final end",
			code:  wasm.EncodeInstructions([]wasm.Instruction{wasmtest.Op(wasm.OpEnd), wasmtest.Op(wasm.OpNop)}),
			instr: 1,
		},
		{
			name:  "global out of range",
			code:  wasm.EncodeInstructions([]wasm.Instruction{wasmtest.GlobalGet(3), wasmtest.Op(wasm.OpDrop), wasmtest.Op(wasm.OpEnd)}),
			instr: 0,
		},
		{
			name:  "load without memory",
			code:  wasm.EncodeInstructions([]wasm.Instruction{wasmtest.I32(0), wasmtest.Load(wasm.OpI32Load, 0), wasmtest.Op(wasm.OpEnd)}),
			instr: 1,
		},
		{
			name:  "undecodable",
			code:  []byte{wasm.OpNop, 0xFF},
			instr: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &wasm.Module{
				Types: []wasm.FuncType{{}},
				Funcs: []uint32{0},
				Code:  []wasm.FuncBody{{Code: tt.code}},
			}
			_, err := Plan(m, hook.AllHooks())
			if !errors.Is(err, errors.ErrMalformedInstruction) {
				t.Fatalf("err = %v, want malformed instruction", err)
			}
			var e *errors.Error
			if !errors.As(err, &e) || e.Site == nil {
				t.Fatalf("error has no site: %v", err)
			}
			if e.Site.Func != 0 || e.Site.Instr != tt.instr {
				t.Errorf("site = %+v, want func 0 instr %d", *e.Site, tt.instr)
			}
		})
	}
}

func TestNoHooksOnlyRemaps(t *testing.T) {
	b := wasmtest.New()
	void := b.Type(nil, nil)
	callee := b.Func(void, nil)
	b.Func(void, nil, wasmtest.Call(callee), wasmtest.RefFunc(callee), wasmtest.Op(wasm.OpDrop))
	m := b.Module()

	// Simulate plumbing that appended two imports in front of the
	// defined functions.
	for _, name := range []string{"a", "b"} {
		m.Imports = append(m.Imports, wasm.Import{Module: wasmtest.HookModule, Name: name, Desc: wasm.ImportDesc{Kind: wasm.KindFunc, TypeIdx: void}})
	}
	layout := &plumbing.Layout{Added: 2, OrigTypes: uint32(len(m.Types))}

	reg := location.New()
	n, err := Apply(m, 0, layout, reg)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if n != 0 || reg.Len() != 0 {
		t.Errorf("inserted %d hooks with an empty set", n)
	}
	instrs, err := wasm.DecodeInstructions(m.Code[1].Code)
	if err != nil {
		t.Fatal(err)
	}
	if got := instrs[0].Imm.(wasm.CallImm).FuncIdx; got != 2 {
		t.Errorf("call target = %d, want 2", got)
	}
	if got := instrs[1].Imm.(wasm.RefFuncImm).FuncIdx; got != 2 {
		t.Errorf("ref.func = %d, want 2", got)
	}
}
