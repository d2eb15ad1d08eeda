package plumbing

import (
	"testing"

	"github.com/wippyai/wasabi/errors"
	"github.com/wippyai/wasabi/instrument/internal/hook"
	"github.com/wippyai/wasabi/internal/wasmtest"
	"github.com/wippyai/wasabi/wasm"
)

// sampleModule has one imported function, two defined functions, a table
// filled by an element segment, a funcref global and a start function.
func sampleModule() *wasm.Module {
	b := wasmtest.New()
	void := b.Type(nil, nil)
	imp := b.ImportFunc("env", "log", void)
	f1 := b.Func(void, nil, wasmtest.Call(imp))
	f2 := b.Func(void, nil, wasmtest.Call(f1))
	b.Table(2)
	b.Memory(1)
	b.Global(wasm.ValFuncRef, false, wasmtest.RefFunc(f2))
	b.Elements(0, f1, f2)
	b.Export("run", wasm.KindFunc, f2)
	b.Start(f1)
	return b.Module()
}

func TestBuildAppendsImportsAndRemaps(t *testing.T) {
	m := sampleModule()
	req := &Requirements{
		Hooks: hook.NewSet(hook.Call),
		Signatures: []hook.Signature{
			hook.NewSignature(hook.VariantCallPre),
			hook.NewSignature(hook.VariantCallIndirectPre, wasm.ValI32),
			hook.NewSignature(hook.VariantCallPre),
		},
		IndirectTables: []uint32{0},
	}

	layout, err := Build(m, req)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	if layout.Added != 2 || layout.OrigImportedFuncs != 1 {
		t.Fatalf("layout = %+v", layout)
	}
	if got := m.NumImportedFuncs(); got != 3 {
		t.Fatalf("imported funcs = %d, want 3", got)
	}
	for _, name := range []string{"call_pre", "call_indirect_pre_i32"} {
		idx, ok := layout.ImportIndex(name)
		if !ok {
			t.Fatalf("missing import %s", name)
		}
		imp := m.FuncImport(idx)
		if imp == nil || imp.Module != hook.ImportModule || imp.Name != name {
			t.Errorf("import %d = %+v", idx, imp)
		}
	}

	// Original defined functions 1 and 2 moved to 3 and 4.
	if m.Exports[0].Idx != 4 {
		t.Errorf("export idx = %d, want 4", m.Exports[0].Idx)
	}
	if *m.Start != 3 {
		t.Errorf("start = %d, want 3", *m.Start)
	}
	if got := m.Elements[0].FuncIdxs; got[0] != 3 || got[1] != 4 {
		t.Errorf("element funcs = %v, want [3 4]", got)
	}
	init, err := wasm.DecodeInstructions(m.Globals[0].Init)
	if err != nil {
		t.Fatal(err)
	}
	if idx := init[0].Imm.(wasm.RefFuncImm).FuncIdx; idx != 4 {
		t.Errorf("global ref.func = %d, want 4", idx)
	}

	if name := layout.TableExports[0]; name != "__wasabi_table_0" {
		t.Errorf("table export = %q", name)
	}
	if len(layout.MemoryExports) != 0 {
		t.Errorf("memory exported without memory hooks: %v", layout.MemoryExports)
	}
}

func TestLayoutRemapRoundTrip(t *testing.T) {
	l := &Layout{OrigImportedFuncs: 2, Added: 3}
	for orig := uint32(0); orig < 10; orig++ {
		if got := l.Original(l.Remap(orig)); got != orig {
			t.Errorf("Original(Remap(%d)) = %d", orig, got)
		}
	}
	if l.Remap(1) != 1 || l.Remap(2) != 5 {
		t.Error("imports must keep their index, defined functions shift")
	}
}

func TestBuildDepthGlobal(t *testing.T) {
	m := sampleModule()
	m.Exports = append(m.Exports, wasm.Export{Name: CallDepthExport, Kind: wasm.KindFunc, Idx: 0})

	layout, err := Build(m, &Requirements{
		Hooks:      hook.NewSet(hook.Begin),
		Signatures: []hook.Signature{hook.NewSignature(hook.VariantBeginFunction)},
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if !layout.HasDepth || layout.DepthGlobal != 1 {
		t.Fatalf("depth global = %d (%v)", layout.DepthGlobal, layout.HasDepth)
	}
	g := m.Globals[len(m.Globals)-1]
	if g.Type.ValType != wasm.ValI32 || !g.Type.Mutable {
		t.Errorf("depth global type = %+v", g.Type)
	}
	if names := m.ExportNames(wasm.KindGlobal, layout.DepthGlobal); len(names) != 1 || names[0] != CallDepthExport+"_1" {
		t.Errorf("depth export = %v", names)
	}
	if layout.DepthExport != CallDepthExport+"_1" {
		t.Errorf("layout depth export = %q", layout.DepthExport)
	}
}

func TestBuildExportsMemories(t *testing.T) {
	m := sampleModule()
	m.Exports = append(m.Exports, wasm.Export{Name: "mem", Kind: wasm.KindMemory, Idx: 0})

	layout, err := Build(m, &Requirements{
		Hooks:      hook.NewSet(hook.Load),
		Signatures: []hook.Signature{hook.NewSignature(hook.VariantLoad, wasm.ValI32, wasm.ValI32)},
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if layout.MemoryExports[0] != "mem" {
		t.Errorf("existing export should be reused, got %q", layout.MemoryExports[0])
	}
}

func TestBuildValidates(t *testing.T) {
	b := wasmtest.New()
	void := b.Type(nil, nil)
	b.ImportFunc("env", "log", void)
	f1 := b.Func(void, nil, wasmtest.Op(wasm.OpNop))
	f2 := b.Func(void, nil)
	b.Table(2)
	b.Memory(1)
	b.Elements(0, f1, f2)
	b.Export("run", wasm.KindFunc, f2)
	b.Start(f1)
	m := b.Module()

	_, err := Build(m, &Requirements{
		Hooks: hook.AllHooks(),
		Signatures: []hook.Signature{
			hook.NewSignature(hook.VariantBeginFunction),
			hook.NewSignature(hook.VariantEndFunction),
			hook.NewSignature(hook.VariantLoad, wasm.ValI32, wasm.ValI64),
		},
		IndirectTables: []uint32{0},
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	wasmtest.Validate(t, wasmtest.Encode(t, m))

	for _, name := range []string{CallDepthExport, "__wasabi_table_0", "__wasabi_memory_0"} {
		if !m.HasExport(name) {
			t.Errorf("missing export %s", name)
		}
	}
}

func TestBuildNameSection(t *testing.T) {
	m := sampleModule()
	names := &wasm.Names{Subsections: []wasm.NameSubsection{{
		ID:        wasm.NameSubFunction,
		Functions: []wasm.NameAssoc{{Idx: 0, Name: "log"}, {Idx: 2, Name: "run"}},
	}}}
	m.CustomSections = append(m.CustomSections, wasm.CustomSection{Name: wasm.NameSectionName, Data: names.Encode()})

	if _, err := Build(m, &Requirements{
		Hooks:      hook.NewSet(hook.End),
		Signatures: []hook.Signature{hook.NewSignature(hook.VariantEndFunction)},
	}); err != nil {
		t.Fatalf("Build: %v", err)
	}
	got := m.FuncNames()
	if got[0] != "log" || got[3] != "run" {
		t.Errorf("names after remap = %v", got)
	}
}

func TestBuildDropsMalformedNames(t *testing.T) {
	m := sampleModule()
	m.CustomSections = append(m.CustomSections, wasm.CustomSection{Name: wasm.NameSectionName, Data: []byte{1, 9, 0}})

	layout, err := Build(m, &Requirements{
		Hooks:      hook.NewSet(hook.End),
		Signatures: []hook.Signature{hook.NewSignature(hook.VariantEndFunction)},
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if !layout.DroppedNames || m.CustomSection(wasm.NameSectionName) != nil {
		t.Error("malformed name section should be dropped")
	}
}

func TestCheckCapacity(t *testing.T) {
	tests := []struct {
		mutate func(m *wasm.Module, req *Requirements)
		name   string
	}{
		{
			name: "imports",
			mutate: func(m *wasm.Module, req *Requirements) {
				for i := 0; i < MaxImports; i++ {
					m.Imports = append(m.Imports, wasm.Import{Module: "env", Name: "g", Desc: wasm.ImportDesc{Kind: wasm.KindGlobal, Global: &wasm.GlobalType{ValType: wasm.ValI32}}})
				}
			},
		},
		{
			name: "exports",
			mutate: func(m *wasm.Module, req *Requirements) {
				for i := len(m.Exports); i < MaxExports; i++ {
					m.Exports = append(m.Exports, wasm.Export{Name: "x", Kind: wasm.KindFunc})
				}
				req.Hooks = req.Hooks.With(hook.Begin)
			},
		},
		{
			name: "locals",
			mutate: func(m *wasm.Module, req *Requirements) {
				req.Locals = []uint64{3, MaxLocalsPerFunction + 1}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := sampleModule()
			req := &Requirements{
				Hooks:      hook.NewSet(hook.End),
				Signatures: []hook.Signature{hook.NewSignature(hook.VariantEndFunction)},
			}
			tt.mutate(m, req)
			imports := len(m.Imports)

			_, err := Build(m, req)
			if !errors.Is(err, errors.ErrCapacityExceeded) {
				t.Fatalf("err = %v, want capacity exceeded", err)
			}
			if len(m.Imports) != imports {
				t.Error("module was modified on failure")
			}
		})
	}
}
