package plumbing

import (
	"fmt"
	"sort"

	"github.com/wippyai/wasabi/errors"
	"github.com/wippyai/wasabi/instrument/internal/hook"
	"github.com/wippyai/wasabi/wasm"
)

// Implementation limits checked before the module is touched.
const (
	MaxTypes             = 1_000_000
	MaxFuncs             = 1_000_000
	MaxImports           = 100_000
	MaxGlobals           = 1_000_000
	MaxExports           = 100_000
	MaxLocalsPerFunction = 50_000
)

// Export names added for the host side.
const (
	CallDepthExport    = "__wasabi_call_depth"
	tableExportPrefix  = "__wasabi_table_"
	memoryExportPrefix = "__wasabi_memory_"
)

// Requirements is what the body rewriter needs from the module, collected
// by a dry run before any mutation.
type Requirements struct {
	// Locals holds the total local count (params, declared locals and
	// scratch locals) of every defined function, by code index.
	Locals []uint64

	// Signatures lists the hook imports to add, without duplicates.
	Signatures []hook.Signature

	// IndirectTables lists tables used by call_indirect and
	// return_call_indirect.
	IndirectTables []uint32

	Hooks hook.Set
}

// Layout records where the plumbing put things.
type Layout struct {
	imports map[string]uint32

	// TableExports maps table index to the export name the host can use.
	TableExports map[uint32]string

	// MemoryExports maps memory index to its export name.
	MemoryExports map[uint32]string

	// Signatures lists the hook imports in import order.
	Signatures []hook.Signature

	// OrigImportedFuncs is the number of imported functions before hooks
	// were appended.
	OrigImportedFuncs uint32

	// Added is the number of hook imports.
	Added uint32

	// OrigTypes is the size of the type section before hook types were
	// appended.
	OrigTypes uint32

	// DepthGlobal is the call depth global; valid when HasDepth is set.
	DepthGlobal uint32
	DepthExport string
	HasDepth    bool

	// DroppedNames is set when a malformed name section was removed.
	DroppedNames bool
}

// Remap maps an original function index to its index after plumbing.
func (l *Layout) Remap(orig uint32) uint32 {
	if orig >= l.OrigImportedFuncs {
		return orig + l.Added
	}
	return orig
}

// Original maps an index in the instrumented module back to the original
// index space. Hook imports have no original index and map to themselves.
func (l *Layout) Original(idx uint32) uint32 {
	if idx >= l.OrigImportedFuncs+l.Added {
		return idx - l.Added
	}
	return idx
}

// HookFunc returns the function index of the import implementing sig.
func (l *Layout) HookFunc(sig hook.Signature) (uint32, bool) {
	idx, ok := l.imports[sig.ImportName()]
	return idx, ok
}

// ImportIndex returns the function index of the named hook import.
func (l *Layout) ImportIndex(name string) (uint32, bool) {
	idx, ok := l.imports[name]
	return idx, ok
}

// Check verifies that m can take the additions in req without exceeding
// any implementation limit. It does not modify m.
func Check(m *wasm.Module, req *Requirements) error {
	sigs := dedupe(req.Signatures)

	newTypes := 0
	seen := make(map[string]bool)
	for _, sig := range sigs {
		ft := sig.FuncType()
		key := ft.String()
		if seen[key] || findType(m, ft) {
			continue
		}
		seen[key] = true
		newTypes++
	}
	if n := len(m.Types) + newTypes; n > MaxTypes {
		return errors.CapacityExceeded("types", n, MaxTypes)
	}
	if n := m.NumFuncs() + len(sigs); n > MaxFuncs {
		return errors.CapacityExceeded("functions", n, MaxFuncs)
	}
	if n := len(m.Imports) + len(sigs); n > MaxImports {
		return errors.CapacityExceeded("imports", n, MaxImports)
	}
	globals := m.NumGlobals()
	if req.Hooks.Has(hook.Begin) {
		globals++
	}
	if globals > MaxGlobals {
		return errors.CapacityExceeded("globals", globals, MaxGlobals)
	}
	if n := len(m.Exports) + countNewExports(m, req); n > MaxExports {
		return errors.CapacityExceeded("exports", n, MaxExports)
	}
	imported := uint32(m.NumImportedFuncs())
	for i, n := range req.Locals {
		if n > MaxLocalsPerFunction {
			return errors.New(errors.PhasePlumbing, errors.KindCapacityExceeded).
				At(imported+uint32(i), -1).
				Path("locals").
				Value(n).
				Detail("%d locals exceed limit %d", n, MaxLocalsPerFunction).
				Build()
		}
	}
	return nil
}

// Build appends hook imports, the call depth global and host exports to m
// and remaps every function reference outside of function bodies. Body
// references are remapped by the rewriter through Layout.Remap.
//
// Build runs Check first; on error m is unchanged.
func Build(m *wasm.Module, req *Requirements) (*Layout, error) {
	if err := Check(m, req); err != nil {
		return nil, err
	}

	sigs := dedupe(req.Signatures)
	sort.SliceStable(sigs, func(i, j int) bool {
		if sigs[i].Hook() != sigs[j].Hook() {
			return sigs[i].Hook() < sigs[j].Hook()
		}
		return sigs[i].ImportName() < sigs[j].ImportName()
	})

	layout := &Layout{
		imports:           make(map[string]uint32, len(sigs)),
		TableExports:      make(map[uint32]string),
		MemoryExports:     make(map[uint32]string),
		Signatures:        sigs,
		OrigImportedFuncs: uint32(m.NumImportedFuncs()),
		Added:             uint32(len(sigs)),
		OrigTypes:         uint32(len(m.Types)),
	}

	if err := remapReferences(m, layout); err != nil {
		return nil, err
	}

	// Hook imports go after every existing function import. Imports of
	// other kinds keep their positions in their own index spaces.
	hookImports := make([]wasm.Import, len(sigs))
	for i, sig := range sigs {
		hookImports[i] = wasm.Import{
			Module: hook.ImportModule,
			Name:   sig.ImportName(),
			Desc:   wasm.ImportDesc{Kind: wasm.KindFunc, TypeIdx: m.AddType(sig.FuncType())},
		}
		layout.imports[sig.ImportName()] = layout.OrigImportedFuncs + uint32(i)
	}
	m.Imports = append(m.Imports, hookImports...)

	if req.Hooks.Has(hook.Begin) {
		m.Globals = append(m.Globals, wasm.Global{
			Type: wasm.GlobalType{ValType: wasm.ValI32, Mutable: true},
			Init: []byte{wasm.OpI32Const, 0, wasm.OpEnd},
		})
		layout.DepthGlobal = uint32(m.NumGlobals() - 1)
		layout.HasDepth = true
		layout.DepthExport = addExport(m, CallDepthExport, wasm.KindGlobal, layout.DepthGlobal)
	}

	if req.Hooks.Has(hook.Call) {
		for _, table := range sortedUnique(req.IndirectTables) {
			layout.TableExports[table] = ensureExport(m, wasm.KindTable, table, tableExportPrefix)
		}
	}

	if needsMemory(req.Hooks) {
		mems := uint32(len(m.MemoryTypes()))
		for mem := uint32(0); mem < mems; mem++ {
			layout.MemoryExports[mem] = ensureExport(m, wasm.KindMemory, mem, memoryExportPrefix)
		}
	}

	return layout, nil
}

func needsMemory(hooks hook.Set) bool {
	return hooks.Has(hook.Load) || hooks.Has(hook.Store) || hooks.Has(hook.MemoryGrow)
}

func countNewExports(m *wasm.Module, req *Requirements) int {
	n := 0
	if req.Hooks.Has(hook.Begin) {
		n++
	}
	if req.Hooks.Has(hook.Call) {
		for _, table := range sortedUnique(req.IndirectTables) {
			if len(m.ExportNames(wasm.KindTable, table)) == 0 {
				n++
			}
		}
	}
	if needsMemory(req.Hooks) {
		for mem := range m.MemoryTypes() {
			if len(m.ExportNames(wasm.KindMemory, uint32(mem))) == 0 {
				n++
			}
		}
	}
	return n
}

// ensureExport returns an existing export name of the item, or adds one.
func ensureExport(m *wasm.Module, kind byte, idx uint32, prefix string) string {
	if names := m.ExportNames(kind, idx); len(names) > 0 {
		return names[0]
	}
	return addExport(m, fmt.Sprintf("%s%d", prefix, idx), kind, idx)
}

// addExport adds an export under name, suffixed until it is unique.
func addExport(m *wasm.Module, name string, kind byte, idx uint32) string {
	unique := name
	for i := 1; m.HasExport(unique); i++ {
		unique = fmt.Sprintf("%s_%d", name, i)
	}
	m.Exports = append(m.Exports, wasm.Export{Name: unique, Kind: kind, Idx: idx})
	return unique
}

func findType(m *wasm.Module, ft wasm.FuncType) bool {
	for i := range m.Types {
		if m.Types[i].Equal(ft) {
			return true
		}
	}
	return false
}

func dedupe(sigs []hook.Signature) []hook.Signature {
	seen := make(map[string]bool, len(sigs))
	out := make([]hook.Signature, 0, len(sigs))
	for _, sig := range sigs {
		name := sig.ImportName()
		if seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, sig)
	}
	return out
}

func sortedUnique(idxs []uint32) []uint32 {
	seen := make(map[uint32]bool, len(idxs))
	out := make([]uint32, 0, len(idxs))
	for _, idx := range idxs {
		if !seen[idx] {
			seen[idx] = true
			out = append(out, idx)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
