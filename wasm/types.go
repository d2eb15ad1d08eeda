package wasm

import "strings"

// Module represents a decoded WebAssembly module.
type Module struct {
	Types    []FuncType
	Imports  []Import
	Funcs    []uint32 // type index of each locally defined function
	Tables   []TableType
	Memories []MemoryType
	Globals  []Global
	Exports  []Export
	Start    *uint32
	Elements []Element
	Code     []FuncBody
	Data     []DataSegment

	// DataCount holds the data count section, required by bulk memory code.
	DataCount *uint32

	CustomSections []CustomSection
}

// ValType is a WebAssembly value type.
type ValType byte

func (v ValType) String() string {
	switch v {
	case ValI32:
		return "i32"
	case ValI64:
		return "i64"
	case ValF32:
		return "f32"
	case ValF64:
		return "f64"
	case ValV128:
		return "v128"
	case ValFuncRef:
		return "funcref"
	case ValExtern:
		return "externref"
	default:
		return "unknown"
	}
}

// IsRef reports whether v is a reference type.
func (v ValType) IsRef() bool {
	return v == ValFuncRef || v == ValExtern
}

// Valid reports whether v is a value type the codec understands.
func (v ValType) Valid() bool {
	switch v {
	case ValI32, ValI64, ValF32, ValF64, ValV128, ValFuncRef, ValExtern:
		return true
	}
	return false
}

// FuncType is a function signature.
type FuncType struct {
	Params  []ValType
	Results []ValType
}

// Equal reports whether both signatures have identical params and results.
func (ft FuncType) Equal(other FuncType) bool {
	return valTypesEqual(ft.Params, other.Params) && valTypesEqual(ft.Results, other.Results)
}

func (ft FuncType) String() string {
	return "[" + joinValTypes(ft.Params, " ") + "] -> [" + joinValTypes(ft.Results, " ") + "]"
}

func valTypesEqual(a, b []ValType) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func joinValTypes(types []ValType, sep string) string {
	parts := make([]string, len(types))
	for i, t := range types {
		parts[i] = t.String()
	}
	return strings.Join(parts, sep)
}

// Import is an imported function, table, memory or global.
type Import struct {
	Desc   ImportDesc
	Module string
	Name   string
}

// ImportDesc describes an import. Exactly one of the pointers is set for
// table, memory and global imports; functions use TypeIdx.
type ImportDesc struct {
	Table   *TableType
	Memory  *MemoryType
	Global  *GlobalType
	TypeIdx uint32
	Kind    byte
}

// TableType is a table's element type and limits.
type TableType struct {
	Limits   Limits
	ElemType ValType
}

// MemoryType is a linear memory's limits.
type MemoryType struct {
	Limits Limits
}

// Limits constrains table and memory sizes.
type Limits struct {
	Max      *uint64
	Min      uint64
	Shared   bool
	Memory64 bool
}

// GlobalType is a global's value type and mutability.
type GlobalType struct {
	ValType ValType
	Mutable bool
}

// Global is a locally defined global with its constant init expression.
type Global struct {
	Init []byte // includes the terminating end opcode
	Type GlobalType
}

// Export is an exported item.
type Export struct {
	Name string
	Kind byte
	Idx  uint32
}

// Element is an element segment.
// Flags select the encoding:
//   - 0: active, table 0, offset, vec(funcidx)
//   - 1: passive, elemkind, vec(funcidx)
//   - 2: active, table, offset, elemkind, vec(funcidx)
//   - 3: declarative, elemkind, vec(funcidx)
//   - 4..7: as 0..3 with a reftype and vec(expr)
type Element struct {
	Offset   []byte
	FuncIdxs []uint32
	Exprs    [][]byte
	Flags    uint32
	TableIdx uint32
	ElemKind byte
	Type     ValType
}

// Active reports whether the segment initializes a table at instantiation.
func (e *Element) Active() bool {
	return e.Flags&0x01 == 0
}

// UsesExprs reports whether items are init expressions rather than indices.
func (e *Element) UsesExprs() bool {
	return e.Flags&0x04 != 0
}

// Len returns the number of items in the segment.
func (e *Element) Len() int {
	if e.UsesExprs() {
		return len(e.Exprs)
	}
	return len(e.FuncIdxs)
}

// FuncBody is a function's local declarations and code.
type FuncBody struct {
	Locals []LocalEntry
	Code   []byte // includes the final end opcode
}

// NumLocals returns the number of declared locals, excluding params.
func (b *FuncBody) NumLocals() uint64 {
	var n uint64
	for _, l := range b.Locals {
		n += uint64(l.Count)
	}
	return n
}

// LocalEntry declares Count locals of one type.
type LocalEntry struct {
	Count   uint32
	ValType ValType
}

// DataSegment is a data segment.
// Flags: 0 active memory 0, 1 passive, 2 active with memory index.
type DataSegment struct {
	Offset []byte
	Init   []byte
	Flags  uint32
	MemIdx uint32
}

// CustomSection is a named custom section.
type CustomSection struct {
	Name string
	Data []byte
}

func (m *Module) countImports(kind byte) int {
	n := 0
	for i := range m.Imports {
		if m.Imports[i].Desc.Kind == kind {
			n++
		}
	}
	return n
}

// NumImportedFuncs returns the number of imported functions.
func (m *Module) NumImportedFuncs() int { return m.countImports(KindFunc) }

// NumImportedGlobals returns the number of imported globals.
func (m *Module) NumImportedGlobals() int { return m.countImports(KindGlobal) }

// NumImportedTables returns the number of imported tables.
func (m *Module) NumImportedTables() int { return m.countImports(KindTable) }

// NumImportedMemories returns the number of imported memories.
func (m *Module) NumImportedMemories() int { return m.countImports(KindMemory) }

// NumFuncs returns the size of the function index space.
func (m *Module) NumFuncs() int { return m.NumImportedFuncs() + len(m.Funcs) }

// NumGlobals returns the size of the global index space.
func (m *Module) NumGlobals() int { return m.NumImportedGlobals() + len(m.Globals) }

// FuncTypeIndices returns the type index of every function in the function
// index space, imports first.
func (m *Module) FuncTypeIndices() []uint32 {
	out := make([]uint32, 0, m.NumFuncs())
	for i := range m.Imports {
		if m.Imports[i].Desc.Kind == KindFunc {
			out = append(out, m.Imports[i].Desc.TypeIdx)
		}
	}
	return append(out, m.Funcs...)
}

// GlobalTypes returns the type of every global in the global index space.
func (m *Module) GlobalTypes() []GlobalType {
	out := make([]GlobalType, 0, m.NumGlobals())
	for i := range m.Imports {
		if d := m.Imports[i].Desc; d.Kind == KindGlobal && d.Global != nil {
			out = append(out, *d.Global)
		}
	}
	for _, g := range m.Globals {
		out = append(out, g.Type)
	}
	return out
}

// TableTypes returns the type of every table in the table index space.
func (m *Module) TableTypes() []TableType {
	var out []TableType
	for i := range m.Imports {
		if d := m.Imports[i].Desc; d.Kind == KindTable && d.Table != nil {
			out = append(out, *d.Table)
		}
	}
	return append(out, m.Tables...)
}

// MemoryTypes returns the type of every memory in the memory index space.
func (m *Module) MemoryTypes() []MemoryType {
	var out []MemoryType
	for i := range m.Imports {
		if d := m.Imports[i].Desc; d.Kind == KindMemory && d.Memory != nil {
			out = append(out, *d.Memory)
		}
	}
	return append(out, m.Memories...)
}

// FuncType returns the signature of the function at funcIdx.
func (m *Module) FuncType(funcIdx uint32) (*FuncType, bool) {
	imported := uint32(0)
	for i := range m.Imports {
		if m.Imports[i].Desc.Kind != KindFunc {
			continue
		}
		if imported == funcIdx {
			return m.typeAt(m.Imports[i].Desc.TypeIdx)
		}
		imported++
	}
	local := funcIdx - imported
	if int(local) >= len(m.Funcs) {
		return nil, false
	}
	return m.typeAt(m.Funcs[local])
}

func (m *Module) typeAt(idx uint32) (*FuncType, bool) {
	if int(idx) >= len(m.Types) {
		return nil, false
	}
	return &m.Types[idx], true
}

// FuncImport returns the import declaring funcIdx, or nil for local functions.
func (m *Module) FuncImport(funcIdx uint32) *Import {
	n := uint32(0)
	for i := range m.Imports {
		if m.Imports[i].Desc.Kind != KindFunc {
			continue
		}
		if n == funcIdx {
			return &m.Imports[i]
		}
		n++
	}
	return nil
}

// AddType returns the index of ft, appending it when absent.
func (m *Module) AddType(ft FuncType) uint32 {
	for i := range m.Types {
		if m.Types[i].Equal(ft) {
			return uint32(i)
		}
	}
	m.Types = append(m.Types, ft)
	return uint32(len(m.Types) - 1)
}

// ExportNames returns the names under which item idx of kind is exported.
func (m *Module) ExportNames(kind byte, idx uint32) []string {
	var names []string
	for _, e := range m.Exports {
		if e.Kind == kind && e.Idx == idx {
			names = append(names, e.Name)
		}
	}
	return names
}

// HasExport reports whether an export with name exists.
func (m *Module) HasExport(name string) bool {
	for _, e := range m.Exports {
		if e.Name == name {
			return true
		}
	}
	return false
}

// CustomSection returns the first custom section named name.
func (m *Module) CustomSection(name string) *CustomSection {
	for i := range m.CustomSections {
		if m.CustomSections[i].Name == name {
			return &m.CustomSections[i]
		}
	}
	return nil
}
