package glue

import (
	"github.com/wippyai/wasabi/wasm"
)

// ModuleInfo is the static description of the original module that the
// glue exposes as Wasabi.module.info. Indices are original indices.
type ModuleInfo struct {
	Start         *uint32      `json:"start,omitempty"`
	Functions     []FuncInfo   `json:"functions"`
	Globals       []GlobalInfo `json:"globals"`
	Memories      []LimitsInfo `json:"memories"`
	Tables        []LimitsInfo `json:"tables"`
	ImportedFuncs uint32       `json:"originalImportedFunctions"`
	HookImports   uint32       `json:"hookImports"`
}

// FuncInfo describes one function.
type FuncInfo struct {
	Import []string `json:"import,omitempty"`
	Export []string `json:"export"`
	Type   string   `json:"type"`
	Name   string   `json:"name,omitempty"`
	Locals uint64   `json:"locals"`
}

// GlobalInfo describes one global.
type GlobalInfo struct {
	Import  []string `json:"import,omitempty"`
	Export  []string `json:"export"`
	Type    string   `json:"type"`
	Mutable bool     `json:"mutable"`
}

// LimitsInfo describes a memory or a table. ElemType is empty for
// memories.
type LimitsInfo struct {
	Max      *uint64  `json:"max,omitempty"`
	Import   []string `json:"import,omitempty"`
	Export   []string `json:"export"`
	ElemType string   `json:"elemType,omitempty"`
	Min      uint64   `json:"min"`
	Memory64 bool     `json:"memory64,omitempty"`
}

// Describe captures m's static description. It must run before plumbing
// changes the module.
func Describe(m *wasm.Module) *ModuleInfo {
	info := &ModuleInfo{
		ImportedFuncs: uint32(m.NumImportedFuncs()),
		Functions:     []FuncInfo{},
		Globals:       []GlobalInfo{},
		Memories:      []LimitsInfo{},
		Tables:        []LimitsInfo{},
	}
	if m.Start != nil {
		start := *m.Start
		info.Start = &start
	}
	names := m.FuncNames()

	for i := range m.Imports {
		imp := &m.Imports[i]
		path := []string{imp.Module, imp.Name}
		switch imp.Desc.Kind {
		case wasm.KindFunc:
			idx := uint32(len(info.Functions))
			info.Functions = append(info.Functions, FuncInfo{
				Import: path,
				Export: exportNames(m, wasm.KindFunc, idx),
				Type:   typeString(m, imp.Desc.TypeIdx),
				Name:   names[idx],
			})
		case wasm.KindGlobal:
			idx := uint32(len(info.Globals))
			info.Globals = append(info.Globals, GlobalInfo{
				Import:  path,
				Export:  exportNames(m, wasm.KindGlobal, idx),
				Type:    imp.Desc.Global.ValType.String(),
				Mutable: imp.Desc.Global.Mutable,
			})
		case wasm.KindMemory:
			idx := uint32(len(info.Memories))
			mem := limitsInfo(imp.Desc.Memory.Limits, exportNames(m, wasm.KindMemory, idx))
			mem.Import = path
			info.Memories = append(info.Memories, mem)
		case wasm.KindTable:
			idx := uint32(len(info.Tables))
			tbl := limitsInfo(imp.Desc.Table.Limits, exportNames(m, wasm.KindTable, idx))
			tbl.Import = path
			tbl.ElemType = imp.Desc.Table.ElemType.String()
			info.Tables = append(info.Tables, tbl)
		}
	}

	for i, typeIdx := range m.Funcs {
		idx := uint32(len(info.Functions))
		fi := FuncInfo{
			Export: exportNames(m, wasm.KindFunc, idx),
			Type:   typeString(m, typeIdx),
			Name:   names[idx],
		}
		if i < len(m.Code) {
			fi.Locals = m.Code[i].NumLocals()
		}
		info.Functions = append(info.Functions, fi)
	}
	for _, g := range m.Globals {
		idx := uint32(len(info.Globals))
		info.Globals = append(info.Globals, GlobalInfo{
			Export:  exportNames(m, wasm.KindGlobal, idx),
			Type:    g.Type.ValType.String(),
			Mutable: g.Type.Mutable,
		})
	}
	for _, mem := range m.Memories {
		idx := uint32(len(info.Memories))
		info.Memories = append(info.Memories, limitsInfo(mem.Limits, exportNames(m, wasm.KindMemory, idx)))
	}
	for _, t := range m.Tables {
		idx := uint32(len(info.Tables))
		tbl := limitsInfo(t.Limits, exportNames(m, wasm.KindTable, idx))
		tbl.ElemType = t.ElemType.String()
		info.Tables = append(info.Tables, tbl)
	}
	return info
}

func limitsInfo(l wasm.Limits, exports []string) LimitsInfo {
	return LimitsInfo{Min: l.Min, Max: l.Max, Memory64: l.Memory64, Export: exports}
}

func typeString(m *wasm.Module, idx uint32) string {
	if int(idx) >= len(m.Types) {
		return "unknown"
	}
	return m.Types[idx].String()
}

func exportNames(m *wasm.Module, kind byte, idx uint32) []string {
	names := m.ExportNames(kind, idx)
	if names == nil {
		return []string{}
	}
	return names
}
