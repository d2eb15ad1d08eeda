package wasm

import (
	"errors"
	"fmt"

	"github.com/wippyai/wasabi/wasm/internal/binary"
)

// ErrInconsistent reports a module whose parts cannot be encoded together.
var ErrInconsistent = errors.New("inconsistent module")

// Encode encodes the module to WebAssembly binary format.
// Custom sections are emitted after all known sections.
func (m *Module) Encode() ([]byte, error) {
	if err := m.checkEncodable(); err != nil {
		return nil, err
	}

	w := binary.NewWriter()
	w.WriteU32LE(Magic)
	w.WriteU32LE(Version)

	sections := []struct {
		write func(*binary.Writer)
		id    byte
		emit  bool
	}{
		{m.writeTypes, SectionType, len(m.Types) > 0},
		{m.writeImports, SectionImport, len(m.Imports) > 0},
		{m.writeFuncs, SectionFunction, len(m.Funcs) > 0},
		{m.writeTables, SectionTable, len(m.Tables) > 0},
		{m.writeMemories, SectionMemory, len(m.Memories) > 0},
		{m.writeGlobals, SectionGlobal, len(m.Globals) > 0},
		{m.writeExports, SectionExport, len(m.Exports) > 0},
		{m.writeStart, SectionStart, m.Start != nil},
		{m.writeElements, SectionElement, len(m.Elements) > 0},
		{m.writeDataCount, SectionDataCount, m.DataCount != nil},
		{m.writeCode, SectionCode, len(m.Code) > 0},
		{m.writeData, SectionData, len(m.Data) > 0},
	}
	for _, s := range sections {
		if !s.emit {
			continue
		}
		sec := binary.NewWriter()
		s.write(sec)
		writeSection(w, s.id, sec.Bytes())
	}

	for _, cs := range m.CustomSections {
		sec := binary.NewWriter()
		sec.WriteName(cs.Name)
		sec.WriteBytes(cs.Data)
		writeSection(w, SectionCustom, sec.Bytes())
	}
	return w.Bytes(), nil
}

func (m *Module) checkEncodable() error {
	if len(m.Funcs) != len(m.Code) {
		return fmt.Errorf("%w: %d functions but %d bodies", ErrInconsistent, len(m.Funcs), len(m.Code))
	}
	for i, imp := range m.Imports {
		d := imp.Desc
		switch d.Kind {
		case KindFunc:
		case KindTable:
			if d.Table == nil {
				return fmt.Errorf("%w: import %d has no table type", ErrInconsistent, i)
			}
		case KindMemory:
			if d.Memory == nil {
				return fmt.Errorf("%w: import %d has no memory type", ErrInconsistent, i)
			}
		case KindGlobal:
			if d.Global == nil {
				return fmt.Errorf("%w: import %d has no global type", ErrInconsistent, i)
			}
		default:
			return fmt.Errorf("%w: import %d has kind %d", ErrInconsistent, i, d.Kind)
		}
	}
	for i, e := range m.Exports {
		if e.Kind > KindGlobal {
			return fmt.Errorf("%w: export %d has kind %d", ErrInconsistent, i, e.Kind)
		}
	}
	for i, e := range m.Elements {
		if e.Flags > 7 {
			return fmt.Errorf("%w: element %d has flags %d", ErrInconsistent, i, e.Flags)
		}
	}
	for i, d := range m.Data {
		if d.Flags > 2 {
			return fmt.Errorf("%w: data segment %d has flags %d", ErrInconsistent, i, d.Flags)
		}
	}
	return nil
}

func (m *Module) writeTypes(w *binary.Writer) {
	w.WriteU32(uint32(len(m.Types)))
	for _, ft := range m.Types {
		w.Byte(FuncTypeByte)
		writeValTypes(w, ft.Params)
		writeValTypes(w, ft.Results)
	}
}

func (m *Module) writeImports(w *binary.Writer) {
	w.WriteU32(uint32(len(m.Imports)))
	for _, imp := range m.Imports {
		w.WriteName(imp.Module)
		w.WriteName(imp.Name)
		w.Byte(imp.Desc.Kind)
		switch imp.Desc.Kind {
		case KindFunc:
			w.WriteU32(imp.Desc.TypeIdx)
		case KindTable:
			writeTableType(w, *imp.Desc.Table)
		case KindMemory:
			writeLimits(w, imp.Desc.Memory.Limits)
		case KindGlobal:
			writeGlobalType(w, *imp.Desc.Global)
		}
	}
}

func (m *Module) writeFuncs(w *binary.Writer) {
	w.WriteU32(uint32(len(m.Funcs)))
	for _, typeIdx := range m.Funcs {
		w.WriteU32(typeIdx)
	}
}

func (m *Module) writeTables(w *binary.Writer) {
	w.WriteU32(uint32(len(m.Tables)))
	for _, t := range m.Tables {
		writeTableType(w, t)
	}
}

func (m *Module) writeMemories(w *binary.Writer) {
	w.WriteU32(uint32(len(m.Memories)))
	for _, mem := range m.Memories {
		writeLimits(w, mem.Limits)
	}
}

func (m *Module) writeGlobals(w *binary.Writer) {
	w.WriteU32(uint32(len(m.Globals)))
	for _, g := range m.Globals {
		writeGlobalType(w, g.Type)
		w.WriteBytes(g.Init)
	}
}

func (m *Module) writeExports(w *binary.Writer) {
	w.WriteU32(uint32(len(m.Exports)))
	for _, e := range m.Exports {
		w.WriteName(e.Name)
		w.Byte(e.Kind)
		w.WriteU32(e.Idx)
	}
}

func (m *Module) writeStart(w *binary.Writer) {
	w.WriteU32(*m.Start)
}

func (m *Module) writeElements(w *binary.Writer) {
	w.WriteU32(uint32(len(m.Elements)))
	for i := range m.Elements {
		elem := &m.Elements[i]
		w.WriteU32(elem.Flags)
		if elem.Active() {
			if elem.Flags&0x02 != 0 {
				w.WriteU32(elem.TableIdx)
			}
			w.WriteBytes(elem.Offset)
		}
		if elem.Flags&0x03 != 0 {
			if elem.UsesExprs() {
				w.Byte(byte(elem.Type))
			} else {
				w.Byte(elem.ElemKind)
			}
		}
		if elem.UsesExprs() {
			w.WriteU32(uint32(len(elem.Exprs)))
			for _, expr := range elem.Exprs {
				w.WriteBytes(expr)
			}
			continue
		}
		w.WriteU32(uint32(len(elem.FuncIdxs)))
		for _, idx := range elem.FuncIdxs {
			w.WriteU32(idx)
		}
	}
}

func (m *Module) writeDataCount(w *binary.Writer) {
	w.WriteU32(*m.DataCount)
}

func (m *Module) writeCode(w *binary.Writer) {
	w.WriteU32(uint32(len(m.Code)))
	for _, body := range m.Code {
		bw := binary.NewWriter()
		bw.WriteU32(uint32(len(body.Locals)))
		for _, l := range body.Locals {
			bw.WriteU32(l.Count)
			bw.Byte(byte(l.ValType))
		}
		bw.WriteBytes(body.Code)
		w.WriteVec(bw.Bytes())
	}
}

func (m *Module) writeData(w *binary.Writer) {
	w.WriteU32(uint32(len(m.Data)))
	for _, d := range m.Data {
		w.WriteU32(d.Flags)
		if d.Flags == 2 {
			w.WriteU32(d.MemIdx)
		}
		if d.Flags != 1 {
			w.WriteBytes(d.Offset)
		}
		w.WriteVec(d.Init)
	}
}

func writeSection(w *binary.Writer, id byte, data []byte) {
	w.Byte(id)
	w.WriteVec(data)
}

func writeValTypes(w *binary.Writer, types []ValType) {
	w.WriteU32(uint32(len(types)))
	for _, t := range types {
		w.Byte(byte(t))
	}
}

func writeLimits(w *binary.Writer, l Limits) {
	var flags byte
	if l.Max != nil {
		flags |= LimitsHasMax
	}
	if l.Shared {
		flags |= LimitsShared
	}
	if l.Memory64 {
		flags |= LimitsMemory64
	}
	w.Byte(flags)
	w.WriteU64(l.Min)
	if l.Max != nil {
		w.WriteU64(*l.Max)
	}
}

func writeTableType(w *binary.Writer, t TableType) {
	w.Byte(byte(t.ElemType))
	writeLimits(w, t.Limits)
}

func writeGlobalType(w *binary.Writer, g GlobalType) {
	w.Byte(byte(g.ValType))
	if g.Mutable {
		w.Byte(1)
	} else {
		w.Byte(0)
	}
}
