package wasm

import (
	"errors"
	"fmt"
	"io"

	"github.com/wippyai/wasabi/wasm/internal/binary"
)

// Parsing errors returned by ParseModule.
var (
	ErrInvalidMagic   = errors.New("invalid wasm magic number")
	ErrInvalidVersion = errors.New("invalid wasm version")
	ErrUnsupported    = errors.New("unsupported feature")
)

// ParseModule parses a WebAssembly binary module.
// Function bodies are kept as raw bytes; use DecodeInstructions on them.
func ParseModule(data []byte) (*Module, error) {
	r := binary.NewReader(data)

	magic, err := r.ReadU32LE()
	if err != nil {
		return nil, r.WrapError("header", err)
	}
	if magic != Magic {
		return nil, ErrInvalidMagic
	}
	version, err := r.ReadU32LE()
	if err != nil {
		return nil, r.WrapError("header", err)
	}
	if version != Version {
		return nil, ErrInvalidVersion
	}

	m := &Module{}
	var lastOrder int

	for {
		id, err := r.ReadByte()
		if errors.Is(err, io.EOF) {
			break
		}
		if id != SectionCustom {
			order := sectionOrder(id)
			if order == 0 {
				if id == SectionTag {
					return nil, r.WrapError("tag", fmt.Errorf("%w: exception handling", ErrUnsupported))
				}
				return nil, r.WrapError("", fmt.Errorf("unknown section ID: 0x%02x", id))
			}
			if order <= lastOrder {
				return nil, r.WrapError(sectionName(id), fmt.Errorf("section %d appears out of order", id))
			}
			lastOrder = order
		}

		size, err := r.ReadU32()
		if err != nil {
			return nil, r.WrapError(sectionName(id), err)
		}
		sr, err := r.Sub(int(size))
		if err != nil {
			return nil, r.WrapError(sectionName(id), err)
		}
		if err := parseSection(sr, id, m); err != nil {
			var pe *binary.ParseError
			if errors.As(err, &pe) {
				return nil, err
			}
			return nil, sr.WrapError(sectionName(id), err)
		}
		if id != SectionCustom && sr.Len() != 0 {
			return nil, sr.WrapError(sectionName(id), errors.New("section size mismatch"))
		}
	}

	if len(m.Funcs) != len(m.Code) {
		return nil, fmt.Errorf("wasm: function and code section counts differ: %d vs %d", len(m.Funcs), len(m.Code))
	}
	return m, nil
}

func parseSection(r *binary.Reader, id byte, m *Module) error {
	switch id {
	case SectionCustom:
		return parseCustomSection(r, m)
	case SectionType:
		return parseTypeSection(r, m)
	case SectionImport:
		return parseImportSection(r, m)
	case SectionFunction:
		return parseFunctionSection(r, m)
	case SectionTable:
		return parseTableSection(r, m)
	case SectionMemory:
		return parseMemorySection(r, m)
	case SectionGlobal:
		return parseGlobalSection(r, m)
	case SectionExport:
		return parseExportSection(r, m)
	case SectionStart:
		return parseStartSection(r, m)
	case SectionElement:
		return parseElementSection(r, m)
	case SectionDataCount:
		return parseDataCountSection(r, m)
	case SectionCode:
		return parseCodeSection(r, m)
	case SectionData:
		return parseDataSection(r, m)
	}
	return nil
}

// sectionOrder maps a section ID to its canonical position, 0 if unknown.
func sectionOrder(id byte) int {
	switch id {
	case SectionType:
		return 1
	case SectionImport:
		return 2
	case SectionFunction:
		return 3
	case SectionTable:
		return 4
	case SectionMemory:
		return 5
	case SectionGlobal:
		return 6
	case SectionExport:
		return 7
	case SectionStart:
		return 8
	case SectionElement:
		return 9
	case SectionDataCount:
		return 10
	case SectionCode:
		return 11
	case SectionData:
		return 12
	}
	return 0
}

func sectionName(id byte) string {
	switch id {
	case SectionCustom:
		return "custom"
	case SectionType:
		return "type"
	case SectionImport:
		return "import"
	case SectionFunction:
		return "function"
	case SectionTable:
		return "table"
	case SectionMemory:
		return "memory"
	case SectionGlobal:
		return "global"
	case SectionExport:
		return "export"
	case SectionStart:
		return "start"
	case SectionElement:
		return "element"
	case SectionCode:
		return "code"
	case SectionData:
		return "data"
	case SectionDataCount:
		return "data count"
	}
	return fmt.Sprintf("section %d", id)
}

// readCount reads a vector length and rejects counts that cannot fit in
// the remaining input, since every element takes at least one byte.
func readCount(r *binary.Reader) (uint32, error) {
	n, err := r.ReadU32()
	if err != nil {
		return 0, err
	}
	if int(n) > r.Len() {
		return 0, binary.ErrLengthBounds
	}
	return n, nil
}

func parseCustomSection(r *binary.Reader, m *Module) error {
	name, err := r.ReadName()
	if err != nil {
		return err
	}
	data := append([]byte(nil), r.Rest()...)
	m.CustomSections = append(m.CustomSections, CustomSection{Name: name, Data: data})
	return nil
}

func parseTypeSection(r *binary.Reader, m *Module) error {
	count, err := readCount(r)
	if err != nil {
		return err
	}
	m.Types = make([]FuncType, count)
	for i := range m.Types {
		form, err := r.ReadByte()
		if err != nil {
			return err
		}
		if form != FuncTypeByte {
			return fmt.Errorf("%w: type form 0x%02x", ErrUnsupported, form)
		}
		if m.Types[i].Params, err = readValTypes(r); err != nil {
			return err
		}
		if m.Types[i].Results, err = readValTypes(r); err != nil {
			return err
		}
	}
	return nil
}

func readValType(r *binary.Reader) (ValType, error) {
	b, err := r.ReadByte()
	if err != nil {
		return 0, err
	}
	if !ValType(b).Valid() {
		return 0, fmt.Errorf("%w: value type 0x%02x", ErrUnsupported, b)
	}
	return ValType(b), nil
}

func readValTypes(r *binary.Reader) ([]ValType, error) {
	count, err := readCount(r)
	if err != nil || count == 0 {
		return nil, err
	}
	types := make([]ValType, count)
	for i := range types {
		if types[i], err = readValType(r); err != nil {
			return nil, err
		}
	}
	return types, nil
}

func parseImportSection(r *binary.Reader, m *Module) error {
	count, err := readCount(r)
	if err != nil {
		return err
	}
	m.Imports = make([]Import, count)
	for i := range m.Imports {
		module, err := r.ReadName()
		if err != nil {
			return err
		}
		name, err := r.ReadName()
		if err != nil {
			return err
		}
		kind, err := r.ReadByte()
		if err != nil {
			return err
		}

		imp := Import{Module: module, Name: name, Desc: ImportDesc{Kind: kind}}
		switch kind {
		case KindFunc:
			if imp.Desc.TypeIdx, err = r.ReadU32(); err != nil {
				return err
			}
		case KindTable:
			table, err := readTableType(r)
			if err != nil {
				return err
			}
			imp.Desc.Table = &table
		case KindMemory:
			mem, err := readMemoryType(r)
			if err != nil {
				return err
			}
			imp.Desc.Memory = &mem
		case KindGlobal:
			global, err := readGlobalType(r)
			if err != nil {
				return err
			}
			imp.Desc.Global = &global
		default:
			return fmt.Errorf("unknown import kind: %d", kind)
		}
		m.Imports[i] = imp
	}
	return nil
}

func parseFunctionSection(r *binary.Reader, m *Module) error {
	count, err := readCount(r)
	if err != nil {
		return err
	}
	m.Funcs = make([]uint32, count)
	for i := range m.Funcs {
		if m.Funcs[i], err = r.ReadU32(); err != nil {
			return err
		}
	}
	return nil
}

func parseTableSection(r *binary.Reader, m *Module) error {
	count, err := readCount(r)
	if err != nil {
		return err
	}
	m.Tables = make([]TableType, count)
	for i := range m.Tables {
		if m.Tables[i], err = readTableType(r); err != nil {
			return err
		}
	}
	return nil
}

func parseMemorySection(r *binary.Reader, m *Module) error {
	count, err := readCount(r)
	if err != nil {
		return err
	}
	m.Memories = make([]MemoryType, count)
	for i := range m.Memories {
		if m.Memories[i], err = readMemoryType(r); err != nil {
			return err
		}
	}
	return nil
}

func parseGlobalSection(r *binary.Reader, m *Module) error {
	count, err := readCount(r)
	if err != nil {
		return err
	}
	m.Globals = make([]Global, count)
	for i := range m.Globals {
		gt, err := readGlobalType(r)
		if err != nil {
			return err
		}
		init, err := readInitExpr(r)
		if err != nil {
			return err
		}
		m.Globals[i] = Global{Type: gt, Init: init}
	}
	return nil
}

func parseExportSection(r *binary.Reader, m *Module) error {
	count, err := readCount(r)
	if err != nil {
		return err
	}
	m.Exports = make([]Export, count)
	for i := range m.Exports {
		name, err := r.ReadName()
		if err != nil {
			return err
		}
		kind, err := r.ReadByte()
		if err != nil {
			return err
		}
		if kind > KindGlobal {
			return fmt.Errorf("invalid export kind: 0x%02x", kind)
		}
		idx, err := r.ReadU32()
		if err != nil {
			return err
		}
		m.Exports[i] = Export{Name: name, Kind: kind, Idx: idx}
	}
	return nil
}

func parseStartSection(r *binary.Reader, m *Module) error {
	idx, err := r.ReadU32()
	if err != nil {
		return err
	}
	m.Start = &idx
	return nil
}

func parseElementSection(r *binary.Reader, m *Module) error {
	count, err := readCount(r)
	if err != nil {
		return err
	}
	m.Elements = make([]Element, count)
	for i := range m.Elements {
		flags, err := r.ReadU32()
		if err != nil {
			return err
		}
		if flags > 7 {
			return fmt.Errorf("invalid element segment flags: %d", flags)
		}
		elem := Element{Flags: flags, Type: ValFuncRef}
		active := flags&0x01 == 0
		usesExprs := flags&0x04 != 0

		if active && flags&0x02 != 0 {
			if elem.TableIdx, err = r.ReadU32(); err != nil {
				return err
			}
		}
		if active {
			if elem.Offset, err = readInitExpr(r); err != nil {
				return err
			}
		}
		if flags&0x03 != 0 {
			if usesExprs {
				t, err := readValType(r)
				if err != nil {
					return err
				}
				if !t.IsRef() {
					return fmt.Errorf("element type %s is not a reference type", t)
				}
				elem.Type = t
			} else if elem.ElemKind, err = r.ReadByte(); err != nil {
				return err
			}
		}

		n, err := readCount(r)
		if err != nil {
			return err
		}
		if usesExprs {
			elem.Exprs = make([][]byte, n)
			for j := range elem.Exprs {
				if elem.Exprs[j], err = readInitExpr(r); err != nil {
					return err
				}
			}
		} else {
			elem.FuncIdxs = make([]uint32, n)
			for j := range elem.FuncIdxs {
				if elem.FuncIdxs[j], err = r.ReadU32(); err != nil {
					return err
				}
			}
		}
		m.Elements[i] = elem
	}
	return nil
}

func parseCodeSection(r *binary.Reader, m *Module) error {
	count, err := readCount(r)
	if err != nil {
		return err
	}
	m.Code = make([]FuncBody, count)
	for i := range m.Code {
		size, err := r.ReadU32()
		if err != nil {
			return err
		}
		br, err := r.Sub(int(size))
		if err != nil {
			return err
		}
		groups, err := readCount(br)
		if err != nil {
			return err
		}
		var locals []LocalEntry
		var total uint64
		for j := uint32(0); j < groups; j++ {
			n, err := br.ReadU32()
			if err != nil {
				return err
			}
			t, err := readValType(br)
			if err != nil {
				return err
			}
			total += uint64(n)
			if total > maxLocalsPerFunction {
				return fmt.Errorf("function %d declares too many locals", i)
			}
			locals = append(locals, LocalEntry{Count: n, ValType: t})
		}
		m.Code[i] = FuncBody{Locals: locals, Code: append([]byte(nil), br.Rest()...)}
	}
	return nil
}

// maxLocalsPerFunction bounds decoded local declarations.
const maxLocalsPerFunction = 1 << 32

func parseDataSection(r *binary.Reader, m *Module) error {
	count, err := readCount(r)
	if err != nil {
		return err
	}
	m.Data = make([]DataSegment, count)
	for i := range m.Data {
		flags, err := r.ReadU32()
		if err != nil {
			return err
		}
		if flags > 2 {
			return fmt.Errorf("invalid data segment flags: %d", flags)
		}
		seg := DataSegment{Flags: flags}
		if flags == 2 {
			if seg.MemIdx, err = r.ReadU32(); err != nil {
				return err
			}
		}
		if flags != 1 {
			if seg.Offset, err = readInitExpr(r); err != nil {
				return err
			}
		}
		n, err := r.ReadU32()
		if err != nil {
			return err
		}
		init, err := r.ReadBytes(int(n))
		if err != nil {
			return err
		}
		seg.Init = append([]byte(nil), init...)
		m.Data[i] = seg
	}
	return nil
}

func parseDataCountSection(r *binary.Reader, m *Module) error {
	count, err := r.ReadU32()
	if err != nil {
		return err
	}
	m.DataCount = &count
	return nil
}

func readLimits(r *binary.Reader) (Limits, error) {
	flags, err := r.ReadByte()
	if err != nil {
		return Limits{}, err
	}
	if flags > LimitsHasMax|LimitsShared|LimitsMemory64 {
		return Limits{}, fmt.Errorf("invalid limits flags: 0x%02x", flags)
	}
	l := Limits{
		Shared:   flags&LimitsShared != 0,
		Memory64: flags&LimitsMemory64 != 0,
	}
	if l.Min, err = r.ReadU64(); err != nil {
		return Limits{}, err
	}
	if flags&LimitsHasMax != 0 {
		maxVal, err := r.ReadU64()
		if err != nil {
			return Limits{}, err
		}
		l.Max = &maxVal
	}
	if !l.Memory64 && (l.Min > 0xFFFFFFFF || (l.Max != nil && *l.Max > 0xFFFFFFFF)) {
		return Limits{}, binary.ErrOverflow
	}
	if l.Max != nil && l.Min > *l.Max {
		return Limits{}, fmt.Errorf("limits min (%d) exceeds max (%d)", l.Min, *l.Max)
	}
	return l, nil
}

func readTableType(r *binary.Reader) (TableType, error) {
	t, err := readValType(r)
	if err != nil {
		return TableType{}, err
	}
	if !t.IsRef() {
		return TableType{}, fmt.Errorf("table element type %s is not a reference type", t)
	}
	limits, err := readLimits(r)
	if err != nil {
		return TableType{}, err
	}
	return TableType{ElemType: t, Limits: limits}, nil
}

func readMemoryType(r *binary.Reader) (MemoryType, error) {
	limits, err := readLimits(r)
	if err != nil {
		return MemoryType{}, err
	}
	return MemoryType{Limits: limits}, nil
}

func readGlobalType(r *binary.Reader) (GlobalType, error) {
	t, err := readValType(r)
	if err != nil {
		return GlobalType{}, err
	}
	mut, err := r.ReadByte()
	if err != nil {
		return GlobalType{}, err
	}
	if mut > 1 {
		return GlobalType{}, fmt.Errorf("invalid global mutability: %d", mut)
	}
	return GlobalType{ValType: t, Mutable: mut == 1}, nil
}

// readInitExpr reads a constant expression through its end opcode and
// returns a copy of its bytes.
func readInitExpr(r *binary.Reader) ([]byte, error) {
	start := r.Offset()
	for {
		instr, err := decodeInstruction(r)
		if err != nil {
			return nil, err
		}
		if instr.Opcode == OpEnd {
			return append([]byte(nil), r.Since(start)...), nil
		}
	}
}
