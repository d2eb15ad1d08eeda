package wasm

import (
	"fmt"

	"github.com/wippyai/wasabi/wasm/internal/binary"
)

// Name section subsection IDs.
const (
	NameSubModule   byte = 0
	NameSubFunction byte = 1
	NameSubLocal    byte = 2
)

// NameAssoc maps an index to a name.
type NameAssoc struct {
	Name string
	Idx  uint32
}

// IndirectNameAssoc maps a function index to names of its locals.
type IndirectNameAssoc struct {
	Names []NameAssoc
	Idx   uint32
}

// NameSubsection is a subsection of the name section.
// Function and local subsections are decoded; others stay raw.
type NameSubsection struct {
	Data      []byte
	Functions []NameAssoc
	Locals    []IndirectNameAssoc
	ID        byte
}

// Names is the decoded "name" custom section.
type Names struct {
	Subsections []NameSubsection
}

// ParseNames decodes the payload of a "name" custom section.
func ParseNames(data []byte) (*Names, error) {
	r := binary.NewReader(data)
	n := &Names{}
	for r.Len() > 0 {
		id, _ := r.ReadByte()
		size, err := r.ReadU32()
		if err != nil {
			return nil, r.WrapError(NameSectionName, err)
		}
		sr, err := r.Sub(int(size))
		if err != nil {
			return nil, r.WrapError(NameSectionName, err)
		}
		sub := NameSubsection{ID: id}
		switch id {
		case NameSubFunction:
			if sub.Functions, err = readNameMap(sr); err != nil {
				return nil, sr.WrapError(NameSectionName, err)
			}
		case NameSubLocal:
			if sub.Locals, err = readIndirectNameMap(sr); err != nil {
				return nil, sr.WrapError(NameSectionName, err)
			}
		default:
			sub.Data = append([]byte(nil), sr.Rest()...)
		}
		n.Subsections = append(n.Subsections, sub)
	}
	return n, nil
}

func readNameMap(r *binary.Reader) ([]NameAssoc, error) {
	count, err := readCount(r)
	if err != nil {
		return nil, err
	}
	out := make([]NameAssoc, count)
	for i := range out {
		if out[i].Idx, err = r.ReadU32(); err != nil {
			return nil, err
		}
		if out[i].Name, err = r.ReadName(); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func readIndirectNameMap(r *binary.Reader) ([]IndirectNameAssoc, error) {
	count, err := readCount(r)
	if err != nil {
		return nil, err
	}
	out := make([]IndirectNameAssoc, count)
	for i := range out {
		if out[i].Idx, err = r.ReadU32(); err != nil {
			return nil, err
		}
		if out[i].Names, err = readNameMap(r); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Encode returns the section payload.
func (n *Names) Encode() []byte {
	w := binary.NewWriter()
	for _, sub := range n.Subsections {
		sw := binary.NewWriter()
		switch sub.ID {
		case NameSubFunction:
			writeNameMap(sw, sub.Functions)
		case NameSubLocal:
			sw.WriteU32(uint32(len(sub.Locals)))
			for _, l := range sub.Locals {
				sw.WriteU32(l.Idx)
				writeNameMap(sw, l.Names)
			}
		default:
			sw.WriteBytes(sub.Data)
		}
		w.Byte(sub.ID)
		w.WriteVec(sw.Bytes())
	}
	return w.Bytes()
}

func writeNameMap(w *binary.Writer, names []NameAssoc) {
	w.WriteU32(uint32(len(names)))
	for _, a := range names {
		w.WriteU32(a.Idx)
		w.WriteName(a.Name)
	}
}

// RemapFuncs rewrites function indices in the function and local name maps.
func (n *Names) RemapFuncs(remap func(uint32) uint32) {
	for i := range n.Subsections {
		sub := &n.Subsections[i]
		for j := range sub.Functions {
			sub.Functions[j].Idx = remap(sub.Functions[j].Idx)
		}
		for j := range sub.Locals {
			sub.Locals[j].Idx = remap(sub.Locals[j].Idx)
		}
	}
}

// FuncNames returns the debug name of each named function.
func (n *Names) FuncNames() map[uint32]string {
	out := make(map[uint32]string)
	for _, sub := range n.Subsections {
		for _, a := range sub.Functions {
			out[a.Idx] = a.Name
		}
	}
	return out
}

// FuncNames returns debug names from the module's name section, or nil
// when the section is absent or malformed.
func (m *Module) FuncNames() map[uint32]string {
	cs := m.CustomSection(NameSectionName)
	if cs == nil {
		return nil
	}
	names, err := ParseNames(cs.Data)
	if err != nil {
		return nil
	}
	return names.FuncNames()
}

// FuncLabel returns a readable label for a function: its debug name, its
// first export name, its import path, or its index.
func (m *Module) FuncLabel(idx uint32, names map[uint32]string) string {
	if name, ok := names[idx]; ok {
		return name
	}
	if exp := m.ExportNames(KindFunc, idx); len(exp) > 0 {
		return exp[0]
	}
	if imp := m.FuncImport(idx); imp != nil {
		return imp.Module + "." + imp.Name
	}
	return fmt.Sprintf("func[%d]", idx)
}
