package plumbing

import (
	"strconv"

	"github.com/wippyai/wasabi/errors"
	"github.com/wippyai/wasabi/wasm"
)

// remapReferences shifts function indices in exports, the start function,
// element segments, global initializers and the name section. All
// rewritten values are computed before any of them is stored, so a
// malformed initializer leaves m untouched.
func remapReferences(m *wasm.Module, l *Layout) error {
	if l.Added == 0 {
		return nil
	}

	globalInits := make([][]byte, len(m.Globals))
	for i := range m.Globals {
		init, err := remapExpr(m.Globals[i].Init, l)
		if err != nil {
			return malformedExpr(err, "globals", i)
		}
		globalInits[i] = init
	}

	elemExprs := make([][][]byte, len(m.Elements))
	for i := range m.Elements {
		seg := &m.Elements[i]
		if !seg.UsesExprs() {
			continue
		}
		exprs := make([][]byte, len(seg.Exprs))
		for j, expr := range seg.Exprs {
			out, err := remapExpr(expr, l)
			if err != nil {
				return malformedExpr(err, "elements", i)
			}
			exprs[j] = out
		}
		elemExprs[i] = exprs
	}

	var names []byte
	dropNames := false
	if cs := m.CustomSection(wasm.NameSectionName); cs != nil {
		parsed, err := wasm.ParseNames(cs.Data)
		if err != nil {
			dropNames = true
		} else {
			parsed.RemapFuncs(l.Remap)
			names = parsed.Encode()
		}
	}

	for i := range m.Globals {
		m.Globals[i].Init = globalInits[i]
	}
	for i := range m.Elements {
		seg := &m.Elements[i]
		if seg.UsesExprs() {
			seg.Exprs = elemExprs[i]
			continue
		}
		for j, idx := range seg.FuncIdxs {
			seg.FuncIdxs[j] = l.Remap(idx)
		}
	}
	for i := range m.Exports {
		if m.Exports[i].Kind == wasm.KindFunc {
			m.Exports[i].Idx = l.Remap(m.Exports[i].Idx)
		}
	}
	if m.Start != nil {
		start := l.Remap(*m.Start)
		m.Start = &start
	}
	if dropNames {
		kept := m.CustomSections[:0]
		for _, cs := range m.CustomSections {
			if cs.Name != wasm.NameSectionName {
				kept = append(kept, cs)
			}
		}
		m.CustomSections = kept
		l.DroppedNames = true
	} else if names != nil {
		m.CustomSection(wasm.NameSectionName).Data = names
	}
	return nil
}

// remapExpr rewrites ref.func operands of a constant expression.
func remapExpr(expr []byte, l *Layout) ([]byte, error) {
	instrs, err := wasm.DecodeInstructions(expr)
	if err != nil {
		return nil, err
	}
	changed := false
	for i := range instrs {
		if instrs[i].Opcode == wasm.OpRefFunc {
			imm := instrs[i].Imm.(wasm.RefFuncImm)
			instrs[i].Imm = wasm.RefFuncImm{FuncIdx: l.Remap(imm.FuncIdx)}
			changed = true
		}
	}
	if !changed {
		return expr, nil
	}
	return wasm.EncodeInstructions(instrs), nil
}

func malformedExpr(cause error, section string, idx int) error {
	return errors.New(errors.PhasePlumbing, errors.KindMalformedInstruction).
		Path(section, strconv.Itoa(idx)).
		Detail("undecodable constant expression").
		Cause(cause).
		Build()
}
