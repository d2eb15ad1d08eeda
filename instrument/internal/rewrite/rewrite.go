package rewrite

import (
	"github.com/wippyai/wasabi/errors"
	"github.com/wippyai/wasabi/instrument/internal/codegen"
	"github.com/wippyai/wasabi/instrument/internal/hook"
	"github.com/wippyai/wasabi/instrument/internal/location"
	"github.com/wippyai/wasabi/instrument/internal/plumbing"
	"github.com/wippyai/wasabi/wasm"
)

// env is the view of the original module shared by every function writer.
// Index spaces are the ORIGINAL ones, even after plumbing appended hook
// imports, the depth global and hook types.
type env struct {
	m        *wasm.Module
	layout   *plumbing.Layout
	reg      *location.Registry
	sigSeen  map[string]bool
	tblSeen  map[uint32]bool
	funcs    []uint32
	globals  []wasm.GlobalType
	tables   []wasm.TableType
	memories []wasm.MemoryType
	sigs     []hook.Signature
	indirect []uint32
	numTypes uint32
	imported uint32
	hooks    hook.Set
}

func newEnv(m *wasm.Module, hooks hook.Set, layout *plumbing.Layout, reg *location.Registry) *env {
	e := &env{
		m:        m,
		layout:   layout,
		reg:      reg,
		hooks:    hooks,
		sigSeen:  make(map[string]bool),
		tblSeen:  make(map[uint32]bool),
		funcs:    m.FuncTypeIndices(),
		globals:  m.GlobalTypes(),
		tables:   m.TableTypes(),
		memories: m.MemoryTypes(),
		numTypes: uint32(len(m.Types)),
		imported: uint32(m.NumImportedFuncs()),
	}
	if layout != nil {
		lo, hi := layout.OrigImportedFuncs, layout.OrigImportedFuncs+layout.Added
		e.funcs = append(e.funcs[:lo:lo], e.funcs[hi:]...)
		if layout.HasDepth {
			e.globals = e.globals[:len(e.globals)-1]
		}
		e.numTypes = layout.OrigTypes
		e.imported = lo
	}
	return e
}

func (e *env) require(sig hook.Signature) {
	name := sig.ImportName()
	if !e.sigSeen[name] {
		e.sigSeen[name] = true
		e.sigs = append(e.sigs, sig)
	}
}

func (e *env) useTable(idx uint32) {
	if !e.tblSeen[idx] {
		e.tblSeen[idx] = true
		e.indirect = append(e.indirect, idx)
	}
}

// Plan walks every body without keeping the output and reports what the
// rewrite will need: hook signatures, tables reached by indirect calls and
// the local count of each function. Malformed bodies fail here, before
// the module is modified.
func Plan(m *wasm.Module, hooks hook.Set) (*plumbing.Requirements, error) {
	e := newEnv(m, hooks, nil, nil)
	req := &plumbing.Requirements{
		Hooks:  hooks,
		Locals: make([]uint64, len(m.Code)),
	}
	for i := range m.Code {
		w, err := e.run(i, nil)
		if err != nil {
			return nil, err
		}
		req.Locals[i] = w.localCount()
	}
	req.Signatures = e.sigs
	req.IndirectTables = e.indirect
	return req, nil
}

// Apply rewrites every function body in index order, registering one site
// per inserted hook call. Function references in bodies are remapped
// through layout. Bodies are replaced only after all of them were
// rewritten successfully.
//
// Apply returns the number of inserted hook calls.
func Apply(m *wasm.Module, hooks hook.Set, layout *plumbing.Layout, reg *location.Registry) (int, error) {
	e := newEnv(m, hooks, layout, reg)
	bodies := make([]wasm.FuncBody, len(m.Code))
	inserted := 0
	for i := range m.Code {
		dry, err := e.run(i, nil)
		if err != nil {
			return 0, err
		}
		w, err := e.run(i, &dry.scratch.peak)
		if err != nil {
			return 0, err
		}
		bodies[i] = w.result()
		inserted += w.inserted
	}
	copy(m.Code, bodies)
	return inserted, nil
}

// run rewrites one body. A nil peak selects a dry run: no sites are
// registered and hook targets and scratch indices are placeholders.
func (e *env) run(code int, peak *[numScratchTypes]uint32) (*writer, error) {
	fn := e.imported + uint32(code)
	body := &e.m.Code[code]
	if int(fn) >= len(e.funcs) {
		return nil, errors.Malformed(fn, location.EntryInstr, "function has no declaration")
	}
	typeIdx := e.funcs[fn]
	if typeIdx >= e.numTypes {
		return nil, errors.Malformed(fn, location.EntryInstr, "type %d out of range", typeIdx)
	}
	sig := &e.m.Types[typeIdx]

	instrs, err := wasm.DecodeInstructions(body.Code)
	if err != nil {
		at := location.EntryInstr
		var ie *wasm.InstrError
		if errors.As(err, &ie) {
			at = ie.Index
		}
		return nil, errors.New(errors.PhaseRewrite, errors.KindMalformedInstruction).
			At(fn, at).
			Detail("undecodable body").
			Cause(err).
			Build()
	}

	w := &writer{
		e:       e,
		fn:      fn,
		sig:     sig,
		body:    body,
		instrs:  instrs,
		dry:     peak == nil,
		scratch: newScratch(uint32(uint64(len(sig.Params)) + body.NumLocals())),
	}
	if peak != nil {
		w.scratch.fix(*peak)
	}
	w.out = codegen.GetEmitterWithCapacity(2 * len(body.Code))
	err = w.run()
	if err != nil || w.dry {
		codegen.PutEmitter(w.out)
		w.out = nil
	}
	if err != nil {
		return nil, err
	}
	return w, nil
}
