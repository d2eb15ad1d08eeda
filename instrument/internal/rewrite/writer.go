package rewrite

import (
	"github.com/wippyai/wasabi/errors"
	"github.com/wippyai/wasabi/instrument/internal/codegen"
	"github.com/wippyai/wasabi/instrument/internal/hook"
	"github.com/wippyai/wasabi/instrument/internal/location"
	"github.com/wippyai/wasabi/wasm"
)

// writer rewrites one function body. Every inserted sequence is stack
// neutral: operands needed by a hook are parked in scratch locals and
// pushed back in their original order.
type writer struct {
	e        *env
	sig      *wasm.FuncType
	body     *wasm.FuncBody
	out      *codegen.Emitter
	scratch  *scratch
	err      error
	instrs   []wasm.Instruction
	blocks   []bool // open blocks; true for an if still awaiting else
	inserted int
	fn       uint32
	dry      bool
	closed   bool
}

func (w *writer) run() error {
	if w.e.hooks.Has(hook.Begin) {
		w.begin()
	}
	for i := range w.instrs {
		if w.closed {
			return errors.Malformed(w.fn, i, "instruction after final end")
		}
		if err := w.instr(i, &w.instrs[i]); err != nil {
			return err
		}
		if w.err != nil {
			return w.err
		}
		w.scratch.release()
	}
	if !w.closed {
		return errors.Malformed(w.fn, len(w.instrs), "missing final end")
	}
	return nil
}

// localCount returns params plus all locals after the rewrite, or 0 when
// the rewrite adds no locals.
func (w *writer) localCount() uint64 {
	extra := w.scratch.total()
	if extra == 0 {
		return 0
	}
	return uint64(len(w.sig.Params)) + w.body.NumLocals() + extra
}

func (w *writer) result() wasm.FuncBody {
	locals := append([]wasm.LocalEntry(nil), w.body.Locals...)
	locals = append(locals, w.scratch.entries()...)
	code := w.out.Copy()
	codegen.PutEmitter(w.out)
	w.out = nil
	return wasm.FuncBody{Locals: locals, Code: code}
}

func (w *writer) instr(i int, in *wasm.Instruction) error {
	op := in.Opcode
	switch {
	case op >= wasm.OpI32Load && op <= wasm.OpI64Load32U:
		return w.load(i, in)
	case op >= wasm.OpI32Store && op <= wasm.OpI64Store32:
		return w.store(i, in)
	}

	switch op {
	case wasm.OpBlock, wasm.OpLoop, wasm.OpIf:
		if bt := in.Imm.(wasm.BlockImm).Type; bt >= 0 && uint64(bt) >= uint64(w.e.numTypes) {
			return errors.Malformed(w.fn, i, "block type %d out of range", bt)
		}
		w.blocks = append(w.blocks, op == wasm.OpIf)
		w.out.EmitInstr(*in)

	case wasm.OpElse:
		top := len(w.blocks) - 1
		if top < 0 || !w.blocks[top] {
			return errors.Malformed(w.fn, i, "else outside of if")
		}
		w.blocks[top] = false
		w.out.EmitInstr(*in)

	case wasm.OpEnd:
		if len(w.blocks) == 0 {
			w.exit(i, op)
			w.out.End()
			w.closed = true
			return nil
		}
		w.blocks = w.blocks[:len(w.blocks)-1]
		w.out.EmitInstr(*in)

	case wasm.OpReturn:
		w.exit(i, op)
		w.out.EmitInstr(*in)

	case wasm.OpBr:
		toFunc, err := w.label(i, in.Imm.(wasm.BranchImm).LabelIdx)
		if err != nil {
			return err
		}
		if toFunc {
			w.exit(i, op)
		}
		w.out.EmitInstr(*in)

	case wasm.OpBrIf:
		return w.brIf(i, in)

	case wasm.OpBrTable:
		return w.brTable(i, in)

	case wasm.OpCall, wasm.OpReturnCall:
		return w.call(i, in)

	case wasm.OpCallIndirect, wasm.OpReturnCallIndirect:
		return w.callIndirect(i, in)

	case wasm.OpRefFunc:
		idx := in.Imm.(wasm.RefFuncImm).FuncIdx
		if idx >= uint32(len(w.e.funcs)) {
			return errors.Malformed(w.fn, i, "ref.func %d out of range", idx)
		}
		w.out.EmitInstr(wasm.Instruction{Opcode: op, Imm: wasm.RefFuncImm{FuncIdx: w.remap(idx)}})

	case wasm.OpGlobalGet, wasm.OpGlobalSet:
		return w.global(i, in)

	case wasm.OpMemorySize, wasm.OpMemoryGrow:
		return w.memory(i, in)

	case wasm.OpTableGet, wasm.OpTableSet:
		return w.table(i, in)

	default:
		w.out.EmitInstr(*in)
	}
	return nil
}

// label reports whether a branch to l leaves the function.
func (w *writer) label(i int, l uint32) (bool, error) {
	depth := uint32(len(w.blocks))
	if l > depth {
		return false, errors.Malformed(w.fn, i, "branch label %d exceeds block depth %d", l, depth)
	}
	return l == depth, nil
}

func (w *writer) remap(idx uint32) uint32 {
	if w.dry || w.e.layout == nil {
		return idx
	}
	return w.e.layout.Remap(idx)
}

func (w *writer) depthGlobal() uint32 {
	if w.dry {
		return 0
	}
	return w.e.layout.DepthGlobal
}

// hookCall emits i32.const loc, the arguments pushed by push, and a call
// to the import implementing sig.
func (w *writer) hookCall(sig hook.Signature, site location.Site, push func()) {
	w.e.require(sig)
	site.Func = w.fn
	site.Hook = sig.Hook()
	site.Variant = sig.Variant
	site.Import = sig.ImportName()

	var loc location.ID
	var target uint32
	if !w.dry {
		idx, ok := w.e.layout.HookFunc(sig)
		if !ok && w.err == nil {
			w.err = errors.New(errors.PhaseRewrite, errors.KindInvalidInput).
				At(w.fn, site.Instr).
				Detail("no hook import for %s", sig.ImportName()).
				Build()
		}
		target = idx
		loc = w.e.reg.Add(site)
	}

	w.out.I32Const(loc)
	if push != nil {
		push()
	}
	w.out.Call(target)
	w.inserted++
}

// save pops values of the given types into fresh scratch locals.
func (w *writer) save(types []wasm.ValType) []uint32 {
	locals := w.scratch.getAll(types)
	w.out.LocalSetsReverse(locals)
	return locals
}

func (w *writer) restore(locals []uint32) {
	w.out.LocalGets(locals)
}

// pushObservable pushes the saved values a hook can receive.
func (w *writer) pushObservable(locals []uint32, types []wasm.ValType) {
	for i, t := range types {
		if t != wasm.ValV128 {
			w.out.LocalGet(locals[i])
		}
	}
}

func (w *writer) exitsHooked() bool {
	return w.e.hooks.Has(hook.End) || w.e.hooks.Has(hook.Begin)
}

func (w *writer) begin() {
	params := w.sig.Params
	w.out.AdjustGlobal(w.depthGlobal(), 1)
	w.hookCall(
		hook.NewSignature(hook.VariantBeginFunction, params...),
		location.Site{Instr: location.EntryInstr, Type: w.sig.String()},
		func() {
			w.out.I32Const(int32(w.fn))
			for p, t := range params {
				if t != wasm.ValV128 {
					w.out.LocalGet(uint32(p))
				}
			}
		},
	)
}

// exit instruments an unconditional function exit with the results on
// top of the stack.
func (w *writer) exit(i int, op byte) {
	if !w.exitsHooked() {
		return
	}
	var saved []uint32
	if w.e.hooks.Has(hook.End) {
		saved = w.save(w.sig.Results)
	}
	w.exitHooks(i, op, saved)
	w.restore(saved)
}

// exitHooks emits the End hook over saved results and the depth decrement.
func (w *writer) exitHooks(i int, op byte, saved []uint32) {
	if w.e.hooks.Has(hook.End) {
		results := w.sig.Results
		w.hookCall(
			hook.NewSignature(hook.VariantEndFunction, results...),
			location.Site{Instr: i, Op: wasm.OpName(op), Type: w.sig.String()},
			func() { w.pushObservable(saved, results) },
		)
	}
	if w.e.hooks.Has(hook.Begin) {
		w.out.AdjustGlobal(w.depthGlobal(), -1)
	}
}

// copyResults leaves the results on the stack and returns scratch copies.
func (w *writer) copyResults() []uint32 {
	if !w.e.hooks.Has(hook.End) {
		return nil
	}
	saved := w.save(w.sig.Results)
	w.restore(saved)
	return saved
}

func (w *writer) brIf(i int, in *wasm.Instruction) error {
	toFunc, err := w.label(i, in.Imm.(wasm.BranchImm).LabelIdx)
	if err != nil {
		return err
	}
	if !toFunc || !w.exitsHooked() {
		w.out.EmitInstr(*in)
		return nil
	}

	cond := w.scratch.get(wasm.ValI32)
	w.out.LocalSet(cond)
	saved := w.copyResults()
	w.out.LocalGet(cond).If(codegen.BlockVoid)
	w.exitHooks(i, in.Opcode, saved)
	w.out.End()
	w.out.LocalGet(cond)
	w.out.EmitInstr(*in)
	return nil
}

func (w *writer) brTable(i int, in *wasm.Instruction) error {
	imm := in.Imm.(wasm.BrTableImm)
	var hits []int
	for k, l := range imm.Labels {
		toFunc, err := w.label(i, l)
		if err != nil {
			return err
		}
		if toFunc {
			hits = append(hits, k)
		}
	}
	defHit, err := w.label(i, imm.Default)
	if err != nil {
		return err
	}
	if (len(hits) == 0 && !defHit) || !w.exitsHooked() {
		w.out.EmitInstr(*in)
		return nil
	}

	sel := w.scratch.get(wasm.ValI32)
	w.out.LocalSet(sel)
	saved := w.copyResults()
	if defHit && len(hits) == len(imm.Labels) {
		w.exitHooks(i, in.Opcode, saved)
	} else {
		first := true
		or := func() {
			if !first {
				w.out.I32Or()
			}
			first = false
		}
		for _, k := range hits {
			w.out.LocalGet(sel).I32Const(int32(k)).I32Eq()
			or()
		}
		if defHit {
			w.out.LocalGet(sel).I32Const(int32(len(imm.Labels))).I32GeU()
			or()
		}
		w.out.If(codegen.BlockVoid)
		w.exitHooks(i, in.Opcode, saved)
		w.out.End()
	}
	w.out.LocalGet(sel)
	w.out.EmitInstr(*in)
	return nil
}

func (w *writer) call(i int, in *wasm.Instruction) error {
	callee := in.Imm.(wasm.CallImm).FuncIdx
	if callee >= uint32(len(w.e.funcs)) {
		return errors.Malformed(w.fn, i, "call to function %d out of range", callee)
	}
	typeIdx := w.e.funcs[callee]
	if typeIdx >= w.e.numTypes {
		return errors.Malformed(w.fn, i, "callee %d has type %d out of range", callee, typeIdx)
	}
	ft := &w.e.m.Types[typeIdx]
	tail := in.Opcode == wasm.OpReturnCall
	hooked := w.e.hooks.Has(hook.Call)
	site := location.Site{Instr: i, Op: wasm.OpName(in.Opcode), Callee: &callee, Type: ft.String()}

	if hooked {
		args := w.save(ft.Params)
		w.hookCall(hook.NewSignature(hook.VariantCallPre, ft.Params...), site, func() {
			w.out.I32Const(int32(callee))
			w.pushObservable(args, ft.Params)
		})
		w.restore(args)
	}
	if tail && w.e.hooks.Has(hook.Begin) {
		w.out.AdjustGlobal(w.depthGlobal(), -1)
	}
	w.out.EmitInstr(wasm.Instruction{Opcode: in.Opcode, Imm: wasm.CallImm{FuncIdx: w.remap(callee)}})
	if hooked && !tail && len(ft.Results) > 0 {
		w.callPost(ft, site)
	}
	return nil
}

func (w *writer) callIndirect(i int, in *wasm.Instruction) error {
	imm := in.Imm.(wasm.CallIndirectImm)
	if imm.TypeIdx >= w.e.numTypes {
		return errors.Malformed(w.fn, i, "call_indirect type %d out of range", imm.TypeIdx)
	}
	if imm.TableIdx >= uint32(len(w.e.tables)) {
		return errors.Malformed(w.fn, i, "call_indirect table %d out of range", imm.TableIdx)
	}
	ft := &w.e.m.Types[imm.TypeIdx]
	table := imm.TableIdx
	tail := in.Opcode == wasm.OpReturnCallIndirect
	hooked := w.e.hooks.Has(hook.Call)
	site := location.Site{Instr: i, Op: wasm.OpName(in.Opcode), Table: &table, Type: ft.String()}

	if hooked {
		w.e.useTable(table)
		slot := w.scratch.get(wasm.ValI32)
		w.out.LocalSet(slot)
		args := w.save(ft.Params)
		w.hookCall(hook.NewSignature(hook.VariantCallIndirectPre, ft.Params...), site, func() {
			w.out.LocalGet(slot)
			w.pushObservable(args, ft.Params)
		})
		w.restore(args)
		w.out.LocalGet(slot)
	}
	if tail && w.e.hooks.Has(hook.Begin) {
		w.out.AdjustGlobal(w.depthGlobal(), -1)
	}
	w.out.EmitInstr(*in)
	if hooked && !tail && len(ft.Results) > 0 {
		w.callPost(ft, site)
	}
	return nil
}

func (w *writer) callPost(ft *wasm.FuncType, site location.Site) {
	results := w.save(ft.Results)
	w.hookCall(hook.NewSignature(hook.VariantCallPost, ft.Results...), site, func() {
		w.pushObservable(results, ft.Results)
	})
	w.restore(results)
}

func (w *writer) global(i int, in *wasm.Instruction) error {
	g := in.Imm.(wasm.GlobalImm).GlobalIdx
	if g >= uint32(len(w.e.globals)) {
		return errors.Malformed(w.fn, i, "global %d out of range", g)
	}
	if !w.e.hooks.Has(hook.Global) {
		w.out.EmitInstr(*in)
		return nil
	}
	vt := w.e.globals[g].ValType
	site := location.Site{Instr: i, Op: wasm.OpName(in.Opcode), Global: &g, Type: vt.String()}
	pushIdx := func() { w.out.I32Const(int32(g)) }

	variant := hook.VariantGlobalGet
	if in.Opcode == wasm.OpGlobalSet {
		variant = hook.VariantGlobalSet
	}
	sig := hook.NewSignature(variant, vt)

	if vt == wasm.ValV128 {
		w.out.EmitInstr(*in)
		w.hookCall(sig, site, pushIdx)
		return nil
	}

	tmp := w.scratch.get(vt)
	push := func() {
		pushIdx()
		w.out.LocalGet(tmp)
	}
	if in.Opcode == wasm.OpGlobalGet {
		w.out.EmitInstr(*in)
		w.out.LocalSet(tmp)
		w.hookCall(sig, site, push)
		w.out.LocalGet(tmp)
		return nil
	}
	w.out.LocalTee(tmp)
	w.out.EmitInstr(*in)
	w.hookCall(sig, site, push)
	return nil
}

func (w *writer) addrType(mem uint32) wasm.ValType {
	if w.e.memories[mem].Limits.Memory64 {
		return wasm.ValI64
	}
	return wasm.ValI32
}

func (w *writer) memSite(i int, in *wasm.Instruction, vt wasm.ValType) (location.Site, uint32, error) {
	imm := in.Imm.(wasm.MemoryImm)
	if imm.MemIdx >= uint32(len(w.e.memories)) {
		return location.Site{}, 0, errors.Malformed(w.fn, i, "memory %d out of range", imm.MemIdx)
	}
	offset, align, mem := imm.Offset, imm.Align, imm.MemIdx
	return location.Site{
		Instr:  i,
		Op:     wasm.OpName(in.Opcode),
		Offset: &offset,
		Align:  &align,
		Memory: &mem,
		Type:   vt.String(),
	}, mem, nil
}

func (w *writer) load(i int, in *wasm.Instruction) error {
	vt, _ := wasm.LoadType(in.Opcode)
	site, mem, err := w.memSite(i, in, vt)
	if err != nil {
		return err
	}
	if !w.e.hooks.Has(hook.Load) {
		w.out.EmitInstr(*in)
		return nil
	}
	at := w.addrType(mem)
	addr, val := w.scratch.get(at), w.scratch.get(vt)
	w.out.LocalSet(addr).LocalGet(addr)
	w.out.EmitInstr(*in)
	w.out.LocalSet(val)
	w.hookCall(hook.NewSignature(hook.VariantLoad, at, vt), site, func() {
		w.out.LocalGet(addr).LocalGet(val)
	})
	w.out.LocalGet(val)
	return nil
}

func (w *writer) store(i int, in *wasm.Instruction) error {
	vt, _ := wasm.StoreType(in.Opcode)
	site, mem, err := w.memSite(i, in, vt)
	if err != nil {
		return err
	}
	if !w.e.hooks.Has(hook.Store) {
		w.out.EmitInstr(*in)
		return nil
	}
	at := w.addrType(mem)
	addr, val := w.scratch.get(at), w.scratch.get(vt)
	w.out.LocalSet(val).LocalSet(addr).LocalGet(addr).LocalGet(val)
	w.out.EmitInstr(*in)
	w.hookCall(hook.NewSignature(hook.VariantStore, at, vt), site, func() {
		w.out.LocalGet(addr).LocalGet(val)
	})
	return nil
}

func (w *writer) memory(i int, in *wasm.Instruction) error {
	mem := in.Imm.(wasm.MemoryIdxImm).MemIdx
	if mem >= uint32(len(w.e.memories)) {
		return errors.Malformed(w.fn, i, "memory %d out of range", mem)
	}
	if in.Opcode != wasm.OpMemoryGrow || !w.e.hooks.Has(hook.MemoryGrow) {
		w.out.EmitInstr(*in)
		return nil
	}
	at := w.addrType(mem)
	delta, prev := w.scratch.get(at), w.scratch.get(at)
	site := location.Site{Instr: i, Op: wasm.OpName(in.Opcode), Memory: &mem, Type: at.String()}
	w.out.LocalSet(delta).LocalGet(delta)
	w.out.EmitInstr(*in)
	w.out.LocalSet(prev)
	w.hookCall(hook.NewSignature(hook.VariantMemoryGrow, at, at), site, func() {
		w.out.LocalGet(delta).LocalGet(prev)
	})
	w.out.LocalGet(prev)
	return nil
}

func (w *writer) table(i int, in *wasm.Instruction) error {
	table := in.Imm.(wasm.TableImm).TableIdx
	if table >= uint32(len(w.e.tables)) {
		return errors.Malformed(w.fn, i, "table %d out of range", table)
	}
	get := in.Opcode == wasm.OpTableGet
	if (get && !w.e.hooks.Has(hook.TableGet)) || (!get && !w.e.hooks.Has(hook.TableSet)) {
		w.out.EmitInstr(*in)
		return nil
	}
	et := w.e.tables[table].ElemType
	site := location.Site{Instr: i, Op: wasm.OpName(in.Opcode), Table: &table, Type: et.String()}
	idx, val := w.scratch.get(wasm.ValI32), w.scratch.get(et)
	push := func() { w.out.LocalGet(idx).LocalGet(val) }

	if get {
		w.out.LocalSet(idx).LocalGet(idx)
		w.out.EmitInstr(*in)
		w.out.LocalSet(val)
		w.hookCall(hook.NewSignature(hook.VariantTableGet, et), site, push)
		w.out.LocalGet(val)
		return nil
	}
	w.out.LocalSet(val).LocalSet(idx).LocalGet(idx).LocalGet(val)
	w.out.EmitInstr(*in)
	w.hookCall(hook.NewSignature(hook.VariantTableSet, et), site, push)
	return nil
}
