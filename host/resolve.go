package host

import (
	"github.com/wippyai/wasabi/wasm"
)

// slotTable maps table slots to original function indices, as filled by
// active element segments with constant offsets. Slots changed later by
// table.set or table.init are not tracked.
type slotTable map[uint32]map[uint32]uint32

func newSlotTable(m *wasm.Module, original func(uint32) uint32) slotTable {
	st := make(slotTable)
	for i := range m.Elements {
		seg := &m.Elements[i]
		if !seg.Active() {
			continue
		}
		base, ok := constOffset(seg.Offset)
		if !ok {
			continue
		}
		slots := st[seg.TableIdx]
		if slots == nil {
			slots = make(map[uint32]uint32)
			st[seg.TableIdx] = slots
		}
		if seg.UsesExprs() {
			for j, expr := range seg.Exprs {
				if fn, ok := refFunc(expr); ok {
					slots[base+uint32(j)] = original(fn)
				}
			}
			continue
		}
		for j, fn := range seg.FuncIdxs {
			slots[base+uint32(j)] = original(fn)
		}
	}
	return st
}

func (st slotTable) resolve(table, slot uint32) (uint32, bool) {
	fn, ok := st[table][slot]
	return fn, ok
}

func constOffset(expr []byte) (uint32, bool) {
	instrs, err := wasm.DecodeInstructions(expr)
	if err != nil || len(instrs) == 0 {
		return 0, false
	}
	imm, ok := instrs[0].Imm.(wasm.I32Imm)
	if instrs[0].Opcode != wasm.OpI32Const || !ok {
		return 0, false
	}
	return uint32(imm.Value), true
}

func refFunc(expr []byte) (uint32, bool) {
	instrs, err := wasm.DecodeInstructions(expr)
	if err != nil || len(instrs) == 0 || instrs[0].Opcode != wasm.OpRefFunc {
		return 0, false
	}
	imm, ok := instrs[0].Imm.(wasm.RefFuncImm)
	return imm.FuncIdx, ok
}
