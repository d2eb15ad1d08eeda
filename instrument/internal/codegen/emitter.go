package codegen

import (
	"sync"

	"github.com/wippyai/wasabi/wasm"
)

// Block types accepted by Block, Loop and If.
const (
	BlockVoid = wasm.BlockTypeVoid
	BlockI32  = wasm.BlockTypeI32
	BlockI64  = wasm.BlockTypeI64
	BlockF32  = wasm.BlockTypeF32
	BlockF64  = wasm.BlockTypeF64
)

// Emitter appends encoded instructions to a byte buffer. Every method
// returns the emitter so sequences read top to bottom.
type Emitter struct {
	buf []byte
}

// NewEmitter creates an empty emitter.
func NewEmitter() *Emitter {
	return &Emitter{}
}

// NewEmitterWithCapacity creates an emitter with a preallocated buffer.
func NewEmitterWithCapacity(n int) *Emitter {
	return &Emitter{buf: make([]byte, 0, n)}
}

var emitterPool = sync.Pool{
	New: func() any { return NewEmitterWithCapacity(256) },
}

// GetEmitter takes a reset emitter from the pool.
func GetEmitter() *Emitter {
	e := emitterPool.Get().(*Emitter)
	e.Reset()
	return e
}

// GetEmitterWithCapacity takes a pooled emitter holding at least n bytes of
// capacity.
func GetEmitterWithCapacity(n int) *Emitter {
	e := GetEmitter()
	if cap(e.buf) < n {
		e.buf = make([]byte, 0, n)
	}
	return e
}

// PutEmitter returns e to the pool. Bytes previously obtained from e must
// not be used afterwards.
func PutEmitter(e *Emitter) {
	if e == nil {
		return
	}
	e.Reset()
	emitterPool.Put(e)
}

// Len returns the number of bytes emitted.
func (e *Emitter) Len() int { return len(e.buf) }

// Bytes returns the emitted bytes without copying.
func (e *Emitter) Bytes() []byte { return e.buf }

// Copy returns a copy of the emitted bytes.
func (e *Emitter) Copy() []byte {
	out := make([]byte, len(e.buf))
	copy(out, e.buf)
	return out
}

// Reset discards everything emitted so far.
func (e *Emitter) Reset() *Emitter {
	e.buf = e.buf[:0]
	return e
}

// Raw appends pre-encoded bytes.
func (e *Emitter) Raw(b []byte) *Emitter {
	e.buf = append(e.buf, b...)
	return e
}

// EmitInstr appends one decoded instruction.
func (e *Emitter) EmitInstr(instr wasm.Instruction) *Emitter {
	e.buf = wasm.AppendInstruction(e.buf, &instr)
	return e
}

// EmitInstrs appends a sequence of decoded instructions.
func (e *Emitter) EmitInstrs(instrs []wasm.Instruction) *Emitter {
	for i := range instrs {
		e.buf = wasm.AppendInstruction(e.buf, &instrs[i])
	}
	return e
}

// EmitRawOpcode appends an immediate-free opcode.
func (e *Emitter) EmitRawOpcode(op byte) *Emitter {
	e.buf = append(e.buf, op)
	return e
}

func (e *Emitter) op(op byte) *Emitter {
	e.buf = append(e.buf, op)
	return e
}

func (e *Emitter) opU32(op byte, v uint32) *Emitter {
	e.buf = wasm.AppendU32(append(e.buf, op), v)
	return e
}

// Control flow

func (e *Emitter) Block(bt int64) *Emitter {
	e.buf = wasm.AppendS64(append(e.buf, wasm.OpBlock), bt)
	return e
}

func (e *Emitter) Loop(bt int64) *Emitter {
	e.buf = wasm.AppendS64(append(e.buf, wasm.OpLoop), bt)
	return e
}

func (e *Emitter) If(bt int64) *Emitter {
	e.buf = wasm.AppendS64(append(e.buf, wasm.OpIf), bt)
	return e
}

func (e *Emitter) Else() *Emitter        { return e.op(wasm.OpElse) }
func (e *Emitter) End() *Emitter         { return e.op(wasm.OpEnd) }
func (e *Emitter) Nop() *Emitter         { return e.op(wasm.OpNop) }
func (e *Emitter) Unreachable() *Emitter { return e.op(wasm.OpUnreachable) }
func (e *Emitter) Return() *Emitter      { return e.op(wasm.OpReturn) }
func (e *Emitter) Drop() *Emitter        { return e.op(wasm.OpDrop) }

func (e *Emitter) Br(label uint32) *Emitter   { return e.opU32(wasm.OpBr, label) }
func (e *Emitter) BrIf(label uint32) *Emitter { return e.opU32(wasm.OpBrIf, label) }

// BrTable emits br_table with the given targets and default.
func (e *Emitter) BrTable(labels []uint32, def uint32) *Emitter {
	e.buf = wasm.AppendU32(append(e.buf, wasm.OpBrTable), uint32(len(labels)))
	for _, l := range labels {
		e.buf = wasm.AppendU32(e.buf, l)
	}
	e.buf = wasm.AppendU32(e.buf, def)
	return e
}

// Calls

func (e *Emitter) Call(funcIdx uint32) *Emitter { return e.opU32(wasm.OpCall, funcIdx) }

// CallIndirect emits call_indirect through table with signature typeIdx.
func (e *Emitter) CallIndirect(typeIdx, table uint32) *Emitter {
	e.buf = wasm.AppendU32(wasm.AppendU32(append(e.buf, wasm.OpCallIndirect), typeIdx), table)
	return e
}

// Variables

func (e *Emitter) LocalGet(idx uint32) *Emitter  { return e.opU32(wasm.OpLocalGet, idx) }
func (e *Emitter) LocalSet(idx uint32) *Emitter  { return e.opU32(wasm.OpLocalSet, idx) }
func (e *Emitter) LocalTee(idx uint32) *Emitter  { return e.opU32(wasm.OpLocalTee, idx) }
func (e *Emitter) GlobalGet(idx uint32) *Emitter { return e.opU32(wasm.OpGlobalGet, idx) }
func (e *Emitter) GlobalSet(idx uint32) *Emitter { return e.opU32(wasm.OpGlobalSet, idx) }

// Constants

func (e *Emitter) I32Const(v int32) *Emitter {
	e.buf = wasm.AppendS32(append(e.buf, wasm.OpI32Const), v)
	return e
}

func (e *Emitter) I64Const(v int64) *Emitter {
	e.buf = wasm.AppendS64(append(e.buf, wasm.OpI64Const), v)
	return e
}

// I32 arithmetic and comparison used by generated sequences

func (e *Emitter) I32Add() *Emitter { return e.op(wasm.OpI32Add) }
func (e *Emitter) I32Sub() *Emitter { return e.op(wasm.OpI32Sub) }
func (e *Emitter) I32Or() *Emitter  { return e.op(wasm.OpI32Or) }
func (e *Emitter) I32Eqz() *Emitter { return e.op(wasm.OpI32Eqz) }
func (e *Emitter) I32Eq() *Emitter  { return e.op(wasm.OpI32Eq) }
func (e *Emitter) I32Ne() *Emitter  { return e.op(wasm.OpI32Ne) }
func (e *Emitter) I32GeU() *Emitter { return e.op(wasm.OpI32GeU) }

// Memory

func (e *Emitter) MemorySize(mem uint32) *Emitter { return e.opU32(wasm.OpMemorySize, mem) }
func (e *Emitter) MemoryGrow(mem uint32) *Emitter { return e.opU32(wasm.OpMemoryGrow, mem) }

// Composite sequences

// AdjustGlobal emits global += delta for an i32 global.
func (e *Emitter) AdjustGlobal(global uint32, delta int32) *Emitter {
	return e.GlobalGet(global).I32Const(delta).I32Add().GlobalSet(global)
}

// LocalGets pushes each local in order.
func (e *Emitter) LocalGets(idxs []uint32) *Emitter {
	for _, idx := range idxs {
		e.LocalGet(idx)
	}
	return e
}

// LocalSetsReverse pops values into locals, last local first, matching the
// stack order produced by LocalGets.
func (e *Emitter) LocalSetsReverse(idxs []uint32) *Emitter {
	for i := len(idxs) - 1; i >= 0; i-- {
		e.LocalSet(idxs[i])
	}
	return e
}
