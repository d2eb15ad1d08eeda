package wasm

import (
	"errors"
	"fmt"
	"math"

	"github.com/wippyai/wasabi/wasm/internal/binary"
)

// Instruction is a decoded WebAssembly instruction.
type Instruction struct {
	Imm    any
	Opcode byte
}

// BlockImm holds the block type of block, loop and if.
// Negative values are value types or void, non-negative values type indices.
type BlockImm struct {
	Type int64
}

// BranchImm holds the label of br and br_if.
type BranchImm struct {
	LabelIdx uint32
}

// BrTableImm holds the labels of br_table.
type BrTableImm struct {
	Labels  []uint32
	Default uint32
}

// CallImm holds the callee of call and return_call.
type CallImm struct {
	FuncIdx uint32
}

// CallIndirectImm holds the signature and table of call_indirect and
// return_call_indirect.
type CallIndirectImm struct {
	TypeIdx  uint32
	TableIdx uint32
}

// LocalImm holds the local index of local.get, local.set and local.tee.
type LocalImm struct {
	LocalIdx uint32
}

// GlobalImm holds the global index of global.get and global.set.
type GlobalImm struct {
	GlobalIdx uint32
}

// MemoryImm is a memarg.
type MemoryImm struct {
	Offset uint64
	Align  uint32
	MemIdx uint32
}

// MemoryIdxImm holds the memory of memory.size and memory.grow.
type MemoryIdxImm struct {
	MemIdx uint32
}

// TableImm holds the table of table.get and table.set.
type TableImm struct {
	TableIdx uint32
}

// I32Imm holds an i32.const value.
type I32Imm struct {
	Value int32
}

// I64Imm holds an i64.const value.
type I64Imm struct {
	Value int64
}

// F32Imm holds the raw bits of an f32.const so NaN payloads survive.
type F32Imm struct {
	Bits uint32
}

// Value returns the constant as a float32.
func (i F32Imm) Value() float32 { return math.Float32frombits(i.Bits) }

// F64Imm holds the raw bits of an f64.const.
type F64Imm struct {
	Bits uint64
}

// Value returns the constant as a float64.
func (i F64Imm) Value() float64 { return math.Float64frombits(i.Bits) }

// RefNullImm holds the reference type of ref.null.
type RefNullImm struct {
	Type ValType
}

// RefFuncImm holds the function of ref.func.
type RefFuncImm struct {
	FuncIdx uint32
}

// SelectTypeImm holds the operand types of a typed select.
type SelectTypeImm struct {
	Types []ValType
}

// MiscImm holds a 0xFC sub-opcode and its index operands.
type MiscImm struct {
	Operands  []uint32
	SubOpcode uint32
}

// SIMDImm holds a 0xFD sub-opcode and its immediates.
type SIMDImm struct {
	MemArg    *MemoryImm
	LaneIdx   *byte
	V128Bytes []byte
	SubOpcode uint32
}

// AtomicImm holds a 0xFE sub-opcode and its memarg.
type AtomicImm struct {
	MemArg    *MemoryImm
	SubOpcode uint32
}

// ErrUnknownOpcode reports an opcode the decoder does not understand.
var ErrUnknownOpcode = errors.New("unknown opcode")

// InstrError locates a failure inside a function body.
type InstrError struct {
	Err    error
	Index  int // ordinal of the failing instruction
	Offset int // byte offset within the body code
}

func (e *InstrError) Error() string {
	return fmt.Sprintf("instruction %d at offset %d: %v", e.Index, e.Offset, e.Err)
}

func (e *InstrError) Unwrap() error {
	return e.Err
}

// DecodeInstructions decodes a full instruction sequence.
func DecodeInstructions(code []byte) ([]Instruction, error) {
	r := binary.NewReader(code)
	instrs := make([]Instruction, 0, len(code)/2)
	for r.Len() > 0 {
		start := r.Offset()
		instr, err := decodeInstruction(r)
		if err != nil {
			return nil, &InstrError{Index: len(instrs), Offset: start, Err: err}
		}
		instrs = append(instrs, instr)
	}
	return instrs, nil
}

func decodeInstruction(r *binary.Reader) (Instruction, error) {
	op, err := r.ReadByte()
	if err != nil {
		return Instruction{}, err
	}
	instr := Instruction{Opcode: op}

	switch {
	case op >= opNumericFirst && op <= opNumericLast:
		return instr, nil
	case op >= OpI32Load && op <= OpI64Store32:
		m, err := readMemArg(r)
		instr.Imm = m
		return instr, err
	}

	switch op {
	case OpUnreachable, OpNop, OpElse, OpEnd, OpReturn, OpDrop, OpSelect, OpRefIsNull:
		// no immediates

	case OpBlock, OpLoop, OpIf:
		bt, err := r.ReadS64()
		if err != nil {
			return instr, err
		}
		instr.Imm = BlockImm{Type: bt}

	case OpBr, OpBrIf:
		idx, err := r.ReadU32()
		if err != nil {
			return instr, err
		}
		instr.Imm = BranchImm{LabelIdx: idx}

	case OpBrTable:
		count, err := r.ReadU32()
		if err != nil {
			return instr, err
		}
		if int(count) > r.Len() {
			return instr, binary.ErrLengthBounds
		}
		labels := make([]uint32, count)
		for i := range labels {
			if labels[i], err = r.ReadU32(); err != nil {
				return instr, err
			}
		}
		def, err := r.ReadU32()
		if err != nil {
			return instr, err
		}
		instr.Imm = BrTableImm{Labels: labels, Default: def}

	case OpCall, OpReturnCall:
		idx, err := r.ReadU32()
		if err != nil {
			return instr, err
		}
		instr.Imm = CallImm{FuncIdx: idx}

	case OpCallIndirect, OpReturnCallIndirect:
		typeIdx, err := r.ReadU32()
		if err != nil {
			return instr, err
		}
		tableIdx, err := r.ReadU32()
		if err != nil {
			return instr, err
		}
		instr.Imm = CallIndirectImm{TypeIdx: typeIdx, TableIdx: tableIdx}

	case OpSelectType:
		count, err := r.ReadU32()
		if err != nil {
			return instr, err
		}
		if int(count) > r.Len() {
			return instr, binary.ErrLengthBounds
		}
		types := make([]ValType, count)
		for i := range types {
			b, err := r.ReadByte()
			if err != nil {
				return instr, err
			}
			if !ValType(b).Valid() {
				return instr, fmt.Errorf("invalid value type 0x%02x", b)
			}
			types[i] = ValType(b)
		}
		instr.Imm = SelectTypeImm{Types: types}

	case OpLocalGet, OpLocalSet, OpLocalTee:
		idx, err := r.ReadU32()
		if err != nil {
			return instr, err
		}
		instr.Imm = LocalImm{LocalIdx: idx}

	case OpGlobalGet, OpGlobalSet:
		idx, err := r.ReadU32()
		if err != nil {
			return instr, err
		}
		instr.Imm = GlobalImm{GlobalIdx: idx}

	case OpTableGet, OpTableSet:
		idx, err := r.ReadU32()
		if err != nil {
			return instr, err
		}
		instr.Imm = TableImm{TableIdx: idx}

	case OpMemorySize, OpMemoryGrow:
		idx, err := r.ReadU32()
		if err != nil {
			return instr, err
		}
		instr.Imm = MemoryIdxImm{MemIdx: idx}

	case OpI32Const:
		v, err := r.ReadS32()
		if err != nil {
			return instr, err
		}
		instr.Imm = I32Imm{Value: v}

	case OpI64Const:
		v, err := r.ReadS64()
		if err != nil {
			return instr, err
		}
		instr.Imm = I64Imm{Value: v}

	case OpF32Const:
		bits, err := r.ReadU32LE()
		if err != nil {
			return instr, err
		}
		instr.Imm = F32Imm{Bits: bits}

	case OpF64Const:
		bits, err := r.ReadU64LE()
		if err != nil {
			return instr, err
		}
		instr.Imm = F64Imm{Bits: bits}

	case OpRefNull:
		b, err := r.ReadByte()
		if err != nil {
			return instr, err
		}
		if !ValType(b).IsRef() {
			return instr, fmt.Errorf("invalid heap type 0x%02x", b)
		}
		instr.Imm = RefNullImm{Type: ValType(b)}

	case OpRefFunc:
		idx, err := r.ReadU32()
		if err != nil {
			return instr, err
		}
		instr.Imm = RefFuncImm{FuncIdx: idx}

	case OpPrefixMisc:
		imm, err := decodeMiscImmediate(r)
		if err != nil {
			return instr, err
		}
		instr.Imm = imm

	case OpPrefixSIMD:
		imm, err := decodeSIMDImmediate(r)
		if err != nil {
			return instr, err
		}
		instr.Imm = imm

	case OpPrefixAtomic:
		imm, err := decodeAtomicImmediate(r)
		if err != nil {
			return instr, err
		}
		instr.Imm = imm

	default:
		return instr, fmt.Errorf("%w 0x%02x", ErrUnknownOpcode, op)
	}
	return instr, nil
}

// miscOperandCount returns the number of index operands of a 0xFC sub-opcode.
func miscOperandCount(sub uint32) (int, bool) {
	switch {
	case sub <= MiscI64TruncSatF64U:
		return 0, true
	case sub == MiscMemoryInit, sub == MiscMemoryCopy, sub == MiscTableInit, sub == MiscTableCopy:
		return 2, true
	case sub <= MiscTableFill:
		return 1, true
	}
	return 0, false
}

func decodeMiscImmediate(r *binary.Reader) (MiscImm, error) {
	sub, err := r.ReadU32()
	if err != nil {
		return MiscImm{}, err
	}
	n, ok := miscOperandCount(sub)
	if !ok {
		return MiscImm{}, fmt.Errorf("%w 0xfc %d", ErrUnknownOpcode, sub)
	}
	imm := MiscImm{SubOpcode: sub}
	for i := 0; i < n; i++ {
		v, err := r.ReadU32()
		if err != nil {
			return MiscImm{}, err
		}
		imm.Operands = append(imm.Operands, v)
	}
	return imm, nil
}

func decodeSIMDImmediate(r *binary.Reader) (SIMDImm, error) {
	sub, err := r.ReadU32()
	if err != nil {
		return SIMDImm{}, err
	}
	imm := SIMDImm{SubOpcode: sub}

	switch {
	case sub <= SimdV128Store, sub == SimdV128Load32Zero, sub == SimdV128Load64Zero:
		m, err := readMemArg(r)
		if err != nil {
			return SIMDImm{}, err
		}
		imm.MemArg = &m

	case sub == SimdV128Const, sub == SimdI8x16Shuffle:
		raw, err := r.ReadBytes(16)
		if err != nil {
			return SIMDImm{}, err
		}
		imm.V128Bytes = append([]byte(nil), raw...)

	case sub >= SimdI8x16ExtractLaneS && sub <= SimdF64x2ReplaceLane:
		b, err := r.ReadByte()
		if err != nil {
			return SIMDImm{}, err
		}
		imm.LaneIdx = &b

	case sub >= SimdV128Load8Lane && sub <= SimdV128Store64Lane:
		m, err := readMemArg(r)
		if err != nil {
			return SIMDImm{}, err
		}
		b, err := r.ReadByte()
		if err != nil {
			return SIMDImm{}, err
		}
		imm.MemArg = &m
		imm.LaneIdx = &b
	}
	return imm, nil
}

func decodeAtomicImmediate(r *binary.Reader) (AtomicImm, error) {
	sub, err := r.ReadU32()
	if err != nil {
		return AtomicImm{}, err
	}
	imm := AtomicImm{SubOpcode: sub}
	if sub == AtomicFence {
		if _, err := r.ReadByte(); err != nil {
			return AtomicImm{}, err
		}
		return imm, nil
	}
	m, err := readMemArg(r)
	if err != nil {
		return AtomicImm{}, err
	}
	imm.MemArg = &m
	return imm, nil
}

// memArgMultiMemBit marks a memarg that carries an explicit memory index.
const memArgMultiMemBit = 0x40

func readMemArg(r *binary.Reader) (MemoryImm, error) {
	align, err := r.ReadU32()
	if err != nil {
		return MemoryImm{}, err
	}
	var memIdx uint32
	if align&memArgMultiMemBit != 0 {
		if memIdx, err = r.ReadU32(); err != nil {
			return MemoryImm{}, err
		}
	}
	offset, err := r.ReadU64()
	if err != nil {
		return MemoryImm{}, err
	}
	return MemoryImm{Align: align &^ memArgMultiMemBit, Offset: offset, MemIdx: memIdx}, nil
}

func appendMemArg(dst []byte, m MemoryImm) []byte {
	align := m.Align
	if m.MemIdx != 0 {
		align |= memArgMultiMemBit
	}
	dst = binary.AppendU64(dst, uint64(align))
	if m.MemIdx != 0 {
		dst = binary.AppendU64(dst, uint64(m.MemIdx))
	}
	return binary.AppendU64(dst, m.Offset)
}

func appendU32(dst []byte, v uint32) []byte {
	return binary.AppendU64(dst, uint64(v))
}

// AppendInstruction appends the binary encoding of instr to dst.
// It panics when Imm does not match the opcode.
func AppendInstruction(dst []byte, instr *Instruction) []byte {
	dst = append(dst, instr.Opcode)
	op := instr.Opcode

	if op >= OpI32Load && op <= OpI64Store32 {
		return appendMemArg(dst, instr.Imm.(MemoryImm))
	}

	switch op {
	case OpBlock, OpLoop, OpIf:
		dst = binary.AppendS64(dst, instr.Imm.(BlockImm).Type)

	case OpBr, OpBrIf:
		dst = appendU32(dst, instr.Imm.(BranchImm).LabelIdx)

	case OpBrTable:
		imm := instr.Imm.(BrTableImm)
		dst = appendU32(dst, uint32(len(imm.Labels)))
		for _, l := range imm.Labels {
			dst = appendU32(dst, l)
		}
		dst = appendU32(dst, imm.Default)

	case OpCall, OpReturnCall:
		dst = appendU32(dst, instr.Imm.(CallImm).FuncIdx)

	case OpCallIndirect, OpReturnCallIndirect:
		imm := instr.Imm.(CallIndirectImm)
		dst = appendU32(dst, imm.TypeIdx)
		dst = appendU32(dst, imm.TableIdx)

	case OpSelectType:
		imm := instr.Imm.(SelectTypeImm)
		dst = appendU32(dst, uint32(len(imm.Types)))
		for _, t := range imm.Types {
			dst = append(dst, byte(t))
		}

	case OpLocalGet, OpLocalSet, OpLocalTee:
		dst = appendU32(dst, instr.Imm.(LocalImm).LocalIdx)

	case OpGlobalGet, OpGlobalSet:
		dst = appendU32(dst, instr.Imm.(GlobalImm).GlobalIdx)

	case OpTableGet, OpTableSet:
		dst = appendU32(dst, instr.Imm.(TableImm).TableIdx)

	case OpMemorySize, OpMemoryGrow:
		dst = appendU32(dst, instr.Imm.(MemoryIdxImm).MemIdx)

	case OpI32Const:
		dst = binary.AppendS64(dst, int64(instr.Imm.(I32Imm).Value))

	case OpI64Const:
		dst = binary.AppendS64(dst, instr.Imm.(I64Imm).Value)

	case OpF32Const:
		bits := instr.Imm.(F32Imm).Bits
		dst = append(dst, byte(bits), byte(bits>>8), byte(bits>>16), byte(bits>>24))

	case OpF64Const:
		bits := instr.Imm.(F64Imm).Bits
		for i := 0; i < 8; i++ {
			dst = append(dst, byte(bits>>(8*i)))
		}

	case OpRefNull:
		dst = append(dst, byte(instr.Imm.(RefNullImm).Type))

	case OpRefFunc:
		dst = appendU32(dst, instr.Imm.(RefFuncImm).FuncIdx)

	case OpPrefixMisc:
		imm := instr.Imm.(MiscImm)
		dst = appendU32(dst, imm.SubOpcode)
		for _, v := range imm.Operands {
			dst = appendU32(dst, v)
		}

	case OpPrefixSIMD:
		imm := instr.Imm.(SIMDImm)
		dst = appendU32(dst, imm.SubOpcode)
		if imm.MemArg != nil {
			dst = appendMemArg(dst, *imm.MemArg)
		}
		dst = append(dst, imm.V128Bytes...)
		if imm.LaneIdx != nil {
			dst = append(dst, *imm.LaneIdx)
		}

	case OpPrefixAtomic:
		imm := instr.Imm.(AtomicImm)
		dst = appendU32(dst, imm.SubOpcode)
		if imm.SubOpcode == AtomicFence {
			dst = append(dst, 0)
		} else if imm.MemArg != nil {
			dst = appendMemArg(dst, *imm.MemArg)
		}
	}
	return dst
}

// EncodeInstructions encodes an instruction sequence.
func EncodeInstructions(instrs []Instruction) []byte {
	dst := make([]byte, 0, len(instrs)*3)
	for i := range instrs {
		dst = AppendInstruction(dst, &instrs[i])
	}
	return dst
}

var opNames = map[byte]string{
	OpUnreachable: "unreachable", OpNop: "nop", OpBlock: "block", OpLoop: "loop",
	OpIf: "if", OpElse: "else", OpEnd: "end", OpBr: "br", OpBrIf: "br_if",
	OpBrTable: "br_table", OpReturn: "return", OpCall: "call",
	OpCallIndirect: "call_indirect", OpReturnCall: "return_call",
	OpReturnCallIndirect: "return_call_indirect",
	OpDrop: "drop", OpSelect: "select", OpSelectType: "select",
	OpLocalGet: "local.get", OpLocalSet: "local.set", OpLocalTee: "local.tee",
	OpGlobalGet: "global.get", OpGlobalSet: "global.set",
	OpTableGet: "table.get", OpTableSet: "table.set",
	OpI32Load: "i32.load", OpI64Load: "i64.load", OpF32Load: "f32.load", OpF64Load: "f64.load",
	OpI32Load8S: "i32.load8_s", OpI32Load8U: "i32.load8_u",
	OpI32Load16S: "i32.load16_s", OpI32Load16U: "i32.load16_u",
	OpI64Load8S: "i64.load8_s", OpI64Load8U: "i64.load8_u",
	OpI64Load16S: "i64.load16_s", OpI64Load16U: "i64.load16_u",
	OpI64Load32S: "i64.load32_s", OpI64Load32U: "i64.load32_u",
	OpI32Store: "i32.store", OpI64Store: "i64.store", OpF32Store: "f32.store", OpF64Store: "f64.store",
	OpI32Store8: "i32.store8", OpI32Store16: "i32.store16",
	OpI64Store8: "i64.store8", OpI64Store16: "i64.store16", OpI64Store32: "i64.store32",
	OpMemorySize: "memory.size", OpMemoryGrow: "memory.grow",
	OpI32Const: "i32.const", OpI64Const: "i64.const", OpF32Const: "f32.const", OpF64Const: "f64.const",
	OpRefNull: "ref.null", OpRefIsNull: "ref.is_null", OpRefFunc: "ref.func",
}

// OpName returns the text-format mnemonic of a single-byte opcode, or a hex
// placeholder for numeric and prefixed opcodes.
func OpName(op byte) string {
	if name, ok := opNames[op]; ok {
		return name
	}
	return fmt.Sprintf("op_0x%02x", op)
}

// LoadType returns the value type produced by an MVP load opcode.
func LoadType(op byte) (ValType, bool) {
	switch op {
	case OpI32Load, OpI32Load8S, OpI32Load8U, OpI32Load16S, OpI32Load16U:
		return ValI32, true
	case OpI64Load, OpI64Load8S, OpI64Load8U, OpI64Load16S, OpI64Load16U, OpI64Load32S, OpI64Load32U:
		return ValI64, true
	case OpF32Load:
		return ValF32, true
	case OpF64Load:
		return ValF64, true
	}
	return 0, false
}

// StoreType returns the value type consumed by an MVP store opcode.
func StoreType(op byte) (ValType, bool) {
	switch op {
	case OpI32Store, OpI32Store8, OpI32Store16:
		return ValI32, true
	case OpI64Store, OpI64Store8, OpI64Store16, OpI64Store32:
		return ValI64, true
	case OpF32Store:
		return ValF32, true
	case OpF64Store:
		return ValF64, true
	}
	return 0, false
}
