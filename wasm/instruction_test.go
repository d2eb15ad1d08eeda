package wasm_test

import (
	"bytes"
	"errors"
	"math"
	"reflect"
	"testing"

	"github.com/wippyai/wasabi/wasm"
)

func roundTrip(t *testing.T, instrs []wasm.Instruction) []wasm.Instruction {
	t.Helper()
	encoded := wasm.EncodeInstructions(instrs)
	decoded, err := wasm.DecodeInstructions(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !bytes.Equal(wasm.EncodeInstructions(decoded), encoded) {
		t.Fatalf("re-encoding differs")
	}
	return decoded
}

func TestInstructionRoundTrip(t *testing.T) {
	lane := byte(3)
	instrs := []wasm.Instruction{
		{Opcode: wasm.OpBlock, Imm: wasm.BlockImm{Type: wasm.BlockTypeVoid}},
		{Opcode: wasm.OpLoop, Imm: wasm.BlockImm{Type: wasm.BlockTypeI32}},
		{Opcode: wasm.OpIf, Imm: wasm.BlockImm{Type: 5}},
		{Opcode: wasm.OpBr, Imm: wasm.BranchImm{LabelIdx: 2}},
		{Opcode: wasm.OpBrIf, Imm: wasm.BranchImm{LabelIdx: 0}},
		{Opcode: wasm.OpBrTable, Imm: wasm.BrTableImm{Labels: []uint32{0, 1, 2}, Default: 3}},
		{Opcode: wasm.OpCall, Imm: wasm.CallImm{FuncIdx: 300}},
		{Opcode: wasm.OpCallIndirect, Imm: wasm.CallIndirectImm{TypeIdx: 1, TableIdx: 2}},
		{Opcode: wasm.OpReturnCall, Imm: wasm.CallImm{FuncIdx: 7}},
		{Opcode: wasm.OpReturnCallIndirect, Imm: wasm.CallIndirectImm{TypeIdx: 0}},
		{Opcode: wasm.OpSelectType, Imm: wasm.SelectTypeImm{Types: []wasm.ValType{wasm.ValF64}}},
		{Opcode: wasm.OpLocalTee, Imm: wasm.LocalImm{LocalIdx: 9}},
		{Opcode: wasm.OpGlobalSet, Imm: wasm.GlobalImm{GlobalIdx: 4}},
		{Opcode: wasm.OpTableGet, Imm: wasm.TableImm{TableIdx: 1}},
		{Opcode: wasm.OpI64Load32U, Imm: wasm.MemoryImm{Align: 2, Offset: 1 << 33, MemIdx: 1}},
		{Opcode: wasm.OpF32Store, Imm: wasm.MemoryImm{Align: 2, Offset: 16}},
		{Opcode: wasm.OpMemoryGrow, Imm: wasm.MemoryIdxImm{}},
		{Opcode: wasm.OpI32Const, Imm: wasm.I32Imm{Value: math.MinInt32}},
		{Opcode: wasm.OpI64Const, Imm: wasm.I64Imm{Value: math.MaxInt64}},
		{Opcode: wasm.OpF32Const, Imm: wasm.F32Imm{Bits: 0x7fc00001}},
		{Opcode: wasm.OpF64Const, Imm: wasm.F64Imm{Bits: math.Float64bits(-2.5)}},
		{Opcode: wasm.OpRefNull, Imm: wasm.RefNullImm{Type: wasm.ValExtern}},
		{Opcode: wasm.OpRefFunc, Imm: wasm.RefFuncImm{FuncIdx: 11}},
		{Opcode: wasm.OpPrefixMisc, Imm: wasm.MiscImm{SubOpcode: wasm.MiscMemoryInit, Operands: []uint32{1, 0}}},
		{Opcode: wasm.OpPrefixMisc, Imm: wasm.MiscImm{SubOpcode: wasm.MiscTableGrow, Operands: []uint32{0}}},
		{Opcode: wasm.OpPrefixMisc, Imm: wasm.MiscImm{SubOpcode: 0}},
		{Opcode: wasm.OpPrefixSIMD, Imm: wasm.SIMDImm{SubOpcode: wasm.SimdV128Const, V128Bytes: make([]byte, 16)}},
		{Opcode: wasm.OpPrefixSIMD, Imm: wasm.SIMDImm{SubOpcode: wasm.SimdI8x16ExtractLaneS, LaneIdx: &lane}},
		{Opcode: wasm.OpPrefixSIMD, Imm: wasm.SIMDImm{SubOpcode: wasm.SimdV128Load8Lane, MemArg: &wasm.MemoryImm{}, LaneIdx: &lane}},
		{Opcode: wasm.OpPrefixAtomic, Imm: wasm.AtomicImm{SubOpcode: wasm.AtomicFence}},
		{Opcode: wasm.OpPrefixAtomic, Imm: wasm.AtomicImm{SubOpcode: 0x10, MemArg: &wasm.MemoryImm{Align: 2}}},
		{Opcode: 0x6A},
		{Opcode: wasm.OpEnd},
	}

	decoded := roundTrip(t, instrs)
	if len(decoded) != len(instrs) {
		t.Fatalf("got %d instructions, want %d", len(decoded), len(instrs))
	}
	for i := range instrs {
		if decoded[i].Opcode != instrs[i].Opcode {
			t.Errorf("%d: opcode 0x%02x, want 0x%02x", i, decoded[i].Opcode, instrs[i].Opcode)
		}
	}
	if !reflect.DeepEqual(decoded[14].Imm, instrs[14].Imm) {
		t.Errorf("memarg: got %+v, want %+v", decoded[14].Imm, instrs[14].Imm)
	}
	if decoded[19].Imm.(wasm.F32Imm).Bits != 0x7fc00001 {
		t.Error("f32 NaN payload lost")
	}
}

func TestDecodeInstructionsReportsPosition(t *testing.T) {
	code := []byte{
		wasm.OpNop,
		wasm.OpI32Const, 0x01,
		0xFF, // not an opcode
	}
	_, err := wasm.DecodeInstructions(code)
	var ie *wasm.InstrError
	if !errors.As(err, &ie) {
		t.Fatalf("expected InstrError, got %v", err)
	}
	if ie.Index != 2 || ie.Offset != 3 {
		t.Errorf("got index %d offset %d, want 2 and 3", ie.Index, ie.Offset)
	}
	if !errors.Is(err, wasm.ErrUnknownOpcode) {
		t.Errorf("expected ErrUnknownOpcode, got %v", err)
	}
}

func TestDecodeInstructionsTruncated(t *testing.T) {
	_, err := wasm.DecodeInstructions([]byte{wasm.OpCall, 0x80})
	if err == nil {
		t.Fatal("expected error for truncated immediate")
	}
}

func TestDecodeUnknownMiscOpcode(t *testing.T) {
	_, err := wasm.DecodeInstructions([]byte{wasm.OpPrefixMisc, 0x40})
	if !errors.Is(err, wasm.ErrUnknownOpcode) {
		t.Errorf("expected ErrUnknownOpcode, got %v", err)
	}
}

func TestAppendInstruction(t *testing.T) {
	got := wasm.AppendInstruction([]byte{0xAA}, &wasm.Instruction{Opcode: wasm.OpCall, Imm: wasm.CallImm{FuncIdx: 128}})
	want := []byte{0xAA, wasm.OpCall, 0x80, 0x01}
	if !bytes.Equal(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestLoadStoreTypes(t *testing.T) {
	if vt, ok := wasm.LoadType(wasm.OpI64Load8S); !ok || vt != wasm.ValI64 {
		t.Errorf("i64.load8_s: got %v", vt)
	}
	if vt, ok := wasm.StoreType(wasm.OpF64Store); !ok || vt != wasm.ValF64 {
		t.Errorf("f64.store: got %v", vt)
	}
	if _, ok := wasm.LoadType(wasm.OpI32Store); ok {
		t.Error("store reported as load")
	}
	if wasm.OpName(wasm.OpI32Load16U) != "i32.load16_u" {
		t.Errorf("OpName: got %q", wasm.OpName(wasm.OpI32Load16U))
	}
}
