// Package wasmtest builds small modules for tests and checks instrumented
// output with wazero.
package wasmtest

import (
	"context"
	"math"
	"testing"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"github.com/wippyai/wasabi/wasm"
)

// Builder assembles a module. Imports must be added before functions so
// returned function indices stay valid.
type Builder struct {
	m *wasm.Module
}

// New starts an empty module.
func New() *Builder {
	return &Builder{m: &wasm.Module{}}
}

// Module returns the module built so far.
func (b *Builder) Module() *wasm.Module {
	return b.m
}

// Type adds (or reuses) a function type.
func (b *Builder) Type(params, results []wasm.ValType) uint32 {
	return b.m.AddType(wasm.FuncType{Params: params, Results: results})
}

// ImportFunc adds a function import and returns its function index.
func (b *Builder) ImportFunc(module, name string, typeIdx uint32) uint32 {
	b.m.Imports = append(b.m.Imports, wasm.Import{
		Module: module,
		Name:   name,
		Desc:   wasm.ImportDesc{Kind: wasm.KindFunc, TypeIdx: typeIdx},
	})
	return uint32(b.m.NumImportedFuncs() - 1)
}

// ImportGlobal adds a global import and returns its global index.
func (b *Builder) ImportGlobal(module, name string, vt wasm.ValType, mutable bool) uint32 {
	b.m.Imports = append(b.m.Imports, wasm.Import{
		Module: module,
		Name:   name,
		Desc:   wasm.ImportDesc{Kind: wasm.KindGlobal, Global: &wasm.GlobalType{ValType: vt, Mutable: mutable}},
	})
	return uint32(b.m.NumImportedGlobals() - 1)
}

// Func adds a function. The final end is appended to body.
func (b *Builder) Func(typeIdx uint32, locals []wasm.LocalEntry, body ...wasm.Instruction) uint32 {
	code := wasm.EncodeInstructions(append(body, wasm.Instruction{Opcode: wasm.OpEnd}))
	b.m.Funcs = append(b.m.Funcs, typeIdx)
	b.m.Code = append(b.m.Code, wasm.FuncBody{Locals: locals, Code: code})
	return uint32(b.m.NumFuncs() - 1)
}

// Memory adds a memory with min pages and returns its index.
func (b *Builder) Memory(min uint64) uint32 {
	b.m.Memories = append(b.m.Memories, wasm.MemoryType{Limits: wasm.Limits{Min: min}})
	return uint32(len(b.m.MemoryTypes()) - 1)
}

// Table adds a funcref table and returns its index.
func (b *Builder) Table(min uint64) uint32 {
	b.m.Tables = append(b.m.Tables, wasm.TableType{ElemType: wasm.ValFuncRef, Limits: wasm.Limits{Min: min}})
	return uint32(len(b.m.TableTypes()) - 1)
}

// Global adds a global initialized by init and returns its index.
func (b *Builder) Global(vt wasm.ValType, mutable bool, init wasm.Instruction) uint32 {
	b.m.Globals = append(b.m.Globals, wasm.Global{
		Type: wasm.GlobalType{ValType: vt, Mutable: mutable},
		Init: wasm.EncodeInstructions([]wasm.Instruction{init, {Opcode: wasm.OpEnd}}),
	})
	return uint32(b.m.NumGlobals() - 1)
}

// Export adds an export.
func (b *Builder) Export(name string, kind byte, idx uint32) *Builder {
	b.m.Exports = append(b.m.Exports, wasm.Export{Name: name, Kind: kind, Idx: idx})
	return b
}

// Elements adds an active segment placing funcs into table 0 at offset.
func (b *Builder) Elements(offset int32, funcs ...uint32) *Builder {
	b.m.Elements = append(b.m.Elements, wasm.Element{
		Offset:   wasm.EncodeInstructions([]wasm.Instruction{I32(offset), {Opcode: wasm.OpEnd}}),
		FuncIdxs: funcs,
		Type:     wasm.ValFuncRef,
	})
	return b
}

// Start sets the start function.
func (b *Builder) Start(idx uint32) *Builder {
	b.m.Start = &idx
	return b
}

// Bytes encodes the module, failing the test on error.
func (b *Builder) Bytes(t testing.TB) []byte {
	t.Helper()
	return Encode(t, b.m)
}

// Encode encodes m, failing the test on error.
func Encode(t testing.TB, m *wasm.Module) []byte {
	t.Helper()
	bin, err := m.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return bin
}

// Validate compiles bin with wazero, failing the test when the module is
// not valid.
func Validate(t testing.TB, bin []byte) {
	t.Helper()
	if err := Compile(bin); err != nil {
		t.Fatalf("module does not validate: %v", err)
	}
}

// Compile reports whether wazero accepts bin.
func Compile(bin []byte) error {
	ctx := context.Background()
	r := wazero.NewRuntimeWithConfig(ctx, wazero.NewRuntimeConfigInterpreter().WithCoreFeatures(api.CoreFeaturesV2))
	defer r.Close(ctx)
	compiled, err := r.CompileModule(ctx, bin)
	if err != nil {
		return err
	}
	return compiled.Close(ctx)
}

// Instruction constructors.

func Op(op byte) wasm.Instruction { return wasm.Instruction{Opcode: op} }

func I32(v int32) wasm.Instruction {
	return wasm.Instruction{Opcode: wasm.OpI32Const, Imm: wasm.I32Imm{Value: v}}
}

func I64(v int64) wasm.Instruction {
	return wasm.Instruction{Opcode: wasm.OpI64Const, Imm: wasm.I64Imm{Value: v}}
}

func F32(v float32) wasm.Instruction {
	return wasm.Instruction{Opcode: wasm.OpF32Const, Imm: wasm.F32Imm{Bits: math.Float32bits(v)}}
}

func F64(v float64) wasm.Instruction {
	return wasm.Instruction{Opcode: wasm.OpF64Const, Imm: wasm.F64Imm{Bits: math.Float64bits(v)}}
}

func LocalGet(idx uint32) wasm.Instruction {
	return wasm.Instruction{Opcode: wasm.OpLocalGet, Imm: wasm.LocalImm{LocalIdx: idx}}
}

func LocalSet(idx uint32) wasm.Instruction {
	return wasm.Instruction{Opcode: wasm.OpLocalSet, Imm: wasm.LocalImm{LocalIdx: idx}}
}

func GlobalGet(idx uint32) wasm.Instruction {
	return wasm.Instruction{Opcode: wasm.OpGlobalGet, Imm: wasm.GlobalImm{GlobalIdx: idx}}
}

func GlobalSet(idx uint32) wasm.Instruction {
	return wasm.Instruction{Opcode: wasm.OpGlobalSet, Imm: wasm.GlobalImm{GlobalIdx: idx}}
}

func Call(idx uint32) wasm.Instruction {
	return wasm.Instruction{Opcode: wasm.OpCall, Imm: wasm.CallImm{FuncIdx: idx}}
}

func CallIndirect(typeIdx, table uint32) wasm.Instruction {
	return wasm.Instruction{Opcode: wasm.OpCallIndirect, Imm: wasm.CallIndirectImm{TypeIdx: typeIdx, TableIdx: table}}
}

func Block(bt int64) wasm.Instruction {
	return wasm.Instruction{Opcode: wasm.OpBlock, Imm: wasm.BlockImm{Type: bt}}
}

func Loop(bt int64) wasm.Instruction {
	return wasm.Instruction{Opcode: wasm.OpLoop, Imm: wasm.BlockImm{Type: bt}}
}

func If(bt int64) wasm.Instruction {
	return wasm.Instruction{Opcode: wasm.OpIf, Imm: wasm.BlockImm{Type: bt}}
}

func Br(label uint32) wasm.Instruction {
	return wasm.Instruction{Opcode: wasm.OpBr, Imm: wasm.BranchImm{LabelIdx: label}}
}

func BrIf(label uint32) wasm.Instruction {
	return wasm.Instruction{Opcode: wasm.OpBrIf, Imm: wasm.BranchImm{LabelIdx: label}}
}

func BrTable(def uint32, labels ...uint32) wasm.Instruction {
	return wasm.Instruction{Opcode: wasm.OpBrTable, Imm: wasm.BrTableImm{Labels: labels, Default: def}}
}

func Load(op byte, offset uint64) wasm.Instruction {
	return wasm.Instruction{Opcode: op, Imm: wasm.MemoryImm{Offset: offset}}
}

func Store(op byte, offset uint64) wasm.Instruction {
	return wasm.Instruction{Opcode: op, Imm: wasm.MemoryImm{Offset: offset}}
}

func MemoryGrow() wasm.Instruction {
	return wasm.Instruction{Opcode: wasm.OpMemoryGrow, Imm: wasm.MemoryIdxImm{}}
}

func TableGet(table uint32) wasm.Instruction {
	return wasm.Instruction{Opcode: wasm.OpTableGet, Imm: wasm.TableImm{TableIdx: table}}
}

func TableSet(table uint32) wasm.Instruction {
	return wasm.Instruction{Opcode: wasm.OpTableSet, Imm: wasm.TableImm{TableIdx: table}}
}

func RefNull(vt wasm.ValType) wasm.Instruction {
	return wasm.Instruction{Opcode: wasm.OpRefNull, Imm: wasm.RefNullImm{Type: vt}}
}

func RefFunc(idx uint32) wasm.Instruction {
	return wasm.Instruction{Opcode: wasm.OpRefFunc, Imm: wasm.RefFuncImm{FuncIdx: idx}}
}

// CountCalls returns how many call instructions in m's bodies target a
// function index in [lo, hi).
func CountCalls(t testing.TB, m *wasm.Module, lo, hi uint32) int {
	t.Helper()
	n := 0
	for i, body := range m.Code {
		instrs, err := wasm.DecodeInstructions(body.Code)
		if err != nil {
			t.Fatalf("decode body %d: %v", i, err)
		}
		for _, instr := range instrs {
			if instr.Opcode != wasm.OpCall {
				continue
			}
			if idx := instr.Imm.(wasm.CallImm).FuncIdx; idx >= lo && idx < hi {
				n++
			}
		}
	}
	return n
}
