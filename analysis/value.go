package analysis

import (
	"fmt"
	"math"
	"strconv"

	"github.com/wippyai/wasabi/wasm"
)

// Value is a runtime value observed by a hook, in its raw 64-bit stack
// encoding.
type Value struct {
	Bits uint64
	Type wasm.ValType
}

// I32 returns a value of type i32.
func I32(v int32) Value { return Value{Type: wasm.ValI32, Bits: uint64(uint32(v))} }

// I64 returns a value of type i64.
func I64(v int64) Value { return Value{Type: wasm.ValI64, Bits: uint64(v)} }

// F32 returns a value of type f32.
func F32(v float32) Value { return Value{Type: wasm.ValF32, Bits: uint64(math.Float32bits(v))} }

// F64 returns a value of type f64.
func F64(v float64) Value { return Value{Type: wasm.ValF64, Bits: math.Float64bits(v)} }

func (v Value) I32() int32   { return int32(uint32(v.Bits)) }
func (v Value) U32() uint32  { return uint32(v.Bits) }
func (v Value) I64() int64   { return int64(v.Bits) }
func (v Value) F32() float32 { return math.Float32frombits(uint32(v.Bits)) }
func (v Value) F64() float64 { return math.Float64frombits(v.Bits) }

// IsNull reports whether a reference value is null.
func (v Value) IsNull() bool { return v.Type.IsRef() && v.Bits == 0 }

// Interface returns the value as a Go value: int32, int64, float32,
// float64, or uint64 for references (nil when null).
func (v Value) Interface() any {
	switch v.Type {
	case wasm.ValI32:
		return v.I32()
	case wasm.ValI64:
		return v.I64()
	case wasm.ValF32:
		return v.F32()
	case wasm.ValF64:
		return v.F64()
	}
	if v.IsNull() {
		return nil
	}
	return v.Bits
}

func (v Value) String() string {
	switch v.Type {
	case wasm.ValI32:
		return strconv.FormatInt(int64(v.I32()), 10)
	case wasm.ValI64:
		return strconv.FormatInt(v.I64(), 10)
	case wasm.ValF32:
		return strconv.FormatFloat(float64(v.F32()), 'g', -1, 32)
	case wasm.ValF64:
		return strconv.FormatFloat(v.F64(), 'g', -1, 64)
	}
	if v.IsNull() {
		return "null"
	}
	return fmt.Sprintf("%s:%#x", v.Type, v.Bits)
}

// Values decodes raw stack words according to types.
func Values(types []wasm.ValType, raw []uint64) []Value {
	out := make([]Value, len(types))
	for i, t := range types {
		out[i] = Value{Type: t, Bits: raw[i]}
	}
	return out
}

func interfaces(vs []Value) []any {
	out := make([]any, len(vs))
	for i, v := range vs {
		out[i] = v.Interface()
	}
	return out
}
