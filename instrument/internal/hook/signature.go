package hook

import (
	"strings"

	"github.com/wippyai/wasabi/wasm"
)

// ImportModule is the module name of every hook import.
const ImportModule = "__wasabi_hooks"

// Variant is a concrete low-level hook within a category.
type Variant string

const (
	VariantBeginFunction   Variant = "begin_function"
	VariantEndFunction     Variant = "end_function"
	VariantCallPre         Variant = "call_pre"
	VariantCallIndirectPre Variant = "call_indirect_pre"
	VariantCallPost        Variant = "call_post"
	VariantGlobalGet       Variant = "global_get"
	VariantGlobalSet       Variant = "global_set"
	VariantLoad            Variant = "load"
	VariantStore           Variant = "store"
	VariantMemoryGrow      Variant = "memory_grow"
	VariantTableGet        Variant = "table_get"
	VariantTableSet        Variant = "table_set"
)

var variantHooks = map[Variant]Hook{
	VariantBeginFunction:   Begin,
	VariantEndFunction:     End,
	VariantCallPre:         Call,
	VariantCallIndirectPre: Call,
	VariantCallPost:        Call,
	VariantGlobalGet:       Global,
	VariantGlobalSet:       Global,
	VariantLoad:            Load,
	VariantStore:           Store,
	VariantMemoryGrow:      MemoryGrow,
	VariantTableGet:        TableGet,
	VariantTableSet:        TableSet,
}

// Hook returns the category of v.
func (v Variant) Hook() Hook {
	return variantHooks[v]
}

// Fixed returns the number of i32 parameters between the location and the
// operand values: the function index for begin_function and call_pre, the
// table slot for call_indirect_pre, the global index for global hooks and
// the element index for table hooks.
func (v Variant) Fixed() int {
	switch v {
	case VariantBeginFunction, VariantCallPre, VariantCallIndirectPre,
		VariantGlobalGet, VariantGlobalSet, VariantTableGet, VariantTableSet:
		return 1
	}
	return 0
}

// Signature is one monomorphic hook import: a variant together with the
// types of the operand values it observes. v128 values never appear.
type Signature struct {
	Variant Variant
	Types   []wasm.ValType
}

// NewSignature builds a signature, dropping v128 operand types.
func NewSignature(v Variant, types ...wasm.ValType) Signature {
	return Signature{Variant: v, Types: Observable(types)}
}

// Observable filters out the value types hooks cannot receive.
func Observable(types []wasm.ValType) []wasm.ValType {
	var out []wasm.ValType
	for _, t := range types {
		if t != wasm.ValV128 {
			out = append(out, t)
		}
	}
	return out
}

// ImportName returns the import field name, e.g. "load_i32_f64".
func (s Signature) ImportName() string {
	if len(s.Types) == 0 {
		return string(s.Variant)
	}
	var b strings.Builder
	b.WriteString(string(s.Variant))
	for _, t := range s.Types {
		b.WriteByte('_')
		b.WriteString(t.String())
	}
	return b.String()
}

// Params returns the full parameter list: loc, fixed i32s, operand types.
func (s Signature) Params() []wasm.ValType {
	params := make([]wasm.ValType, 0, 1+s.Variant.Fixed()+len(s.Types))
	params = append(params, wasm.ValI32)
	for i := 0; i < s.Variant.Fixed(); i++ {
		params = append(params, wasm.ValI32)
	}
	return append(params, s.Types...)
}

// FuncType returns the import's function type. Hooks return nothing.
func (s Signature) FuncType() wasm.FuncType {
	return wasm.FuncType{Params: s.Params()}
}

// Hook returns the signature's category.
func (s Signature) Hook() Hook {
	return s.Variant.Hook()
}
