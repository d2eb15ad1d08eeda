package hook

import (
	"reflect"
	"testing"

	"github.com/wippyai/wasabi/wasm"
)

func TestParse(t *testing.T) {
	tests := []struct {
		in   string
		want Hook
	}{
		{"begin", Begin},
		{"End", End},
		{"memory_grow", MemoryGrow},
		{"MemoryGrow", MemoryGrow},
		{"memorygrow", MemoryGrow},
		{" table_set ", TableSet},
		{"TableGet", TableGet},
	}
	for _, tt := range tests {
		got, ok := Parse(tt.in)
		if !ok || got != tt.want {
			t.Errorf("Parse(%q) = %v, %v; want %v", tt.in, got, ok, tt.want)
		}
	}
	if _, ok := Parse("select"); ok {
		t.Error("select is not a hook")
	}
}

func TestParseSet(t *testing.T) {
	tests := []struct {
		in   string
		want Set
	}{
		{"", 0},
		{"empty", 0},
		{"all", AllHooks()},
		{"ALL", AllHooks()},
		{"begin,end", NewSet(Begin, End)},
		{"Load, Store, load", NewSet(Load, Store)},
		{"memory_grow", NewSet(MemoryGrow)},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseSet(tt.in)
			if err != nil {
				t.Fatalf("ParseSet: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParseSetUnknown(t *testing.T) {
	if _, err := ParseSet("begin,bogus"); err == nil {
		t.Fatal("expected error for unknown hook")
	}
}

func TestSetString(t *testing.T) {
	if got := NewSet().String(); got != "empty" {
		t.Errorf("empty: %q", got)
	}
	if got := AllHooks().String(); got != "all" {
		t.Errorf("all: %q", got)
	}
	if got := NewSet(TableSet, Begin).String(); got != "begin,table_set" {
		t.Errorf("list: %q", got)
	}
	if NewSet(Call, Call).Len() != 1 {
		t.Error("duplicate hooks should collapse")
	}
}

func TestMarshalText(t *testing.T) {
	text, err := MemoryGrow.MarshalText()
	if err != nil || string(text) != "memory_grow" {
		t.Fatalf("MarshalText: %q, %v", text, err)
	}
	var h Hook
	if err := h.UnmarshalText([]byte("TableGet")); err != nil || h != TableGet {
		t.Fatalf("UnmarshalText: %v, %v", h, err)
	}
}

func TestSignature(t *testing.T) {
	tests := []struct {
		sig    Signature
		name   string
		params []wasm.ValType
	}{
		{
			sig:    NewSignature(VariantLoad, wasm.ValI32, wasm.ValF64),
			name:   "load_i32_f64",
			params: []wasm.ValType{wasm.ValI32, wasm.ValI32, wasm.ValF64},
		},
		{
			sig:    NewSignature(VariantEndFunction),
			name:   "end_function",
			params: []wasm.ValType{wasm.ValI32},
		},
		{
			sig:    NewSignature(VariantCallPre, wasm.ValI64, wasm.ValV128, wasm.ValExtern),
			name:   "call_pre_i64_externref",
			params: []wasm.ValType{wasm.ValI32, wasm.ValI32, wasm.ValI64, wasm.ValExtern},
		},
		{
			sig:    NewSignature(VariantGlobalSet, wasm.ValF32),
			name:   "global_set_f32",
			params: []wasm.ValType{wasm.ValI32, wasm.ValI32, wasm.ValF32},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.sig.ImportName(); got != tt.name {
				t.Errorf("ImportName: %q", got)
			}
			if got := tt.sig.Params(); !reflect.DeepEqual(got, tt.params) {
				t.Errorf("Params: %v", got)
			}
			if ft := tt.sig.FuncType(); len(ft.Results) != 0 {
				t.Errorf("hooks return nothing, got %v", ft.Results)
			}
		})
	}
}

func TestVariantHook(t *testing.T) {
	if VariantCallIndirectPre.Hook() != Call || VariantTableSet.Hook() != TableSet {
		t.Error("variant category mismatch")
	}
	if VariantLoad.Fixed() != 0 || VariantGlobalGet.Fixed() != 1 {
		t.Error("fixed parameter count mismatch")
	}
}
