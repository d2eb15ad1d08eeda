package wasm_test

import (
	"errors"
	"testing"

	"github.com/wippyai/wasabi/wasm"
)

func ptrTo[T any](v T) *T { return &v }

func header() []byte {
	return []byte{0x00, 0x61, 0x73, 0x6D, 0x01, 0x00, 0x00, 0x00}
}

func TestParseMinimalModule(t *testing.T) {
	m, err := wasm.ParseModule(header())
	if err != nil {
		t.Fatalf("ParseModule: %v", err)
	}
	if m == nil {
		t.Fatal("expected non-nil module")
	}
}

func TestParseInvalidHeader(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"magic", []byte{0x00, 0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00}, wasm.ErrInvalidMagic},
		{"version", []byte{0x00, 0x61, 0x73, 0x6D, 0x02, 0x00, 0x00, 0x00}, wasm.ErrInvalidVersion},
		{"truncated", []byte{0x00, 0x61, 0x73}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := wasm.ParseModule(tt.data)
			if err == nil {
				t.Fatal("expected error")
			}
			if tt.want != nil && !errors.Is(err, tt.want) {
				t.Errorf("got %v, want %v", err, tt.want)
			}
		})
	}
}

func TestParseRejectsOutOfOrderSections(t *testing.T) {
	data := append(header(),
		wasm.SectionFunction, 0x01, 0x00,
		wasm.SectionType, 0x01, 0x00,
	)
	if _, err := wasm.ParseModule(data); err == nil {
		t.Fatal("expected ordering error")
	}
}

func TestParseRejectsTagSection(t *testing.T) {
	data := append(header(), wasm.SectionTag, 0x01, 0x00)
	_, err := wasm.ParseModule(data)
	if !errors.Is(err, wasm.ErrUnsupported) {
		t.Fatalf("expected ErrUnsupported, got %v", err)
	}
}

func TestParseRejectsGCTypes(t *testing.T) {
	// type section: one struct type (0x5F) with no fields
	data := append(header(), wasm.SectionType, 0x03, 0x01, 0x5F, 0x00)
	_, err := wasm.ParseModule(data)
	if !errors.Is(err, wasm.ErrUnsupported) {
		t.Fatalf("expected ErrUnsupported, got %v", err)
	}
}

func TestParseRejectsSizeMismatch(t *testing.T) {
	// type section declares 5 bytes but its content uses 4
	data := append(header(), wasm.SectionType, 0x05, 0x01, 0x60, 0x00, 0x00, 0x00)
	if _, err := wasm.ParseModule(data); err == nil {
		t.Fatal("expected error")
	}
}

func TestParseRejectsMissingCode(t *testing.T) {
	m := &wasm.Module{Types: []wasm.FuncType{{}}}
	data, err := m.Encode()
	if err != nil {
		t.Fatal(err)
	}
	// append a function section without a code section
	data = append(data, wasm.SectionFunction, 0x02, 0x01, 0x00)
	if _, err := wasm.ParseModule(data); err == nil {
		t.Fatal("expected count mismatch error")
	}
}

func TestParseErrorCarriesOffset(t *testing.T) {
	data := append(header(), wasm.SectionType, 0x05, 0x01, 0x60, 0x01, 0x42, 0x00)
	_, err := wasm.ParseModule(data)
	if err == nil {
		t.Fatal("expected error for invalid value type")
	}
	var pe interface{ Unwrap() error }
	if !errors.As(err, &pe) {
		t.Fatalf("expected wrapped error, got %T", err)
	}
}

func TestFuncIndexSpace(t *testing.T) {
	m := &wasm.Module{
		Types: []wasm.FuncType{
			{Params: []wasm.ValType{wasm.ValI32}},
			{Results: []wasm.ValType{wasm.ValF64}},
		},
		Imports: []wasm.Import{
			{Module: "env", Name: "g", Desc: wasm.ImportDesc{Kind: wasm.KindGlobal, Global: &wasm.GlobalType{ValType: wasm.ValI64}}},
			{Module: "env", Name: "f", Desc: wasm.ImportDesc{Kind: wasm.KindFunc, TypeIdx: 1}},
		},
		Funcs:   []uint32{0},
		Code:    []wasm.FuncBody{{Code: []byte{wasm.OpEnd}}},
		Globals: []wasm.Global{{Type: wasm.GlobalType{ValType: wasm.ValF32, Mutable: true}, Init: []byte{wasm.OpF32Const, 0, 0, 0, 0, wasm.OpEnd}}},
	}

	if got := m.FuncTypeIndices(); len(got) != 2 || got[0] != 1 || got[1] != 0 {
		t.Errorf("FuncTypeIndices: got %v", got)
	}
	ft, ok := m.FuncType(1)
	if !ok || len(ft.Params) != 1 {
		t.Errorf("FuncType(1): got %v", ft)
	}
	if _, ok := m.FuncType(2); ok {
		t.Error("FuncType(2) should be out of range")
	}
	gts := m.GlobalTypes()
	if len(gts) != 2 || gts[0].ValType != wasm.ValI64 || !gts[1].Mutable {
		t.Errorf("GlobalTypes: got %v", gts)
	}
	if imp := m.FuncImport(0); imp == nil || imp.Name != "f" {
		t.Errorf("FuncImport(0): got %v", imp)
	}
	if m.FuncImport(1) != nil {
		t.Error("FuncImport(1) should be nil")
	}
}

func TestAddTypeDeduplicates(t *testing.T) {
	m := &wasm.Module{}
	a := m.AddType(wasm.FuncType{Params: []wasm.ValType{wasm.ValI32}})
	b := m.AddType(wasm.FuncType{Params: []wasm.ValType{wasm.ValI32}})
	c := m.AddType(wasm.FuncType{Results: []wasm.ValType{wasm.ValI32}})
	if a != b || a == c || len(m.Types) != 2 {
		t.Errorf("got %d %d %d with %d types", a, b, c, len(m.Types))
	}
}

func TestFuncTypeString(t *testing.T) {
	ft := wasm.FuncType{Params: []wasm.ValType{wasm.ValI32, wasm.ValF64}, Results: []wasm.ValType{wasm.ValExtern}}
	if got := ft.String(); got != "[i32 f64] -> [externref]" {
		t.Errorf("got %q", got)
	}
}
