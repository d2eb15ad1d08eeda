package wasmtest

import (
	"context"
	"testing"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"github.com/wippyai/wasabi/wasm"
)

// HookModule is the import module of instrumentation hooks.
const HookModule = "__wasabi_hooks"

// HookCall is one recorded call into an imported function.
type HookCall struct {
	Module string
	Name   string
	Params []uint64
}

// Run instantiates bin, stubbing every function import, and calls export
// with args. Stubs record their parameters and return zeros. The start
// function, if any, runs during instantiation and its calls are recorded
// too.
func Run(t testing.TB, bin []byte, export string, args ...uint64) ([]uint64, []HookCall) {
	t.Helper()
	m, err := wasm.ParseModule(bin)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	ctx := context.Background()
	r := wazero.NewRuntimeWithConfig(ctx, wazero.NewRuntimeConfigInterpreter().WithCoreFeatures(api.CoreFeaturesV2))
	defer r.Close(ctx)

	var calls []HookCall
	builders := make(map[string]wazero.HostModuleBuilder)
	var order []string
	for i := range m.Imports {
		imp := m.Imports[i]
		if imp.Desc.Kind != wasm.KindFunc {
			t.Fatalf("Run supports function imports only, got %s.%s", imp.Module, imp.Name)
		}
		ft := m.Types[imp.Desc.TypeIdx]
		b, ok := builders[imp.Module]
		if !ok {
			b = r.NewHostModuleBuilder(imp.Module)
			builders[imp.Module] = b
			order = append(order, imp.Module)
		}
		module, name, n := imp.Module, imp.Name, len(ft.Params)
		results := len(ft.Results)
		b.NewFunctionBuilder().WithGoModuleFunction(api.GoModuleFunc(func(_ context.Context, _ api.Module, stack []uint64) {
			calls = append(calls, HookCall{Module: module, Name: name, Params: append([]uint64(nil), stack[:n]...)})
			for k := 0; k < results; k++ {
				stack[k] = 0
			}
		}), ValueTypes(ft.Params), ValueTypes(ft.Results)).Export(name)
	}
	for _, name := range order {
		if _, err := builders[name].Instantiate(ctx); err != nil {
			t.Fatalf("instantiate %s: %v", name, err)
		}
	}

	mod, err := r.Instantiate(ctx, bin)
	if err != nil {
		t.Fatalf("instantiate: %v", err)
	}
	fn := mod.ExportedFunction(export)
	if fn == nil {
		t.Fatalf("no export %q", export)
	}
	res, err := fn.Call(ctx, args...)
	if err != nil {
		t.Fatalf("call %s: %v", export, err)
	}
	return res, calls
}

// ValueTypes converts value types to their wazero equivalents. The byte
// encodings are identical.
func ValueTypes(types []wasm.ValType) []api.ValueType {
	out := make([]api.ValueType, len(types))
	for i, t := range types {
		out[i] = api.ValueType(t)
	}
	return out
}

// Named filters calls by import name.
func Named(calls []HookCall, name string) []HookCall {
	var out []HookCall
	for _, c := range calls {
		if c.Name == name {
			out = append(out, c)
		}
	}
	return out
}
