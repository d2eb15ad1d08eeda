package engine

import (
	"bytes"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/wippyai/wasabi/errors"
	"github.com/wippyai/wasabi/instrument/internal/hook"
	"github.com/wippyai/wasabi/instrument/internal/location"
	"github.com/wippyai/wasabi/internal/wasmtest"
	"github.com/wippyai/wasabi/wasm"
)

var i32 = wasm.ValI32

func growModule() *wasm.Module {
	b := wasmtest.New()
	b.Memory(1)
	f := b.Func(b.Type(nil, []wasm.ValType{i32}), nil, wasmtest.I32(2), wasmtest.MemoryGrow())
	b.Export("grow", wasm.KindFunc, f)
	return b.Module()
}

// programModule exercises every hook category: run(x) stores x, calls a
// helper directly and through the table, and grows memory.
func programModule() *wasm.Module {
	b := wasmtest.New()
	unary := b.Type([]wasm.ValType{i32}, []wasm.ValType{i32})
	b.Memory(1)
	b.Table(1)
	g := b.Global(i32, true, wasmtest.I32(0))
	double := b.Func(unary, nil, wasmtest.LocalGet(0), wasmtest.LocalGet(0), wasmtest.Op(wasm.OpI32Add))
	run := b.Func(unary, nil,
		wasmtest.I32(16),
		wasmtest.LocalGet(0),
		wasmtest.Store(wasm.OpI32Store, 0),
		wasmtest.I32(16),
		wasmtest.Load(wasm.OpI32Load, 0),
		wasmtest.Call(double),
		wasmtest.GlobalSet(g),
		wasmtest.I32(1),
		wasmtest.MemoryGrow(),
		wasmtest.Op(wasm.OpDrop),
		wasmtest.GlobalGet(g),
		wasmtest.I32(0),
		wasmtest.CallIndirect(unary, 0),
	)
	b.Elements(0, double)
	b.Export("run", wasm.KindFunc, run)
	return b.Module()
}

func encode(t *testing.T, m *wasm.Module) []byte {
	t.Helper()
	return wasmtest.Encode(t, m)
}

func TestEmptyHookSet(t *testing.T) {
	m := programModule()
	before := encode(t, m)

	res, err := AddHooks(m, Config{})
	if err != nil || res != nil {
		t.Fatalf("AddHooks = %v, %v; want nil, nil", res, err)
	}
	if !bytes.Equal(before, encode(t, m)) {
		t.Error("module changed although no hooks were enabled")
	}
}

func TestMemoryGrowScenario(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	m := growModule()

	res, err := AddHooks(m, Config{Hooks: hook.NewSet(hook.MemoryGrow), Logger: zap.New(core)})
	if err != nil {
		t.Fatalf("AddHooks: %v", err)
	}
	if res.Inserted != 1 || len(res.Sites) != 1 {
		t.Fatalf("inserted %d, sites %d; want 1", res.Inserted, len(res.Sites))
	}
	if n := strings.Count(res.Glue, "function on_"); n != 1 {
		t.Errorf("glue declares %d hook functions, want 1", n)
	}
	wasmtest.Validate(t, encode(t, m))

	entries := logs.FilterMessage("inserted low-level hooks").All()
	if len(entries) != 1 {
		t.Fatalf("got %d summary log entries", len(entries))
	}
	if got := entries[0].ContextMap()["count"]; got != int64(1) {
		t.Errorf("logged count = %v", got)
	}
}

func TestLocationsMatchRuntimeCalls(t *testing.T) {
	m := programModule()
	res, err := AddHooks(m, Config{Hooks: hook.AllHooks(), Node: true})
	if err != nil {
		t.Fatalf("AddHooks: %v", err)
	}
	bin := encode(t, m)

	out, calls := wasmtest.Run(t, bin, "run", 21)
	if out[0] != 84 {
		t.Errorf("run(21) = %d, want 84", out[0])
	}

	seen := make(map[location.ID]bool)
	for _, c := range calls {
		if c.Module != wasmtest.HookModule {
			continue
		}
		id := location.ID(int32(uint32(c.Params[0])))
		if int(id) >= len(res.Sites) || id < 0 {
			t.Fatalf("%s called with unknown location %d", c.Name, id)
		}
		if site := res.Sites[id]; site.Import != c.Name {
			t.Errorf("location %d belongs to %s but was passed to %s", id, site.Import, c.Name)
		}
		seen[id] = true
	}
	// Every site in run and double executes exactly along this path.
	if len(seen) != len(res.Sites) {
		t.Errorf("executed %d distinct locations, registered %d", len(seen), len(res.Sites))
	}
}

func TestCapacityExceededLeavesModule(t *testing.T) {
	b := wasmtest.New()
	b.Memory(1)
	b.Func(b.Type(nil, []wasm.ValType{i32}),
		[]wasm.LocalEntry{{Count: 50000, ValType: i32}},
		wasmtest.I32(1), wasmtest.MemoryGrow())
	m := b.Module()
	before := encode(t, m)

	_, err := AddHooks(m, Config{Hooks: hook.NewSet(hook.MemoryGrow)})
	if !errors.Is(err, errors.ErrCapacityExceeded) {
		t.Fatalf("err = %v, want capacity exceeded", err)
	}
	if !bytes.Equal(before, encode(t, m)) {
		t.Error("module changed on failure")
	}
}

func TestMalformedLeavesModule(t *testing.T) {
	b := wasmtest.New()
	b.Func(b.Type(nil, nil), nil, wasmtest.Call(7))
	m := b.Module()
	before := encode(t, m)

	_, err := AddHooks(m, Config{Hooks: hook.NewSet(hook.Call)})
	if !errors.Is(err, errors.ErrMalformedInstruction) {
		t.Fatalf("err = %v, want malformed instruction", err)
	}
	var werr *errors.Error
	if !errors.As(err, &werr) || werr.Site == nil || werr.Site.Func != 0 || werr.Site.Instr != 0 {
		t.Errorf("error site = %+v", werr)
	}
	if !bytes.Equal(before, encode(t, m)) {
		t.Error("module changed on failure")
	}
}
