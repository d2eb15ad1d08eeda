package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/wippyai/wasabi/instrument"
	"github.com/wippyai/wasabi/internal/wasmtest"
	"github.com/wippyai/wasabi/wasm"
)

// writeProgram writes a module exporting run(x) = double(x) that stores x
// at address 8 on the way.
func writeProgram(t *testing.T, dir, name string) string {
	t.Helper()
	i32 := wasm.ValI32
	b := wasmtest.New()
	unary := b.Type([]wasm.ValType{i32}, []wasm.ValType{i32})
	b.Memory(1)
	double := b.Func(unary, nil, wasmtest.LocalGet(0), wasmtest.LocalGet(0), wasmtest.Op(wasm.OpI32Add))
	run := b.Func(unary, nil,
		wasmtest.I32(8),
		wasmtest.LocalGet(0),
		wasmtest.Store(wasm.OpI32Store, 0),
		wasmtest.LocalGet(0),
		wasmtest.Call(double),
	)
	b.Export("run", wasm.KindFunc, run)

	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, b.Bytes(t), 0o644))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestInstrumentCommand(t *testing.T) {
	dir := t.TempDir()
	a := writeProgram(t, dir, "a.wasm")
	b := writeProgram(t, dir, "b.wasm")
	outDir := filepath.Join(dir, "out")

	stdout, err := execute(t, "instrument", "--hooks", "call,store", "--node", "--jobs", "2", "--out-dir", outDir, a, b)
	require.NoError(t, err)
	assert.Contains(t, stdout, "inserted 3 low-level hooks")

	for _, name := range []string{"a", "b"} {
		bin, err := os.ReadFile(filepath.Join(outDir, name+".wasm"))
		require.NoError(t, err)
		wasmtest.Validate(t, bin)

		glue, err := os.ReadFile(filepath.Join(outDir, name+".js"))
		require.NoError(t, err)
		assert.Contains(t, string(glue), "module.exports")
	}
}

func TestInstrumentCommandErrors(t *testing.T) {
	dir := t.TempDir()
	a := writeProgram(t, dir, "a.wasm")

	_, err := execute(t, "instrument", "--hooks", "bogus", "--out-dir", dir, a)
	assert.Error(t, err)

	_, err = execute(t, "instrument", "--out-dir", dir, filepath.Join(dir, "missing.wasm"))
	assert.Error(t, err)

	junk := filepath.Join(dir, "junk.wasm")
	require.NoError(t, os.WriteFile(junk, []byte("not wasm"), 0o644))
	_, err = execute(t, "instrument", "--out-dir", filepath.Join(dir, "out"), junk)
	assert.Error(t, err)

	other := filepath.Join(dir, "sub")
	require.NoError(t, os.MkdirAll(other, 0o755))
	dup := writeProgram(t, other, "a.wasm")
	_, err = execute(t, "instrument", "--out-dir", filepath.Join(dir, "out"), a, dup)
	assert.ErrorContains(t, err, "would both write")
}

func TestSitesCommand(t *testing.T) {
	path := writeProgram(t, t.TempDir(), "p.wasm")

	stdout, err := execute(t, "sites", "--hooks", "store", "--json", path)
	require.NoError(t, err)
	var sites []map[string]any
	require.NoError(t, json.Unmarshal([]byte(stdout), &sites))
	require.Len(t, sites, 1)
	assert.Equal(t, "i32.store", sites[0]["op"])
	assert.Equal(t, "store", sites[0]["hook"])
	assert.True(t, gjson.Get(stdout, "0.import").Exists())

	stdout, err = execute(t, "sites", "--hooks", "begin,call", path)
	require.NoError(t, err)
	assert.Contains(t, stdout, "entry")
	assert.Contains(t, stdout, "call_pre")
	assert.Contains(t, stdout, "4 sites")

	stdout, err = execute(t, "sites", "--hooks", "empty", path)
	require.NoError(t, err)
	assert.Contains(t, stdout, "no instrumentation sites")
}

func TestBrowseFallsBackWithoutTerminal(t *testing.T) {
	path := writeProgram(t, t.TempDir(), "p.wasm")
	stdout, err := execute(t, "browse", "--hooks", "store", path)
	require.NoError(t, err)
	assert.Contains(t, stdout, "i32.store")
}

func TestRunCommand(t *testing.T) {
	dir := t.TempDir()
	path := writeProgram(t, dir, "p.wasm")
	db := filepath.Join(dir, "trace.db")
	script := filepath.Join(dir, "stores.lua")
	require.NoError(t, os.WriteFile(script, []byte(`function store(location, op, memarg, value) end`), 0o644))

	stdout, err := execute(t, "run", "--invoke", "run", "--args", "21", "--db", db, "--lua", script, path)
	require.NoError(t, err)
	assert.Contains(t, stdout, "result: 42")
	assert.Contains(t, stdout, "begin_function")
	assert.Contains(t, stdout, "total events:")
	assert.Contains(t, stdout, "events recorded in")
	assert.NotContains(t, stdout, "lua errors")

	_, err = os.Stat(db)
	assert.NoError(t, err)
}

func TestRunCommandErrors(t *testing.T) {
	path := writeProgram(t, t.TempDir(), "p.wasm")

	_, err := execute(t, "run", path)
	assert.ErrorContains(t, err, "_start")

	_, err = execute(t, "run", "--invoke", "run", path)
	assert.ErrorContains(t, err, "expects 1 arguments")

	_, err = execute(t, "run", "--invoke", "run", "--args", "x", path)
	assert.Error(t, err)

	_, err = execute(t, "run", "--invoke", "nope", path)
	assert.ErrorContains(t, err, "nope")
}

func TestLoggerFlags(t *testing.T) {
	_, err := newLogger("debug", "json")
	assert.NoError(t, err)
	_, err = newLogger("loud", "console")
	assert.Error(t, err)
	_, err = newLogger("info", "xml")
	assert.Error(t, err)

	path := writeProgram(t, t.TempDir(), "p.wasm")
	_, err = execute(t, "--log-format", "xml", "sites", path)
	assert.Error(t, err)
}

func TestMatchSite(t *testing.T) {
	callee := uint32(3)
	site := instrument.Site{Func: 2, Hook: instrument.Call, Variant: instrument.VariantCallPre, Op: "call", Import: "call_pre_i32", Callee: &callee}

	assert.True(t, matchSite(site, ""))
	assert.True(t, matchSite(site, "func:2"))
	assert.False(t, matchSite(site, "func:20"))
	assert.True(t, matchSite(site, "call_pre"))
	assert.False(t, matchSite(site, "store"))
	assert.Contains(t, describeSite(site), "callee 3")
}

func TestBrowseModel(t *testing.T) {
	path := writeProgram(t, t.TempDir(), "p.wasm")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	out, err := instrument.Instrument(context.Background(), data, instrument.Options{Hooks: instrument.AllHooks()})
	require.NoError(t, err)

	m := newBrowseModel("p.wasm", out)
	require.Len(t, m.visible, len(out.Sites))

	m.filter.SetValue("store")
	m.applyFilter()
	require.Len(t, m.visible, 1)
	assert.Contains(t, m.View(), "i32.store")

	m.filter.SetValue("func:0")
	m.applyFilter()
	for _, i := range m.visible {
		assert.Equal(t, uint32(0), out.Sites[i].Func)
	}
	assert.True(t, strings.Contains(m.View(), "p.wasm"))
}
