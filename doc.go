// Package wasabi instruments WebAssembly modules for dynamic analysis.
//
// Instrumentation rewrites a core module so that each observed operation
// calls an imported hook in the "__wasabi_hooks" module, passing a
// location id and the runtime values involved. The rewritten module keeps
// its original behavior; hooks only observe.
//
// # Architecture Overview
//
//	wasabi/
//	├── wasm/                 Core WASM binary codec
//	├── errors/               Structured error types
//	├── instrument/           Instrument and AddHooks entry points
//	│   └── internal/
//	│       ├── hook/         Hook categories, variants and import signatures
//	│       ├── location/     Location registry (one site per hook call)
//	│       ├── plumbing/     Hook imports, index remapping, state globals
//	│       ├── codegen/      Bytecode emitter for inserted sequences
//	│       ├── rewrite/      Function body rewriter
//	│       ├── glue/         JavaScript glue and manifest
//	│       └── engine/       Driver tying the steps together
//	├── analysis/             Typed events and built-in analyses
//	│   ├── tracedb/          SQLite event store
//	│   └── luascript/        Lua analyses
//	├── host/                 Hook imports implemented in Go on wazero
//	└── cmd/wasabi/           Command line tool
//
// # Quick Start
//
// Instrument a module and emit browser glue:
//
//	out, err := instrument.Instrument(ctx, bin, instrument.Options{
//	    Hooks: instrument.AllHooks(),
//	})
//	// out.Binary is the rewritten module, out.Glue the JavaScript glue.
//
// Run it under wazero with a Go analysis:
//
//	counter := analysis.NewCounter()
//	inst, err := host.Instantiate(ctx, r, out, host.Config{Analysis: counter})
//	defer inst.Close(ctx)
//	inst.Module().ExportedFunction("main").Call(ctx)
//
// # Hooks
//
// Begin and End observe function entry and every exit. Call observes
// direct and indirect calls before and after. Global, Load, Store,
// MemoryGrow, TableGet and TableSet observe the corresponding
// instructions after they execute. Every inserted call has its own
// location id; the site table maps ids back to the function and
// instruction of the original module.
package wasabi
