// Package instrument adds dynamic-analysis hooks to WebAssembly modules.
//
// Instrument decodes a binary, inserts calls to imported hook functions at
// every program point selected by the hook set, and returns the rewritten
// binary together with JavaScript glue that implements those imports:
//
//	hooks, _ := instrument.ParseHookSet("begin,end,call")
//	out, err := instrument.Instrument(ctx, wasmBytes, instrument.Options{Hooks: hooks, Node: true})
//
// Every inserted call passes a location id as its first argument. Sites
// maps those ids back to the original function and instruction.
//
// All hook imports live in the "__wasabi_hooks" module, take the location
// id first and return nothing. Their names are the hook variant followed
// by the observed operand types, e.g. "load_i32_f64". The host package
// implements them in Go; the glue implements them in JavaScript.
package instrument
