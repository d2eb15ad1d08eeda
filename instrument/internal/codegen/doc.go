// Package codegen emits the WebAssembly bytecode inserted around
// instrumented instructions.
//
// # Responsibilities
//
//   - Encode instructions into a growable buffer with a fluent API
//   - Generate local save/restore sequences that keep hook calls stack neutral
//   - Maintain the call depth global
//
// This package is internal to the instrumenter.
package codegen
