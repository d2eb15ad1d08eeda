// Package wasm provides WebAssembly binary format parsing and encoding.
//
// The codec covers the WebAssembly 2.0 core format plus the proposals an
// instrumenter has to carry through untouched: tail calls, SIMD, threads,
// bulk memory, reference types, multi-memory and memory64. GC types and
// exception handling are rejected with ErrUnsupported.
//
// # Parsing
//
//	data, _ := os.ReadFile("module.wasm")
//	module, err := wasm.ParseModule(data)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// Function bodies stay as raw bytes until decoded:
//
//	instrs, err := wasm.DecodeInstructions(module.Code[0].Code)
//
// A decoding failure inside a body is an *InstrError carrying the ordinal
// and byte offset of the failing instruction.
//
// # Encoding
//
//	out, err := module.Encode()
//
// Encode checks that the module parts agree (function and code counts,
// descriptor kinds, segment flags) before writing anything. Custom
// sections are written after the known sections.
//
// # Index Spaces
//
// FuncTypeIndices, GlobalTypes, TableTypes and MemoryTypes flatten each
// index space with imports first, matching how instructions address them.
//
// # Names
//
// ParseNames decodes the "name" custom section; function and local name
// maps can be remapped when function indices shift.
package wasm
