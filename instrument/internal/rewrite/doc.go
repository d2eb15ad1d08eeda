// Package rewrite inserts hook calls into function bodies.
//
// Rewriting runs twice over the same code path. Plan is a dry run over the
// untouched module: it validates every body and collects the hook
// signatures, indirect-call tables and scratch locals the rewrite will
// need. After plumbing has appended the hook imports, Apply emits the new
// bodies, registering one location per inserted call.
//
// Inserted sequences never change block nesting seen by the original
// instructions and leave the operand stack exactly as the original
// instruction would. Values a hook observes are parked in scratch locals
// appended after the declared locals, grouped by type.
package rewrite
