// Package analysis is the Go side of the analysis callback interface.
//
// The host package turns every hook call of an instrumented module into a
// typed Event and hands it to an Analysis. Events carry the location of
// the hook call in the original module and the runtime values the hook
// observed; static facts such as memarg offsets come from the site table.
//
// Built-in analyses:
//   - Counter counts events per kind and per instruction
//   - CallGraph records caller to callee edges
//   - Trace logs every event through zap
//
// Analyses may be called from several goroutines when one module instance
// is shared; the built-ins lock internally.
package analysis
