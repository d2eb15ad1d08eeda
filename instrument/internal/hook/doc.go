// Package hook defines hook categories, hook sets and the canonical
// signatures of the low-level hook imports.
//
// Every hook import lives in module "__wasabi_hooks", takes the location id
// as its first i32 parameter and returns nothing. Imports are monomorphic:
// a Signature pairs a Variant with the operand types observed at a site,
// and its ImportName encodes both ("load_i32_f64").
package hook
