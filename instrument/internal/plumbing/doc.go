// Package plumbing adds the declarations hook calls depend on.
//
// Build runs after the rewriter's dry run and before any body is
// rewritten. It appends one function import per hook signature to the
// "__wasabi_hooks" module, appends the call depth global, exports tables
// and memories the host needs, and shifts every function reference outside
// of function bodies past the new imports. All capacity checks happen
// before the first mutation.
package plumbing
