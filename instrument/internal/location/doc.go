// Package location implements the registry of instrumentation sites.
//
// Every inserted hook call receives its own location id. The id is passed
// as the first argument of the hook, and the registry keeps a descriptor of
// the site (original function index, instruction ordinal, hook variant and
// static instruction facts) for the glue code and the Go host.
package location
