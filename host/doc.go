// Package host runs instrumented modules under wazero with the hooks
// implemented in Go.
//
// Instantiate registers one Go function per hook import of an
// instrument.Output under the "__wasabi_hooks" module, decodes each call
// into a typed analysis.Event and passes it to the configured
// analysis.Analysis before the guest continues:
//
//	out, _ := instrument.Instrument(ctx, bin, instrument.Options{Hooks: instrument.AllHooks()})
//	r := wazero.NewRuntime(ctx)
//	counter := analysis.NewCounter()
//	inst, err := host.Instantiate(ctx, r, out, host.Config{Analysis: counter})
//
// The hook module is registered under a fixed name, so a runtime holds at
// most one instrumented instance at a time.
package host
