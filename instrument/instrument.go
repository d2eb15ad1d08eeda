package instrument

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/wippyai/wasabi/errors"
	"github.com/wippyai/wasabi/instrument/internal/engine"
	"github.com/wippyai/wasabi/instrument/internal/glue"
	"github.com/wippyai/wasabi/instrument/internal/hook"
	"github.com/wippyai/wasabi/instrument/internal/location"
	"github.com/wippyai/wasabi/internal/telemetry"
	"github.com/wippyai/wasabi/wasm"
)

type (
	// Hook is one event category.
	Hook = hook.Hook
	// HookSet is a set of enabled hook categories.
	HookSet = hook.Set
	// Variant is a concrete hook within a category, e.g. call_indirect_pre.
	Variant = hook.Variant
	// Signature is one monomorphic hook import.
	Signature = hook.Signature
	// Site describes one inserted hook call.
	Site = location.Site
	// Manifest is the machine-readable description embedded in the glue.
	Manifest = glue.Manifest
	// ModuleInfo is the static description of the original module.
	ModuleInfo = glue.ModuleInfo
	// Result is the outcome of AddHooks.
	Result = engine.Result
)

const (
	Begin      = hook.Begin
	End        = hook.End
	Call       = hook.Call
	Global     = hook.Global
	Load       = hook.Load
	Store      = hook.Store
	MemoryGrow = hook.MemoryGrow
	TableGet   = hook.TableGet
	TableSet   = hook.TableSet
)

const (
	VariantBeginFunction   = hook.VariantBeginFunction
	VariantEndFunction     = hook.VariantEndFunction
	VariantCallPre         = hook.VariantCallPre
	VariantCallIndirectPre = hook.VariantCallIndirectPre
	VariantCallPost        = hook.VariantCallPost
	VariantGlobalGet       = hook.VariantGlobalGet
	VariantGlobalSet       = hook.VariantGlobalSet
	VariantLoad            = hook.VariantLoad
	VariantStore           = hook.VariantStore
	VariantMemoryGrow      = hook.VariantMemoryGrow
	VariantTableGet        = hook.VariantTableGet
	VariantTableSet        = hook.VariantTableSet
)

// HookModule is the import module name of every hook.
const HookModule = hook.ImportModule

// EntryInstr is the instruction ordinal of function entry sites.
const EntryInstr = location.EntryInstr

// NewHookSet returns a set holding hooks.
func NewHookSet(hooks ...Hook) HookSet { return hook.NewSet(hooks...) }

// AllHooks returns the set of every hook category.
func AllHooks() HookSet { return hook.AllHooks() }

// ParseHookSet parses "all", "empty" or a comma-separated list of hook
// names. Names are accepted in snake case (memory_grow) or camel case
// (MemoryGrow).
func ParseHookSet(s string) (HookSet, error) {
	set, err := hook.ParseSet(s)
	if err != nil {
		return 0, errors.New(errors.PhaseConfig, errors.KindInvalidInput).
			Detail("parse hook set %q", s).
			Cause(err).
			Build()
	}
	return set, nil
}

// Options configures Instrument.
type Options struct {
	// Logger overrides the package logger for this run.
	Logger *zap.Logger
	Hooks  HookSet
	// Node selects glue that reads the module with fs and exports Wasabi
	// through module.exports. Otherwise the glue fetches it in a browser.
	Node bool
}

// Output is an instrumented module with its glue.
type Output struct {
	Manifest     *Manifest
	Binary       []byte
	ManifestJSON []byte
	Glue         string
	Sites        []Site
	Imports      []string
	Signatures   []Signature
	Inserted     int
	Hooks        HookSet
}

// Instrument decodes bin, inserts the hooks in opts and encodes the
// result. With an empty hook set the input is returned unchanged and Glue
// is empty. Decoding and encoding failures are reported as ErrDecode and
// ErrEncode; engine failures keep their own kind.
func Instrument(ctx context.Context, bin []byte, opts Options) (*Output, error) {
	tracer := telemetry.Tracer()
	ctx, span := tracer.Start(ctx, "wasabi.instrument", trace.WithAttributes(
		attribute.String("wasabi.hooks", opts.Hooks.String()),
		attribute.Int("wasabi.input_bytes", len(bin)),
	))
	defer span.End()

	_, decodeSpan := tracer.Start(ctx, "wasabi.decode")
	m, err := wasm.ParseModule(bin)
	if err != nil {
		werr := errors.Decode(err)
		fail(decodeSpan, werr)
		decodeSpan.End()
		return nil, fail(span, werr)
	}
	decodeSpan.End()

	log := opts.Logger
	if log == nil {
		log = Logger()
	}

	_, hookSpan := tracer.Start(ctx, "wasabi.add_hooks")
	res, err := engine.AddHooks(m, engine.Config{Hooks: opts.Hooks, Node: opts.Node, Logger: log})
	if err != nil {
		fail(hookSpan, err)
		hookSpan.End()
		return nil, fail(span, err)
	}
	if res == nil {
		hookSpan.End()
		span.SetAttributes(attribute.Int("wasabi.inserted", 0), attribute.Int("wasabi.output_bytes", len(bin)))
		return &Output{Binary: bin, Hooks: opts.Hooks}, nil
	}
	hookSpan.SetAttributes(attribute.Int("wasabi.inserted", res.Inserted))
	hookSpan.End()

	_, encodeSpan := tracer.Start(ctx, "wasabi.encode")
	out, err := m.Encode()
	if err != nil {
		werr := errors.Encode(err)
		fail(encodeSpan, werr)
		encodeSpan.End()
		return nil, fail(span, werr)
	}
	encodeSpan.End()

	span.SetAttributes(
		attribute.Int("wasabi.inserted", res.Inserted),
		attribute.Int("wasabi.output_bytes", len(out)),
	)
	return &Output{
		Manifest:     res.Manifest,
		Binary:       out,
		ManifestJSON: res.JSON,
		Glue:         res.Glue,
		Sites:        res.Sites,
		Imports:      res.Imports,
		Signatures:   res.Layout.Signatures,
		Inserted:     res.Inserted,
		Hooks:        opts.Hooks,
	}, nil
}

// AddHooks instruments a decoded module in place and returns the glue,
// the sites and the number of inserted hook calls. It returns nil and
// leaves m untouched when hooks is empty. A module passed to a failed
// call must be discarded.
func AddHooks(m *wasm.Module, hooks HookSet, node bool) (*Result, error) {
	return engine.AddHooks(m, engine.Config{Hooks: hooks, Node: node, Logger: Logger()})
}

func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
