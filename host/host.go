package host

import (
	"context"
	"fmt"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/wippyai/wasabi/analysis"
	"github.com/wippyai/wasabi/errors"
	"github.com/wippyai/wasabi/instrument"
	"github.com/wippyai/wasabi/wasm"
)

// Config configures Instantiate.
type Config struct {
	// Analysis receives every event. Required.
	Analysis analysis.Analysis

	// ModuleConfig is used to instantiate the instrumented module, e.g. to
	// wire WASI stdio. Defaults to wazero.NewModuleConfig().
	ModuleConfig wazero.ModuleConfig

	Logger *zap.Logger

	// ModuleName names the instrumented instance; empty keeps the name
	// from the binary.
	ModuleName string
}

// Instance is an instantiated instrumented module.
type Instance struct {
	module api.Module
	hooks  api.Module
	depth  string
}

// Instantiate registers the hook imports of out in r and instantiates the
// instrumented binary. Imports other than hooks must already be
// available in r.
func Instantiate(ctx context.Context, r wazero.Runtime, out *instrument.Output, cfg Config) (*Instance, error) {
	if out == nil || cfg.Analysis == nil {
		return nil, errors.InvalidInput(errors.PhaseHost, "output and analysis are required")
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	inst := &Instance{}
	if out.Manifest != nil {
		inst.depth = out.Manifest.CallDepth
	}

	if len(out.Signatures) > 0 {
		m, err := wasm.ParseModule(out.Binary)
		if err != nil {
			return nil, errors.Decode(err)
		}
		d := newDispatcher(out, m, cfg.Analysis)

		builder := r.NewHostModuleBuilder(instrument.HookModule)
		for _, sig := range out.Signatures {
			builder.NewFunctionBuilder().
				WithGoModuleFunction(d.handler(sig), valueTypes(sig.Params()), nil).
				Export(sig.ImportName())
		}
		hooks, err := builder.Instantiate(ctx)
		if err != nil {
			return nil, errors.Instantiation(fmt.Errorf("hook module: %w", err))
		}
		inst.hooks = hooks
		log.Debug("registered hook imports", zap.Int("imports", len(out.Signatures)))
	}

	mc := cfg.ModuleConfig
	if mc == nil {
		mc = wazero.NewModuleConfig()
	}
	if cfg.ModuleName != "" {
		mc = mc.WithName(cfg.ModuleName)
	}
	mod, err := r.InstantiateWithConfig(ctx, out.Binary, mc)
	if err != nil {
		if inst.hooks != nil {
			_ = inst.hooks.Close(ctx)
		}
		return nil, errors.Instantiation(err)
	}
	inst.module = mod
	log.Debug("instantiated instrumented module", zap.Int("sites", len(out.Sites)))
	return inst, nil
}

// Module returns the instrumented module instance.
func (i *Instance) Module() api.Module { return i.module }

// CallDepth returns the current call depth kept by the begin and end
// hooks. ok is false when the module was instrumented without them.
func (i *Instance) CallDepth() (depth int32, ok bool) {
	if i.depth == "" {
		return 0, false
	}
	g := i.module.ExportedGlobal(i.depth)
	if g == nil {
		return 0, false
	}
	return api.DecodeI32(g.Get()), true
}

// Close closes the module and then the hook module.
func (i *Instance) Close(ctx context.Context) error {
	err := i.module.Close(ctx)
	if i.hooks != nil {
		if herr := i.hooks.Close(ctx); err == nil {
			err = herr
		}
	}
	return err
}

func valueTypes(types []wasm.ValType) []api.ValueType {
	out := make([]api.ValueType, len(types))
	for i, t := range types {
		out[i] = api.ValueType(t)
	}
	return out
}
