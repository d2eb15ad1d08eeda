package engine

import (
	"go.uber.org/zap"

	"github.com/wippyai/wasabi/instrument/internal/glue"
	"github.com/wippyai/wasabi/instrument/internal/hook"
	"github.com/wippyai/wasabi/instrument/internal/location"
	"github.com/wippyai/wasabi/instrument/internal/plumbing"
	"github.com/wippyai/wasabi/instrument/internal/rewrite"
	"github.com/wippyai/wasabi/wasm"
)

// Config configures hook insertion.
type Config struct {
	Logger *zap.Logger
	Hooks  hook.Set
	// Node selects glue that loads the module from the filesystem instead
	// of fetching it.
	Node bool
}

// Result is the outcome of one AddHooks run.
type Result struct {
	Layout   *plumbing.Layout
	Manifest *glue.Manifest
	Glue     string
	JSON     []byte
	Sites    []location.Site
	Imports  []string
	Inserted int
}

// Engine inserts hooks. It keeps no state between runs; independent
// modules may be processed concurrently with one engine.
type Engine struct {
	logger *zap.Logger
	hooks  hook.Set
	node   bool
}

// New creates an engine.
func New(cfg Config) *Engine {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{logger: log, hooks: cfg.Hooks, node: cfg.Node}
}

// AddHooks instruments m in place. It returns nil and leaves m untouched
// when no hooks are enabled. On error the module must be discarded: all
// limit and body checks run before the first change, so a failure after
// that point indicates a bug.
func (e *Engine) AddHooks(m *wasm.Module) (*Result, error) {
	if e.hooks.Empty() {
		return nil, nil
	}

	info := glue.Describe(m)

	req, err := rewrite.Plan(m, e.hooks)
	if err != nil {
		return nil, err
	}
	layout, err := plumbing.Build(m, req)
	if err != nil {
		return nil, err
	}
	if layout.DroppedNames {
		e.logger.Warn("dropped malformed name section")
	}

	reg := location.New()
	inserted, err := rewrite.Apply(m, e.hooks, layout, reg)
	if err != nil {
		return nil, err
	}

	sites := reg.Sites()
	out, err := glue.Generate(glue.Input{
		Info:   info,
		Layout: layout,
		Sites:  sites,
		Hooks:  e.hooks,
		Node:   e.node,
	})
	if err != nil {
		return nil, err
	}

	imports := make([]string, len(layout.Signatures))
	for i, sig := range layout.Signatures {
		imports[i] = sig.ImportName()
	}

	if e.logger.Core().Enabled(zap.DebugLevel) {
		perFunc := make(map[uint32]int)
		for i := range sites {
			perFunc[sites[i].Func]++
		}
		for fn, n := range perFunc {
			e.logger.Debug("function sites", zap.Uint32("func", fn), zap.Int("sites", n))
		}
	}
	e.logger.Info("inserted low-level hooks",
		zap.Int("count", inserted),
		zap.Int("functions", len(m.Code)),
		zap.Int("imports", len(imports)),
		zap.Stringer("hooks", e.hooks),
	)

	return &Result{
		Layout:   layout,
		Manifest: out.Manifest,
		Glue:     out.Text,
		JSON:     out.JSON,
		Sites:    sites,
		Imports:  imports,
		Inserted: inserted,
	}, nil
}

// AddHooks is a convenience wrapper around New(cfg).AddHooks(m).
func AddHooks(m *wasm.Module, cfg Config) (*Result, error) {
	return New(cfg).AddHooks(m)
}
