package glue

import (
	"bytes"
	"encoding/json"
	"fmt"
	"text/template"

	"github.com/wippyai/wasabi/errors"
	"github.com/wippyai/wasabi/instrument/internal/hook"
	"github.com/wippyai/wasabi/instrument/internal/location"
	"github.com/wippyai/wasabi/instrument/internal/plumbing"
)

// Input is everything the glue is generated from.
type Input struct {
	Info   *ModuleInfo
	Layout *plumbing.Layout
	Sites  []location.Site
	Hooks  hook.Set
	Node   bool
}

// Import describes one hook import of the instrumented module.
type Import struct {
	Name    string       `json:"name"`
	Variant hook.Variant `json:"variant"`
	Params  []string     `json:"params"`
	Func    uint32       `json:"func"`
	Hook    hook.Hook    `json:"hook"`
}

// Manifest is the machine-readable companion of the glue text. The glue
// embeds it verbatim.
type Manifest struct {
	TableExports  map[uint32]string `json:"tableExports"`
	MemoryExports map[uint32]string `json:"memoryExports"`
	Info          *ModuleInfo       `json:"info"`
	HookModule    string            `json:"hookModule"`
	CallDepth     string            `json:"callDepth,omitempty"`
	Hooks         []hook.Hook       `json:"hooks"`
	Imports       []Import          `json:"imports"`
	Sites         []location.Site   `json:"sites"`
	Node          bool              `json:"node"`
}

// Output is the generated glue.
type Output struct {
	Manifest *Manifest
	Text     string
	JSON     []byte
}

// Generate renders the JavaScript glue for an instrumented module. Every
// site must reference an import present in the layout, and site ids must
// be dense and ordered.
func Generate(in Input) (*Output, error) {
	if in.Layout == nil || in.Info == nil {
		return nil, errors.InvalidInput(errors.PhaseGlue, "missing layout or module info")
	}
	for i := range in.Sites {
		s := &in.Sites[i]
		if int(s.ID) != i {
			return nil, errors.InvalidInput(errors.PhaseGlue, fmt.Sprintf("site %d out of order at position %d", s.ID, i))
		}
		if _, ok := in.Layout.ImportIndex(s.Import); !ok {
			return nil, errors.InvalidInput(errors.PhaseGlue, fmt.Sprintf("site %d references unknown import %q", s.ID, s.Import))
		}
	}

	man := buildManifest(in)
	data, err := json.Marshal(man)
	if err != nil {
		return nil, errors.New(errors.PhaseGlue, errors.KindEncode).Detail("marshal manifest").Cause(err).Build()
	}

	td := templateData{
		Hooks:     in.Hooks.String(),
		Node:      in.Node,
		Manifest:  string(data),
		Sites:     in.Sites,
		CallDepth: man.CallDepth,
	}
	for _, h := range in.Hooks.Hooks() {
		td.Categories = append(td.Categories, categories[h])
	}
	for _, imp := range man.Imports {
		td.Bindings = append(td.Bindings, binding{
			Name:    imp.Name,
			Variant: string(imp.Variant),
			Func:    funcName(imp.Hook),
		})
	}

	var buf bytes.Buffer
	if err := glueTemplate.Execute(&buf, td); err != nil {
		return nil, errors.New(errors.PhaseGlue, errors.KindEncode).Detail("render glue").Cause(err).Build()
	}
	return &Output{Manifest: man, Text: buf.String(), JSON: data}, nil
}

func buildManifest(in Input) *Manifest {
	info := *in.Info
	info.HookImports = in.Layout.Added

	man := &Manifest{
		TableExports:  copyNames(in.Layout.TableExports),
		MemoryExports: copyNames(in.Layout.MemoryExports),
		Info:          &info,
		HookModule:    hook.ImportModule,
		Hooks:         in.Hooks.Hooks(),
		Imports:       make([]Import, 0, len(in.Layout.Signatures)),
		Sites:         in.Sites,
		Node:          in.Node,
	}
	if man.Hooks == nil {
		man.Hooks = []hook.Hook{}
	}
	if man.Sites == nil {
		man.Sites = []location.Site{}
	}
	if in.Layout.HasDepth {
		man.CallDepth = in.Layout.DepthExport
	}
	for _, sig := range in.Layout.Signatures {
		idx, _ := in.Layout.HookFunc(sig)
		params := make([]string, 0, len(sig.Params()))
		for _, t := range sig.Params() {
			params = append(params, t.String())
		}
		man.Imports = append(man.Imports, Import{
			Name:    sig.ImportName(),
			Variant: sig.Variant,
			Params:  params,
			Func:    idx,
			Hook:    sig.Hook(),
		})
	}
	return man
}

func copyNames(in map[uint32]string) map[uint32]string {
	out := make(map[uint32]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func funcName(h hook.Hook) string {
	return "on_" + h.String()
}

type templateData struct {
	Hooks      string
	Manifest   string
	CallDepth  string
	Categories []string
	Bindings   []binding
	Sites      []location.Site
	Node       bool
}

type binding struct {
	Name    string
	Variant string
	Func    string
}

var glueTemplate = template.Must(template.New("glue").Funcs(template.FuncMap{
	"quote": quote,
}).Parse(glueSource))

func quote(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}
