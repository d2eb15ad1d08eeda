package host

import (
	"context"
	"strings"

	"github.com/tetratelabs/wazero/api"

	"github.com/wippyai/wasabi/analysis"
	"github.com/wippyai/wasabi/instrument"
	"github.com/wippyai/wasabi/wasm"
)

type dispatcher struct {
	analysis analysis.Analysis
	slots    slotTable
	sites    []instrument.Site
}

func newDispatcher(out *instrument.Output, m *wasm.Module, a analysis.Analysis) *dispatcher {
	var lo, added uint32
	if out.Manifest != nil && out.Manifest.Info != nil {
		lo, added = out.Manifest.Info.ImportedFuncs, out.Manifest.Info.HookImports
	}
	original := func(idx uint32) uint32 {
		if idx >= lo+added {
			return idx - added
		}
		return idx
	}
	return &dispatcher{analysis: a, slots: newSlotTable(m, original), sites: out.Sites}
}

func (d *dispatcher) location(stack []uint64) (instrument.Site, bool) {
	id := api.DecodeI32(stack[0])
	if id < 0 || int(id) >= len(d.sites) {
		return instrument.Site{}, false
	}
	return d.sites[id], true
}

// handler returns the Go implementation of one hook import. Unknown
// locations are ignored.
func (d *dispatcher) handler(sig instrument.Signature) api.GoModuleFunc {
	types := sig.Types
	fixed := 1 + sig.Variant.Fixed()
	build := d.builder(sig.Variant)
	if build == nil {
		return func(context.Context, api.Module, []uint64) {}
	}
	return func(ctx context.Context, _ api.Module, stack []uint64) {
		site, ok := d.location(stack)
		if !ok {
			return
		}
		loc := analysis.Loc{At: analysis.Location{ID: site.ID, Func: site.Func, Instr: site.Instr}}
		vals := analysis.Values(types, stack[fixed:])
		d.analysis.OnEvent(ctx, build(loc, &site, stack, vals))
	}
}

type eventBuilder func(loc analysis.Loc, site *instrument.Site, stack []uint64, vals []analysis.Value) analysis.Event

func (d *dispatcher) builder(v instrument.Variant) eventBuilder {
	switch v {
	case instrument.VariantBeginFunction:
		return func(loc analysis.Loc, _ *instrument.Site, stack []uint64, vals []analysis.Value) analysis.Event {
			return analysis.BeginFunction{Loc: loc, Func: api.DecodeU32(stack[1]), Args: vals}
		}
	case instrument.VariantEndFunction:
		return func(loc analysis.Loc, site *instrument.Site, _ []uint64, vals []analysis.Value) analysis.Event {
			return analysis.EndFunction{Loc: loc, Func: site.Func, Results: vals}
		}
	case instrument.VariantCallPre:
		return func(loc analysis.Loc, site *instrument.Site, stack []uint64, vals []analysis.Value) analysis.Event {
			return analysis.CallPre{
				Loc:      loc,
				Args:     vals,
				Callee:   api.DecodeU32(stack[1]),
				Resolved: true,
				Tail:     isTail(site.Op),
			}
		}
	case instrument.VariantCallIndirectPre:
		return func(loc analysis.Loc, site *instrument.Site, stack []uint64, vals []analysis.Value) analysis.Event {
			ev := analysis.CallPre{
				Loc:      loc,
				Args:     vals,
				Slot:     api.DecodeU32(stack[1]),
				Indirect: true,
				Tail:     isTail(site.Op),
			}
			if site.Table != nil {
				ev.Table = *site.Table
			}
			ev.Callee, ev.Resolved = d.slots.resolve(ev.Table, ev.Slot)
			return ev
		}
	case instrument.VariantCallPost:
		return func(loc analysis.Loc, site *instrument.Site, _ []uint64, vals []analysis.Value) analysis.Event {
			ev := analysis.CallPost{Loc: loc, Results: vals, Indirect: site.Callee == nil}
			if site.Callee != nil {
				ev.Callee = *site.Callee
			}
			return ev
		}
	case instrument.VariantGlobalGet, instrument.VariantGlobalSet:
		set := v == instrument.VariantGlobalSet
		return func(loc analysis.Loc, _ *instrument.Site, stack []uint64, vals []analysis.Value) analysis.Event {
			return analysis.GlobalAccess{Loc: loc, Global: api.DecodeU32(stack[1]), Value: first(vals), Set: set}
		}
	case instrument.VariantLoad, instrument.VariantStore:
		store := v == instrument.VariantStore
		return func(loc analysis.Loc, site *instrument.Site, _ []uint64, vals []analysis.Value) analysis.Event {
			ev := analysis.MemoryAccess{Loc: loc, Op: site.Op, Store: store}
			if len(vals) > 0 {
				ev.Addr = address(vals[0])
			}
			if len(vals) > 1 {
				ev.Value = vals[1]
			}
			if site.Offset != nil {
				ev.Offset = *site.Offset
			}
			if site.Align != nil {
				ev.Align = *site.Align
			}
			if site.Memory != nil {
				ev.Memory = *site.Memory
			}
			return ev
		}
	case instrument.VariantMemoryGrow:
		return func(loc analysis.Loc, site *instrument.Site, _ []uint64, vals []analysis.Value) analysis.Event {
			ev := analysis.MemoryGrow{Loc: loc}
			if len(vals) == 2 {
				ev.Delta = address(vals[0])
				ev.Previous = signed(vals[1])
			}
			if site.Memory != nil {
				ev.Memory = *site.Memory
			}
			return ev
		}
	case instrument.VariantTableGet, instrument.VariantTableSet:
		set := v == instrument.VariantTableSet
		return func(loc analysis.Loc, site *instrument.Site, stack []uint64, vals []analysis.Value) analysis.Event {
			ev := analysis.TableAccess{Loc: loc, Index: api.DecodeU32(stack[1]), Value: first(vals), Set: set}
			if site.Table != nil {
				ev.Table = *site.Table
			}
			return ev
		}
	}
	return nil
}

func isTail(op string) bool {
	return strings.HasPrefix(op, "return_call")
}

func first(vals []analysis.Value) analysis.Value {
	if len(vals) == 0 {
		return analysis.Value{Type: wasm.ValV128}
	}
	return vals[0]
}

// address zero-extends an i32 address or returns an i64 one unchanged.
func address(v analysis.Value) uint64 {
	if v.Type == wasm.ValI32 {
		return uint64(v.U32())
	}
	return v.Bits
}

func signed(v analysis.Value) int64 {
	if v.Type == wasm.ValI32 {
		return int64(v.I32())
	}
	return v.I64()
}
