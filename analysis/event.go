package analysis

import "fmt"

// Kind names an event type. The names match the callbacks of the
// JavaScript glue.
type Kind string

const (
	KindBeginFunction Kind = "begin_function"
	KindEndFunction   Kind = "end_function"
	KindCallPre       Kind = "call_pre"
	KindCallPost      Kind = "call_post"
	KindGlobal        Kind = "global"
	KindLoad          Kind = "load"
	KindStore         Kind = "store"
	KindMemoryGrow    Kind = "memory_grow"
	KindTableGet      Kind = "table_get"
	KindTableSet      Kind = "table_set"
)

// Kinds lists every event kind.
func Kinds() []Kind {
	return []Kind{
		KindBeginFunction, KindEndFunction, KindCallPre, KindCallPost, KindGlobal,
		KindLoad, KindStore, KindMemoryGrow, KindTableGet, KindTableSet,
	}
}

// Location identifies the hook call that produced an event. Func and
// Instr refer to the original module; Instr is -1 at function entry.
type Location struct {
	ID    int32
	Func  uint32
	Instr int
}

func (l Location) String() string {
	if l.Instr < 0 {
		return fmt.Sprintf("func %d entry", l.Func)
	}
	return fmt.Sprintf("func %d instr %d", l.Func, l.Instr)
}

// Event is one observed runtime event.
type Event interface {
	Kind() Kind
	Location() Location
}

// Loc is embedded by every event.
type Loc struct {
	At Location
}

func (l Loc) Location() Location { return l.At }

// BeginFunction is emitted on function entry.
type BeginFunction struct {
	Loc
	Args []Value
	Func uint32
}

func (BeginFunction) Kind() Kind { return KindBeginFunction }

// EndFunction is emitted when a function returns, whether by return, by a
// branch to the function label or by falling off its end.
type EndFunction struct {
	Loc
	Results []Value
	Func    uint32
}

func (EndFunction) Kind() Kind { return KindEndFunction }

// CallPre is emitted before a call. For indirect calls Slot is the table
// element index and Callee is valid only when Resolved is set.
type CallPre struct {
	Loc
	Args     []Value
	Callee   uint32
	Table    uint32
	Slot     uint32
	Indirect bool
	Resolved bool
	Tail     bool
}

func (CallPre) Kind() Kind { return KindCallPre }

// CallPost is emitted after a call returns with results.
type CallPost struct {
	Loc
	Results  []Value
	Callee   uint32
	Indirect bool
}

func (CallPost) Kind() Kind { return KindCallPost }

// GlobalAccess is emitted after global.get or global.set.
type GlobalAccess struct {
	Loc
	Value  Value
	Global uint32
	Set    bool
}

func (GlobalAccess) Kind() Kind { return KindGlobal }

// Op returns the instruction name.
func (g GlobalAccess) Op() string {
	if g.Set {
		return "global.set"
	}
	return "global.get"
}

// MemoryAccess is emitted after a load or a store. Addr is the dynamic
// base address; the static offset is added by EffectiveAddr.
type MemoryAccess struct {
	Loc
	Op     string
	Value  Value
	Addr   uint64
	Offset uint64
	Memory uint32
	Align  uint32
	Store  bool
}

func (m MemoryAccess) Kind() Kind {
	if m.Store {
		return KindStore
	}
	return KindLoad
}

// EffectiveAddr returns the accessed address.
func (m MemoryAccess) EffectiveAddr() uint64 { return m.Addr + m.Offset }

// MemoryGrow is emitted after memory.grow. Previous is the old size in
// pages, or -1 when growing failed.
type MemoryGrow struct {
	Loc
	Delta    uint64
	Previous int64
	Memory   uint32
}

func (MemoryGrow) Kind() Kind { return KindMemoryGrow }

// Failed reports whether the memory could not grow.
func (m MemoryGrow) Failed() bool { return m.Previous == -1 }

// TableAccess is emitted after table.get or table.set.
type TableAccess struct {
	Loc
	Value Value
	Table uint32
	Index uint32
	Set   bool
}

func (t TableAccess) Kind() Kind {
	if t.Set {
		return KindTableSet
	}
	return KindTableGet
}

// Payload returns the fields of e as a map, the uniform shape handed to
// onEvent style callbacks and stored by trace sinks.
func Payload(e Event) map[string]any {
	switch ev := e.(type) {
	case BeginFunction:
		return map[string]any{"func": ev.Func, "args": interfaces(ev.Args)}
	case EndFunction:
		return map[string]any{"func": ev.Func, "results": interfaces(ev.Results)}
	case CallPre:
		p := map[string]any{"args": interfaces(ev.Args), "indirect": ev.Indirect, "tail": ev.Tail}
		if !ev.Indirect || ev.Resolved {
			p["func"] = ev.Callee
		}
		if ev.Indirect {
			p["table"] = ev.Table
			p["slot"] = ev.Slot
		}
		return p
	case CallPost:
		p := map[string]any{"results": interfaces(ev.Results), "indirect": ev.Indirect}
		if !ev.Indirect {
			p["func"] = ev.Callee
		}
		return p
	case GlobalAccess:
		return map[string]any{"op": ev.Op(), "index": ev.Global, "value": ev.Value.Interface()}
	case MemoryAccess:
		return map[string]any{
			"op":     ev.Op,
			"memory": ev.Memory,
			"addr":   ev.Addr,
			"offset": ev.Offset,
			"align":  ev.Align,
			"value":  ev.Value.Interface(),
		}
	case MemoryGrow:
		return map[string]any{"memory": ev.Memory, "delta": ev.Delta, "previous": ev.Previous}
	case TableAccess:
		return map[string]any{"table": ev.Table, "index": ev.Index, "value": ev.Value.Interface()}
	}
	return map[string]any{}
}

// Op returns the instruction behind e, or the kind for events without
// one.
func Op(e Event) string {
	switch ev := e.(type) {
	case GlobalAccess:
		return ev.Op()
	case MemoryAccess:
		return ev.Op
	case TableAccess:
		if ev.Set {
			return "table.set"
		}
		return "table.get"
	case MemoryGrow:
		return "memory.grow"
	case CallPre:
		switch {
		case ev.Tail && ev.Indirect:
			return "return_call_indirect"
		case ev.Tail:
			return "return_call"
		case ev.Indirect:
			return "call_indirect"
		}
		return "call"
	}
	return string(e.Kind())
}
