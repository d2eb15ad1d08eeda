package luascript

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"

	"github.com/wippyai/wasabi/analysis"
)

// ErrClosed is returned when using a closed script.
var ErrClosed = errors.New("lua script closed")

// Options configures Load.
type Options struct {
	Logger *zap.Logger
	// Name identifies the script in logs and error messages.
	Name string
}

// Script is an analysis implemented in Lua. Calls are serialized.
type Script struct {
	L       *lua.LState
	logger  *zap.Logger
	onEvent *lua.LFunction
	named   map[analysis.Kind]*lua.LFunction
	name    string
	errors  int
	closed  bool
	mu      sync.Mutex
}

// callbacks maps event kinds to the named script callbacks.
var callbacks = map[analysis.Kind]string{
	analysis.KindBeginFunction: "begin_function",
	analysis.KindEndFunction:   "return_",
	analysis.KindCallPre:       "call_pre",
	analysis.KindCallPost:      "call_post",
	analysis.KindGlobal:        "global",
	analysis.KindLoad:          "load",
	analysis.KindStore:         "store",
	analysis.KindMemoryGrow:    "memory_grow",
	analysis.KindTableGet:      "table_get",
	analysis.KindTableSet:      "table_set",
}

// Load runs source and binds its callbacks.
func Load(source string, opts Options) (*Script, error) {
	s := newScript(opts)
	if err := s.L.DoString(source); err != nil {
		s.L.Close()
		return nil, fmt.Errorf("load %s: %w", s.name, err)
	}
	if err := s.bind(); err != nil {
		s.L.Close()
		return nil, err
	}
	return s, nil
}

// LoadFile reads and loads the script at path.
func LoadFile(path string, opts Options) (*Script, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if opts.Name == "" {
		opts.Name = path
	}
	return Load(string(src), opts)
}

func newScript(opts Options) *Script {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	lua.OpenBase(L)
	lua.OpenTable(L)
	lua.OpenString(L)
	lua.OpenMath(L)
	for _, name := range []string{"dofile", "loadfile", "load", "loadstring", "require", "module"} {
		L.SetGlobal(name, lua.LNil)
	}

	s := &Script{L: L, logger: opts.Logger, name: opts.Name, named: make(map[analysis.Kind]*lua.LFunction)}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.name == "" {
		s.name = "script"
	}
	return s
}

func (s *Script) bind() error {
	if fn, ok := s.L.GetGlobal("on_event").(*lua.LFunction); ok {
		s.onEvent = fn
		return nil
	}
	for kind, name := range callbacks {
		if fn, ok := s.L.GetGlobal(name).(*lua.LFunction); ok {
			s.named[kind] = fn
		}
	}
	if len(s.named) == 0 {
		return fmt.Errorf("%s defines no callbacks", s.name)
	}
	return nil
}

// Kinds returns the event kinds the script handles.
func (s *Script) Kinds() []analysis.Kind {
	if s.onEvent != nil {
		return analysis.Kinds()
	}
	out := make([]analysis.Kind, 0, len(s.named))
	for k := range s.named {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (s *Script) OnEvent(_ context.Context, e analysis.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	var fn *lua.LFunction
	var args []lua.LValue
	if s.onEvent != nil {
		fn = s.onEvent
		args = []lua.LValue{lua.LString(e.Kind()), s.location(e), s.toLua(analysis.Payload(e))}
	} else {
		fn = s.named[e.Kind()]
		if fn == nil {
			return
		}
		args = s.namedArgs(e)
	}

	if err := s.L.CallByParam(lua.P{Fn: fn, NRet: 0, Protect: true}, args...); err != nil {
		s.errors++
		s.logger.Warn("lua callback failed",
			zap.String("script", s.name),
			zap.String("kind", string(e.Kind())),
			zap.Error(err),
		)
	}
}

func (s *Script) namedArgs(e analysis.Event) []lua.LValue {
	loc := s.location(e)
	switch ev := e.(type) {
	case analysis.BeginFunction:
		return []lua.LValue{loc, s.values(ev.Args)}
	case analysis.EndFunction:
		return []lua.LValue{loc, s.values(ev.Results)}
	case analysis.CallPre:
		callee, slot := lua.LValue(lua.LNil), lua.LValue(lua.LNil)
		if !ev.Indirect || ev.Resolved {
			callee = lua.LNumber(ev.Callee)
		}
		if ev.Indirect {
			slot = lua.LNumber(ev.Slot)
		}
		return []lua.LValue{loc, callee, s.values(ev.Args), slot}
	case analysis.CallPost:
		return []lua.LValue{loc, s.values(ev.Results)}
	case analysis.GlobalAccess:
		return []lua.LValue{loc, lua.LString(ev.Op()), lua.LNumber(ev.Global), s.toLua(ev.Value.Interface())}
	case analysis.MemoryAccess:
		memarg := s.L.NewTable()
		memarg.RawSetString("addr", lua.LNumber(ev.Addr))
		memarg.RawSetString("offset", lua.LNumber(ev.Offset))
		memarg.RawSetString("align", lua.LNumber(ev.Align))
		return []lua.LValue{loc, lua.LString(ev.Op), memarg, s.toLua(ev.Value.Interface())}
	case analysis.MemoryGrow:
		return []lua.LValue{loc, lua.LNumber(ev.Delta), lua.LNumber(ev.Previous)}
	case analysis.TableAccess:
		return []lua.LValue{loc, lua.LNumber(ev.Index), s.toLua(ev.Value.Interface())}
	}
	return []lua.LValue{loc}
}

func (s *Script) location(e analysis.Event) *lua.LTable {
	l := e.Location()
	t := s.L.NewTable()
	t.RawSetString("id", lua.LNumber(l.ID))
	t.RawSetString("func", lua.LNumber(l.Func))
	t.RawSetString("instr", lua.LNumber(l.Instr))
	return t
}

func (s *Script) values(vs []analysis.Value) *lua.LTable {
	t := s.L.NewTable()
	for _, v := range vs {
		t.Append(s.toLua(v.Interface()))
	}
	return t
}

func (s *Script) toLua(v any) lua.LValue {
	switch x := v.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(x)
	case string:
		return lua.LString(x)
	case int:
		return lua.LNumber(x)
	case int32:
		return lua.LNumber(x)
	case int64:
		return lua.LNumber(x)
	case uint32:
		return lua.LNumber(x)
	case uint64:
		return lua.LNumber(x)
	case float32:
		return lua.LNumber(x)
	case float64:
		return lua.LNumber(x)
	case []any:
		t := s.L.NewTable()
		for _, item := range x {
			t.Append(s.toLua(item))
		}
		return t
	case map[string]any:
		t := s.L.NewTable()
		for k, item := range x {
			t.RawSetString(k, s.toLua(item))
		}
		return t
	}
	return lua.LString(fmt.Sprint(v))
}

// Errors returns the number of failed callback invocations.
func (s *Script) Errors() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errors
}

// Global returns the Go value of a script global. Tables become maps or
// slices.
func (s *Script) Global(name string) (any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	return fromLua(s.L.GetGlobal(name)), nil
}

// Close releases the Lua state.
func (s *Script) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		s.L.Close()
	}
}

func fromLua(lv lua.LValue) any {
	switch v := lv.(type) {
	case lua.LBool:
		return bool(v)
	case lua.LNumber:
		f := float64(v)
		if f == float64(int64(f)) {
			return int64(f)
		}
		return f
	case lua.LString:
		return string(v)
	case *lua.LTable:
		if n := v.Len(); n > 0 {
			out := make([]any, 0, n)
			for i := 1; i <= n; i++ {
				out = append(out, fromLua(v.RawGetInt(i)))
			}
			return out
		}
		out := make(map[string]any)
		v.ForEach(func(k, item lua.LValue) {
			out[k.String()] = fromLua(item)
		})
		return out
	}
	return nil
}
