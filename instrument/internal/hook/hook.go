package hook

import (
	"fmt"
	"sort"
	"strings"
)

// Hook identifies one event category.
type Hook uint8

const (
	Begin Hook = iota
	End
	Call
	Global
	Load
	Store
	MemoryGrow
	TableGet
	TableSet

	numHooks
)

var hookNames = [numHooks]string{
	Begin:      "begin",
	End:        "end",
	Call:       "call",
	Global:     "global",
	Load:       "load",
	Store:      "store",
	MemoryGrow: "memory_grow",
	TableGet:   "table_get",
	TableSet:   "table_set",
}

var hookTitles = [numHooks]string{
	Begin:      "Begin",
	End:        "End",
	Call:       "Call",
	Global:     "Global",
	Load:       "Load",
	Store:      "Store",
	MemoryGrow: "MemoryGrow",
	TableGet:   "TableGet",
	TableSet:   "TableSet",
}

// All returns every hook in declaration order.
func All() []Hook {
	out := make([]Hook, numHooks)
	for i := range out {
		out[i] = Hook(i)
	}
	return out
}

// String returns the snake case name used in glue code and import names.
func (h Hook) String() string {
	if h < numHooks {
		return hookNames[h]
	}
	return fmt.Sprintf("hook(%d)", uint8(h))
}

// Title returns the camel case name, e.g. "MemoryGrow".
func (h Hook) Title() string {
	if h < numHooks {
		return hookTitles[h]
	}
	return h.String()
}

// MarshalText encodes the hook by its snake case name.
func (h Hook) MarshalText() ([]byte, error) {
	if h >= numHooks {
		return nil, fmt.Errorf("unknown hook %d", uint8(h))
	}
	return []byte(h.String()), nil
}

// UnmarshalText accepts any name Parse accepts.
func (h *Hook) UnmarshalText(text []byte) error {
	v, ok := Parse(string(text))
	if !ok {
		return fmt.Errorf("unknown hook %q", text)
	}
	*h = v
	return nil
}

// Parse resolves a hook name. Snake case ("memory_grow"), camel case
// ("MemoryGrow") and any letter case are accepted.
func Parse(name string) (Hook, bool) {
	key := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(name), "_", ""))
	for i, n := range hookNames {
		if strings.ReplaceAll(n, "_", "") == key {
			return Hook(i), true
		}
	}
	return 0, false
}

// Set is a set of hooks.
type Set uint16

// NewSet creates a set containing hooks.
func NewSet(hooks ...Hook) Set {
	var s Set
	for _, h := range hooks {
		s = s.With(h)
	}
	return s
}

// AllHooks returns the full configuration.
func AllHooks() Set {
	return Set(1<<numHooks - 1)
}

// With returns s plus h.
func (s Set) With(h Hook) Set {
	if h >= numHooks {
		return s
	}
	return s | 1<<h
}

// Has reports whether h is enabled.
func (s Set) Has(h Hook) bool {
	return h < numHooks && s&(1<<h) != 0
}

// Empty reports whether no hook is enabled.
func (s Set) Empty() bool {
	return s&AllHooks() == 0
}

// Len returns the number of enabled hooks.
func (s Set) Len() int {
	n := 0
	for _, h := range All() {
		if s.Has(h) {
			n++
		}
	}
	return n
}

// Hooks returns the enabled hooks in declaration order.
func (s Set) Hooks() []Hook {
	var out []Hook
	for _, h := range All() {
		if s.Has(h) {
			out = append(out, h)
		}
	}
	return out
}

// String renders the set as "all", "empty" or a comma separated list.
func (s Set) String() string {
	switch {
	case s.Empty():
		return "empty"
	case s&AllHooks() == AllHooks():
		return "all"
	}
	names := make([]string, 0, numHooks)
	for _, h := range s.Hooks() {
		names = append(names, h.String())
	}
	return strings.Join(names, ",")
}

// ParseSet parses a hook set: the presets "all" and "empty" (or ""), or a
// comma separated list of hook names. Duplicates are ignored.
func ParseSet(spec string) (Set, error) {
	spec = strings.TrimSpace(spec)
	switch strings.ToLower(spec) {
	case "", "empty", "none":
		return 0, nil
	case "all":
		return AllHooks(), nil
	}
	var s Set
	var unknown []string
	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		h, ok := Parse(part)
		if !ok {
			unknown = append(unknown, part)
			continue
		}
		s = s.With(h)
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return 0, fmt.Errorf("unknown hook(s) %s; valid: %s", strings.Join(unknown, ", "), AllHooks().names())
	}
	return s, nil
}

func (s Set) names() string {
	names := make([]string, 0, numHooks)
	for _, h := range s.Hooks() {
		names = append(names, h.String())
	}
	return strings.Join(names, ", ")
}
