package location

import (
	"fmt"

	"github.com/wippyai/wasabi/instrument/internal/hook"
)

// ID identifies one inserted hook call. IDs start at zero and increase by
// one per site.
type ID = int32

// EntryInstr is the instruction ordinal recorded for function entry sites.
const EntryInstr = -1

// Site describes one inserted hook call. Func is the function index in the
// original module; Instr is the ordinal of the instrumented instruction in
// the original body, or EntryInstr.
type Site struct {
	Offset  *uint64      `json:"offset,omitempty"`
	Align   *uint32      `json:"align,omitempty"`
	Memory  *uint32      `json:"memory,omitempty"`
	Table   *uint32      `json:"table,omitempty"`
	Global  *uint32      `json:"global,omitempty"`
	Callee  *uint32      `json:"callee,omitempty"`
	Op      string       `json:"op,omitempty"`
	Type    string       `json:"type,omitempty"`
	Import  string       `json:"import"`
	Variant hook.Variant `json:"variant"`
	Func    uint32       `json:"func"`
	Instr   int          `json:"instr"`
	ID      ID           `json:"id"`
	Hook    hook.Hook    `json:"hook"`
}

// String renders the site as a one-line description.
func (s *Site) String() string {
	where := fmt.Sprintf("func %d instr %d", s.Func, s.Instr)
	if s.Instr == EntryInstr {
		where = fmt.Sprintf("func %d entry", s.Func)
	}
	if s.Op != "" {
		return fmt.Sprintf("#%d %s %s (%s)", s.ID, where, s.Variant, s.Op)
	}
	return fmt.Sprintf("#%d %s %s", s.ID, where, s.Variant)
}

// Registry hands out location ids and keeps their descriptors. It is not
// safe for concurrent use; each instrumentation run owns a fresh registry.
type Registry struct {
	sites []Site
	next  ID
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{}
}

// Next returns a fresh id. Ids are strictly increasing from zero.
func (r *Registry) Next() ID {
	id := r.next
	r.next++
	return id
}

// Describe stores the descriptor of a previously issued id. The site's ID
// field is overwritten with id. Describing an id twice replaces the first
// descriptor.
func (r *Registry) Describe(id ID, site Site) error {
	if id < 0 || id >= r.next {
		return fmt.Errorf("location %d was not issued", id)
	}
	site.ID = id
	for int(id) >= len(r.sites) {
		r.sites = append(r.sites, Site{ID: ID(len(r.sites)), Instr: EntryInstr})
	}
	r.sites[id] = site
	return nil
}

// Add issues an id and describes it in one step.
func (r *Registry) Add(site Site) ID {
	id := r.Next()
	_ = r.Describe(id, site)
	return id
}

// Len returns the number of issued ids.
func (r *Registry) Len() int {
	return int(r.next)
}

// Site returns the descriptor of id.
func (r *Registry) Site(id ID) (Site, bool) {
	if id < 0 || int(id) >= len(r.sites) {
		return Site{}, false
	}
	return r.sites[id], true
}

// Sites returns the descriptors in id order.
func (r *Registry) Sites() []Site {
	out := make([]Site, len(r.sites))
	copy(out, r.sites)
	return out
}
