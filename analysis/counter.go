package analysis

import (
	"context"
	"sort"
	"sync"
)

// Counter counts events per kind and per instruction.
type Counter struct {
	kinds map[Kind]uint64
	ops   map[string]uint64
	mu    sync.Mutex
}

// NewCounter creates an empty counter.
func NewCounter() *Counter {
	return &Counter{kinds: make(map[Kind]uint64), ops: make(map[string]uint64)}
}

func (c *Counter) OnEvent(_ context.Context, e Event) {
	c.mu.Lock()
	c.kinds[e.Kind()]++
	c.ops[Op(e)]++
	c.mu.Unlock()
}

// Count returns the number of events of kind k.
func (c *Counter) Count(k Kind) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.kinds[k]
}

// OpCount returns the number of events produced by instruction op.
func (c *Counter) OpCount(op string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ops[op]
}

// Total returns the number of events seen.
func (c *Counter) Total() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	var n uint64
	for _, v := range c.kinds {
		n += v
	}
	return n
}

// KindCount is one row of a counter summary.
type KindCount struct {
	Kind  Kind
	Count uint64
}

// Summary returns the non-zero counts in Kinds order.
func (c *Counter) Summary() []KindCount {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []KindCount
	for _, k := range Kinds() {
		if n := c.kinds[k]; n > 0 {
			out = append(out, KindCount{Kind: k, Count: n})
		}
	}
	return out
}

// OpRow is one row of an instruction summary.
type OpRow struct {
	Op    string
	Count uint64
}

// Ops returns the per-instruction counts, most frequent first.
func (c *Counter) Ops() []OpRow {
	c.mu.Lock()
	out := make([]OpRow, 0, len(c.ops))
	for op, n := range c.ops {
		out = append(out, OpRow{Op: op, Count: n})
	}
	c.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Op < out[j].Op
	})
	return out
}

// Reset clears all counts.
func (c *Counter) Reset() {
	c.mu.Lock()
	c.kinds = make(map[Kind]uint64)
	c.ops = make(map[string]uint64)
	c.mu.Unlock()
}
