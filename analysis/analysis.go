package analysis

import "context"

// Analysis receives runtime events. OnEvent runs synchronously inside the
// hook call, so the guest is paused until it returns.
type Analysis interface {
	OnEvent(ctx context.Context, e Event)
}

// Func adapts a function to Analysis.
type Func func(ctx context.Context, e Event)

func (f Func) OnEvent(ctx context.Context, e Event) { f(ctx, e) }

// Multi fans every event out to each analysis in order.
type Multi []Analysis

func (m Multi) OnEvent(ctx context.Context, e Event) {
	for _, a := range m {
		a.OnEvent(ctx, e)
	}
}

// Filter forwards only events of the given kinds.
func Filter(a Analysis, kinds ...Kind) Analysis {
	want := make(map[Kind]bool, len(kinds))
	for _, k := range kinds {
		want[k] = true
	}
	return Func(func(ctx context.Context, e Event) {
		if want[e.Kind()] {
			a.OnEvent(ctx, e)
		}
	})
}
