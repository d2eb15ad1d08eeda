package rewrite

import "github.com/wippyai/wasabi/wasm"

// scratchTypes fixes the order of appended local groups.
var scratchTypes = [...]wasm.ValType{
	wasm.ValI32, wasm.ValI64, wasm.ValF32, wasm.ValF64,
	wasm.ValV128, wasm.ValFuncRef, wasm.ValExtern,
}

const numScratchTypes = len(scratchTypes)

func scratchSlot(t wasm.ValType) int {
	for i, st := range scratchTypes {
		if st == t {
			return i
		}
	}
	return -1
}

// scratch hands out temporary locals appended after a function's declared
// locals. Locals are reused across sites: release returns all of them.
type scratch struct {
	base    uint32
	offsets [numScratchTypes]uint32
	inUse   [numScratchTypes]uint32
	peak    [numScratchTypes]uint32
}

func newScratch(base uint32) *scratch {
	return &scratch{base: base}
}

// fix lays out groups sized by the peak usage of a previous dry run.
func (s *scratch) fix(peak [numScratchTypes]uint32) {
	var off uint32
	for i, n := range peak {
		s.offsets[i] = off
		off += n
	}
	s.peak = peak
}

func (s *scratch) get(t wasm.ValType) uint32 {
	slot := scratchSlot(t)
	k := s.inUse[slot]
	s.inUse[slot]++
	if s.inUse[slot] > s.peak[slot] {
		s.peak[slot] = s.inUse[slot]
	}
	return s.base + s.offsets[slot] + k
}

func (s *scratch) getAll(types []wasm.ValType) []uint32 {
	out := make([]uint32, len(types))
	for i, t := range types {
		out[i] = s.get(t)
	}
	return out
}

func (s *scratch) release() {
	s.inUse = [numScratchTypes]uint32{}
}

func (s *scratch) total() uint64 {
	var n uint64
	for _, p := range s.peak {
		n += uint64(p)
	}
	return n
}

// entries returns the local declarations for the scratch groups.
func (s *scratch) entries() []wasm.LocalEntry {
	var out []wasm.LocalEntry
	for i, n := range s.peak {
		if n > 0 {
			out = append(out, wasm.LocalEntry{Count: n, ValType: scratchTypes[i]})
		}
	}
	return out
}
