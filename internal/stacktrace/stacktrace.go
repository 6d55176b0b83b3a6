// Package stacktrace implements the bounded ring of live Wasm function
// indices spec.md §3 calls the "stacktrace ring" and §4.5/§8 describe in
// more detail: function prologue code pushes the current function index
// on entry, epilogue code pops on exit, and a trap snapshots whatever is
// live at that instant, innermost frame first.
package stacktrace

// MaxCapacity is the API-enforced ceiling (spec.md §9 "the maximum
// enforced at the API is 50"); Runtime.Compile clamps any configured
// record count to this before it reaches the binary trailer's flags_u32.
const MaxCapacity = 50

// Ring is a fixed-capacity circular buffer of Wasm function indices. It
// is not safe for concurrent use: spec.md §5 "Shared resources" assigns
// the stacktrace ring to the single executing thread, same as the rest
// of a Runtime's mutable state while a call is in flight.
type Ring struct {
	slots []uint32
	depth uint32 // current live call depth; also the running push count minus pop count.
}

// NewRing allocates a ring of the given capacity. A capacity of 0
// disables stacktrace recording entirely: Push/Pop still track depth but
// Snapshot always returns nil, matching "stacktrace is available on
// every trap if the module was compiled with a non-zero record count"
// (spec.md §7).
func NewRing(capacity uint32) *Ring {
	if capacity > MaxCapacity {
		capacity = MaxCapacity
	}
	return &Ring{slots: make([]uint32, capacity)}
}

// Capacity returns the ring's configured size.
func (r *Ring) Capacity() uint32 {
	return uint32(len(r.slots))
}

// Depth returns the current live call depth, which can exceed Capacity:
// once it does, the oldest frames are no longer recoverable, only
// overwritten in place by newer pushes at the same modular slot.
func (r *Ring) Depth() uint32 {
	return r.depth
}

// Push records functionIndex as the newest frame, called by a compiled
// function's prologue on entry.
func (r *Ring) Push(functionIndex uint32) {
	if len(r.slots) > 0 {
		r.slots[r.depth%uint32(len(r.slots))] = functionIndex
	}
	r.depth++
}

// Pop discards the newest frame, called by a compiled function's
// epilogue on a normal return.
func (r *Ring) Pop() {
	if r.depth > 0 {
		r.depth--
	}
}

// Snapshot returns up to min(Depth(), Capacity()) live function indices,
// innermost frame first — the order spec.md §8's deep-stack-trap example
// requires ("the trap's stacktrace is exactly [trap, 8, 7, ...]").
func (r *Ring) Snapshot() []uint32 {
	capacity := uint32(len(r.slots))
	if capacity == 0 || r.depth == 0 {
		return nil
	}
	n := r.depth
	if n > capacity {
		n = capacity
	}
	out := make([]uint32, n)
	for i := uint32(0); i < n; i++ {
		slot := (r.depth - 1 - i) % capacity
		out[i] = r.slots[slot]
	}
	return out
}

// Frame pairs a raw function index from a Snapshot with its debug name,
// resolved from a Binary Module's function-names section. Name is empty
// when the module carries no name for that index.
type Frame struct {
	FunctionIndex uint32
	Name          string
}

// Resolve attaches names to a raw Snapshot using names, a
// function-index-to-name lookup built once from a decoded Module's
// FunctionNames (internal/binaryformat.Module).
func Resolve(indices []uint32, names map[uint32]string) []Frame {
	frames := make([]Frame, len(indices))
	for i, idx := range indices {
		frames[i] = Frame{FunctionIndex: idx, Name: names[idx]}
	}
	return frames
}

// NameTable builds the index used by Resolve from a decoded Binary
// Module's function-names list.
func NameTable(wasmIndices []uint32, names []string) map[uint32]string {
	table := make(map[uint32]string, len(names))
	for i, n := range names {
		if i < len(wasmIndices) {
			table[wasmIndices[i]] = n
		}
	}
	return table
}
