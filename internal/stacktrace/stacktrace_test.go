package stacktrace

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRing_deepStackTrapWithinCapacity(t *testing.T) {
	// Module of 13 functions chained long -> 1 -> 2 -> ... -> 8 -> trap
	// (spec.md §8's deep-stack-trap property). Capacity 16 holds the whole
	// 10-frame chain.
	r := NewRing(16)
	chain := []uint32{100 /* long */, 1, 2, 3, 4, 5, 6, 7, 8, 200 /* trap */}
	for _, fn := range chain {
		r.Push(fn)
	}

	got := r.Snapshot()
	want := []uint32{200, 8, 7, 6, 5, 4, 3, 2, 1, 100}
	require.Equal(t, want, got)
}

func TestRing_deepStackTrapBeyondCapacity(t *testing.T) {
	r := NewRing(3)
	chain := []uint32{100, 1, 2, 3, 4, 5, 6, 7, 8, 200}
	for _, fn := range chain {
		r.Push(fn)
	}

	// Capacity 3: only the innermost three survive.
	require.Equal(t, []uint32{200, 8, 7}, r.Snapshot())
}

func TestRing_popUnwindsFrames(t *testing.T) {
	r := NewRing(4)
	r.Push(1)
	r.Push(2)
	r.Push(3)
	r.Pop()
	require.Equal(t, []uint32{2, 1}, r.Snapshot())

	r.Push(4)
	require.Equal(t, []uint32{4, 2, 1}, r.Snapshot())
}

func TestRing_zeroCapacityDisablesRecording(t *testing.T) {
	r := NewRing(0)
	r.Push(1)
	r.Push(2)
	require.Nil(t, r.Snapshot())
	require.Equal(t, uint32(2), r.Depth())
}

func TestRing_capacityClampedToMax(t *testing.T) {
	r := NewRing(1000)
	require.Equal(t, uint32(MaxCapacity), r.Capacity())
}

func TestRing_popOnEmptyIsNoop(t *testing.T) {
	r := NewRing(4)
	r.Pop()
	require.Equal(t, uint32(0), r.Depth())
}

func TestResolveAndNameTable(t *testing.T) {
	names := NameTable([]uint32{0, 1}, []string{"addTwo", "_start"})
	frames := Resolve([]uint32{1, 0, 99}, names)

	require.Equal(t, []Frame{
		{FunctionIndex: 1, Name: "_start"},
		{FunctionIndex: 0, Name: "addTwo"},
		{FunctionIndex: 99, Name: ""},
	}, frames)
}
