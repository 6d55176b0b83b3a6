package faultlayer

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tetratelabs/wazero-aot/internal/memoryalloc"
	"github.com/tetratelabs/wazero-aot/internal/trap"
)

func TestGuard_refcountsInstall(t *testing.T) {
	require.Equal(t, int32(0), installCount)

	g1 := Install()
	require.Equal(t, int32(1), installCount)

	g2 := Install()
	require.Equal(t, int32(2), installCount)

	g1.Release()
	require.Equal(t, int32(1), installCount)

	// Releasing twice must not double-decrement.
	g1.Release()
	require.Equal(t, int32(1), installCount)

	g2.Release()
	require.Equal(t, int32(0), installCount)
}

func TestComputeStackFence(t *testing.T) {
	top := uintptr(0x7fff00001000)

	fence := ComputeStackFence(top, 0x10000)
	require.Equal(t, top-0x10000, fence)

	// A configured budget larger than the stack top itself has nowhere to
	// go; callers must treat 0 as "every access faults".
	require.Equal(t, uintptr(0), ComputeStackFence(0x1000, 0x2000))
}

func TestHandleMemoryFault(t *testing.T) {
	const pageSize = 65536

	alloc, err := memoryalloc.New(4096, 5, 10, false)
	require.NoError(t, err)
	defer alloc.Close()

	state := &State{Memory: alloc, FunctionIndex: 3, Offset: 0x10}

	// Within declared size but not yet committed: lazily commits, no trap.
	got := HandleMemoryFault(state, pageSize*2+10)
	require.Nil(t, got)
	require.Equal(t, uint32(3), alloc.CommittedPages())

	// Beyond declared size entirely.
	got = HandleMemoryFault(state, pageSize*5)
	require.NotNil(t, got)
	require.Equal(t, trap.LinMemOutOfBoundsAccess, got.Code)
	require.Equal(t, uint32(3), got.FunctionIndex)

	// A nil allocator (module declares no memory) always traps.
	got = HandleMemoryFault(&State{FunctionIndex: 1, Offset: 2}, 0)
	require.NotNil(t, got)
	require.Equal(t, trap.LinMemOutOfBoundsAccess, got.Code)
}

func TestRun_recoversAndClassifiesTrap(t *testing.T) {
	state := &State{FunctionIndex: 7, Offset: 0x40}

	got := Run(state, func() {
		panic(trap.New(trap.DivByZero, 7, 0x40))
	})

	require.NotNil(t, got)
	require.Equal(t, trap.DivByZero, got.Code)
}

func TestRun_classifiesRawGoFaultMessages(t *testing.T) {
	tests := []struct {
		name string
		msg  string
		want trap.Code
	}{
		{"nil deref", "runtime error: invalid memory address or nil pointer dereference", trap.LinMemOutOfBoundsAccess},
		{"index out of range", "runtime error: index out of range [5] with length 3", trap.LinMemOutOfBoundsAccess},
		{"divide by zero", "runtime error: integer divide by zero", trap.DivByZero},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			state := &State{FunctionIndex: 1, Offset: 2}
			got := Run(state, func() {
				panic(tt.msg)
			})
			require.NotNil(t, got)
			require.Equal(t, tt.want, got.Code)
		})
	}
}

func TestRun_reraisesUnrecognizedPanics(t *testing.T) {
	defer func() {
		r := recover()
		require.Equal(t, "not a wasm fault", r)
	}()

	Run(&State{}, func() {
		panic("not a wasm fault")
	})

	t.Fatal("Run should not have returned normally")
}

func TestRun_returnsNilOnNormalCompletion(t *testing.T) {
	got := Run(&State{}, func() {})
	require.Nil(t, got)
}
