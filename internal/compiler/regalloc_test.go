package compiler

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tetratelabs/wazero-aot/internal/wasm"
)

func TestRegisterAllocator_takeFree(t *testing.T) {
	a := NewRegisterAllocator(2, 1)
	stack := NewCompileStack(a)

	r0 := a.Allocate(ClassGPR, stack)
	r1 := a.Allocate(ClassGPR, stack)
	require.NotEqual(t, r0, r1)

	f0 := a.Allocate(ClassFPR, stack)
	require.Equal(t, 0, f0)
}

func TestRegisterAllocator_spillsOldestOnExhaustion(t *testing.T) {
	a := NewRegisterAllocator(2, 1)
	stack := NewCompileStack(a)

	oldest := stack.PushRegister(wasm.ValueTypeI32)
	_ = stack.PushRegister(wasm.ValueTypeI32)

	// Both GPRs are now live; a third request must spill the oldest
	// live register-backed element (spec.md §4.3 step 2), turning it into
	// a temp slot and handing its register to the new value.
	third := stack.PushRegister(wasm.ValueTypeI32)

	require.Equal(t, third.Reg, oldest.Reg, "the newest allocation should reuse the spilled victim's register id")
	first := stack.Elements()[0]
	require.Equal(t, ElementTempSlot, first.Kind)
}

func TestRegisterAllocator_freeThenReuse(t *testing.T) {
	a := NewRegisterAllocator(1, 1)
	stack := NewCompileStack(a)

	e := stack.PushRegister(wasm.ValueTypeI32)
	reg := e.Reg
	stack.Pop()

	e2 := stack.PushRegister(wasm.ValueTypeI32)
	require.Equal(t, reg, e2.Reg, "a freed register should be reused before spilling")
}

func TestRegisterAllocator_slotFreeListReuse(t *testing.T) {
	a := NewRegisterAllocator(0, 0)
	s1 := a.AllocateSlot()
	a.FreeSlot(s1)
	s2 := a.AllocateSlot()
	require.Equal(t, s1, s2)
	require.Equal(t, 1, a.FrameSlotCount())
}
