// Package compiler implements the Compile Stack, Register Allocator, and
// Frontend driver of spec.md §4.3–§4.5: the single-pass streaming compiler
// that turns one validated Wasm function body into native code, emitted
// through an arch.Backend (internal/compiler/arch).
package compiler

import (
	"github.com/tetratelabs/wazero-aot/internal/wasm"
)

// ElementKind tags which of the five Compile Stack Element variants
// (spec.md §3) a stackElement currently is. Modeled as a closed tagged
// union over an enum, per spec.md §9 "do not model with dynamic dispatch —
// the set is closed and small", directly mirroring the teacher's
// valueLocation (internal/engine/compiler/compiler_value_location.go),
// generalized from "register-or-stack" to the full five-variant union the
// spec calls for.
type ElementKind byte

const (
	ElementConstant ElementKind = iota
	ElementLocal
	ElementTempSlot
	ElementRegister
	ElementDummy
)

// RegisterClass is GPR or FPR; a Register element's class must match its
// machine type's class (spec.md §3 invariant ii).
type RegisterClass byte

const (
	ClassGPR RegisterClass = iota
	ClassFPR
)

func classOf(t wasm.ValueType) RegisterClass {
	if t == wasm.ValueTypeF32 || t == wasm.ValueTypeF64 {
		return ClassFPR
	}
	return ClassGPR
}

// stackElement is one Compile Stack Element (spec.md §3): tagged by Kind,
// carrying its machine Type and whichever payload its Kind uses.
type stackElement struct {
	Kind ElementKind
	Type wasm.ValueType

	// ElementConstant
	ConstBits uint64

	// ElementLocal
	LocalIndex uint32

	// ElementTempSlot
	SlotIndex int

	// ElementRegister
	Reg   int // backend-assigned physical register id; semantics owned by arch.Backend.
	Class RegisterClass
}

func constElement(t wasm.ValueType, bits uint64) *stackElement {
	return &stackElement{Kind: ElementConstant, Type: t, ConstBits: bits}
}

func localElement(t wasm.ValueType, idx uint32) *stackElement {
	return &stackElement{Kind: ElementLocal, Type: t, LocalIndex: idx}
}

func tempSlotElement(t wasm.ValueType, slot int) *stackElement {
	return &stackElement{Kind: ElementTempSlot, Type: t, SlotIndex: slot}
}

func registerElement(t wasm.ValueType, reg int) *stackElement {
	return &stackElement{Kind: ElementRegister, Type: t, Reg: reg, Class: classOf(t)}
}

func dummyElement(t wasm.ValueType) *stackElement {
	return &stackElement{Kind: ElementDummy, Type: t}
}

// CompileStack is the operand stack of Stack Elements driven on the fly as
// the frontend walks instructions (spec.md §3 "Compile Stack Element", §4.3
// "Compile stack & register allocator"). Unlike wasm.Validator (which
// tracks only *types*), CompileStack tracks *provenance*: where each
// operand's value currently lives, so arithmetic/call lowering can fold a
// constant or local straight into an addressing mode instead of forcing it
// into a register first.
type CompileStack struct {
	elems []*stackElement
	alloc *RegisterAllocator
}

// NewCompileStack creates an operand stack bound to one function's register
// allocator; a fresh CompileStack (and RegisterAllocator) is created per
// function body, matching spec.md's per-function frame model.
func NewCompileStack(alloc *RegisterAllocator) *CompileStack {
	return &CompileStack{alloc: alloc}
}

func (s *CompileStack) Push(e *stackElement) { s.elems = append(s.elems, e) }

func (s *CompileStack) PushConstant(t wasm.ValueType, bits uint64) {
	s.Push(constElement(t, bits))
}

func (s *CompileStack) PushLocal(t wasm.ValueType, idx uint32) {
	s.Push(localElement(t, idx))
}

func (s *CompileStack) PushDummy(t wasm.ValueType) {
	s.Push(dummyElement(t))
}

// PushRegister allocates a fresh register of the type's class and pushes it,
// returning the element so the caller can emit code that writes into
// e.Reg.
func (s *CompileStack) PushRegister(t wasm.ValueType) *stackElement {
	reg := s.alloc.Allocate(classOf(t), s)
	e := registerElement(t, reg)
	s.Push(e)
	return e
}

// Pop removes and returns the top element, releasing its backing storage
// (register freed, or slot marked unused) per spec.md §3 invariant (iv).
func (s *CompileStack) Pop() *stackElement {
	n := len(s.elems)
	e := s.elems[n-1]
	s.elems = s.elems[:n-1]
	s.release(e)
	return e
}

// Peek returns the top element without popping it or releasing storage.
func (s *CompileStack) Peek() *stackElement {
	return s.elems[len(s.elems)-1]
}

// PeekAt returns the element `depthFromTop` below the top (0 = top),
// without popping.
func (s *CompileStack) PeekAt(depthFromTop int) *stackElement {
	return s.elems[len(s.elems)-1-depthFromTop]
}

func (s *CompileStack) release(e *stackElement) {
	switch e.Kind {
	case ElementRegister:
		s.alloc.Free(e.Class, e.Reg)
	case ElementTempSlot:
		s.alloc.FreeSlot(e.SlotIndex)
	}
}

// Height is the current operand count, used by the frontend to compute how
// many values a block produced relative to its entry height.
func (s *CompileStack) Height() int { return len(s.elems) }

// Truncate drops every element above height, releasing their storage; used
// when a branch discards values below formally-unreachable code, and at
// block/loop/if entry and exit to restore the stack to its declared shape.
func (s *CompileStack) Truncate(height int) {
	for len(s.elems) > height {
		s.Pop()
	}
}

// Snapshot/Restore let the frontend save the stack's shape before a
// conditionally-taken branch (e.g. the start of an `if`'s then-branch) and
// restore it for the else-branch, matching spec.md §4.3's requirement that
// register/slot assignments are consistent across both arms at the join
// point. CompileFunction does not call them, and no backend reconciles
// register/slot assignments at `else`/`end`.
func (s *CompileStack) Snapshot() []*stackElement {
	cp := make([]*stackElement, len(s.elems))
	for i, e := range s.elems {
		c := *e
		cp[i] = &c
	}
	return cp
}

func (s *CompileStack) Restore(snap []*stackElement) {
	s.elems = snap
}

// Elements exposes the live elements for the register allocator's
// steal-the-oldest-occupant search (spec.md §4.3 step 2).
func (s *CompileStack) Elements() []*stackElement { return s.elems }
