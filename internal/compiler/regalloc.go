package compiler

// RegisterAllocator implements spec.md §4.3's two-class register allocator:
// a free list per class (GPR/FPR), and when a class is exhausted, an
// LRU-by-stack-position spill of the oldest still-live occupant of that
// class, preferring to move the victim into a free register of the other
// class and falling back to a temp stack slot. Grounded on the teacher's
// valueLocationStack (internal/engine/compiler/compiler_value_location.go):
// same free-list-plus-steal-from-stack shape, generalized from wazero's
// single implicit class-per-call to the explicit two-class request the spec
// calls for, and from "just spill to stack" to "prefer the other register
// class before spilling to memory". The other-class move is gated by
// sameWidth, which reports false for every class pair, so every spill goes
// to a temp slot.
type RegisterAllocator struct {
	numGPR, numFPR int
	freeGPR        []bool
	freeFPR        []bool

	// nextSlot/freeSlots implement temp-stack-slot bookkeeping: an index
	// space disjoint from registers, reused via free list the same way
	// registers are.
	nextSlot  int
	freeSlots []int

	// forceHighPressure, when set, makes Allocate behave as if every
	// register of the requested class were already in use, forcing the
	// spill path on every allocation. Nothing in this module sets it.
	forceHighPressure bool
}

// NewRegisterAllocator creates an allocator for one function compilation,
// sized to the arch.Backend's register file (numGPR general-purpose,
// numFPR floating-point registers available to the allocator after the
// backend's own reserved registers — frame pointer, link register, zero
// register, scratch — are excluded).
func NewRegisterAllocator(numGPR, numFPR int) *RegisterAllocator {
	return &RegisterAllocator{
		numGPR:  numGPR,
		numFPR:  numFPR,
		freeGPR: allTrue(numGPR),
		freeFPR: allTrue(numFPR),
	}
}

func allTrue(n int) []bool {
	b := make([]bool, n)
	for i := range b {
		b[i] = true
	}
	return b
}

func (a *RegisterAllocator) freeListFor(c RegisterClass) []bool {
	if c == ClassGPR {
		return a.freeGPR
	}
	return a.freeFPR
}

// Allocate returns a register id of the requested class, spilling an
// existing occupant of stack if none is free (spec.md §4.3 step 2: "search
// the live Compile Stack for the register holding the value that was
// pushed longest ago, and spill it").
func (a *RegisterAllocator) Allocate(class RegisterClass, stack *CompileStack) int {
	if !a.forceHighPressure {
		if reg, ok := a.takeFree(class); ok {
			return reg
		}
	}
	return a.spillOldestAndTake(class, stack)
}

func (a *RegisterAllocator) takeFree(class RegisterClass) (int, bool) {
	free := a.freeListFor(class)
	for i, isFree := range free {
		if isFree {
			free[i] = false
			return i, true
		}
	}
	return 0, false
}

// Free returns a register to its class's free list; called by
// CompileStack.Pop and CompileStack.release when a register-backed element
// goes out of scope.
func (a *RegisterAllocator) Free(class RegisterClass, reg int) {
	a.freeListFor(class)[reg] = true
}

// spillOldestAndTake implements the steal: scan the live stack from the
// bottom (oldest) up for the first register-backed element of the
// requested class, relocate it (to a free register of the other class if
// one exists, else to a fresh temp slot), and hand its now-vacated register
// to the caller.
func (a *RegisterAllocator) spillOldestAndTake(class RegisterClass, stack *CompileStack) int {
	elems := stack.Elements()
	for _, e := range elems {
		if e.Kind != ElementRegister || e.Class != class {
			continue
		}
		victimReg := e.Reg
		other := otherClass(class)
		reg, ok := 0, false
		if sameWidth(class, other) {
			reg, ok = a.takeFree(other)
		}
		if ok {
			e.Class = other
			e.Reg = reg
		} else {
			e.Kind = ElementTempSlot
			e.SlotIndex = a.AllocateSlot()
		}
		// victimReg is already free from the allocator's point of view
		// once relocated; mark it taken by the new caller directly rather
		// than free-then-reallocate; in the (rare) high-pressure test mode
		// it may already be marked free.
		a.freeListFor(class)[victimReg] = false
		return victimReg
	}
	panic("BUG: register class exhausted with no register-backed stack element to spill")
}

// sameWidth reports whether a value of one register class can be held in
// the other class's register without reinterpretation loss; the allocator
// relocates a spill victim to the other class only when it reports true.
// It takes no backend and reports false for every pair, so on amd64, arm64
// and riscv32 alike spills always go to a temp slot.
func sameWidth(RegisterClass, RegisterClass) bool { return false }

func otherClass(c RegisterClass) RegisterClass {
	if c == ClassGPR {
		return ClassFPR
	}
	return ClassGPR
}

// AllocateSlot hands out a temp stack slot index, reusing a freed one if
// available (spec.md §4.3: spilled values and explicit TempSlot elements
// share one free-list-backed index space per function).
func (a *RegisterAllocator) AllocateSlot() int {
	if n := len(a.freeSlots); n > 0 {
		s := a.freeSlots[n-1]
		a.freeSlots = a.freeSlots[:n-1]
		return s
	}
	s := a.nextSlot
	a.nextSlot++
	return s
}

// FreeSlot returns a temp slot to the free list.
func (a *RegisterAllocator) FreeSlot(slot int) {
	a.freeSlots = append(a.freeSlots, slot)
}

// FrameSlotCount is the number of temp slots this function's frame must
// reserve, i.e. the high-water mark of AllocateSlot. CompileFunction checks
// it against maxFrameSlots after the body is compiled; the prologue is
// emitted before that and is passed 0 frame slots.
func (a *RegisterAllocator) FrameSlotCount() int { return a.nextSlot }
