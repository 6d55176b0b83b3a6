// Package memoryalloc implements the passive-protection Linear Memory
// Allocator (spec.md §4.7): one OS reservation sized for basedata plus the
// full 4 GiB Wasm address space plus a trailing guard region, committed
// lazily one page at a time as the running module touches it.
package memoryalloc

import (
	"errors"
	"fmt"
	"sync"

	"github.com/tetratelabs/wazero-aot/internal/platform"
	"github.com/tetratelabs/wazero-aot/internal/wasm"
)

// ErrLimitExceeded is returned by Extend when growing would exceed the
// currently configured memory limit; the caller (the Runtime) turns this
// into a LINMEM_COULDNOTEXTEND trap.
var ErrLimitExceeded = errors.New("linear memory limit exceeded")

// ErrOutOfBounds is returned by Probe when the offset is at or beyond the
// currently declared linear-memory size; the caller turns this into a
// LINMEM_OUTOFBOUNDSACCESS trap.
var ErrOutOfBounds = errors.New("linear memory access out of bounds")

// ErrLimitBelowUsage is returned by SetLimitPages when the requested limit
// is below the currently declared linear-memory size.
var ErrLimitBelowUsage = errors.New("requested memory limit is below committed size")

// maxLinearMemoryBytes is the Wasm MVP hard ceiling: 65536 pages (4 GiB).
const maxLinearMemoryBytes = uint64(wasm.MemoryMaxPages) * wasm.MemoryPageSize

// guardBytes is the offset_guard region spec.md §4.7 places after the full
// 4 GiB address space: large enough that any 32-bit addr+offset+width
// computed by a backend's bare load/store either lands inside the 4 GiB
// memory or inside this guard, never past the reservation.
const guardBytes = maxLinearMemoryBytes + wasm.MemoryPageSize

// Allocator is one module instance's Linear Memory Allocator. It owns a
// single virtual memory reservation split into three regions: basedata
// (link data, committed once up front), linear memory (committed
// page-by-page on demand up to the configured limit), and the guard.
type Allocator struct {
	mu sync.Mutex

	res          *platform.Reservation
	basedataSize uint64 // page-rounded.

	committedBytes uint64 // linear memory bytes physically backed by OS pages, always a multiple of wasm.MemoryPageSize.
	declaredBytes  uint64 // Wasm-visible memory.size() in bytes; may run ahead of committedBytes only for the initial pages when New is called with eagerCommit false.
	limitBytes     uint64 // linear memory byte ceiling; Extend never declares past this.
}

// New reserves address space for one module instance. basedataSize is the
// link-data region's byte size (rounded up to the OS page size and
// committed immediately); initialPages is the module's declared initial
// linear memory size; limitPages is the RAM limit in pages (InitFromCompiled
// passes wasm.MemoryMaxPages); eagerCommit forces initialPages to
// be committed immediately instead of left to lazy first-touch.
func New(basedataSize uint64, initialPages, limitPages uint32, eagerCommit bool) (*Allocator, error) {
	pageSize := uint64(platform.PageSize)
	roundedBasedata := roundUp(basedataSize, pageSize)

	total := roundedBasedata + maxLinearMemoryBytes + guardBytes
	res, err := platform.ReserveAddressSpace(int(total))
	if err != nil {
		return nil, fmt.Errorf("reserve linear memory address space: %w", err)
	}

	a := &Allocator{
		res:          res,
		basedataSize: roundedBasedata,
		limitBytes:   uint64(limitPages) * wasm.MemoryPageSize,
	}

	if roundedBasedata > 0 {
		if err := res.Commit(0, int(roundedBasedata)); err != nil {
			_ = res.Release()
			return nil, fmt.Errorf("commit basedata region: %w", err)
		}
	}

	initialBytes := uint64(initialPages) * wasm.MemoryPageSize
	if initialBytes > a.limitBytes {
		_ = res.Release()
		return nil, fmt.Errorf("initial pages exceed memory limit: %w", ErrLimitExceeded)
	}
	a.declaredBytes = initialBytes

	if eagerCommit && initialPages > 0 {
		if err := a.commitUpToLocked(initialBytes); err != nil {
			_ = res.Release()
			return nil, err
		}
	}

	return a, nil
}

// Close releases the entire reservation. The Allocator must not be used
// afterward.
func (a *Allocator) Close() error {
	return a.res.Release()
}

// Base returns the reservation's base address as a byte slice spanning the
// whole reservation (basedata + linear memory + guard); indexing past
// CommittedPages()*MemoryPageSize but before the guard is only valid once
// Probe or Extend has committed that page.
func (a *Allocator) Base() []byte {
	return a.res.Addr()
}

// LinearMemoryBase returns the byte offset within Base() where linear
// memory (Wasm address 0) begins.
func (a *Allocator) LinearMemoryBase() uint64 {
	return a.basedataSize
}

// CommittedPages returns the number of Wasm pages physically backed by OS
// pages right now; it can run behind DeclaredPages when the module was
// constructed with eagerCommit false and nothing has touched its initial
// pages yet.
func (a *Allocator) CommittedPages() uint32 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return uint32(a.committedBytes / wasm.MemoryPageSize)
}

// DeclaredPages returns the Wasm-visible memory.size(): the page count the
// module itself believes it has, regardless of how much of that is
// physically committed.
func (a *Allocator) DeclaredPages() uint32 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return uint32(a.declaredBytes / wasm.MemoryPageSize)
}

// Extend is the backing operation for a Wasm memory.grow: it both raises
// declared size and eagerly commits the new pages, per spec.md §8 invariant
// 4 ("monotone commit"). A call with newPages <= the already-declared page
// count is a no-op that returns the unchanged current size, never a
// shrink. Returns the declared page count after the call.
func (a *Allocator) Extend(newPages uint32) (uint32, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	newBytes := uint64(newPages) * wasm.MemoryPageSize
	if newBytes <= a.declaredBytes {
		return uint32(a.declaredBytes / wasm.MemoryPageSize), nil
	}
	if newBytes > a.limitBytes || newBytes > maxLinearMemoryBytes {
		return uint32(a.declaredBytes / wasm.MemoryPageSize), ErrLimitExceeded
	}

	if err := a.commitUpToLocked(newBytes); err != nil {
		return uint32(a.declaredBytes / wasm.MemoryPageSize), err
	}
	a.declaredBytes = newBytes
	return newPages, nil
}

// Shrink is a Runtime-level administrative operation (distinct from
// memory.grow, which never shrinks): it lowers both declared size and
// committed size together, uncommitting trailing pages down to
// page-aligned min, the only way committed size decreases (spec.md §8
// invariant 4).
func (a *Allocator) Shrink(minPages uint32) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	minBytes := uint64(minPages) * wasm.MemoryPageSize
	if minBytes >= a.declaredBytes {
		return nil
	}
	if minBytes < a.committedBytes {
		if err := a.res.Uncommit(int(a.basedataSize+minBytes), int(a.committedBytes-minBytes)); err != nil {
			return fmt.Errorf("uncommit linear memory pages: %w", err)
		}
		a.committedBytes = minBytes
	}
	a.declaredBytes = minBytes
	return nil
}

// Probe is called by faultlayer.HandleMemoryFault (which nothing in the
// runtime calls on a page fault). offset is a Wasm-relative linear memory
// byte offset. If offset lies beyond the module's current declared size, the
// access is genuinely out of bounds (LINMEM_OUTOFBOUNDSACCESS); otherwise
// it is one of the initial pages that eagerCommit left uncommitted, so the
// containing page is committed and Probe returns nil.
func (a *Allocator) Probe(offset uint64) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if offset >= a.declaredBytes {
		return ErrOutOfBounds
	}
	pageSize := uint64(wasm.MemoryPageSize)
	pageStart := (offset / pageSize) * pageSize
	if pageStart < a.committedBytes {
		// Already committed; a concurrent Extend raced ahead of this fault,
		// or this is a spurious re-fault. Either way there is nothing to do.
		return nil
	}
	if err := a.commitUpToLocked(pageStart + pageSize); err != nil {
		return fmt.Errorf("commit page at offset %d: %w", offset, err)
	}
	return nil
}

// SetLimitPages atomically changes the configured RAM limit. It fails if
// the new limit is below the memory currently declared in use, per
// spec.md §4.7's "setting below current usage fails".
func (a *Allocator) SetLimitPages(limitPages uint32) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	newLimit := uint64(limitPages) * wasm.MemoryPageSize
	if newLimit < a.declaredBytes {
		return ErrLimitBelowUsage
	}
	a.limitBytes = newLimit
	return nil
}

// commitUpToLocked physically commits [committedBytes, target) via the
// reservation. Callers must hold a.mu.
func (a *Allocator) commitUpToLocked(target uint64) error {
	if target <= a.committedBytes {
		return nil
	}
	if err := a.res.Commit(int(a.basedataSize+a.committedBytes), int(target-a.committedBytes)); err != nil {
		return fmt.Errorf("commit linear memory pages: %w", err)
	}
	a.committedBytes = target
	return nil
}

func roundUp(v, align uint64) uint64 {
	if align == 0 {
		return v
	}
	rem := v % align
	if rem == 0 {
		return v
	}
	return v + (align - rem)
}
