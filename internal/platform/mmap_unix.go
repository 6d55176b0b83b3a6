//go:build linux || darwin

package platform

import (
	"fmt"

	"golang.org/x/sys/unix"
)

func osPageSize() int {
	return unix.Getpagesize()
}

// Reservation is a contiguous region of address space obtained with
// ReserveAddressSpace. Pages inside it are PROT_NONE until Commit is called
// on them; touching an uncommitted page faults.
type Reservation struct {
	data []byte
}

// Addr returns the base address of the reservation as a byte slice spanning
// its full reserved length. Indexing into bytes that are not yet committed
// is undefined behavior from the OS's perspective (SIGSEGV/SIGBUS) until
// Commit is called.
func (r *Reservation) Addr() []byte { return r.data }

func (r *Reservation) Len() int { return len(r.data) }

// ReserveAddressSpace reserves (but does not commit) length bytes of
// address space, rounded up to the OS page size. The reservation is
// released by Release.
func ReserveAddressSpace(length int) (*Reservation, error) {
	if length == 0 {
		panic("BUG: ReserveAddressSpace with zero length")
	}
	b, err := unix.Mmap(-1, 0, length, unix.PROT_NONE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, fmt.Errorf("mmap reservation: %w", err)
	}
	return &Reservation{data: b}, nil
}

// Release unmaps the entire reservation, committed or not.
func (r *Reservation) Release() error {
	if len(r.data) == 0 {
		panic("BUG: Release with zero length")
	}
	return unix.Munmap(r.data)
}

// Commit makes [offset, offset+length) inside the reservation readable and
// writable. offset and length must already be page-aligned; callers (the
// linear memory allocator) are responsible for that rounding since only it
// knows the configured page size policy.
func (r *Reservation) Commit(offset, length int) error {
	return unix.Mprotect(r.data[offset:offset+length], unix.PROT_READ|unix.PROT_WRITE)
}

// Uncommit reverts [offset, offset+length) back to PROT_NONE, releasing the
// physical pages backing it back to the OS (MADV_DONTNEED) so resident set
// size actually shrinks, not just protection bits.
func (r *Reservation) Uncommit(offset, length int) error {
	region := r.data[offset : offset+length]
	if err := unix.Mprotect(region, unix.PROT_NONE); err != nil {
		return err
	}
	return unix.Madvise(region, unix.MADV_DONTNEED)
}

// MappedCode is an executable mapping owned by the runtime loading one
// Binary Module. Dropping it (Unmap) invalidates every pointer derived
// from it; the owning Runtime must not be used afterward.
type MappedCode struct {
	data []byte
}

func (m *MappedCode) Bytes() []byte { return m.data }

// MmapCodeSegment copies code into a fresh, page-backed mapping of the same
// length, switches it to read+execute and flushes the instruction cache
// over it.
func MmapCodeSegment(code []byte) (*MappedCode, error) {
	if len(code) == 0 {
		panic("BUG: MmapCodeSegment with zero length")
	}
	b, err := unix.Mmap(-1, 0, len(code), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, fmt.Errorf("mmap code segment: %w", err)
	}
	copy(b, code)
	if err := unix.Mprotect(b, unix.PROT_READ|unix.PROT_EXEC); err != nil {
		_ = unix.Munmap(b)
		return nil, fmt.Errorf("mprotect code segment RX: %w", err)
	}
	FlushInstructionCache(b)
	return &MappedCode{data: b}, nil
}

// MunmapCodeSegment releases a mapping obtained from MmapCodeSegment.
// Calling it twice on the same slice is an error, mirroring raw munmap(2).
func MunmapCodeSegment(code []byte) error {
	if len(code) == 0 {
		panic("BUG: MunmapCodeSegment with zero length")
	}
	return unix.Munmap(code)
}
