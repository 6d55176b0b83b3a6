//go:build windows

package platform

import (
	"fmt"

	"golang.org/x/sys/windows"
)

func osPageSize() int {
	var si windows.SystemInfo
	windows.GetSystemInfo(&si)
	return int(si.PageSize)
}

type Reservation struct {
	addr   uintptr
	length int
}

func (r *Reservation) Addr() []byte {
	return unsafeSlice(r.addr, r.length)
}

func (r *Reservation) Len() int { return r.length }

func ReserveAddressSpace(length int) (*Reservation, error) {
	if length == 0 {
		panic("BUG: ReserveAddressSpace with zero length")
	}
	addr, err := windows.VirtualAlloc(0, uintptr(length), windows.MEM_RESERVE, windows.PAGE_NOACCESS)
	if err != nil {
		return nil, fmt.Errorf("VirtualAlloc reserve: %w", err)
	}
	return &Reservation{addr: addr, length: length}, nil
}

func (r *Reservation) Release() error {
	return windows.VirtualFree(r.addr, 0, windows.MEM_RELEASE)
}

func (r *Reservation) Commit(offset, length int) error {
	_, err := windows.VirtualAlloc(r.addr+uintptr(offset), uintptr(length), windows.MEM_COMMIT, windows.PAGE_READWRITE)
	return err
}

func (r *Reservation) Uncommit(offset, length int) error {
	return windows.VirtualFree(r.addr+uintptr(offset), uintptr(length), windows.MEM_DECOMMIT)
}

type MappedCode struct {
	addr   uintptr
	length int
}

func (m *MappedCode) Bytes() []byte { return unsafeSlice(m.addr, m.length) }

func MmapCodeSegment(code []byte) (*MappedCode, error) {
	if len(code) == 0 {
		panic("BUG: MmapCodeSegment with zero length")
	}
	addr, err := windows.VirtualAlloc(0, uintptr(len(code)), windows.MEM_COMMIT|windows.MEM_RESERVE, windows.PAGE_READWRITE)
	if err != nil {
		return nil, fmt.Errorf("VirtualAlloc code: %w", err)
	}
	copy(unsafeSlice(addr, len(code)), code)
	var old uint32
	if err := windows.VirtualProtect(addr, uintptr(len(code)), windows.PAGE_EXECUTE_READ, &old); err != nil {
		_ = windows.VirtualFree(addr, 0, windows.MEM_RELEASE)
		return nil, fmt.Errorf("VirtualProtect RX: %w", err)
	}
	m := &MappedCode{addr: addr, length: len(code)}
	FlushInstructionCache(m.Bytes())
	return m, nil
}

func MunmapCodeSegment(code []byte) error {
	if len(code) == 0 {
		panic("BUG: MunmapCodeSegment with zero length")
	}
	addr := sliceAddr(code)
	return windows.VirtualFree(addr, 0, windows.MEM_RELEASE)
}
