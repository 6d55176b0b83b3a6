package memoryalloc

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tetratelabs/wazero-aot/internal/wasm"
)

func TestAllocator_extendIsMonotone(t *testing.T) {
	a, err := New(4096, 0, 10, false)
	require.NoError(t, err)
	defer a.Close()

	got, err := a.Extend(4)
	require.NoError(t, err)
	require.Equal(t, uint32(4), got)

	got, err = a.Extend(2) // shrinking via Extend must be a no-op.
	require.NoError(t, err)
	require.Equal(t, uint32(4), got)

	got, err = a.Extend(8)
	require.NoError(t, err)
	require.Equal(t, uint32(8), got)
}

func TestAllocator_extendRespectsLimit(t *testing.T) {
	a, err := New(4096, 0, 4, false)
	require.NoError(t, err)
	defer a.Close()

	_, err = a.Extend(5)
	require.ErrorIs(t, err, ErrLimitExceeded)

	got, err := a.Extend(4)
	require.NoError(t, err)
	require.Equal(t, uint32(4), got)
}

func TestAllocator_shrinkReleasesPages(t *testing.T) {
	a, err := New(4096, 0, 10, false)
	require.NoError(t, err)
	defer a.Close()

	_, err = a.Extend(8)
	require.NoError(t, err)

	require.NoError(t, a.Shrink(3))
	require.Equal(t, uint32(3), a.CommittedPages())

	// Shrink to a size already below current committed is idempotent upward.
	require.NoError(t, a.Shrink(3))
	require.Equal(t, uint32(3), a.CommittedPages())
}

func TestAllocator_probeCommitsLazily(t *testing.T) {
	// Declared (Wasm-visible) size is 5 pages, but construction left them
	// uncommitted: a fault inside those 5 pages lazily commits, one page at
	// a time, instead of tripping ErrOutOfBounds.
	a, err := New(4096, 5, 10, false)
	require.NoError(t, err)
	defer a.Close()

	require.Equal(t, uint32(0), a.CommittedPages())
	require.Equal(t, uint32(5), a.DeclaredPages())

	require.NoError(t, a.Probe(wasm.MemoryPageSize*2+10))
	require.Equal(t, uint32(3), a.CommittedPages())

	// Probing an already-committed page is a harmless no-op.
	require.NoError(t, a.Probe(10))
	require.Equal(t, uint32(3), a.CommittedPages())
}

func TestAllocator_probeOutOfBoundsBeyondDeclaredSize(t *testing.T) {
	a, err := New(4096, 2, 10, false)
	require.NoError(t, err)
	defer a.Close()

	err = a.Probe(wasm.MemoryPageSize * 5)
	require.ErrorIs(t, err, ErrOutOfBounds)
}

func TestAllocator_setLimitBelowUsageFails(t *testing.T) {
	a, err := New(4096, 0, 10, false)
	require.NoError(t, err)
	defer a.Close()

	_, err = a.Extend(5)
	require.NoError(t, err)

	err = a.SetLimitPages(2)
	require.ErrorIs(t, err, ErrLimitBelowUsage)

	require.NoError(t, a.SetLimitPages(6))
}

func TestAllocator_eagerCommitHonorsInitialPages(t *testing.T) {
	a, err := New(4096, 3, 10, true)
	require.NoError(t, err)
	defer a.Close()

	require.Equal(t, uint32(3), a.CommittedPages())
}
