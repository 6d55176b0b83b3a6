package diag

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tetratelabs/wazero-aot/internal/stacktrace"
	"github.com/tetratelabs/wazero-aot/internal/trap"
)

func TestFormatFrames(t *testing.T) {
	frames := []stacktrace.Frame{
		{FunctionIndex: 9, Name: "trap"},
		{FunctionIndex: 8, Name: "eight"},
		{FunctionIndex: 0, Name: ""},
	}

	got := FormatFrames(frames)
	require.Equal(t, "  at trap (#9)\n  at eight (#8)\n  at (#0)", got)
}

func TestFormatFrames_empty(t *testing.T) {
	require.Equal(t, "", FormatFrames(nil))
}

func TestPrintStacktrace_logsWithoutPanicking(t *testing.T) {
	logger := NewLogger()

	frames := stacktrace.Resolve([]uint32{1, 0}, stacktrace.NameTable([]uint32{0, 1}, []string{"addTwo", "_start"}))
	require.NotPanics(t, func() {
		PrintStacktrace(logger, trap.DivByZero, frames)
	})

	require.NotPanics(t, func() {
		PrintStacktrace(logger, trap.DivByZero, nil)
	})
}
