// Package diag supplies the Runtime's structured logging surface: the
// sink spec.md §4.6's `print_stacktrace(logger)` writes frames to, and
// the general-purpose logging the rest of the Runtime uses for
// diagnostics that aren't part of the trap/stacktrace contract itself
// (link resolution, memory growth, compile warnings).
package diag

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/tetratelabs/wazero-aot/internal/stacktrace"
)

// Logger is the minimal surface print_stacktrace and the rest of the
// Runtime need; a *logrus.Logger or *logrus.Entry satisfies it directly; so
// does anything wrapping another structured logger with the same shape.
type Logger interface {
	WithFields(fields logrus.Fields) *logrus.Entry
	Errorf(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Infof(format string, args ...interface{})
}

// NewLogger returns the default Logger: a *logrus.Logger with a plain
// text formatter, matching the console formatter style the pack's own
// log packages build around logrus entries.
func NewLogger() *logrus.Logger {
	l := logrus.New()
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return l
}

// PrintStacktrace formats frames the way spec.md §4.6's
// print_stacktrace(logger) is described: one line per frame, innermost
// first, name falling back to a bare function index when the module
// carries no debug name for it.
func PrintStacktrace(logger Logger, code fmt.Stringer, frames []stacktrace.Frame) {
	entry := logger.WithFields(logrus.Fields{
		"trap":  code.String(),
		"depth": len(frames),
	})
	if len(frames) == 0 {
		entry.Errorf("trap %s: no stacktrace recorded (module compiled with stacktrace_count=0)", code)
		return
	}
	entry.Errorf("trap %s:\n%s", code, FormatFrames(frames))
}

// FormatFrames renders frames as indented "at <name> (#<index>)" lines,
// innermost first, the shape a host embedder's crash log would show.
func FormatFrames(frames []stacktrace.Frame) string {
	var b strings.Builder
	for i, f := range frames {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString("  at ")
		if f.Name != "" {
			b.WriteString(f.Name)
			b.WriteString(" ")
		}
		fmt.Fprintf(&b, "(#%d)", f.FunctionIndex)
	}
	return b.String()
}
