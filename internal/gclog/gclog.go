// Package gclog provides the small logging shim the collector uses to
// report pacing decisions, sweep errors, and safepoint waits. No
// structured-logging library appears anywhere in the retrieved corpus,
// so this wraps the standard library's log.Logger rather than
// reaching for one.
package gclog

import (
	"io"
	"log"
	"os"
)

// Logger is a leveled wrapper around *log.Logger. The zero value is
// usable and writes to os.Stderr at the default level.
type Logger struct {
	std     *log.Logger
	verbose bool
}

// New returns a Logger writing to w with the given prefix.
func New(w io.Writer, prefix string) *Logger {
	if w == nil {
		w = os.Stderr
	}
	return &Logger{std: log.New(w, prefix, log.LstdFlags)}
}

// SetVerbose toggles whether Debugf output is emitted.
func (l *Logger) SetVerbose(v bool) { l.verbose = v }

// Printf logs unconditionally, mirroring log.Printf.
func (l *Logger) Printf(format string, args ...interface{}) {
	l.std.Printf(format, args...)
}

// Debugf logs only when verbose mode is enabled — intended for the
// collector's per-page and per-cycle pacing detail, which is too
// chatty to keep on by default.
func (l *Logger) Debugf(format string, args ...interface{}) {
	if l.verbose {
		l.std.Printf(format, args...)
	}
}
