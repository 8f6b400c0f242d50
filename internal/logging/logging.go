// Package logging provides the small leveled logger background tasks and
// recovery use to narrate activity without aborting the process on error.
package logging

import (
	"log"
	"os"
)

// Logger writes leveled lines through the standard library's log package.
type Logger struct {
	std *log.Logger
}

// New returns a Logger writing to stderr with a fixed prefix, matching the
// teacher's own diagnostics-go-to-stderr-not-stdout convention.
func New(component string) *Logger {
	return &Logger{std: log.New(os.Stderr, "["+component+"] ", log.LstdFlags)}
}

func (l *Logger) Info(format string, args ...any) {
	l.std.Printf("INFO "+format, args...)
}

func (l *Logger) Warn(format string, args ...any) {
	l.std.Printf("WARN "+format, args...)
}

func (l *Logger) Error(format string, args ...any) {
	l.std.Printf("ERROR "+format, args...)
}
