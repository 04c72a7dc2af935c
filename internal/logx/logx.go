// Package logx defines the three-level logger capability consumed by the
// pipeline and its charmbracelet-backed default.
package logx

import (
	"io"
	"os"

	"github.com/charmbracelet/log"
)

type Logger interface {
	Info(msg string, kv ...any)
	Warning(msg string, kv ...any)
	Error(msg string, kv ...any)
}

type charmLogger struct {
	l *log.Logger
}

// New creates the default logger writing to w (os.Stderr when nil).
func New(w io.Writer) Logger {
	if w == nil {
		w = os.Stderr
	}
	return &charmLogger{l: log.NewWithOptions(w, log.Options{ReportTimestamp: true})}
}

func (c *charmLogger) Info(msg string, kv ...any)    { c.l.Info(msg, kv...) }
func (c *charmLogger) Warning(msg string, kv ...any) { c.l.Warn(msg, kv...) }
func (c *charmLogger) Error(msg string, kv ...any)   { c.l.Error(msg, kv...) }

// SetLevel adjusts verbosity on the default implementation; unknown level
// strings keep the current level.
func SetLevel(logger Logger, level string) {
	cl, ok := logger.(*charmLogger)
	if !ok {
		return
	}
	if lvl, err := log.ParseLevel(level); err == nil {
		cl.l.SetLevel(lvl)
	}
}

type nopLogger struct{}

func (nopLogger) Info(string, ...any)    {}
func (nopLogger) Warning(string, ...any) {}
func (nopLogger) Error(string, ...any)   {}

// Nop returns a silent logger for tests.
func Nop() Logger { return nopLogger{} }
