package core

import (
	"fmt"
	"io"
	"os"

	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
)

// Logger is the structured logger shared by all components. A nil *Logger
// discards everything.
type Logger = logiface.Logger[*stumpy.Event]

// NewLogger returns a JSON logger writing to w (stderr when nil) at level.
func NewLogger(w io.Writer, level logiface.Level) *Logger {
	if w == nil {
		w = os.Stderr
	}
	return stumpy.L.New(
		stumpy.L.WithStumpy(stumpy.WithWriter(w)),
		logiface.WithLevel[*stumpy.Event](level),
	)
}

// ParseLogLevel maps a config level name to a logiface level.
func ParseLogLevel(s string) (logiface.Level, error) {
	switch s {
	case "trace":
		return logiface.LevelTrace, nil
	case "debug":
		return logiface.LevelDebug, nil
	case "info", "":
		return logiface.LevelInformational, nil
	case "notice":
		return logiface.LevelNotice, nil
	case "warning", "warn":
		return logiface.LevelWarning, nil
	case "err", "error":
		return logiface.LevelError, nil
	case "disabled", "off":
		return logiface.LevelDisabled, nil
	default:
		return logiface.LevelDisabled, fmt.Errorf("unknown log level %q", s)
	}
}

// Component returns a sub-logger tagged with a component field.
func Component(l *Logger, name string) *Logger {
	return l.Clone().Str("component", name).Logger()
}
