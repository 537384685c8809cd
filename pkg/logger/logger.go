// Package logger is a thin component-tagged facade over zerolog.
package logger

import (
	"os"
	"strings"
	"sync/atomic"

	"github.com/rs/zerolog"
)

var root atomic.Pointer[zerolog.Logger]

func init() {
	Setup(os.Getenv("ENGRAM_LOG_LEVEL"), os.Getenv("ENGRAM_LOG_FORMAT"))
}

// Setup configures the process logger. level is one of debug|info|warn|error
// (default info); format is console|json (default console).
func Setup(level, format string) {
	lvl := zerolog.InfoLevel
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		lvl = zerolog.DebugLevel
	case "warn":
		lvl = zerolog.WarnLevel
	case "error":
		lvl = zerolog.ErrorLevel
	}

	var l zerolog.Logger
	if strings.EqualFold(format, "json") {
		l = zerolog.New(os.Stderr).Level(lvl).With().Timestamp().Logger()
	} else {
		l = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(lvl).With().Timestamp().Logger()
	}
	root.Store(&l)
}

// Nop silences all output (tests).
func Nop() {
	l := zerolog.Nop()
	root.Store(&l)
}

func get() *zerolog.Logger {
	if l := root.Load(); l != nil {
		return l
	}
	l := zerolog.New(os.Stderr).With().Timestamp().Logger()
	root.Store(&l)
	return &l
}

func emit(ev *zerolog.Event, component, msg string, fields map[string]any) {
	ev = ev.Str("component", component)
	for k, v := range fields {
		ev = ev.Interface(k, v)
	}
	ev.Msg(msg)
}

// DebugC logs a debug message for a component with structured fields.
func DebugC(component, msg string, fields map[string]any) {
	emit(get().Debug(), component, msg, fields)
}

// InfoC logs an info message for a component with structured fields.
func InfoC(component, msg string, fields map[string]any) {
	emit(get().Info(), component, msg, fields)
}

// WarnC logs a warning for a component with structured fields.
func WarnC(component, msg string, fields map[string]any) {
	emit(get().Warn(), component, msg, fields)
}

// ErrorC logs an error for a component with structured fields.
func ErrorC(component, msg string, fields map[string]any) {
	emit(get().Error(), component, msg, fields)
}
