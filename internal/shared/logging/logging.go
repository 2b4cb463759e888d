// Package logging provides the component-tagged leveled logger used across
// the sprint core. Every subsystem gets its own logger via
// NewComponentLogger so log lines are greppable by origin.
package logging

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/fatih/color"
	"golang.org/x/term"
)

// Logger is the leveled logging surface every component depends on.
type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

// OrNop returns logger unchanged, or a no-op Logger if logger is nil, so
// callers never need a nil check before logging.
func OrNop(logger Logger) Logger {
	if logger == nil {
		return nopLogger{}
	}
	return logger
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// Level controls the minimum severity written by componentLogger.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

var (
	globalMu    sync.Mutex
	globalLevel = LevelInfo
	globalOut   io.Writer = os.Stderr
	colorize              = term.IsTerminal(int(os.Stderr.Fd()))
)

// SetLevel sets the process-wide minimum log level.
func SetLevel(l Level) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalLevel = l
}

// SetOutput redirects process-wide log output, primarily for tests.
func SetOutput(w io.Writer) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalOut = w
}

type componentLogger struct {
	name string
}

// NewComponentLogger returns a Logger that tags every line with name.
func NewComponentLogger(name string) Logger {
	return &componentLogger{name: name}
}

func (c *componentLogger) Debug(format string, args ...any) { c.log(LevelDebug, format, args...) }
func (c *componentLogger) Info(format string, args ...any)  { c.log(LevelInfo, format, args...) }
func (c *componentLogger) Warn(format string, args ...any)  { c.log(LevelWarn, format, args...) }
func (c *componentLogger) Error(format string, args ...any) { c.log(LevelError, format, args...) }

func (c *componentLogger) log(level Level, format string, args ...any) {
	globalMu.Lock()
	minLevel := globalLevel
	out := globalOut
	useColor := colorize
	globalMu.Unlock()

	if level < minLevel {
		return
	}

	msg := fmt.Sprintf(format, args...)
	prefix := levelLabel(level, useColor)
	ts := time.Now().Format("2006-01-02T15:04:05.000Z07:00")
	fmt.Fprintf(out, "%s %s [%s] %s\n", ts, prefix, c.name, msg)
}

func levelLabel(level Level, useColor bool) string {
	label := [...]string{"DEBUG", "INFO", "WARN", "ERROR"}[level]
	if !useColor {
		return label
	}
	switch level {
	case LevelDebug:
		return color.New(color.FgHiBlack).Sprint(label)
	case LevelInfo:
		return color.New(color.FgBlue).Sprint(label)
	case LevelWarn:
		return color.New(color.FgYellow).Sprint(label)
	default:
		return color.New(color.FgRed).Sprint(label)
	}
}

// LatencyLogger emits a single structured line per request, distinct from
// componentLogger's free-form messages.
type LatencyLogger struct {
	component string
}

// NewLatencyLogger returns a logger specialised for request-latency lines.
func NewLatencyLogger(component string) *LatencyLogger {
	return &LatencyLogger{component: component}
}

// Record logs a single request's route, status, and duration.
func (l *LatencyLogger) Record(route string, status int, dur time.Duration) {
	NewComponentLogger(l.component).Info("route=%s status=%d latency_ms=%d", route, status, dur.Milliseconds())
}
