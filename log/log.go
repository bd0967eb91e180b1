// Package log implements leveling and teeing on top of Go's standard log
// package. As with the standard log package, this package defines a
// standard logger available as a package global and via package
// functions. Every peer, executor, and listener in SCoOL is handed a
// *Logger, in the manner of reflow's own Eval, Scheduler, and worker
// types.
package log

import (
	"fmt"
	"log"
	"os"
	"strings"
)

// Level defines the level of logging. Higher levels are more verbose.
type Level int

const (
	// QuietLevel turns off everything but messages published via Fatal.
	QuietLevel Level = iota
	// ErrorLevel outputs only error messages.
	ErrorLevel
	// WarnLevel outputs warnings in addition to errors. (The distributed
	// peers log a failed local+remote == total check with Errorf, at
	// ErrorLevel, not here.)
	WarnLevel
	// InfoLevel is the standard level.
	InfoLevel
	// DebugLevel outputs detailed debugging output, including per-steal
	// and per-reduction bookkeeping.
	DebugLevel
)

// EnvVar is the environment variable SCoOL reads at startup to select a
// logger's level, per the five names QUIET/ERROR/WARN/INFO/DEBUG.
const EnvVar = "SCOOL_LOG_LEVEL"

var levelNames = map[string]Level{
	"QUIET": QuietLevel,
	"ERROR": ErrorLevel,
	"WARN":  WarnLevel,
	"INFO":  InfoLevel,
	"DEBUG": DebugLevel,
}

// ParseLevel parses one of the five level names (case-insensitive). It
// returns InfoLevel and false if s does not name a valid level.
func ParseLevel(s string) (Level, bool) {
	level, ok := levelNames[strings.ToUpper(strings.TrimSpace(s))]
	if !ok {
		return InfoLevel, false
	}
	return level, true
}

// LevelFromEnviron returns the level named by EnvVar, or def if the
// variable is unset or unrecognized.
func LevelFromEnviron(def Level) Level {
	v := os.Getenv(EnvVar)
	if v == "" {
		return def
	}
	level, ok := ParseLevel(v)
	if !ok {
		return def
	}
	return level
}

// An Outputter receives published log messages. Go's *log.Logger
// implements Outputter.
type Outputter interface {
	Output(calldepth int, s string) error
}

type multiOutputter []Outputter

func (m multiOutputter) Output(calldepth int, s string) error {
	var err error
	for _, out := range m {
		if err1 := out.Output(calldepth, s); err1 != nil {
			err = err1
		}
	}
	return err
}

// MultiOutputter returns an Outputter that outputs each message to all of
// the provided outputters.
func MultiOutputter(outputters ...Outputter) Outputter {
	return multiOutputter(outputters)
}

// A Logger receives log messages at multiple levels, and publishes those
// messages to its outputter if the level (or logger) is active. Nil
// Loggers ignore all log messages, so a component may always be handed a
// *Logger (possibly nil) without a nil check at every call site.
type Logger struct {
	// Outputter receives all log messages at or below the Logger's
	// current level.
	Outputter
	// Level defines the publishing level of this Logger.
	Level Level

	parent *Logger
	prefix string
}

// New creates a new Logger that publishes messages at or below the
// provided level to the provided outputter.
func New(out Outputter, level Level) *Logger {
	return &Logger{
		Outputter: out,
		Level:     level,
	}
}

// Print formats a message in the manner of fmt.Print and publishes it to
// the logger at InfoLevel.
func (l *Logger) Print(v ...interface{}) {
	l.print(2, InfoLevel, "", v...)
}

// Printf formats a message in the manner of fmt.Printf and publishes it to
// the logger at InfoLevel.
func (l *Logger) Printf(format string, args ...interface{}) {
	l.printf(2, InfoLevel, "", format, args...)
}

// Error formats a message in the manner of fmt.Print and publishes it to
// the logger at ErrorLevel.
func (l *Logger) Error(v ...interface{}) {
	l.print(2, ErrorLevel, "", v...)
}

// Errorf formats a message in the manner of fmt.Printf and publishes it to
// the logger at ErrorLevel.
func (l *Logger) Errorf(format string, args ...interface{}) {
	l.printf(2, ErrorLevel, "", format, args...)
}

// Warn formats a message in the manner of fmt.Print and publishes it to
// the logger at WarnLevel.
func (l *Logger) Warn(v ...interface{}) {
	l.print(2, WarnLevel, "", v...)
}

// Warnf formats a message in the manner of fmt.Printf and publishes it to
// the logger at WarnLevel.
func (l *Logger) Warnf(format string, args ...interface{}) {
	l.printf(2, WarnLevel, "", format, args...)
}

// Debug formats a message in the manner of fmt.Print and publishes it to
// the logger at DebugLevel.
func (l *Logger) Debug(v ...interface{}) {
	l.print(2, DebugLevel, "", v...)
}

// Debugf formats a message in the manner of fmt.Printf and publishes it to
// the logger at DebugLevel.
func (l *Logger) Debugf(format string, args ...interface{}) {
	l.printf(2, DebugLevel, "", format, args...)
}

// At tells whether the logger is at or below the provided level.
func (l *Logger) At(level Level) bool {
	return l != nil && level <= l.Level
}

func (l *Logger) print(calldepth int, level Level, prefix string, v ...interface{}) {
	if l == nil {
		return
	}
	if l.Outputter != nil && level <= l.Level {
		l.Output(calldepth+1, prefix+fmt.Sprint(v...))
	}
	if l.parent != nil {
		l.parent.print(calldepth+1, level, l.prefix+prefix, v...)
	}
}

func (l *Logger) printf(calldepth int, level Level, prefix, format string, args ...interface{}) {
	if l == nil {
		return
	}
	if l.Outputter != nil && level <= l.Level {
		l.Output(calldepth+1, prefix+fmt.Sprintf(format, args...))
	}
	if l.parent != nil {
		l.parent.printf(calldepth+1, level, l.prefix+prefix, format, args...)
	}
}

// Tee constructs a new logger that tees its output to the provided
// outputter and parent logger. Messages sent to the parent are prefixed
// with the provided prefix string -- used to tag every message from a
// distributed peer's listener goroutine with its rank. Out may be nil, in
// which case messages are published to the parent only.
func (l *Logger) Tee(out Outputter, prefix string) *Logger {
	if l == nil {
		return nil
	}
	return &Logger{
		Outputter: out,
		Level:     l.Level,
		parent:    l,
		prefix:    prefix,
	}
}

// Std is the standard logger.
var Std = New(log.New(os.Stderr, "", log.LstdFlags), InfoLevel)

// The following are convenience functions that call the corresponding
// methods on the Std logger.
var (
	Print  = Std.Print
	Printf = Std.Printf
	Error  = Std.Error
	Errorf = Std.Errorf
	Warn   = Std.Warn
	Warnf  = Std.Warnf
	Debug  = Std.Debug
	Debugf = Std.Debugf
	At     = Std.At
)

// Fatal formats a message in the manner of fmt.Print, outputs it to the
// standard outputter (always), and then calls os.Exit(1).
func Fatal(v ...interface{}) {
	Std.Output(2, fmt.Sprint(v...))
	os.Exit(1)
}

// Fatalf formats a message in the manner of fmt.Printf, outputs it to the
// standard outputter (always), and then calls os.Exit(1).
func Fatalf(format string, v ...interface{}) {
	Std.Output(2, fmt.Sprintf(format, v...))
	os.Exit(1)
}
