// Package rlog provides the leveled, prefix-forking logger used by the
// relay, lan agent, and local proxy. Its shape follows the logger embedded
// throughout the originating wstunnel codebase.
package rlog

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
)

// Level specifies the level of spew that should go to the log.
type Level int

const (
	LevelUnknown Level = iota
	LevelError
	LevelWarning
	LevelInfo
	LevelDebug
	LevelTrace
)

var levelNames = [...]string{"unknown", "error", "warning", "info", "debug", "trace"}

var nameToLevel = func() map[string]Level {
	m := make(map[string]Level)
	for i, name := range levelNames {
		m[name] = Level(i)
	}
	return m
}()

// ParseLevel converts a string to a Level, returning LevelUnknown if s is not recognized.
func ParseLevel(s string) Level {
	l, ok := nameToLevel[strings.ToLower(s)]
	if !ok {
		return LevelUnknown
	}
	return l
}

func (l Level) String() string {
	if l < LevelUnknown || l > LevelTrace {
		return levelNames[LevelUnknown]
	}
	return levelNames[l]
}

// Logger is a leveled logging component that supports prefix forking, so a
// session or channel can get its own sub-logger without re-plumbing an output
// stream.
type Logger struct {
	prefix   string
	prefixC  string
	out      *log.Logger
	logLevel Level
}

// New creates a new Logger with the given prefix, emitting to os.Stderr.
func New(prefix string, level Level) *Logger {
	prefixC := prefix
	if prefixC != "" {
		prefixC += ": "
	}
	return &Logger{
		prefix:   prefix,
		prefixC:  prefixC,
		out:      log.New(os.Stderr, "", log.Ldate|log.Ltime),
		logLevel: level,
	}
}

// Fork creates a new Logger that appends a formatted suffix onto this
// Logger's prefix, sharing the same level and output stream.
func (l *Logger) Fork(format string, args ...interface{}) *Logger {
	suffix := fmt.Sprintf(format, args...)
	newPrefix := l.prefix
	if newPrefix != "" {
		newPrefix += ": "
	}
	newPrefix += suffix
	prefixC := newPrefix + ": "
	return &Logger{
		prefix:   newPrefix,
		prefixC:  prefixC,
		out:      l.out,
		logLevel: l.logLevel,
	}
}

// Prefix returns the logger's prefix string (without the ": " trailer).
func (l *Logger) Prefix() string { return l.prefix }

// GetLevel returns the current log level.
func (l *Logger) GetLevel() Level { return l.logLevel }

// SetLevel sets the log level.
func (l *Logger) SetLevel(level Level) { l.logLevel = level }

func (l *Logger) logf(level Level, format string, args ...interface{}) {
	if level <= l.logLevel {
		l.out.Print(l.prefixC + fmt.Sprintf(format, args...))
	}
}

func (l *Logger) log(level Level, args ...interface{}) {
	if level <= l.logLevel {
		l.out.Print(l.prefixC + fmt.Sprint(args...))
	}
}

func (l *Logger) ELogf(format string, args ...interface{}) { l.logf(LevelError, format, args...) }
func (l *Logger) ELog(args ...interface{})                 { l.log(LevelError, args...) }
func (l *Logger) WLogf(format string, args ...interface{}) { l.logf(LevelWarning, format, args...) }
func (l *Logger) WLog(args ...interface{})                 { l.log(LevelWarning, args...) }
func (l *Logger) ILogf(format string, args ...interface{}) { l.logf(LevelInfo, format, args...) }
func (l *Logger) ILog(args ...interface{})                 { l.log(LevelInfo, args...) }
func (l *Logger) DLogf(format string, args ...interface{}) { l.logf(LevelDebug, format, args...) }
func (l *Logger) DLog(args ...interface{})                 { l.log(LevelDebug, args...) }
func (l *Logger) TLogf(format string, args ...interface{}) { l.logf(LevelTrace, format, args...) }
func (l *Logger) TLog(args ...interface{})                 { l.log(LevelTrace, args...) }

// Sprintf returns a string prefixed with this logger's prefix.
func (l *Logger) Sprintf(format string, args ...interface{}) string {
	return l.prefixC + fmt.Sprintf(format, args...)
}

// Errorf returns an error whose message carries this logger's prefix.
func (l *Logger) Errorf(format string, args ...interface{}) error {
	return errors.New(l.Sprintf(format, args...))
}

// ELogErrorf logs an error-level message and returns it as an error.
func (l *Logger) ELogErrorf(format string, args ...interface{}) error {
	err := l.Errorf(format, args...)
	l.logf(LevelError, "%s", err.Error())
	return err
}
