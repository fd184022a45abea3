// Package monitoring holds the diagnostic logger shared by the toolkit
// packages.
package monitoring

import (
	"fmt"
	"log"
	"time"
)

// Logf is the package-level diagnostic logger. It defaults to log.Printf but may
// be replaced by SetLogger. Tests or production code can redirect or mute it.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// ComponentLogger prefixes every line with "[Component]" and optionally a
// session id. Debug lines are only emitted when debug output was requested
// for the owning session.
type ComponentLogger struct {
	prefix string
	debug  bool
}

// Component returns a logger for the named component. id may be empty.
func Component(name, id string, debug bool) ComponentLogger {
	prefix := "[" + name + "]"
	if id != "" {
		prefix = fmt.Sprintf("[%s %s]", name, shortID(id))
	}
	return ComponentLogger{prefix: prefix, debug: debug}
}

// Printf always logs.
func (l ComponentLogger) Printf(format string, v ...interface{}) {
	Logf(l.prefix+" "+format, v...)
}

// Debugf logs only for sessions created with debug enabled.
func (l ComponentLogger) Debugf(format string, v ...interface{}) {
	if !l.debug {
		return
	}
	Logf(l.prefix+" "+format, v...)
}

// DebugEnabled reports whether Debugf emits anything.
func (l ComponentLogger) DebugEnabled() bool { return l.debug }

// Timed logs the duration of a stage when debug output is enabled. Use as
// defer l.Timed("stage")().
func (l ComponentLogger) Timed(stage string) func() {
	if !l.debug {
		return func() {}
	}
	start := time.Now()
	return func() {
		Logf("%s %s took %v", l.prefix, stage, time.Since(start).Round(time.Millisecond))
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
