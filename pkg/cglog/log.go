// Package cglog provides leveled, package-global logging for the
// chunkedgraph service.
//
// Dates/times are not logged by default because systemd adds them for
// us (can be changed via SetLogDateTime). Uses the syslog-style
// severity prefixes from https://www.freedesktop.org/software/systemd/man/sd-daemon.html
package cglog

import (
	"fmt"
	"io"
	"os"
)

var logDateTime bool

var (
	TraceWriter io.Writer = io.Discard
	DebugWriter io.Writer = os.Stderr
	InfoWriter  io.Writer = os.Stderr
	WarnWriter  io.Writer = os.Stderr
	ErrWriter   io.Writer = os.Stderr
	CritWriter  io.Writer = os.Stderr
)

var (
	TracePrefix string = "<7>[TRACE]    "
	DebugPrefix string = "<7>[DEBUG]    "
	InfoPrefix  string = "<6>[INFO]     "
	WarnPrefix  string = "<4>[WARNING]  "
	ErrPrefix   string = "<3>[ERROR]    "
	CritPrefix  string = "<2>[CRITICAL] "
)

var (
	traceLog = newLogger(TraceWriter, TracePrefix, false)
	debugLog = newLogger(DebugWriter, DebugPrefix, false)
	infoLog  = newLogger(InfoWriter, InfoPrefix, false)
	warnLog  = newLogger(WarnWriter, WarnPrefix, true)
	errLog   = newLogger(ErrWriter, ErrPrefix, true)
	critLog  = newLogger(CritWriter, CritPrefix, true)
)

// SetLevel discards writers below lvl, one of
// "trace", "debug", "info", "warn", "err", "crit".
func SetLevel(lvl string) {
	switch lvl {
	case "crit":
		ErrWriter = io.Discard
		fallthrough
	case "err", "fatal":
		WarnWriter = io.Discard
		fallthrough
	case "warn":
		InfoWriter = io.Discard
		fallthrough
	case "info":
		DebugWriter = io.Discard
		fallthrough
	case "debug":
		TraceWriter = io.Discard
	case "trace":
		// nothing discarded
	default:
		fmt.Fprintf(os.Stderr, "cglog: invalid loglevel %q, using \"debug\"\n", lvl)
		SetLevel("debug")
		return
	}
	rebuild()
}

func SetLogDateTime(enabled bool) {
	logDateTime = enabled
	rebuild()
}

func rebuild() {
	traceLog = newLogger(TraceWriter, TracePrefix, false)
	debugLog = newLogger(DebugWriter, DebugPrefix, false)
	infoLog = newLogger(InfoWriter, InfoPrefix, false)
	warnLog = newLogger(WarnWriter, WarnPrefix, true)
	errLog = newLogger(ErrWriter, ErrPrefix, true)
	critLog = newLogger(CritWriter, CritPrefix, true)
}

func Trace(v ...interface{})                 { traceLog.print(v...) }
func Tracef(format string, v ...interface{}) { traceLog.printf(format, v...) }
func Debug(v ...interface{})                 { debugLog.print(v...) }
func Debugf(format string, v ...interface{}) { debugLog.printf(format, v...) }
func Info(v ...interface{})                  { infoLog.print(v...) }
func Infof(format string, v ...interface{})  { infoLog.printf(format, v...) }
func Warn(v ...interface{})                  { warnLog.print(v...) }
func Warnf(format string, v ...interface{})  { warnLog.printf(format, v...) }
func Error(v ...interface{})                 { errLog.print(v...) }
func Errorf(format string, v ...interface{}) { errLog.printf(format, v...) }
func Crit(v ...interface{})                  { critLog.print(v...) }
func Critf(format string, v ...interface{})  { critLog.printf(format, v...) }

// Fatal logs at error level and exits the process.
func Fatal(v ...interface{}) {
	Error(v...)
	os.Exit(1)
}

func Fatalf(format string, v ...interface{}) {
	Errorf(format, v...)
	os.Exit(1)
}
