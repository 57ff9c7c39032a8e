package cglog

import (
	"fmt"
	"io"
	"log"
)

// logger wraps a stdlib *log.Logger and skips all output while its
// writer is io.Discard, so disabled levels cost nothing beyond the
// io.Writer equality check.
type logger struct {
	w      io.Writer
	inner  *log.Logger
	caller bool
}

func newLogger(w io.Writer, prefix string, caller bool) *logger {
	flags := 0
	if logDateTime {
		flags |= log.LstdFlags
	}
	if caller {
		flags |= log.Lshortfile
	}
	return &logger{w: w, inner: log.New(w, prefix, flags), caller: caller}
}

func (l *logger) print(v ...interface{}) {
	if l.w == io.Discard {
		return
	}
	l.inner.Output(3, fmt.Sprint(v...))
}

func (l *logger) printf(format string, v ...interface{}) {
	if l.w == io.Discard {
		return
	}
	l.inner.Output(3, fmt.Sprintf(format, v...))
}
