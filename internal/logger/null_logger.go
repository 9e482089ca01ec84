package logger

import (
	"io"

	"github.com/sirupsen/logrus"
)

// NewNullLogger returns a Logger that discards everything. Fatal does not
// exit.
func NewNullLogger() Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	l.SetLevel(logrus.PanicLevel)
	l.ExitFunc = func(int) {}
	return NewLogrusAdapter(logrus.NewEntry(l))
}
