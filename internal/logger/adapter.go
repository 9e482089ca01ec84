package logger

import "github.com/sirupsen/logrus"

// LogrusAdapter satisfies Logger with a logrus entry. The level methods come
// from the embedded entry; the With methods keep returning Logger.
type LogrusAdapter struct {
	*logrus.Entry
}

// NewLogrusAdapter creates a new logrus adapter
func NewLogrusAdapter(entry *logrus.Entry) Logger {
	return &LogrusAdapter{Entry: entry}
}

// WithFields implements Logger interface
func (l *LogrusAdapter) WithFields(fields map[string]interface{}) Logger {
	return &LogrusAdapter{Entry: l.Entry.WithFields(fields)}
}

// WithField implements Logger interface
func (l *LogrusAdapter) WithField(key string, value interface{}) Logger {
	return &LogrusAdapter{Entry: l.Entry.WithField(key, value)}
}

// WithError implements Logger interface
func (l *LogrusAdapter) WithError(err error) Logger {
	return &LogrusAdapter{Entry: l.Entry.WithError(err)}
}
