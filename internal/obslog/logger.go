// Package obslog defines the logging interface used throughout the ground
// station control core. It mirrors the small Logger contract used by the
// teacher package's device driver, backed by logrus instead of raw fmt so
// callers get leveled, structured output.
package obslog

import "github.com/sirupsen/logrus"

// Logger is the logging contract every component accepts at construction.
// No component reaches for a package-level global logger.
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
	// WithField returns a Logger bound to a structured field, e.g. the
	// axis tag or bus address, that annotates every subsequent call.
	WithField(key string, value interface{}) Logger
}

// logrusLogger is the default Logger implementation.
type logrusLogger struct {
	entry *logrus.Entry
}

// New returns a Logger backed by the given logrus.Logger. Pass
// logrus.StandardLogger() for simple callers.
func New(base *logrus.Logger) Logger {
	return &logrusLogger{entry: logrus.NewEntry(base)}
}

// NewDefault returns a Logger backed by a freshly configured logrus
// logger with text formatting, suitable when no logger is otherwise
// supplied.
func NewDefault() Logger {
	base := logrus.New()
	base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return New(base)
}

func (l *logrusLogger) Debugf(format string, args ...interface{}) { l.entry.Debugf(format, args...) }
func (l *logrusLogger) Infof(format string, args ...interface{})  { l.entry.Infof(format, args...) }
func (l *logrusLogger) Warnf(format string, args ...interface{})  { l.entry.Warnf(format, args...) }
func (l *logrusLogger) Errorf(format string, args ...interface{}) { l.entry.Errorf(format, args...) }

func (l *logrusLogger) WithField(key string, value interface{}) Logger {
	return &logrusLogger{entry: l.entry.WithField(key, value)}
}

// Noop is a Logger that discards everything, useful as a zero-value
// default in tests that don't care about log output.
type Noop struct{}

func (Noop) Debugf(string, ...interface{}) {}
func (Noop) Infof(string, ...interface{})  {}
func (Noop) Warnf(string, ...interface{})  {}
func (Noop) Errorf(string, ...interface{}) {}
func (n Noop) WithField(string, interface{}) Logger { return n }
