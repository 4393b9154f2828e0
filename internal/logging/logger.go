// Package logging provides the structured logger used across every piChain
// component: a small interface plus a single default implementation,
// backed by logrus instead of the bare standard library logger.
package logging

import (
	"github.com/sirupsen/logrus"
)

// Logger is the logging surface every component depends on. Passing this
// interface around (instead of *logrus.Logger directly) keeps components
// testable with a no-op or buffering implementation.
type Logger interface {
	Info(args ...interface{})
	Infof(format string, args ...interface{})
	Warn(args ...interface{})
	Warnf(format string, args ...interface{})
	Error(args ...interface{})
	Errorf(format string, args ...interface{})
	Debug(args ...interface{})
	Debugf(format string, args ...interface{})

	// WithField and WithError return a derived Logger carrying the extra
	// context on every subsequent call, the same way logrus.Entry works.
	WithField(key string, value interface{}) Logger
	WithError(err error) Logger
}

type logrusLogger struct {
	entry *logrus.Entry
}

// New builds the default Logger for a node, tagging every line with the
// node's id so a multi-peer log stream can be filtered per peer.
func New(nodeID uint64) Logger {
	base := logrus.New()
	base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return &logrusLogger{entry: base.WithField("node_id", nodeID)}
}

// NewSilent returns a Logger that discards everything, for use in tests
// that don't want log noise but still need the interface satisfied.
func NewSilent() Logger {
	base := logrus.New()
	base.SetOutput(discard{})
	return &logrusLogger{entry: logrus.NewEntry(base)}
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

func (l *logrusLogger) Info(args ...interface{})                 { l.entry.Info(args...) }
func (l *logrusLogger) Infof(format string, args ...interface{})  { l.entry.Infof(format, args...) }
func (l *logrusLogger) Warn(args ...interface{})                 { l.entry.Warn(args...) }
func (l *logrusLogger) Warnf(format string, args ...interface{})  { l.entry.Warnf(format, args...) }
func (l *logrusLogger) Error(args ...interface{})                { l.entry.Error(args...) }
func (l *logrusLogger) Errorf(format string, args ...interface{}) { l.entry.Errorf(format, args...) }
func (l *logrusLogger) Debug(args ...interface{})                 { l.entry.Debug(args...) }
func (l *logrusLogger) Debugf(format string, args ...interface{}) { l.entry.Debugf(format, args...) }

func (l *logrusLogger) WithField(key string, value interface{}) Logger {
	return &logrusLogger{entry: l.entry.WithField(key, value)}
}

func (l *logrusLogger) WithError(err error) Logger {
	return &logrusLogger{entry: l.entry.WithError(err)}
}
