// Package logging provides the component-scoped structured logger used
// across the router, gateway, and backend supervisors. It exists so that
// no package below main needs to import logrus directly.
package logging

import "io"

// Logger is the logging surface every component depends on. It is satisfied
// by a logrus-backed adapter in production and can be swapped for a no-op or
// recording implementation in tests.
type Logger interface {
	WithField(key string, value interface{}) Logger
	WithFields(fields map[string]interface{}) Logger
	WithError(err error) Logger

	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
	Fatalf(format string, args ...interface{})

	Debug(args ...interface{})
	Info(args ...interface{})
	Warn(args ...interface{})
	Error(args ...interface{})
	Fatal(args ...interface{})

	Debugln(args ...interface{})
	Infoln(args ...interface{})
	Warnln(args ...interface{})
	Errorln(args ...interface{})

	// Writer returns a PipeWriter that logs each line written to it at Info
	// level, for streaming output into the structured logger without
	// materializing the whole stream.
	Writer() *io.PipeWriter
}
