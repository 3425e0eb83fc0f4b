package logging

import (
	"io"

	"github.com/sirupsen/logrus"
)

// logrusAdapter wraps a logrus.Entry so the rest of the codebase depends on
// the Logger interface rather than logrus directly.
type logrusAdapter struct {
	logger *logrus.Logger
	entry  *logrus.Entry
}

// New creates a root Logger backed by logrus, configured for the given level.
func New(level logrus.Level) Logger {
	l := logrus.New()
	l.SetLevel(level)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return &logrusAdapter{logger: l, entry: logrus.NewEntry(l)}
}

// NewWithOutput is New, writing to out instead of stderr — used when
// --log-file redirects server output to a file.
func NewWithOutput(level logrus.Level, out io.Writer) Logger {
	l := logrus.New()
	l.SetLevel(level)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	l.SetOutput(out)
	return &logrusAdapter{logger: l, entry: logrus.NewEntry(l)}
}

// ParseLevel maps the documented log_level enum onto a logrus.Level.
func ParseLevel(name string) logrus.Level {
	switch name {
	case "error":
		return logrus.ErrorLevel
	case "warning":
		return logrus.WarnLevel
	case "info":
		return logrus.InfoLevel
	case "debug":
		return logrus.DebugLevel
	case "trace":
		return logrus.TraceLevel
	default:
		return logrus.InfoLevel
	}
}

func (l *logrusAdapter) WithField(key string, value interface{}) Logger {
	return &logrusAdapter{logger: l.logger, entry: l.entry.WithField(key, value)}
}

func (l *logrusAdapter) WithFields(fields map[string]interface{}) Logger {
	return &logrusAdapter{logger: l.logger, entry: l.entry.WithFields(logrus.Fields(fields))}
}

func (l *logrusAdapter) WithError(err error) Logger {
	return &logrusAdapter{logger: l.logger, entry: l.entry.WithError(err)}
}

func (l *logrusAdapter) Debugf(format string, args ...interface{}) { l.entry.Debugf(format, args...) }
func (l *logrusAdapter) Infof(format string, args ...interface{})  { l.entry.Infof(format, args...) }
func (l *logrusAdapter) Warnf(format string, args ...interface{})  { l.entry.Warnf(format, args...) }
func (l *logrusAdapter) Errorf(format string, args ...interface{}) { l.entry.Errorf(format, args...) }
func (l *logrusAdapter) Fatalf(format string, args ...interface{}) { l.entry.Fatalf(format, args...) }

func (l *logrusAdapter) Debug(args ...interface{}) { l.entry.Debug(args...) }
func (l *logrusAdapter) Info(args ...interface{})  { l.entry.Info(args...) }
func (l *logrusAdapter) Warn(args ...interface{})  { l.entry.Warn(args...) }
func (l *logrusAdapter) Error(args ...interface{}) { l.entry.Error(args...) }
func (l *logrusAdapter) Fatal(args ...interface{}) { l.entry.Fatal(args...) }

func (l *logrusAdapter) Debugln(args ...interface{}) { l.entry.Debugln(args...) }
func (l *logrusAdapter) Infoln(args ...interface{})  { l.entry.Infoln(args...) }
func (l *logrusAdapter) Warnln(args ...interface{})  { l.entry.Warnln(args...) }
func (l *logrusAdapter) Errorln(args ...interface{}) { l.entry.Errorln(args...) }

func (l *logrusAdapter) Writer() *io.PipeWriter { return l.entry.Writer() }
