package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func TestNewWithOutputWritesToGivenWriter(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithOutput(logrus.InfoLevel, &buf)
	log.Info("hello")
	require.Contains(t, buf.String(), "hello")
}

func TestParseLevelMapsDocumentedNames(t *testing.T) {
	cases := map[string]logrus.Level{
		"error":   logrus.ErrorLevel,
		"warning": logrus.WarnLevel,
		"info":    logrus.InfoLevel,
		"debug":   logrus.DebugLevel,
		"trace":   logrus.TraceLevel,
		"bogus":   logrus.InfoLevel,
	}
	for name, want := range cases {
		require.Equal(t, want, ParseLevel(name), name)
	}
}

func TestWithFieldsAndWithErrorDoNotPanic(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithOutput(logrus.DebugLevel, &buf)
	log.WithField("component", "router").Infof("loaded %s", "model")
	log.WithFields(map[string]interface{}{"a": 1, "b": 2}).Warn("degraded")
	log.WithError(require.AnError).Error("failed")

	out := buf.String()
	require.True(t, strings.Contains(out, "loaded model"))
	require.True(t, strings.Contains(out, "degraded"))
	require.True(t, strings.Contains(out, require.AnError.Error()))
}
