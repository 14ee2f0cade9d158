package log

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWithWriterPattern(t *testing.T) {
	var buf bytes.Buffer
	l, err := NewWithWriter(&LoggerConfig{
		Level:   "debug",
		Pattern: "[%level] %msg {%field}\n",
	}, &buf)
	require.NoError(t, err)

	l.WithFields(map[string]interface{}{"src": "2001:db8::1", "reason": "fragment_overlap"}).Debug("packet dropped")
	assert.Equal(t, "[debug] packet dropped {reason=fragment_overlap,src=2001:db8::1}\n", buf.String())
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l, err := NewWithWriter(&LoggerConfig{Level: "warn", Pattern: "%level %msg\n"}, &buf)
	require.NoError(t, err)

	l.Info("hidden")
	l.Debug("hidden")
	l.Warn("shown")
	l.WithError(errors.New("boom")).Error("failed")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "warning shown")
	assert.Contains(t, out, "error failed")
	assert.False(t, l.IsDebugEnabled())
	assert.False(t, l.IsInfoEnabled())
}

func TestInvalidLevel(t *testing.T) {
	_, err := New(&LoggerConfig{Level: "loud"})
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "invalid log level"))
}

func TestStaticFields(t *testing.T) {
	var buf bytes.Buffer
	l, err := NewWithWriter(&LoggerConfig{
		Pattern: "%msg %field\n",
		Fields:  map[string]string{"node": "edge-1"},
	}, &buf)
	require.NoError(t, err)

	l.Info("started")
	assert.Equal(t, "started node=edge-1\n", buf.String())
}

func TestFileAppender(t *testing.T) {
	path := filepath.Join(t.TempDir(), "v6rx.log")
	off := false
	l, err := New(&LoggerConfig{
		Level:  "info",
		Stdout: &off,
		File: FileAppenderOpt{
			Filename:   path,
			MaxSize:    10,
			MaxBackups: 3,
			MaxAge:     7,
		},
	})
	require.NoError(t, err)

	l.Info("written to file")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "written to file")
}

func TestMultiWriterKeepsWritingAfterError(t *testing.T) {
	var a, b bytes.Buffer
	m := NewMultiWriter().Add(&a).Add(failingWriter{}).Add(&b)
	assert.Equal(t, 3, m.Len())

	n, err := m.Write([]byte("x"))
	assert.Error(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, "x", a.String())
	assert.Equal(t, "x", b.String())
}

func TestDiscard(t *testing.T) {
	l := Discard()
	assert.False(t, l.IsInfoEnabled())
	l.WithField("k", "v").Info("nothing")
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("closed") }
