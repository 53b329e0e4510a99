package log

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func capture(t *testing.T, level Level) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	SetOutput(&buf)
	SetLevel(level)
	t.Cleanup(func() {
		SetOutput(nil)
		SetLevel(LevelInfo)
	})
	return &buf
}

func TestLevelFiltering(t *testing.T) {
	buf := capture(t, LevelWarn)

	Debug("hidden debug")
	Info("hidden info")
	Warn("shown warn", "k", "v")
	Error("shown error", errors.New("boom"))

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "[WARN] shown warn k=v")
	assert.Contains(t, out, "[ERROR] shown error err=boom")
}

func TestKeyValueFormatting(t *testing.T) {
	buf := capture(t, LevelDebug)

	Info("resolved", "title", "End of Autumn Term", "count", 3, "dangling")

	assert.Contains(t, buf.String(), `resolved title="End of Autumn Term" count=3`)
	assert.NotContains(t, buf.String(), "dangling")
}

func TestWriterSplitsLines(t *testing.T) {
	buf := capture(t, LevelInfo)

	_, err := Writer(LevelInfo).Write([]byte("GET /health 200\nGET /api/day 200\n"))
	assert.NoError(t, err)

	assert.Equal(t, 2, bytes.Count(buf.Bytes(), []byte("[INFO] GET ")))
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, LevelDebug, ParseLevel("debug"))
	assert.Equal(t, LevelWarn, ParseLevel("warning"))
	assert.Equal(t, LevelError, ParseLevel(" ERROR "))
	assert.Equal(t, LevelInfo, ParseLevel("chatty"))
}
