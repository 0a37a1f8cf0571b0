package log

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"INFO":  slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
		"trace": slog.LevelInfo,
		"":      slog.LevelInfo,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLevel(in), in)
	}
}

func TestBroadcaster(t *testing.T) {
	b := NewBroadcaster()
	ch := b.Subscribe()
	assert.Equal(t, 1, b.Len())

	logger := slog.New(NewHandler(b, slog.LevelInfo))
	logger.Debug("hidden")
	logger.Info("Rule applied", slog.String("rule", "r1"))

	line := <-ch
	assert.Contains(t, string(line), `msg="Rule applied" rule=r1`)
	assert.Empty(t, ch)

	b.Unsubscribe(ch)
	b.Unsubscribe(ch)
	assert.Equal(t, 0, b.Len())
	_, ok := <-ch
	assert.False(t, ok)
}

func TestBroadcasterDropsForSlowSubscriber(t *testing.T) {
	b := NewBroadcaster()
	ch := b.Subscribe()
	for i := 0; i < subscriberBuffer+10; i++ {
		n, err := b.Write([]byte("line\n"))
		require.NoError(t, err)
		assert.Equal(t, 5, n)
	}
	assert.Len(t, ch, subscriberBuffer)
}

func TestHandlerTimeFormat(t *testing.T) {
	var buf bytes.Buffer
	slog.New(NewHandler(&buf, slog.LevelInfo)).Info("x")
	out := buf.String()
	require.True(t, strings.HasPrefix(out, "time="))
	// time=2006-01-02 15:04:05 is quoted by the text handler
	assert.Regexp(t, `^time="\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2}" level=INFO msg=x`, out)
}

func TestGetOSInfo(t *testing.T) {
	attrs := GetOSInfo()
	require.GreaterOrEqual(t, len(attrs), 3)
	assert.Equal(t, "GOOS", attrs[0].(slog.Attr).Key)
}
