package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestZerologLogger_FieldsAndLevel(t *testing.T) {
	var buf bytes.Buffer
	l := NewZerologLogger(zerolog.New(&buf), "screenary", zerolog.InfoLevel)

	l.Debug("hidden")
	l.With(Field{Key: "component", Value: "transport"}).Info("connected", Field{Key: "addr", Value: "127.0.0.1:4489"})

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(lines[0], &entry))
	assert.Equal(t, "connected", entry["message"])
	assert.Equal(t, "screenary", entry["service"])
	assert.Equal(t, "transport", entry["component"])
	assert.Equal(t, "127.0.0.1:4489", entry["addr"])
	assert.Equal(t, "info", entry["level"])
}

func TestOrNop(t *testing.T) {
	l := OrNop(nil)
	require.NotNil(t, l)
	l.Error("discarded")
	assert.NoError(t, l.Close())

	custom := NewNopLogger()
	assert.Same(t, custom, OrNop(custom))
}

func TestParseLevel(t *testing.T) {
	cases := map[string]zerolog.Level{
		"debug":   zerolog.DebugLevel,
		" WARN ":  zerolog.WarnLevel,
		"warning": zerolog.WarnLevel,
		"error":   zerolog.ErrorLevel,
		"off":     zerolog.Disabled,
	}
	for raw, want := range cases {
		got, ok := ParseLevel(raw)
		assert.True(t, ok, raw)
		assert.Equal(t, want, got, raw)
	}

	got, ok := ParseLevel("chatty")
	assert.False(t, ok)
	assert.Equal(t, zerolog.InfoLevel, got)
}

func TestDailyFileWriter_Rotates(t *testing.T) {
	dir := t.TempDir()
	w, err := NewDailyFileWriter("client", dir)
	require.NoError(t, err)

	day := time.Date(2026, 3, 1, 23, 59, 0, 0, time.UTC)
	w.now = func() time.Time { return day }

	_, err = w.Write([]byte("first\n"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "client_2026-03-01.log"), w.CurrentLogFile())

	day = day.Add(2 * time.Minute)
	_, err = w.Write([]byte("second\n"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "client_2026-03-02.log"), w.CurrentLogFile())

	require.NoError(t, w.Close())
	assert.NoError(t, w.Close())
	_, err = w.Write([]byte("late\n"))
	assert.Error(t, err)

	b, err := os.ReadFile(filepath.Join(dir, "client_2026-03-02.log"))
	require.NoError(t, err)
	assert.Equal(t, "second\n", string(b))
}

func TestZerologFileLogger_Close(t *testing.T) {
	l, err := NewZerologFileLogger("server", filepath.Join(t.TempDir(), "logs"), zerolog.InfoLevel)
	require.NoError(t, err)

	l.Info("hello")
	assert.NoError(t, l.Close())
	assert.NoError(t, l.Close())
}
