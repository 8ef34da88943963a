package logging

import (
	"bytes"
	"log/slog"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func captureJSON(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	InitWithHandler(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	t.Cleanup(func() { Init(slog.LevelInfo, false) })
	return &buf
}

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &out))
	buf.Reset()
	return out
}

func TestComponent_TagsRecords(t *testing.T) {
	log := Component("session")
	buf := captureJSON(t)

	log.Info("started", "rate_hz", 10)
	line := decodeLine(t, buf)
	assert.Equal(t, "session", line["component"])
	assert.Equal(t, "started", line["msg"])
	assert.EqualValues(t, 10, line["rate_hz"])
}

func TestComponent_GroupsNest(t *testing.T) {
	log := Component("server")
	buf := captureJSON(t)

	log.WithGroup("conn").With("remote", "a").WithGroup("frame").With("kind", "text").Info("written", "bytes", 3)
	line := decodeLine(t, buf)

	assert.Equal(t, "server", line["component"])
	conn, ok := line["conn"].(map[string]any)
	require.True(t, ok, "conn group missing: %v", line)
	assert.Equal(t, "a", conn["remote"])
	frame, ok := conn["frame"].(map[string]any)
	require.True(t, ok, "frame group not nested in conn: %v", conn)
	assert.Equal(t, "text", frame["kind"])
	assert.EqualValues(t, 3, frame["bytes"])
	assert.NotContains(t, line, "remote")
}

func TestComponent_FollowsInit(t *testing.T) {
	log := Component("late")
	buf := captureJSON(t)

	log.Debug("visible")
	assert.Equal(t, "late", decodeLine(t, buf)["component"])

	InitWithHandler(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelWarn}))
	log.Debug("hidden")
	assert.Zero(t, buf.Len())
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"debug", slog.LevelDebug, false},
		{"", slog.LevelInfo, false},
		{" WARN ", slog.LevelWarn, false},
		{"warning", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"loud", slog.LevelInfo, true},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}
