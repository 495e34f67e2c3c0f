package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
)

func decode(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry), "bad JSON: %s", buf.String())
	return entry
}

func TestSetup_JSONCarriesServiceAndVersion(t *testing.T) {
	var buf bytes.Buffer
	logger := Setup("credcored", "1.2.3", "json", "info", &buf)

	logger.Info("hello")

	entry := decode(t, &buf)
	assert.Equal(t, "hello", entry["msg"])
	assert.Equal(t, "credcored", entry["service"])
	assert.Equal(t, "1.2.3", entry["version"])
}

func TestSetup_TextFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := Setup("credcored", "dev", "text", "info", &buf)

	logger.Info("plain")
	assert.Contains(t, buf.String(), "msg=plain")
	assert.Contains(t, buf.String(), "service=credcored")
}

func TestSetup_LevelFilters(t *testing.T) {
	var buf bytes.Buffer
	logger := Setup("credcored", "dev", "json", "warn", &buf)

	logger.Info("dropped")
	assert.Zero(t, buf.Len())
	logger.Warn("kept")
	assert.NotZero(t, buf.Len())
}

func TestHandler_TraceContext(t *testing.T) {
	var buf bytes.Buffer
	logger := Setup("credcored", "dev", "json", "debug", &buf)

	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	ctx := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID: traceID,
		SpanID:  spanID,
	}))

	logger.InfoContext(ctx, "traced")

	entry := decode(t, &buf)
	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", entry["trace_id"])
	assert.Equal(t, "00f067aa0ba902b7", entry["span_id"])
}

func TestHandler_WithAttrsKeepsTrace(t *testing.T) {
	var buf bytes.Buffer
	logger := Setup("credcored", "dev", "json", "debug", &buf).With("component", "engine")

	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	ctx := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{TraceID: traceID}))
	logger.InfoContext(ctx, "scoped")

	entry := decode(t, &buf)
	assert.Equal(t, "engine", entry["component"])
	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", entry["trace_id"])
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"bogus", slog.LevelInfo},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseLevel(tt.in))
		})
	}
}

func TestLogError_OopsContext(t *testing.T) {
	var buf bytes.Buffer
	logger := Setup("credcored", "dev", "json", "debug", &buf)

	err := oops.Code("USER_UPDATE_FAILED").With("user_id", "u1").Wrap(errors.New("connection reset"))
	LogError(context.Background(), logger, "store failure", err)

	entry := decode(t, &buf)
	assert.Equal(t, "store failure", entry["msg"])
	assert.Equal(t, "USER_UPDATE_FAILED", entry["code"])
	assert.Contains(t, entry["error"], "connection reset")
	ctxAttr, ok := entry["context"].(map[string]any)
	require.True(t, ok, "context attribute missing")
	assert.Equal(t, "u1", ctxAttr["user_id"])
}

func TestLogError_PlainError(t *testing.T) {
	var buf bytes.Buffer
	logger := Setup("credcored", "dev", "json", "debug", &buf)

	LogError(context.Background(), logger, "plain failure", errors.New("boom"))

	entry := decode(t, &buf)
	assert.Equal(t, "boom", entry["error"])
	assert.NotContains(t, entry, "code")
}
