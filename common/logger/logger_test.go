package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelWarn, parseLevel("WARNING", slog.LevelInfo))
	assert.Equal(t, slog.LevelError, parseLevel("error", slog.LevelInfo))
	assert.Equal(t, slog.LevelInfo, parseLevel("", slog.LevelInfo))
}

func TestTraceContextHandler_AddsTraceIDs(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(newTraceContextHandler(slog.NewJSONHandler(&buf, nil)))

	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	ctx := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	}))

	log.InfoContext(ctx, "hello")

	var record map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", record["trace_id"])
	assert.Equal(t, "00f067aa0ba902b7", record["span_id"])
}

func TestNewWithWriter_TextOutputWithoutTerminal(t *testing.T) {
	t.Setenv("ENV", "local")

	var buf bytes.Buffer
	NewWithWriter(&buf, "info").Info("started", "port", "8080")

	assert.Contains(t, buf.String(), "started")
	assert.NotContains(t, buf.String(), "\x1b[")
}
