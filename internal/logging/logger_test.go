package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	otellog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/log/embedded"
)

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &out))
	return out
}

func TestStandardLogger_ContextHelpers(t *testing.T) {
	tests := []struct {
		name  string
		build func(l *StandardLogger) *slog.Logger
		key   string
		value string
	}{
		{"service", func(l *StandardLogger) *slog.Logger { return l.WithService("trends") }, "service", "trends"},
		{"component", func(l *StandardLogger) *slog.Logger { return l.WithComponent("engine") }, "component", "engine"},
		{"operation", func(l *StandardLogger) *slog.Logger { return l.WithOperation("analyze") }, "operation", "analyze"},
		{"request", func(l *StandardLogger) *slog.Logger { return l.WithRequestID("req-1") }, "request_id", "req-1"},
		{"run", func(l *StandardLogger) *slog.Logger { return l.WithRunID("run-1") }, "run_id", "run-1"},
		{"market", func(l *StandardLogger) *slog.Logger { return l.WithMarket("rabat") }, "market_id", "rabat"},
		{"error", func(l *StandardLogger) *slog.Logger { return l.WithError(errors.New("boom")) }, "error", "boom"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			l := NewStandardLoggerWithWriter("info", &buf)
			tt.build(l).Info("hello")
			line := decodeLine(t, &buf)
			assert.Equal(t, tt.value, line[tt.key])
			assert.Equal(t, "hello", line["msg"])
		})
	}
}

func TestStandardLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := NewStandardLoggerWithWriter("warn", &buf)
	l.LogCacheOperation("get", "market_trends:42:2024-01-01", true, 2)
	assert.Zero(t, buf.Len())

	l.Logger().Warn("careful")
	assert.Equal(t, "careful", decodeLine(t, &buf)["msg"])
}

func TestStandardLogger_LogAnalysisRun(t *testing.T) {
	var buf bytes.Buffer
	l := NewStandardLoggerWithWriter("debug", &buf)
	l.LogAnalysisRun("run-9", 5, 1, 120)

	line := decodeLine(t, &buf)
	assert.Equal(t, "analysis", line["event"])
	assert.Equal(t, "run-9", line["run_id"])
	assert.Equal(t, float64(5), line["markets"])
	assert.Equal(t, float64(1), line["failed"])
}

func TestParseLogrusLevel(t *testing.T) {
	tests := []struct {
		in   string
		want logrus.Level
	}{
		{"debug", logrus.DebugLevel},
		{"WARN", logrus.WarnLevel},
		{"warning", logrus.WarnLevel},
		{"error", logrus.ErrorLevel},
		{"info", logrus.InfoLevel},
		{"bogus", logrus.InfoLevel},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseLogrusLevel(tt.in))
		})
	}
	assert.Equal(t, logrus.DebugLevel, NewLogrusLogger("debug").GetLevel())
}

func TestNewOTLPLogger_Disabled(t *testing.T) {
	l, err := NewOTLPLogger(OTLPConfig{Enabled: false, LogLevel: "info"})
	require.NoError(t, err)
	assert.NotNil(t, l.Logger())
	assert.NoError(t, l.Shutdown(context.Background()))
}

type recordingLogger struct {
	embedded.Logger
	records []otellog.Record
}

func (r *recordingLogger) Emit(_ context.Context, rec otellog.Record) {
	r.records = append(r.records, rec)
}

func (r *recordingLogger) Enabled(context.Context, otellog.EnabledParameters) bool { return true }

func TestOTLPHandler(t *testing.T) {
	rec := &recordingLogger{}
	logger := slog.New(NewOTLPHandler(rec, slog.LevelInfo)).With("run_id", "r1").WithGroup("market")

	logger.Debug("dropped")
	logger.Warn("forecast failed", "id", "fes", "points", 20)
	require.Len(t, rec.records, 1)

	got := rec.records[0]
	assert.Equal(t, "forecast failed", got.Body().AsString())
	assert.Equal(t, otellog.SeverityWarn, got.Severity())

	attrs := map[string]otellog.Value{}
	got.WalkAttributes(func(kv otellog.KeyValue) bool {
		attrs[kv.Key] = kv.Value
		return true
	})
	assert.Equal(t, "r1", attrs["run_id"].AsString())
	assert.Equal(t, "fes", attrs["market.id"].AsString())
	assert.Equal(t, int64(20), attrs["market.points"].AsInt64())
}
