package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestNewLogger_InvalidConfig(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Format = "xml"

	_, err := NewLogger(cfg, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "format")
}

func TestFromSettings(t *testing.T) {
	cfg, err := FromSettings("debug", "console")
	require.NoError(t, err)
	assert.Equal(t, zapcore.DebugLevel, cfg.Level)
	assert.Equal(t, "console", cfg.Format)

	cfg, err = FromSettings("trace", "")
	require.NoError(t, err)
	assert.Equal(t, TraceLevel, cfg.Level)
	assert.Equal(t, "json", cfg.Format)

	_, err = FromSettings("loud", "")
	assert.Error(t, err)

	_, err = FromSettings("info", "yaml")
	assert.Error(t, err)
}

func TestLogger_ContextFields(t *testing.T) {
	tl := NewTestLogger()

	ctx := WithCycleID(context.Background(), "cyc-1")
	ctx = WithSignature(ctx, "checkout: TypeError")
	ctx = WithDiagnosisID(ctx, "d-42")

	tl.Info(ctx, "diagnosis complete", zap.Bool("actionable", true))

	tl.AssertLogged(t, zapcore.InfoLevel, "diagnosis complete")
	tl.AssertField(t, "diagnosis complete", "cycle.id", "cyc-1")
	tl.AssertField(t, "diagnosis complete", "event.signature", "checkout: TypeError")
	tl.AssertField(t, "diagnosis complete", "diagnosis.id", "d-42")
}

func TestLogger_TraceCorrelation(t *testing.T) {
	tl := NewTestLogger()

	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	sc := trace.NewSpanContext(trace.SpanContextConfig{TraceID: traceID, SpanID: spanID})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	tl.Warn(ctx, "cycle degraded")
	tl.AssertTraceCorrelation(t, "cycle degraded")
}

func TestWithSignature_Truncates(t *testing.T) {
	long := bytes.Repeat([]byte("x"), maxSignatureLen*2)
	ctx := WithSignature(context.Background(), string(long))
	assert.Len(t, SignatureFromContext(ctx), maxSignatureLen)
}

func TestFromContext(t *testing.T) {
	assert.NotNil(t, FromContext(context.Background()))

	tl := NewTestLogger()
	ctx := WithLogger(context.Background(), tl.Logger)
	FromContext(ctx).Error(ctx, "stored logger used")
	tl.AssertLogged(t, zapcore.ErrorLevel, "stored logger used")
}

func TestLogger_ChildLoggers(t *testing.T) {
	tl := NewTestLogger()
	child := tl.Named("pipeline").With(zap.String("component", "remediate"))

	child.Info(context.Background(), "from child")
	tl.AssertField(t, "from child", "component", "remediate")
	assert.Equal(t, 1, tl.Count("from child"))
}

func TestRedactingEncoder_MasksPatterns(t *testing.T) {
	enc, err := NewRedactingEncoder(newEncoder("json"), NewDefaultConfig().Redaction)
	require.NoError(t, err)

	var buf bytes.Buffer
	core := zapcore.NewCore(enc, zapcore.AddSync(&buf), zapcore.InfoLevel)
	l := &Logger{zap: zap.New(core), config: NewDefaultConfig()}

	l.Info(context.Background(), "push failed",
		zap.String("detail", "auth Bearer abc.def.ghi rejected"),
		zap.String("token", "ghp_aaaaaaaaaaaaaaaaaaaaaaaa"),
		zap.String("branch", "triage/checkout-1234"),
	)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "[REDACTED]", entry["token"])
	assert.Equal(t, "auth [REDACTED:pattern] rejected", entry["detail"])
	assert.Equal(t, "triage/checkout-1234", entry["branch"])
}

func TestRedactedHelpers(t *testing.T) {
	tl := NewTestLogger()
	tl.Info(context.Background(), "auth configured",
		RedactedString("authorization", "Bearer xyz"),
	)
	tl.AssertField(t, "auth configured", "authorization", "[REDACTED:10]")
	tl.AssertNoSecrets(t)
}
