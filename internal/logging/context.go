package logging

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Correlation field keys.
const (
	fieldTraceID     = "trace_id"
	fieldSpanID      = "span_id"
	fieldCycleID     = "cycle.id"
	fieldSignature   = "event.signature"
	fieldDiagnosisID = "diagnosis.id"
)

// maxSignatureLen bounds the signature copied into every log line.
const maxSignatureLen = 160

type ctxKey int

const (
	cycleKey ctxKey = iota
	signatureKey
	diagnosisKey
	loggerKey
)

// ContextFields returns the span and pipeline identifiers carried by ctx.
func ContextFields(ctx context.Context) []zap.Field {
	var fields []zap.Field
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		fields = append(fields,
			zap.String(fieldTraceID, sc.TraceID().String()),
			zap.String(fieldSpanID, sc.SpanID().String()),
		)
	}
	for _, kv := range []struct {
		key string
		val string
	}{
		{fieldCycleID, CycleIDFromContext(ctx)},
		{fieldSignature, SignatureFromContext(ctx)},
		{fieldDiagnosisID, DiagnosisIDFromContext(ctx)},
	} {
		if kv.val != "" {
			fields = append(fields, zap.String(kv.key, kv.val))
		}
	}
	return fields
}

func stringValue(ctx context.Context, k ctxKey) string {
	s, _ := ctx.Value(k).(string)
	return s
}

// WithCycleID tags ctx with the orchestrator cycle identifier.
func WithCycleID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, cycleKey, id)
}

func CycleIDFromContext(ctx context.Context) string { return stringValue(ctx, cycleKey) }

// WithSignature tags ctx with the event signature being handled,
// truncated to maxSignatureLen bytes.
func WithSignature(ctx context.Context, signature string) context.Context {
	if len(signature) > maxSignatureLen {
		signature = signature[:maxSignatureLen]
	}
	return context.WithValue(ctx, signatureKey, signature)
}

func SignatureFromContext(ctx context.Context) string { return stringValue(ctx, signatureKey) }

func WithDiagnosisID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, diagnosisKey, id)
}

func DiagnosisIDFromContext(ctx context.Context) string { return stringValue(ctx, diagnosisKey) }

// WithLogger stores logger in ctx.
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// FromContext returns the logger stored in ctx, or a nop logger.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerKey).(*Logger); ok && l != nil {
		return l
	}
	return NewNop()
}
