// Package logging provides structured logging for triaged.
//
// Logger wraps Zap with context-aware methods. Every call appends the
// correlation fields carried by the context: the OpenTelemetry trace and
// span ids, the orchestrator cycle id, the event signature under
// processing and the diagnosis id.
//
//	ctx = logging.WithCycleID(ctx, cycleID)
//	ctx = logging.WithSignature(ctx, event.Signature)
//	logger.Info(ctx, "diagnosis complete", zap.Bool("actionable", d.Actionable))
//
// Output goes to stdout (JSON or console), to an OpenTelemetry log
// provider, or both. String values pass through a redacting encoder that
// masks credential-shaped substrings, and field names such as token or
// api_key are replaced outright. Levels below Error are sampled per level.
//
// Tests use NewTestLogger, which records entries in memory:
//
//	tl := logging.NewTestLogger()
//	svc := NewService(tl.Logger)
//	tl.AssertLogged(t, zapcore.WarnLevel, "snippet unreadable")
package logging
