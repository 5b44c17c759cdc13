// Package telemetry provides OpenTelemetry tracing and metrics for triaged.
//
// The orchestrator opens one span per processed event and the status
// server counts requests through the meter. Export uses OTLP over gRPC or
// HTTP and is disabled by default; with export off, tracers and meters come
// from the global no-op providers.
//
//	tel, err := telemetry.New(ctx, telemetry.FromSettings(cfg.Observability, version))
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
// Tests use NewTestTelemetry and assert on recorded spans:
//
//	tt := telemetry.NewTestTelemetry()
//	orch, _ := pipeline.New(pipeline.Deps{Tracer: tt.Tracer("test"), ...}, cfg)
//	tt.AssertSpanExists(t, "pipeline.process_event")
package telemetry
