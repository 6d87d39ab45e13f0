// Package telemetry provides observability for the upload driver.
//
// It combines structured logging (zerolog, with lumberjack file rotation),
// distributed tracing (OpenTelemetry) and metrics (Prometheus) behind one
// Telemetry bundle.
//
// # Usage
//
// Initialize telemetry at application startup:
//
//	cfg := telemetry.DefaultConfig()
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer tel.Shutdown(context.Background())
//
//	ctx = tel.WithContext(ctx)
//
// # Driver Integration
//
// The engine package only knows the engine.Observer interface. NewObserver
// adapts the bundle to it, producing a span per batch, unit and stage, the
// batch/unit/stage counters and one log line per finished unit:
//
//	orch := engine.NewOrchestrator(tel.InstrumentClient(client), engine.Options{
//	    Observer: tel.NewObserver(),
//	    Logger:   tel.Logger.Zerolog(),
//	})
//
// InstrumentClient wraps any engine.EngineClient so every remote call gets a
// client span and is counted in engine_calls_total, engine_errors_total and
// engine_call_duration_seconds, labelled by operation.
//
// # Logging
//
// Outputs are stdout, stderr or a file path. File outputs rotate at
// MaxSizeMB and keep MaxBackups files for MaxAgeDays.
//
//	logger := tel.Logger.NewComponentLogger("server")
//	logger.WithBatchID(id).Info("batch accepted")
//
// # Metrics
//
// Metrics are registered on a private registry; Handler exposes it and the
// HTTP server mounts it at MetricsConfig.Path.
//
// # Configuration
//
//	cfg := telemetry.DevelopmentConfig() // console logs, stdout traces
//	cfg := telemetry.ProductionConfig()  // JSON logs, 10% sampling
package telemetry
