package telemetry_test

import (
	"context"
	"fmt"
	"io"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/FranciscoCL13/carga-masiva/pkg/engine"
	"github.com/FranciscoCL13/carga-masiva/pkg/telemetry"
)

type oneTaskEngine struct{}

func (oneTaskEngine) CreateInstance(context.Context, engine.VariableSet) (int64, error) {
	return 7, nil
}

func (oneTaskEngine) ListCandidateTasks(_ context.Context, f engine.TaskFilter) ([]engine.TaskHandle, error) {
	return []engine.TaskHandle{{ID: 70, NodeID: "_REVIEW", ProcessInstanceID: f.ProcessInstanceID}}, nil
}

func (oneTaskEngine) SetTaskState(context.Context, int64, engine.TaskState, engine.VariableSet) error {
	return nil
}

func (oneTaskEngine) TriggerNode(context.Context, int64, string) error {
	return nil
}

// Example_driverIntegration wires the bundle into the orchestrator and reads
// back the engine call counter.
func Example_driverIntegration() {
	cfg := telemetry.DefaultConfig()
	cfg.Tracing.Enabled = false

	tel, err := telemetry.NewTelemetryWithWriter(cfg, io.Discard)
	if err != nil {
		panic(err)
	}
	defer tel.Shutdown(context.Background())

	orch := engine.NewOrchestrator(tel.InstrumentClient(oneTaskEngine{}), engine.Options{
		Concurrency: 1,
		Observer:    tel.NewObserver(),
		Logger:      tel.Logger.Zerolog(),
	})
	report := orch.RunAll(tel.WithContext(context.Background()), []engine.WorkUnit{{
		Label:  "Hoja1 row 2",
		Stages: []engine.Stage{{Name: "complete"}},
	}})

	calls, _ := testutil.GatherAndCount(tel.Metrics.Registry(), "carga_engine_calls_total")
	fmt.Println(report.Summary.Status, calls)

	// Output:
	// succeeded 3
}

// Example_structuredLogging shows the batch field helpers.
func Example_structuredLogging() {
	cfg := telemetry.DevelopmentConfig()
	cfg.Tracing.Enabled = false

	tel, _ := telemetry.NewTelemetry(cfg)
	defer tel.Shutdown(context.Background())

	logger := tel.Logger.NewComponentLogger("driver").
		WithBatchID("6f1c").
		WithUnit(0, "Hoja1 row 2").
		WithInstanceID(101)

	logger.Debug("discovering task")
	logger.Warn("no task found")
}
