package telemetry

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FranciscoCL13/carga-masiva/pkg/engine"
)

type stubClient struct {
	err error
}

func (s *stubClient) CreateInstance(context.Context, engine.VariableSet) (int64, error) {
	return 101, s.err
}

func (s *stubClient) ListCandidateTasks(context.Context, engine.TaskFilter) ([]engine.TaskHandle, error) {
	return []engine.TaskHandle{{ID: 1}}, s.err
}

func (s *stubClient) SetTaskState(context.Context, int64, engine.TaskState, engine.VariableSet) error {
	return s.err
}

func (s *stubClient) TriggerNode(context.Context, int64, string) error {
	return s.err
}

func newTestTelemetry(t *testing.T, buf *bytes.Buffer) *Telemetry {
	t.Helper()
	cfg := DefaultConfig()
	metrics, err := NewMetrics(cfg.Metrics)
	require.NoError(t, err)
	tracer, err := NewTracer(cfg.Tracing, cfg.ServiceName, cfg.ServiceVersion, cfg.Environment, nil)
	require.NoError(t, err)
	return &Telemetry{
		Logger:  NewLoggerWithWriter(buf, cfg.Logging),
		Tracer:  tracer,
		Metrics: metrics,
		Config:  cfg,
	}
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())
	require.NoError(t, ProductionConfig().Validate())
	require.NoError(t, DevelopmentConfig().Validate())

	cfg := DefaultConfig()
	cfg.Logging.Level = "loud"
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Logging.Format = "xml"
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Tracing.Enabled = true
	cfg.Tracing.Exporter = "jaeger"
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Tracing.Enabled = true
	cfg.Tracing.SamplingRate = 1.5
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.ServiceName = ""
	assert.Error(t, cfg.Validate())
}

func TestLoggerWritesRotatedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "carga.log")
	cfg := DefaultConfig().Logging
	cfg.Output = path

	logger, err := NewLogger(cfg)
	require.NoError(t, err)
	logger.WithBatchID("b-1").Info("hello")
	require.NoError(t, logger.Close())

	assert.FileExists(t, path)
}

func TestLoggerFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(&buf, DefaultConfig().Logging)

	logger.NewComponentLogger("driver").WithBatchID("b-1").WithUnit(3, "Hoja1 row 5").WithInstanceID(42).Info("done")

	out := buf.String()
	assert.Contains(t, out, `"component":"driver"`)
	assert.Contains(t, out, `"batch_id":"b-1"`)
	assert.Contains(t, out, `"unit":3`)
	assert.Contains(t, out, `"label":"Hoja1 row 5"`)
	assert.Contains(t, out, `"process_instance_id":42`)
}

func TestLoggerContext(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(&buf, DefaultConfig().Logging)

	ctx := logger.WithBatchID("ctx").WithContext(context.Background())
	FromContext(ctx).Info("from context")
	assert.Contains(t, buf.String(), `"batch_id":"ctx"`)

	assert.NotNil(t, FromContext(context.Background()))
}

func TestDisabledMetricsAreNoop(t *testing.T) {
	m, err := NewMetrics(MetricsConfig{Enabled: false})
	require.NoError(t, err)
	assert.Nil(t, m.Registry())

	m.RecordBatchStarted()
	m.RecordBatchCompleted("succeeded", time.Second)
	m.RecordUnitStarted()
	m.RecordUnitCompleted("instance-created", true, time.Second)
	m.RecordStage("complete", "completed", 1)
	m.RecordDiscoveryListing("miss")
	m.RecordEngineCall(engine.OpListTasks, time.Millisecond)
	m.RecordEngineError(engine.OpListTasks, "transport")
	m.RecordRejectedUpload("BAD_WORKBOOK")
}

func TestInstrumentedClient(t *testing.T) {
	var buf bytes.Buffer
	tel := newTestTelemetry(t, &buf)
	ctx := context.Background()

	client := tel.InstrumentClient(&stubClient{})
	id, err := client.CreateInstance(ctx, engine.VariableSet{"a": 1})
	require.NoError(t, err)
	assert.Equal(t, int64(101), id)

	tasks, err := client.ListCandidateTasks(ctx, engine.TaskFilter{ProcessInstanceID: id})
	require.NoError(t, err)
	assert.Len(t, tasks, 1)

	assert.Equal(t, 1.0, testutil.ToFloat64(tel.Metrics.engineCalls.WithLabelValues(engine.OpCreateInstance)))
	assert.Equal(t, 1.0, testutil.ToFloat64(tel.Metrics.engineCalls.WithLabelValues(engine.OpListTasks)))

	failing := tel.InstrumentClient(&stubClient{err: engine.NewRejectedError("conflict", 409, nil)})
	err = failing.SetTaskState(ctx, 7, engine.TaskStateClaimed, nil)
	require.Error(t, err)
	assert.True(t, engine.IsRejected(err), "errors pass through unchanged")
	assert.Equal(t, 1.0, testutil.ToFloat64(tel.Metrics.engineErrors.WithLabelValues(engine.OpSetTaskState, "rejected")))

	err = tel.InstrumentClient(&stubClient{err: errors.New("dial tcp")}).TriggerNode(ctx, 1, "_N1")
	require.Error(t, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(tel.Metrics.engineErrors.WithLabelValues(engine.OpTriggerNode, "transport")))
}

func TestObserverRecordsOutcomes(t *testing.T) {
	var buf bytes.Buffer
	tel := newTestTelemetry(t, &buf)
	obs := tel.NewObserver()

	ctx, batchDone := obs.BatchStarted(context.Background(), "batch-1", 1)
	unit := &engine.WorkUnit{Index: 0, Label: "Hoja1 row 2"}
	unitCtx, unitDone := obs.UnitStarted(ctx, unit)
	assert.Equal(t, 1.0, testutil.ToFloat64(tel.Metrics.unitsInFlight))

	stage := &engine.Stage{Name: "sedatu", TriggerNodeID: "_E973"}
	stageCtx, stageDone := obs.StageStarted(unitCtx, 101, stage)
	obs.DiscoveryAttempt(stageCtx, 101, 1, 0, nil)
	obs.DiscoveryAttempt(stageCtx, 101, 2, 0, errors.New("timeout"))
	obs.DiscoveryAttempt(stageCtx, 101, 3, 1, nil)

	stageDone(&engine.StageResult{
		Stage:            "sedatu",
		Status:           engine.StageStatusEngineError,
		TaskID:           501,
		Attempts:         3,
		FailedTransition: engine.TaskStateStarted,
		Error:            engine.NewRejectedError("forbidden", 403, nil),
	})

	result := engine.WorkUnitResult{
		Index:      0,
		Label:      unit.Label,
		Status:     engine.UnitStatusCreated,
		InstanceID: 101,
		Stages:     []engine.StageResult{{Stage: "sedatu", Status: engine.StageStatusEngineError}},
		Duration:   time.Second,
	}
	unitDone(&result)

	now := time.Now()
	units := []engine.WorkUnitResult{result}
	batchDone(&engine.BatchReport{
		ID:          "batch-1",
		StartedAt:   now.Add(-time.Second),
		CompletedAt: now,
		Units:       units,
		Summary:     engine.Summarize(units),
	})

	m := tel.Metrics
	assert.Equal(t, 1.0, testutil.ToFloat64(m.discoveryListings.WithLabelValues("miss")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.discoveryListings.WithLabelValues("error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.discoveryListings.WithLabelValues("match")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.stagesCompleted.WithLabelValues("sedatu", "engine-error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.unitsCompleted.WithLabelValues("instance-created", "false")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.unitsInFlight))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.batchesCompleted.WithLabelValues("failed")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.activeBatches))

	out := buf.String()
	assert.NotContains(t, out, "atch started", "batch lines belong to the orchestrator")
	assert.NotContains(t, out, "atch finished")
	assert.Contains(t, out, `"failed_transition":"started"`)
	assert.Contains(t, out, `"message":"Unit finished"`)
	assert.Contains(t, out, `"message":"Stage finished"`)
	assert.Contains(t, out, `"batch_id":"batch-1"`)
}

func TestBatchLinesLoggedOnce(t *testing.T) {
	var buf bytes.Buffer
	tel := newTestTelemetry(t, &buf)

	orch := engine.NewOrchestrator(tel.InstrumentClient(&stubClient{}), engine.Options{
		Concurrency: 1,
		Polling:     engine.PollingConfig{MaxAttempts: 1},
		Observer:    tel.NewObserver(),
		Logger:      tel.Logger.Zerolog(),
	})
	report := orch.RunAll(context.Background(), []engine.WorkUnit{{
		Label:  "Hoja1 row 2",
		Stages: []engine.Stage{{Name: "complete"}},
	}})
	require.Equal(t, engine.BatchStatusSucceeded, report.Summary.Status)

	out := buf.String()
	assert.Equal(t, 1, strings.Count(out, `"message":"Batch started"`))
	assert.Equal(t, 1, strings.Count(out, `"message":"Batch finished"`))
	assert.Contains(t, out, `"instances_created":1`)
	assert.Equal(t, 1, strings.Count(strings.ToLower(out), `"message":"batch started"`))
	assert.Contains(t, out, `"trace_id":`)
}
