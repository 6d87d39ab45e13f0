package batch

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/FranciscoCL13/carga-masiva/pkg/engine"
	"github.com/FranciscoCL13/carga-masiva/pkg/policy"
	"github.com/FranciscoCL13/carga-masiva/pkg/sheet"
	"github.com/FranciscoCL13/carga-masiva/pkg/stores"
	"github.com/FranciscoCL13/carga-masiva/pkg/telemetry"
)

// fakeClient gives every instance one task per stage, visible immediately.
type fakeClient struct {
	mu          sync.Mutex
	nextID      int64
	createErr   error
	creates     []engine.VariableSet
	transitions []engine.TaskState
	completed   map[int64]int
}

func newFakeClient() *fakeClient {
	return &fakeClient{nextID: 100, completed: make(map[int64]int)}
}

func (f *fakeClient) CreateInstance(_ context.Context, vars engine.VariableSet) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creates = append(f.creates, vars)
	if f.createErr != nil {
		return 0, f.createErr
	}
	f.nextID++
	return f.nextID, nil
}

func (f *fakeClient) ListCandidateTasks(_ context.Context, filter engine.TaskFilter) ([]engine.TaskHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := filter.ProcessInstanceID*10 + int64(f.completed[filter.ProcessInstanceID]) + 1
	return []engine.TaskHandle{{
		ID:                id,
		Status:            "Ready",
		ProcessInstanceID: filter.ProcessInstanceID,
	}}, nil
}

func (f *fakeClient) SetTaskState(_ context.Context, taskID int64, state engine.TaskState, _ engine.VariableSet) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transitions = append(f.transitions, state)
	if state == engine.TaskStateCompleted {
		f.completed[taskID/10]++
	}
	return nil
}

func (f *fakeClient) TriggerNode(context.Context, int64, string) error {
	return nil
}

func workbook(t *testing.T, rows ...[]interface{}) *bytes.Buffer {
	t.Helper()

	f := excelize.NewFile()
	defer func() { _ = f.Close() }()
	require.NoError(t, f.SetSheetName("Sheet1", "Hoja1"))
	for i := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow("Hoja1", cell, &rows[i]))
	}

	buf, err := f.WriteToBuffer()
	require.NoError(t, err)
	return buf
}

func newTelemetry(t *testing.T) *telemetry.Telemetry {
	t.Helper()
	tel, err := telemetry.NewTelemetryWithWriter(telemetry.DefaultConfig(), io.Discard)
	require.NoError(t, err)
	return tel
}

func newJournal(t *testing.T) *stores.SQLiteStore {
	t.Helper()
	journal, err := OpenJournal(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = journal.Close() })
	return journal
}

func fastPolling() engine.PollingConfig {
	return engine.PollingConfig{MaxAttempts: 3, Interval: time.Millisecond}
}

func TestRunDrivesEveryRow(t *testing.T) {
	client := newFakeClient()
	journal := newJournal(t)
	tel := newTelemetry(t)

	svc := NewService(Options{
		Client:      client,
		Layout:      sheet.Layout{Kind: sheet.LayoutRows},
		Concurrency: 2,
		Polling:     fastPolling(),
		Journal:     journal,
		Telemetry:   tel,
		Logger:      zerolog.Nop(),
	})

	buf := workbook(t,
		[]interface{}{"folio", "monto"},
		[]interface{}{"A-1", 10},
		[]interface{}{"A-2", 20},
		[]interface{}{"A-3", nil},
	)

	result, err := svc.Run(context.Background(), buf, "carga.xlsx")
	require.NoError(t, err)

	report := result.Report
	require.Len(t, report.Units, 3)
	assert.Equal(t, engine.BatchStatusSucceeded, report.Summary.Status)
	for i, u := range report.Units {
		assert.Equal(t, i, u.Index, "results keep input order")
		assert.True(t, u.Succeeded())
	}
	assert.Len(t, client.creates, 3)
	assert.Len(t, client.transitions, 9)

	batch, err := journal.GetBatch(context.Background(), report.ID)
	require.NoError(t, err)
	assert.Equal(t, "carga.xlsx", batch.Source)
	assert.Equal(t, 3, batch.Succeeded)

	expected := `
# HELP carga_batches_completed_total Total number of batches completed by outcome
# TYPE carga_batches_completed_total counter
carga_batches_completed_total{status="succeeded"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(tel.Metrics.Registry(),
		strings.NewReader(expected), "carga_batches_completed_total"))

	calls, err := testutil.GatherAndCount(tel.Metrics.Registry(), "carga_engine_calls_total")
	require.NoError(t, err)
	assert.Equal(t, 3, calls, "one series per engine operation used")
}

func TestRunRecordsEngineFailures(t *testing.T) {
	client := newFakeClient()
	client.createErr = engine.NewTransportError("engine call failed", errors.New("connection refused"))

	svc := NewService(Options{
		Client:  client,
		Layout:  sheet.Layout{Kind: sheet.LayoutRows},
		Polling: fastPolling(),
		Logger:  zerolog.Nop(),
	})

	buf := workbook(t,
		[]interface{}{"folio"},
		[]interface{}{"A-1"},
	)

	result, err := svc.Run(context.Background(), buf, "carga.xlsx")
	require.NoError(t, err, "engine failures are reported, not returned")
	require.Len(t, result.Report.Units, 1)
	assert.Equal(t, engine.UnitStatusCreationFailed, result.Report.Units[0].Status)
	assert.Equal(t, engine.BatchStatusFailed, result.Report.Summary.Status)
}

func TestPrepareRejectsBadInput(t *testing.T) {
	journal := newJournal(t)
	tel := newTelemetry(t)
	client := newFakeClient()

	svc := NewService(Options{
		Client:    client,
		Layout:    sheet.Layout{Kind: sheet.LayoutRows},
		Journal:   journal,
		Telemetry: tel,
		Logger:    zerolog.Nop(),
	})

	tests := []struct {
		name string
		body io.Reader
		code string
	}{
		{"not a workbook", bytes.NewBufferString("folio,monto\nA,1\n"), engine.ErrCodeBadWorkbook},
		{"header only", workbook(t, []interface{}{"folio"}), engine.ErrCodeMissingRecord},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Run(context.Background(), tt.body, "carga.xlsx")
			require.Error(t, err)
			assert.True(t, engine.IsInput(err))

			var engErr *engine.EngineError
			require.True(t, errors.As(err, &engErr))
			assert.Equal(t, tt.code, engErr.Code)
		})
	}

	assert.Empty(t, client.creates, "input errors abort before any engine call")

	events, err := journal.GetEvents(context.Background(), nil, nil, 10, 0)
	require.NoError(t, err)
	assert.Len(t, events, 2)
	assert.Equal(t, stores.EventLevelWarning, events[0].Level)

	expected := `
# HELP carga_rejected_uploads_total Total number of uploads rejected before any engine call
# TYPE carga_rejected_uploads_total counter
carga_rejected_uploads_total{code="BAD_WORKBOOK"} 1
carga_rejected_uploads_total{code="MISSING_RECORD"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(tel.Metrics.Registry(),
		strings.NewReader(expected), "carga_rejected_uploads_total"))
}

func TestPolicyAdmission(t *testing.T) {
	pe, err := policy.NewEngine(policy.DefaultRule, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, pe.Replace(context.Background(), []policy.Policy{{
		Name:     "folios",
		Severity: policy.SeverityError,
		Enabled:  true,
		Source:   "folios.rego",
		Rego: `package carga.folios

import rego.v1

deny contains msg if {
	not input.unit.variables.folio
	msg := sprintf("%s has no folio", [input.unit.label])
}
`,
	}}))

	client := newFakeClient()
	svc := NewService(Options{
		Client:    client,
		Layout:    sheet.Layout{Kind: sheet.LayoutRows},
		Polling:   fastPolling(),
		Admission: pe,
		Logger:    zerolog.Nop(),
	})

	t.Run("denied", func(t *testing.T) {
		buf := workbook(t,
			[]interface{}{"folio", "monto"},
			[]interface{}{"A-1", 1},
			[]interface{}{nil, 2},
		)
		_, err := svc.Run(context.Background(), buf, "carga.xlsx")
		require.Error(t, err)

		var engErr *engine.EngineError
		require.True(t, errors.As(err, &engErr))
		assert.Equal(t, engine.ErrCodePolicyDenied, engErr.Code)
		assert.Contains(t, engErr.Message, "Hoja1 row 3 has no folio")
		assert.Empty(t, client.creates)
	})

	t.Run("allowed", func(t *testing.T) {
		buf := workbook(t,
			[]interface{}{"folio", "monto"},
			[]interface{}{"A-1", 1},
		)
		prepared, err := svc.Prepare(context.Background(), buf, "carga.xlsx")
		require.NoError(t, err)
		require.Len(t, prepared.Units, 1)
		assert.Empty(t, prepared.Warnings)

		result := svc.Execute(context.Background(), prepared)
		assert.Equal(t, engine.BatchStatusSucceeded, result.Report.Summary.Status)
	})
}

func TestRunTimeout(t *testing.T) {
	client := newFakeClient()
	svc := NewService(Options{
		Client:     client,
		Layout:     sheet.Layout{Kind: sheet.LayoutRows},
		Polling:    fastPolling(),
		RunTimeout: time.Nanosecond,
		Logger:     zerolog.Nop(),
	})

	buf := workbook(t,
		[]interface{}{"folio"},
		[]interface{}{"A-1"},
		[]interface{}{"A-2"},
	)

	result, err := svc.Run(context.Background(), buf, "carga.xlsx")
	require.NoError(t, err)
	require.Len(t, result.Report.Units, 2, "no unit is silently dropped")
	for _, u := range result.Report.Units {
		assert.False(t, u.Succeeded())
	}
}

func TestReady(t *testing.T) {
	svc := NewService(Options{Logger: zerolog.Nop()})
	assert.Error(t, svc.Ready(context.Background()))

	svc = NewService(Options{Client: newFakeClient(), Journal: newJournal(t), Logger: zerolog.Nop()})
	assert.NoError(t, svc.Ready(context.Background()))
	assert.NotNil(t, svc.Journal())
}
