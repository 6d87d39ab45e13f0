package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/FranciscoCL13/carga-masiva/pkg/engine"
)

// Observer reports driver progress as spans, metrics and log lines.
type Observer struct {
	tel *Telemetry
	log *Logger
}

var _ engine.Observer = (*Observer)(nil)

// NewObserver creates an engine.Observer backed by the telemetry bundle.
func (t *Telemetry) NewObserver() *Observer {
	return &Observer{
		tel: t,
		log: t.Logger.NewComponentLogger("driver"),
	}
}

// BatchStarted implements engine.Observer.
func (o *Observer) BatchStarted(ctx context.Context, batchID string, units int) (context.Context, func(*engine.BatchReport)) {
	ctx, span := o.tel.Tracer.StartBatchSpan(ctx, batchID, units)
	o.tel.Metrics.RecordBatchStarted()
	log := o.log.WithBatchID(batchID)
	if id := TraceID(ctx); id != "" {
		log = log.derive(log.zlog.With().Str("trace_id", id).Logger())
	}
	ctx = log.WithContext(ctx)

	return ctx, func(report *engine.BatchReport) {
		status := string(report.Summary.Status)
		span.SetAttributes(AttrBatchStatus.String(status))
		if report.Summary.Status == engine.BatchStatusSucceeded {
			RecordSuccess(span)
		}
		span.End()

		o.tel.Metrics.RecordBatchCompleted(status, report.CompletedAt.Sub(report.StartedAt))
	}
}

// UnitStarted implements engine.Observer.
func (o *Observer) UnitStarted(ctx context.Context, unit *engine.WorkUnit) (context.Context, func(*engine.WorkUnitResult)) {
	ctx, span := o.tel.Tracer.StartUnitSpan(ctx, unit.Index, unit.Label)
	o.tel.Metrics.RecordUnitStarted()
	log := FromContext(ctx).WithUnit(unit.Index, unit.Label)
	ctx = log.WithContext(ctx)

	return ctx, func(res *engine.WorkUnitResult) {
		span.SetAttributes(
			AttrUnitStatus.String(string(res.Status)),
			AttrInstanceID.Int64(res.InstanceID),
		)
		endWithError(span, res.Error, res.Succeeded())

		o.tel.Metrics.RecordUnitCompleted(string(res.Status), res.Succeeded(), res.Duration)
		ev := log.zlog.Info()
		if !res.Succeeded() {
			ev = log.zlog.Warn()
		}
		if res.Error != nil {
			ev = ev.Err(res.Error)
		}
		ev.Str("status", string(res.Status)).
			Int64("process_instance_id", res.InstanceID).
			Dur("duration", res.Duration).
			Msg("Unit finished")
	}
}

// StageStarted implements engine.Observer.
func (o *Observer) StageStarted(ctx context.Context, instanceID int64, stage *engine.Stage) (context.Context, func(*engine.StageResult)) {
	ctx, span := o.tel.Tracer.StartStageSpan(ctx, instanceID, stage.Name, stage.TriggerNodeID)
	log := FromContext(ctx).WithInstanceID(instanceID)

	return ctx, func(res *engine.StageResult) {
		span.SetAttributes(
			AttrStageStatus.String(string(res.Status)),
			AttrTaskID.Int64(res.TaskID),
			AttrAttempts.Int(res.Attempts),
			AttrDiscoveryHits.Int(res.Candidates),
		)
		endWithError(span, res.Error, res.Status.IsSuccess())

		o.tel.Metrics.RecordStage(res.Stage, string(res.Status), res.Attempts)
		ev := log.zlog.Debug()
		if !res.Status.IsSuccess() {
			ev = log.zlog.Warn()
			if res.Error != nil {
				ev = ev.Err(res.Error)
			}
			if res.FailedTransition != "" {
				ev = ev.Str("failed_transition", string(res.FailedTransition))
			}
		}
		ev.Str("stage", res.Stage).
			Str("status", string(res.Status)).
			Int64("task_id", res.TaskID).
			Int("attempts", res.Attempts).
			Msg("Stage finished")
	}
}

// DiscoveryAttempt implements engine.Observer.
func (o *Observer) DiscoveryAttempt(ctx context.Context, instanceID int64, attempt int, matches int, err error) {
	result := "miss"
	switch {
	case err != nil:
		result = "error"
	case matches > 0:
		result = "match"
	}
	o.tel.Metrics.RecordDiscoveryListing(result)
	trace.SpanFromContext(ctx).AddEvent("discovery.attempt", trace.WithAttributes(
		AttrAttempts.Int(attempt),
		AttrDiscoveryHits.Int(matches),
	))
}

func endWithError(span trace.Span, err *engine.EngineError, ok bool) {
	if err != nil {
		span.SetAttributes(
			AttrErrorClass.String(string(err.Class)),
			AttrErrorCode.String(err.Code),
		)
		RecordError(span, err)
	} else if ok {
		RecordSuccess(span)
	}
	span.End()
}

// InstrumentedClient decorates an engine.EngineClient with a client span,
// call metrics and debug logging per call.
type InstrumentedClient struct {
	next engine.EngineClient
	tel  *Telemetry
}

var _ engine.EngineClient = (*InstrumentedClient)(nil)

// InstrumentClient wraps client with telemetry.
func (t *Telemetry) InstrumentClient(client engine.EngineClient) *InstrumentedClient {
	return &InstrumentedClient{next: client, tel: t}
}

// CreateInstance implements engine.EngineClient.
func (c *InstrumentedClient) CreateInstance(ctx context.Context, vars engine.VariableSet) (int64, error) {
	var id int64
	err := c.record(ctx, engine.OpCreateInstance, func(ctx context.Context) error {
		var err error
		id, err = c.next.CreateInstance(ctx, vars)
		return err
	})
	return id, err
}

// ListCandidateTasks implements engine.EngineClient.
func (c *InstrumentedClient) ListCandidateTasks(ctx context.Context, filter engine.TaskFilter) ([]engine.TaskHandle, error) {
	var tasks []engine.TaskHandle
	err := c.record(ctx, engine.OpListTasks, func(ctx context.Context) error {
		var err error
		tasks, err = c.next.ListCandidateTasks(ctx, filter)
		return err
	})
	return tasks, err
}

// SetTaskState implements engine.EngineClient.
func (c *InstrumentedClient) SetTaskState(ctx context.Context, taskID int64, state engine.TaskState, payload engine.VariableSet) error {
	return c.record(ctx, engine.OpSetTaskState, func(ctx context.Context) error {
		return c.next.SetTaskState(ctx, taskID, state, payload)
	})
}

// TriggerNode implements engine.EngineClient.
func (c *InstrumentedClient) TriggerNode(ctx context.Context, instanceID int64, nodeID string) error {
	return c.record(ctx, engine.OpTriggerNode, func(ctx context.Context) error {
		return c.next.TriggerNode(ctx, instanceID, nodeID)
	})
}

func (c *InstrumentedClient) record(ctx context.Context, op string, fn func(context.Context) error) error {
	ctx, span := c.tel.Tracer.StartEngineSpan(ctx, op)
	defer span.End()

	start := time.Now()
	err := fn(ctx)
	elapsed := time.Since(start)

	c.tel.Metrics.RecordEngineCall(op, elapsed)
	if err != nil {
		ee := engine.Classify(err)
		c.tel.Metrics.RecordEngineError(op, string(ee.Class))
		span.SetAttributes(AttrErrorClass.String(string(ee.Class)))
		RecordError(span, err)
		FromContext(ctx).zlog.Debug().Err(err).Str("operation", op).Dur("elapsed", elapsed).Msg("Engine call failed")
		return err
	}
	RecordSuccess(span)
	return nil
}
