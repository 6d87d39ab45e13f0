package engine

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Options configures an Orchestrator.
type Options struct {
	// Concurrency is the maximum number of units driven at once.
	Concurrency int

	// Polling bounds task discovery for every stage.
	Polling PollingConfig

	// Observer receives batch, unit and stage notifications.
	Observer Observer

	// Logger receives driver logs.
	Logger zerolog.Logger
}

// Orchestrator drives a batch of work units with bounded parallelism.
// Units are independent: one unit's failure never aborts the batch.
type Orchestrator struct {
	client   EngineClient
	opts     Options
	observer Observer
	logger   zerolog.Logger
}

// NewOrchestrator creates a new orchestrator.
func NewOrchestrator(client EngineClient, opts Options) *Orchestrator {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	observer := opts.Observer
	if observer == nil {
		observer = NopObserver{}
	}
	return &Orchestrator{
		client:   client,
		opts:     opts,
		observer: observer,
		logger:   opts.Logger,
	}
}

// RunAll drives every unit and returns the results in input order.
// Cancelling ctx stops polling promptly; units not yet started are reported
// as instance-creation-failed with a cancelled error.
func (o *Orchestrator) RunAll(ctx context.Context, units []WorkUnit) *BatchReport {
	report := &BatchReport{
		ID:        uuid.New().String(),
		StartedAt: time.Now(),
		Processed: len(units),
		Units:     make([]WorkUnitResult, len(units)),
	}

	ctx, done := o.observer.BatchStarted(ctx, report.ID, len(units))
	logger := o.logger.With().Str("batch_id", report.ID).Logger()
	logger.Info().Int("units", len(units)).Int("concurrency", o.opts.Concurrency).Msg("Batch started")

	lifecycle := NewLifecycle(o.client, logger)
	poller := NewPoller(o.client, o.opts.Polling, o.observer, logger)
	sequencer := NewSequencer(o.client, poller, lifecycle, o.observer, logger)

	workerCount := o.opts.Concurrency
	if len(units) < workerCount {
		workerCount = len(units)
	}

	workQueue := make(chan int, len(units))
	for i := range units {
		workQueue <- i
	}
	close(workQueue)

	var wg sync.WaitGroup
	for i := 0; i < workerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			for idx := range workQueue {
				if err := ctx.Err(); err != nil {
					report.Units[idx] = notStarted(&units[idx], err)
					continue
				}
				report.Units[idx] = o.runUnit(ctx, sequencer, &units[idx], logger)
			}
		}()
	}
	wg.Wait()

	report.CompletedAt = time.Now()
	report.Summary = Summarize(report.Units)
	done(report)

	logger.Info().
		Str("status", string(report.Summary.Status)).
		Int("succeeded", report.Summary.Succeeded).
		Int("units", report.Summary.Units).
		Int("instances_created", report.Summary.InstancesCreated).
		Int("creation_failures", report.Summary.CreationFailures).
		Dur("duration", report.CompletedAt.Sub(report.StartedAt)).
		Msg("Batch finished")
	return report
}

// runUnit creates the unit's instance and drives its stages.
func (o *Orchestrator) runUnit(ctx context.Context, sequencer *Sequencer, unit *WorkUnit, logger zerolog.Logger) WorkUnitResult {
	ctx, done := o.observer.UnitStarted(ctx, unit)

	result := WorkUnitResult{
		Index:     unit.Index,
		Label:     unit.Label,
		Variables: unit.Variables.Compact(),
		StartedAt: time.Now(),
	}

	instanceID, err := o.client.CreateInstance(ctx, result.Variables)
	if err != nil {
		result.Status = UnitStatusCreationFailed
		result.Error = Classify(err)
		result.Stages = skippedStages(unit.Stages)
		logger.Warn().Err(err).Str("unit", unit.Label).Msg("Instance creation failed")
	} else {
		result.Status = UnitStatusCreated
		result.InstanceID = instanceID
		logger.Debug().Str("unit", unit.Label).Int64("instance_id", instanceID).Msg("Instance created")
		result.Stages = sequencer.Run(ctx, instanceID, unit.Stages)
	}

	result.CompletedAt = time.Now()
	result.Duration = result.CompletedAt.Sub(result.StartedAt)
	done(&result)
	return result
}

// notStarted records a unit the batch never reached.
func notStarted(unit *WorkUnit, err error) WorkUnitResult {
	now := time.Now()
	return WorkUnitResult{
		Index:       unit.Index,
		Label:       unit.Label,
		Status:      UnitStatusCreationFailed,
		Variables:   unit.Variables.Compact(),
		Stages:      skippedStages(unit.Stages),
		Error:       NewCancelledError("batch cancelled before unit started", err).WithOperation(OpCreateInstance),
		StartedAt:   now,
		CompletedAt: now,
	}
}

func skippedStages(stages []Stage) []StageResult {
	results := make([]StageResult, len(stages))
	for i := range stages {
		results[i] = StageResult{Stage: stages[i].Name, Status: StageStatusNotAttempted}
	}
	return results
}
