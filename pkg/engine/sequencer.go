package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Sequencer drives the ordered stages of one process instance. A failed
// stage is recorded and the next stage is still attempted.
type Sequencer struct {
	client    EngineClient
	poller    *Poller
	lifecycle *Lifecycle
	observer  Observer
	logger    zerolog.Logger
}

// NewSequencer creates a new sequencer.
func NewSequencer(client EngineClient, poller *Poller, lifecycle *Lifecycle, observer Observer, logger zerolog.Logger) *Sequencer {
	if observer == nil {
		observer = NopObserver{}
	}
	return &Sequencer{
		client:    client,
		poller:    poller,
		lifecycle: lifecycle,
		observer:  observer,
		logger:    logger,
	}
}

// Run drives every stage on the instance and returns one result per stage,
// in stage order.
func (s *Sequencer) Run(ctx context.Context, instanceID int64, stages []Stage) []StageResult {
	results := make([]StageResult, len(stages))
	for i := range stages {
		if ctx.Err() != nil {
			results[i] = StageResult{Stage: stages[i].Name, Status: StageStatusNotAttempted}
			continue
		}

		stageCtx, done := s.observer.StageStarted(ctx, instanceID, &stages[i])
		results[i] = s.runStage(stageCtx, instanceID, &stages[i])
		done(&results[i])
	}
	return results
}

func (s *Sequencer) runStage(ctx context.Context, instanceID int64, stage *Stage) StageResult {
	result := StageResult{
		Stage:     stage.Name,
		StartedAt: time.Now(),
	}

	logger := s.logger.With().
		Int64("instance_id", instanceID).
		Str("stage", stage.Name).
		Logger()

	if stage.TriggerNodeID != "" {
		if err := s.client.TriggerNode(ctx, instanceID, stage.TriggerNodeID); err != nil {
			if ctx.Err() != nil {
				return cancelled(result, ctx.Err())
			}
			result.Status = StageStatusEngineError
			result.Error = Classify(err).WithDetail("node_id", stage.TriggerNodeID)
			logger.Warn().Err(err).Str("node_id", stage.TriggerNodeID).Msg("Node trigger failed")
			return finish(result)
		}
	}

	found, err := s.poller.Discover(ctx, instanceID, stage.Selector)
	result.Attempts = found.Attempts
	result.Candidates = found.Candidates
	if err != nil {
		return cancelled(result, err)
	}

	switch {
	case found.Ambiguous:
		result.Status = StageStatusAmbiguous
		result.Error = &EngineError{
			Class:   ErrorClassNotFound,
			Message: fmt.Sprintf("%d tasks match %s", found.Candidates, stage.Selector),
			Code:    ErrCodeAmbiguousTask,
		}
		logger.Warn().Int("candidates", found.Candidates).Msg("Ambiguous task selection")
		return finish(result)

	case !found.Found && found.LastErr != nil:
		result.Status = StageStatusEngineError
		result.Error = Classify(found.LastErr)
		logger.Warn().Err(found.LastErr).Int("attempts", found.Attempts).Msg("Task discovery failed")
		return finish(result)

	case !found.Found:
		result.Status = StageStatusTaskNotFound
		result.Error = NewNotFoundError(fmt.Sprintf("no task matching %s after %d attempts", stage.Selector, found.Attempts)).
			WithOperation(OpListTasks)
		logger.Warn().Int("attempts", found.Attempts).Msg("No task found")
		return finish(result)
	}

	result.TaskID = found.Task.ID
	if found.Candidates > 1 {
		logger.Info().
			Int("candidates", found.Candidates).
			Int64("task_id", found.Task.ID).
			Msg("Several tasks matched, picked one")
	}

	if err := s.lifecycle.Advance(ctx, found.Task.ID, stage.Variables); err != nil {
		result.Status = StageStatusEngineError

		var te *TransitionError
		switch {
		case errors.As(err, &te):
			result.FailedTransition = te.Transition
			result.Error = Classify(te.Err).WithDetail("transition", string(te.Transition))
		case errors.Is(err, ErrAlreadyAdvanced):
			result.Error = &EngineError{
				Class:   ErrorClassRejected,
				Message: "task already advanced in this run",
				Code:    ErrCodeAlreadyAdvanced,
				Err:     err,
			}
		default:
			result.Error = Classify(err)
		}
		return finish(result)
	}

	result.Status = StageStatusCompleted
	logger.Info().Int64("task_id", found.Task.ID).Int("attempts", found.Attempts).Msg("Stage completed")
	return finish(result)
}

func cancelled(result StageResult, err error) StageResult {
	result.Status = StageStatusCancelled
	result.Error = NewCancelledError("stage cancelled", err)
	return finish(result)
}

func finish(result StageResult) StageResult {
	result.CompletedAt = time.Now()
	return result
}
