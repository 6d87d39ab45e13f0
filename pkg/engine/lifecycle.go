package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// Lifecycle moves discovered tasks through claimed, started and completed.
// Each transition is attempted once; a failure leaves the task where the
// engine put it. A Lifecycle remembers every task id it was asked to advance
// and refuses to advance the same id twice.
type Lifecycle struct {
	client EngineClient
	logger zerolog.Logger

	mu       sync.Mutex
	advanced map[int64]struct{}
}

// NewLifecycle creates a new lifecycle driver for one run.
func NewLifecycle(client EngineClient, logger zerolog.Logger) *Lifecycle {
	return &Lifecycle{
		client:   client,
		logger:   logger,
		advanced: make(map[int64]struct{}),
	}
}

// Advance claims, starts and completes the task. The compacted variables are
// submitted as the task output with the completed transition.
// On failure it returns a *TransitionError naming the failed transition.
func (l *Lifecycle) Advance(ctx context.Context, taskID int64, vars VariableSet) error {
	if !l.reserve(taskID) {
		return fmt.Errorf("task %d: %w", taskID, ErrAlreadyAdvanced)
	}

	payload := vars.Compact()
	for _, state := range lifecycleTransitions {
		var body VariableSet
		if state == TaskStateCompleted {
			body = payload
		}

		if err := l.client.SetTaskState(ctx, taskID, state, body); err != nil {
			l.logger.Warn().
				Err(err).
				Int64("task_id", taskID).
				Str("transition", string(state)).
				Msg("Task transition failed")
			return &TransitionError{TaskID: taskID, Transition: state, Err: err}
		}

		l.logger.Debug().
			Int64("task_id", taskID).
			Str("state", string(state)).
			Msg("Task transitioned")
	}
	return nil
}

// Advanced reports whether the task id was already handed to Advance.
func (l *Lifecycle) Advanced(taskID int64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.advanced[taskID]
	return ok
}

func (l *Lifecycle) reserve(taskID int64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.advanced[taskID]; ok {
		return false
	}
	l.advanced[taskID] = struct{}{}
	return true
}
