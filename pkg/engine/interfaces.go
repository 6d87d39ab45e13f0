package engine

import (
	"context"
)

// EngineClient is the contract with the remote process engine.
// Implementations perform no retries of their own and report failures as
// *EngineError with class transport or rejected.
// nolint:revive // EngineClient mirrors EngineError naming
type EngineClient interface {
	// CreateInstance starts a process instance with the given variables and
	// returns its id.
	CreateInstance(ctx context.Context, vars VariableSet) (int64, error)

	// ListCandidateTasks returns the tasks of an instance the acting user may
	// work on, in engine order.
	ListCandidateTasks(ctx context.Context, filter TaskFilter) ([]TaskHandle, error)

	// SetTaskState moves a task to the given state. The payload is only sent
	// with the completed transition.
	SetTaskState(ctx context.Context, taskID int64, state TaskState, payload VariableSet) error

	// TriggerNode starts the given process node on an instance.
	TriggerNode(ctx context.Context, instanceID int64, nodeID string) error
}

// Engine operation names used in errors, logs and metrics.
const (
	OpCreateInstance = "create_instance"
	OpListTasks      = "list_tasks"
	OpSetTaskState   = "set_task_state"
	OpTriggerNode    = "trigger_node"
)

// Observer receives lifecycle notifications from the driver.
// The returned context is used for the remainder of the unit or stage and the
// returned function is called exactly once with the final result.
type Observer interface {
	// BatchStarted is called before any unit runs.
	BatchStarted(ctx context.Context, batchID string, units int) (context.Context, func(*BatchReport))

	// UnitStarted is called when a worker picks up a unit.
	UnitStarted(ctx context.Context, unit *WorkUnit) (context.Context, func(*WorkUnitResult))

	// StageStarted is called before a stage is triggered or discovered.
	StageStarted(ctx context.Context, instanceID int64, stage *Stage) (context.Context, func(*StageResult))

	// DiscoveryAttempt is called after every listing made by the poller.
	DiscoveryAttempt(ctx context.Context, instanceID int64, attempt int, matches int, err error)
}

// NopObserver ignores every notification.
type NopObserver struct{}

// BatchStarted implements Observer.
func (NopObserver) BatchStarted(ctx context.Context, _ string, _ int) (context.Context, func(*BatchReport)) {
	return ctx, func(*BatchReport) {}
}

// UnitStarted implements Observer.
func (NopObserver) UnitStarted(ctx context.Context, _ *WorkUnit) (context.Context, func(*WorkUnitResult)) {
	return ctx, func(*WorkUnitResult) {}
}

// StageStarted implements Observer.
func (NopObserver) StageStarted(ctx context.Context, _ int64, _ *Stage) (context.Context, func(*StageResult)) {
	return ctx, func(*StageResult) {}
}

// DiscoveryAttempt implements Observer.
func (NopObserver) DiscoveryAttempt(context.Context, int64, int, int, error) {}
