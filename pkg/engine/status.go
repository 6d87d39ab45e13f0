package engine

import "fmt"

// TaskState is a human-task lifecycle state as understood by the remote engine.
type TaskState string

const (
	// TaskStateDiscovered is the local starting state of a task returned by discovery.
	// It is never sent to the engine.
	TaskStateDiscovered TaskState = "discovered"

	// TaskStateClaimed means the acting user has reserved the task.
	TaskStateClaimed TaskState = "claimed"

	// TaskStateStarted means the acting user has begun work on the task.
	TaskStateStarted TaskState = "started"

	// TaskStateCompleted means the task output has been submitted.
	TaskStateCompleted TaskState = "completed"
)

// lifecycleTransitions is the only legal transition order.
var lifecycleTransitions = []TaskState{
	TaskStateClaimed,
	TaskStateStarted,
	TaskStateCompleted,
}

// Validate checks that the state is one the engine accepts.
func (s TaskState) Validate() error {
	switch s {
	case TaskStateClaimed, TaskStateStarted, TaskStateCompleted:
		return nil
	default:
		return fmt.Errorf("invalid task state: %s", s)
	}
}

// StageStatus is the recorded outcome of one stage.
type StageStatus string

const (
	// StageStatusCompleted indicates the task was claimed, started and completed.
	StageStatusCompleted StageStatus = "completed"

	// StageStatusTaskNotFound indicates discovery exhausted its budget.
	StageStatusTaskNotFound StageStatus = "task-not-found"

	// StageStatusAmbiguous indicates a strict selector matched more than one task.
	StageStatusAmbiguous StageStatus = "ambiguous-task"

	// StageStatusEngineError indicates a trigger, list or transition call failed.
	StageStatusEngineError StageStatus = "engine-error"

	// StageStatusCancelled indicates the run was cancelled while the stage was in flight.
	StageStatusCancelled StageStatus = "cancelled"

	// StageStatusNotAttempted indicates the stage was never started.
	StageStatusNotAttempted StageStatus = "not-attempted"
)

// IsSuccess returns true if the stage completed.
func (s StageStatus) IsSuccess() bool {
	return s == StageStatusCompleted
}

// UnitStatus is the recorded outcome of instance creation for a work unit.
type UnitStatus string

const (
	// UnitStatusCreated indicates the process instance was created.
	UnitStatusCreated UnitStatus = "instance-created"

	// UnitStatusCreationFailed indicates the instance could not be created.
	UnitStatusCreationFailed UnitStatus = "instance-creation-failed"
)

// BatchStatus represents the overall status of a batch.
type BatchStatus string

const (
	// BatchStatusSucceeded indicates every unit and stage completed.
	BatchStatusSucceeded BatchStatus = "succeeded"

	// BatchStatusPartial indicates some units or stages failed.
	BatchStatusPartial BatchStatus = "partial"

	// BatchStatusFailed indicates no unit succeeded.
	BatchStatusFailed BatchStatus = "failed"
)
