package engine

import (
	"time"
)

// WorkUnit is one process instance to create plus the stages to drive on it.
// Units are built once by the input adapter and never mutated afterwards.
type WorkUnit struct {
	// Index is the position of the unit in the input.
	Index int `json:"index"`

	// Label identifies the unit in reports (sheet and row, usually).
	Label string `json:"label"`

	// Variables are the process instance creation variables.
	Variables VariableSet `json:"variables"`

	// Stages are driven in order once the instance exists.
	Stages []Stage `json:"stages"`
}

// Stage is one human task to locate and complete on an instance.
type Stage struct {
	// Name identifies the stage in reports.
	Name string `json:"name"`

	// TriggerNodeID is the process node to start before discovery.
	// Empty means the next task is expected to appear on its own.
	TriggerNodeID string `json:"trigger_node_id,omitempty"`

	// Selector picks the task among the instance's candidates.
	Selector Selector `json:"selector"`

	// Variables are submitted as the task output on completion.
	Variables VariableSet `json:"variables"`
}

// TaskHandle is a task as reported by one listing. Handles are never cached
// across polling attempts.
type TaskHandle struct {
	ID                int64     `json:"id"`
	Name              string    `json:"name,omitempty"`
	Status            string    `json:"status,omitempty"`
	NodeID            string    `json:"node_id,omitempty"`
	NodeInstanceID    int64     `json:"node_instance_id,omitempty"`
	ProcessInstanceID int64     `json:"process_instance_id"`
	ActualOwner       string    `json:"actual_owner,omitempty"`
	CreatedOn         time.Time `json:"created_on,omitzero"`
}

// TaskFilter narrows a candidate task listing.
type TaskFilter struct {
	// ProcessInstanceID is required.
	ProcessInstanceID int64

	// Statuses restricts the listing to the given engine task statuses.
	// Empty lets the engine apply its default.
	Statuses []string

	// PageSize caps the listing. Zero lets the engine apply its default.
	PageSize int
}

// StageResult records what happened to one stage.
type StageResult struct {
	Stage            string       `json:"stage"`
	Status           StageStatus  `json:"status"`
	TaskID           int64        `json:"task_id,omitempty"`
	Attempts         int          `json:"attempts"`
	Candidates       int          `json:"candidates,omitempty"`
	FailedTransition TaskState    `json:"failed_transition,omitempty"`
	Error            *EngineError `json:"error,omitempty"`
	StartedAt        time.Time    `json:"started_at,omitzero"`
	CompletedAt      time.Time    `json:"completed_at,omitzero"`
}

// WorkUnitResult records what happened to one work unit.
type WorkUnitResult struct {
	Index       int           `json:"index"`
	Label       string        `json:"label"`
	Status      UnitStatus    `json:"status"`
	InstanceID  int64         `json:"process_instance_id,omitempty"`
	Variables   VariableSet   `json:"variables,omitempty"`
	Stages      []StageResult `json:"stages"`
	Error       *EngineError  `json:"error,omitempty"`
	StartedAt   time.Time     `json:"started_at"`
	CompletedAt time.Time     `json:"completed_at"`
	Duration    time.Duration `json:"duration_ns"`
}

// Succeeded returns true if the instance was created and every stage completed.
func (r *WorkUnitResult) Succeeded() bool {
	if r.Status != UnitStatusCreated {
		return false
	}
	for i := range r.Stages {
		if !r.Stages[i].Status.IsSuccess() {
			return false
		}
	}
	return true
}

// BatchSummary aggregates the outcome of a batch.
type BatchSummary struct {
	Status           BatchStatus         `json:"status"`
	Units            int                 `json:"units"`
	Succeeded        int                 `json:"succeeded"`
	InstancesCreated int                 `json:"instances_created"`
	CreationFailures int                 `json:"creation_failures"`
	Stages           map[StageStatus]int `json:"stages"`
}

// BatchReport is the result of one orchestrator run, in input order.
type BatchReport struct {
	ID          string           `json:"id"`
	StartedAt   time.Time        `json:"started_at"`
	CompletedAt time.Time        `json:"completed_at"`
	Processed   int              `json:"processed"`
	Units       []WorkUnitResult `json:"results"`
	Summary     BatchSummary     `json:"summary"`
}

// Summarize computes the batch summary from the unit results.
func Summarize(units []WorkUnitResult) BatchSummary {
	s := BatchSummary{
		Units:  len(units),
		Stages: make(map[StageStatus]int),
	}
	for i := range units {
		u := &units[i]
		if u.Status == UnitStatusCreated {
			s.InstancesCreated++
		} else {
			s.CreationFailures++
		}
		if u.Succeeded() {
			s.Succeeded++
		}
		for j := range u.Stages {
			s.Stages[u.Stages[j].Status]++
		}
	}

	switch {
	case s.Succeeded == s.Units:
		s.Status = BatchStatusSucceeded
	case s.Succeeded == 0:
		s.Status = BatchStatusFailed
	default:
		s.Status = BatchStatusPartial
	}
	return s
}
