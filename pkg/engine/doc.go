// Package engine provides the task lifecycle driver for a remote business-process engine.
//
// # Overview
//
// The driver turns work units into running process instances and pushes each
// instance's human tasks through claim, start and complete. A batch runs in
// four layers:
//
//  1. Orchestrator - creates one instance per WorkUnit, bounded by Concurrency
//  2. Sequencer - drives the unit's Stages in order, triggering nodes when asked
//  3. Poller - lists candidate tasks until one satisfies the stage Selector
//  4. Lifecycle - claims, starts and completes the selected task
//
// All remote calls go through the EngineClient interface; pkg/kie provides the
// KIE server implementation.
//
// # Core Domain Types
//
//   - WorkUnit: one instance to create plus its ordered stages
//   - Stage: one task to locate and complete, with its output variables
//   - Selector: predicate choosing a task among an instance's candidates
//   - TaskHandle: a task as returned by one listing
//   - VariableSet: JSON-safe variables; absent values are never transmitted
//   - StageResult, WorkUnitResult, BatchReport: per-stage, per-unit and batch outcomes
//
// # Discovery
//
// Tasks appear asynchronously after instance creation or a node trigger, so
// the Poller retries a bounded number of times with a fixed pause between
// listings. Running out of attempts is reported as task-not-found, not as an
// error. A listing that fails counts as a miss; if the final attempt failed
// the stage is reported as engine-error instead.
//
// When several candidates match, the selector's pick policy decides: first and
// last choose by engine order, strict refuses with ambiguous-task.
//
// # Lifecycle
//
// Transitions are strictly claimed, started, completed, one engine call each.
// Nothing is retried and nothing is rolled back: a failed transition leaves
// the task in whatever state the engine holds and the stage result names the
// transition that failed. The same task id is never advanced twice in a run.
//
// # Error Classification
//
// Errors are classified to decide how far they propagate:
//
//   - Transport: the engine could not be reached
//   - Rejected: the engine answered with an error status
//   - NotFound: discovery exhausted its budget
//   - Input: the tabular input or configuration is malformed; aborts the request
//   - Cancelled: the run context ended
//
// Only input errors abort a request. Everything else is recorded on the
// smallest enclosing unit or stage and the batch carries on.
//
// # Example Usage
//
//	orch := engine.NewOrchestrator(client, engine.Options{
//	    Concurrency: 4,
//	    Polling:     engine.DefaultPollingConfig(),
//	    Logger:      logger,
//	})
//	report := orch.RunAll(ctx, units)
//	for _, unit := range report.Units {
//	    fmt.Println(unit.Label, unit.Status, unit.InstanceID)
//	}
package engine
