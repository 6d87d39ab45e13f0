package stores

import (
	"context"
	"errors"
	"time"

	"github.com/FranciscoCL13/carga-masiva/pkg/engine"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// EventLevel represents the severity level of an event
type EventLevel string

const (
	EventLevelDebug   EventLevel = "debug"
	EventLevelInfo    EventLevel = "info"
	EventLevelWarning EventLevel = "warning"
	EventLevelError   EventLevel = "error"
)

// Batch is the journal summary row of one batch report.
type Batch struct {
	ID               string             `json:"id"`
	Source           string             `json:"source"`
	Status           engine.BatchStatus `json:"status"`
	Units            int                `json:"units"`
	Succeeded        int                `json:"succeeded"`
	InstancesCreated int                `json:"instances_created"`
	CreationFailures int                `json:"creation_failures"`
	StartedAt        time.Time          `json:"started_at"`
	CompletedAt      time.Time          `json:"completed_at"`
	CreatedAt        time.Time          `json:"created_at"`
}

// Unit is one work unit outcome of a journaled batch.
type Unit struct {
	BatchID     string            `json:"batch_id"`
	Index       int               `json:"index"`
	Label       string            `json:"label"`
	Status      engine.UnitStatus `json:"status"`
	InstanceID  *int64            `json:"process_instance_id,omitempty"`
	Error       *string           `json:"error,omitempty"`
	StartedAt   time.Time         `json:"started_at"`
	CompletedAt time.Time         `json:"completed_at"`
	Duration    time.Duration     `json:"duration_ns"`
}

// Stage is one stage outcome of a journaled unit.
type Stage struct {
	BatchID          string             `json:"batch_id"`
	UnitIndex        int                `json:"unit_index"`
	Position         int                `json:"position"`
	Stage            string             `json:"stage"`
	Status           engine.StageStatus `json:"status"`
	TaskID           *int64             `json:"task_id,omitempty"`
	Attempts         int                `json:"attempts"`
	Candidates       int                `json:"candidates"`
	FailedTransition *string            `json:"failed_transition,omitempty"`
	Error            *string            `json:"error,omitempty"`
}

// Event represents an append-only log event, such as a rejected upload.
type Event struct {
	ID        int64      `json:"id"`
	BatchID   *string    `json:"batch_id,omitempty"`
	Level     EventLevel `json:"level"`
	Message   string     `json:"message"`
	Details   *string    `json:"details,omitempty"` // JSON blob
	Timestamp time.Time  `json:"timestamp"`
}

// Journal is the write-mostly audit log of batch reports. It is read by the
// history command and the batches endpoints, never by the driver.
type Journal interface {
	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error

	// Batch operations
	SaveReport(ctx context.Context, source string, report *engine.BatchReport) error
	GetBatch(ctx context.Context, id string) (*Batch, error)
	GetReport(ctx context.Context, id string) (*engine.BatchReport, error)
	ListBatches(ctx context.Context, limit, offset int) ([]*Batch, error)
	DeleteBatch(ctx context.Context, id string) error

	// Unit and stage operations
	ListUnits(ctx context.Context, batchID string) ([]*Unit, error)
	ListStages(ctx context.Context, batchID string, unitIndex int) ([]*Stage, error)

	// Event operations
	AppendEvent(ctx context.Context, event *Event) error
	GetEvents(ctx context.Context, batchID *string, level *EventLevel, limit, offset int) ([]*Event, error)

	// Utility
	HealthCheck(ctx context.Context) error
}
