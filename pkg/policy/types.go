package policy

import (
	"time"

	"github.com/FranciscoCL13/carga-masiva/pkg/engine"
)

// Severity represents the severity level of a policy violation.
type Severity string

const (
	// SeverityInfo is for informational messages.
	SeverityInfo Severity = "info"

	// SeverityWarning is reported but does not reject the upload.
	SeverityWarning Severity = "warning"

	// SeverityError rejects the upload.
	SeverityError Severity = "error"

	// SeverityCritical rejects the upload.
	SeverityCritical Severity = "critical"
)

// Blocks returns true if a violation of this severity rejects the upload.
func (s Severity) Blocks() bool {
	return s == SeverityError || s == SeverityCritical
}

// Policy is a Rego module whose deny rule admits or rejects work units.
type Policy struct {
	// Name is the unique name of the policy.
	Name string `json:"name"`

	// Description provides a human-readable description.
	Description string `json:"description"`

	// Rego contains the Rego policy code.
	Rego string `json:"rego"`

	// Severity applies to violations that do not carry their own.
	Severity Severity `json:"severity"`

	// Enabled indicates if the policy is active.
	Enabled bool `json:"enabled"`

	// Source is the file the policy was loaded from, empty for built-ins.
	Source string `json:"source,omitempty"`

	// UpdatedAt is when the policy was last loaded.
	UpdatedAt time.Time `json:"updated_at"`
}

// Violation is one deny result for one unit.
type Violation struct {
	// Policy is the name of the policy that was violated.
	Policy string `json:"policy"`

	// Unit is the index of the offending work unit.
	Unit int `json:"unit"`

	// Label identifies the offending row.
	Label string `json:"label"`

	// Message is a human-readable violation message.
	Message string `json:"message"`

	// Severity is the violation severity level.
	Severity Severity `json:"severity"`
}

// Result is the outcome of evaluating every enabled policy over a batch.
type Result struct {
	// Allowed is false if any blocking violation was found.
	Allowed bool `json:"allowed"`

	// Violations lists blocking violations.
	Violations []Violation `json:"violations,omitempty"`

	// Warnings lists non-blocking violations.
	Warnings []Violation `json:"warnings,omitempty"`

	// EvaluatedPolicies lists the names of policies that were evaluated.
	EvaluatedPolicies []string `json:"evaluated_policies"`

	// Duration is how long the evaluation took.
	Duration time.Duration `json:"duration"`
}

// Input is the document policies see as input.
type Input struct {
	// Unit is the work unit under evaluation.
	Unit *engine.WorkUnit `json:"unit"`

	// Batch describes the upload the unit belongs to.
	Batch BatchContext `json:"batch"`
}

// BatchContext describes the upload to policies.
type BatchContext struct {
	// Source is the uploaded file name.
	Source string `json:"source,omitempty"`

	// Units is the number of units in the upload.
	Units int `json:"units"`
}
