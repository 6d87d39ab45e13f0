package policy

import (
	"time"
)

// GetBuiltinPolicies returns all built-in policies.
func GetBuiltinPolicies() []Policy {
	return []Policy{
		emptyInstancePolicy(),
		stageWithoutPayloadPolicy(),
	}
}

// emptyInstancePolicy flags rows that would start an instance with no variables.
func emptyInstancePolicy() Policy {
	return Policy{
		Name:        "empty-instance",
		Description: "Warns when a row starts a process instance without variables",
		Severity:    SeverityWarning,
		Enabled:     true,
		UpdatedAt:   time.Now(),
		Rego: `package carga.builtin.empty_instance

import rego.v1

deny contains violation if {
	count(object.get(input.unit, "variables", {})) == 0
	violation := {
		"message": sprintf("%s has no instance variables", [input.unit.label]),
		"severity": "warning",
	}
}
`,
	}
}

// stageWithoutPayloadPolicy flags stages that would complete a task with an
// empty output.
func stageWithoutPayloadPolicy() Policy {
	return Policy{
		Name:        "stage-without-payload",
		Description: "Warns when a stage completes its task without output variables",
		Severity:    SeverityWarning,
		Enabled:     true,
		UpdatedAt:   time.Now(),
		Rego: `package carga.builtin.stage_payload

import rego.v1

deny contains violation if {
	some stage in input.unit.stages
	count(object.get(stage, "variables", {})) == 0
	violation := {
		"message": sprintf("%s: stage %s has no output variables", [input.unit.label, stage.name]),
		"severity": "warning",
	}
}
`,
	}
}
