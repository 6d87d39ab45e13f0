// Package policy admits or rejects uploaded work units with Open Policy Agent
// (Rego) policies before any process instance is created.
//
// # Policies
//
// A policy is a Rego module loaded from a .rego file, a .json definition
// ({"name", "description", "severity", "rego"}) or the built-in set. Every
// module is queried at data.<package>.<rule>, where rule defaults to "deny"
// and must be a set. Each member is either a message string or an object
// with "message" and optional "severity":
//
//	package carga.folios
//
//	import rego.v1
//
//	deny contains msg if {
//		not input.unit.variables.folio
//		msg := sprintf("%s has no folio", [input.unit.label])
//	}
//
// # Input
//
// Policies are evaluated once per unit with:
//
//	{
//	  "unit":  {"index", "label", "variables", "stages": [{"name", "trigger_node_id", "selector", "variables"}]},
//	  "batch": {"source", "units"}
//	}
//
// # Severities
//
// Violations with severity error or critical reject the whole upload; Check
// turns them into an input error with code POLICY_DENIED. Warnings and info
// results are reported but never block. A policy that fails to evaluate is
// reported as a warning.
//
// # Reloading
//
// Engine.Watch uses fsnotify to reload file policies when they change. Bursts
// of events are debounced and a reload that fails to compile leaves the
// previous policies in place.
package policy
