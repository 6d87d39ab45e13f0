package engine

import (
	"fmt"
	"strings"
)

// MatchMode controls how the set fields of a selector combine.
type MatchMode string

const (
	// MatchAll requires every set field to match.
	MatchAll MatchMode = "all"

	// MatchAny requires at least one set field to match.
	MatchAny MatchMode = "any"
)

// PickPolicy decides which candidate wins when several match.
type PickPolicy string

const (
	// PickFirst takes the first match in engine order.
	PickFirst PickPolicy = "first"

	// PickLast takes the last match in engine order.
	PickLast PickPolicy = "last"

	// PickStrict refuses to choose between several matches.
	PickStrict PickPolicy = "strict"
)

// Selector is a predicate over candidate tasks of one process instance.
// A selector with no fields set matches every candidate.
type Selector struct {
	NodeID         string     `json:"node_id,omitempty" yaml:"node_id"`
	NodeInstanceID *int64     `json:"node_instance_id,omitempty" yaml:"node_instance_id"`
	Owner          string     `json:"owner,omitempty" yaml:"owner"`
	Match          MatchMode  `json:"match,omitempty" yaml:"match"`
	Pick           PickPolicy `json:"pick,omitempty" yaml:"pick"`
}

// Validate checks the match mode and pick policy.
func (s Selector) Validate() error {
	switch s.Match {
	case "", MatchAll, MatchAny:
	default:
		return fmt.Errorf("invalid match mode: %s", s.Match)
	}
	switch s.Pick {
	case "", PickFirst, PickLast, PickStrict:
	default:
		return fmt.Errorf("invalid pick policy: %s", s.Pick)
	}
	return nil
}

// IsZero returns true if no field is set.
func (s Selector) IsZero() bool {
	return s.NodeID == "" && s.NodeInstanceID == nil && s.Owner == ""
}

// Matches reports whether the task satisfies the selector.
func (s Selector) Matches(t TaskHandle) bool {
	if s.IsZero() {
		return true
	}

	var checks []bool
	if s.NodeID != "" {
		checks = append(checks, t.NodeID == s.NodeID)
	}
	if s.NodeInstanceID != nil {
		checks = append(checks, t.NodeInstanceID == *s.NodeInstanceID)
	}
	if s.Owner != "" {
		checks = append(checks, t.ActualOwner == s.Owner)
	}

	if s.Match == MatchAny {
		for _, ok := range checks {
			if ok {
				return true
			}
		}
		return false
	}
	for _, ok := range checks {
		if !ok {
			return false
		}
	}
	return true
}

// Filter returns the matching tasks, preserving order.
func (s Selector) Filter(tasks []TaskHandle) []TaskHandle {
	var out []TaskHandle
	for _, t := range tasks {
		if s.Matches(t) {
			out = append(out, t)
		}
	}
	return out
}

// pick chooses one task among the matches according to the pick policy.
// It returns false when there is nothing to pick or a strict selector
// matched more than one task.
func (s Selector) pick(matches []TaskHandle) (TaskHandle, bool) {
	if len(matches) == 0 {
		return TaskHandle{}, false
	}
	switch s.Pick {
	case PickLast:
		return matches[len(matches)-1], true
	case PickStrict:
		if len(matches) > 1 {
			return TaskHandle{}, false
		}
	}
	return matches[0], true
}

// String returns a compact description for logs.
func (s Selector) String() string {
	if s.IsZero() {
		return "any task"
	}
	var parts []string
	if s.NodeID != "" {
		parts = append(parts, "node="+s.NodeID)
	}
	if s.NodeInstanceID != nil {
		parts = append(parts, fmt.Sprintf("node_instance=%d", *s.NodeInstanceID))
	}
	if s.Owner != "" {
		parts = append(parts, "owner="+s.Owner)
	}
	sep := " and "
	if s.Match == MatchAny {
		sep = " or "
	}
	return strings.Join(parts, sep)
}
