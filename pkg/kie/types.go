package kie

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/FranciscoCL13/carga-masiva/pkg/engine"
)

// taskSummaryList is the body of a pot-owners task query.
type taskSummaryList struct {
	Tasks []taskSummary `json:"task-summary"`
}

// taskSummary is one entry of a task query. Field names follow the KIE server
// JSON marshalling; older servers use actual-owner instead of task-actual-owner.
type taskSummary struct {
	ID                flexInt64 `json:"task-id"`
	Name              string    `json:"task-name"`
	Status            string    `json:"task-status"`
	ActualOwner       string    `json:"task-actual-owner"`
	LegacyOwner       string    `json:"actual-owner"`
	ProcessInstanceID flexInt64 `json:"task-proc-inst-id"`
	CreatedOn         kieDate   `json:"task-created-on"`
	NodeID            string    `json:"task-node-id"`
	NodeInstanceID    flexInt64 `json:"task-node-instance-id"`
}

func (t taskSummary) handle() engine.TaskHandle {
	owner := t.ActualOwner
	if owner == "" {
		owner = t.LegacyOwner
	}
	return engine.TaskHandle{
		ID:                int64(t.ID),
		Name:              t.Name,
		Status:            t.Status,
		NodeID:            t.NodeID,
		NodeInstanceID:    int64(t.NodeInstanceID),
		ProcessInstanceID: int64(t.ProcessInstanceID),
		ActualOwner:       owner,
		CreatedOn:         time.Time(t.CreatedOn),
	}
}

// nodeTrigger is the body of a node instance trigger.
type nodeTrigger struct {
	NodeID string `json:"nodeId"`
}

// stateChange is the body of a task state change.
type stateChange struct {
	User       string             `json:"user"`
	TaskOutput engine.VariableSet `json:"task-output,omitempty"`
}

// flexInt64 accepts a JSON number or a quoted number.
type flexInt64 int64

func (f *flexInt64) UnmarshalJSON(data []byte) error {
	data = bytes.Trim(bytes.TrimSpace(data), `"`)
	if len(data) == 0 || string(data) == "null" {
		*f = 0
		return nil
	}
	n, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid integer %q: %w", data, err)
	}
	*f = flexInt64(n)
	return nil
}

// kieDate accepts {"java.util.Date": millis}, a bare millisecond number or an
// RFC 3339 string.
type kieDate time.Time

func (d *kieDate) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		return nil
	}

	switch data[0] {
	case '{':
		var wrapped map[string]json.Number
		if err := json.Unmarshal(data, &wrapped); err != nil {
			return err
		}
		for _, v := range wrapped {
			return d.fromMillis(v)
		}
		return nil
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return nil
		}
		*d = kieDate(t)
		return nil
	default:
		return d.fromMillis(json.Number(data))
	}
}

func (d *kieDate) fromMillis(n json.Number) error {
	ms, err := n.Int64()
	if err != nil {
		return err
	}
	*d = kieDate(time.UnixMilli(ms).UTC())
	return nil
}
