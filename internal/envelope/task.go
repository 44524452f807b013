package envelope

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// Task is one fine-grained unit of work derived from an envelope.
// RetryCount reflects prior delivery attempts and is maintained by the queue
// transport, not by application code.
type Task struct {
	EntityID   string                 `json:"entity_id"`
	TaskName   string                 `json:"task_name"`
	TaskConfig map[string]interface{} `json:"task_config"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
	Timestamp  time.Time              `json:"timestamp"`
	RetryCount int                    `json:"retry_count"`
	TotalTasks int                    `json:"total_tasks"`
}

var (
	ErrMissingTaskName = errors.New("task: task_name is required")
)

// GroupKey is the ordering scope: all attempts of the same task for the same
// entity are processed one at a time, in order.
func (t Task) GroupKey() string { return t.EntityID + "-" + t.TaskName }

// DedupKey suppresses duplicate enqueues of the same group key within the
// given window. Enqueues whose timestamps fall into the same window bucket
// produce identical keys.
func (t Task) DedupKey(window time.Duration) string {
	if window <= 0 {
		window = time.Second
	}
	bucket := t.Timestamp.UTC().Truncate(window).UnixMilli()
	return t.GroupKey() + "@" + strconv.FormatInt(bucket, 10)
}

// Validate checks the task invariants.
func (t Task) Validate() error {
	if t.EntityID == "" {
		return ErrMissingEntityID
	}
	if t.TaskName == "" {
		return ErrMissingTaskName
	}
	if t.Timestamp.IsZero() {
		return ErrMissingTimestamp
	}
	return nil
}

// EncodeTask serializes a task as JSON.
func EncodeTask(t Task) ([]byte, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	t.Timestamp = t.Timestamp.UTC()
	return json.Marshal(t)
}

// DecodeTask parses and validates a task from JSON.
func DecodeTask(b []byte) (Task, error) {
	var t Task
	if err := json.Unmarshal(b, &t); err != nil {
		return Task{}, fmt.Errorf("task: decode: %w", err)
	}
	if err := t.Validate(); err != nil {
		return Task{}, err
	}
	return t, nil
}

// Outcome is the terminal result of one delivery attempt of a task.
type Outcome struct {
	EntityID string                 `json:"entity_id"`
	TaskName string                 `json:"task_name"`
	Status   OutcomeStatus          `json:"status"`
	Result   map[string]interface{} `json:"result,omitempty"`
	Error    string                 `json:"error,omitempty"`
}

// OutcomeStatus is the terminal status of one delivery attempt.
type OutcomeStatus string

const (
	StatusCompleted OutcomeStatus = "completed"
	StatusFailed    OutcomeStatus = "failed"
)

// Completed builds a success outcome for the task.
func (t Task) Completed(result map[string]interface{}) Outcome {
	return Outcome{EntityID: t.EntityID, TaskName: t.TaskName, Status: StatusCompleted, Result: result}
}

// Failed builds a failure outcome for the task.
func (t Task) Failed(err error) Outcome {
	o := Outcome{EntityID: t.EntityID, TaskName: t.TaskName, Status: StatusFailed}
	if err != nil {
		o.Error = err.Error()
	}
	return o
}
