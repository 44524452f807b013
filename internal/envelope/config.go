package envelope

import (
	"encoding/json"
	"fmt"
	"sync"
)

// TaskConfigSpec decodes and validates the task_config map for one task name.
// Implementations are plain structs with json tags; DecodeConfig round-trips
// the opaque map through JSON into the registered type.
type TaskConfigSpec interface {
	// TaskName returns the task_name this spec applies to.
	TaskName() string
	// Validate checks the decoded config. Called after decoding.
	Validate() error
}

var (
	configMu    sync.RWMutex
	configSpecs = map[string]func() TaskConfigSpec{}
)

// RegisterConfig registers a typed config for a task name. The factory must
// return a fresh pointer value on each call. Later registrations replace
// earlier ones.
func RegisterConfig(factory func() TaskConfigSpec) {
	spec := factory()
	configMu.Lock()
	defer configMu.Unlock()
	configSpecs[spec.TaskName()] = factory
}

// OpaqueConfig is the forward-compatibility fallback for task names without
// a registered typed config.
type OpaqueConfig struct {
	Name   string
	Values map[string]interface{}
}

func (o *OpaqueConfig) TaskName() string { return o.Name }
func (o *OpaqueConfig) Validate() error  { return nil }

// DecodeConfig resolves the task_config of a task into its registered typed
// form, or an OpaqueConfig when no type is registered for the task name.
func DecodeConfig(t Task) (TaskConfigSpec, error) {
	configMu.RLock()
	factory, ok := configSpecs[t.TaskName]
	configMu.RUnlock()
	if !ok {
		return &OpaqueConfig{Name: t.TaskName, Values: t.TaskConfig}, nil
	}

	spec := factory()
	raw, err := json.Marshal(t.TaskConfig)
	if err != nil {
		return nil, fmt.Errorf("task %q: marshal config: %w", t.TaskName, err)
	}
	if err := json.Unmarshal(raw, spec); err != nil {
		return nil, fmt.Errorf("task %q: decode config: %w", t.TaskName, err)
	}
	if err := spec.Validate(); err != nil {
		return nil, fmt.Errorf("task %q: invalid config: %w", t.TaskName, err)
	}
	return spec, nil
}
