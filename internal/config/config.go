package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

// Log transport modes.
const (
	ModeEmbedded = "embedded"
	ModeKafka    = "kafka"
)

// Config is the top-level configuration loaded from file/env.
type Config struct {
	DataDir         string          `json:"dataDir"`
	Fsync           string          `json:"fsync"`
	FsyncIntervalMs int             `json:"fsyncIntervalMs"`
	Log             LogConfig       `json:"log"`
	Queue           QueueConfig     `json:"queue"`
	Scheduler       SchedulerConfig `json:"scheduler"`
	Runner          RunnerConfig    `json:"runner"`
	Retry           RetryConfig     `json:"retry"`
	Retention       RetentionConfig `json:"retention"`
	HTTP            HTTPConfig      `json:"http"`
	// Filter is an optional CEL expression scoping which envelopes this
	// consumer schedules. Empty means all.
	Filter string `json:"filter"`
}

// LogConfig selects and tunes the log transport.
type LogConfig struct {
	Mode            string   `json:"mode"`
	Brokers         []string `json:"brokers"`
	Topic           string   `json:"topic"`
	ErrorTopic      string   `json:"errorTopic"`
	Group           string   `json:"group"`
	Partitions      int      `json:"partitions"`
	FlushWindowMs   int      `json:"flushWindowMs"`
	AssignTimeoutMs int      `json:"assignTimeoutMs"`
}

// QueueConfig tunes the ordered task queue.
type QueueConfig struct {
	Name                string         `json:"name"`
	MaxDeliveries       int            `json:"maxDeliveries"`
	DedupWindowMs       int            `json:"dedupWindowMs"`
	MaxReady            int            `json:"maxReady"`
	VisibilityDefaultMs int            `json:"visibilityDefaultMs"`
	VisibilityPerTaskMs map[string]int `json:"visibilityPerTaskMs"`
	SweepIntervalMs     int            `json:"sweepIntervalMs"`
	SweepBatch          int            `json:"sweepBatch"`
}

// SchedulerConfig sizes the bounded worker pool.
type SchedulerConfig struct {
	Workers     int `json:"workers"`
	QueueFactor int `json:"queueFactor"`
}

// RunnerConfig sizes the dequeue-side task workers.
type RunnerConfig struct {
	Workers     int `json:"workers"`
	LeaseWaitMs int `json:"leaseWaitMs"`
}

// RetryConfig shapes the local retry policy for transient failures.
type RetryConfig struct {
	MaxAttempts int `json:"maxAttempts"`
	BaseMs      int `json:"baseMs"`
	CapMs       int `json:"capMs"`
}

// RetentionConfig bounds the embedded log. Zero values disable trimming.
type RetentionConfig struct {
	MaxAgeMs   int64 `json:"maxAgeMs"`
	MaxBytes   int64 `json:"maxBytes"`
	IntervalMs int   `json:"intervalMs"`
}

// HTTPConfig configures the ops server.
type HTTPConfig struct {
	Addr string `json:"addr"`
}

// Default returns built-in defaults. The embedded transports need nothing
// beyond these; Kafka mode requires the endpoint fields, see Validate.
func Default() Config {
	return Config{
		Fsync:           "interval",
		FsyncIntervalMs: 5,
		Log: LogConfig{
			Mode:            ModeEmbedded,
			Topic:           "events",
			ErrorTopic:      "errors",
			Group:           "conveyor",
			Partitions:      1,
			FlushWindowMs:   5000,
			AssignTimeoutMs: 30000,
		},
		Queue: QueueConfig{
			Name:                "tasks",
			MaxDeliveries:       5,
			DedupWindowMs:       1000,
			MaxReady:            100000,
			VisibilityDefaultMs: 60000,
			SweepIntervalMs:     1000,
			SweepBatch:          256,
		},
		Scheduler: SchedulerConfig{Workers: 4, QueueFactor: 2},
		Runner:    RunnerConfig{Workers: 4, LeaseWaitMs: 1000},
		Retry:     RetryConfig{MaxAttempts: 3, BaseMs: 1000, CapMs: 10000},
		HTTP:      HTTPConfig{Addr: ":8080"},
	}
}

// Load reads configuration from a JSON file. If path is empty, returns
// defaults.
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	cfg := Default()
	if err := json.Unmarshal(b, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

var errMissingBrokers = errors.New("config: kafka mode requires log.brokers")

// Validate rejects configurations that cannot start. Endpoint fields have
// no usable defaults in Kafka mode.
func (c Config) Validate() error {
	switch c.Log.Mode {
	case ModeEmbedded, ModeKafka:
	default:
		return fmt.Errorf("config: unknown log mode %q", c.Log.Mode)
	}
	if c.Log.Mode == ModeKafka && len(c.Log.Brokers) == 0 {
		return errMissingBrokers
	}
	if c.Log.Topic == "" || c.Log.ErrorTopic == "" {
		return errors.New("config: log.topic and log.errorTopic are required")
	}
	if c.Log.Group == "" {
		return errors.New("config: log.group is required")
	}
	if c.Queue.Name == "" {
		return errors.New("config: queue.name is required")
	}
	if c.Scheduler.Workers <= 0 || c.Runner.Workers <= 0 {
		return errors.New("config: worker counts must be positive")
	}
	return nil
}
