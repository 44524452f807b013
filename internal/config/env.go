package config

import (
	"os"
	"strconv"
	"strings"
)

// FromEnv overlays CONVEYOR_* environment variables onto cfg.
func FromEnv(cfg *Config) {
	if v := os.Getenv("CONVEYOR_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("CONVEYOR_FSYNC"); v != "" {
		cfg.Fsync = v
	}
	if v := os.Getenv("CONVEYOR_LOG_MODE"); v != "" {
		cfg.Log.Mode = v
	}
	if v := os.Getenv("CONVEYOR_BROKERS"); v != "" {
		parts := strings.Split(v, ",")
		cfg.Log.Brokers = nil
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cfg.Log.Brokers = append(cfg.Log.Brokers, p)
			}
		}
	}
	if v := os.Getenv("CONVEYOR_TOPIC"); v != "" {
		cfg.Log.Topic = v
	}
	if v := os.Getenv("CONVEYOR_ERROR_TOPIC"); v != "" {
		cfg.Log.ErrorTopic = v
	}
	if v := os.Getenv("CONVEYOR_GROUP"); v != "" {
		cfg.Log.Group = v
	}
	if v := os.Getenv("CONVEYOR_PARTITIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Log.Partitions = n
		}
	}
	if v := os.Getenv("CONVEYOR_FLUSH_WINDOW_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Log.FlushWindowMs = n
		}
	}
	if v := os.Getenv("CONVEYOR_ASSIGN_TIMEOUT_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Log.AssignTimeoutMs = n
		}
	}
	if v := os.Getenv("CONVEYOR_QUEUE"); v != "" {
		cfg.Queue.Name = v
	}
	if v := os.Getenv("CONVEYOR_MAX_DELIVERIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Queue.MaxDeliveries = n
		}
	}
	if v := os.Getenv("CONVEYOR_DEDUP_WINDOW_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Queue.DedupWindowMs = n
		}
	}
	if v := os.Getenv("CONVEYOR_VISIBILITY_DEFAULT_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Queue.VisibilityDefaultMs = n
		}
	}
	if v := os.Getenv("CONVEYOR_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Scheduler.Workers = n
		}
	}
	if v := os.Getenv("CONVEYOR_QUEUE_FACTOR"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Scheduler.QueueFactor = n
		}
	}
	if v := os.Getenv("CONVEYOR_TASK_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Runner.Workers = n
		}
	}
	if v := os.Getenv("CONVEYOR_FILTER"); v != "" {
		cfg.Filter = v
	}
	if v := os.Getenv("CONVEYOR_HTTP_ADDR"); v != "" {
		cfg.HTTP.Addr = v
	}
}
