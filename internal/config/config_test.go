package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.Log.Mode != ModeEmbedded {
		t.Fatalf("default mode")
	}
	if cfg.Log.FlushWindowMs != 5000 {
		t.Fatalf("flush window default")
	}
	if cfg.Log.AssignTimeoutMs != 30000 {
		t.Fatalf("assign timeout default")
	}
	if cfg.Queue.MaxDeliveries != 5 {
		t.Fatalf("max deliveries default")
	}
	if cfg.Scheduler.QueueFactor != 2 {
		t.Fatalf("queue factor default")
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults must validate: %v", err)
	}
}

func TestLoadJSON(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "conveyor.json")
	data := []byte(`{"log":{"mode":"kafka","brokers":["k1:9092","k2:9092"],"topic":"prod-events","group":"workers"},"scheduler":{"workers":8}}`)
	if err := os.WriteFile(file, data, 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := Load(file)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Log.Mode != ModeKafka {
		t.Fatalf("expected kafka mode")
	}
	if len(cfg.Log.Brokers) != 2 {
		t.Fatalf("expected 2 brokers")
	}
	if cfg.Log.Topic != "prod-events" {
		t.Fatalf("expected prod-events")
	}
	if cfg.Scheduler.Workers != 8 {
		t.Fatalf("expected 8 workers")
	}
	// untouched fields keep their defaults
	if cfg.Queue.Name != "tasks" {
		t.Fatalf("queue default lost on partial file")
	}
}

func TestFromEnv(t *testing.T) {
	cfg := Default()
	os.Setenv("CONVEYOR_BROKERS", "k1:9092, k2:9092")
	os.Setenv("CONVEYOR_GROUP", "staging-workers")
	os.Setenv("CONVEYOR_WORKERS", "16")
	os.Setenv("CONVEYOR_ERROR_TOPIC", "staging-errors")
	t.Cleanup(func() {
		os.Unsetenv("CONVEYOR_BROKERS")
		os.Unsetenv("CONVEYOR_GROUP")
		os.Unsetenv("CONVEYOR_WORKERS")
		os.Unsetenv("CONVEYOR_ERROR_TOPIC")
	})
	FromEnv(&cfg)
	if len(cfg.Log.Brokers) != 2 || cfg.Log.Brokers[1] != "k2:9092" {
		t.Fatalf("env override brokers: %v", cfg.Log.Brokers)
	}
	if cfg.Log.Group != "staging-workers" {
		t.Fatalf("env override group")
	}
	if cfg.Scheduler.Workers != 16 {
		t.Fatalf("env override workers")
	}
	if cfg.Log.ErrorTopic != "staging-errors" {
		t.Fatalf("env override error topic")
	}
}

func TestValidateKafkaRequiresBrokers(t *testing.T) {
	cfg := Default()
	cfg.Log.Mode = ModeKafka
	if err := cfg.Validate(); err == nil {
		t.Fatalf("kafka mode without brokers validated")
	}
	cfg.Log.Brokers = []string{"k1:9092"}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("kafka mode with brokers: %v", err)
	}
}

func TestValidateRejectsBadMode(t *testing.T) {
	cfg := Default()
	cfg.Log.Mode = "carrier-pigeon"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("unknown mode validated")
	}
}
