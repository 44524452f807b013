package lifecycle

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	cfgpkg "github.com/nmarcet/conveyor/internal/config"
	"github.com/nmarcet/conveyor/internal/envelope"
	"github.com/nmarcet/conveyor/internal/logstream"
	"github.com/nmarcet/conveyor/internal/scheduler"
)

func testConfig(t *testing.T) cfgpkg.Config {
	t.Helper()
	cfg := cfgpkg.Default()
	cfg.DataDir = t.TempDir()
	cfg.Fsync = "never"
	cfg.Scheduler.Workers = 2
	cfg.Runner.Workers = 2
	cfg.Runner.LeaseWaitMs = 20
	cfg.Queue.SweepIntervalMs = 20
	return cfg
}

func splitIntoTasks(names ...string) scheduler.Decomposer {
	return scheduler.DecomposerFunc(func(_ context.Context, env envelope.Envelope) ([]envelope.Task, error) {
		tasks := make([]envelope.Task, len(names))
		for i, n := range names {
			tasks[i] = envelope.Task{
				EntityID:   env.EntityID,
				TaskName:   n,
				TaskConfig: map[string]interface{}{},
				Timestamp:  env.Timestamp,
			}
		}
		return tasks, nil
	})
}

func TestEndToEndThroughManager(t *testing.T) {
	var completed atomic.Int64
	handler := scheduler.TaskHandlerFunc(func(_ context.Context, task envelope.Task) (envelope.Outcome, error) {
		completed.Add(1)
		return envelope.Outcome{Status: envelope.StatusCompleted}, nil
	})

	m, err := New(Options{
		Config:     testConfig(t),
		Decomposer: splitIntoTasks("fieldA", "fieldB"),
		Handler:    handler,
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	env := envelope.New("doc1", "test", map[string]interface{}{"n": 1})
	if err := m.Producer().Publish(context.Background(), "events", env, logstream.EntityKey(env)); err != nil {
		t.Fatalf("publish: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for completed.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if completed.Load() != 2 {
		t.Fatalf("completed = %d, want 2", completed.Load())
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run returned: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("manager did not shut down")
	}
}

func TestNewRejectsMissingDecomposer(t *testing.T) {
	if _, err := New(Options{Config: testConfig(t)}); err == nil {
		t.Fatal("manager built without a decomposer")
	}
}

func TestNewRejectsBadFilter(t *testing.T) {
	cfg := testConfig(t)
	cfg.Filter = `entity_id ==` // syntax error
	if _, err := New(Options{Config: cfg, Decomposer: splitIntoTasks("a")}); err == nil {
		t.Fatal("manager built with a broken filter expression")
	}
}

func TestShutdownIsIdempotentUnderNoTraffic(t *testing.T) {
	m, err := New(Options{
		Config:     testConfig(t),
		Decomposer: splitIntoTasks("fieldA"),
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()
	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run returned: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("manager did not shut down without traffic")
	}
}

func TestHealthProbesCoverTopicsAndQueue(t *testing.T) {
	m, err := New(Options{
		Config:     testConfig(t),
		Decomposer: splitIntoTasks("fieldA"),
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	defer m.release()
	defer m.queue.Close()

	healthy, results := m.checker.Run(context.Background())
	if !healthy {
		t.Fatalf("fresh node unhealthy: %+v", results)
	}
	seen := map[string]bool{}
	for _, r := range results {
		seen[r.Name] = true
	}
	for _, want := range []string{"storage", "log", "queue", "topic", "error-topic", "queue-exists"} {
		if !seen[want] {
			t.Fatalf("probe %q missing from %+v", want, results)
		}
	}
}
