package runtime

import (
	"context"
	"testing"

	cfgpkg "github.com/nmarcet/conveyor/internal/config"
)

func testConfig(t *testing.T) cfgpkg.Config {
	t.Helper()
	cfg := cfgpkg.Default()
	cfg.DataDir = t.TempDir()
	cfg.Fsync = "never"
	return cfg
}

func TestOpenCloseHealth(t *testing.T) {
	rt, err := Open(testConfig(t))
	if err != nil {
		t.Fatalf("open runtime: %v", err)
	}
	defer rt.Close()
	if err := rt.CheckHealth(context.Background()); err != nil {
		t.Fatalf("health: %v", err)
	}
}

func TestOpenRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Log.Mode = cfgpkg.ModeKafka // no brokers
	if _, err := Open(cfg); err == nil {
		t.Fatalf("kafka mode without brokers opened")
	}
}

func TestOpenTransportAndQueue(t *testing.T) {
	rt, err := Open(testConfig(t))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer rt.Close()

	lt, err := rt.OpenLogTransport()
	if err != nil {
		t.Fatalf("open log transport: %v", err)
	}
	if err := lt.Ping(context.Background()); err != nil {
		t.Fatalf("transport ping: %v", err)
	}

	queue, wq, err := rt.OpenQueue()
	if err != nil {
		t.Fatalf("open queue: %v", err)
	}
	defer queue.Close()
	if wq == nil {
		t.Fatalf("work queue not exposed")
	}
	if d, err := queue.Depth(context.Background()); err != nil || d != 0 {
		t.Fatalf("fresh queue depth = %d, %v", d, err)
	}
}

func TestOpenQueueAppliesDeliveryLimit(t *testing.T) {
	cfg := testConfig(t)
	cfg.Queue.MaxDeliveries = 2
	rt, err := Open(cfg)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer rt.Close()

	queue, wq, err := rt.OpenQueue()
	if err != nil {
		t.Fatalf("open queue: %v", err)
	}
	defer queue.Close()

	ctx := context.Background()
	if _, _, err := wq.Enqueue(ctx, "doc1-fieldA", "", nil, []byte("x"), 0, 1000); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	// two deliveries are allowed, the third attempt dead-letters
	for i := 0; i < 2; i++ {
		nowMs := int64(1000 + i*1000)
		msgs, err := wq.Lease(ctx, 1, 100, nowMs)
		if err != nil || len(msgs) != 1 {
			t.Fatalf("lease %d: %v, %v", i+1, msgs, err)
		}
		if _, err := wq.ReclaimExpired(ctx, nowMs+500, 10); err != nil {
			t.Fatalf("reclaim %d: %v", i+1, err)
		}
	}
	if msgs, _ := wq.Lease(ctx, 1, 100, 5000); len(msgs) != 0 {
		t.Fatalf("leased past the configured limit: %+v", msgs)
	}
	if n, _ := wq.DeadLetters(); n != 1 {
		t.Fatalf("dead letters = %d, want 1", n)
	}
}
