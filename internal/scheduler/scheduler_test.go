package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nmarcet/conveyor/internal/envelope"
	"github.com/nmarcet/conveyor/internal/faults"
	"github.com/nmarcet/conveyor/internal/logstream"
	"github.com/nmarcet/conveyor/internal/retry"
	pebblestore "github.com/nmarcet/conveyor/internal/storage/pebble"
	"github.com/nmarcet/conveyor/internal/taskqueue"
	"github.com/nmarcet/conveyor/internal/workqueue"
	"github.com/nmarcet/conveyor/pkg/id"
	"github.com/nmarcet/conveyor/pkg/log"
)

type fixture struct {
	db       *pebblestore.DB
	log      *logstream.EmbeddedTransport
	consumer *logstream.Consumer
	producer *logstream.Producer
	queue    *taskqueue.Client
	recorder *faults.Recorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := pebblestore.Open(pebblestore.Options{DataDir: t.TempDir(), Fsync: pebblestore.FsyncModeNever})
	if err != nil {
		t.Fatalf("open pebble: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	lt, err := logstream.NewEmbeddedTransport(db, logstream.EmbeddedOptions{
		Topic: "events", Group: "workers", PollWait: 10 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("open log transport: %v", err)
	}
	wq, err := workqueue.OpenQueue(db, "tasks")
	if err != nil {
		t.Fatalf("open work queue: %v", err)
	}
	wq.WithOptions(workqueue.QueueOptions{DedupWindow: time.Second})
	qt := taskqueue.NewEmbeddedTransport(wq, taskqueue.EmbeddedQueueOptions{PollWait: 10 * time.Millisecond})

	return &fixture{
		db:       db,
		log:      lt,
		consumer: logstream.NewConsumer(lt, "workers"),
		producer: logstream.NewProducer(lt),
		queue:    taskqueue.NewClient(qt),
		recorder: faults.NewRecorder(lt, "errors", "conveyor-test", log.NewNopLogger()),
	}
}

func (f *fixture) publish(t *testing.T, entityID string) {
	t.Helper()
	env := envelope.New(entityID, "test", map[string]interface{}{"n": 1})
	if err := f.producer.Publish(context.Background(), "events", env, logstream.EntityKey(env)); err != nil {
		t.Fatalf("publish: %v", err)
	}
}

func fastPolicy(attempts int) retry.Policy {
	return retry.Policy{MaxAttempts: attempts, Base: time.Millisecond, Cap: 2 * time.Millisecond}
}

func decomposeInto(names ...string) Decomposer {
	return DecomposerFunc(func(_ context.Context, env envelope.Envelope) ([]envelope.Task, error) {
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

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal(msg)
}

type countingObserver struct {
	consumed  atomic.Int64
	committed atomic.Int64
	mirrored  atomic.Int64
	enqueued  atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
}

func (c *countingObserver) EnvelopeConsumed()   { c.consumed.Add(1) }
func (c *countingObserver) EnvelopeCommitted()  { c.committed.Add(1) }
func (c *countingObserver) EnvelopeMirrored()   { c.mirrored.Add(1) }
func (c *countingObserver) TasksEnqueued(n int) { c.enqueued.Add(int64(n)) }
func (c *countingObserver) TaskCompleted()      { c.completed.Add(1) }
func (c *countingObserver) TaskFailed()         { c.failed.Add(1) }
func (c *countingObserver) WorkerBusy(int)      {}

func TestDecomposeEnqueueCommit(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	obs := &countingObserver{}
	s := New(Config{Workers: 2}, f.consumer, f.queue, f.recorder,
		decomposeInto("fieldA", "fieldB"), WithObserver(obs))
	f.publish(t, "doc1")
	s.Start(ctx)
	defer func() { s.Stop(); cancel(); s.AwaitPull() }()

	waitFor(t, func() bool { return obs.committed.Load() == 1 }, "envelope not committed")
	if got := obs.enqueued.Load(); got != 2 {
		t.Fatalf("tasks enqueued = %d, want 2", got)
	}
	if d, _ := f.queue.Depth(ctx); d != 2 {
		t.Fatalf("queue depth = %d, want 2", d)
	}
}

func TestPoisonPillStillCommits(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	obs := &countingObserver{}
	always := DecomposerFunc(func(context.Context, envelope.Envelope) ([]envelope.Task, error) {
		return nil, retry.Transient(errors.New("handler always fails"))
	})
	s := New(Config{Workers: 1}, f.consumer, f.queue, f.recorder, always,
		WithObserver(obs), WithRetryPolicy(fastPolicy(3)))
	f.publish(t, "poison")
	f.publish(t, "healthy")
	s.Start(ctx)
	defer func() { s.Stop(); cancel(); s.AwaitPull() }()

	// both advance: the poison one after exhaustion via the error channel
	waitFor(t, func() bool { return obs.committed.Load() == 2 }, "partition blocked behind poison message")
	if obs.mirrored.Load() != 2 {
		t.Fatalf("mirrored = %d, want 2", obs.mirrored.Load())
	}

	// the mirror carries the original payload and the exhaustion class
	et, err := logstream.NewEmbeddedTransport(f.db, logstream.EmbeddedOptions{
		Topic: "errors", Group: "audit", PollWait: 10 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("open error-topic transport: %v", err)
	}
	msg, err := et.Fetch(ctx)
	if err != nil {
		t.Fatalf("fetch error record: %v", err)
	}
	rec, err := envelope.DecodeErrorRecord(msg.Value)
	if err != nil {
		t.Fatalf("decode error record: %v", err)
	}
	orig, err := envelope.Decode(rec.OriginalMessage)
	if err != nil {
		t.Fatalf("original not carried in full: %v", err)
	}
	if orig.EntityID != "poison" {
		t.Fatalf("original entity = %q", orig.EntityID)
	}
	if rec.ErrorType != "permanent" {
		t.Fatalf("errorType = %q", rec.ErrorType)
	}
}

func TestMalformedEnvelopeMirroredAndCommitted(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := f.log.Publish(ctx, "events", []byte("k"), []byte("not json"), id.ID{}); err != nil {
		t.Fatalf("publish raw: %v", err)
	}

	obs := &countingObserver{}
	s := New(Config{Workers: 1}, f.consumer, f.queue, f.recorder,
		decomposeInto("fieldA"), WithObserver(obs))
	s.Start(ctx)
	defer func() { s.Stop(); cancel(); s.AwaitPull() }()

	waitFor(t, func() bool { return obs.committed.Load() == 1 && obs.mirrored.Load() == 1 },
		"malformed envelope not disposed of")
	if obs.enqueued.Load() != 0 {
		t.Fatalf("malformed envelope produced tasks")
	}
}

type failingPublisher struct{}

func (failingPublisher) Publish(context.Context, string, []byte, []byte, id.ID) error {
	return errors.New("error channel down")
}

func TestFailedMirrorHoldsEnvelope(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	broken := faults.NewRecorder(failingPublisher{}, "errors", "svc", log.NewNopLogger())
	obs := &countingObserver{}
	permanent := DecomposerFunc(func(context.Context, envelope.Envelope) ([]envelope.Task, error) {
		return nil, retry.Permanent(errors.New("bad schema"))
	})
	s := New(Config{Workers: 1}, f.consumer, f.queue, broken, permanent, WithObserver(obs))
	f.publish(t, "doc1")
	s.Start(ctx)
	defer func() { s.Stop(); cancel(); s.AwaitPull() }()

	waitFor(t, func() bool { return obs.consumed.Load() >= 1 }, "envelope not consumed")
	time.Sleep(100 * time.Millisecond)
	if obs.committed.Load() != 0 {
		t.Fatal("envelope committed although the mirror write failed")
	}
}

func TestBackpressureBound(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	release := make(chan struct{})
	var stalled sync.WaitGroup
	stalled.Add(1)
	var once sync.Once
	stallingDecomp := DecomposerFunc(func(ctx context.Context, env envelope.Envelope) ([]envelope.Task, error) {
		once.Do(stalled.Done)
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil, nil
	})

	obs := &countingObserver{}
	workers := 2
	s := New(Config{Workers: workers, QueueFactor: 2}, f.consumer, f.queue, f.recorder,
		stallingDecomp, WithObserver(obs))
	capacity := s.Capacity()
	if capacity != workers*2 {
		t.Fatalf("capacity = %d, want %d", capacity, workers*2)
	}

	total := 20
	for i := 0; i < total; i++ {
		f.publish(t, "doc")
	}
	s.Start(ctx)
	defer func() { close(release); s.Stop(); cancel(); s.AwaitPull() }()

	stalled.Wait()
	time.Sleep(300 * time.Millisecond)

	// with workers stalled the pull loop may hold: capacity in the channel,
	// one message per worker in hand, and one in-flight push
	maxConsumed := int64(capacity + workers + 1)
	if got := obs.consumed.Load(); got > maxConsumed {
		t.Fatalf("consumed %d envelopes with stalled workers, bound is %d", got, maxConsumed)
	}
	if buf := s.Buffered(); buf > capacity {
		t.Fatalf("internal queue holds %d, capacity %d", buf, capacity)
	}
}

func TestFilterSkipsAndCommits(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	obs := &countingObserver{}
	onlyDocs := filterFunc(func(env envelope.Envelope) (bool, error) {
		return env.EntityID == "doc1", nil
	})
	s := New(Config{Workers: 1}, f.consumer, f.queue, f.recorder,
		decomposeInto("fieldA"), WithObserver(obs), WithFilter(onlyDocs))
	f.publish(t, "ignored")
	f.publish(t, "doc1")
	s.Start(ctx)
	defer func() { s.Stop(); cancel(); s.AwaitPull() }()

	waitFor(t, func() bool { return obs.committed.Load() == 2 }, "envelopes not committed")
	if obs.enqueued.Load() != 1 {
		t.Fatalf("enqueued = %d, want 1 (filtered envelope scheduled)", obs.enqueued.Load())
	}
}

type filterFunc func(envelope.Envelope) (bool, error)

func (f filterFunc) Match(env envelope.Envelope) (bool, error) { return f(env) }

func TestStopDrainsWorkers(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	obs := &countingObserver{}
	slow := DecomposerFunc(func(context.Context, envelope.Envelope) ([]envelope.Task, error) {
		time.Sleep(50 * time.Millisecond)
		return nil, nil
	})
	s := New(Config{Workers: 2}, f.consumer, f.queue, f.recorder, slow, WithObserver(obs))
	for i := 0; i < 4; i++ {
		f.publish(t, "doc")
	}
	s.Start(ctx)
	waitFor(t, func() bool { return obs.consumed.Load() >= 4 }, "envelopes not consumed")

	s.Stop() // must not return before in-flight work is done
	inFlightDone := obs.committed.Load()
	if inFlightDone < 1 {
		t.Fatal("stop returned with no work completed")
	}
	cancel()
	s.AwaitPull()

	// every consumed envelope either committed or stays redeliverable
	if obs.committed.Load() > obs.consumed.Load() {
		t.Fatal("committed more than consumed")
	}
}
