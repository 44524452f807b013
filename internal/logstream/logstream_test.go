package logstream

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nmarcet/conveyor/internal/envelope"
	pebblestore "github.com/nmarcet/conveyor/internal/storage/pebble"
	"github.com/nmarcet/conveyor/pkg/id"
)

func openEmbedded(t *testing.T) *EmbeddedTransport {
	t.Helper()
	db, err := pebblestore.Open(pebblestore.Options{DataDir: t.TempDir(), Fsync: pebblestore.FsyncModeNever})
	if err != nil {
		t.Fatalf("open pebble: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	tr, err := NewEmbeddedTransport(db, EmbeddedOptions{Topic: "events", Group: "workers", PollWait: 20 * time.Millisecond})
	if err != nil {
		t.Fatalf("open transport: %v", err)
	}
	return tr
}

func testEnvelope(entityID string) envelope.Envelope {
	return envelope.New(entityID, "test-service", map[string]interface{}{"k": "v"})
}

func TestProducerPublishAndConsumerPoll(t *testing.T) {
	tr := openEmbedded(t)
	ctx := context.Background()

	p := NewProducer(tr)
	env := testEnvelope("doc1")
	if err := p.Publish(ctx, "events", env, EntityKey(env)); err != nil {
		t.Fatalf("publish: %v", err)
	}

	c := NewConsumer(tr, "workers")
	if err := c.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if c.State() != StateAssigned {
		t.Fatalf("state = %s, want ASSIGNED", c.State())
	}

	msg, err := c.Poll(ctx)
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if c.State() != StateProcessing {
		t.Fatalf("state = %s, want PROCESSING", c.State())
	}
	got, err := envelope.Decode(msg.Value)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.EntityID != "doc1" || string(msg.Key) != "doc1" {
		t.Fatalf("round trip: entity=%q key=%q", got.EntityID, msg.Key)
	}

	if err := c.Commit(ctx, msg); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if c.State() != StateCommitted {
		t.Fatalf("state = %s, want COMMITTED", c.State())
	}
}

func TestUncommittedMessageRedelivered(t *testing.T) {
	tr := openEmbedded(t)
	ctx := context.Background()

	p := NewProducer(tr)
	env := testEnvelope("doc1")
	if err := p.Publish(ctx, "events", env, EntityKey(env)); err != nil {
		t.Fatalf("publish: %v", err)
	}

	msg, err := tr.Fetch(ctx)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	// no commit: a fresh transport (a restarted consumer) sees it again
	tr2, err := NewEmbeddedTransport(tr.db, EmbeddedOptions{Topic: "events", Group: "workers", PollWait: 20 * time.Millisecond})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	again, err := tr2.Fetch(ctx)
	if err != nil {
		t.Fatalf("refetch: %v", err)
	}
	if again.Offset != msg.Offset {
		t.Fatalf("redelivery offset = %d, want %d", again.Offset, msg.Offset)
	}

	// after commit a fresh transport starts past it
	if err := tr2.Commit(ctx, again); err != nil {
		t.Fatalf("commit: %v", err)
	}
	tr3, _ := NewEmbeddedTransport(tr.db, EmbeddedOptions{Topic: "events", Group: "workers", PollWait: 20 * time.Millisecond})
	waitCtx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()
	if _, err := tr3.Fetch(waitCtx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected no redelivery after commit, got %v", err)
	}
}

func TestPublishRetryIsIdempotent(t *testing.T) {
	tr := openEmbedded(t)
	ctx := context.Background()

	tok := id.NewGenerator().Next()
	if err := tr.Publish(ctx, "events", []byte("doc1"), []byte("payload"), tok); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := tr.Publish(ctx, "events", []byte("doc1"), []byte("payload"), tok); err != nil {
		t.Fatalf("retried publish: %v", err)
	}

	if _, err := tr.Fetch(ctx); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	waitCtx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()
	if _, err := tr.Fetch(waitCtx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatal("retried publish created a duplicate record")
	}
}

func TestPublishInvalidEnvelopeRejected(t *testing.T) {
	tr := openEmbedded(t)
	p := NewProducer(tr)
	bad := envelope.Envelope{SourceService: "svc"}
	err := p.Publish(context.Background(), "events", bad, nil)
	if err == nil {
		t.Fatal("expected validation error")
	}
	var de *DeliveryError
	if errors.As(err, &de) {
		t.Fatal("validation failure misreported as DeliveryError")
	}
}

func TestDeliveryErrorOnStalledTransport(t *testing.T) {
	tr := openEmbedded(t)
	p := NewProducer(&stalledTransport{LogTransport: tr}, WithFlushWindow(30*time.Millisecond))
	env := testEnvelope("doc1")
	err := p.Publish(context.Background(), "events", env, EntityKey(env))
	var de *DeliveryError
	if !errors.As(err, &de) {
		t.Fatalf("err = %v, want DeliveryError", err)
	}
}

// stalledTransport blocks publishes until the context dies.
type stalledTransport struct {
	LogTransport
}

func (s *stalledTransport) Publish(ctx context.Context, topic string, key, value []byte, token id.ID) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestAssignmentTimeout(t *testing.T) {
	c := NewConsumer(&neverAssigned{}, "workers", WithAssignTimeout(30*time.Millisecond))
	err := c.Start(context.Background())
	var ae *AssignmentTimeoutError
	if !errors.As(err, &ae) {
		t.Fatalf("err = %v, want AssignmentTimeoutError", err)
	}
	if ae.Group != "workers" {
		t.Fatalf("group = %q", ae.Group)
	}
}

// neverAssigned simulates a group that never receives partitions.
type neverAssigned struct{}

func (neverAssigned) Publish(context.Context, string, []byte, []byte, id.ID) error { return nil }
func (neverAssigned) Fetch(ctx context.Context) (Message, error) {
	<-ctx.Done()
	return Message{}, ctx.Err()
}
func (neverAssigned) Commit(context.Context, ...Message) error { return nil }
func (neverAssigned) WaitAssigned(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}
func (neverAssigned) Ping(context.Context) error { return nil }
func (neverAssigned) Close() error               { return nil }

func TestPollAfterCloseFails(t *testing.T) {
	tr := openEmbedded(t)
	c := NewConsumer(tr, "workers")
	if err := c.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := c.Poll(context.Background()); !errors.Is(err, ErrConsumerClosed) {
		t.Fatalf("poll after close = %v, want ErrConsumerClosed", err)
	}
	if c.State() != StateClosed {
		t.Fatalf("state = %s, want CLOSED", c.State())
	}
}

func TestFetchBlocksUntilPublish(t *testing.T) {
	tr := openEmbedded(t)
	ctx := context.Background()

	type result struct {
		msg Message
		err error
	}
	done := make(chan result, 1)
	go func() {
		m, err := tr.Fetch(ctx)
		done <- result{m, err}
	}()

	time.Sleep(30 * time.Millisecond)
	if err := tr.Publish(ctx, "events", []byte("k"), []byte("v"), id.ID{}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case r := <-done:
		if r.err != nil || string(r.msg.Value) != "v" {
			t.Fatalf("fetch = %+v, %v", r.msg, r.err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("fetch did not wake on publish")
	}
}

func TestEmbeddedCheckTopic(t *testing.T) {
	tr := openEmbedded(t)
	ctx := context.Background()

	// the consume topic is open from construction, before any record
	if err := tr.CheckTopic(ctx, "events"); err != nil {
		t.Fatalf("consume topic: %v", err)
	}
	if err := tr.CheckTopic(ctx, "missing"); err == nil {
		t.Fatal("unknown topic reported as existing")
	}

	if err := tr.EnsureTopic("errors"); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if err := tr.CheckTopic(ctx, "errors"); err != nil {
		t.Fatalf("ensured topic: %v", err)
	}
}
