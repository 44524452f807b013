package workqueue

import (
	"context"
	"errors"
	"testing"
	"time"

	pebblestore "github.com/nmarcet/conveyor/internal/storage/pebble"
)

func openTestQueue(t *testing.T, opts QueueOptions) *WorkQueue {
	t.Helper()
	db, err := pebblestore.Open(pebblestore.Options{DataDir: t.TempDir(), Fsync: pebblestore.FsyncModeNever})
	if err != nil {
		t.Fatalf("open pebble: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	q, err := OpenQueue(db, "tasks")
	if err != nil {
		t.Fatalf("open queue: %v", err)
	}
	return q.WithOptions(opts)
}

func mustEnqueue(t *testing.T, q *WorkQueue, group, dedup string, payload string, nowMs int64) uint64 {
	t.Helper()
	seq, ok, err := q.Enqueue(context.Background(), group, dedup, nil, []byte(payload), 0, nowMs)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if !ok {
		t.Fatalf("enqueue suppressed unexpectedly")
	}
	return seq
}

func TestGroupFIFOSingleInFlight(t *testing.T) {
	q := openTestQueue(t, QueueOptions{})
	ctx := context.Background()

	s1 := mustEnqueue(t, q, "doc1-fieldA", "", "first", 1000)
	s2 := mustEnqueue(t, q, "doc1-fieldA", "", "second", 1001)

	msgs, err := q.Lease(ctx, 10, 30_000, 1100)
	if err != nil {
		t.Fatalf("lease: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Seq != s1 {
		t.Fatalf("expected only the group head, got %+v", msgs)
	}

	// second message stays invisible while the first is in flight
	msgs, err = q.Lease(ctx, 10, 30_000, 1200)
	if err != nil {
		t.Fatalf("lease: %v", err)
	}
	if len(msgs) != 0 {
		t.Fatalf("leased past an in-flight group head: %+v", msgs)
	}

	if err := q.Ack(ctx, "doc1-fieldA", s1); err != nil {
		t.Fatalf("ack: %v", err)
	}
	msgs, err = q.Lease(ctx, 10, 30_000, 1300)
	if err != nil {
		t.Fatalf("lease: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Seq != s2 {
		t.Fatalf("expected second message after ack, got %+v", msgs)
	}
}

func TestGroupsAreIndependent(t *testing.T) {
	q := openTestQueue(t, QueueOptions{})
	ctx := context.Background()

	sA := mustEnqueue(t, q, "doc1-fieldA", "", "a", 1000)
	sB := mustEnqueue(t, q, "doc2-fieldB", "", "b", 1001)

	msgs, err := q.Lease(ctx, 10, 30_000, 1100)
	if err != nil {
		t.Fatalf("lease: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected one message per group, got %d", len(msgs))
	}
	got := map[uint64]string{msgs[0].Seq: msgs[0].Group, msgs[1].Seq: msgs[1].Group}
	if got[sA] != "doc1-fieldA" || got[sB] != "doc2-fieldB" {
		t.Fatalf("unexpected lease set: %+v", got)
	}
}

func TestDedupWindowSuppresses(t *testing.T) {
	q := openTestQueue(t, QueueOptions{DedupWindow: 5 * time.Second})
	ctx := context.Background()

	s1, ok, err := q.Enqueue(ctx, "doc1-fieldA", "doc1-fieldA@0", nil, []byte("x"), 0, 1000)
	if err != nil || !ok {
		t.Fatalf("first enqueue: ok=%v err=%v", ok, err)
	}
	s2, ok, err := q.Enqueue(ctx, "doc1-fieldA", "doc1-fieldA@0", nil, []byte("x"), 0, 2000)
	if err != nil {
		t.Fatalf("duplicate enqueue: %v", err)
	}
	if ok {
		t.Fatal("duplicate inside window was not suppressed")
	}
	if s2 != s1 {
		t.Fatalf("suppressed enqueue returned seq %d, want original %d", s2, s1)
	}

	// outside the window the same key enqueues again
	s3, ok, err := q.Enqueue(ctx, "doc1-fieldA", "doc1-fieldA@0", nil, []byte("x"), 0, 7000)
	if err != nil || !ok {
		t.Fatalf("post-window enqueue: ok=%v err=%v", ok, err)
	}
	if s3 == s1 {
		t.Fatal("post-window enqueue did not create a new message")
	}
}

func TestAckAfterExpiryFails(t *testing.T) {
	q := openTestQueue(t, QueueOptions{})
	ctx := context.Background()

	s := mustEnqueue(t, q, "g", "", "x", 1000)
	msgs, err := q.Lease(ctx, 1, 500, 1000)
	if err != nil || len(msgs) != 1 {
		t.Fatalf("lease: %v (%d msgs)", err, len(msgs))
	}

	n, err := q.ReclaimExpired(ctx, 2000, 10)
	if err != nil {
		t.Fatalf("reclaim: %v", err)
	}
	if n != 1 {
		t.Fatalf("reclaimed = %d, want 1", n)
	}
	if err := q.Ack(ctx, "g", s); !errors.Is(err, ErrLeaseLost) {
		t.Fatalf("ack after expiry = %v, want ErrLeaseLost", err)
	}

	// message is redeliverable with an incremented delivery count
	msgs, err = q.Lease(ctx, 1, 30_000, 2100)
	if err != nil || len(msgs) != 1 {
		t.Fatalf("re-lease: %v (%d msgs)", err, len(msgs))
	}
	if msgs[0].Deliveries != 2 {
		t.Fatalf("deliveries = %d, want 2", msgs[0].Deliveries)
	}
}

func TestExtendOutlivesOriginalExpiry(t *testing.T) {
	q := openTestQueue(t, QueueOptions{})
	ctx := context.Background()

	s := mustEnqueue(t, q, "g", "", "x", 1000)
	msgs, err := q.Lease(ctx, 1, 1000, 1000)
	if err != nil || len(msgs) != 1 {
		t.Fatalf("lease: %v", err)
	}
	if err := q.Extend(ctx, "g", s, 10_000, 1500); err != nil {
		t.Fatalf("extend: %v", err)
	}

	// the original expiry passes; the stale index entry must not reclaim
	n, err := q.ReclaimExpired(ctx, 2500, 10)
	if err != nil {
		t.Fatalf("reclaim: %v", err)
	}
	if n != 0 {
		t.Fatalf("reclaimed %d under an extended lease", n)
	}
	if err := q.Ack(ctx, "g", s); err != nil {
		t.Fatalf("ack under extended lease: %v", err)
	}
}

func TestFailReturnsToGroupHead(t *testing.T) {
	q := openTestQueue(t, QueueOptions{})
	ctx := context.Background()

	s1 := mustEnqueue(t, q, "g", "", "first", 1000)
	mustEnqueue(t, q, "g", "", "second", 1001)

	msgs, _ := q.Lease(ctx, 1, 30_000, 1100)
	if len(msgs) != 1 || msgs[0].Seq != s1 {
		t.Fatalf("lease: %+v", msgs)
	}
	if err := q.Fail(ctx, "g", s1, 0, 1200); err != nil {
		t.Fatalf("fail: %v", err)
	}

	// the failed message comes back before the one behind it
	msgs, _ = q.Lease(ctx, 1, 30_000, 1300)
	if len(msgs) != 1 || msgs[0].Seq != s1 {
		t.Fatalf("expected failed head redelivered first, got %+v", msgs)
	}
}

func TestFailWithRetryDelay(t *testing.T) {
	q := openTestQueue(t, QueueOptions{})
	ctx := context.Background()

	s := mustEnqueue(t, q, "g", "", "x", 1000)
	if msgs, _ := q.Lease(ctx, 1, 30_000, 1000); len(msgs) != 1 {
		t.Fatal("lease failed")
	}
	if err := q.Fail(ctx, "g", s, 500, 1000); err != nil {
		t.Fatalf("fail: %v", err)
	}

	if msgs, _ := q.Lease(ctx, 1, 30_000, 1200); len(msgs) != 0 {
		t.Fatalf("message visible before retry delay: %+v", msgs)
	}
	msgs, _ := q.Lease(ctx, 1, 30_000, 1600)
	if len(msgs) != 1 || msgs[0].Seq != s {
		t.Fatalf("message not visible after retry delay: %+v", msgs)
	}
}

func TestExhaustedDeliveriesDeadLetter(t *testing.T) {
	q := openTestQueue(t, QueueOptions{MaxDeliveries: 2})
	ctx := context.Background()

	s := mustEnqueue(t, q, "g", "", "poison", 1000)
	now := int64(1000)
	for i := 0; i < 2; i++ {
		msgs, err := q.Lease(ctx, 1, 1000, now)
		if err != nil || len(msgs) != 1 {
			t.Fatalf("lease %d: %v (%d msgs)", i, err, len(msgs))
		}
		if err := q.Fail(ctx, "g", s, 0, now); err != nil {
			t.Fatalf("fail %d: %v", i, err)
		}
		now += 100
	}

	// third lease attempt dead-letters instead of delivering
	msgs, err := q.Lease(ctx, 1, 1000, now)
	if err != nil {
		t.Fatalf("lease: %v", err)
	}
	if len(msgs) != 0 {
		t.Fatalf("delivered past max deliveries: %+v", msgs)
	}

	dls, err := q.PeekDeadLetters(10)
	if err != nil {
		t.Fatalf("peek: %v", err)
	}
	if len(dls) != 1 || dls[0].Seq != s || dls[0].Group != "g" {
		t.Fatalf("dead letters = %+v", dls)
	}
	if string(dls[0].Payload) != "poison" {
		t.Fatalf("payload = %q", dls[0].Payload)
	}
}

func TestDeadLetterDoesNotBlockGroup(t *testing.T) {
	q := openTestQueue(t, QueueOptions{MaxDeliveries: 1})
	ctx := context.Background()

	s1 := mustEnqueue(t, q, "g", "", "poison", 1000)
	s2 := mustEnqueue(t, q, "g", "", "good", 1001)

	if msgs, _ := q.Lease(ctx, 1, 1000, 1000); len(msgs) != 1 || msgs[0].Seq != s1 {
		t.Fatal("expected poison leased first")
	}
	if err := q.Fail(ctx, "g", s1, 0, 1100); err != nil {
		t.Fatalf("fail: %v", err)
	}

	// the poison message dead-letters and the next one is delivered in the
	// same lease pass
	msgs, err := q.Lease(ctx, 1, 1000, 1200)
	if err != nil {
		t.Fatalf("lease: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Seq != s2 {
		t.Fatalf("group blocked behind dead letter: %+v", msgs)
	}
	if n, _ := q.DeadLetters(); n != 1 {
		t.Fatalf("dead letters = %d, want 1", n)
	}
}

func TestRedriveDeadLetter(t *testing.T) {
	q := openTestQueue(t, QueueOptions{MaxDeliveries: 1})
	ctx := context.Background()

	s := mustEnqueue(t, q, "g", "", "x", 1000)
	if msgs, _ := q.Lease(ctx, 1, 1000, 1000); len(msgs) != 1 {
		t.Fatal("lease failed")
	}
	if err := q.Fail(ctx, "g", s, 0, 1100); err != nil {
		t.Fatalf("fail: %v", err)
	}
	if _, err := q.Lease(ctx, 1, 1000, 1200); err != nil {
		t.Fatalf("lease: %v", err)
	}

	if err := q.RedriveDeadLetter(ctx, s); err != nil {
		t.Fatalf("redrive: %v", err)
	}
	msgs, err := q.Lease(ctx, 1, 1000, 1300)
	if err != nil || len(msgs) != 1 || msgs[0].Seq != s {
		t.Fatalf("redriven message not deliverable: %v %+v", err, msgs)
	}
	if msgs[0].Deliveries != 1 {
		t.Fatalf("redrive did not reset deliveries: %d", msgs[0].Deliveries)
	}

	if err := q.RedriveDeadLetter(ctx, 9999); !errors.Is(err, ErrNotDeadLettered) {
		t.Fatalf("redrive unknown seq = %v, want ErrNotDeadLettered", err)
	}
}

func TestDepthAndInFlight(t *testing.T) {
	q := openTestQueue(t, QueueOptions{})
	ctx := context.Background()

	mustEnqueue(t, q, "g1", "", "a", 1000)
	mustEnqueue(t, q, "g2", "", "b", 1001)
	mustEnqueue(t, q, "g2", "", "c", 1002)

	if d, _ := q.Depth(); d != 3 {
		t.Fatalf("depth = %d, want 3", d)
	}
	if _, err := q.Lease(ctx, 10, 30_000, 1100); err != nil {
		t.Fatalf("lease: %v", err)
	}
	if d, _ := q.Depth(); d != 1 {
		t.Fatalf("depth after lease = %d, want 1", d)
	}
	if n, _ := q.InFlight(); n != 2 {
		t.Fatalf("in flight = %d, want 2", n)
	}
}

func TestSweeperReclaimsInBackground(t *testing.T) {
	q := openTestQueue(t, QueueOptions{})
	ctx := context.Background()

	mustEnqueue(t, q, "g", "", "x", 0)
	if msgs, _ := q.Lease(ctx, 1, 50, 0); len(msgs) != 1 {
		t.Fatal("lease failed")
	}
	q.StartSweeper(50*time.Millisecond, 32)
	defer q.StopSweeper()

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if msgs, _ := q.Lease(ctx, 1, 30_000, 0); len(msgs) == 1 {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatal("sweeper did not reclaim the expired lease")
}

func TestGroupPendingCounts(t *testing.T) {
	q := openTestQueue(t, QueueOptions{})
	ctx := context.Background()

	mustEnqueue(t, q, "doc1-fieldA", "", "a", 1000)
	mustEnqueue(t, q, "doc1-fieldA", "", "b", 1001)
	mustEnqueue(t, q, "doc2-fieldB", "", "c", 1002)

	groups, err := q.GroupPending()
	if err != nil {
		t.Fatalf("group pending: %v", err)
	}
	if groups["doc1-fieldA"] != 2 || groups["doc2-fieldB"] != 1 {
		t.Fatalf("unexpected counts: %v", groups)
	}

	// leasing moves the head out of the ready index
	if msgs, _ := q.Lease(ctx, 1, 30_000, 2000); len(msgs) != 1 {
		t.Fatal("lease failed")
	}
	groups, _ = q.GroupPending()
	if groups["doc1-fieldA"] != 1 {
		t.Fatalf("expected one pending after lease, got %v", groups)
	}
}

func TestOpenQueuePersistsMetadata(t *testing.T) {
	db, err := pebblestore.Open(pebblestore.Options{DataDir: t.TempDir(), Fsync: pebblestore.FsyncModeNever})
	if err != nil {
		t.Fatalf("open pebble: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if db.Has(MetaKey("tasks")) {
		t.Fatal("metadata present before open")
	}
	q, err := OpenQueue(db, "tasks")
	if err != nil {
		t.Fatalf("open queue: %v", err)
	}
	if !q.Exists() {
		t.Fatal("queue should exist right after open")
	}

	// lastSeq survives a reopen
	mustEnqueue(t, q, "g", "", "x", 1000)
	q2, err := OpenQueue(db, "tasks")
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if !q2.Exists() {
		t.Fatal("queue lost after reopen")
	}
}
