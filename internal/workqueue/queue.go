package workqueue

import (
	"context"
	"encoding/binary"
	"errors"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"
	pebblestore "github.com/nmarcet/conveyor/internal/storage/pebble"
)

// ErrLeaseLost is returned by Ack and Extend when the lease no longer covers
// the message, typically because the visibility timeout expired and the
// message was redelivered.
var ErrLeaseLost = errors.New("workqueue: lease lost")

// WorkQueue provides group-ordered enqueue, lease, and dead-letter
// operations over a Pebble store.
type WorkQueue struct {
	db    *pebblestore.DB
	queue string

	mu      sync.Mutex
	lastSeq uint64

	maxDeliveries uint32
	dedupWindow   time.Duration

	// backpressure
	maxReady      int
	throttleSleep time.Duration

	// sweeper controls
	sweepStop chan struct{}
	sweepIntv time.Duration
	sweepMax  int
}

// QueueOptions tune delivery and backpressure behavior.
type QueueOptions struct {
	MaxDeliveries uint32        // deliveries allowed before dead-lettering (0 means 5)
	DedupWindow   time.Duration // window in which a repeated dedup key is suppressed (0 disables)
	MaxReady      int           // throttle Enqueue when ready items exceed this (0 disables)
	ThrottleSleep time.Duration // sleep between retries when throttled
}

// OpenQueue initializes a WorkQueue and restores lastSeq from metadata.
// A queue opened for the first time persists its metadata immediately so
// existence checks see it before the first enqueue.
func OpenQueue(db *pebblestore.DB, queue string) (*WorkQueue, error) {
	q := &WorkQueue{
		db:            db,
		queue:         queue,
		maxDeliveries: 5,
		throttleSleep: 10 * time.Millisecond,
	}
	if meta, err := db.Get(MetaKey(queue)); err == nil && len(meta) >= 8 {
		q.lastSeq = binary.BigEndian.Uint64(meta[:8])
	} else {
		var buf [8]byte
		if err := db.Set(MetaKey(queue), buf[:]); err != nil {
			return nil, err
		}
	}
	return q, nil
}

// WithOptions applies QueueOptions and returns the queue.
func (q *WorkQueue) WithOptions(opts QueueOptions) *WorkQueue {
	if opts.MaxDeliveries > 0 {
		q.maxDeliveries = opts.MaxDeliveries
	}
	q.dedupWindow = opts.DedupWindow
	q.maxReady = opts.MaxReady
	if opts.ThrottleSleep > 0 {
		q.throttleSleep = opts.ThrottleSleep
	}
	return q
}

// Name returns the queue name.
func (q *WorkQueue) Name() string { return q.queue }

// Exists reports whether the queue's metadata is present in the store.
func (q *WorkQueue) Exists() bool { return q.db.Has(MetaKey(q.queue)) }

// Enqueue inserts a message for a group, optionally delayed. When dedupKey
// is non-empty and was seen inside the dedup window, the message is
// suppressed and the sequence of the original is returned with ok=false.
// If nowMs <= 0, time.Now().UnixMilli() is used.
func (q *WorkQueue) Enqueue(ctx context.Context, group, dedupKey string, header, payload []byte, delayMs int64, nowMs int64) (uint64, bool, error) {
	if group == "" {
		return 0, false, errors.New("workqueue: group is required")
	}
	if nowMs <= 0 {
		nowMs = time.Now().UnixMilli()
	}

	// simple throttle when ready depth exceeds threshold
	if q.maxReady > 0 {
		for {
			depth, err := q.Depth()
			if err != nil || depth < q.maxReady {
				break
			}
			select {
			case <-ctx.Done():
				return 0, false, ctx.Err()
			case <-time.After(q.throttleSleep):
			}
		}
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	// dedup window check
	if dedupKey != "" && q.dedupWindow > 0 {
		if val, err := q.db.Get(DedupKey(q.queue, dedupKey)); err == nil && len(val) >= 16 {
			expiry := int64(binary.BigEndian.Uint64(val[8:16]))
			if expiry > nowMs {
				return binary.BigEndian.Uint64(val[:8]), false, nil
			}
		}
	}

	b := q.db.NewBatch()
	defer b.Close()

	q.lastSeq++
	seq := q.lastSeq
	rec := EncodeMessage(Message{Group: group, EnqueuedMs: nowMs, Header: header, Payload: payload})
	if err := b.Set(MsgKey(q.queue, seq), rec, nil); err != nil {
		return 0, false, err
	}
	if delayMs > 0 {
		if err := b.Set(DelayKey(q.queue, uint64(nowMs+delayMs), seq), []byte(group), nil); err != nil {
			return 0, false, err
		}
	} else {
		if err := b.Set(ReadyKey(q.queue, group, seq), nil, nil); err != nil {
			return 0, false, err
		}
	}
	if dedupKey != "" && q.dedupWindow > 0 {
		var dv [16]byte
		binary.BigEndian.PutUint64(dv[:8], seq)
		binary.BigEndian.PutUint64(dv[8:], uint64(nowMs+q.dedupWindow.Milliseconds()))
		if err := b.Set(DedupKey(q.queue, dedupKey), dv[:], nil); err != nil {
			return 0, false, err
		}
	}
	var meta [8]byte
	binary.BigEndian.PutUint64(meta[:], q.lastSeq)
	if err := b.Set(MetaKey(q.queue), meta[:], nil); err != nil {
		return 0, false, err
	}
	if err := q.db.CommitBatch(ctx, b); err != nil {
		return 0, false, err
	}
	return seq, true, nil
}

// Depth counts messages currently available for lease.
func (q *WorkQueue) Depth() (int, error) {
	return q.countPrefix(ReadyPrefix(q.queue))
}

// InFlight counts active leases.
func (q *WorkQueue) InFlight() (int, error) {
	return q.countPrefix(LeasePrefix(q.queue))
}

// DeadLetters counts dead-lettered messages.
func (q *WorkQueue) DeadLetters() (int, error) {
	return q.countPrefix(DLQPrefix(q.queue))
}

// GroupPending counts available messages per group key.
func (q *WorkQueue) GroupPending() (map[string]int, error) {
	prefix := ReadyPrefix(q.queue)
	low, hi := keyRange(prefix)
	iter, err := q.db.NewIter(&pebble.IterOptions{LowerBound: low, UpperBound: hi})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	out := map[string]int{}
	for ok := iter.First(); ok; ok = iter.Next() {
		key := iter.Key()
		// ready/{group}/{seq_be8}
		rest := key[len(prefix):]
		if len(rest) <= 9 {
			continue
		}
		out[string(rest[:len(rest)-9])]++
	}
	return out, nil
}

func (q *WorkQueue) countPrefix(prefix []byte) (int, error) {
	low, hi := keyRange(prefix)
	iter, err := q.db.NewIter(&pebble.IterOptions{LowerBound: low, UpperBound: hi})
	if err != nil {
		return 0, err
	}
	defer iter.Close()
	n := 0
	for ok := iter.First(); ok; ok = iter.Next() {
		n++
	}
	return n, nil
}
