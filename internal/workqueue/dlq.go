package workqueue

import (
	"context"
	"errors"

	"github.com/cockroachdb/pebble"
	pebblestore "github.com/nmarcet/conveyor/internal/storage/pebble"
)

// ErrNotDeadLettered is returned by RedriveDeadLetter for unknown sequences.
var ErrNotDeadLettered = errors.New("workqueue: message is not dead-lettered")

// DeadLetter is a message that exhausted its deliveries.
type DeadLetter struct {
	Seq        uint64
	Group      string
	Deliveries uint32
	EnqueuedMs int64
	Header     []byte
	Payload    []byte
}

// deadLetter moves a message record into the dead-letter keyspace inside an
// open batch. readyKey, when non-nil, is the availability index entry to
// remove alongside.
func (q *WorkQueue) deadLetter(b *pebble.Batch, seq uint64, msg Message, readyKey []byte) error {
	if err := b.Set(DLQKey(q.queue, seq), EncodeMessage(msg), nil); err != nil {
		return err
	}
	if err := b.Delete(MsgKey(q.queue, seq), nil); err != nil {
		return err
	}
	if readyKey != nil {
		if err := b.Delete(append([]byte(nil), readyKey...), nil); err != nil {
			return err
		}
	}
	return nil
}

// PeekDeadLetters returns up to limit dead letters in arrival order without
// removing them.
func (q *WorkQueue) PeekDeadLetters(limit int) ([]DeadLetter, error) {
	if limit <= 0 {
		limit = 100
	}
	low, hi := keyRange(DLQPrefix(q.queue))
	iter, err := q.db.NewIter(&pebble.IterOptions{LowerBound: low, UpperBound: hi})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	out := make([]DeadLetter, 0, limit)
	for ok := iter.First(); ok && len(out) < limit; ok = iter.Next() {
		msg, okDec := DecodeMessage(iter.Value())
		if !okDec {
			continue
		}
		out = append(out, DeadLetter{
			Seq:        seqFromKey(iter.Key()),
			Group:      msg.Group,
			Deliveries: msg.Deliveries,
			EnqueuedMs: msg.EnqueuedMs,
			Header:     msg.Header,
			Payload:    msg.Payload,
		})
	}
	return out, nil
}

// RedriveDeadLetter moves a dead letter back to its group's ready index with
// a reset delivery count.
func (q *WorkQueue) RedriveDeadLetter(ctx context.Context, seq uint64) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	val, err := q.db.Get(DLQKey(q.queue, seq))
	if err != nil {
		if errors.Is(err, pebblestore.ErrNotFound) {
			return ErrNotDeadLettered
		}
		return err
	}
	msg, ok := DecodeMessage(val)
	if !ok {
		return ErrNotDeadLettered
	}
	msg.Deliveries = 0

	b := q.db.NewBatch()
	defer b.Close()
	if err := b.Delete(DLQKey(q.queue, seq), nil); err != nil {
		return err
	}
	if err := b.Set(MsgKey(q.queue, seq), EncodeMessage(msg), nil); err != nil {
		return err
	}
	if err := b.Set(ReadyKey(q.queue, msg.Group, seq), nil, nil); err != nil {
		return err
	}
	return q.db.CommitBatch(ctx, b)
}
