package workqueue

import (
	"bytes"
	"context"
	"encoding/binary"
	"time"

	"github.com/cockroachdb/pebble"
)

// Leased represents a dequeued message under a visibility lease.
type Leased struct {
	Seq        uint64
	Group      string
	Deliveries uint32
	Header     []byte
	Payload    []byte
	ExpiryMs   int64
}

// Lease acquires up to count messages across groups, creating visibility
// leases. A group with an active lease is skipped, which keeps delivery
// within each group strictly ordered. Messages whose delivery count already
// reached the maximum are moved to the dead-letter keyspace instead of being
// delivered. If nowMs <= 0, time.Now().UnixMilli() is used.
func (q *WorkQueue) Lease(ctx context.Context, count int, leaseMs int64, nowMs int64) ([]Leased, error) {
	if nowMs <= 0 {
		nowMs = time.Now().UnixMilli()
	}
	if count <= 0 {
		count = 1
	}
	if leaseMs <= 0 {
		leaseMs = 30_000
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	// promote due delayed messages first
	if err := q.promoteDue(ctx, nowMs, count*4); err != nil {
		return nil, err
	}

	readyPrefix := ReadyPrefix(q.queue)
	low, hi := keyRange(readyPrefix)
	iter, err := q.db.NewIter(&pebble.IterOptions{LowerBound: low, UpperBound: hi})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	b := q.db.NewBatch()
	defer b.Close()

	out := make([]Leased, 0, count)
	var skipPast []byte // advance-past marker for the current group
	for ok := iter.First(); ok && len(out) < count; ok = iter.Next() {
		k := iter.Key()
		if skipPast != nil {
			if bytes.HasPrefix(k, skipPast) {
				continue
			}
			skipPast = nil
		}
		rest := k[len(readyPrefix):]
		sep := bytes.IndexByte(rest, '/')
		if sep < 0 || len(rest) < sep+1+8 {
			continue
		}
		group := string(rest[:sep])
		seq := seqFromKey(k)

		groupPrefix := append([]byte(nil), k[:len(readyPrefix)+sep+1]...)
		skipPast = groupPrefix

		// one in-flight message per group
		if q.db.Has(LeaseKey(q.queue, group)) {
			continue
		}

		val, errGet := q.db.Get(MsgKey(q.queue, seq))
		if errGet != nil {
			_ = b.Delete(k, nil)
			continue
		}
		msg, okDec := DecodeMessage(val)
		if !okDec {
			_ = b.Delete(k, nil)
			continue
		}
		if msg.Deliveries >= q.maxDeliveries {
			if err := q.deadLetter(b, seq, msg, k); err != nil {
				return nil, err
			}
			// the group head moved, so its next message is deliverable
			skipPast = nil
			continue
		}

		msg.Deliveries++
		exp := nowMs + leaseMs
		if err := b.Set(MsgKey(q.queue, seq), EncodeMessage(msg), nil); err != nil {
			return nil, err
		}
		var lv [16]byte
		binary.BigEndian.PutUint64(lv[:8], seq)
		binary.BigEndian.PutUint64(lv[8:], uint64(exp))
		if err := b.Set(LeaseKey(q.queue, group), lv[:], nil); err != nil {
			return nil, err
		}
		if err := b.Set(LeaseIdxKey(q.queue, uint64(exp), group), nil, nil); err != nil {
			return nil, err
		}
		if err := b.Delete(k, nil); err != nil {
			return nil, err
		}
		out = append(out, Leased{
			Seq:        seq,
			Group:      group,
			Deliveries: msg.Deliveries,
			Header:     msg.Header,
			Payload:    msg.Payload,
			ExpiryMs:   exp,
		})
	}

	if b.Count() > 0 {
		if err := q.db.CommitBatch(ctx, b); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Ack acknowledges successful processing: the lease and the message are
// deleted. Returns ErrLeaseLost when the group's lease no longer covers seq.
func (q *WorkQueue) Ack(ctx context.Context, group string, seq uint64) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	leaseSeq, expiry, ok := q.readLease(group)
	if !ok || leaseSeq != seq {
		return ErrLeaseLost
	}

	b := q.db.NewBatch()
	defer b.Close()
	if err := b.Delete(LeaseKey(q.queue, group), nil); err != nil {
		return err
	}
	if err := b.Delete(LeaseIdxKey(q.queue, uint64(expiry), group), nil); err != nil {
		return err
	}
	if err := b.Delete(MsgKey(q.queue, seq), nil); err != nil {
		return err
	}
	return q.db.CommitBatch(ctx, b)
}

// Extend pushes the lease expiry forward by leaseMs. Returns ErrLeaseLost
// when the lease no longer covers seq.
func (q *WorkQueue) Extend(ctx context.Context, group string, seq uint64, leaseMs int64, nowMs int64) error {
	if nowMs <= 0 {
		nowMs = time.Now().UnixMilli()
	}
	if leaseMs <= 0 {
		leaseMs = 30_000
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	leaseSeq, oldExp, ok := q.readLease(group)
	if !ok || leaseSeq != seq {
		return ErrLeaseLost
	}

	b := q.db.NewBatch()
	defer b.Close()
	exp := nowMs + leaseMs
	var lv [16]byte
	binary.BigEndian.PutUint64(lv[:8], seq)
	binary.BigEndian.PutUint64(lv[8:], uint64(exp))
	if err := b.Set(LeaseKey(q.queue, group), lv[:], nil); err != nil {
		return err
	}
	if err := b.Delete(LeaseIdxKey(q.queue, uint64(oldExp), group), nil); err != nil {
		return err
	}
	if err := b.Set(LeaseIdxKey(q.queue, uint64(exp), group), nil, nil); err != nil {
		return err
	}
	return q.db.CommitBatch(ctx, b)
}

// Fail returns a leased message to its group, optionally after a delay. The
// delivery count recorded at lease time is kept, so repeated failures
// eventually dead-letter the message. Returns ErrLeaseLost when the lease no
// longer covers seq.
func (q *WorkQueue) Fail(ctx context.Context, group string, seq uint64, retryAfterMs int64, nowMs int64) error {
	if nowMs <= 0 {
		nowMs = time.Now().UnixMilli()
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	leaseSeq, expiry, ok := q.readLease(group)
	if !ok || leaseSeq != seq {
		return ErrLeaseLost
	}

	b := q.db.NewBatch()
	defer b.Close()
	if err := b.Delete(LeaseKey(q.queue, group), nil); err != nil {
		return err
	}
	if err := b.Delete(LeaseIdxKey(q.queue, uint64(expiry), group), nil); err != nil {
		return err
	}
	if retryAfterMs > 0 {
		if err := b.Set(DelayKey(q.queue, uint64(nowMs+retryAfterMs), seq), []byte(group), nil); err != nil {
			return err
		}
	} else {
		if err := b.Set(ReadyKey(q.queue, group, seq), nil, nil); err != nil {
			return err
		}
	}
	return q.db.CommitBatch(ctx, b)
}

// readLease returns the current lease for a group: seq, expiry, present.
func (q *WorkQueue) readLease(group string) (uint64, int64, bool) {
	val, err := q.db.Get(LeaseKey(q.queue, group))
	if err != nil || len(val) < 16 {
		return 0, 0, false
	}
	return binary.BigEndian.Uint64(val[:8]), int64(binary.BigEndian.Uint64(val[8:16])), true
}
