package workqueue

import (
	"context"
	"encoding/binary"
	"math/rand"
	"time"

	"github.com/cockroachdb/pebble"
)

// promoteDue moves delayed messages that are due into their group's ready
// index. Caller holds q.mu.
func (q *WorkQueue) promoteDue(ctx context.Context, nowMs int64, max int) error {
	prefix := DelayPrefix(q.queue)
	low, hi := keyRange(prefix)
	iter, err := q.db.NewIter(&pebble.IterOptions{LowerBound: low, UpperBound: hi})
	if err != nil {
		return err
	}
	defer iter.Close()

	b := q.db.NewBatch()
	defer b.Close()
	promoted := 0
	for ok := iter.First(); ok; ok = iter.Next() {
		k := iter.Key()
		if len(k) < len(prefix)+16 {
			continue
		}
		fire := int64(binary.BigEndian.Uint64(k[len(prefix) : len(prefix)+8]))
		if fire > nowMs {
			break
		}
		seq := seqFromKey(k)
		group := string(iter.Value())
		if err := b.Delete(append([]byte(nil), k...), nil); err != nil {
			return err
		}
		if err := b.Set(ReadyKey(q.queue, group, seq), nil, nil); err != nil {
			return err
		}
		promoted++
		if max > 0 && promoted >= max {
			break
		}
	}
	if promoted == 0 {
		return nil
	}
	return q.db.CommitBatch(ctx, b)
}

// ReclaimExpired scans the lease expiry index and returns expired messages
// to their groups. Messages that have exhausted their deliveries are
// dead-lettered instead. Returns the number of leases reclaimed.
func (q *WorkQueue) ReclaimExpired(ctx context.Context, nowMs int64, max int) (int, error) {
	if nowMs <= 0 {
		nowMs = time.Now().UnixMilli()
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	prefix := LeaseIdxPrefix(q.queue)
	low, hi := keyRange(prefix)
	iter, err := q.db.NewIter(&pebble.IterOptions{LowerBound: low, UpperBound: hi})
	if err != nil {
		return 0, err
	}
	defer iter.Close()

	b := q.db.NewBatch()
	defer b.Close()
	reclaimed := 0
	for ok := iter.First(); ok; ok = iter.Next() {
		k := iter.Key()
		if len(k) < len(prefix)+8+1 {
			continue
		}
		exp := int64(binary.BigEndian.Uint64(k[len(prefix) : len(prefix)+8]))
		if exp > nowMs {
			break
		}
		group := string(k[len(prefix)+8:])

		// a later Extend leaves the old index entry behind; only honor the
		// index when it matches the live lease
		leaseSeq, leaseExp, okLease := q.readLease(group)
		if err := b.Delete(append([]byte(nil), k...), nil); err != nil {
			return reclaimed, err
		}
		if !okLease || leaseExp != exp {
			continue
		}
		if err := b.Delete(LeaseKey(q.queue, group), nil); err != nil {
			return reclaimed, err
		}

		val, errGet := q.db.Get(MsgKey(q.queue, leaseSeq))
		if errGet != nil {
			continue
		}
		msg, okDec := DecodeMessage(val)
		if !okDec {
			continue
		}
		if msg.Deliveries >= q.maxDeliveries {
			if err := q.deadLetter(b, leaseSeq, msg, nil); err != nil {
				return reclaimed, err
			}
		} else {
			if err := b.Set(ReadyKey(q.queue, group, leaseSeq), nil, nil); err != nil {
				return reclaimed, err
			}
		}
		reclaimed++
		if max > 0 && reclaimed >= max {
			break
		}
	}
	if reclaimed > 0 || b.Count() > 0 {
		if err := q.db.CommitBatch(ctx, b); err != nil {
			return reclaimed, err
		}
	}
	return reclaimed, nil
}

// StartSweeper runs a background loop that promotes due delays and reclaims
// expired leases. Interval is jittered to avoid aligned sweeps across queues.
func (q *WorkQueue) StartSweeper(interval time.Duration, maxPerTick int) {
	if q.sweepStop != nil {
		return
	}
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	if maxPerTick <= 0 {
		maxPerTick = 1024
	}
	q.sweepIntv = interval
	q.sweepMax = maxPerTick
	q.sweepStop = make(chan struct{})
	go func() {
		rng := rand.New(rand.NewSource(time.Now().UnixNano()))
		for {
			select {
			case <-q.sweepStop:
				return
			case <-time.After(interval + time.Duration(rng.Int63n(int64(interval/10+1)))):
				now := time.Now().UnixMilli()
				q.mu.Lock()
				_ = q.promoteDue(context.Background(), now, maxPerTick)
				q.mu.Unlock()
				_, _ = q.ReclaimExpired(context.Background(), now, maxPerTick)
			}
		}
	}()
}

// StopSweeper stops the background sweeper.
func (q *WorkQueue) StopSweeper() {
	if q.sweepStop != nil {
		close(q.sweepStop)
		q.sweepStop = nil
	}
}
