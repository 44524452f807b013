package taskqueue

import (
	"context"
	"time"

	"github.com/nmarcet/conveyor/internal/workqueue"
)

// EmbeddedTransport implements QueueTransport on the Pebble work queue.
type EmbeddedTransport struct {
	q        *workqueue.WorkQueue
	pollWait time.Duration
}

// EmbeddedQueueOptions configure the embedded transport.
type EmbeddedQueueOptions struct {
	PollWait time.Duration // lease retry granularity while waiting (default 50ms)
	Sweep    time.Duration // lease sweeper interval; 0 disables the sweeper
}

// NewEmbeddedTransport wraps an open work queue and optionally starts its
// lease sweeper.
func NewEmbeddedTransport(q *workqueue.WorkQueue, opts EmbeddedQueueOptions) *EmbeddedTransport {
	if opts.PollWait <= 0 {
		opts.PollWait = 50 * time.Millisecond
	}
	if opts.Sweep > 0 {
		q.StartSweeper(opts.Sweep, 1024)
	}
	return &EmbeddedTransport{q: q, pollWait: opts.PollWait}
}

func (t *EmbeddedTransport) Enqueue(ctx context.Context, group, dedupKey string, payload []byte) (bool, error) {
	_, ok, err := t.q.Enqueue(ctx, group, dedupKey, nil, payload, 0, 0)
	return ok, err
}

func (t *EmbeddedTransport) Lease(ctx context.Context, visibility, wait time.Duration) (*LeasedMessage, error) {
	deadline := time.Now().Add(wait)
	for {
		msgs, err := t.q.Lease(ctx, 1, visibility.Milliseconds(), 0)
		if err != nil {
			return nil, err
		}
		if len(msgs) > 0 {
			m := msgs[0]
			return &LeasedMessage{
				Receipt:    Receipt{Group: m.Group, Seq: m.Seq},
				Payload:    m.Payload,
				Deliveries: int(m.Deliveries),
				ExpiresAt:  time.UnixMilli(m.ExpiryMs),
			}, nil
		}
		if wait <= 0 || time.Now().After(deadline) {
			return nil, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(t.pollWait):
		}
	}
}

func (t *EmbeddedTransport) Ack(ctx context.Context, r Receipt) error {
	return t.q.Ack(ctx, r.Group, r.Seq)
}

func (t *EmbeddedTransport) Extend(ctx context.Context, r Receipt, visibility time.Duration) error {
	return t.q.Extend(ctx, r.Group, r.Seq, visibility.Milliseconds(), 0)
}

func (t *EmbeddedTransport) PeekDeadLetters(ctx context.Context, n int) ([]DeadLetter, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dls, err := t.q.PeekDeadLetters(n)
	if err != nil {
		return nil, err
	}
	out := make([]DeadLetter, len(dls))
	for i, dl := range dls {
		out[i] = DeadLetter{
			Receipt:    Receipt{Group: dl.Group, Seq: dl.Seq},
			Payload:    dl.Payload,
			Deliveries: int(dl.Deliveries),
		}
	}
	return out, nil
}

func (t *EmbeddedTransport) Redrive(ctx context.Context, seq uint64) error {
	return t.q.RedriveDeadLetter(ctx, seq)
}

func (t *EmbeddedTransport) Depth(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return t.q.Depth()
}

func (t *EmbeddedTransport) InFlight(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return t.q.InFlight()
}

func (t *EmbeddedTransport) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := t.q.Depth()
	return err
}

func (t *EmbeddedTransport) Close() error {
	t.q.StopSweeper()
	return nil
}
