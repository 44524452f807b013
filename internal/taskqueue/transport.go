package taskqueue

import (
	"context"
	"time"
)

// Receipt identifies one leased delivery for ack and lease extension.
type Receipt struct {
	Group string
	Seq   uint64
}

// LeasedMessage is one raw queue delivery.
type LeasedMessage struct {
	Receipt    Receipt
	Payload    []byte
	Deliveries int
	ExpiresAt  time.Time
}

// DeadLetter is a dead-lettered queue message.
type DeadLetter struct {
	Receipt    Receipt
	Payload    []byte
	Deliveries int
}

// QueueTransport is the client contract against an ordered queue with
// visibility-timeout leasing. Safe for concurrent use.
type QueueTransport interface {
	// Enqueue submits one message under its ordering group. A non-empty
	// dedupKey suppresses duplicates inside the transport's dedup window;
	// suppressed submissions return ok=false without error.
	Enqueue(ctx context.Context, group, dedupKey string, payload []byte) (ok bool, err error)

	// Lease returns at most one message, hidden from other consumers for
	// the visibility window, blocking up to wait. Returns nil when nothing
	// became available.
	Lease(ctx context.Context, visibility, wait time.Duration) (*LeasedMessage, error)

	// Ack permanently removes a delivered message. Call only after full
	// success. Failing to ack within the visibility window causes
	// redelivery.
	Ack(ctx context.Context, r Receipt) error

	// Extend pushes the visibility window forward for a delivery still in
	// progress.
	Extend(ctx context.Context, r Receipt, visibility time.Duration) error

	// PeekDeadLetters inspects up to n dead letters without consuming them.
	PeekDeadLetters(ctx context.Context, n int) ([]DeadLetter, error)

	// Redrive moves a dead letter back into its group's pending order.
	Redrive(ctx context.Context, seq uint64) error

	// Depth is the count of messages available for lease.
	Depth(ctx context.Context) (int, error)

	// InFlight is the count of active leases.
	InFlight(ctx context.Context) (int, error)

	// Ping verifies connectivity to the queue.
	Ping(ctx context.Context) error

	Close() error
}
