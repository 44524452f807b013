package logstream

import (
	"context"

	"github.com/nmarcet/conveyor/pkg/id"
)

// Message is one record fetched from the log. Topic, Partition, and Offset
// identify the position to commit once the message is fully disposed of.
type Message struct {
	Topic     string
	Partition int
	Offset    uint64
	Key       []byte
	Value     []byte
}

// LogTransport is the client contract against a durable partitioned log.
// Publish and Commit are safe for concurrent use; Fetch must only be called
// from a single poll loop per transport handle.
type LogTransport interface {
	// Publish durably appends a record. Key selects the partition. A
	// non-zero token makes retried publishes idempotent on transports that
	// support it.
	Publish(ctx context.Context, topic string, key, value []byte, token id.ID) error

	// Fetch blocks until the next unconsumed record is available or ctx is
	// done.
	Fetch(ctx context.Context) (Message, error)

	// Commit durably advances the consumer group position past the given
	// messages. Positions never regress.
	Commit(ctx context.Context, msgs ...Message) error

	// WaitAssigned blocks until the consumer holds at least one partition
	// assignment or ctx is done.
	WaitAssigned(ctx context.Context) error

	// Ping verifies connectivity to the log.
	Ping(ctx context.Context) error

	Close() error
}

// Flusher is implemented by transports that buffer outbound records.
type Flusher interface {
	Flush(ctx context.Context) error
}
