package logstream

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/nmarcet/conveyor/internal/eventlog"
	pebblestore "github.com/nmarcet/conveyor/internal/storage/pebble"
	"github.com/nmarcet/conveyor/pkg/id"
)

// EmbeddedOptions configure the Pebble-backed transport.
type EmbeddedOptions struct {
	Topic      string        // topic the consumer side reads
	Group      string        // consumer group identity
	Partitions int           // partition count for the consume topic (default 1)
	PollWait   time.Duration // blocking granularity for Fetch (default 250ms)
}

// EmbeddedTransport implements LogTransport on the embedded event log. It
// consumes one topic but publishes to any, which lets one transport carry
// both the event stream and the error-record channel.
type EmbeddedTransport struct {
	db   *pebblestore.DB
	opts EmbeddedOptions

	consume []*eventlog.Log

	mu     sync.Mutex
	topics map[string][]*eventlog.Log

	// pos is the fetch position per partition, at or ahead of the committed
	// cursor. Owned by the single poll loop.
	pos []uint64

	closed bool
}

// NewEmbeddedTransport opens the consume topic's partitions and restores
// fetch positions from the group's committed cursors.
func NewEmbeddedTransport(db *pebblestore.DB, opts EmbeddedOptions) (*EmbeddedTransport, error) {
	if opts.Topic == "" {
		return nil, errors.New("logstream: embedded transport needs a topic")
	}
	if opts.Group == "" {
		return nil, errors.New("logstream: embedded transport needs a group")
	}
	if opts.Partitions <= 0 {
		opts.Partitions = 1
	}
	if opts.PollWait <= 0 {
		opts.PollWait = 250 * time.Millisecond
	}

	t := &EmbeddedTransport{
		db:     db,
		opts:   opts,
		topics: make(map[string][]*eventlog.Log),
		pos:    make([]uint64, opts.Partitions),
	}
	logs, err := t.openTopic(opts.Topic, opts.Partitions)
	if err != nil {
		return nil, err
	}
	t.consume = logs
	for i, l := range logs {
		cur, err := l.GetCursor(opts.Group)
		if err != nil {
			return nil, err
		}
		t.pos[i] = cur
	}
	return t, nil
}

func (t *EmbeddedTransport) openTopic(topic string, partitions int) ([]*eventlog.Log, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if logs, ok := t.topics[topic]; ok {
		return logs, nil
	}
	logs := make([]*eventlog.Log, partitions)
	for i := range logs {
		l, err := eventlog.OpenLog(t.db, topic, uint32(i))
		if err != nil {
			return nil, err
		}
		logs[i] = l
	}
	t.topics[topic] = logs
	return logs, nil
}

func partitionFor(key []byte, n int) int {
	if n <= 1 || len(key) == 0 {
		return 0
	}
	h := fnv.New32a()
	_, _ = h.Write(key)
	return int(h.Sum32() % uint32(n))
}

// Publish appends one record. Topics other than the consume topic get a
// single partition, which is all the error channel needs.
func (t *EmbeddedTransport) Publish(ctx context.Context, topic string, key, value []byte, token id.ID) error {
	partitions := 1
	if topic == t.opts.Topic {
		partitions = t.opts.Partitions
	}
	logs, err := t.openTopic(topic, partitions)
	if err != nil {
		return err
	}
	l := logs[partitionFor(key, len(logs))]
	_, err = l.Append(ctx, []eventlog.AppendRecord{{Header: recordHeader(key), Payload: value, Token: token}})
	return err
}

// recordHeader prefixes the partition key with the append time, big-endian
// milliseconds. Retention uses the prefix; Fetch strips it.
func recordHeader(key []byte) []byte {
	h := make([]byte, 8, 8+len(key))
	binary.BigEndian.PutUint64(h, uint64(time.Now().UnixMilli()))
	return append(h, key...)
}

func headerTimestamp(header []byte) (int64, bool) {
	if len(header) < 8 {
		return 0, false
	}
	return int64(binary.BigEndian.Uint64(header[:8])), true
}

func headerKey(header []byte) []byte {
	if len(header) < 8 {
		return header
	}
	return header[8:]
}

// Fetch returns the next unconsumed record across the topic's partitions,
// blocking until one is available or ctx is done.
func (t *EmbeddedTransport) Fetch(ctx context.Context) (Message, error) {
	for {
		if err := ctx.Err(); err != nil {
			return Message{}, err
		}
		for p, l := range t.consume {
			items, err := l.Read(eventlog.ReadOptions{After: t.pos[p], Limit: 1})
			if err != nil {
				return Message{}, &TransportError{Op: "fetch", Err: err}
			}
			if len(items) == 0 {
				continue
			}
			it := items[0]
			t.pos[p] = it.Seq
			return Message{
				Topic:     t.opts.Topic,
				Partition: p,
				Offset:    it.Seq,
				Key:       headerKey(it.Header),
				Value:     it.Payload,
			}, nil
		}
		if len(t.consume) == 1 {
			t.consume[0].WaitForAppend(ctx, t.pos[0], t.opts.PollWait)
			continue
		}
		select {
		case <-ctx.Done():
			return Message{}, ctx.Err()
		case <-time.After(t.opts.PollWait):
		}
	}
}

// Commit durably advances the group cursor. Cursors never regress.
func (t *EmbeddedTransport) Commit(ctx context.Context, msgs ...Message) error {
	for _, m := range msgs {
		if m.Partition < 0 || m.Partition >= len(t.consume) {
			continue
		}
		if err := t.consume[m.Partition].CommitCursor(ctx, t.opts.Group, m.Offset); err != nil {
			return err
		}
	}
	return nil
}

// WaitAssigned returns immediately: the embedded log has no group
// coordinator, the opener owns every partition.
func (t *EmbeddedTransport) WaitAssigned(ctx context.Context) error {
	return ctx.Err()
}

// EnsureTopic opens a publish topic eagerly so existence checks see it
// before its first record arrives.
func (t *EmbeddedTransport) EnsureTopic(topic string) error {
	_, err := t.openTopic(topic, 1)
	return err
}

// CheckTopic reports whether the topic is open in this transport or has
// records in the store.
func (t *EmbeddedTransport) CheckTopic(ctx context.Context, topic string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.mu.Lock()
	_, open := t.topics[topic]
	t.mu.Unlock()
	if open || eventlog.TopicExists(t.db, topic) {
		return nil
	}
	return fmt.Errorf("logstream: topic %q does not exist", topic)
}

// Ping verifies the store is reachable.
func (t *EmbeddedTransport) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := t.db.Get([]byte("ping"))
	if err != nil && !errors.Is(err, pebblestore.ErrNotFound) {
		return &TransportError{Op: "ping", Err: err}
	}
	return nil
}

// Trim applies retention bounds to the consume topic. cutoffMs drops
// entries appended before that time; maxBytes caps the total stored size
// across partitions. Zero disables either bound.
func (t *EmbeddedTransport) Trim(ctx context.Context, cutoffMs, maxBytes int64) (int, error) {
	total := 0
	for _, l := range t.consume {
		if cutoffMs > 0 {
			n, err := l.TrimOlderThan(ctx, cutoffMs, headerTimestamp)
			if err != nil {
				return total, err
			}
			total += n
		}
		if maxBytes > 0 {
			n, err := l.TrimToMaxBytes(ctx, maxBytes/int64(len(t.consume)))
			if err != nil {
				return total, err
			}
			total += n
		}
	}
	return total, nil
}

// Close releases the transport. The Pebble store is owned by the runtime
// and stays open.
func (t *EmbeddedTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}
