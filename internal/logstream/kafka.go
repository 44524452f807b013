package logstream

import (
	"context"
	"fmt"
	"sync"
	"time"

	kgo "github.com/segmentio/kafka-go"

	"github.com/nmarcet/conveyor/pkg/id"
)

// KafkaOptions configure the Kafka transport.
type KafkaOptions struct {
	Brokers      []string
	Topic        string        // topic the consumer side reads
	Group        string        // consumer group id
	WriteTimeout time.Duration // per-publish durability bound (default 5s)
}

// KafkaTransport implements LogTransport over segmentio/kafka-go: a Reader
// with manual commits for the consume side and per-topic hash-balanced
// Writers for publishing. Group rebalancing and partition assignment are
// delegated to the reader's group coordinator.
type KafkaTransport struct {
	opts   KafkaOptions
	reader *kgo.Reader

	mu      sync.Mutex
	writers map[string]*kgo.Writer
}

// NewKafkaTransport builds the reader. Writers are created lazily per topic.
func NewKafkaTransport(opts KafkaOptions) *KafkaTransport {
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 5 * time.Second
	}
	r := kgo.NewReader(kgo.ReaderConfig{
		Brokers:        opts.Brokers,
		Topic:          opts.Topic,
		GroupID:        opts.Group,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0, // manual commits only
	})
	return &KafkaTransport{
		opts:    opts,
		reader:  r,
		writers: make(map[string]*kgo.Writer),
	}
}

func (t *KafkaTransport) writer(topic string) *kgo.Writer {
	t.mu.Lock()
	defer t.mu.Unlock()
	if w, ok := t.writers[topic]; ok {
		return w
	}
	w := &kgo.Writer{
		Addr:         kgo.TCP(t.opts.Brokers...),
		Topic:        topic,
		Balancer:     &kgo.Hash{},
		RequiredAcks: kgo.RequireAll,
		WriteTimeout: t.opts.WriteTimeout,
	}
	t.writers[topic] = w
	return w
}

// Publish writes one record with all-replica acknowledgment. The partition
// key routes through the hash balancer so same-key records keep their
// relative order. The token rides along as a header for broker-side or
// consumer-side dedup.
func (t *KafkaTransport) Publish(ctx context.Context, topic string, key, value []byte, token id.ID) error {
	msg := kgo.Message{
		Key:   key,
		Value: value,
		Time:  time.Now(),
	}
	if !token.IsZero() {
		msg.Headers = append(msg.Headers, kgo.Header{Key: "publish-token", Value: token.Bytes()})
	}
	return t.writer(topic).WriteMessages(ctx, msg)
}

// Fetch blocks for the next uncommitted message.
func (t *KafkaTransport) Fetch(ctx context.Context) (Message, error) {
	m, err := t.reader.FetchMessage(ctx)
	if err != nil {
		return Message{}, &TransportError{Op: "fetch", Err: err}
	}
	return fromKafka(m), nil
}

func fromKafka(m kgo.Message) Message {
	return Message{
		Topic:     m.Topic,
		Partition: m.Partition,
		Offset:    uint64(m.Offset),
		Key:       m.Key,
		Value:     m.Value,
	}
}

// Commit marks the messages consumed for the group.
func (t *KafkaTransport) Commit(ctx context.Context, msgs ...Message) error {
	km := make([]kgo.Message, len(msgs))
	for i, m := range msgs {
		km[i] = kgo.Message{Topic: m.Topic, Partition: m.Partition, Offset: int64(m.Offset)}
	}
	if err := t.reader.CommitMessages(ctx, km...); err != nil {
		return &TransportError{Op: "commit", Err: err}
	}
	return nil
}

// WaitAssigned blocks until the group coordinator hands out partitions for
// the consume topic. The reader exposes no assignment signal, so a probe
// member joins the group, waits for a generation with assignments, and
// leaves; the reader's own join is the next rebalance. An assigned but idle
// topic passes immediately.
func (t *KafkaTransport) WaitAssigned(ctx context.Context) error {
	cg, err := kgo.NewConsumerGroup(kgo.ConsumerGroupConfig{
		ID:      t.opts.Group,
		Brokers: t.opts.Brokers,
		Topics:  []string{t.opts.Topic},
	})
	if err != nil {
		return &TransportError{Op: "join group", Err: err}
	}
	defer cg.Close()

	gen, err := cg.Next(ctx)
	if err != nil {
		return err
	}
	if len(gen.Assignments[t.opts.Topic]) == 0 {
		return &TransportError{Op: "assignment",
			Err: fmt.Errorf("group %q holds no partitions of topic %q", t.opts.Group, t.opts.Topic)}
	}
	return nil
}

// CheckTopic verifies the topic exists on the cluster with at least one
// partition.
func (t *KafkaTransport) CheckTopic(ctx context.Context, topic string) error {
	if len(t.opts.Brokers) == 0 {
		return &TransportError{Op: "metadata", Err: fmt.Errorf("no brokers configured")}
	}
	conn, err := kgo.DialContext(ctx, "tcp", t.opts.Brokers[0])
	if err != nil {
		return &TransportError{Op: "metadata", Err: err}
	}
	defer conn.Close()
	parts, err := conn.ReadPartitions(topic)
	if err != nil {
		return &TransportError{Op: "metadata", Err: err}
	}
	if len(parts) == 0 {
		return &TransportError{Op: "metadata", Err: fmt.Errorf("topic %q has no partitions", topic)}
	}
	return nil
}

// Ping dials the first broker to verify connectivity.
func (t *KafkaTransport) Ping(ctx context.Context) error {
	if len(t.opts.Brokers) == 0 {
		return &TransportError{Op: "ping", Err: context.Canceled}
	}
	conn, err := kgo.DialContext(ctx, "tcp", t.opts.Brokers[0])
	if err != nil {
		return &TransportError{Op: "ping", Err: err}
	}
	return conn.Close()
}

// Close closes the reader (performing the group's final commit sync) and
// every writer.
func (t *KafkaTransport) Close() error {
	err := t.reader.Close()
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, w := range t.writers {
		if cerr := w.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}
