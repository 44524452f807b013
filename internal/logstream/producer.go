package logstream

import (
	"context"
	"math/rand"
	"strconv"
	"time"

	"github.com/nmarcet/conveyor/internal/envelope"
	"github.com/nmarcet/conveyor/pkg/id"
	"github.com/nmarcet/conveyor/pkg/log"
)

// Producer publishes envelopes to the durable log. One instance per process;
// safe for concurrent callers.
type Producer struct {
	transport   LogTransport
	flushWindow time.Duration
	gen         *id.Generator
	logger      log.Logger
}

// ProducerOption configures a Producer.
type ProducerOption func(*Producer)

// WithFlushWindow bounds how long a publish may take before it fails with a
// DeliveryError.
func WithFlushWindow(d time.Duration) ProducerOption {
	return func(p *Producer) {
		if d > 0 {
			p.flushWindow = d
		}
	}
}

// WithProducerLogger sets the producer's logger.
func WithProducerLogger(l log.Logger) ProducerOption {
	return func(p *Producer) { p.logger = l }
}

// NewProducer wraps a transport with validation, idempotent publish tokens,
// and the bounded flush window (default 5s).
func NewProducer(t LogTransport, opts ...ProducerOption) *Producer {
	p := &Producer{
		transport:   t,
		flushWindow: 5 * time.Second,
		gen:         id.NewGenerator(),
		logger:      log.NewNopLogger(),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Publish validates and publishes one envelope. The partition key decides
// routing: EntityKey keeps per-entity ordering, SpreadKey spreads
// order-independent traffic. Fails with *DeliveryError when the log does not
// durably accept the write within the flush window.
func (p *Producer) Publish(ctx context.Context, topic string, env envelope.Envelope, partitionKey []byte) error {
	if err := env.Validate(); err != nil {
		return err
	}
	value, err := envelope.Encode(env)
	if err != nil {
		return err
	}

	pubCtx, cancel := context.WithTimeout(ctx, p.flushWindow)
	defer cancel()
	if err := p.transport.Publish(pubCtx, topic, partitionKey, value, p.gen.Next()); err != nil {
		p.logger.Warn("publish failed",
			log.Component("producer"),
			log.Str("topic", topic),
			log.Str("entity_id", env.EntityID),
			log.Err(err))
		return &DeliveryError{Topic: topic, Window: p.flushWindow, Err: err}
	}
	return nil
}

// Flush drains any transport-side buffer within the bounded wait. Transports
// that publish synchronously have nothing to drain.
func (p *Producer) Flush(ctx context.Context) error {
	if f, ok := p.transport.(Flusher); ok {
		return f.Flush(ctx)
	}
	return nil
}

// EntityKey routes all events of one entity to the same partition so their
// relative order is preserved.
func EntityKey(env envelope.Envelope) []byte {
	return []byte(env.EntityID)
}

// SpreadKey routes order-independent, high-volume events across partitions
// evenly using a random bucket.
func SpreadKey() []byte {
	return []byte(strconv.FormatUint(rand.Uint64(), 36))
}
