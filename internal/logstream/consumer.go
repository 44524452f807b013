package logstream

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/nmarcet/conveyor/pkg/log"
)

// State tracks the consumer lifecycle.
type State int32

const (
	StateJoining State = iota
	StateAssigned
	StatePolling
	StateProcessing
	StateCommitted
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateJoining:
		return "JOINING"
	case StateAssigned:
		return "ASSIGNED"
	case StatePolling:
		return "POLLING"
	case StateProcessing:
		return "PROCESSING"
	case StateCommitted:
		return "COMMITTED"
	case StateClosing:
		return "CLOSING"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// ErrConsumerClosed is returned by Poll after Close.
var ErrConsumerClosed = errors.New("logstream: consumer closed")

// Consumer pulls envelopes from the log with manual acknowledgment. Poll
// must only be called from a single loop; Commit and Close are safe from
// other goroutines.
type Consumer struct {
	transport     LogTransport
	group         string
	instanceID    string
	assignTimeout time.Duration
	state         atomic.Int32
	logger        log.Logger
}

// ConsumerOption configures a Consumer.
type ConsumerOption func(*Consumer)

// WithAssignTimeout bounds how long Start waits for a partition assignment.
func WithAssignTimeout(d time.Duration) ConsumerOption {
	return func(c *Consumer) {
		if d > 0 {
			c.assignTimeout = d
		}
	}
}

// WithConsumerLogger sets the consumer's logger.
func WithConsumerLogger(l log.Logger) ConsumerOption {
	return func(c *Consumer) { c.logger = l }
}

// NewConsumer wraps a transport with the assignment gate and state
// tracking. The default assignment timeout is 30s.
func NewConsumer(t LogTransport, group string, opts ...ConsumerOption) *Consumer {
	c := &Consumer{
		transport:     t,
		group:         group,
		instanceID:    uuid.NewString(),
		assignTimeout: 30 * time.Second,
		logger:        log.NewNopLogger(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// InstanceID identifies this consumer instance within its group.
func (c *Consumer) InstanceID() string { return c.instanceID }

// State returns the current lifecycle state.
func (c *Consumer) State() State { return State(c.state.Load()) }

func (c *Consumer) setState(s State) { c.state.Store(int32(s)) }

// Start blocks until the transport holds at least one partition assignment.
// Failing to reach ASSIGNED within the timeout is a fatal startup error.
func (c *Consumer) Start(ctx context.Context) error {
	c.setState(StateJoining)
	waitCtx, cancel := context.WithTimeout(ctx, c.assignTimeout)
	defer cancel()
	if err := c.transport.WaitAssigned(waitCtx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return &AssignmentTimeoutError{Group: c.group, Timeout: c.assignTimeout}
		}
		return err
	}
	c.setState(StateAssigned)
	c.logger.Info("partition assignment received",
		log.Component("consumer"), log.Str("group", c.group), log.Str("instance", c.instanceID))
	return nil
}

// Poll blocks for the next message. The returned message stays unconsumed
// until Commit is called for it; auto-acknowledgment before processing is
// forbidden.
func (c *Consumer) Poll(ctx context.Context) (Message, error) {
	if s := c.State(); s == StateClosing || s == StateClosed {
		return Message{}, ErrConsumerClosed
	}
	c.setState(StatePolling)
	msg, err := c.transport.Fetch(ctx)
	if err != nil {
		return Message{}, err
	}
	c.setState(StateProcessing)
	return msg, nil
}

// Commit advances the group position past msg. Call only after the message
// has been fully disposed of by the scheduler.
func (c *Consumer) Commit(ctx context.Context, msg Message) error {
	if err := c.transport.Commit(ctx, msg); err != nil {
		return err
	}
	if c.State() == StateProcessing {
		c.setState(StateCommitted)
	}
	return nil
}

// Close commits nothing new, releases the transport, and performs the
// transport's final position flush.
func (c *Consumer) Close() error {
	c.setState(StateClosing)
	err := c.transport.Close()
	c.setState(StateClosed)
	return err
}
