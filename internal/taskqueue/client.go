package taskqueue

import (
	"context"
	"fmt"
	"time"

	"github.com/nmarcet/conveyor/internal/envelope"
	"github.com/nmarcet/conveyor/pkg/log"
)

// VisibilityConfig maps task names to their visibility window. The window
// must cover the worst-case processing latency for the class: around 60s
// for simple remote calls, up to 900s for inference-class work.
type VisibilityConfig struct {
	Default time.Duration
	PerTask map[string]time.Duration
}

// For returns the visibility window for a task name.
func (v VisibilityConfig) For(taskName string) time.Duration {
	if d, ok := v.PerTask[taskName]; ok && d > 0 {
		return d
	}
	if v.Default > 0 {
		return v.Default
	}
	return 60 * time.Second
}

// LeasedTask is one decoded task under an active lease.
type LeasedTask struct {
	Task       envelope.Task
	Receipt    Receipt
	Deliveries int
	ExpiresAt  time.Time
}

// Client is the task-side API over a QueueTransport. Safe for concurrent
// use.
type Client struct {
	transport   QueueTransport
	visibility  VisibilityConfig
	dedupWindow time.Duration
	logger      log.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithVisibility sets per-class visibility windows.
func WithVisibility(v VisibilityConfig) ClientOption {
	return func(c *Client) { c.visibility = v }
}

// WithDedupWindow sets the window used when deriving dedup keys.
func WithDedupWindow(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.dedupWindow = d
		}
	}
}

// WithClientLogger sets the client's logger.
func WithClientLogger(l log.Logger) ClientOption {
	return func(c *Client) { c.logger = l }
}

// NewClient wraps a QueueTransport. The default dedup window is 1s.
func NewClient(t QueueTransport, opts ...ClientOption) *Client {
	c := &Client{
		transport:   t,
		dedupWindow: time.Second,
		logger:      log.NewNopLogger(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Enqueue submits the decomposed tasks of one entity. Each task carries its
// group key (ordering scope) and dedup key (replay suppression). Metadata is
// merged into every task. Returns the number actually enqueued; duplicates
// suppressed by the dedup window are not counted.
func (c *Client) Enqueue(ctx context.Context, entityID string, tasks []envelope.Task, metadata map[string]interface{}) (int, error) {
	enqueued := 0
	for i := range tasks {
		t := tasks[i]
		if t.EntityID == "" {
			t.EntityID = entityID
		}
		t.TotalTasks = len(tasks)
		if len(metadata) > 0 {
			merged := make(map[string]interface{}, len(t.Metadata)+len(metadata))
			for k, v := range metadata {
				merged[k] = v
			}
			for k, v := range t.Metadata {
				merged[k] = v
			}
			t.Metadata = merged
		}
		if err := t.Validate(); err != nil {
			return enqueued, fmt.Errorf("task %d: %w", i, err)
		}
		payload, err := envelope.EncodeTask(t)
		if err != nil {
			return enqueued, fmt.Errorf("encode task %q: %w", t.TaskName, err)
		}
		ok, err := c.transport.Enqueue(ctx, t.GroupKey(), t.DedupKey(c.dedupWindow), payload)
		if err != nil {
			return enqueued, fmt.Errorf("enqueue %q: %w", t.GroupKey(), err)
		}
		if ok {
			enqueued++
		} else {
			c.logger.Debug("duplicate task suppressed",
				log.Component("taskqueue"),
				log.Str("group_key", t.GroupKey()))
		}
	}
	return enqueued, nil
}

// Lease returns at most one task, blocking up to wait. The visibility
// window is chosen per task class. Returns nil when nothing is available.
func (c *Client) Lease(ctx context.Context, wait time.Duration) (*LeasedTask, error) {
	msg, err := c.transport.Lease(ctx, c.visibility.For(""), wait)
	if err != nil || msg == nil {
		return nil, err
	}
	task, err := envelope.DecodeTask(msg.Payload)
	if err != nil {
		// an undecodable payload can never succeed; leave it to the
		// delivery budget and surface the failure
		return nil, fmt.Errorf("decode leased task %s/%d: %w", msg.Receipt.Group, msg.Receipt.Seq, err)
	}
	// Deliveries includes the lease being handed out; RetryCount is prior
	// attempts only.
	task.RetryCount = msg.Deliveries - 1
	lt := &LeasedTask{
		Task:       task,
		Receipt:    msg.Receipt,
		Deliveries: msg.Deliveries,
		ExpiresAt:  msg.ExpiresAt,
	}
	// adjust the lease when this class needs a longer window than the
	// transport's initial one
	if want := c.visibility.For(task.TaskName); want > time.Until(lt.ExpiresAt) {
		if err := c.transport.Extend(ctx, lt.Receipt, want); err == nil {
			lt.ExpiresAt = time.Now().Add(want)
		}
	}
	return lt, nil
}

// Ack permanently removes a task after full success.
func (c *Client) Ack(ctx context.Context, t *LeasedTask) error {
	return c.transport.Ack(ctx, t.Receipt)
}

// Extend pushes the task's visibility window forward.
func (c *Client) Extend(ctx context.Context, t *LeasedTask) error {
	return c.transport.Extend(ctx, t.Receipt, c.visibility.For(t.Task.TaskName))
}

// PeekDeadLetters returns up to n dead-lettered tasks without consuming
// them.
func (c *Client) PeekDeadLetters(ctx context.Context, n int) ([]envelope.Task, error) {
	dls, err := c.transport.PeekDeadLetters(ctx, n)
	if err != nil {
		return nil, err
	}
	out := make([]envelope.Task, 0, len(dls))
	for _, dl := range dls {
		task, err := envelope.DecodeTask(dl.Payload)
		if err != nil {
			continue
		}
		task.RetryCount = dl.Deliveries
		out = append(out, task)
	}
	return out, nil
}

// Depth reports the number of leasable tasks.
func (c *Client) Depth(ctx context.Context) (int, error) { return c.transport.Depth(ctx) }

// InFlight reports the number of active leases.
func (c *Client) InFlight(ctx context.Context) (int, error) { return c.transport.InFlight(ctx) }

// Ping verifies queue connectivity.
func (c *Client) Ping(ctx context.Context) error { return c.transport.Ping(ctx) }

// Close releases the transport.
func (c *Client) Close() error { return c.transport.Close() }
