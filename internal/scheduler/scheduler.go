package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/nmarcet/conveyor/internal/envelope"
	"github.com/nmarcet/conveyor/internal/faults"
	"github.com/nmarcet/conveyor/internal/logstream"
	"github.com/nmarcet/conveyor/internal/retry"
	"github.com/nmarcet/conveyor/internal/taskqueue"
	"github.com/nmarcet/conveyor/pkg/log"
)

// Decomposer turns one envelope into zero or more tasks. Returning no tasks
// means the envelope needs no fan-out; an optional inline handler may still
// process it. Errors are classified through the retry taxonomy.
type Decomposer interface {
	Decompose(ctx context.Context, env envelope.Envelope) ([]envelope.Task, error)
}

// DecomposerFunc adapts a function to the Decomposer interface.
type DecomposerFunc func(ctx context.Context, env envelope.Envelope) ([]envelope.Task, error)

func (f DecomposerFunc) Decompose(ctx context.Context, env envelope.Envelope) ([]envelope.Task, error) {
	return f(ctx, env)
}

// InlineHandler processes an envelope that decomposed to nothing.
type InlineHandler func(ctx context.Context, env envelope.Envelope) error

// Filter decides whether an envelope is scheduled at all. A filtered-out
// envelope is committed without processing.
type Filter interface {
	Match(env envelope.Envelope) (bool, error)
}

// Config tunes the scheduler.
type Config struct {
	Workers     int // default 4 (mixed workloads; 8-16 for I/O-bound)
	QueueFactor int // bounded queue capacity = Workers × QueueFactor (default 2)
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.QueueFactor <= 0 {
		c.QueueFactor = 2
	}
	return c
}

// item travels over the bounded channel; stop sentinels make workers exit
// after draining everything ahead of them.
type item struct {
	stop bool
	msg  logstream.Message
}

// Scheduler pulls envelopes from the log and dispatches them to a bounded
// worker pool.
type Scheduler struct {
	cfg      Config
	consumer *logstream.Consumer
	queue    *taskqueue.Client
	recorder *faults.Recorder
	decomp   Decomposer
	inline   InlineHandler
	filter   Filter
	policy   retry.Policy
	obs      Observer
	logger   log.Logger

	ch      chan item
	running atomic.Bool
	pullWG  sync.WaitGroup
	workWG  sync.WaitGroup
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithInlineHandler sets the handler for envelopes that decompose to
// nothing.
func WithInlineHandler(h InlineHandler) Option {
	return func(s *Scheduler) { s.inline = h }
}

// WithFilter installs an envelope filter evaluated before scheduling.
func WithFilter(f Filter) Option {
	return func(s *Scheduler) { s.filter = f }
}

// WithRetryPolicy overrides the local retry policy.
func WithRetryPolicy(p retry.Policy) Option {
	return func(s *Scheduler) { s.policy = p }
}

// WithObserver installs instrumentation.
func WithObserver(o Observer) Option {
	return func(s *Scheduler) { s.obs = o }
}

// WithLogger sets the scheduler's logger.
func WithLogger(l log.Logger) Option {
	return func(s *Scheduler) { s.logger = l.With(log.Component("scheduler")) }
}

// New builds a Scheduler. The consumer must already be started (assigned).
func New(cfg Config, consumer *logstream.Consumer, queue *taskqueue.Client, recorder *faults.Recorder, decomp Decomposer, opts ...Option) *Scheduler {
	cfg = cfg.withDefaults()
	s := &Scheduler{
		cfg:      cfg,
		consumer: consumer,
		queue:    queue,
		recorder: recorder,
		decomp:   decomp,
		policy:   retry.DefaultPolicy(),
		obs:      NopObserver{},
		logger:   log.NewNopLogger(),
		ch:       make(chan item, cfg.Workers*cfg.QueueFactor),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Capacity is the bound of the internal queue.
func (s *Scheduler) Capacity() int { return cap(s.ch) }

// Buffered is the current number of items waiting in the internal queue.
func (s *Scheduler) Buffered() int { return len(s.ch) }

// Start launches the worker pool and the pull loop.
func (s *Scheduler) Start(ctx context.Context) {
	s.running.Store(true)
	for i := 0; i < s.cfg.Workers; i++ {
		s.workWG.Add(1)
		go s.worker(ctx, i)
	}
	s.pullWG.Add(1)
	go s.pullLoop(ctx)
}

// pullLoop is the only caller of the consumer handle.
func (s *Scheduler) pullLoop(ctx context.Context) {
	defer s.pullWG.Done()
	for s.running.Load() {
		msg, err := s.consumer.Poll(ctx)
		if err != nil {
			if errors.Is(err, logstream.ErrConsumerClosed) || ctx.Err() != nil {
				return
			}
			s.logger.Warn("poll failed", log.Err(err))
			continue
		}
		s.obs.EnvelopeConsumed()
		// blocks when the bounded queue is full, pausing further polls
		select {
		case s.ch <- item{msg: msg}:
		case <-ctx.Done():
			return
		}
	}
}

func (s *Scheduler) worker(ctx context.Context, n int) {
	defer s.workWG.Done()
	for it := range s.ch {
		if it.stop {
			return
		}
		s.obs.WorkerBusy(1)
		s.handle(ctx, it.msg)
		s.obs.WorkerBusy(-1)
	}
}

// handle disposes of one envelope end to end.
func (s *Scheduler) handle(ctx context.Context, msg logstream.Message) {
	env, err := envelope.Decode(msg.Value)
	if err != nil {
		// malformed payloads can never succeed: mirror, then advance
		s.mirrorAndCommit(ctx, msg, "decode", retry.Permanent(err))
		return
	}

	if s.filter != nil {
		match, ferr := s.filter.Match(env)
		if ferr != nil {
			s.mirrorAndCommit(ctx, msg, "filter", retry.Permanent(ferr))
			return
		}
		if !match {
			s.commit(ctx, msg)
			return
		}
	}

	err = s.policy.Do(ctx, func() error {
		return s.process(ctx, env)
	})
	switch retry.Classify(err) {
	case retry.ClassInfrastructure:
		// no ack; the transport redelivers after reconnect
		s.logger.Warn("infrastructure failure, leaving envelope unacknowledged",
			log.Str("entity_id", env.EntityID), log.Err(err))
	case retry.ClassPermanent:
		s.mirrorAndCommit(ctx, msg, "scheduler", err)
	default:
		s.commit(ctx, msg)
	}
}

// process decomposes the envelope and enqueues every task before the caller
// may acknowledge. Success with zero tasks falls through to the inline
// handler.
func (s *Scheduler) process(ctx context.Context, env envelope.Envelope) error {
	if ctx.Err() != nil {
		return retry.Infra(ctx.Err())
	}
	tasks, err := s.decomp.Decompose(ctx, env)
	if err != nil {
		return fmt.Errorf("decompose %s: %w", env.EntityID, err)
	}
	if len(tasks) == 0 {
		if s.inline != nil {
			return s.inline(ctx, env)
		}
		return nil
	}
	meta := map[string]interface{}{}
	if env.Organization != "" {
		meta["organization"] = env.Organization
	}
	if env.Domain != "" {
		meta["domain"] = env.Domain
	}
	n, err := s.queue.Enqueue(ctx, env.EntityID, tasks, meta)
	if err != nil {
		// partial enqueue: the envelope stays unacknowledged and redelivery
		// re-enqueues; the dedup window suppresses the duplicates
		return retry.Transient(fmt.Errorf("enqueued %d of %d tasks: %w", n, len(tasks), err))
	}
	s.obs.TasksEnqueued(n)
	return nil
}

func (s *Scheduler) commit(ctx context.Context, msg logstream.Message) {
	if err := s.consumer.Commit(ctx, msg); err != nil {
		s.logger.Error("commit failed", log.Err(err))
		return
	}
	s.obs.EnvelopeCommitted()
}

// mirrorAndCommit writes the Error Record first and advances the log
// position only when the mirror write succeeded; a failed mirror keeps the
// envelope unacknowledged so the transport redelivers it.
func (s *Scheduler) mirrorAndCommit(ctx context.Context, msg logstream.Message, stage string, cause error) {
	if err := s.recorder.Record(ctx, msg.Value, stage, cause); err != nil {
		s.logger.Error("mirror write failed, holding envelope", log.Str("stage", stage), log.Err(err))
		return
	}
	s.obs.EnvelopeMirrored()
	s.commit(ctx, msg)
}

// Stop performs the ordered drain: stop accepting new polls, then push one
// stop sentinel per worker so each exits after the work ahead of it. An
// in-flight poll is not interrupted; cancel its context and call AwaitPull
// once the consumer is closed.
func (s *Scheduler) Stop() {
	if !s.running.Swap(false) {
		return
	}
	for i := 0; i < s.cfg.Workers; i++ {
		s.ch <- item{stop: true}
	}
	s.workWG.Wait()
}

// AwaitPull blocks until the pull loop has exited.
func (s *Scheduler) AwaitPull() {
	s.pullWG.Wait()
}
