package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	cfgpkg "github.com/nmarcet/conveyor/internal/config"
	"github.com/nmarcet/conveyor/internal/faults"
	"github.com/nmarcet/conveyor/internal/filter"
	"github.com/nmarcet/conveyor/internal/health"
	"github.com/nmarcet/conveyor/internal/logstream"
	"github.com/nmarcet/conveyor/internal/retry"
	"github.com/nmarcet/conveyor/internal/runtime"
	"github.com/nmarcet/conveyor/internal/scheduler"
	httpserver "github.com/nmarcet/conveyor/internal/server/http"
	"github.com/nmarcet/conveyor/internal/taskqueue"
	"github.com/nmarcet/conveyor/internal/workqueue"
	"github.com/nmarcet/conveyor/pkg/log"
)

// Options configure a Manager. Decomposer is required; Handler is
// optional and enables the dequeue-side task workers in the same process.
type Options struct {
	Config       cfgpkg.Config
	Logger       log.Logger
	Decomposer   scheduler.Decomposer
	Handler      scheduler.TaskHandler
	Inline       scheduler.InlineHandler
	FlushTimeout time.Duration // producer flush bound on shutdown (default 10s)
	HTTP         bool          // serve the ops endpoints
}

// topicChecker is implemented by transports that can verify a topic exists.
type topicChecker interface {
	CheckTopic(ctx context.Context, topic string) error
}

// Manager owns the component graph and enforces the startup and shutdown
// order. Startup: storage, transports, producer, consumer assignment,
// queue client, scheduler loops. Shutdown: stop pulls, drain workers via
// stop sentinels, flush producer, close consumer with a final commit,
// release the queue client.
type Manager struct {
	opts     Options
	logger   log.Logger
	rt       *runtime.Runtime
	lt       logstream.LogTransport
	producer *logstream.Producer
	consumer *logstream.Consumer
	queue    *taskqueue.Client
	wq       *workqueue.WorkQueue
	recorder *faults.Recorder
	metrics  *health.Metrics
	checker  *health.Checker
	sched    *scheduler.Scheduler
	runner   *scheduler.TaskRunner
	httpSrv  *httpserver.Server
}

// New builds the component graph without starting any loop. On error,
// everything already opened is released.
func New(opts Options) (*Manager, error) {
	if opts.Decomposer == nil {
		return nil, errors.New("lifecycle: a decomposer is required")
	}
	if opts.Logger == nil {
		opts.Logger = log.NewNopLogger()
	}
	if opts.FlushTimeout <= 0 {
		opts.FlushTimeout = 10 * time.Second
	}
	cfg := opts.Config

	rt, err := runtime.Open(cfg)
	if err != nil {
		return nil, err
	}
	m := &Manager{opts: opts, logger: opts.Logger.With(log.Component("lifecycle")), rt: rt}

	m.lt, err = rt.OpenLogTransport()
	if err != nil {
		_ = rt.Close()
		return nil, err
	}
	flushWindow := time.Duration(cfg.Log.FlushWindowMs) * time.Millisecond
	m.producer = logstream.NewProducer(m.lt,
		logstream.WithFlushWindow(flushWindow),
		logstream.WithProducerLogger(opts.Logger))
	m.consumer = logstream.NewConsumer(m.lt, cfg.Log.Group,
		logstream.WithAssignTimeout(time.Duration(cfg.Log.AssignTimeoutMs)*time.Millisecond),
		logstream.WithConsumerLogger(opts.Logger))

	var wq *workqueue.WorkQueue
	m.queue, wq, err = rt.OpenQueue()
	if err != nil {
		_ = m.lt.Close()
		_ = rt.Close()
		return nil, err
	}
	m.recorder = faults.NewRecorder(m.lt, cfg.Log.ErrorTopic, "conveyor", opts.Logger)
	if et, ok := m.lt.(*logstream.EmbeddedTransport); ok {
		// open the error topic now so its existence probe holds before
		// the first mirror write
		if err := et.EnsureTopic(cfg.Log.ErrorTopic); err != nil {
			m.release()
			return nil, err
		}
	}

	flt, err := filter.Compile(cfg.Filter)
	if err != nil {
		m.release()
		return nil, err
	}

	m.wq = wq
	m.metrics = health.NewMetrics()
	m.metrics.ObserveQueue(
		func() float64 { n, _ := m.queue.Depth(context.Background()); return float64(n) },
		func() float64 { n, _ := m.queue.InFlight(context.Background()); return float64(n) },
		func() float64 { n, _ := wq.DeadLetters(); return float64(n) },
	)

	policy := retry.Policy{
		MaxAttempts: cfg.Retry.MaxAttempts,
		Base:        time.Duration(cfg.Retry.BaseMs) * time.Millisecond,
		Cap:         time.Duration(cfg.Retry.CapMs) * time.Millisecond,
	}
	schedOpts := []scheduler.Option{
		scheduler.WithRetryPolicy(policy),
		scheduler.WithObserver(m.metrics),
		scheduler.WithLogger(opts.Logger),
		scheduler.WithFilter(flt),
	}
	if opts.Inline != nil {
		schedOpts = append(schedOpts, scheduler.WithInlineHandler(opts.Inline))
	}
	m.sched = scheduler.New(
		scheduler.Config{Workers: cfg.Scheduler.Workers, QueueFactor: cfg.Scheduler.QueueFactor},
		m.consumer, m.queue, m.recorder, opts.Decomposer, schedOpts...)
	m.metrics.ObserveBuffered(func() float64 { return float64(m.sched.Buffered()) })

	if opts.Handler != nil {
		m.runner = scheduler.NewTaskRunner(m.queue, opts.Handler, m.recorder,
			scheduler.WithTaskWorkers(cfg.Runner.Workers),
			scheduler.WithLeaseWait(time.Duration(cfg.Runner.LeaseWaitMs)*time.Millisecond),
			scheduler.WithTaskObserver(m.metrics),
			scheduler.WithTaskLogger(opts.Logger))
	}

	m.checker = health.NewChecker(0)
	m.checker.Add("storage", rt.CheckHealth)
	m.checker.Add("log", m.lt.Ping)
	m.checker.Add("queue", m.queue.Ping)
	if tc, ok := m.lt.(topicChecker); ok {
		topic, errorTopic := cfg.Log.Topic, cfg.Log.ErrorTopic
		m.checker.Add("topic", func(ctx context.Context) error {
			return tc.CheckTopic(ctx, topic)
		})
		m.checker.Add("error-topic", func(ctx context.Context) error {
			return tc.CheckTopic(ctx, errorTopic)
		})
	}
	m.checker.Add("queue-exists", func(ctx context.Context) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !wq.Exists() {
			return fmt.Errorf("queue %q does not exist", cfg.Queue.Name)
		}
		return nil
	})

	if opts.HTTP {
		m.httpSrv = httpserver.New(httpserver.Options{
			Runtime:   rt,
			Checker:   m.checker,
			Metrics:   m.metrics,
			Queue:     m.queue,
			WorkQueue: wq,
			Producer:  m.producer,
			Topic:     cfg.Log.Topic,
			Scheduler: m.sched,
		}, opts.Logger)
	}
	return m, nil
}

// Producer exposes the process producer for callers feeding the stream.
func (m *Manager) Producer() *logstream.Producer { return m.producer }

// Queue exposes the queue client for callers draining tasks elsewhere.
func (m *Manager) Queue() *taskqueue.Client { return m.queue }

// Run starts the loops and blocks until ctx is cancelled or startup
// fails. AssignmentTimeoutError surfaces unchanged so callers can exit
// non-zero.
func (m *Manager) Run(ctx context.Context) error {
	defer m.release()

	if err := m.consumer.Start(ctx); err != nil {
		m.logger.Error("consumer failed to reach assignment", log.Err(err))
		return err
	}

	// the poll context outlives ctx: shutdown cancels it only after the
	// workers drained, so in-flight dispositions can still commit
	pollCtx, pollCancel := context.WithCancel(context.Background())
	m.sched.Start(pollCtx)
	if m.runner != nil {
		m.runner.Start(pollCtx)
	}
	m.logger.Info("consumer core running",
		log.Str("topic", m.opts.Config.Log.Topic),
		log.Str("group", m.opts.Config.Log.Group),
		log.Int("workers", m.opts.Config.Scheduler.Workers))

	httpErr := make(chan error, 1)
	if m.httpSrv != nil {
		go func() { httpErr <- m.httpSrv.ListenAndServe(ctx, m.opts.Config.HTTP.Addr) }()
	}
	retentionStop := m.startRetention(pollCtx)

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-httpErr:
		if err != nil {
			m.logger.Error("ops server failed", log.Err(err))
			runErr = err
		}
	}

	m.shutdown(pollCancel, retentionStop)
	return runErr
}

func (m *Manager) startRetention(ctx context.Context) func() {
	ret := m.opts.Config.Retention
	et, ok := m.lt.(*logstream.EmbeddedTransport)
	if !ok || (ret.MaxAgeMs <= 0 && ret.MaxBytes <= 0) {
		return func() {}
	}
	interval := time.Duration(ret.IntervalMs) * time.Millisecond
	if interval <= 0 {
		interval = time.Minute
	}
	stop := make(chan struct{})
	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ctx.Done():
				return
			case <-t.C:
				var cutoff int64
				if ret.MaxAgeMs > 0 {
					cutoff = time.Now().UnixMilli() - ret.MaxAgeMs
				}
				if n, err := et.Trim(ctx, cutoff, ret.MaxBytes); err != nil {
					m.logger.Warn("log trim failed", log.Err(err))
				} else if n > 0 {
					m.logger.Debug("log trimmed", log.Int("entries", n))
				}
			}
		}
	}()
	return func() { close(stop) }
}

func (m *Manager) shutdown(pollCancel context.CancelFunc, retentionStop func()) {
	m.logger.Info("shutting down")
	retentionStop()

	// 1. stop accepting and drain workers (one sentinel per worker)
	m.sched.Stop()
	if m.runner != nil {
		m.runner.Stop()
	}

	// 2. flush the producer within the bounded window
	flushCtx, cancel := context.WithTimeout(context.Background(), m.opts.FlushTimeout)
	if err := m.producer.Flush(flushCtx); err != nil {
		m.logger.Warn("producer flush incomplete", log.Err(err))
	}
	cancel()

	// 3. unblock the poll loop and close the consumer (final commit)
	pollCancel()
	if err := m.consumer.Close(); err != nil {
		m.logger.Warn("consumer close", log.Err(err))
	}
	m.sched.AwaitPull()

	// 4. release the queue client
	if err := m.queue.Close(); err != nil {
		m.logger.Warn("queue close", log.Err(err))
	}
	if m.httpSrv != nil {
		m.httpSrv.Close()
	}
	m.logger.Info("shutdown complete")
}

func (m *Manager) release() {
	if m.rt != nil {
		_ = m.rt.Close()
		m.rt = nil
	}
}
