package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/nmarcet/conveyor/internal/envelope"
	"github.com/nmarcet/conveyor/internal/faults"
	"github.com/nmarcet/conveyor/internal/retry"
	"github.com/nmarcet/conveyor/internal/taskqueue"
	"github.com/nmarcet/conveyor/pkg/log"
)

// TaskHandler processes one leased task. Errors are classified through the
// retry taxonomy; a nil error is full success.
type TaskHandler interface {
	Handle(ctx context.Context, task envelope.Task) (envelope.Outcome, error)
}

// TaskHandlerFunc adapts a function to the TaskHandler interface.
type TaskHandlerFunc func(ctx context.Context, task envelope.Task) (envelope.Outcome, error)

func (f TaskHandlerFunc) Handle(ctx context.Context, task envelope.Task) (envelope.Outcome, error) {
	return f(ctx, task)
}

// TaskRunner is the dequeue side: N workers lease tasks, run the handler,
// and ack only on full success. Any failure simply omits the ack; the
// queue's visibility timeout and delivery budget drive retry and eventual
// dead-letter placement.
type TaskRunner struct {
	queue    *taskqueue.Client
	handler  TaskHandler
	recorder *faults.Recorder
	workers  int
	wait     time.Duration
	obs      Observer
	logger   log.Logger

	stop chan struct{}
	wg   sync.WaitGroup
	once sync.Once
}

// TaskRunnerOption configures a TaskRunner.
type TaskRunnerOption func(*TaskRunner)

// WithTaskWorkers sets the worker count (default 4).
func WithTaskWorkers(n int) TaskRunnerOption {
	return func(r *TaskRunner) {
		if n > 0 {
			r.workers = n
		}
	}
}

// WithLeaseWait sets how long each worker blocks per lease attempt.
func WithLeaseWait(d time.Duration) TaskRunnerOption {
	return func(r *TaskRunner) {
		if d > 0 {
			r.wait = d
		}
	}
}

// WithTaskObserver installs instrumentation.
func WithTaskObserver(o Observer) TaskRunnerOption {
	return func(r *TaskRunner) { r.obs = o }
}

// WithTaskLogger sets the runner's logger.
func WithTaskLogger(l log.Logger) TaskRunnerOption {
	return func(r *TaskRunner) { r.logger = l.With(log.Component("taskrunner")) }
}

// NewTaskRunner builds a runner over the queue client.
func NewTaskRunner(queue *taskqueue.Client, handler TaskHandler, recorder *faults.Recorder, opts ...TaskRunnerOption) *TaskRunner {
	r := &TaskRunner{
		queue:    queue,
		handler:  handler,
		recorder: recorder,
		workers:  4,
		wait:     time.Second,
		obs:      NopObserver{},
		logger:   log.NewNopLogger(),
		stop:     make(chan struct{}),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Start launches the workers.
func (r *TaskRunner) Start(ctx context.Context) {
	for i := 0; i < r.workers; i++ {
		r.wg.Add(1)
		go r.work(ctx)
	}
}

func (r *TaskRunner) work(ctx context.Context) {
	defer r.wg.Done()
	for {
		select {
		case <-r.stop:
			return
		case <-ctx.Done():
			return
		default:
		}

		lt, err := r.queue.Lease(ctx, r.wait)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			r.logger.Warn("lease failed", log.Err(err))
			continue
		}
		if lt == nil {
			continue
		}
		r.runOne(ctx, lt)
	}
}

func (r *TaskRunner) runOne(ctx context.Context, lt *taskqueue.LeasedTask) {
	r.obs.WorkerBusy(1)
	defer r.obs.WorkerBusy(-1)

	outcome, err := r.handler.Handle(ctx, lt.Task)
	if err == nil && outcome.Status == envelope.StatusCompleted {
		if err := r.queue.Ack(ctx, lt); err != nil {
			// lease expired mid-flight; the task redelivers, handlers must
			// be idempotent
			r.logger.Warn("ack failed", log.Str("group_key", lt.Task.GroupKey()), log.Err(err))
			return
		}
		r.obs.TaskCompleted()
		return
	}

	// no ack on any failure: redelivery after the visibility window, and
	// the delivery budget dead-letters repeat offenders
	r.obs.TaskFailed()
	if retry.Classify(err) == retry.ClassPermanent {
		if payload, encErr := envelope.EncodeTask(lt.Task); encErr == nil {
			_ = r.recorder.Record(ctx, payload, "task", err)
		}
	}
	r.logger.Warn("task failed",
		log.Str("group_key", lt.Task.GroupKey()),
		log.Int("deliveries", lt.Deliveries),
		log.Err(err))
}

// Stop signals the workers and waits for in-flight tasks to finish.
func (r *TaskRunner) Stop() {
	r.once.Do(func() { close(r.stop) })
	r.wg.Wait()
}
