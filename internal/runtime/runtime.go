package runtime

import (
	"context"
	"errors"
	"time"

	cfgpkg "github.com/nmarcet/conveyor/internal/config"
	"github.com/nmarcet/conveyor/internal/logstream"
	pebblestore "github.com/nmarcet/conveyor/internal/storage/pebble"
	"github.com/nmarcet/conveyor/internal/taskqueue"
	"github.com/nmarcet/conveyor/internal/workqueue"
)

// Runtime wires storage and config for a single process. The ordered
// queue is always Pebble-backed; the log transport is embedded or Kafka
// per configuration.
type Runtime struct {
	db     *pebblestore.DB
	config cfgpkg.Config
}

// Open initializes the underlying storage and returns a Runtime.
func Open(cfg cfgpkg.Config) (*Runtime, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	dataDir := cfg.DataDir
	if dataDir == "" {
		dataDir = cfgpkg.DefaultDataDir()
	}
	db, err := pebblestore.Open(pebblestore.Options{
		DataDir:       dataDir,
		Fsync:         fsyncMode(cfg.Fsync),
		FsyncInterval: time.Duration(cfg.FsyncIntervalMs) * time.Millisecond,
	})
	if err != nil {
		return nil, err
	}
	return &Runtime{db: db, config: cfg}, nil
}

func fsyncMode(s string) pebblestore.FsyncMode {
	switch s {
	case "always":
		return pebblestore.FsyncModeAlways
	case "never":
		return pebblestore.FsyncModeNever
	default:
		return pebblestore.FsyncModeInterval
	}
}

// Close closes underlying resources.
func (r *Runtime) Close() error {
	if r.db == nil {
		return nil
	}
	return r.db.Close()
}

// CheckHealth verifies the storage layer still answers.
func (r *Runtime) CheckHealth(ctx context.Context) error {
	if r.db == nil {
		return errors.New("db not open")
	}
	it, err := r.db.NewIter(nil)
	if err != nil {
		return err
	}
	it.Close()
	return nil
}

// OpenLogTransport builds the configured log transport.
func (r *Runtime) OpenLogTransport() (logstream.LogTransport, error) {
	lc := r.config.Log
	if lc.Mode == cfgpkg.ModeKafka {
		return logstream.NewKafkaTransport(logstream.KafkaOptions{
			Brokers: lc.Brokers,
			Topic:   lc.Topic,
			Group:   lc.Group,
		}), nil
	}
	return logstream.NewEmbeddedTransport(r.db, logstream.EmbeddedOptions{
		Topic:      lc.Topic,
		Group:      lc.Group,
		Partitions: lc.Partitions,
	})
}

// OpenQueue opens the ordered work queue and wraps it in a queue client.
// The returned WorkQueue is also handed back so ops surfaces can inspect
// dead letters directly.
func (r *Runtime) OpenQueue() (*taskqueue.Client, *workqueue.WorkQueue, error) {
	qc := r.config.Queue
	wq, err := workqueue.OpenQueue(r.db, qc.Name)
	if err != nil {
		return nil, nil, err
	}
	maxDeliveries := qc.MaxDeliveries
	if maxDeliveries < 0 {
		maxDeliveries = 0
	}
	wq.WithOptions(workqueue.QueueOptions{
		MaxDeliveries: uint32(maxDeliveries),
		DedupWindow:   time.Duration(qc.DedupWindowMs) * time.Millisecond,
		MaxReady:      qc.MaxReady,
	})
	tr := taskqueue.NewEmbeddedTransport(wq, taskqueue.EmbeddedQueueOptions{
		Sweep: time.Duration(qc.SweepIntervalMs) * time.Millisecond,
	})
	visibility := taskqueue.VisibilityConfig{
		Default: time.Duration(qc.VisibilityDefaultMs) * time.Millisecond,
		PerTask: perTaskVisibility(qc.VisibilityPerTaskMs),
	}
	client := taskqueue.NewClient(tr,
		taskqueue.WithVisibility(visibility),
		taskqueue.WithDedupWindow(time.Duration(qc.DedupWindowMs)*time.Millisecond))
	return client, wq, nil
}

func perTaskVisibility(ms map[string]int) map[string]time.Duration {
	if len(ms) == 0 {
		return nil
	}
	out := make(map[string]time.Duration, len(ms))
	for name, v := range ms {
		out[name] = time.Duration(v) * time.Millisecond
	}
	return out
}

// DB exposes the underlying DB for advanced operations (internal use only).
func (r *Runtime) DB() *pebblestore.DB { return r.db }

// Config returns the runtime configuration.
func (r *Runtime) Config() cfgpkg.Config { return r.config }
