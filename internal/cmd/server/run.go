package serverrun

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	cfgpkg "github.com/nmarcet/conveyor/internal/config"
	"github.com/nmarcet/conveyor/internal/envelope"
	"github.com/nmarcet/conveyor/internal/lifecycle"
	"github.com/nmarcet/conveyor/internal/retry"
	"github.com/nmarcet/conveyor/internal/scheduler"
	logpkg "github.com/nmarcet/conveyor/pkg/log"
)

func getenvDefault(key, def string) string {
	if v := getenv(key); v != "" {
		return v
	}
	return def
}

// small wrapper to allow testing; replaced by os.Getenv at build time
var getenv = func(key string) string { return os.Getenv(key) }

// Options are the CLI-level overrides layered on top of the config file
// and environment.
type Options struct {
	ConfigPath string
	DataDir    string
	HTTPAddr   string
	Fsync      string

	// Decomposer and Handler override the built-in manifest pipeline.
	Decomposer scheduler.Decomposer
	Handler    scheduler.TaskHandler
}

// Run starts the consumer core and blocks until ctx is cancelled. Fatal
// startup failures (assignment timeout included) return an error so the
// CLI can exit non-zero.
func Run(ctx context.Context, opts Options) error {
	// Layer a local signal context over the provided one so direct callers
	// get signal handling for free.
	sctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := cfgpkg.Load(opts.ConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfgpkg.FromEnv(&cfg)
	if opts.DataDir != "" {
		cfg.DataDir = opts.DataDir
	}
	if opts.HTTPAddr != "" {
		cfg.HTTP.Addr = opts.HTTPAddr
	}
	if opts.Fsync != "" {
		cfg.Fsync = opts.Fsync
	}

	logCfg := &logpkg.Config{
		Level:  getenvDefault("CONVEYOR_LOG_LEVEL", "info"),
		Format: getenvDefault("CONVEYOR_LOG_FORMAT", "text"),
	}
	procLogger, err := logpkg.ApplyConfig(logCfg)
	if err != nil {
		lvl := logpkg.InfoLevel
		if l, e := logpkg.ParseLevel(logCfg.Level); e == nil {
			lvl = l
		}
		procLogger = logpkg.NewLogger(logpkg.WithLevel(lvl), logpkg.WithFormatter(&logpkg.TextFormatter{}))
	}
	// Redirect stdlib logs (e.g., Pebble) to our logger
	logpkg.RedirectStdLog(procLogger)

	decomp := opts.Decomposer
	if decomp == nil {
		decomp = ManifestDecomposer()
	}
	handler := opts.Handler
	if handler == nil {
		handler = ValidatingHandler(procLogger)
	}

	procLogger.Info("starting conveyor",
		logpkg.Str("mode", cfg.Log.Mode),
		logpkg.Str("topic", cfg.Log.Topic),
		logpkg.Str("group", cfg.Log.Group),
		logpkg.Str("http", cfg.HTTP.Addr),
		logpkg.Str("level", logCfg.Level),
		logpkg.Str("format", logCfg.Format),
	)

	m, err := lifecycle.New(lifecycle.Options{
		Config:     cfg,
		Logger:     procLogger,
		Decomposer: decomp,
		Handler:    handler,
		HTTP:       true,
	})
	if err != nil {
		return err
	}
	return m.Run(sctx)
}

// ManifestDecomposer turns envelopes whose payload carries a "tasks" list
// into queue tasks. Each element names a task and optionally its config:
//
//	{"tasks": [{"task_name": "fieldA", "task_config": {...}}, ...]}
//
// Envelopes without a manifest decompose to nothing and take the inline
// path.
func ManifestDecomposer() scheduler.Decomposer {
	return scheduler.DecomposerFunc(func(_ context.Context, env envelope.Envelope) ([]envelope.Task, error) {
		raw, ok := env.Payload["tasks"].([]interface{})
		if !ok {
			return nil, nil
		}
		tasks := make([]envelope.Task, 0, len(raw))
		for _, el := range raw {
			entry, ok := el.(map[string]interface{})
			if !ok {
				continue
			}
			name, _ := entry["task_name"].(string)
			if name == "" {
				continue
			}
			cfg, _ := entry["task_config"].(map[string]interface{})
			if cfg == nil {
				cfg = map[string]interface{}{}
			}
			tasks = append(tasks, envelope.Task{
				EntityID:   env.EntityID,
				TaskName:   name,
				TaskConfig: cfg,
				Timestamp:  env.Timestamp,
			})
		}
		return tasks, nil
	})
}

// ValidatingHandler decodes each task's typed config and completes. It is
// the default until an embedding application installs real work.
func ValidatingHandler(logger logpkg.Logger) scheduler.TaskHandler {
	l := logger.With(logpkg.Component("handler"))
	return scheduler.TaskHandlerFunc(func(_ context.Context, task envelope.Task) (envelope.Outcome, error) {
		if _, err := envelope.DecodeConfig(task); err != nil {
			// an invalid config never heals on retry
			return task.Failed(err), retry.Permanent(err)
		}
		l.Debug("task processed",
			logpkg.Str("entity_id", task.EntityID),
			logpkg.Str("task_name", task.TaskName))
		return task.Completed(nil), nil
	})
}
