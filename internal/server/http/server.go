package httpserver

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/nmarcet/conveyor/internal/envelope"
	"github.com/nmarcet/conveyor/internal/health"
	"github.com/nmarcet/conveyor/internal/logstream"
	"github.com/nmarcet/conveyor/internal/runtime"
	"github.com/nmarcet/conveyor/internal/taskqueue"
	"github.com/nmarcet/conveyor/internal/workqueue"
	"github.com/nmarcet/conveyor/pkg/log"
)

// SchedulerStats is the slice of the scheduler the ops surface reports.
type SchedulerStats interface {
	Capacity() int
	Buffered() int
}

// Options carries the components the server exposes. Runtime is required;
// everything else degrades to absent endpoints or partial stats when nil.
type Options struct {
	Runtime   *runtime.Runtime
	Checker   *health.Checker
	Metrics   *health.Metrics
	Queue     *taskqueue.Client
	WorkQueue *workqueue.WorkQueue
	Producer  *logstream.Producer
	Topic     string
	Scheduler SchedulerStats
}

type Server struct {
	opts   Options
	logger log.Logger
	srv    *http.Server
	lis    net.Listener
}

func New(opts Options, logger log.Logger) *Server {
	mux := http.NewServeMux()
	s := &Server{opts: opts, logger: logger.With(log.Component("http")), srv: &http.Server{Handler: cors(mux)}}
	mux.HandleFunc("/v1/healthz", s.handleHealth)
	mux.HandleFunc("/v1/stats", s.handleStats)
	mux.HandleFunc("/v1/dlq", s.handleDLQPeek)
	mux.HandleFunc("/v1/dlq/redrive", s.handleDLQRedrive)
	mux.HandleFunc("/v1/publish", s.handlePublish)
	if opts.Metrics != nil {
		mux.Handle("/metrics", opts.Metrics.Handler())
	}
	return s
}

func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.lis = l
	s.logger.Info("ops server listening", log.Str("addr", l.Addr().String()))
	errCh := make(chan error, 1)
	go func() { errCh <- s.srv.Serve(l) }()
	select {
	case <-ctx.Done():
		cctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.srv.Shutdown(cctx)
		return nil
	case err := <-errCh:
		return err
	}
}

func (s *Server) Close() {
	if s.lis != nil {
		_ = s.lis.Close()
	}
}

func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.opts.Checker != nil {
		healthy, results := s.opts.Checker.Run(r.Context())
		status := "ok"
		if !healthy {
			status = "not_serving"
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"status": status, "checks": results})
		return
	}
	if err := s.opts.Runtime.CheckHealth(r.Context()); err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "not_serving"})
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

type statsResp struct {
	Depth       int            `json:"depth"`
	InFlight    int            `json:"in_flight"`
	DeadLetters int            `json:"dead_letters"`
	Buffered    int            `json:"buffered"`
	Capacity    int            `json:"capacity"`
	Groups      map[string]int `json:"groups,omitempty"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	var resp statsResp
	if s.opts.Queue != nil {
		resp.Depth, _ = s.opts.Queue.Depth(r.Context())
		resp.InFlight, _ = s.opts.Queue.InFlight(r.Context())
	}
	if s.opts.WorkQueue != nil {
		resp.DeadLetters, _ = s.opts.WorkQueue.DeadLetters()
		resp.Groups, _ = s.opts.WorkQueue.GroupPending()
	}
	if s.opts.Scheduler != nil {
		resp.Buffered = s.opts.Scheduler.Buffered()
		resp.Capacity = s.opts.Scheduler.Capacity()
	}
	_ = json.NewEncoder(w).Encode(resp)
}

type dlqItem struct {
	Seq        uint64 `json:"seq"`
	Group      string `json:"group"`
	Deliveries int    `json:"deliveries"`
	Payload    []byte `json:"payload"`
}

func (s *Server) handleDLQPeek(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.opts.WorkQueue == nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	dls, err := s.opts.WorkQueue.PeekDeadLetters(limit)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	items := make([]dlqItem, 0, len(dls))
	for _, dl := range dls {
		items = append(items, dlqItem{Seq: dl.Seq, Group: dl.Group, Deliveries: int(dl.Deliveries), Payload: dl.Payload})
	}
	_ = json.NewEncoder(w).Encode(map[string]any{"dead_letters": items})
}

type redriveReq struct {
	Seq uint64 `json:"seq"`
}

func (s *Server) handleDLQRedrive(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.opts.WorkQueue == nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	var req redriveReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if err := s.opts.WorkQueue.RedriveDeadLetter(r.Context(), req.Seq); err != nil {
		s.logger.Warn("redrive failed", log.Uint64("seq", req.Seq), log.Err(err))
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePublish(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.opts.Producer == nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	var env envelope.Envelope
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if env.Timestamp.IsZero() {
		env.Timestamp = time.Now().UTC()
	}
	if err := env.Validate(); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
		return
	}
	if err := s.opts.Producer.Publish(r.Context(), s.opts.Topic, env, logstream.EntityKey(env)); err != nil {
		s.logger.Warn("publish failed", log.Str("entity_id", env.EntityID), log.Err(err))
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}
