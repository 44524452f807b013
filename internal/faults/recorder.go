// Package faults writes Error Records to the dedicated error channel. The
// channel is append-only: a record carries the failed message in full and
// never replaces or deletes it.
package faults

import (
	"context"
	"sync/atomic"

	"github.com/nmarcet/conveyor/internal/envelope"
	"github.com/nmarcet/conveyor/internal/retry"
	"github.com/nmarcet/conveyor/pkg/id"
	"github.com/nmarcet/conveyor/pkg/log"
)

// Publisher is the slice of the log transport the recorder needs.
type Publisher interface {
	Publish(ctx context.Context, topic string, key, value []byte, token id.ID) error
}

// Recorder mirrors permanent and exhausted failures onto the error topic.
// Safe for concurrent use.
type Recorder struct {
	pub     Publisher
	topic   string
	service string
	gen     *id.Generator
	logger  log.Logger

	written atomic.Uint64
	failed  atomic.Uint64
}

// NewRecorder builds a recorder publishing to the given error topic under
// the given service identity.
func NewRecorder(pub Publisher, topic, service string, logger log.Logger) *Recorder {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Recorder{
		pub:     pub,
		topic:   topic,
		service: service,
		gen:     id.NewGenerator(),
		logger:  logger.With(log.Component("faults")),
	}
}

// Record writes one Error Record carrying the original message in full.
// stage names the pipeline stage that failed; the error type is derived
// from the failure classification. The returned error reports a failed
// mirror write so the caller can hold the envelope unacknowledged; it must
// not be treated as a processing failure.
func (r *Recorder) Record(ctx context.Context, original []byte, stage string, cause error) error {
	msg := ""
	class := retry.ClassPermanent
	if cause != nil {
		msg = cause.Error()
		class = retry.Classify(cause)
	}
	rec := envelope.NewErrorRecord(original, stage, class.String(), msg, r.service)
	value, err := envelope.EncodeErrorRecord(rec)
	if err != nil {
		r.failed.Add(1)
		r.logger.Error("error record not serializable", log.Str("stage", stage), log.Err(err))
		return err
	}
	if err := r.pub.Publish(ctx, r.topic, nil, value, r.gen.Next()); err != nil {
		r.failed.Add(1)
		r.logger.Error("error record write failed", log.Str("stage", stage), log.Err(err))
		return err
	}
	r.written.Add(1)
	return nil
}

// Written is the count of records successfully mirrored.
func (r *Recorder) Written() uint64 { return r.written.Load() }

// Failed is the count of mirror attempts that did not reach the channel.
func (r *Recorder) Failed() uint64 { return r.failed.Load() }
