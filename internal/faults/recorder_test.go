package faults

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nmarcet/conveyor/internal/envelope"
	"github.com/nmarcet/conveyor/internal/logstream"
	"github.com/nmarcet/conveyor/internal/retry"
	pebblestore "github.com/nmarcet/conveyor/internal/storage/pebble"
	"github.com/nmarcet/conveyor/pkg/id"
	"github.com/nmarcet/conveyor/pkg/log"
)

func TestRecordMirrorsOriginalInFull(t *testing.T) {
	db, err := pebblestore.Open(pebblestore.Options{DataDir: t.TempDir(), Fsync: pebblestore.FsyncModeNever})
	if err != nil {
		t.Fatalf("open pebble: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	tr, err := logstream.NewEmbeddedTransport(db, logstream.EmbeddedOptions{Topic: "errors", Group: "audit", PollWait: 20 * time.Millisecond})
	if err != nil {
		t.Fatalf("open transport: %v", err)
	}

	rec := NewRecorder(tr, "errors", "conveyor-test", log.NewNopLogger())
	original := []byte(`{"entity_id":"doc1","timestamp":"2026-01-02T03:04:05Z","source_service":"svc","payload":{}}`)
	cause := retry.Permanent(errors.New("schema violation"))
	if err := rec.Record(context.Background(), original, "scheduler", cause); err != nil {
		t.Fatalf("record: %v", err)
	}
	if rec.Written() != 1 || rec.Failed() != 0 {
		t.Fatalf("counters: written=%d failed=%d", rec.Written(), rec.Failed())
	}

	msg, err := tr.Fetch(context.Background())
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	got, err := envelope.DecodeErrorRecord(msg.Value)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if string(got.OriginalMessage) != string(original) {
		t.Fatalf("original not carried in full: %s", got.OriginalMessage)
	}
	if got.Stage != "scheduler" || got.Service != "conveyor-test" {
		t.Fatalf("record = %+v", got)
	}
	if got.ErrorType != retry.ClassPermanent.String() {
		t.Fatalf("errorType = %q", got.ErrorType)
	}
}

type failingPublisher struct{}

func (failingPublisher) Publish(context.Context, string, []byte, []byte, id.ID) error {
	return errors.New("broker down")
}

func TestRecordReportsMirrorFailure(t *testing.T) {
	rec := NewRecorder(failingPublisher{}, "errors", "svc", log.NewNopLogger())
	err := rec.Record(context.Background(), []byte(`{}`), "scheduler", errors.New("boom"))
	if err == nil {
		t.Fatal("mirror failure not surfaced")
	}
	if rec.Failed() != 1 {
		t.Fatalf("failed counter = %d", rec.Failed())
	}
}
