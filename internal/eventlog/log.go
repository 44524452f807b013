package eventlog

import (
	"context"
	"encoding/binary"
	"errors"
	"sync"

	pebblestore "github.com/nmarcet/conveyor/internal/storage/pebble"
	"github.com/nmarcet/conveyor/pkg/id"
)

// ErrNotFound is returned when a requested entry does not exist.
var ErrNotFound = errors.New("event not found")

// AppendRecord represents a single appendable event. A non-zero Token makes
// the append idempotent: re-appending the same token returns the sequence of
// the original commit.
type AppendRecord struct {
	Header  []byte
	Payload []byte
	Token   id.ID
}

// Log provides append-only operations for one topic/partition.
type Log struct {
	db    *pebblestore.DB
	topic string
	part  uint32

	mu       sync.Mutex
	lastSeq  uint64
	notifyCh chan struct{}
}

// OpenLog initializes a Log and loads the last sequence from metadata.
func OpenLog(db *pebblestore.DB, topic string, partition uint32) (*Log, error) {
	l := &Log{db: db, topic: topic, part: partition, notifyCh: make(chan struct{})}
	meta, err := db.Get(KeyLogMeta(topic, partition))
	if err == nil && len(meta) >= 8 {
		l.lastSeq = binary.BigEndian.Uint64(meta[:8])
	}
	return l, nil
}

// Topic returns the topic this log serves.
func (l *Log) Topic() string { return l.topic }

// Partition returns the partition this log serves.
func (l *Log) Partition() uint32 { return l.part }

// Append appends the provided records as a single atomic batch and returns
// the assigned sequence numbers. Records whose token was already committed
// are not re-written; their original sequence is returned instead.
func (l *Log) Append(ctx context.Context, recs []AppendRecord) ([]uint64, error) {
	if len(recs) == 0 {
		return nil, nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	b := l.db.NewBatch()
	defer b.Close()

	seqs := make([]uint64, len(recs))
	wrote := false
	for i, r := range recs {
		if !r.Token.IsZero() {
			if prev, err := l.db.Get(KeyLogToken(l.topic, l.part, r.Token.Bytes())); err == nil && len(prev) >= 8 {
				seqs[i] = binary.BigEndian.Uint64(prev[:8])
				continue
			}
		}
		l.lastSeq++
		seq := l.lastSeq
		val := EncodeRecord(r.Header, r.Payload)
		if err := b.Set(KeyLogEntry(l.topic, l.part, seq), val, nil); err != nil {
			return nil, err
		}
		if !r.Token.IsZero() {
			var sb [8]byte
			binary.BigEndian.PutUint64(sb[:], seq)
			if err := b.Set(KeyLogToken(l.topic, l.part, r.Token.Bytes()), sb[:], nil); err != nil {
				return nil, err
			}
		}
		seqs[i] = seq
		wrote = true
	}

	if !wrote {
		return seqs, nil
	}

	var meta [8]byte
	binary.BigEndian.PutUint64(meta[:], l.lastSeq)
	if err := b.Set(KeyLogMeta(l.topic, l.part), meta[:], nil); err != nil {
		return nil, err
	}
	if err := l.db.CommitBatch(ctx, b); err != nil {
		return nil, err
	}

	// notify waiters
	close(l.notifyCh)
	l.notifyCh = make(chan struct{})
	return seqs, nil
}

// LastSeq returns the highest committed sequence.
func (l *Log) LastSeq() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastSeq
}

// TopicExists reports whether any partition of the topic has metadata.
func TopicExists(db *pebblestore.DB, topic string) bool {
	prefix := KeyTopicPrefix(topic)
	hi := append(append([]byte{}, prefix...), 0xFF)
	iter, err := db.NewIter(nil)
	if err != nil {
		return false
	}
	defer iter.Close()
	if !iter.SeekGE(prefix) {
		return false
	}
	k := iter.Key()
	return len(k) >= len(prefix) && string(k[:len(prefix)]) == string(prefix) && string(k) < string(hi)
}
