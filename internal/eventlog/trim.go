package eventlog

import (
	"context"

	"github.com/cockroachdb/pebble"
)

// HeaderTimestampExtractor pulls a millisecond timestamp from a record
// header for age-based trimming. Returning false skips age evaluation for
// that record.
type HeaderTimestampExtractor func(header []byte) (int64, bool)

// TrimOlderThan deletes entries whose header timestamp is at or below
// cutoffMs. The scan stops at the first retained entry so trimming is always
// a prefix of the log. Returns the number of entries removed.
func (l *Log) TrimOlderThan(ctx context.Context, cutoffMs int64, extract HeaderTimestampExtractor) (int, error) {
	if extract == nil {
		return 0, nil
	}
	low := KeyLogEntry(l.topic, l.part, 1)
	hi := KeyLogEntry(l.topic, l.part, ^uint64(0))

	iter, err := l.db.NewIter(&pebble.IterOptions{LowerBound: low, UpperBound: append(hi, 0x00)})
	if err != nil {
		return 0, err
	}

	b := l.db.NewBatch()
	defer b.Close()

	removed := 0
	for ok := iter.First(); ok; ok = iter.Next() {
		dec, okDec := DecodeRecord(iter.Value())
		if !okDec {
			continue
		}
		ts, okTs := extract(dec.Header)
		if !okTs || ts > cutoffMs {
			break
		}
		key := append([]byte(nil), iter.Key()...)
		if err := b.Delete(key, nil); err != nil {
			iter.Close()
			return 0, err
		}
		removed++
	}
	if err := iter.Close(); err != nil {
		return 0, err
	}
	if removed == 0 {
		return 0, nil
	}
	if err := l.db.CommitBatch(ctx, b); err != nil {
		return 0, err
	}
	return removed, nil
}

// TrimToMaxBytes deletes oldest entries until the partition's stored entry
// bytes fall at or below maxBytes. Returns the number of entries removed.
func (l *Log) TrimToMaxBytes(ctx context.Context, maxBytes int64) (int, error) {
	if maxBytes <= 0 {
		return 0, nil
	}
	low := KeyLogEntry(l.topic, l.part, 1)
	hi := KeyLogEntry(l.topic, l.part, ^uint64(0))
	bounds := &pebble.IterOptions{LowerBound: low, UpperBound: append(hi, 0x00)}

	// First pass: total size and per-entry sizes in order.
	iter, err := l.db.NewIter(bounds)
	if err != nil {
		return 0, err
	}
	type entry struct {
		key  []byte
		size int64
	}
	var entries []entry
	var total int64
	for ok := iter.First(); ok; ok = iter.Next() {
		sz := int64(len(iter.Value()))
		entries = append(entries, entry{key: append([]byte(nil), iter.Key()...), size: sz})
		total += sz
	}
	if err := iter.Close(); err != nil {
		return 0, err
	}
	if total <= maxBytes {
		return 0, nil
	}

	b := l.db.NewBatch()
	defer b.Close()

	removed := 0
	for _, e := range entries {
		if total <= maxBytes {
			break
		}
		if err := b.Delete(e.key, nil); err != nil {
			return 0, err
		}
		total -= e.size
		removed++
	}
	if removed == 0 {
		return 0, nil
	}
	if err := l.db.CommitBatch(ctx, b); err != nil {
		return 0, err
	}
	return removed, nil
}
