package eventlog

import (
	"encoding/binary"

	"github.com/cockroachdb/pebble"
)

// ReadOptions selects a forward scan range.
type ReadOptions struct {
	// After is the last consumed sequence; the scan starts at After+1.
	// Zero begins at the first entry.
	After uint64
	Limit int
}

// Item is one decoded log entry.
type Item struct {
	Seq     uint64
	Header  []byte
	Payload []byte
}

// Read returns up to Limit items after opts.After in sequence order.
func (l *Log) Read(opts ReadOptions) ([]Item, error) {
	low := KeyLogEntry(l.topic, l.part, opts.After+1)
	hi := KeyLogEntry(l.topic, l.part, ^uint64(0))

	iter, err := l.db.NewIter(&pebble.IterOptions{LowerBound: low, UpperBound: append(hi, 0x00)})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	items := make([]Item, 0, max(1, opts.Limit))
	for ok := iter.First(); ok; ok = iter.Next() {
		if opts.Limit > 0 && len(items) >= opts.Limit {
			break
		}
		k := iter.Key()
		seq := binary.BigEndian.Uint64(k[len(k)-8:])
		dec, okDec := DecodeRecord(iter.Value())
		if !okDec {
			continue
		}
		items = append(items, Item{Seq: seq, Header: dec.Header, Payload: dec.Payload})
	}
	return items, nil
}
