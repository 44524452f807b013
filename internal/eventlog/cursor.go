package eventlog

import (
	"context"
	"encoding/binary"
	"errors"

	pebblestore "github.com/nmarcet/conveyor/internal/storage/pebble"
)

// GetCursor returns the committed sequence for a group on this partition.
// A group with no committed cursor returns 0.
func (l *Log) GetCursor(group string) (uint64, error) {
	val, err := l.db.Get(KeyCursor(l.topic, group, l.part))
	if err != nil {
		if errors.Is(err, pebblestore.ErrNotFound) {
			return 0, nil
		}
		return 0, err
	}
	if len(val) < 8 {
		return 0, nil
	}
	return binary.BigEndian.Uint64(val[:8]), nil
}

// CommitCursor durably records the group's consumed position. Cursors never
// regress: committing a sequence at or below the stored one is a no-op.
func (l *Log) CommitCursor(_ context.Context, group string, seq uint64) error {
	cur, err := l.GetCursor(group)
	if err != nil {
		return err
	}
	if seq <= cur {
		return nil
	}
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], seq)
	return l.db.Set(KeyCursor(l.topic, group, l.part), b[:])
}
