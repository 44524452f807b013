package eventlog

import (
	"context"
	"time"
)

// WaitForAppend blocks until a new record is appended after the given
// sequence, the timeout elapses, or ctx is done. It returns true when new
// data is available.
func (l *Log) WaitForAppend(ctx context.Context, after uint64, timeout time.Duration) bool {
	l.mu.Lock()
	if l.lastSeq > after {
		l.mu.Unlock()
		return true
	}
	ch := l.notifyCh
	l.mu.Unlock()

	var timer <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timer = t.C
	}

	select {
	case <-ch:
		return true
	case <-timer:
		return l.LastSeq() > after
	case <-ctx.Done():
		return false
	}
}
