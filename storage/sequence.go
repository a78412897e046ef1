package storage

import (
	"sync/atomic"
	"time"
)

var lastSeq int64

// nextSeq returns a strictly increasing sequence number derived from
// wall-clock nanoseconds. Two snapshots produced back to back never share a
// sequence number, which is what lets clients reject stale replaces.
func nextSeq() int64 {
	for {
		now := time.Now().UnixNano()
		last := atomic.LoadInt64(&lastSeq)
		if now <= last {
			now = last + 1
		}
		if atomic.CompareAndSwapInt64(&lastSeq, last, now) {
			return now
		}
	}
}
