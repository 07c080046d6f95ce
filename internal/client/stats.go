package client

import (
	"sync/atomic"
	"time"
)

type stats struct {
	enqueued      atomic.Int64
	delivered     atomic.Int64
	requeued      atomic.Int64
	failedFlushes atomic.Int64
	partialErrors atomic.Int64
	rejected      atomic.Int64
	lastFlush     atomic.Int64 // unix millis of the last successful send
}

// Stats is a point-in-time snapshot of delivery counters.
type Stats struct {
	Pending       int        `json:"pending"`
	Enqueued      int64      `json:"enqueued"`
	Delivered     int64      `json:"delivered"`
	Requeued      int64      `json:"requeued"`
	FailedFlushes int64      `json:"failed_flushes"`
	PartialErrors int64      `json:"partial_errors"`
	Rejected      int64      `json:"rejected"`
	LastFlush     *time.Time `json:"last_flush,omitempty"`
	Shutdown      bool       `json:"shutdown"`
}

// Stats returns the current delivery counters.
func (c *Client) Stats() Stats {
	s := Stats{
		Pending:       c.queue.Len(),
		Enqueued:      c.stats.enqueued.Load(),
		Delivered:     c.stats.delivered.Load(),
		Requeued:      c.stats.requeued.Load(),
		FailedFlushes: c.stats.failedFlushes.Load(),
		PartialErrors: c.stats.partialErrors.Load(),
		Rejected:      c.stats.rejected.Load(),
		Shutdown:      c.shutdown.Load(),
	}
	if ms := c.stats.lastFlush.Load(); ms > 0 {
		t := time.UnixMilli(ms)
		s.LastFlush = &t
	}
	return s
}
