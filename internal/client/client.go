// Package client batches events and delivers them through a transport.
//
// Events are queued on Enqueue and leave the queue in one of three ways: a
// size-triggered flush after an enqueue reaches the batch threshold, a
// periodic flush from the background loop, or an explicit Flush. A batch
// that fails to send is put back at the head of the queue, so callers never
// resubmit. Shutdown is one-way and performs exactly one terminal flush.
//
// Delivery is at-least-once. Concurrent flushes are not serialized, so a
// failed batch requeued while another flush drains may be retried after
// newer events.
//
// Shutdown does not wait for a periodic send already in flight. If that send
// fails it requeues after the terminal flush and nothing retries it; callers
// that need those events wait on Stopped and Flush once more.
package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/GabrielNunesIT/go-libs/logger"
	"github.com/GabrielNunesIT/outlit-agent/internal/builder"
	"github.com/GabrielNunesIT/outlit-agent/internal/config"
	"github.com/GabrielNunesIT/outlit-agent/internal/model"
	"github.com/GabrielNunesIT/outlit-agent/internal/queue"
	"github.com/GabrielNunesIT/outlit-agent/internal/transport"
)

// ErrShutdown is returned when enqueueing into a client that has been shut down.
var ErrShutdown = errors.New("client has been shut down")

// Client owns the event queue, the periodic flush loop and the shutdown state.
type Client struct {
	cfg       config.ClientConfig
	queue     *queue.Queue
	transport transport.Transport
	source    model.SourceType
	logger    logger.ILogger

	// gate orders enqueues against the shutdown transition: enqueues hold it
	// shared while checking the flag and appending, Shutdown takes it
	// exclusively once after flipping the flag.
	gate     sync.RWMutex
	shutdown atomic.Bool
	stop     chan struct{}
	loopDone chan struct{}

	stats stats
}

// Option configures a Client.
type Option func(*Client)

// WithSource overrides the source tag attached to every payload.
func WithSource(source model.SourceType) Option {
	return func(c *Client) {
		c.source = source
	}
}

// New creates a client and starts its periodic flush loop.
func New(cfg config.ClientConfig, tr transport.Transport, log logger.ILogger, opts ...Option) (*Client, error) {
	if cfg.MaxBatchSize <= 0 {
		return nil, fmt.Errorf("%w: max batch size must be positive", config.ErrInvalidConfig)
	}
	if cfg.FlushInterval <= 0 {
		return nil, fmt.Errorf("%w: flush interval must be positive", config.ErrInvalidConfig)
	}
	if tr == nil {
		return nil, errors.New("transport is required")
	}

	c := &Client{
		cfg:       cfg,
		queue:     queue.New(cfg.MaxBatchSize),
		transport: tr,
		source:    model.SourceServer,
		logger:    log.SubLogger("Client"),
		stop:      make(chan struct{}),
		loopDone:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}

	go c.flushLoop()

	c.logger.Infof("client started: transport=%s, flush_interval=%s, max_batch_size=%d",
		tr.Name(), cfg.FlushInterval, cfg.MaxBatchSize)
	return c, nil
}

// Enqueue queues an event and flushes when the batch threshold is reached.
// It returns ErrShutdown after Shutdown. A flush error is returned as-is; the
// event stays queued for the next attempt.
func (c *Client) Enqueue(ctx context.Context, event model.Event) error {
	c.gate.RLock()
	if c.shutdown.Load() {
		c.gate.RUnlock()
		c.stats.rejected.Add(1)
		return ErrShutdown
	}
	c.queue.Enqueue(event)
	full := c.queue.ShouldFlush()
	c.gate.RUnlock()

	c.stats.enqueued.Add(1)

	if full {
		return c.Flush(ctx)
	}
	return nil
}

// Send builds the event and enqueues it.
func (c *Client) Send(ctx context.Context, b builder.Builder) error {
	return c.Enqueue(ctx, b.Build())
}

// Flush drains the queue and sends it as one batch. On failure the batch is
// requeued ahead of newer events before the error is returned.
func (c *Client) Flush(ctx context.Context) error {
	if c.queue.IsEmpty() {
		return nil
	}

	events := c.queue.Drain()
	if len(events) == 0 {
		return nil
	}

	c.logger.Infof("flushing events: count=%d", len(events))
	return c.deliver(ctx, events)
}

// deliver sends one drained batch. The queue lock is never held here.
func (c *Client) deliver(ctx context.Context, events []model.Event) error {
	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	resp, err := c.transport.Send(ctx, model.NewPayload(c.source, events))
	if err != nil {
		c.queue.Requeue(events)
		c.stats.failedFlushes.Add(1)
		c.stats.requeued.Add(int64(len(events)))
		c.logger.Errorf("flush failed, requeuing events: count=%d, error=%v", len(events), err)
		return err
	}

	c.stats.delivered.Add(int64(len(events)))
	c.stats.lastFlush.Store(time.Now().UnixMilli())
	c.reportPartial(events, resp)
	return nil
}

// reportPartial logs per-event problems of an accepted batch. Nothing is retried.
func (c *Client) reportPartial(events []model.Event, resp *model.IngestResponse) {
	if resp == nil {
		return
	}
	if !resp.Success && len(resp.Errors) == 0 {
		c.logger.Warningf("batch accepted without success flag: count=%d, processed=%d", len(events), resp.Processed)
	}
	for _, ie := range resp.Errors {
		c.stats.partialErrors.Add(1)
		name := ""
		if ie.Index >= 0 && ie.Index < len(events) {
			name = string(events[ie.Index].Type)
		}
		c.logger.Warningf("event processing error: index=%d, type=%s, message=%s", ie.Index, name, ie.Message)
	}
	c.logger.Debugf("events sent: processed=%d", resp.Processed)
}

// Shutdown stops the periodic loop and performs the terminal flush. Only the
// first call does any work; later and concurrent calls return nil at once.
// The loop is signalled, not joined, so an in-flight periodic send finishes
// on its own.
func (c *Client) Shutdown(ctx context.Context) error {
	if !c.shutdown.CompareAndSwap(false, true) {
		return nil
	}

	c.logger.Info("shutting down client")

	// Wait out enqueues that observed the client as active.
	c.gate.Lock()
	c.gate.Unlock()

	close(c.stop)

	if err := c.Flush(ctx); err != nil {
		return fmt.Errorf("terminal flush: %w", err)
	}
	return nil
}

// IsShutdown reports whether Shutdown has been called.
func (c *Client) IsShutdown() bool {
	return c.shutdown.Load()
}

// PendingCount returns the number of queued events. Diagnostic only.
func (c *Client) PendingCount() int {
	return c.queue.Len()
}

// Stopped is closed once the periodic loop has exited and any send it had in
// flight has returned.
func (c *Client) Stopped() <-chan struct{} {
	return c.loopDone
}

// flushLoop delivers queued events on every tick until Shutdown. Failures are
// logged and the loop keeps going.
func (c *Client) flushLoop() {
	defer close(c.loopDone)

	ticker := time.NewTicker(c.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			c.logger.Debug("flush loop stopped")
			return
		case <-ticker.C:
			if c.shutdown.Load() {
				return
			}
			if c.queue.IsEmpty() {
				continue
			}
			events := c.queue.Drain()
			if len(events) == 0 {
				continue
			}
			c.logger.Debugf("periodic flush: count=%d", len(events))
			// Not derived from stop: shutdown must not abort this send.
			_ = c.deliver(context.Background(), events)
		}
	}
}
