package client

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/GabrielNunesIT/outlit-agent/internal/builder"
	"github.com/GabrielNunesIT/outlit-agent/internal/config"
	"github.com/GabrielNunesIT/outlit-agent/internal/model"
	"github.com/GabrielNunesIT/outlit-agent/internal/testutil"
	"github.com/GabrielNunesIT/outlit-agent/internal/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// recordingTransport records every batch and fails the first `failures` sends.
type recordingTransport struct {
	mu       sync.Mutex
	batches  [][]model.Event
	failures int
	response *model.IngestResponse
}

func (r *recordingTransport) Send(ctx context.Context, payload *model.IngestPayload) (*model.IngestResponse, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failures > 0 {
		r.failures--
		return nil, &transport.Error{Transport: "recording", Kind: transport.KindNetwork, Err: errors.New("connection refused")}
	}
	batch := make([]model.Event, len(payload.Events))
	copy(batch, payload.Events)
	r.batches = append(r.batches, batch)
	if r.response != nil {
		return r.response, nil
	}
	return &model.IngestResponse{Success: true, Processed: len(batch)}, nil
}

func (r *recordingTransport) Name() string                    { return "recording" }
func (r *recordingTransport) Close(ctx context.Context) error { return nil }

func (r *recordingTransport) Batches() [][]model.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([][]model.Event, len(r.batches))
	copy(out, r.batches)
	return out
}

func (r *recordingTransport) Delivered() []string {
	var names []string
	for _, b := range r.Batches() {
		for _, e := range b {
			names = append(names, e.EventName)
		}
	}
	return names
}

// gatedTransport holds its first send until release is closed or the send's
// context ends. Later sends succeed at once.
type gatedTransport struct {
	entered  chan struct{}
	release  chan struct{}
	finished chan struct{}
	failOnce bool

	mu      sync.Mutex
	calls   int
	ctxErrs []error
}

func newGatedTransport() *gatedTransport {
	return &gatedTransport{
		entered:  make(chan struct{}, 1),
		release:  make(chan struct{}),
		finished: make(chan struct{}),
	}
}

func (g *gatedTransport) Send(ctx context.Context, payload *model.IngestPayload) (*model.IngestResponse, error) {
	g.mu.Lock()
	g.calls++
	first := g.calls == 1
	g.mu.Unlock()

	if first {
		g.entered <- struct{}{}
		select {
		case <-g.release:
		case <-ctx.Done():
		}
	}

	err := ctx.Err()
	g.mu.Lock()
	g.ctxErrs = append(g.ctxErrs, err)
	g.mu.Unlock()
	if first {
		close(g.finished)
	}

	if err != nil {
		return nil, err
	}
	if first && g.failOnce {
		return nil, &transport.Error{Transport: "gated", Kind: transport.KindNetwork, Err: errors.New("connection reset")}
	}
	return &model.IngestResponse{Success: true, Processed: len(payload.Events)}, nil
}

func (g *gatedTransport) Name() string                    { return "gated" }
func (g *gatedTransport) Close(ctx context.Context) error { return nil }

func (g *gatedTransport) Calls() (int, []error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls, append([]error(nil), g.ctxErrs...)
}

func waitFor(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
}

func testConfig() config.ClientConfig {
	return config.ClientConfig{
		PublicKey:     "pk_test",
		APIHost:       "https://example.com",
		FlushInterval: time.Hour,
		MaxBatchSize:  100,
		Timeout:       time.Second,
	}
}

func newTestClient(t *testing.T, cfg config.ClientConfig, tr transport.Transport) *Client {
	t.Helper()
	c, err := New(cfg, tr, testutil.NewTestLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Shutdown(context.Background()) })
	return c
}

func event(name string) model.Event {
	return model.Event{Type: model.EventTypeCustom, Timestamp: 1700000000000, EventName: name}
}

func TestNew_InvalidConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.ClientConfig)
	}{
		{name: "zero batch size", mutate: func(c *config.ClientConfig) { c.MaxBatchSize = 0 }},
		{name: "zero flush interval", mutate: func(c *config.ClientConfig) { c.FlushInterval = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(&cfg)
			_, err := New(cfg, &recordingTransport{}, testutil.NewTestLogger())
			assert.ErrorIs(t, err, config.ErrInvalidConfig)
		})
	}

	_, err := New(testConfig(), nil, testutil.NewTestLogger())
	assert.Error(t, err)
}

func TestClient_FlushEmptyIsNoop(t *testing.T) {
	tr := testutil.NewMockTransport(t)
	c := newTestClient(t, testConfig(), tr)

	assert.NoError(t, c.Flush(context.Background()))
	assert.NoError(t, c.Flush(context.Background()))
	tr.AssertNotCalled(t, "Send", mock.Anything, mock.Anything)
}

func TestClient_SizeTriggeredFlush(t *testing.T) {
	tr := &recordingTransport{}
	cfg := testConfig()
	cfg.MaxBatchSize = 3
	c := newTestClient(t, cfg, tr)

	require.NoError(t, c.Enqueue(context.Background(), event("a")))
	require.NoError(t, c.Enqueue(context.Background(), event("b")))
	assert.Empty(t, tr.Batches())
	assert.Equal(t, 2, c.PendingCount())

	require.NoError(t, c.Enqueue(context.Background(), event("c")))
	require.Len(t, tr.Batches(), 1)
	assert.Equal(t, []string{"a", "b", "c"}, tr.Delivered())
	assert.Equal(t, 0, c.PendingCount())
}

func TestClient_FailureThenRetry(t *testing.T) {
	tr := &recordingTransport{failures: 1}
	c := newTestClient(t, testConfig(), tr)

	require.NoError(t, c.Enqueue(context.Background(), event("a")))

	err := c.Flush(context.Background())
	require.Error(t, err)
	assert.True(t, transport.IsRetryable(err))
	assert.Equal(t, 1, c.PendingCount(), "failed batch must be requeued")

	require.NoError(t, c.Flush(context.Background()))
	assert.Equal(t, 0, c.PendingCount())
	assert.Equal(t, []string{"a"}, tr.Delivered())
}

func TestClient_RequeuedBatchPrecedesNewEvents(t *testing.T) {
	tr := &recordingTransport{failures: 1}
	c := newTestClient(t, testConfig(), tr)

	require.NoError(t, c.Enqueue(context.Background(), event("a")))
	require.NoError(t, c.Enqueue(context.Background(), event("b")))
	require.Error(t, c.Flush(context.Background()))

	require.NoError(t, c.Enqueue(context.Background(), event("c")))
	require.NoError(t, c.Flush(context.Background()))

	assert.Equal(t, []string{"a", "b", "c"}, tr.Delivered())
}

func TestClient_EnqueueReturnsFlushErrorAndKeepsEvents(t *testing.T) {
	tr := &recordingTransport{failures: 1}
	cfg := testConfig()
	cfg.MaxBatchSize = 2
	c := newTestClient(t, cfg, tr)

	require.NoError(t, c.Enqueue(context.Background(), event("a")))
	err := c.Enqueue(context.Background(), event("b"))
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrShutdown)
	assert.Equal(t, 2, c.PendingCount())
}

func TestClient_PartialErrorsAreNotRetried(t *testing.T) {
	tr := &recordingTransport{response: &model.IngestResponse{
		Success:   true,
		Processed: 1,
		Errors:    []model.IngestError{{Index: 1, Message: "rejected"}},
	}}
	c := newTestClient(t, testConfig(), tr)

	require.NoError(t, c.Enqueue(context.Background(), event("a")))
	require.NoError(t, c.Enqueue(context.Background(), event("b")))
	require.NoError(t, c.Flush(context.Background()))

	assert.Equal(t, 0, c.PendingCount())
	assert.Len(t, tr.Batches(), 1)
	assert.Equal(t, int64(1), c.Stats().PartialErrors)
}

func TestClient_UnsuccessfulResponseCountsAsDelivered(t *testing.T) {
	tr := &recordingTransport{response: &model.IngestResponse{Success: false}}
	c := newTestClient(t, testConfig(), tr)

	require.NoError(t, c.Enqueue(context.Background(), event("a")))
	require.NoError(t, c.Flush(context.Background()))
	assert.Equal(t, 0, c.PendingCount())
}

func TestClient_ShutdownIdempotentSequential(t *testing.T) {
	tr := testutil.NewMockTransport(t)
	tr.On("Send", mock.Anything, mock.MatchedBy(func(p *model.IngestPayload) bool {
		return len(p.Events) == 1 && p.Events[0].EventName == "a" && p.Source == model.SourceServer
	})).Return(&model.IngestResponse{Success: true, Processed: 1}, nil).Once()

	c := newTestClient(t, testConfig(), tr)
	require.NoError(t, c.Enqueue(context.Background(), event("a")))

	for i := 0; i < 3; i++ {
		assert.NoError(t, c.Shutdown(context.Background()))
	}
	assert.True(t, c.IsShutdown())
}

func TestClient_ShutdownIdempotentConcurrent(t *testing.T) {
	tr := &recordingTransport{}
	c := newTestClient(t, testConfig(), tr)
	require.NoError(t, c.Enqueue(context.Background(), event("a")))

	var wg sync.WaitGroup
	errs := make([]error, 3)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = c.Shutdown(context.Background())
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
	require.Len(t, tr.Batches(), 1)
	assert.Equal(t, []string{"a"}, tr.Delivered())
}

func TestClient_ShutdownReturnsTerminalFlushError(t *testing.T) {
	tr := &recordingTransport{failures: 1}
	c := newTestClient(t, testConfig(), tr)
	require.NoError(t, c.Enqueue(context.Background(), event("a")))

	err := c.Shutdown(context.Background())
	require.Error(t, err)
	assert.True(t, transport.IsRetryable(err))
	assert.Equal(t, 1, c.PendingCount())

	assert.NoError(t, c.Shutdown(context.Background()), "second shutdown does not flush again")
	assert.Empty(t, tr.Batches())
}

func TestClient_EnqueueAfterShutdown(t *testing.T) {
	tr := &recordingTransport{}
	c := newTestClient(t, testConfig(), tr)
	require.NoError(t, c.Shutdown(context.Background()))

	err := c.Enqueue(context.Background(), event("late"))
	assert.ErrorIs(t, err, ErrShutdown)
	assert.Equal(t, 0, c.PendingCount())
	assert.Equal(t, int64(1), c.Stats().Rejected)

	err = c.Send(context.Background(), builder.Track("late", builder.Email("a@b.c")))
	assert.ErrorIs(t, err, ErrShutdown)
	assert.Empty(t, tr.Batches())
}

func TestClient_PeriodicFlush(t *testing.T) {
	tr := &recordingTransport{}
	cfg := testConfig()
	cfg.FlushInterval = 20 * time.Millisecond
	c := newTestClient(t, cfg, tr)

	require.NoError(t, c.Enqueue(context.Background(), event("a")))

	assert.Eventually(t, func() bool {
		return c.PendingCount() == 0 && len(tr.Batches()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"a"}, tr.Delivered())
}

func TestClient_PeriodicFlushSurvivesFailures(t *testing.T) {
	tr := &recordingTransport{failures: 2}
	cfg := testConfig()
	cfg.FlushInterval = 20 * time.Millisecond
	c := newTestClient(t, cfg, tr)

	require.NoError(t, c.Enqueue(context.Background(), event("a")))

	assert.Eventually(t, func() bool {
		return len(tr.Batches()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, c.PendingCount())
	assert.Equal(t, int64(2), c.Stats().FailedFlushes)
}

func TestClient_PeriodicLoopStopsOnShutdown(t *testing.T) {
	tr := &recordingTransport{}
	cfg := testConfig()
	cfg.FlushInterval = 10 * time.Millisecond
	c := newTestClient(t, cfg, tr)

	require.NoError(t, c.Shutdown(context.Background()))

	select {
	case <-c.loopDone:
	case <-time.After(time.Second):
		t.Fatal("flush loop did not stop after shutdown")
	}
}

func TestClient_SendTimeoutRequeues(t *testing.T) {
	tr := newGatedTransport()
	cfg := testConfig()
	cfg.Timeout = 50 * time.Millisecond
	c := newTestClient(t, cfg, tr)

	require.NoError(t, c.Enqueue(context.Background(), event("slow")))

	start := time.Now()
	err := c.Flush(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, 1, c.PendingCount())
	assert.Equal(t, int64(1), c.Stats().Requeued)
}

func TestClient_InFlightPeriodicSendSurvivesShutdown(t *testing.T) {
	tr := newGatedTransport()
	cfg := testConfig()
	cfg.FlushInterval = 10 * time.Millisecond
	c := newTestClient(t, cfg, tr)

	require.NoError(t, c.Enqueue(context.Background(), event("a")))
	waitFor(t, tr.entered, "periodic send")

	require.NoError(t, c.Shutdown(context.Background()))
	close(tr.release)
	waitFor(t, tr.finished, "periodic send to return")
	waitFor(t, c.Stopped(), "flush loop to stop")

	calls, ctxErrs := tr.Calls()
	assert.Equal(t, 1, calls)
	require.Len(t, ctxErrs, 1)
	assert.NoError(t, ctxErrs[0], "shutdown must not cancel the in-flight send")
	assert.Equal(t, int64(1), c.Stats().Delivered)
	assert.Equal(t, 0, c.PendingCount())
}

func TestClient_FlushAfterShutdownDeliversLateRequeue(t *testing.T) {
	tr := newGatedTransport()
	tr.failOnce = true
	cfg := testConfig()
	cfg.FlushInterval = 10 * time.Millisecond
	c := newTestClient(t, cfg, tr)

	require.NoError(t, c.Enqueue(context.Background(), event("a")))
	waitFor(t, tr.entered, "periodic send")

	require.NoError(t, c.Shutdown(context.Background()))
	close(tr.release)
	waitFor(t, c.Stopped(), "flush loop to stop")
	require.Equal(t, 1, c.PendingCount(), "failed periodic send requeues after the terminal flush")

	require.NoError(t, c.Flush(context.Background()))
	assert.Equal(t, 0, c.PendingCount())
	assert.Equal(t, int64(1), c.Stats().Delivered)

	calls, _ := tr.Calls()
	assert.Equal(t, 2, calls)
}

func TestClient_ConcurrentEnqueueAndShutdown(t *testing.T) {
	tr := &recordingTransport{}
	cfg := testConfig()
	cfg.MaxBatchSize = 7
	c := newTestClient(t, cfg, tr)

	const workers, perWorker = 8, 50
	var mu sync.Mutex
	accepted := 0

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				err := c.Enqueue(context.Background(), event("e"))
				if errors.Is(err, ErrShutdown) {
					return
				}
				if !assert.NoError(t, err) {
					return
				}
				mu.Lock()
				accepted++
				mu.Unlock()
			}
		}()
	}

	time.Sleep(time.Millisecond)
	require.NoError(t, c.Shutdown(context.Background()))
	wg.Wait()

	// Size-triggered flushes racing the terminal flush may still be in flight
	// when Shutdown returns; wait for them to land.
	assert.Eventually(t, func() bool {
		return len(tr.Delivered())+c.PendingCount() == accepted
	}, 2*time.Second, 10*time.Millisecond)
}

func TestClient_SendBuilder(t *testing.T) {
	tr := &recordingTransport{}
	c := newTestClient(t, testConfig(), tr)

	require.NoError(t, c.Send(context.Background(), builder.Track("signup", builder.Email("user@example.com")).Property("plan", "pro")))
	require.NoError(t, c.Flush(context.Background()))

	batches := tr.Batches()
	require.Len(t, batches, 1)
	e := batches[0][0]
	assert.Equal(t, model.EventTypeCustom, e.Type)
	assert.Equal(t, "signup", e.EventName)
	assert.Equal(t, "pro", e.Properties["plan"])
}

func TestClient_Stats(t *testing.T) {
	tr := &recordingTransport{failures: 1}
	c := newTestClient(t, testConfig(), tr)

	require.NoError(t, c.Enqueue(context.Background(), event("a")))
	require.NoError(t, c.Enqueue(context.Background(), event("b")))
	require.Error(t, c.Flush(context.Background()))
	require.NoError(t, c.Flush(context.Background()))

	s := c.Stats()
	assert.Equal(t, int64(2), s.Enqueued)
	assert.Equal(t, int64(2), s.Delivered)
	assert.Equal(t, int64(2), s.Requeued)
	assert.Equal(t, int64(1), s.FailedFlushes)
	assert.Equal(t, 0, s.Pending)
	assert.NotNil(t, s.LastFlush)
	assert.False(t, s.Shutdown)
}

func TestClient_WithSource(t *testing.T) {
	tr := testutil.NewMockTransport(t)
	tr.On("Send", mock.Anything, mock.MatchedBy(func(p *model.IngestPayload) bool {
		return p.Source == model.SourceType("worker")
	})).Return(&model.IngestResponse{Success: true, Processed: 1}, nil).Once()

	c, err := New(testConfig(), tr, testutil.NewTestLogger(), WithSource("worker"))
	require.NoError(t, err)
	require.NoError(t, c.Enqueue(context.Background(), event("a")))
	require.NoError(t, c.Shutdown(context.Background()))
}
