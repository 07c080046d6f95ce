package pipeline

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/GabrielNunesIT/go-libs/logger"
	"github.com/GabrielNunesIT/outlit-agent/internal/client"
	"github.com/GabrielNunesIT/outlit-agent/internal/config"
	"github.com/GabrielNunesIT/outlit-agent/internal/ingestor"
	"github.com/GabrielNunesIT/outlit-agent/internal/model"
	"github.com/GabrielNunesIT/outlit-agent/internal/testutil"
	"github.com/GabrielNunesIT/outlit-agent/internal/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingSink implements Sink for testing.
type recordingSink struct {
	mu        sync.Mutex
	events    []model.Event
	shutdowns int
	enqueueFn func(model.Event) error
}

func (s *recordingSink) Enqueue(ctx context.Context, event model.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.enqueueFn != nil {
		if err := s.enqueueFn(event); err != nil {
			return err
		}
	}
	s.events = append(s.events, event)
	return nil
}

func (s *recordingSink) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shutdowns++
	return nil
}

func (s *recordingSink) names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, len(s.events))
	for i, e := range s.events {
		names[i] = e.EventName
	}
	return names
}

// blockingIngestor emits whatever is written to feed until cancelled.
type blockingIngestor struct {
	name    string
	feed    chan []byte
	started chan struct{}
	stopped chan struct{}
}

func newBlockingIngestor(name string) *blockingIngestor {
	return &blockingIngestor{
		name:    name,
		feed:    make(chan []byte, 10),
		started: make(chan struct{}),
		stopped: make(chan struct{}),
	}
}

func (b *blockingIngestor) Name() string { return b.name }

func (b *blockingIngestor) Start(ctx context.Context, out chan<- *model.Envelope) error {
	defer close(out)
	defer close(b.stopped)
	close(b.started)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw := <-b.feed:
			out <- model.NewEnvelope(b.name, raw)
		}
	}
}

func testConfig() *config.Config {
	return &config.Config{
		Pipeline: config.PipelineConfig{
			BufferSize:      100,
			ShutdownTimeout: 5 * time.Second,
		},
	}
}

func validatingProcessor() config.ProcessorConfig {
	return config.ProcessorConfig{
		Decoder: config.DecoderConfig{Validate: true},
	}
}

func stdinFactory(input string) IngestorFactory {
	return func(name string, cfg *config.Config, log logger.ILogger) (ingestor.Ingestor, error) {
		return ingestor.NewStdinIngestorWithReader(cfg.Ingestors.Stdin, strings.NewReader(input), log), nil
	}
}

func TestPipeline_New_NoIngestors(t *testing.T) {
	_, err := New(testConfig(), &recordingSink{}, testutil.NewTestLogger())
	if err == nil {
		t.Fatal("expected error when no ingestors enabled")
	}
}

func TestPipeline_New_NoSink(t *testing.T) {
	cfg := testConfig()
	cfg.Ingestors.Stdin.Enabled = true

	_, err := New(cfg, nil, testutil.NewTestLogger())
	if err == nil {
		t.Fatal("expected error without a sink")
	}
}

func TestPipeline_New_InvalidFilter(t *testing.T) {
	cfg := testConfig()
	cfg.Ingestors.Stdin.Enabled = true
	cfg.Ingestors.Stdin.Processor.Filter.Expression = "name +"

	_, err := New(cfg, &recordingSink{}, testutil.NewTestLogger())
	assert.ErrorContains(t, err, "ingestor stdin")
}

func TestPipeline_IngestorCount(t *testing.T) {
	cfg := testConfig()
	cfg.Ingestors.Stdin.Enabled = true
	cfg.Ingestors.File = config.FileIngestorConfig{
		Enabled: true,
		Paths:   []string{"/tmp/events.ndjson"},
	}

	p, err := New(cfg, &recordingSink{}, testutil.NewTestLogger())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	if p.IngestorCount() != 2 {
		t.Errorf("expected 2 ingestors, got %d", p.IngestorCount())
	}
}

func TestEnabledIngestors(t *testing.T) {
	cfg := testConfig()
	cfg.Ingestors.HTTP.Enabled = true
	cfg.Ingestors.Stdin.Enabled = true
	cfg.Ingestors.Syslog.Enabled = true

	assert.Equal(t, []string{"stdin", "syslog", "http"}, EnabledIngestors(cfg))
	assert.Empty(t, EnabledIngestors(testConfig()))
}

func TestPipeline_Run_ProcessesStdin(t *testing.T) {
	input := strings.Join([]string{
		`{"type":"custom","eventName":"first","email":"a@b.com"}`,
		`not json`,
		`{"type":"custom"}`,
		`{"type":"custom","eventName":"skip"}`,
		`{"type":"custom","eventName":"second"}`,
	}, "\n")

	cfg := testConfig()
	cfg.Ingestors.Stdin.Enabled = true
	cfg.Ingestors.Stdin.Processor = validatingProcessor()
	cfg.Ingestors.Stdin.Processor.Filter.Expression = `name != "skip"`

	sink := &recordingSink{}
	log, logs := testutil.NewCapturingLogger()
	p, err := New(cfg, sink, log, WithIngestorFactory(stdinFactory(input)))
	require.NoError(t, err)

	// Stdin EOF ends the only ingestor, so Run returns on its own.
	require.NoError(t, p.Run(context.Background()))

	assert.Equal(t, []string{"first", "second"}, sink.names())
	assert.Equal(t, 1, sink.shutdowns)

	stats := p.Stats()
	assert.Equal(t, int64(2), stats.Accepted)
	assert.Equal(t, int64(1), stats.Filtered)
	assert.Equal(t, int64(2), stats.Invalid)
	assert.Equal(t, 1, stats.Ingestors)
	assert.Contains(t, logs.String(), "dropping invalid event")

	// Identifiers are mirrored into properties by the decoder.
	sink.mu.Lock()
	assert.Equal(t, "a@b.com", sink.events[0].Properties["__email"])
	sink.mu.Unlock()
}

func TestPipeline_Run_SinkErrors(t *testing.T) {
	input := `{"type":"custom","eventName":"a"}` + "\n" + `{"type":"custom","eventName":"b"}` + "\n"

	cfg := testConfig()
	cfg.Ingestors.Stdin.Enabled = true
	cfg.Ingestors.Stdin.Processor = validatingProcessor()

	sink := &recordingSink{enqueueFn: func(e model.Event) error {
		if e.EventName == "a" {
			return client.ErrShutdown
		}
		return nil
	}}
	p, err := New(cfg, sink, testutil.NewTestLogger(), WithIngestorFactory(stdinFactory(input)))
	require.NoError(t, err)
	require.NoError(t, p.Run(context.Background()))

	assert.Equal(t, []string{"b"}, sink.names())
	assert.Equal(t, int64(1), p.Stats().Failed)
	assert.Equal(t, int64(1), p.Stats().Accepted)
}

func TestPipeline_Run_DeliversThroughClient(t *testing.T) {
	input := `{"type":"custom","eventName":"a"}` + "\n" + `{"type":"identify","email":"x@y.com"}` + "\n"

	cfg := testConfig()
	cfg.Ingestors.Stdin.Enabled = true
	cfg.Ingestors.Stdin.Processor = validatingProcessor()

	var out bytes.Buffer
	tr := transport.NewStdoutTransportWithWriter(config.StdoutTransportConfig{Format: "json"}, &out, testutil.NewTestLogger())
	c, err := client.New(config.ClientConfig{
		FlushInterval: time.Hour,
		MaxBatchSize:  100,
		Timeout:       time.Second,
	}, tr, testutil.NewTestLogger())
	require.NoError(t, err)

	p, err := New(cfg, c, testutil.NewTestLogger(), WithIngestorFactory(stdinFactory(input)))
	require.NoError(t, err)
	require.NoError(t, p.Run(context.Background()))

	// The terminal flush delivered both events in one payload.
	assert.True(t, c.IsShutdown())
	assert.Equal(t, 0, c.PendingCount())
	assert.Equal(t, 1, strings.Count(out.String(), "\n"))
	assert.Contains(t, out.String(), `"eventName":"a"`)
	assert.Contains(t, out.String(), `"email":"x@y.com"`)
}

func TestPipeline_Run_IngestorErrorStopsAll(t *testing.T) {
	cfg := testConfig()
	cfg.Ingestors.Stdin.Enabled = true
	cfg.Ingestors.Syslog.Enabled = true

	blocking := newBlockingIngestor("stdin")
	factory := func(name string, cfg *config.Config, log logger.ILogger) (ingestor.Ingestor, error) {
		if name == "syslog" {
			return ingestor.NewSyslogIngestor(config.SyslogIngestorConfig{Protocol: "bogus"}, log), nil
		}
		return blocking, nil
	}

	sink := &recordingSink{}
	p, err := New(cfg, sink, testutil.NewTestLogger(), WithIngestorFactory(factory))
	require.NoError(t, err)

	err = p.Run(context.Background())
	assert.ErrorContains(t, err, "unsupported syslog protocol")

	select {
	case <-blocking.stopped:
	default:
		t.Error("expected the healthy ingestor to be stopped")
	}
	assert.Equal(t, 1, sink.shutdowns)
}

func TestPipeline_Reconfigure_NotRunning(t *testing.T) {
	cfg := testConfig()
	cfg.Ingestors.Stdin.Enabled = true

	p, err := New(cfg, &recordingSink{}, testutil.NewTestLogger())
	require.NoError(t, err)

	assert.True(t, errors.Is(p.Reconfigure(cfg), ErrNotRunning))
}

func TestPipeline_Reconfigure(t *testing.T) {
	var mu sync.Mutex
	built := map[string][]*blockingIngestor{}
	factory := func(name string, cfg *config.Config, log logger.ILogger) (ingestor.Ingestor, error) {
		mu.Lock()
		defer mu.Unlock()
		b := newBlockingIngestor(name)
		built[name] = append(built[name], b)
		return b, nil
	}
	latest := func(name string) *blockingIngestor {
		mu.Lock()
		defer mu.Unlock()
		list := built[name]
		return list[len(list)-1]
	}

	cfg := testConfig()
	cfg.Ingestors.Syslog.Enabled = true
	cfg.Ingestors.Syslog.Processor = validatingProcessor()

	sink := &recordingSink{}
	p, err := New(cfg, sink, testutil.NewTestLogger(), WithIngestorFactory(factory))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runErr := make(chan error, 1)
	go func() {
		runErr <- p.Run(ctx)
	}()

	syslog := latest("syslog")
	<-syslog.started
	require.Eventually(t, func() bool {
		return !errors.Is(p.Reconfigure(cfg), ErrNotRunning)
	}, 2*time.Second, 10*time.Millisecond)

	// Swap syslog for http.
	newCfg := testConfig()
	newCfg.Ingestors.HTTP.Enabled = true
	newCfg.Ingestors.HTTP.Processor = validatingProcessor()
	require.NoError(t, p.Reconfigure(newCfg))

	<-syslog.stopped
	assert.Equal(t, 1, p.IngestorCount())

	http := latest("http")
	<-http.started
	http.feed <- []byte(`{"type":"custom","eventName":"via-http"}`)
	require.Eventually(t, func() bool {
		return len(sink.names()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	// A changed section restarts the ingestor.
	changed := testConfig()
	changed.Ingestors.HTTP = newCfg.Ingestors.HTTP
	changed.Ingestors.HTTP.MaxEvents = 10
	require.NoError(t, p.Reconfigure(changed))
	<-http.stopped
	restarted := latest("http")
	assert.NotSame(t, http, restarted)
	<-restarted.started

	cancel()
	select {
	case err := <-runErr:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("pipeline did not stop")
	}
	<-restarted.stopped
	assert.Equal(t, []string{"via-http"}, sink.names())
	assert.Equal(t, 1, sink.shutdowns)
}
