// Package pipeline orchestrates the event ingestion flow.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/GabrielNunesIT/go-libs/logger"
	"github.com/GabrielNunesIT/outlit-agent/internal/client"
	"github.com/GabrielNunesIT/outlit-agent/internal/config"
	"github.com/GabrielNunesIT/outlit-agent/internal/ingestor"
	"github.com/GabrielNunesIT/outlit-agent/internal/model"
	"github.com/GabrielNunesIT/outlit-agent/internal/processor"
)

// ErrNotRunning is returned by Reconfigure before Run has started.
var ErrNotRunning = errors.New("pipeline is not running")

// ingestorNames fixes the start order.
var ingestorNames = []string{"stdin", "file", "syslog", "journal", "http"}

// Sink receives decoded events. *client.Client implements it.
type Sink interface {
	Enqueue(ctx context.Context, event model.Event) error
	Shutdown(ctx context.Context) error
}

// IngestorFactory builds the named ingestor from cfg.
type IngestorFactory func(name string, cfg *config.Config, log logger.ILogger) (ingestor.Ingestor, error)

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithIngestorFactory replaces the built-in ingestor constructors.
func WithIngestorFactory(f IngestorFactory) Option {
	return func(p *Pipeline) {
		p.factory = f
	}
}

// WithHTTPOptions passes options to the HTTP ingestor.
func WithHTTPOptions(opts ...ingestor.HTTPOption) Option {
	return func(p *Pipeline) {
		p.httpOpts = append(p.httpOpts, opts...)
	}
}

// managedIngestor wraps an ingestor with its lifecycle management.
type managedIngestor struct {
	ingestor  ingestor.Ingestor
	processor *processor.Chain
	buffer    int
	cancel    context.CancelFunc
	done      chan struct{}
}

// Stats counts envelopes that went through the processor chains.
type Stats struct {
	Ingestors int   `json:"ingestors"`
	Accepted  int64 `json:"accepted"`
	Filtered  int64 `json:"filtered"`
	Invalid   int64 `json:"invalid"`
	Failed    int64 `json:"failed"`
}

// Pipeline feeds every enabled ingestor through its processor chain into the sink.
type Pipeline struct {
	cfg      *config.Config
	sink     Sink
	logger   logger.ILogger
	factory  IngestorFactory
	httpOpts []ingestor.HTTPOption
	mu       sync.RWMutex

	ingestors map[string]*managedIngestor

	// runCtx is the main run context; ingestors added later derive from it.
	runCtx context.Context
	// added tracks ingestors started by Reconfigure, outside the errgroup.
	added sync.WaitGroup

	accepted atomic.Int64
	filtered atomic.Int64
	invalid  atomic.Int64
	failed   atomic.Int64
}

// New creates a new pipeline from configuration.
func New(cfg *config.Config, sink Sink, log logger.ILogger, opts ...Option) (*Pipeline, error) {
	if sink == nil {
		return nil, errors.New("sink is required")
	}

	p := &Pipeline{
		cfg:       cfg,
		sink:      sink,
		logger:    log.SubLogger("Pipeline"),
		ingestors: make(map[string]*managedIngestor),
	}
	p.factory = p.defaultIngestor
	for _, opt := range opts {
		opt(p)
	}

	if err := p.buildIngestors(); err != nil {
		return nil, fmt.Errorf("building ingestors: %w", err)
	}

	return p, nil
}

// EnabledIngestors lists the enabled ingestors of cfg in start order.
func EnabledIngestors(cfg *config.Config) []string {
	var names []string
	for _, name := range ingestorNames {
		if ingestorEnabled(cfg, name) {
			names = append(names, name)
		}
	}
	return names
}

func ingestorEnabled(cfg *config.Config, name string) bool {
	switch name {
	case "stdin":
		return cfg.Ingestors.Stdin.Enabled
	case "file":
		return cfg.Ingestors.File.Enabled
	case "syslog":
		return cfg.Ingestors.Syslog.Enabled
	case "journal":
		return cfg.Ingestors.Journal.Enabled
	case "http":
		return cfg.Ingestors.HTTP.Enabled
	}
	return false
}

// ingestorSettings returns the config section of one ingestor, for change detection.
func ingestorSettings(cfg *config.Config, name string) any {
	switch name {
	case "stdin":
		return cfg.Ingestors.Stdin
	case "file":
		return cfg.Ingestors.File
	case "syslog":
		return cfg.Ingestors.Syslog
	case "journal":
		return cfg.Ingestors.Journal
	case "http":
		return cfg.Ingestors.HTTP
	}
	return nil
}

func processorConfig(cfg *config.Config, name string) config.ProcessorConfig {
	switch name {
	case "stdin":
		return cfg.Ingestors.Stdin.Processor
	case "file":
		return cfg.Ingestors.File.Processor
	case "syslog":
		return cfg.Ingestors.Syslog.Processor
	case "journal":
		return cfg.Ingestors.Journal.Processor
	case "http":
		return cfg.Ingestors.HTTP.Processor
	}
	return config.ProcessorConfig{}
}

func (p *Pipeline) defaultIngestor(name string, cfg *config.Config, log logger.ILogger) (ingestor.Ingestor, error) {
	switch name {
	case "stdin":
		return ingestor.NewStdinIngestor(cfg.Ingestors.Stdin, log), nil
	case "file":
		return ingestor.NewFileIngestor(cfg.Ingestors.File, log), nil
	case "syslog":
		return ingestor.NewSyslogIngestor(cfg.Ingestors.Syslog, log), nil
	case "journal":
		return ingestor.NewJournalIngestor(cfg.Ingestors.Journal, log), nil
	case "http":
		return ingestor.NewHTTPIngestor(cfg.Ingestors.HTTP, log, p.httpOpts...), nil
	}
	return nil, fmt.Errorf("unknown ingestor: %s", name)
}

// newManaged builds one ingestor and its processor chain.
func (p *Pipeline) newManaged(name string, cfg *config.Config) (*managedIngestor, error) {
	ing, err := p.factory(name, cfg, p.logger)
	if err != nil {
		return nil, err
	}
	chain, err := processor.NewChainFromConfig(processorConfig(cfg, name))
	if err != nil {
		return nil, fmt.Errorf("ingestor %s: %w", name, err)
	}
	return &managedIngestor{
		ingestor:  ing,
		processor: chain,
		buffer:    cfg.Pipeline.BufferSize,
		done:      make(chan struct{}),
	}, nil
}

// buildIngestors creates enabled ingestors with their processor chains.
func (p *Pipeline) buildIngestors() error {
	for _, name := range EnabledIngestors(p.cfg) {
		mi, err := p.newManaged(name, p.cfg)
		if err != nil {
			return err
		}
		p.ingestors[name] = mi
	}

	if len(p.ingestors) == 0 {
		return fmt.Errorf("no ingestors enabled")
	}

	p.logger.Debugf("built %d ingestors", len(p.ingestors))
	return nil
}

// Run starts the pipeline and blocks until ctx is cancelled or every ingestor
// has stopped. It then shuts the sink down, which performs the terminal flush.
func (p *Pipeline) Run(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)

	// Start each ingestor with its own context
	p.mu.Lock()
	p.runCtx = gCtx
	for _, name := range EnabledIngestors(p.cfg) {
		mi, ok := p.ingestors[name]
		if !ok {
			continue
		}
		ingestorCtx, cancel := context.WithCancel(gCtx)
		mi.cancel = cancel

		g.Go(func() error {
			defer close(mi.done)
			defer cancel()
			p.logger.Debugf("started ingestor: %s", name)
			return p.runIngestorPipeline(ingestorCtx, name, mi)
		})
	}
	p.mu.Unlock()

	// Wait cancels gCtx, which also stops ingestors added by Reconfigure.
	err := g.Wait()

	p.mu.Lock()
	p.runCtx = nil
	p.mu.Unlock()
	p.added.Wait()

	if shutdownErr := p.shutdown(); shutdownErr != nil {
		return errors.Join(err, shutdownErr)
	}
	return err
}

// shutdown hands the sink its terminal flush.
func (p *Pipeline) shutdown() error {
	p.mu.RLock()
	timeout := p.cfg.Pipeline.ShutdownTimeout
	p.mu.RUnlock()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := p.sink.Shutdown(shutdownCtx); err != nil {
		p.logger.Errorf("sink shutdown failed: %v", err)
		return fmt.Errorf("shutting down sink: %w", err)
	}
	p.logger.Debug("sink shut down")
	return nil
}

// runIngestorPipeline runs a single ingestor and its processor chain.
// Envelopes already buffered when ctx is cancelled are still processed.
func (p *Pipeline) runIngestorPipeline(ctx context.Context, name string, mi *managedIngestor) error {
	rawChan := make(chan *model.Envelope, mi.buffer)

	var wg sync.WaitGroup

	// Start processor goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()
		drainCtx := context.WithoutCancel(ctx)
		for env := range rawChan {
			p.handle(drainCtx, name, mi.processor, env)
		}
	}()

	// Run the ingestor
	err := mi.ingestor.Start(ctx, rawChan)

	// Wait for processor to drain
	wg.Wait()

	p.logger.Debugf("ingestor stopped: name=%s", name)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// handle processes one envelope and enqueues the resulting event.
func (p *Pipeline) handle(ctx context.Context, name string, chain *processor.Chain, env *model.Envelope) {
	if err := chain.Process(ctx, env); err != nil {
		switch {
		case errors.Is(err, processor.ErrFiltered):
			p.filtered.Add(1)
			p.logger.Debugf("event filtered: ingestor=%s", name)
		case errors.Is(err, processor.ErrDecode):
			p.invalid.Add(1)
			p.logger.Warningf("dropping invalid event: ingestor=%s, error=%v", name, err)
		default:
			p.failed.Add(1)
			p.logger.Warningf("processor error: ingestor=%s, error=%v", name, err)
		}
		return
	}

	if err := p.sink.Enqueue(ctx, *env.Event); err != nil {
		if errors.Is(err, client.ErrShutdown) {
			p.failed.Add(1)
			p.logger.Warningf("event dropped, client shut down: ingestor=%s", name)
			return
		}
		// The event is queued; only the size-triggered flush failed.
		p.logger.Warningf("flush after enqueue failed: ingestor=%s, error=%v", name, err)
	}
	p.accepted.Add(1)
}

// Reconfigure applies a new configuration, adding, removing or restarting
// ingestors as needed. Client and transport settings cannot change at runtime.
func (p *Pipeline) Reconfigure(newCfg *config.Config) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.runCtx == nil {
		return ErrNotRunning
	}

	oldCfg := p.cfg

	if !reflect.DeepEqual(oldCfg.Client, newCfg.Client) || !reflect.DeepEqual(oldCfg.Transport, newCfg.Transport) {
		p.logger.Warning("client or transport settings changed; restart the agent to apply them")
	}

	for _, name := range ingestorNames {
		wasEnabled := ingestorEnabled(oldCfg, name)
		enabled := ingestorEnabled(newCfg, name)

		switch {
		case wasEnabled && !enabled:
			p.removeIngestor(name)
		case !wasEnabled && enabled:
			if err := p.addIngestor(name, newCfg); err != nil {
				return fmt.Errorf("reconfiguring ingestors: %w", err)
			}
		case enabled && !reflect.DeepEqual(ingestorSettings(oldCfg, name), ingestorSettings(newCfg, name)):
			p.removeIngestor(name)
			if err := p.addIngestor(name, newCfg); err != nil {
				return fmt.Errorf("reconfiguring ingestors: %w", err)
			}
		}
	}

	p.cfg = newCfg
	p.logger.Infof("configuration applied: ingestors=%d", len(p.ingestors))
	return nil
}

// addIngestor adds a new ingestor at runtime.
func (p *Pipeline) addIngestor(name string, cfg *config.Config) error {
	mi, err := p.newManaged(name, cfg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(p.runCtx)
	mi.cancel = cancel
	p.ingestors[name] = mi

	p.added.Add(1)
	go func() {
		defer p.added.Done()
		defer close(mi.done)
		defer cancel()
		if err := p.runIngestorPipeline(ctx, name, mi); err != nil {
			p.logger.Warningf("ingestor error: name=%s, error=%v", name, err)
		}
	}()

	p.logger.Infof("ingestor added: %s", name)
	return nil
}

// removeIngestor stops and removes an ingestor. An ingestor blocked in a read
// that ignores cancellation is abandoned after the shutdown timeout.
func (p *Pipeline) removeIngestor(name string) {
	mi, ok := p.ingestors[name]
	if !ok {
		return
	}

	if mi.cancel != nil {
		mi.cancel()
	}

	select {
	case <-mi.done:
	case <-time.After(p.cfg.Pipeline.ShutdownTimeout):
		p.logger.Warningf("ingestor did not stop in time: %s", name)
	}

	delete(p.ingestors, name)
	p.logger.Infof("ingestor removed: %s", name)
}

// IngestorCount returns the number of enabled ingestors.
func (p *Pipeline) IngestorCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.ingestors)
}

// Stats returns a snapshot of the processing counters.
func (p *Pipeline) Stats() Stats {
	return Stats{
		Ingestors: p.IngestorCount(),
		Accepted:  p.accepted.Load(),
		Filtered:  p.filtered.Load(),
		Invalid:   p.invalid.Load(),
		Failed:    p.failed.Load(),
	}
}
