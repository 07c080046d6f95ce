package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/GabrielNunesIT/go-libs/logger"
	"github.com/GabrielNunesIT/outlit-agent/internal/client"
	"github.com/GabrielNunesIT/outlit-agent/internal/config"
	"github.com/GabrielNunesIT/outlit-agent/internal/ingestor"
	"github.com/GabrielNunesIT/outlit-agent/internal/pipeline"
	"github.com/GabrielNunesIT/outlit-agent/internal/transport"
)

// NewRunCmd creates the run command.
func NewRunCmd(cfgFile, logLevel *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the agent",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAgent(cmd, cfgFile, logLevel)
		},
	}

	// Ingestor flags
	cmd.Flags().Bool("stdin", false, "enable stdin ingestor")
	cmd.Flags().StringSlice("file", nil, "event files to tail (enables file ingestor)")
	cmd.Flags().String("syslog-address", "", "syslog listen address (enables syslog ingestor)")
	cmd.Flags().Bool("journal", false, "enable systemd journal ingestor")
	cmd.Flags().String("http-address", "", "HTTP listen address (enables HTTP ingestor)")

	// Transport flags
	cmd.Flags().String("transport", "", "transport kind (http, stdout, file, elasticsearch, postgres)")
	cmd.Flags().Bool("dry-run", false, "print batches to stdout instead of sending them")
	cmd.Flags().String("stdout-format", "", "stdout transport format (json, text)")

	// Hot-reload flag
	cmd.Flags().Bool("hot-reload", true, "enable hot-reload of config file")

	return cmd
}

// loadConfig loads, overrides and validates the configuration for run.
func loadConfig(cmd *cobra.Command, cfgFile string) (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	applyCLIOverrides(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if len(pipeline.EnabledIngestors(cfg)) == 0 {
		return nil, fmt.Errorf("%w: no ingestors enabled", config.ErrInvalidConfig)
	}
	return cfg, nil
}

func runAgent(cmd *cobra.Command, cfgFile, logLevel *string) error {
	cfg, err := loadConfig(cmd, *cfgFile)
	if err != nil {
		return err
	}

	log := SetupLogging(cmd.ErrOrStderr(), effectiveLevel(*logLevel, cfg.LogLevel))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tr, err := transport.New(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("creating transport: %w", err)
	}
	defer func() {
		closeCtx, closeCancel := context.WithTimeout(context.Background(), cfg.Pipeline.ShutdownTimeout)
		defer closeCancel()
		if err := tr.Close(closeCtx); err != nil {
			log.Warningf("closing transport: %v", err)
		}
	}()

	c, err := client.New(cfg.Client, tr, log)
	if err != nil {
		return fmt.Errorf("creating client: %w", err)
	}

	var p *pipeline.Pipeline
	p, err = pipeline.New(cfg, c, log, pipeline.WithHTTPOptions(
		ingestor.WithReadiness(func() error {
			if c.IsShutdown() {
				return client.ErrShutdown
			}
			return nil
		}),
		ingestor.WithStats(func() any {
			return map[string]any{"client": c.Stats(), "pipeline": p.Stats()}
		}),
	))
	if err != nil {
		_ = c.Shutdown(ctx)
		return fmt.Errorf("creating pipeline: %w", err)
	}

	log.Infof("starting outlit-agent: version=%s, ingestors=%d, transport=%s",
		Version, p.IngestorCount(), tr.Name())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigChan)

	hotReloadEnabled, _ := cmd.Flags().GetBool("hot-reload")
	if *cfgFile != "" && hotReloadEnabled {
		startConfigWatcher(ctx, cmd, *cfgFile, p, log)
	}

	go handleSignals(ctx, cancel, sigChan, cmd, *cfgFile, p, log)

	if err := p.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("pipeline error: %w", err)
	}

	drainRemaining(c, cfg.Pipeline.ShutdownTimeout, log)

	stats := c.Stats()
	log.Infof("outlit-agent stopped: delivered=%d, pending=%d", stats.Delivered, stats.Pending)
	return nil
}

// drainRemaining retries events requeued by a periodic send that failed
// after the client's terminal flush.
func drainRemaining(c *client.Client, timeout time.Duration, log logger.ILogger) {
	ctx := context.Background()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	select {
	case <-c.Stopped():
	case <-ctx.Done():
		log.Warningf("periodic flush still running after %s", timeout)
		return
	}

	if c.PendingCount() == 0 {
		return
	}
	log.Infof("flushing events requeued during shutdown: count=%d", c.PendingCount())
	if err := c.Flush(ctx); err != nil {
		log.Errorf("final flush failed: pending=%d, error=%v", c.PendingCount(), err)
	}
}

func startConfigWatcher(ctx context.Context, cmd *cobra.Command, cfgFile string, p *pipeline.Pipeline, log logger.ILogger) {
	watcher := config.NewConfigWatcher(cfgFile, log)
	if err := watcher.Start(ctx); err != nil {
		log.Warningf("failed to start config watcher: %v", err)
		return
	}

	log.Infof("hot-reload enabled: config=%s", cfgFile)

	go func() {
		for {
			select {
			case newCfg := <-watcher.Changes():
				applyCLIOverrides(cmd, newCfg)
				reconfigure(p, newCfg, log)
			case err := <-watcher.Errors():
				log.Errorf("config watcher error: %v", err)
			case <-ctx.Done():
				return
			}
		}
	}()
}

func handleSignals(ctx context.Context, cancel context.CancelFunc, sigChan <-chan os.Signal, cmd *cobra.Command, cfgFile string, p *pipeline.Pipeline, log logger.ILogger) {
	for {
		select {
		case sig := <-sigChan:
			switch sig {
			case syscall.SIGHUP:
				log.Info("received SIGHUP, reloading config")
				newCfg, err := loadConfig(cmd, cfgFile)
				if err != nil {
					log.Errorf("failed to reload config: %v", err)
					continue
				}
				reconfigure(p, newCfg, log)
			case syscall.SIGINT, syscall.SIGTERM:
				log.Infof("received shutdown signal: %v", sig)
				cancel()
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func reconfigure(p *pipeline.Pipeline, cfg *config.Config, log logger.ILogger) {
	if len(pipeline.EnabledIngestors(cfg)) == 0 {
		log.Errorf("reconfigure rejected: no ingestors enabled")
		return
	}
	if err := p.Reconfigure(cfg); err != nil {
		log.Errorf("reconfigure failed: %v", err)
	}
}

func applyCLIOverrides(cmd *cobra.Command, cfg *config.Config) {
	if v, _ := cmd.Flags().GetBool("stdin"); v {
		cfg.Ingestors.Stdin.Enabled = true
	}
	if v, _ := cmd.Flags().GetBool("journal"); v {
		cfg.Ingestors.Journal.Enabled = true
	}
	if files, _ := cmd.Flags().GetStringSlice("file"); len(files) > 0 {
		cfg.Ingestors.File.Enabled = true
		cfg.Ingestors.File.Paths = files
	}
	if addr, _ := cmd.Flags().GetString("syslog-address"); addr != "" {
		cfg.Ingestors.Syslog.Enabled = true
		cfg.Ingestors.Syslog.Address = addr
	}
	if addr, _ := cmd.Flags().GetString("http-address"); addr != "" {
		cfg.Ingestors.HTTP.Enabled = true
		cfg.Ingestors.HTTP.Address = addr
	}
	if kind, _ := cmd.Flags().GetString("transport"); kind != "" {
		cfg.Transport.Kind = kind
	}
	if v, _ := cmd.Flags().GetBool("dry-run"); v {
		cfg.Transport.Kind = config.TransportStdout
	}
	if format, _ := cmd.Flags().GetString("stdout-format"); format != "" {
		cfg.Transport.Stdout.Format = format
	}
}
