package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/GabrielNunesIT/go-libs/logger"
	"github.com/GabrielNunesIT/outlit-agent/internal/model"
	"github.com/GabrielNunesIT/outlit-agent/internal/pipeline"
)

// discardSink lets validate build the pipeline without a transport.
type discardSink struct{}

func (discardSink) Enqueue(context.Context, model.Event) error { return nil }
func (discardSink) Shutdown(context.Context) error             { return nil }

// NewValidateCmd creates the validate command.
func NewValidateCmd(cfgFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, *cfgFile)
			if err != nil {
				return fmt.Errorf("configuration error: %w", err)
			}

			// Create a silent logger for validation (discards output)
			log := logger.NewConsoleLogger(io.Discard)

			// Building the pipeline compiles every filter expression.
			p, err := pipeline.New(cfg, discardSink{}, log)
			if err != nil {
				return fmt.Errorf("pipeline configuration error: %w", err)
			}

			kind := cfg.Transport.Kind
			if kind == "" {
				kind = "http"
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Configuration valid:\n")
			fmt.Fprintf(out, "  Ingestors: %d enabled (%s)\n", p.IngestorCount(), strings.Join(pipeline.EnabledIngestors(cfg), ", "))
			fmt.Fprintf(out, "  Transport: %s\n", kind)
			fmt.Fprintf(out, "  Batching:  max %d events every %s\n", cfg.Client.MaxBatchSize, cfg.Client.FlushInterval)
			return nil
		},
	}
}
