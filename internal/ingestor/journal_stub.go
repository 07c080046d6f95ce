//go:build !linux || !cgo

package ingestor

import (
	"context"
	"fmt"
	"runtime"

	"github.com/GabrielNunesIT/go-libs/logger"
	"github.com/GabrielNunesIT/outlit-agent/internal/config"
	"github.com/GabrielNunesIT/outlit-agent/internal/model"
)

// JournalIngestor is a stub for builds without systemd support.
type JournalIngestor struct {
	cfg    config.JournalIngestorConfig
	name   string
	logger logger.ILogger
}

// NewJournalIngestor creates a new journal ingestor stub.
func NewJournalIngestor(cfg config.JournalIngestorConfig, log logger.ILogger) *JournalIngestor {
	return &JournalIngestor{
		cfg:    cfg,
		name:   "journal",
		logger: log.SubLogger("JournalIngestor"),
	}
}

// Name returns the ingestor identifier.
func (j *JournalIngestor) Name() string {
	return j.name
}

// Start always fails: the journal needs linux and cgo.
func (j *JournalIngestor) Start(ctx context.Context, out chan<- *model.Envelope) error {
	defer close(out)
	return fmt.Errorf("journal ingestor requires linux with cgo (current: %s, cgo disabled or unsupported)", runtime.GOOS)
}
