package ingestor

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"os"

	"github.com/GabrielNunesIT/go-libs/logger"
	"github.com/GabrielNunesIT/outlit-agent/internal/config"
	"github.com/GabrielNunesIT/outlit-agent/internal/model"
)

// StdinIngestor reads one JSON event per line from standard input.
type StdinIngestor struct {
	cfg    config.StdinIngestorConfig
	name   string
	reader io.Reader
	logger logger.ILogger
}

// NewStdinIngestor creates a new stdin ingestor.
func NewStdinIngestor(cfg config.StdinIngestorConfig, log logger.ILogger) *StdinIngestor {
	return NewStdinIngestorWithReader(cfg, os.Stdin, log)
}

// NewStdinIngestorWithReader creates a stdin ingestor with a custom reader (for testing).
func NewStdinIngestorWithReader(cfg config.StdinIngestorConfig, reader io.Reader, log logger.ILogger) *StdinIngestor {
	return &StdinIngestor{
		cfg:    cfg,
		name:   "stdin",
		reader: reader,
		logger: log.SubLogger("StdinIngestor"),
	}
}

// Name returns the ingestor identifier.
func (s *StdinIngestor) Name() string {
	return s.name
}

// Start reads until EOF or cancellation. EOF is a clean stop.
func (s *StdinIngestor) Start(ctx context.Context, out chan<- *model.Envelope) error {
	defer close(out)

	s.logger.Info("reading events from stdin")

	scanner := bufio.NewScanner(s.reader)
	// Increase buffer for long lines
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	lineCount := 0
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		// Make a copy since scanner reuses buffer
		raw := make([]byte, len(line))
		copy(raw, line)

		lineCount++
		if err := send(ctx, out, model.NewEnvelope(s.name, raw)); err != nil {
			s.logger.Debugf("stdin ingestor stopped: lines_read=%d", lineCount)
			return err
		}
	}

	if err := scanner.Err(); err != nil {
		s.logger.Errorf("stdin read error: %v", err)
		return err
	}

	s.logger.Infof("EOF reached: lines_read=%d", lineCount)
	return nil
}
