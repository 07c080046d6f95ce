package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/GabrielNunesIT/go-libs/logger"
	"github.com/GabrielNunesIT/outlit-agent/internal/config"
	"github.com/GabrielNunesIT/outlit-agent/internal/model"
)

// StdoutTransport prints payloads instead of delivering them (dry run).
type StdoutTransport struct {
	cfg    config.StdoutTransportConfig
	writer io.Writer
	mu     sync.Mutex
	logger logger.ILogger
}

// NewStdoutTransport creates a stdout transport.
func NewStdoutTransport(cfg config.StdoutTransportConfig, log logger.ILogger) *StdoutTransport {
	return NewStdoutTransportWithWriter(cfg, os.Stdout, log)
}

// NewStdoutTransportWithWriter creates a stdout transport with a custom writer (for testing).
func NewStdoutTransportWithWriter(cfg config.StdoutTransportConfig, w io.Writer, log logger.ILogger) *StdoutTransport {
	return &StdoutTransport{
		cfg:    cfg,
		writer: w,
		logger: log.SubLogger("StdoutTransport"),
	}
}

// Name returns the transport identifier.
func (s *StdoutTransport) Name() string {
	return "stdout"
}

// Close is a no-op for stdout.
func (s *StdoutTransport) Close(ctx context.Context) error {
	s.logger.Debug("stdout transport closed")
	return nil
}

// Send writes the payload. JSON format writes the payload as a single line,
// text format writes one line per event.
func (s *StdoutTransport) Send(ctx context.Context, payload *model.IngestPayload) (*model.IngestResponse, error) {
	var output []byte
	var err error

	switch s.cfg.Format {
	case "text":
		output = s.formatText(payload)
	default:
		output, err = json.Marshal(payload)
		if err != nil {
			return nil, &Error{Transport: s.Name(), Kind: KindEncode, Err: err}
		}
		output = append(output, '\n')
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.writer.Write(output); err != nil {
		return nil, &Error{Transport: s.Name(), Kind: KindStorage, Err: err}
	}
	return &model.IngestResponse{Success: true, Processed: len(payload.Events)}, nil
}

func (s *StdoutTransport) formatText(payload *model.IngestPayload) []byte {
	var out []byte
	for _, e := range payload.Events {
		name := e.EventName
		switch e.Type {
		case model.EventTypeStage:
			name = string(e.Stage)
		case model.EventTypeBilling:
			name = string(e.Status)
		}
		ts := e.Time().UTC().Format(time.RFC3339)
		out = append(out, fmt.Sprintf("[%s] [%s] %s %s %s\n", ts, payload.Source, e.Type, name, e.URL)...)
	}
	return out
}
