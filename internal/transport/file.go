package transport

import (
	"context"
	"encoding/json"
	"io"
	"sync"

	"github.com/GabrielNunesIT/go-libs/logger"
	"github.com/GabrielNunesIT/outlit-agent/internal/config"
	"github.com/GabrielNunesIT/outlit-agent/internal/model"
	"github.com/natefinch/lumberjack"
)

// WriterFactory creates a new WriteCloser.
type WriterFactory func(cfg config.FileTransportConfig) (io.WriteCloser, error)

// FileOption configures the FileTransport.
type FileOption func(*FileTransport)

// WithWriterFactory sets a custom factory for creating the writer.
func WithWriterFactory(f WriterFactory) FileOption {
	return func(t *FileTransport) {
		t.factory = f
	}
}

// FileTransport appends events as NDJSON to a rotating file.
type FileTransport struct {
	cfg     config.FileTransportConfig
	factory WriterFactory
	writer  io.WriteCloser
	mu      sync.Mutex
	logger  logger.ILogger
}

// NewFileTransport creates a file transport and opens its writer.
func NewFileTransport(cfg config.FileTransportConfig, log logger.ILogger, opts ...FileOption) (*FileTransport, error) {
	t := &FileTransport{
		cfg:    cfg,
		logger: log.SubLogger("FileTransport"),
	}

	t.factory = func(cfg config.FileTransportConfig) (io.WriteCloser, error) {
		return &lumberjack.Logger{
			Filename:   cfg.Path,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		}, nil
	}

	for _, opt := range opts {
		opt(t)
	}

	w, err := t.factory(cfg)
	if err != nil {
		return nil, err
	}
	t.writer = w
	t.logger.Debugf("file transport opened: path=%s", cfg.Path)
	return t, nil
}

// Name returns the transport identifier.
func (t *FileTransport) Name() string {
	return "file"
}

// Close closes the file writer.
func (t *FileTransport) Close(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.writer == nil {
		return nil
	}
	err := t.writer.Close()
	t.writer = nil
	return err
}

// Send writes one JSON line per event. The batch is encoded up front and
// written with a single call.
func (t *FileTransport) Send(ctx context.Context, payload *model.IngestPayload) (*model.IngestResponse, error) {
	var buf []byte
	for _, e := range payload.Events {
		line, err := json.Marshal(e)
		if err != nil {
			return nil, &Error{Transport: t.Name(), Kind: KindEncode, Err: err}
		}
		buf = append(buf, line...)
		buf = append(buf, '\n')
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.writer == nil {
		return nil, &Error{Transport: t.Name(), Kind: KindStorage, Err: io.ErrClosedPipe}
	}
	if len(buf) > 0 {
		if _, err := t.writer.Write(buf); err != nil {
			return nil, &Error{Transport: t.Name(), Kind: KindStorage, Err: err}
		}
	}
	return &model.IngestResponse{Success: true, Processed: len(payload.Events)}, nil
}
