// Package transport defines the delivery contract and its destinations.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/GabrielNunesIT/go-libs/logger"
	"github.com/GabrielNunesIT/outlit-agent/internal/config"
	"github.com/GabrielNunesIT/outlit-agent/internal/model"
)

// Transport delivers one payload to a destination.
// A nil error means the whole batch was accepted; per-event problems are
// reported through IngestResponse.Errors. Any error means nothing should be
// considered delivered.
type Transport interface {
	// Send delivers the payload. Must be safe to call concurrently.
	Send(ctx context.Context, payload *model.IngestPayload) (*model.IngestResponse, error)

	// Name returns a unique identifier for this transport.
	Name() string

	// Close releases connections and file handles.
	Close(ctx context.Context) error
}

// HTTPDoer abstracts HTTP client operations for testing.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Ensure http.Client implements HTTPDoer.
var _ HTTPDoer = (*http.Client)(nil)

// Kind classifies a delivery failure.
type Kind string

const (
	KindNetwork Kind = "network"
	KindStatus  Kind = "status"
	KindDecode  Kind = "decode"
	KindEncode  Kind = "encode"
	KindStorage Kind = "storage"
)

// Error is returned by every transport when a batch was not delivered.
type Error struct {
	Transport  string
	Kind       Kind
	StatusCode int
	Body       string
	Err        error
}

func (e *Error) Error() string {
	switch {
	case e.Kind == KindStatus:
		return fmt.Sprintf("%s: status %d: %s", e.Transport, e.StatusCode, e.Body)
	case e.Err != nil:
		return fmt.Sprintf("%s: %s error: %v", e.Transport, e.Kind, e.Err)
	default:
		return fmt.Sprintf("%s: %s error", e.Transport, e.Kind)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether err is a delivery failure whose batch can be
// attempted again.
func IsRetryable(err error) bool {
	var te *Error
	return errors.As(err, &te)
}

// New builds the transport selected by cfg.Transport.Kind.
func New(ctx context.Context, cfg *config.Config, log logger.ILogger) (Transport, error) {
	switch cfg.Transport.Kind {
	case config.TransportHTTP, "":
		return NewHTTPTransport(cfg.Client, log), nil
	case config.TransportStdout:
		return NewStdoutTransport(cfg.Transport.Stdout, log), nil
	case config.TransportFile:
		return NewFileTransport(cfg.Transport.File, log)
	case config.TransportElasticsearch:
		return NewElasticsearchTransport(cfg.Transport.Elasticsearch, log)
	case config.TransportPostgres:
		return NewPostgresTransport(ctx, cfg.Transport.Postgres, log)
	default:
		return nil, fmt.Errorf("%w: unknown transport kind %q", config.ErrInvalidConfig, cfg.Transport.Kind)
	}
}
