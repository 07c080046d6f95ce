// Package ingestor defines the interface and implementations for event sources.
package ingestor

import (
	"context"

	"github.com/GabrielNunesIT/outlit-agent/internal/model"
)

// Ingestor defines the contract for event sources.
// Each ingestor runs in its own goroutine and pushes raw records to the output channel.
type Ingestor interface {
	// Start begins ingesting and sends envelopes to the output channel.
	// It blocks until the context is cancelled or an unrecoverable error occurs.
	// The implementation must close the output channel when done.
	Start(ctx context.Context, out chan<- *model.Envelope) error

	// Name returns a unique identifier for this ingestor instance.
	Name() string
}

// send delivers env unless ctx is cancelled first.
func send(ctx context.Context, out chan<- *model.Envelope, env *model.Envelope) error {
	select {
	case out <- env:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
