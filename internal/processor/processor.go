// Package processor turns raw ingested records into delivery-ready events.
package processor

import (
	"context"
	"errors"
	"fmt"

	"github.com/GabrielNunesIT/outlit-agent/internal/config"
	"github.com/GabrielNunesIT/outlit-agent/internal/model"
)

var (
	// ErrFiltered marks an envelope dropped by a filter.
	ErrFiltered = errors.New("event filtered")

	// ErrDecode marks input that could not be turned into a valid event.
	ErrDecode = errors.New("cannot decode event")
)

// Processor defines the contract for envelope transformations.
// Processors modify the envelope in place.
type Processor interface {
	// Process transforms an envelope in place.
	// Returns an error if the envelope should be dropped.
	Process(ctx context.Context, env *model.Envelope) error

	// Name returns a unique identifier for this processor.
	Name() string
}

// Chain composes multiple processors into a sequential pipeline.
type Chain struct {
	processors []Processor
}

// NewChain creates a new processor chain.
func NewChain(processors ...Processor) *Chain {
	return &Chain{processors: processors}
}

// NewChainFromConfig builds decoder -> enricher -> filter for one ingestor.
func NewChainFromConfig(cfg config.ProcessorConfig) (*Chain, error) {
	chain := NewChain(NewDecoder(cfg.Decoder))
	if cfg.Enricher.Enabled {
		chain.Add(NewEnricher(cfg.Enricher))
	}
	if cfg.Filter.Expression != "" {
		f, err := NewFilter(cfg.Filter)
		if err != nil {
			return nil, fmt.Errorf("compiling filter: %w", err)
		}
		chain.Add(f)
	}
	return chain, nil
}

// Process applies all processors in sequence.
func (c *Chain) Process(ctx context.Context, env *model.Envelope) error {
	for _, p := range c.processors {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := p.Process(ctx, env); err != nil {
			return err
		}
	}
	return nil
}

// Name returns the chain identifier.
func (c *Chain) Name() string {
	return "chain"
}

// Add appends a processor to the chain.
func (c *Chain) Add(p Processor) {
	c.processors = append(c.processors, p)
}

// Len returns the number of processors in the chain.
func (c *Chain) Len() int {
	return len(c.processors)
}
