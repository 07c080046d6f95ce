package processor

import (
	"context"
	"os"

	"github.com/GabrielNunesIT/outlit-agent/internal/config"
	"github.com/GabrielNunesIT/outlit-agent/internal/model"
)

// Enricher adds agent-side properties to decoded events.
// Properties already set on the event win over static ones.
type Enricher struct {
	cfg      config.EnricherConfig
	hostname string
}

// NewEnricher creates a new enrichment processor.
func NewEnricher(cfg config.EnricherConfig) *Enricher {
	e := &Enricher{cfg: cfg}

	// Pre-fetch hostname
	if cfg.AddHostname {
		e.hostname, _ = os.Hostname()
	}

	return e
}

// WithHostname creates an Enricher that reports a specific hostname.
func WithHostname(cfg config.EnricherConfig, hostname string) *Enricher {
	e := NewEnricher(cfg)
	e.hostname = hostname
	return e
}

// Name returns the processor identifier.
func (e *Enricher) Name() string {
	return "enricher"
}

// Process enriches env.Event. Envelopes without an event are left alone.
func (e *Enricher) Process(ctx context.Context, env *model.Envelope) error {
	if !e.cfg.Enabled || env.Event == nil {
		return nil
	}

	ev := env.Event.Clone()
	if ev.Properties == nil {
		ev.Properties = make(map[string]any)
	}
	set := func(k string, v any) {
		if _, exists := ev.Properties[k]; !exists {
			ev.Properties[k] = v
		}
	}

	for k, v := range e.cfg.StaticProperties {
		set(k, v)
	}
	if e.cfg.AddHostname && e.hostname != "" {
		set("hostname", e.hostname)
		env.Metadata["hostname"] = e.hostname
	}
	if e.cfg.AddSource {
		set("agent_source", env.Source)
	}

	if len(ev.Properties) == 0 {
		ev.Properties = nil
	}
	env.Event = &ev
	return nil
}
