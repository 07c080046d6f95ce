package processor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/GabrielNunesIT/outlit-agent/internal/builder"
	"github.com/GabrielNunesIT/outlit-agent/internal/config"
	"github.com/GabrielNunesIT/outlit-agent/internal/model"
)

// Decoder turns the raw JSON of an envelope into a normalized event.
// Envelopes that already carry an event are only normalized.
type Decoder struct {
	cfg config.DecoderConfig
}

// NewDecoder creates a new decoding processor.
func NewDecoder(cfg config.DecoderConfig) *Decoder {
	return &Decoder{cfg: cfg}
}

// Name returns the processor identifier.
func (d *Decoder) Name() string {
	return "decoder"
}

// Process populates env.Event.
func (d *Decoder) Process(ctx context.Context, env *model.Envelope) error {
	var event model.Event
	if env.Event != nil {
		event = *env.Event
	} else {
		raw := bytes.TrimSpace(env.Raw)
		if len(raw) == 0 || raw[0] != '{' {
			return fmt.Errorf("%w: not a JSON object", ErrDecode)
		}
		if err := json.Unmarshal(raw, &event); err != nil {
			return fmt.Errorf("%w: %w", ErrDecode, err)
		}
	}

	event = builder.Normalize(event)
	if d.cfg.Validate {
		if err := event.Validate(); err != nil {
			return fmt.Errorf("%w: %w", ErrDecode, err)
		}
	}

	env.Event = &event
	return nil
}
