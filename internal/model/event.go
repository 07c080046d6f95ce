// Package model defines the core data structures used throughout the agent.
package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// EventType discriminates the event variants understood by the ingest API.
type EventType string

const (
	EventTypeCustom   EventType = "custom"
	EventTypeIdentify EventType = "identify"
	EventTypeStage    EventType = "stage"
	EventTypeBilling  EventType = "billing"
)

// JourneyStage is the user journey stage carried by stage events.
type JourneyStage string

const (
	StageActivated JourneyStage = "activated"
	StageEngaged   JourneyStage = "engaged"
	StageInactive  JourneyStage = "inactive"
)

// BillingStatus is the customer billing status carried by billing events.
type BillingStatus string

const (
	BillingTrialing BillingStatus = "trialing"
	BillingPaid     BillingStatus = "paid"
	BillingChurned  BillingStatus = "churned"
)

// Event is a single analytics occurrence.
// Events are treated as immutable once built; use Clone before mutating a shared one.
type Event struct {
	Type      EventType `json:"type"`
	Timestamp int64     `json:"timestamp"` // Unix milliseconds
	URL       string    `json:"url"`
	Path      string    `json:"path"`

	// Custom events
	EventName string `json:"eventName,omitempty"`

	// Identify events
	Email       string         `json:"email,omitempty"`
	UserID      string         `json:"userId,omitempty"`
	Fingerprint string         `json:"fingerprint,omitempty"`
	Traits      map[string]any `json:"traits,omitempty"`

	// Stage events
	Stage JourneyStage `json:"stage,omitempty"`

	// Billing events
	Status           BillingStatus `json:"status,omitempty"`
	CustomerID       string        `json:"customerId,omitempty"`
	StripeCustomerID string        `json:"stripeCustomerId,omitempty"`
	Domain           string        `json:"domain,omitempty"`

	Properties map[string]any `json:"properties,omitempty"`
}

// MarshalJSON writes eventName on every custom event, and traits and
// properties whenever the map is set, even when empty.
func (e Event) MarshalJSON() ([]byte, error) {
	type plain Event
	wire := struct {
		plain
		EventName  *string         `json:"eventName,omitempty"`
		Traits     *map[string]any `json:"traits,omitempty"`
		Properties *map[string]any `json:"properties,omitempty"`
	}{plain: plain(e)}

	if e.Type == EventTypeCustom {
		wire.EventName = &e.EventName
	}
	if e.Traits != nil {
		wire.Traits = &e.Traits
	}
	if e.Properties != nil {
		wire.Properties = &e.Properties
	}
	return json.Marshal(wire)
}

// ErrInvalidEvent is returned by Validate for events the ingest API would reject.
var ErrInvalidEvent = errors.New("invalid event")

// Validate checks the variant-specific required fields.
func (e Event) Validate() error {
	switch e.Type {
	case EventTypeCustom:
		if e.EventName == "" {
			return fmt.Errorf("%w: custom event requires eventName", ErrInvalidEvent)
		}
	case EventTypeIdentify:
		if e.Email == "" && e.UserID == "" && e.Fingerprint == "" {
			return fmt.Errorf("%w: identify event requires email, userId or fingerprint", ErrInvalidEvent)
		}
	case EventTypeStage:
		switch e.Stage {
		case StageActivated, StageEngaged, StageInactive:
		default:
			return fmt.Errorf("%w: unknown stage %q", ErrInvalidEvent, e.Stage)
		}
	case EventTypeBilling:
		switch e.Status {
		case BillingTrialing, BillingPaid, BillingChurned:
		default:
			return fmt.Errorf("%w: unknown billing status %q", ErrInvalidEvent, e.Status)
		}
		if e.Domain == "" {
			return fmt.Errorf("%w: billing event requires domain", ErrInvalidEvent)
		}
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidEvent, e.Type)
	}
	return nil
}

// Time returns the event timestamp as a time.Time.
func (e Event) Time() time.Time {
	return time.UnixMilli(e.Timestamp)
}

// Clone creates a copy of the event with independent property and trait maps.
func (e Event) Clone() Event {
	clone := e
	if e.Properties != nil {
		clone.Properties = make(map[string]any, len(e.Properties))
		for k, v := range e.Properties {
			clone.Properties[k] = v
		}
	}
	if e.Traits != nil {
		clone.Traits = make(map[string]any, len(e.Traits))
		for k, v := range e.Traits {
			clone.Traits[k] = v
		}
	}
	return clone
}
