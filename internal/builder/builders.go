package builder

import (
	"github.com/GabrielNunesIT/outlit-agent/internal/model"
)

// TrackBuilder builds custom events.
type TrackBuilder struct {
	name       string
	identity   Identity
	extra      identifiers
	properties map[string]any
	timestamp  int64
}

// Track starts a custom event attributed to identity.
func Track(name string, identity Identity) *TrackBuilder {
	return &TrackBuilder{
		name:       name,
		identity:   identity,
		properties: make(map[string]any),
	}
}

// Email adds an email when the primary identity is not an email.
func (b *TrackBuilder) Email(v string) *TrackBuilder { b.extra.email = v; return b }

// UserID adds a user id when the primary identity is not a user id.
func (b *TrackBuilder) UserID(v string) *TrackBuilder { b.extra.userID = v; return b }

// Fingerprint links the event to a device.
func (b *TrackBuilder) Fingerprint(v string) *TrackBuilder { b.extra.fingerprint = v; return b }

// Property sets a single property.
func (b *TrackBuilder) Property(key string, value any) *TrackBuilder {
	b.properties[key] = value
	return b
}

// Timestamp overrides the event time (Unix milliseconds).
func (b *TrackBuilder) Timestamp(ms int64) *TrackBuilder { b.timestamp = ms; return b }

// Build implements Builder.
func (b *TrackBuilder) Build() model.Event {
	ids := resolve(b.identity, b.extra)

	props := make(map[string]any, len(b.properties)+3)
	for k, v := range b.properties {
		props[k] = v
	}
	ids.mirror(props)

	ts := b.timestamp
	if ts == 0 {
		ts = nowMillis()
	}

	return model.Event{
		Type:       model.EventTypeCustom,
		Timestamp:  ts,
		URL:        ids.url(),
		Path:       "/",
		EventName:  b.name,
		Properties: props,
	}
}

// IdentifyBuilder builds identify events.
type IdentifyBuilder struct {
	identity Identity
	extra    identifiers
	traits   map[string]any
}

// Identify starts an identify event for identity.
func Identify(identity Identity) *IdentifyBuilder {
	return &IdentifyBuilder{identity: identity, traits: make(map[string]any)}
}

// Email adds an email when the primary identity is not an email.
func (b *IdentifyBuilder) Email(v string) *IdentifyBuilder { b.extra.email = v; return b }

// UserID adds a user id when the primary identity is not a user id.
func (b *IdentifyBuilder) UserID(v string) *IdentifyBuilder { b.extra.userID = v; return b }

// Fingerprint links the device to the user.
func (b *IdentifyBuilder) Fingerprint(v string) *IdentifyBuilder { b.extra.fingerprint = v; return b }

// Trait sets a single user trait.
func (b *IdentifyBuilder) Trait(key string, value any) *IdentifyBuilder {
	b.traits[key] = value
	return b
}

// Build implements Builder.
func (b *IdentifyBuilder) Build() model.Event {
	ids := resolve(b.identity, b.extra)

	event := model.Event{
		Type:        model.EventTypeIdentify,
		Timestamp:   nowMillis(),
		URL:         ids.url(),
		Path:        "/",
		Email:       ids.email,
		UserID:      ids.userID,
		Fingerprint: ids.fingerprint,
	}
	if len(b.traits) > 0 {
		event.Traits = make(map[string]any, len(b.traits))
		for k, v := range b.traits {
			event.Traits[k] = v
		}
	}
	return event
}

// StageBuilder builds user journey stage events.
type StageBuilder struct {
	stage      model.JourneyStage
	identity   Identity
	extra      identifiers
	properties map[string]any
}

// Stage starts a stage event.
func Stage(stage model.JourneyStage, identity Identity) *StageBuilder {
	return &StageBuilder{stage: stage, identity: identity, properties: make(map[string]any)}
}

// Activate marks the user as activated.
func Activate(identity Identity) *StageBuilder { return Stage(model.StageActivated, identity) }

// Engaged marks the user as engaged.
func Engaged(identity Identity) *StageBuilder { return Stage(model.StageEngaged, identity) }

// Inactive marks the user as inactive.
func Inactive(identity Identity) *StageBuilder { return Stage(model.StageInactive, identity) }

// Email adds an email when the primary identity is not an email.
func (b *StageBuilder) Email(v string) *StageBuilder { b.extra.email = v; return b }

// UserID adds a user id when the primary identity is not a user id.
func (b *StageBuilder) UserID(v string) *StageBuilder { b.extra.userID = v; return b }

// Fingerprint links the event to a device.
func (b *StageBuilder) Fingerprint(v string) *StageBuilder { b.extra.fingerprint = v; return b }

// Property sets a single property.
func (b *StageBuilder) Property(key string, value any) *StageBuilder {
	b.properties[key] = value
	return b
}

// Build implements Builder.
func (b *StageBuilder) Build() model.Event {
	ids := resolve(b.identity, b.extra)

	props := make(map[string]any, len(b.properties)+3)
	for k, v := range b.properties {
		props[k] = v
	}
	ids.mirror(props)

	return model.Event{
		Type:       model.EventTypeStage,
		Timestamp:  nowMillis(),
		URL:        ids.url(),
		Path:       "/",
		Stage:      b.stage,
		Properties: props,
	}
}

// BillingBuilder builds customer billing events. Billing is keyed by the
// customer's domain rather than a user identity.
type BillingBuilder struct {
	status           model.BillingStatus
	domain           string
	customerID       string
	stripeCustomerID string
	properties       map[string]any
}

// Billing starts a billing event for the customer at domain.
func Billing(status model.BillingStatus, domain string) *BillingBuilder {
	return &BillingBuilder{status: status, domain: domain, properties: make(map[string]any)}
}

// Trialing marks the customer as trialing.
func Trialing(domain string) *BillingBuilder { return Billing(model.BillingTrialing, domain) }

// Paid marks the customer as paying.
func Paid(domain string) *BillingBuilder { return Billing(model.BillingPaid, domain) }

// Churned marks the customer as churned.
func Churned(domain string) *BillingBuilder { return Billing(model.BillingChurned, domain) }

// CustomerID sets the application's customer id.
func (b *BillingBuilder) CustomerID(v string) *BillingBuilder { b.customerID = v; return b }

// StripeCustomerID sets the Stripe customer id.
func (b *BillingBuilder) StripeCustomerID(v string) *BillingBuilder {
	b.stripeCustomerID = v
	return b
}

// Property sets a single property.
func (b *BillingBuilder) Property(key string, value any) *BillingBuilder {
	b.properties[key] = value
	return b
}

// Build implements Builder.
func (b *BillingBuilder) Build() model.Event {
	event := model.Event{
		Type:             model.EventTypeBilling,
		Timestamp:        nowMillis(),
		URL:              serverURL(b.domain),
		Path:             "/",
		Status:           b.status,
		CustomerID:       b.customerID,
		StripeCustomerID: b.stripeCustomerID,
		Domain:           b.domain,
	}
	if len(b.properties) > 0 {
		event.Properties = make(map[string]any, len(b.properties))
		for k, v := range b.properties {
			event.Properties[k] = v
		}
	}
	return event
}
