// Package builder assembles analytics events from an identity and properties.
package builder

import (
	"time"

	"github.com/GabrielNunesIT/outlit-agent/internal/model"
)

// IdentityKind tags which identifier an Identity carries.
type IdentityKind int

const (
	KindEmail IdentityKind = iota
	KindUserID
	KindFingerprint
)

// Identity is the primary identifier an event is attributed to.
type Identity struct {
	kind  IdentityKind
	value string
}

// Email identifies a user by email address.
func Email(v string) Identity { return Identity{kind: KindEmail, value: v} }

// UserID identifies a user by the application's user id.
func UserID(v string) Identity { return Identity{kind: KindUserID, value: v} }

// Fingerprint identifies an anonymous device. Events can be linked to a
// user later by an identify event carrying the same fingerprint.
func Fingerprint(v string) Identity { return Identity{kind: KindFingerprint, value: v} }

// Kind returns the identifier kind.
func (i Identity) Kind() IdentityKind { return i.kind }

// Value returns the raw identifier.
func (i Identity) Value() string { return i.value }

// identifiers is the resolved identifier set of an event: the primary
// identity wins over any secondary identifier of the same kind.
type identifiers struct {
	email       string
	userID      string
	fingerprint string
}

func resolve(primary Identity, extra identifiers) identifiers {
	ids := extra
	switch primary.kind {
	case KindEmail:
		ids.email = primary.value
	case KindUserID:
		ids.userID = primary.value
	case KindFingerprint:
		ids.fingerprint = primary.value
	}
	return ids
}

// url builds the server url, preferring email, then user id, then fingerprint.
func (ids identifiers) url() string {
	switch {
	case ids.email != "":
		return serverURL(ids.email)
	case ids.userID != "":
		return serverURL(ids.userID)
	case ids.fingerprint != "":
		return serverURL(ids.fingerprint)
	}
	return serverURL("unknown")
}

// mirror copies the identifiers into properties so the ingest side can resolve
// the user. Absent identifiers are recorded as nil.
func (ids identifiers) mirror(props map[string]any) {
	props["__email"] = nullable(ids.email)
	props["__userId"] = nullable(ids.userID)
	props["__fingerprint"] = nullable(ids.fingerprint)
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func serverURL(id string) string {
	return "server://" + id
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}

// Builder produces an immutable event.
type Builder interface {
	Build() model.Event
}
