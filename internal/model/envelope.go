package model

import (
	"time"
)

// Envelope is a raw input record flowing from an ingestor through its processor chain.
// Event is nil until a decoder (or the ingestor itself) fills it in.
type Envelope struct {
	// Timestamp is when the record was ingested.
	Timestamp time.Time

	// Source identifies which ingestor produced this record.
	Source string

	// Raw contains the record as received.
	Raw []byte

	// Metadata carries ingestor-specific context (file path, remote address, ...).
	Metadata map[string]string

	// Event is the decoded analytics event.
	Event *Event
}

// NewEnvelope creates an Envelope with initialized metadata and current timestamp.
func NewEnvelope(source string, raw []byte) *Envelope {
	return &Envelope{
		Timestamp: time.Now(),
		Source:    source,
		Raw:       raw,
		Metadata:  make(map[string]string),
	}
}
