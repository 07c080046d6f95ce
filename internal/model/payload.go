package model

// SourceType tags where a batch of events was produced.
type SourceType string

// SourceServer is the only source this agent emits.
const SourceServer SourceType = "server"

// IngestPayload is the body of one delivery attempt.
type IngestPayload struct {
	Source SourceType `json:"source"`
	Events []Event    `json:"events"`
}

// NewPayload wraps a batch with the given source tag.
func NewPayload(source SourceType, events []Event) *IngestPayload {
	if events == nil {
		events = []Event{}
	}
	return &IngestPayload{Source: source, Events: events}
}

// IngestResponse is the result reported by the remote side for an accepted payload.
type IngestResponse struct {
	Success   bool          `json:"success"`
	Processed int           `json:"processed"`
	Errors    []IngestError `json:"errors,omitempty"`
}

// IngestError describes a single event the remote side refused to process.
// Index refers to the position of the event within the payload.
type IngestError struct {
	Index   int    `json:"index"`
	Message string `json:"message"`
}
