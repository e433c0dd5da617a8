// ABOUTME: JSON envelope for events published to the message broker
// ABOUTME: Meta carries id, correlation, producer, time and a versioned type name

package eventbus

import "time"

// Envelope wraps an event payload with its metadata.
type Envelope struct {
	Meta Meta `json:"meta"`
	Data any  `json:"data"`
}

// Meta identifies and routes an event.
type Meta struct {
	// Correlation ID; the conversation id for lifecycle events
	CorrelationID *string `json:"correlation_id,omitempty"`
	// Unique event ID
	ID string `json:"id"`
	// Emitting service
	Producer *string `json:"producer,omitempty"`
	// Timestamp when the event was emitted
	Time time.Time `json:"time"`
	// Event name and version, e.g. conversation.assigned.v1
	Type string `json:"type"`
}
