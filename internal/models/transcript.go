// Package models defines the data structures for transcript events.
package models

// Event types carried in the eventType field and the Kafka eventType header.
const (
	EventTypePartial     = "interaction.transcript.partial"
	EventTypeEager       = "interaction.transcript.eager"
	EventTypeFinal       = "interaction.transcript.final"
	EventTypeTurnResumed = "interaction.turn.resumed"
)

// TranscriptPartial represents an interim/partial transcript result.
type TranscriptPartial struct {
	EventType     string `json:"eventType"`
	InteractionID string `json:"interactionId"`
	TenantID      string `json:"tenantId"`
	Timestamp     int64  `json:"timestamp"`
	SegmentID     string `json:"segmentId"`
	Text          string `json:"text"`
}

// TranscriptEager is a speculative end of turn. Consumers may start work on it
// but must discard it if a TurnResumed for the same segment follows.
type TranscriptEager struct {
	EventType     string  `json:"eventType"`
	InteractionID string  `json:"interactionId"`
	TenantID      string  `json:"tenantId"`
	Timestamp     int64   `json:"timestamp"`
	SegmentID     string  `json:"segmentId"`
	Text          string  `json:"text"`
	Confidence    float64 `json:"confidence"`
	AudioOffsetMs int64   `json:"audioOffsetMs"`
}

// TurnResumed withdraws the eager transcript of a segment.
type TurnResumed struct {
	EventType     string `json:"eventType"`
	InteractionID string `json:"interactionId"`
	TenantID      string `json:"tenantId"`
	Timestamp     int64  `json:"timestamp"`
	SegmentID     string `json:"segmentId"`
}

// TranscriptFinal represents a final transcript result with confidence score.
type TranscriptFinal struct {
	EventType     string  `json:"eventType"`
	InteractionID string  `json:"interactionId"`
	TenantID      string  `json:"tenantId"`
	Timestamp     int64   `json:"timestamp"`
	SegmentID     string  `json:"segmentId"`
	Text          string  `json:"text"`
	Confidence    float64 `json:"confidence"`
	AudioOffsetMs int64   `json:"audioOffsetMs"`
}
