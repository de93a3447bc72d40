// Package schema checks transcript events before they are published.
package schema

import (
	"errors"
	"fmt"

	"voice-turn-ingress/internal/models"
)

// ErrInvalidEvent matches every validation failure.
var ErrInvalidEvent = errors.New("invalid transcript event")

// FieldError names the offending field of an event.
type FieldError struct {
	EventType string
	Field     string
	Reason    string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s: %s %s", e.EventType, e.Field, e.Reason)
}

func (e *FieldError) Is(target error) bool {
	return target == ErrInvalidEvent
}

type Validator struct{}

func New() *Validator {
	return &Validator{}
}

// Validate checks the required fields of a models event.
func (v *Validator) Validate(event any) error {
	switch ev := event.(type) {
	case models.TranscriptPartial:
		return firstError(
			header(models.EventTypePartial, ev.EventType, ev.InteractionID, ev.TenantID, ev.SegmentID, ev.Timestamp),
			nonEmpty(ev.EventType, "text", ev.Text),
		)
	case models.TranscriptEager:
		return firstError(
			header(models.EventTypeEager, ev.EventType, ev.InteractionID, ev.TenantID, ev.SegmentID, ev.Timestamp),
			confidence(ev.EventType, ev.Confidence),
			offset(ev.EventType, ev.AudioOffsetMs),
		)
	case models.TurnResumed:
		return header(models.EventTypeTurnResumed, ev.EventType, ev.InteractionID, ev.TenantID, ev.SegmentID, ev.Timestamp)
	case models.TranscriptFinal:
		return firstError(
			header(models.EventTypeFinal, ev.EventType, ev.InteractionID, ev.TenantID, ev.SegmentID, ev.Timestamp),
			confidence(ev.EventType, ev.Confidence),
			offset(ev.EventType, ev.AudioOffsetMs),
		)
	case nil:
		return fmt.Errorf("%w: nil event", ErrInvalidEvent)
	default:
		return fmt.Errorf("%w: unsupported type %T", ErrInvalidEvent, event)
	}
}

func header(want, eventType, interactionID, tenantID, segmentID string, ts int64) error {
	if eventType != want {
		return &FieldError{EventType: want, Field: "eventType", Reason: fmt.Sprintf("must be %q, got %q", want, eventType)}
	}
	if ts <= 0 {
		return &FieldError{EventType: want, Field: "timestamp", Reason: "must be positive"}
	}
	return firstError(
		nonEmpty(want, "interactionId", interactionID),
		nonEmpty(want, "tenantId", tenantID),
		nonEmpty(want, "segmentId", segmentID),
	)
}

func nonEmpty(eventType, field, value string) error {
	if value == "" {
		return &FieldError{EventType: eventType, Field: field, Reason: "is required"}
	}
	return nil
}

func confidence(eventType string, c float64) error {
	if c < 0 || c > 1 {
		return &FieldError{EventType: eventType, Field: "confidence", Reason: fmt.Sprintf("must be within [0, 1], got %g", c)}
	}
	return nil
}

func offset(eventType string, ms int64) error {
	if ms < 0 {
		return &FieldError{EventType: eventType, Field: "audioOffsetMs", Reason: "cannot be negative"}
	}
	return nil
}

func firstError(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
