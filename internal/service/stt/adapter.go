// Package stt defines the interface for Speech-to-Text adapters.
package stt

import "context"

// Callback receives transcript results from the STT provider.
type Callback interface {
	// OnPartial is called when an interim/partial transcript is received.
	OnPartial(text string)

	// OnEagerFinal is called when the provider speculatively ends a turn.
	// It may be followed by OnTurnResumed, which withdraws it.
	OnEagerFinal(text string, confidence float64)

	// OnTurnResumed is called when the speaker continues after an eager final.
	OnTurnResumed()

	// OnFinal is called when a final transcript is received.
	OnFinal(text string, confidence float64)

	// OnEndOfUtterance is called when the provider detects the end of a turn.
	OnEndOfUtterance()

	// OnError is called when an error occurs during transcription.
	OnError(err error)
}

// TurnDropper is implemented by callbacks that want to know when the provider
// discarded a turn. OnEndOfUtterance still follows.
type TurnDropper interface {
	OnTurnDropped(reason string)
}

// Adapter defines the interface for STT providers (Flux, Google, mock).
type Adapter interface {
	// Start begins a streaming transcription session.
	Start(ctx context.Context, cb Callback) error

	// SendAudio sends audio bytes to the STT provider.
	SendAudio(ctx context.Context, audio []byte) error

	// Close ends the session and releases resources.
	Close() error
}

// NopCallback ignores every result. Embed it to implement only some methods.
type NopCallback struct{}

func (NopCallback) OnPartial(string) {}
func (NopCallback) OnEagerFinal(string, float64) {}
func (NopCallback) OnTurnResumed() {}
func (NopCallback) OnFinal(string, float64) {}
func (NopCallback) OnEndOfUtterance() {}
func (NopCallback) OnError(error) {}
