package flux

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"voice-turn-ingress/internal/service/stt"
)

// Adapter exposes a Session through the stt.Adapter interface.
// Update and a non-empty StartOfTurn become partials, EagerEndOfTurn an eager
// final, and EndOfTurn a final followed by an end of utterance. A turn dropped
// for low confidence still ends the utterance, without a final; callbacks that
// implement stt.TurnDropper are told first.
type Adapter struct {
	cfg  Config
	opts []Option

	mu       sync.Mutex
	session  *Session
	onChange func(connected bool)
}

var errAlreadyStarted = errors.New("flux: adapter already started")

// NewAdapter creates an adapter. The session is created by Start.
func NewAdapter(cfg Config, opts ...Option) *Adapter {
	return &Adapter{cfg: cfg, opts: opts}
}

// Start opens a Flux session delivering results to cb.
func (a *Adapter) Start(ctx context.Context, cb stt.Callback) error {
	a.mu.Lock()
	if a.session != nil {
		a.mu.Unlock()
		return errAlreadyStarted
	}
	h := callbackHandlers(cb)
	if fn := a.onChange; fn != nil {
		h.OnConnected = func() { fn(true) }
		h.OnDisconnected = func() { fn(false) }
	}
	s := New(a.cfg, h, a.opts...)
	a.session = s
	a.mu.Unlock()

	if err := s.Start(ctx); err != nil {
		a.mu.Lock()
		a.session = nil
		a.mu.Unlock()
		return err
	}
	return nil
}

// SendAudio forwards audio to the session.
func (a *Adapter) SendAudio(ctx context.Context, audio []byte) error {
	s := a.Session()
	if s == nil {
		return ErrNotConnected
	}
	return s.SendAudio(ctx, audio)
}

// Close stops the session.
func (a *Adapter) Close() error {
	s := a.Session()
	if s == nil {
		return nil
	}
	return s.Stop()
}

// NotifyConnection registers fn to be told when the session opens and when it
// goes away. It must be called before Start. fn runs on the callback goroutine.
func (a *Adapter) NotifyConnection(fn func(connected bool)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onChange = fn
}

// Session returns the underlying session, or nil before Start.
func (a *Adapter) Session() *Session {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.session
}

func callbackHandlers(cb stt.Callback) Handlers {
	return Handlers{
		OnStartOfTurn: func(transcript string) {
			if transcript != "" {
				cb.OnPartial(transcript)
			}
		},
		OnUpdate:      cb.OnPartial,
		OnTurnResumed: cb.OnTurnResumed,
		OnEagerEndOfTurn: func(transcript string, info TurnInfo) {
			cb.OnEagerFinal(transcript, turnConfidence(info))
		},
		OnEndOfTurn: func(transcript string, info TurnInfo) {
			cb.OnFinal(transcript, turnConfidence(info))
			cb.OnEndOfUtterance()
		},
		OnTurnDropped: func(info TurnInfo) {
			if td, ok := cb.(stt.TurnDropper); ok {
				td.OnTurnDropped(fmt.Sprintf("turn %d below confidence threshold", info.TurnIndex))
			}
			cb.OnEndOfUtterance()
		},
		OnError: cb.OnError,
	}
}

// turnConfidence prefers the mean word confidence and falls back to the
// server's end-of-turn confidence.
func turnConfidence(info TurnInfo) float64 {
	if mean, ok := info.MeanConfidence(); ok {
		return mean
	}
	return info.EndOfTurnConfidence
}
