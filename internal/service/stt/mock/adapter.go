// Package mock provides a mock STT adapter for testing without provider credentials.
// It simulates turn-based recognition: progressive partials, an optional eager
// end of turn, then exactly one final and an end-of-utterance per turn.
package mock

import (
	"context"
	"sync"
	"time"

	"voice-turn-ingress/internal/service/stt"
)

// SimulatedTurn is one scripted turn.
type SimulatedTurn struct {
	Partials   []string // Progressive partial transcripts
	Eager      bool     // Emit an eager final before the final
	Final      string   // Final transcript text
	Confidence float64  // Confidence score for eager and final
}

// DefaultTurns provides sample turns for simulation.
var DefaultTurns = []SimulatedTurn{
	{
		Partials:   []string{"I want", "I want to", "I want to cancel"},
		Eager:      true,
		Final:      "I want to cancel my subscription",
		Confidence: 0.94,
	},
	{
		Partials:   []string{"Yes", "Yes please"},
		Final:      "Yes please go ahead",
		Confidence: 0.97,
	},
	{
		Partials:   []string{"Can you", "Can you help", "Can you help me with"},
		Eager:      true,
		Final:      "Can you help me with my account",
		Confidence: 0.91,
	},
	{
		Partials:   []string{"I've been", "I've been waiting", "I've been waiting for"},
		Final:      "I've been waiting for over an hour",
		Confidence: 0.89,
	},
	{
		Partials:   []string{"Thank you"},
		Final:      "Thank you very much",
		Confidence: 0.98,
	},
}

// Delay is the simulated recognition latency per result.
var Delay = 20 * time.Millisecond

// Adapter implements stt.Adapter with scripted responses. Each audio frame
// advances the current turn by one step. Results are delivered in order on a
// single goroutine.
type Adapter struct {
	mu        sync.Mutex
	cb        stt.Callback
	results   chan func(stt.Callback)
	done      chan struct{}
	turnIndex int // index into DefaultTurns of the current turn
	step      int // next step within the current turn
	turns     int // completed turns
	closed    bool
}

var (
	turnCounter int
	counterMu   sync.Mutex
)

// New creates a new mock STT adapter. Successive adapters start on successive default turns.
func New() *Adapter {
	counterMu.Lock()
	idx := turnCounter % len(DefaultTurns)
	turnCounter++
	counterMu.Unlock()

	return &Adapter{turnIndex: idx}
}

// Start begins a mock transcription session.
func (a *Adapter) Start(ctx context.Context, cb stt.Callback) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cb != nil || a.closed {
		return nil
	}
	a.cb = cb
	a.results = make(chan func(stt.Callback), 64)
	a.done = make(chan struct{})
	go a.deliver(cb, a.results, a.done)
	return nil
}

func (a *Adapter) deliver(cb stt.Callback, results <-chan func(stt.Callback), done chan struct{}) {
	defer close(done)
	for r := range results {
		time.Sleep(Delay)
		r(cb)
	}
}

// Turn returns the turn currently being simulated.
func (a *Adapter) Turn() SimulatedTurn {
	a.mu.Lock()
	defer a.mu.Unlock()
	return DefaultTurns[a.turnIndex]
}

// CompletedTurns returns how many turns have produced a final.
func (a *Adapter) CompletedTurns() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.turns
}

// SendAudio advances the simulated turn by one step.
func (a *Adapter) SendAudio(ctx context.Context, audio []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed || a.cb == nil {
		return nil
	}

	turn := DefaultTurns[a.turnIndex]
	switch {
	case a.step < len(turn.Partials):
		text := turn.Partials[a.step]
		a.emit(func(cb stt.Callback) { cb.OnPartial(text) })
		a.step++

	case a.step == len(turn.Partials) && turn.Eager:
		a.emit(func(cb stt.Callback) { cb.OnEagerFinal(turn.Final, turn.Confidence) })
		a.step++

	default:
		a.finishTurn(turn)
	}
	return nil
}

// finishTurn emits the final for turn and moves to the next one. Callers hold a.mu.
func (a *Adapter) finishTurn(turn SimulatedTurn) {
	a.emit(func(cb stt.Callback) {
		cb.OnFinal(turn.Final, turn.Confidence)
		cb.OnEndOfUtterance()
	})
	a.turns++
	a.turnIndex = (a.turnIndex + 1) % len(DefaultTurns)
	a.step = 0
}

func (a *Adapter) emit(r func(stt.Callback)) {
	select {
	case a.results <- r:
	default:
		// Slow consumer; a real provider would apply backpressure.
	}
}

// Close ends the mock session. A turn that has started but not finished
// gets its final before the session ends. Close waits for pending results.
func (a *Adapter) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	if a.cb == nil {
		a.mu.Unlock()
		return nil
	}
	if a.step > 0 {
		a.finishTurn(DefaultTurns[a.turnIndex])
	}
	close(a.results)
	done := a.done
	a.mu.Unlock()

	<-done
	return nil
}
