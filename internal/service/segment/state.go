// Package segment provides turn segment ID generation and lifecycle management.
package segment

import (
	"errors"
	"fmt"
	"sync"
)

// State represents the lifecycle state of a segment.
type State int

const (
	// StateOpen - Segment is active, can emit partials.
	StateOpen State = iota
	// StateEagerEmitted - Eager final emitted; the turn may still resume.
	StateEagerEmitted
	// StateFinalEmitted - Final transcript emitted, waiting to close.
	StateFinalEmitted
	// StateClosed - Segment is closed normally.
	StateClosed
	// StateDropped - Segment was dropped due to error (no final emitted).
	// This is a terminal state. "Silence > bad data"
	StateDropped
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateOpen:
		return "OPEN"
	case StateEagerEmitted:
		return "EAGER_EMITTED"
	case StateFinalEmitted:
		return "FINAL_EMITTED"
	case StateClosed:
		return "CLOSED"
	case StateDropped:
		return "DROPPED"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", s)
	}
}

// IsTerminal returns true if the state is terminal (CLOSED or DROPPED).
func (s State) IsTerminal() bool {
	return s == StateClosed || s == StateDropped
}

// Errors for invalid state transitions.
var (
	ErrSegmentClosed               = errors.New("segment is closed")
	ErrFinalAlreadyEmitted         = errors.New("final already emitted for this segment")
	ErrCannotEmitPartialAfterFinal = errors.New("cannot emit partial after final")
	ErrEagerPending                = errors.New("eager final pending, waiting for resume or final")
	ErrEagerAlreadyEmitted         = errors.New("eager final already emitted for this turn")
	ErrNothingToResume             = errors.New("no eager final to resume from")
)

// outcome is the result of applying an event in one state: either a next
// state or a rejection.
type outcome struct {
	next State
	err  error
}

func to(s State) outcome { return outcome{next: s} }
func reject(err error) outcome { return outcome{err: err} }

// Per-event transition tables. Terminal states are rejected before lookup.
var (
	onPartial = map[State]outcome{
		StateOpen:         to(StateOpen),
		StateEagerEmitted: reject(ErrEagerPending),
		StateFinalEmitted: reject(ErrCannotEmitPartialAfterFinal),
	}
	onEager = map[State]outcome{
		StateOpen:         to(StateEagerEmitted),
		StateEagerEmitted: reject(ErrEagerAlreadyEmitted),
		StateFinalEmitted: reject(ErrFinalAlreadyEmitted),
	}
	onResume = map[State]outcome{
		StateOpen:         to(StateOpen),
		StateEagerEmitted: to(StateOpen),
		StateFinalEmitted: reject(ErrNothingToResume),
	}
	onFinal = map[State]outcome{
		StateOpen:         to(StateFinalEmitted),
		StateEagerEmitted: to(StateFinalEmitted),
		StateFinalEmitted: reject(ErrFinalAlreadyEmitted),
	}
)

// Lifecycle manages the state machine for a single turn segment.
// Thread-safe for concurrent access.
//
//	OPEN ──EmitEager()──→ EAGER_EMITTED ──EmitFinal()──→ FINAL_EMITTED → CLOSED
//	  ↑                        │
//	  └───────Resume()─────────┘
//
// Partials are only accepted while OPEN. Close and Drop are allowed from any
// state; after either, every emission returns ErrSegmentClosed.
type Lifecycle struct {
	mu        sync.RWMutex
	segmentId string
	state     State
}

// NewLifecycle creates a new segment lifecycle in OPEN state.
func NewLifecycle(segmentId string) *Lifecycle {
	return &Lifecycle{segmentId: segmentId, state: StateOpen}
}

func (l *Lifecycle) snapshot() (string, State) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.segmentId, l.state
}

// SegmentId returns the segment ID.
func (l *Lifecycle) SegmentId() string {
	id, _ := l.snapshot()
	return id
}

// State returns the current state.
func (l *Lifecycle) State() State {
	_, s := l.snapshot()
	return s
}

func (l *Lifecycle) CanEmitPartial() bool { return l.allows(onPartial) }
func (l *Lifecycle) CanEmitFinal() bool { return l.allows(onFinal) }

// IsClosed returns true if the segment is in a terminal state (closed or dropped).
func (l *Lifecycle) IsClosed() bool { return l.State().IsTerminal() }

func (l *Lifecycle) IsDropped() bool { return l.State() == StateDropped }

// EmitPartial records a partial emission. The state does not change.
func (l *Lifecycle) EmitPartial() error { return l.apply(onPartial) }

// EmitEager moves an OPEN segment to EAGER_EMITTED.
func (l *Lifecycle) EmitEager() error { return l.apply(onEager) }

// Resume withdraws an eager final and reopens the segment for partials.
// Resuming an OPEN segment is a no-op.
func (l *Lifecycle) Resume() error { return l.apply(onResume) }

// EmitFinal moves the segment to FINAL_EMITTED. At most once per segment.
func (l *Lifecycle) EmitFinal() error { return l.apply(onFinal) }

func (l *Lifecycle) allows(table map[State]outcome) bool {
	o, ok := table[l.State()]
	return ok && o.err == nil
}

func (l *Lifecycle) apply(table map[State]outcome) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state.IsTerminal() {
		return ErrSegmentClosed
	}
	o, ok := table[l.state]
	if !ok {
		return fmt.Errorf("unexpected state: %v", l.state)
	}
	if o.err != nil {
		return o.err
	}
	l.state = o.next
	return nil
}

// Close moves the segment to CLOSED from any state. Idempotent.
func (l *Lifecycle) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.state = StateClosed
}

// Drop abandons the segment without a final: an STT error mid-turn, a lost
// provider session, or an exceeded segment limit. Emitting nothing beats
// emitting a truncated transcript.
//
// Returns false if the segment was already closed or dropped.
func (l *Lifecycle) Drop() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state.IsTerminal() {
		return false
	}
	l.state = StateDropped
	return true
}

// Reset reopens the lifecycle under the next turn's segment ID.
func (l *Lifecycle) Reset(newSegmentId string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.segmentId = newSegmentId
	l.state = StateOpen
}
