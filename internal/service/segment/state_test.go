package segment

import (
	"errors"
	"testing"
)

func TestLifecycle_InitialState(t *testing.T) {
	lc := NewLifecycle("int-1-turn-1")

	if lc.State() != StateOpen {
		t.Errorf("expected StateOpen, got %v", lc.State())
	}
	if lc.SegmentId() != "int-1-turn-1" {
		t.Errorf("expected int-1-turn-1, got %v", lc.SegmentId())
	}
	if !lc.CanEmitPartial() || !lc.CanEmitFinal() {
		t.Error("expected a fresh segment to accept partials and a final")
	}
	if lc.IsClosed() || lc.IsDropped() {
		t.Error("expected a fresh segment to be live")
	}
}

// step is one operation applied to a lifecycle.
type step struct {
	name    string
	apply   func(*Lifecycle) error
	wantErr error
	state   State
}

var (
	partial = func(l *Lifecycle) error { return l.EmitPartial() }
	eager   = func(l *Lifecycle) error { return l.EmitEager() }
	resume  = func(l *Lifecycle) error { return l.Resume() }
	final   = func(l *Lifecycle) error { return l.EmitFinal() }
	closeOp = func(l *Lifecycle) error { l.Close(); return nil }
	dropOp  = func(l *Lifecycle) error { l.Drop(); return nil }
)

func TestLifecycle_Transitions(t *testing.T) {
	tests := []struct {
		name  string
		steps []step
	}{
		{
			name: "partials then final",
			steps: []step{
				{"partial", partial, nil, StateOpen},
				{"partial", partial, nil, StateOpen},
				{"final", final, nil, StateFinalEmitted},
				{"close", closeOp, nil, StateClosed},
			},
		},
		{
			name: "eager then final",
			steps: []step{
				{"partial", partial, nil, StateOpen},
				{"eager", eager, nil, StateEagerEmitted},
				{"final", final, nil, StateFinalEmitted},
			},
		},
		{
			name: "eager then resume",
			steps: []step{
				{"eager", eager, nil, StateEagerEmitted},
				{"partial while eager", partial, ErrEagerPending, StateEagerEmitted},
				{"second eager", eager, ErrEagerAlreadyEmitted, StateEagerEmitted},
				{"resume", resume, nil, StateOpen},
				{"partial", partial, nil, StateOpen},
				{"eager again", eager, nil, StateEagerEmitted},
				{"final", final, nil, StateFinalEmitted},
			},
		},
		{
			name: "resume without eager is a no-op",
			steps: []step{
				{"resume", resume, nil, StateOpen},
			},
		},
		{
			name: "final only once",
			steps: []step{
				{"final", final, nil, StateFinalEmitted},
				{"second final", final, ErrFinalAlreadyEmitted, StateFinalEmitted},
				{"partial after final", partial, ErrCannotEmitPartialAfterFinal, StateFinalEmitted},
				{"eager after final", eager, ErrFinalAlreadyEmitted, StateFinalEmitted},
				{"resume after final", resume, ErrNothingToResume, StateFinalEmitted},
			},
		},
		{
			name: "closed rejects everything",
			steps: []step{
				{"close", closeOp, nil, StateClosed},
				{"close again", closeOp, nil, StateClosed},
				{"partial", partial, ErrSegmentClosed, StateClosed},
				{"eager", eager, ErrSegmentClosed, StateClosed},
				{"resume", resume, ErrSegmentClosed, StateClosed},
				{"final", final, ErrSegmentClosed, StateClosed},
			},
		},
		{
			name: "dropped mid-turn rejects everything",
			steps: []step{
				{"partial", partial, nil, StateOpen},
				{"eager", eager, nil, StateEagerEmitted},
				{"drop", dropOp, nil, StateDropped},
				{"final", final, ErrSegmentClosed, StateDropped},
				{"resume", resume, ErrSegmentClosed, StateDropped},
				{"partial", partial, ErrSegmentClosed, StateDropped},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lc := NewLifecycle("int-1-turn-1")
			for i, s := range tt.steps {
				err := s.apply(lc)
				if !errors.Is(err, s.wantErr) {
					t.Fatalf("step %d (%s): expected error %v, got %v", i, s.name, s.wantErr, err)
				}
				if lc.State() != s.state {
					t.Fatalf("step %d (%s): expected %v, got %v", i, s.name, s.state, lc.State())
				}
			}
		})
	}
}

func TestLifecycle_Drop(t *testing.T) {
	lc := NewLifecycle("int-1-turn-1")

	if !lc.Drop() {
		t.Error("expected first Drop() to return true")
	}
	if lc.Drop() {
		t.Error("expected second Drop() to return false")
	}
	if !lc.IsDropped() || !lc.IsClosed() {
		t.Error("expected dropped segment to be terminal")
	}
}

func TestLifecycle_Drop_FailsAfterClose(t *testing.T) {
	lc := NewLifecycle("int-1-turn-1")
	lc.Close()

	if lc.Drop() {
		t.Error("expected Drop() to return false from CLOSED state")
	}
	if lc.State() != StateClosed {
		t.Errorf("expected StateClosed, got %v", lc.State())
	}
}

func TestLifecycle_Reset(t *testing.T) {
	lc := NewLifecycle("int-1-turn-1")
	lc.EmitEager()
	lc.EmitFinal()
	lc.Close()

	lc.Reset("int-1-turn-2")

	if lc.SegmentId() != "int-1-turn-2" {
		t.Errorf("expected int-1-turn-2, got %v", lc.SegmentId())
	}
	if lc.State() != StateOpen {
		t.Errorf("expected StateOpen after reset, got %v", lc.State())
	}
}

func TestState_String(t *testing.T) {
	tests := []struct {
		state    State
		expected string
	}{
		{StateOpen, "OPEN"},
		{StateEagerEmitted, "EAGER_EMITTED"},
		{StateFinalEmitted, "FINAL_EMITTED"},
		{StateClosed, "CLOSED"},
		{StateDropped, "DROPPED"},
		{State(99), "UNKNOWN(99)"},
	}

	for _, tt := range tests {
		if got := tt.state.String(); got != tt.expected {
			t.Errorf("State(%d).String() = %v, want %v", tt.state, got, tt.expected)
		}
	}
}

func TestState_IsTerminal(t *testing.T) {
	tests := []struct {
		state      State
		isTerminal bool
	}{
		{StateOpen, false},
		{StateEagerEmitted, false},
		{StateFinalEmitted, false},
		{StateClosed, true},
		{StateDropped, true},
	}

	for _, tt := range tests {
		if got := tt.state.IsTerminal(); got != tt.isTerminal {
			t.Errorf("State(%s).IsTerminal() = %v, want %v", tt.state, got, tt.isTerminal)
		}
	}
}
