package flux

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"voice-turn-ingress/internal/service/stt"
)

type callbackRecorder struct {
	mu      sync.Mutex
	calls   []string
	finals  []float64
	errList []error
	ch      chan string
}

func newCallbackRecorder() *callbackRecorder {
	return &callbackRecorder{ch: make(chan string, 64)}
}

func (c *callbackRecorder) add(call string) {
	c.mu.Lock()
	c.calls = append(c.calls, call)
	c.mu.Unlock()
	c.ch <- call
}

func (c *callbackRecorder) OnPartial(text string) { c.add("partial:" + text) }
func (c *callbackRecorder) OnEagerFinal(text string, confidence float64) {
	c.add("eager:" + text)
}
func (c *callbackRecorder) OnTurnResumed() { c.add("resumed") }
func (c *callbackRecorder) OnFinal(text string, confidence float64) {
	c.mu.Lock()
	c.finals = append(c.finals, confidence)
	c.mu.Unlock()
	c.add("final:" + text)
}
func (c *callbackRecorder) OnEndOfUtterance() { c.add("eou") }
func (c *callbackRecorder) OnError(err error) {
	c.mu.Lock()
	c.errList = append(c.errList, err)
	c.mu.Unlock()
	c.add("error")
}

func (c *callbackRecorder) waitFor(t *testing.T, want string) []string {
	t.Helper()
	r := &recorder{ch: c.ch}
	return r.waitFor(t, want)
}

func TestAdapter_MapsTurnEvents(t *testing.T) {
	fs := newFluxServer(t, true)
	a := NewAdapter(testConfig(fs), WithLogger(zerolog.Nop()), WithMetrics(newTestMetrics()))
	cb := newCallbackRecorder()

	if err := a.Start(context.Background(), cb); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer a.Close()
	conn := fs.accept(t)

	send(t, conn, turnFrame(StartOfTurn, ""))
	send(t, conn, turnFrame(StartOfTurn, "I"))
	send(t, conn, turnFrame(Update, "I want"))
	send(t, conn, turnFrame(EagerEndOfTurn, "I want to"))
	send(t, conn, turnFrame(TurnResumed, "I want to"))
	send(t, conn, turnFrame(EndOfTurn, "I want to cancel", 0.8, 0.6))

	before := cb.waitFor(t, "eou")
	want := []string{"partial:I", "partial:I want", "eager:I want to", "resumed", "final:I want to cancel"}
	if len(before) != len(want) {
		t.Fatalf("expected %v, got %v", want, before)
	}
	for i := range want {
		if before[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, before)
		}
	}

	cb.mu.Lock()
	conf := cb.finals[0]
	cb.mu.Unlock()
	if conf < 0.699 || conf > 0.701 {
		t.Errorf("expected mean word confidence 0.7, got %f", conf)
	}
}

type droppingRecorder struct {
	*callbackRecorder
}

func (d droppingRecorder) OnTurnDropped(string) { d.add("dropped") }

func TestAdapter_LowConfidenceTurnEndsUtterance(t *testing.T) {
	tests := []struct {
		name      string
		cb        func() (stt.Callback, *callbackRecorder)
		firstTurn []string
	}{
		{
			name: "turn dropper",
			cb: func() (stt.Callback, *callbackRecorder) {
				r := newCallbackRecorder()
				return droppingRecorder{r}, r
			},
			firstTurn: []string{"partial:first", "dropped"},
		},
		{
			name: "plain callback",
			cb: func() (stt.Callback, *callbackRecorder) {
				r := newCallbackRecorder()
				return r, r
			},
			firstTurn: []string{"partial:first"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := newFluxServer(t, true)
			cfg := testConfig(fs)
			cfg.Params.MinConfidence = 0.8
			a := NewAdapter(cfg, WithLogger(zerolog.Nop()), WithMetrics(newTestMetrics()))
			cb, rec := tt.cb()

			if err := a.Start(context.Background(), cb); err != nil {
				t.Fatalf("Start failed: %v", err)
			}
			defer a.Close()
			conn := fs.accept(t)

			send(t, conn, turnFrame(StartOfTurn, "first"))
			send(t, conn, turnFrame(EndOfTurn, "first", 0.2))
			send(t, conn, turnFrame(StartOfTurn, "second"))
			send(t, conn, turnFrame(EndOfTurn, "second", 0.95))

			if got := rec.waitFor(t, "eou"); fmt.Sprint(got) != fmt.Sprint(tt.firstTurn) {
				t.Errorf("first turn: expected %v, got %v", tt.firstTurn, got)
			}
			want := []string{"partial:second", "final:second"}
			if got := rec.waitFor(t, "eou"); fmt.Sprint(got) != fmt.Sprint(want) {
				t.Errorf("second turn: expected %v, got %v", want, got)
			}
		})
	}
}

func TestAdapter_SendAudioBeforeStart(t *testing.T) {
	a := NewAdapter(DefaultConfig())
	if err := a.SendAudio(context.Background(), []byte{0}); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("unexpected close error: %v", err)
	}
}

func TestAdapter_StartFailureAllowsRetry(t *testing.T) {
	cfg := DefaultConfig()
	a := NewAdapter(cfg, WithLogger(zerolog.Nop()), WithMetrics(newTestMetrics()))

	err := a.Start(context.Background(), newCallbackRecorder())
	if !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected config error, got %v", err)
	}
	if a.Session() != nil {
		t.Error("expected no session after a failed start")
	}
}

func TestAdapter_DoubleStart(t *testing.T) {
	fs := newFluxServer(t, true)
	a := NewAdapter(testConfig(fs), WithLogger(zerolog.Nop()), WithMetrics(newTestMetrics()))

	if err := a.Start(context.Background(), newCallbackRecorder()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer a.Close()

	if err := a.Start(context.Background(), newCallbackRecorder()); err == nil {
		t.Fatal("expected second Start to fail")
	}
}

func TestAdapter_NotifyConnection(t *testing.T) {
	fs := newFluxServer(t, true)
	a := NewAdapter(testConfig(fs), WithLogger(zerolog.Nop()), WithMetrics(newTestMetrics()))

	changes := make(chan bool, 4)
	a.NotifyConnection(func(connected bool) { changes <- connected })

	if err := a.Start(context.Background(), newCallbackRecorder()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	for _, want := range []bool{true, false} {
		select {
		case got := <-changes:
			if got != want {
				t.Fatalf("expected connected=%v, got %v", want, got)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for connected=%v", want)
		}
	}
}

func TestTurnConfidence_FallsBackToEndOfTurn(t *testing.T) {
	info := TurnInfo{EndOfTurnConfidence: 0.83}
	if got := turnConfidence(info); got != 0.83 {
		t.Errorf("expected 0.83, got %f", got)
	}
}
