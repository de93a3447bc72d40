package mock

import (
	"context"
	"sync"
	"testing"
	"time"
)

// testCallback implements stt.Callback for testing
type testCallback struct {
	mu         sync.Mutex
	events     []string
	partials   []string
	eagers     []string
	finals     []finalResult
	errors     []error
	utterances int
}

type finalResult struct {
	text       string
	confidence float64
}

func (c *testCallback) OnPartial(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, "partial")
	c.partials = append(c.partials, text)
}

func (c *testCallback) OnEagerFinal(text string, confidence float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, "eager")
	c.eagers = append(c.eagers, text)
}

func (c *testCallback) OnTurnResumed() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, "resumed")
}

func (c *testCallback) OnFinal(text string, confidence float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, "final")
	c.finals = append(c.finals, finalResult{text, confidence})
}

func (c *testCallback) OnEndOfUtterance() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, "eou")
	c.utterances++
}

func (c *testCallback) OnError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errors = append(c.errors, err)
}

func (c *testCallback) getEvents() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string{}, c.events...)
}

func (c *testCallback) getFinals() []finalResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]finalResult{}, c.finals...)
}

func (c *testCallback) getUtterances() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.utterances
}

// stepsFor is the number of frames needed to finish turn.
func stepsFor(turn SimulatedTurn) int {
	n := len(turn.Partials) + 1
	if turn.Eager {
		n++
	}
	return n
}

func TestAdapter_New(t *testing.T) {
	adapter := New()
	if adapter == nil {
		t.Fatal("expected non-nil adapter")
	}
	if adapter.closed {
		t.Error("expected adapter to not be closed initially")
	}
	if adapter.CompletedTurns() != 0 {
		t.Error("expected no completed turns initially")
	}
}

func TestAdapter_Start(t *testing.T) {
	adapter := New()
	cb := &testCallback{}

	if err := adapter.Start(context.Background(), cb); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if adapter.cb != cb {
		t.Error("expected callback to be set")
	}
	adapter.Close()
}

func TestAdapter_FullTurnInOrder(t *testing.T) {
	adapter := New()
	cb := &testCallback{}
	adapter.Start(context.Background(), cb)

	turn := adapter.Turn()
	for i := 0; i < stepsFor(turn); i++ {
		if err := adapter.SendAudio(context.Background(), []byte("audio")); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	adapter.Close()

	var want []string
	for range turn.Partials {
		want = append(want, "partial")
	}
	if turn.Eager {
		want = append(want, "eager")
	}
	want = append(want, "final", "eou")

	got := cb.getEvents()
	if len(got) != len(want) {
		t.Fatalf("expected events %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected events %v, got %v", want, got)
		}
	}

	finals := cb.getFinals()
	if finals[0].text != turn.Final || finals[0].confidence != turn.Confidence {
		t.Errorf("unexpected final %+v", finals[0])
	}
	if cb.getUtterances() != 1 {
		t.Errorf("expected 1 utterance, got %d", cb.getUtterances())
	}
}

func TestAdapter_AdvancesToNextTurn(t *testing.T) {
	adapter := New()
	cb := &testCallback{}
	adapter.Start(context.Background(), cb)

	first := adapter.Turn()
	for i := 0; i < stepsFor(first); i++ {
		adapter.SendAudio(context.Background(), []byte("audio"))
	}
	if adapter.CompletedTurns() != 1 {
		t.Fatalf("expected 1 completed turn, got %d", adapter.CompletedTurns())
	}
	if adapter.Turn().Final == first.Final {
		t.Error("expected the next turn to differ from the first")
	}
	adapter.Close()
}

func TestAdapter_Close_Idempotent(t *testing.T) {
	adapter := New()
	adapter.Start(context.Background(), &testCallback{})

	adapter.Close()
	if err := adapter.Close(); err != nil {
		t.Fatalf("unexpected error on second close: %v", err)
	}
}

func TestAdapter_SendAudio_AfterClose(t *testing.T) {
	adapter := New()
	adapter.Start(context.Background(), &testCallback{})
	adapter.Close()

	if err := adapter.SendAudio(context.Background(), []byte("audio")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestAdapter_Close_FinishesTurnInProgress(t *testing.T) {
	adapter := New()
	cb := &testCallback{}
	adapter.Start(context.Background(), cb)

	adapter.SendAudio(context.Background(), []byte("audio"))
	adapter.Close()

	if len(cb.getFinals()) != 1 {
		t.Errorf("expected 1 final on close, got %d", len(cb.getFinals()))
	}
}

func TestAdapter_Close_NoFinalWithoutAudio(t *testing.T) {
	adapter := New()
	cb := &testCallback{}
	adapter.Start(context.Background(), cb)
	adapter.Close()

	if len(cb.getFinals()) != 0 {
		t.Errorf("expected no final, got %d", len(cb.getFinals()))
	}
}

func TestDefaultTurns(t *testing.T) {
	if len(DefaultTurns) != 5 {
		t.Errorf("expected 5 default turns, got %d", len(DefaultTurns))
	}

	for i, turn := range DefaultTurns {
		if len(turn.Partials) == 0 {
			t.Errorf("turn %d has no partials", i)
		}
		if turn.Final == "" {
			t.Errorf("turn %d has empty final", i)
		}
		if turn.Confidence <= 0 || turn.Confidence > 1 {
			t.Errorf("turn %d has invalid confidence %f", i, turn.Confidence)
		}
	}
}

func TestAdapter_ThreadSafety(t *testing.T) {
	old := Delay
	Delay = time.Millisecond
	defer func() { Delay = old }()

	adapter := New()
	adapter.Start(context.Background(), &testCallback{})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 5; j++ {
				adapter.SendAudio(context.Background(), []byte("audio"))
			}
		}()
	}

	wg.Wait()
	adapter.Close()
}

func TestAdapter_NoCallbackSet(t *testing.T) {
	adapter := New()

	if err := adapter.SendAudio(context.Background(), []byte("audio")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := adapter.Close(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
